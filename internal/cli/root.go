// Package cli provides the command-line interface for the sandbox engine.
package cli

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/marketcalls/openalgo-sub012/internal/catalog"
	"github.com/marketcalls/openalgo-sub012/internal/config"
	"github.com/marketcalls/openalgo-sub012/internal/gateway"
	"github.com/marketcalls/openalgo-sub012/internal/ledger"
	"github.com/marketcalls/openalgo-sub012/internal/metrics"
	"github.com/marketcalls/openalgo-sub012/internal/position"
	"github.com/marketcalls/openalgo-sub012/internal/quotes"
	"github.com/marketcalls/openalgo-sub012/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-01-01"
)

// App holds the application dependencies.
type App struct {
	Config   *config.Store
	Logger   zerolog.Logger
	Store    store.DataStore
	Quotes   quotes.Provider
	Catalog  *catalog.Catalog
	Ledger   *ledger.Ledger
	Tracker  *position.Tracker
	Gateway  *gateway.Gateway
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfgStore *config.Store, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config:  cfgStore,
		Logger:  logger,
		Catalog: catalog.New(),
	}
	app.Metrics, app.Registry = metrics.New()

	cfg := cfgStore.Current()
	app.Quotes = quotes.NewKiteProvider(quotes.KiteConfig{
		APIKey:      cfg.Kite.APIKey,
		AccessToken: cfg.Kite.AccessToken,
	})

	dataStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, some features may be unavailable")
	} else {
		app.Store = dataStore
		logger.Debug().Str("path", cfg.Database.Path).Msg("SQLite store initialized")
	}

	if app.Store != nil {
		app.Ledger = ledger.New(app.Store, cfgStore, logger)
		app.Tracker = position.NewTracker(app.Store, app.Ledger, app.Catalog, app.Quotes, logger)
		app.Gateway = gateway.New(app.Store, app.Ledger, app.Catalog, app.Quotes, app.Metrics, logger)
	}

	rootCmd := &cobra.Command{
		Use:   "sandbox",
		Short: "OpenAlgo Sandbox - virtual trading engine for the Indian stock market",
		Long: `OpenAlgo Sandbox is a paper trading engine for the Indian stock market.

Orders execute against live exchange quotes with simulated funds: margin
is blocked and released against a virtual capital account, intraday
positions are squared off at exchange cutoffs, and deliveries settle into
holdings at T+1. No real orders are ever placed.

Use 'sandbox help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/openalgo-sandbox)")
	rootCmd.PersistentFlags().String("user", "default", "sandbox user ID")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd(app))
	addOrderCommands(rootCmd, app)
	addPortfolioCommands(rootCmd, app)
	addFundsCommands(rootCmd, app)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("OpenAlgo Sandbox v%s\n", Version)
				output.Printf("Build date: %s\n", BuildDate)
			}
		},
	}
}
