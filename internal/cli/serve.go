package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marketcalls/openalgo-sub012/internal/engine"
	"github.com/marketcalls/openalgo-sub012/internal/metrics"
	"github.com/marketcalls/openalgo-sub012/internal/models"
	"github.com/marketcalls/openalgo-sub012/internal/scheduler"
)

// newServeCmd runs the matching engine and lifecycle schedulers until
// interrupted.
func newServeCmd(app *App) *cobra.Command {
	var metricsAddr string
	var loadExchanges []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sandbox engine",
		Long: `Run the matching engine and lifecycle schedulers.

The engine polls live quotes and fills open orders against them. The
schedulers square off intraday positions at exchange cutoffs, settle
deliveries at T+1, roll session counters, expire derivative contracts,
snapshot accounts at end of day, and apply the weekly capital reset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return errStoreUnavailable
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := loadCatalog(ctx, app, loadExchanges); err != nil {
				app.Logger.Warn().Err(err).Msg("Instrument catalog load failed; symbol validation will be partial")
			}

			eng := engine.New(app.Store, app.Quotes, app.Tracker, app.Config, app.Metrics, app.Logger)
			sched := scheduler.New(app.Store, app.Ledger, app.Tracker, app.Gateway, app.Config, app.Metrics, app.Logger)

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler(app.Registry))
				srv := &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						app.Logger.Error().Err(err).Msg("Metrics server failed")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				app.Logger.Info().Str("addr", metricsAddr).Msg("Metrics server started")
			}

			errCh := make(chan error, 2)
			go func() { errCh <- eng.Run(ctx) }()
			go func() { errCh <- sched.Run(ctx) }()

			<-ctx.Done()
			app.Logger.Info().Msg("Shutting down")
			<-errCh
			<-errCh
			return nil
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:9205", "Prometheus metrics listen address (empty disables)")
	cmd.Flags().StringSliceVar(&loadExchanges, "exchanges", []string{"NSE", "NFO"}, "exchanges to load instruments for")
	return cmd
}

// loadCatalog pulls instrument dumps from the quote provider.
func loadCatalog(ctx context.Context, app *App, exchanges []string) error {
	loader, ok := app.Quotes.(interface {
		LoadInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error)
	})
	if !ok {
		return nil
	}
	for _, e := range exchanges {
		instruments, err := loader.LoadInstruments(ctx, models.Exchange(e))
		if err != nil {
			return err
		}
		app.Catalog.Load(instruments)
		app.Logger.Info().Str("exchange", e).Int("instruments", len(instruments)).Msg("Catalog loaded")
	}
	return nil
}
