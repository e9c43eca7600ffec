package main

import (
	"fmt"
	"os"

	"github.com/marketcalls/openalgo-sub012/internal/cli"
	"github.com/marketcalls/openalgo-sub012/internal/config"
	"github.com/marketcalls/openalgo-sub012/internal/logging"
)

func main() {
	configDir := config.DefaultConfigDir()
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			configDir = os.Args[i+1]
		}
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLoggerWithConfig(logging.DefaultLogConfig())
	cfgStore := config.NewStore(configDir, cfg, 0)

	rootCmd := cli.NewRootCmd(cfgStore, logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
