package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iliyamo/temple-portals/internal/config"
)

const programName = "temple-portals"

var globalFlags = struct {
	debug bool
}{}

// loadConfig reads the configuration and builds the process logger.
func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if globalFlags.debug {
		cfg.LogLevel = "debug"
	}
	logger := config.NewLogger(cfg.LogLevel)
	return cfg, logger, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Cross-portal sync and notification server for the temple portals",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(seedPricesCommand())
	rootCmd.AddCommand(issueTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
