// Package cli implements the meterbot command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/meterbot/internal/config"
	"github.com/rewired-gh/meterbot/internal/logger"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "meterbot",
	Short: "Prepaid electricity meter monitor",
	Long: `meterbot checks DESCO prepaid meter balances on a schedule, detects
consumption and recharges, and reports every check to Telegram.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")
}

// loadConfig loads and validates the configuration and sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	if cfgFile != "" {
		logger.Info("Configuration loaded from %s", cfgFile)
	}
	return cfg, nil
}
