package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/meterbot/internal/config"
	"github.com/rewired-gh/meterbot/internal/logger"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single check of all meters and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runOnceWith(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(onceCmd)
}

func runOnceWith(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(contextOrBackground(ctx), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stopHealth := a.serveHealth(ctx)
	defer stopHealth()

	logger.Info("Running a single monitoring cycle for %d meters", a.registry.Len())
	report, err := a.engine.RunOnce(ctx)
	if err != nil {
		logger.Error("Monitoring cycle failed: %v", err)
		a.reportFatal(err)
		return err
	}
	logger.Info("Single cycle completed: %d succeeded, %d failed", report.Succeeded, report.Failed)
	return nil
}
