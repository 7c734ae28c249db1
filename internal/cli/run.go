package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/meterbot/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the meter monitor",
	Long: `Start the meter monitor with the configured schedule. In one-shot mode
(schedule.mode: one-shot or TEST_RUN=true) a single check runs and the process exits.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.OneShot() {
		return runOnceWith(cmd.Context(), cfg)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(contextOrBackground(cmd.Context()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting meter monitor for %d meters: %v", a.registry.Len(), a.registry.Names())

	stopHealth := a.serveHealth(ctx)
	defer stopHealth()

	if a.tg != nil && cfg.Telegram.Commands {
		go a.tg.ListenForCommands(ctx, a.engine)
	}

	if err := a.engine.Run(ctx); err != nil {
		logger.Error("Scheduler failed: %v", err)
		a.reportFatal(err)
		return err
	}
	logger.Info("Service stopped")
	return nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
