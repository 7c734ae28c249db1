package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/meterbot/internal/models"
	"github.com/rewired-gh/meterbot/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent monitoring cycles",
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 10, "Number of cycles to show")
	historyCmd.Flags().Bool("detailed", false, "Show per-meter results")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	detailed, _ := cmd.Flags().GetBool("detailed")

	store, err := storage.New(cfg.Storage.DBPath, cfg.Storage.MaxCycles)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	cycles, err := store.RecentCycles(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(cycles) == 0 {
		fmt.Fprintln(out, "No monitoring cycles recorded yet.")
		return nil
	}

	printCycles(out, cycles)

	if detailed {
		for _, c := range cycles {
			results, err := store.CycleResults(cmd.Context(), c.ID)
			if err != nil {
				return fmt.Errorf("failed to read results for cycle %s: %w", c.ID, err)
			}
			fmt.Fprintf(out, "\n%s (%s):\n", c.StartedAt.Local().Format("2006-01-02 15:04"), c.ID)
			printResults(out, results)
		}
	}
	return nil
}

func printCycles(out io.Writer, cycles []models.CycleSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "STARTED\tOUTCOME\tOK\tFAILED\tRECHARGES\tANOMALIES\tNOTIFIED\n")
	for _, c := range cycles {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\t%d\t%v\n",
			c.StartedAt.Local().Format("2006-01-02 15:04"), c.Outcome(),
			c.Succeeded, c.Meters, c.Failed, c.Recharges, c.Anomalies, c.Notified)
	}
	w.Flush()
}

func printResults(out io.Writer, results []models.ClassificationResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  METER\tKIND\tBALANCE\tDELTA\tSUMMARY\n")
	for _, r := range results {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", r.MeterID, r.Kind, r.Current, r.Delta.Signed(), r.Summary)
	}
	w.Flush()
}
