package commands

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/idlynx/internal/reporting"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

func NewStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recorded run statistics",
		Long:  `Show statistics about recorded runs and the metrics snapshot of the most recent one.`,
		RunE:  runStats,
	}
	cmd.Flags().String("target", "", "Only show runs for this target")
	cmd.Flags().IntP("limit", "n", 10, "Number of runs to list")
	_ = viper.BindPFlag("stats.target", cmd.Flags().Lookup("target"))
	_ = viper.BindPFlag("stats.limit", cmd.Flags().Lookup("limit"))
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	repo, err := storage.NewRunRepository(dataDir(), logrus.StandardLogger())
	if err != nil {
		return fmt.Errorf("failed to open run repository: %w", err)
	}

	runs := repo.List()
	if t := viper.GetString("stats.target"); t != "" {
		runs = repo.FindByTarget(t)
	}

	stats := repo.GetStats()
	fmt.Println("Run Statistics:")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Printf("Recorded Runs: %v\n", stats["runs"])
	fmt.Printf("Unique Targets: %v\n", stats["unique_targets"])
	fmt.Printf("Total Findings: %v\n", stats["total_findings"])

	if len(runs) == 0 {
		fmt.Println("\nNo runs recorded yet.")
		return nil
	}

	limit := viper.GetInt("stats.limit")
	if limit <= 0 || limit > len(runs) {
		limit = len(runs)
	}
	fmt.Println("\nRecent Runs:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tTARGET\tLEVEL\tFINDINGS\tSCORE\tDURATION\tFAILED")
	scorer := reporting.NewExposureScorer()
	for _, r := range runs[:limit] {
		failed := "-"
		if len(r.Failed) > 0 {
			failed = strings.Join(r.Failed, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%s\t%s\n",
			r.Started.Format("2006-01-02 15:04"),
			r.Target,
			r.Level,
			r.Total,
			scorer.Score(r.Counts),
			utils.HumanizeDuration(r.Duration),
			failed,
		)
	}
	_ = w.Flush()

	latest := runs[0]
	if len(latest.Metrics) > 0 {
		fmt.Printf("\nMetrics for run %s:\n", latest.RunID)
		keys := make([]string, 0, len(latest.Metrics))
		for k := range latest.Metrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-60s %g\n", k, latest.Metrics[k])
		}
	}
	return nil
}
