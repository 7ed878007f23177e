package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/idlynx/internal/collectors"
	"github.com/bl4ck0w1/idlynx/internal/orchestration"
	"github.com/bl4ck0w1/idlynx/internal/reporting"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [target]",
		Short: "Collect identity exposure for one target",
		Long: `Run every collector stage against an email address, phone number,
username or keyword, then write the merged report. The run refuses to
start unless --authorized confirms you may investigate the target.`,
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}

	cmd.Flags().Bool("authorized", false, "Confirm you are authorized to investigate this target")
	cmd.Flags().StringP("level", "L", "", "Aggression level (gentle, normal, aggressive)")
	cmd.Flags().StringP("export", "e", "", "Report formats (md, html, json, comma list or all)")
	cmd.Flags().StringSliceP("stages", "s", nil, "Restrict the run to these stages ("+strings.Join(collectors.StageNames(), ", ")+")")
	cmd.Flags().String("templates", "", "Directory of report templates overriding the built-in HTML layout")
	cmd.Flags().IntP("timeout", "t", 0, "Run timeout in minutes (0 = none)")
	cmd.Flags().BoolP("verbose", "v", false, "Debug logging")

	_ = viper.BindPFlag("scan.authorized", cmd.Flags().Lookup("authorized"))
	_ = viper.BindPFlag("scan.level", cmd.Flags().Lookup("level"))
	_ = viper.BindPFlag("scan.export", cmd.Flags().Lookup("export"))
	_ = viper.BindPFlag("scan.stages", cmd.Flags().Lookup("stages"))
	_ = viper.BindPFlag("scan.templates", cmd.Flags().Lookup("templates"))
	_ = viper.BindPFlag("scan.timeout", cmd.Flags().Lookup("timeout"))
	_ = viper.BindPFlag("scan.verbose", cmd.Flags().Lookup("verbose"))

	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	target, err := models.ParseTarget(args[0])
	if err != nil {
		return err
	}
	if !viper.GetBool("scan.authorized") {
		return ErrNotAuthorized
	}
	if viper.GetBool("scan.verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level, err := models.ParseAggressionLevel(firstNonEmpty(viper.GetString("scan.level"), cfg.Level))
	if err != nil {
		return err
	}

	logger := logrus.StandardLogger()
	generator := reporting.NewGenerator(logger)
	formats, err := generator.ResolveFormats(firstNonEmpty(viper.GetString("scan.export"), cfg.Export))
	if err != nil {
		return err
	}
	if dir := viper.GetString("scan.templates"); dir != "" {
		if err := generator.LoadTemplates(dir); err != nil {
			return err
		}
	}

	ctx, stop := signalContext()
	defer stop()
	if minutes := viper.GetInt("scan.timeout"); minutes > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(minutes)*time.Minute)
		defer cancel()
	}

	metrics := utils.NewPipelineMetrics()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.StartServerWithContext(ctx, cfg.MetricsAddr); err != nil {
				logrus.Warnf("Metrics server stopped: %v", err)
			}
		}()
		logrus.Infof("Serving metrics on %s/metrics", cfg.MetricsAddr)
	}

	pipeline := orchestration.NewPipeline(cfg, logger, orchestration.WithMetrics(metrics))
	if err := pipeline.SelectStages(viper.GetStringSlice("scan.stages")); err != nil {
		return err
	}

	logrus.Infof("Starting %s scan of %s (%s)", level, target.Raw, target.Type)
	run, err := pipeline.Run(ctx, target, level)
	if err != nil {
		return fmt.Errorf("scan setup failed: %w", err)
	}
	logrus.WithFields(logrus.Fields(pipeline.GetStats())).Debug("Pipeline stats")

	written, exportErr := generator.Export(run, formats, cfg.OutputDir)
	for _, path := range written {
		logrus.Infof("Generated report: %s", path)
	}

	if repo, err := storage.NewRunRepository(dataDir(), logger); err != nil {
		logrus.Warnf("Run not recorded: %v", err)
	} else {
		snapshot, err := metrics.Snapshot()
		if err != nil {
			logrus.Warnf("Failed to snapshot metrics: %v", err)
		}
		if _, err := repo.Store(run, snapshot); err != nil {
			logrus.Warnf("Run not recorded: %v", err)
		}
	}

	displaySummary(run, written)
	if exportErr != nil {
		return fmt.Errorf("report export incomplete: %w", exportErr)
	}
	return nil
}

func displaySummary(run *models.RunResult, written []string) {
	total, counts := run.Counts()
	score := reporting.NewExposureScorer().Score(counts)

	summary := `
Scan Summary:
═══════════════════════════════════════════════════════════════
Target:           %s (%s)
Run ID:           %s
Findings:         %d (Critical: %d, High: %d, Medium: %d, Low: %d)
Exposure Score:   %.2f/10 (%s)
Failed Stages:    %s
Reports:          %d written
Duration:         %s
═══════════════════════════════════════════════════════════════
`
	failed := "none"
	if f := run.FailedStages(); len(f) > 0 {
		failed = strings.Join(f, ", ")
	}
	fmt.Printf(summary,
		run.Target.Raw, run.Target.Type,
		run.RunID,
		total, counts.Critical, counts.High, counts.Medium, counts.Low,
		score, reporting.Rating(score),
		failed,
		len(written),
		utils.HumanizeDuration(run.EndTime.Sub(run.StartTime)),
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
