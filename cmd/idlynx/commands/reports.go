package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bl4ck0w1/idlynx/internal/reporting"
	"github.com/bl4ck0w1/idlynx/internal/storage"
	"github.com/bl4ck0w1/idlynx/pkg/models"
)

// ReportFile is one rendered report found under the output directory.
type ReportFile struct {
	Path     string
	Target   string
	RunID    string
	Format   string
	Size     int64
	Modified time.Time
}

func NewReportsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Manage rendered reports",
		Long: `List, view, regenerate and clean up the reports written under output_dir.
Regeneration renders a recorded run again without contacting any source.`,
	}
	cmd.AddCommand(newReportsGenerateCommand())
	cmd.AddCommand(newReportsListCommand())
	cmd.AddCommand(newReportsViewCommand())
	cmd.AddCommand(newReportsCleanupCommand())
	return cmd
}

func newReportsGenerateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <run-id>",
		Short: "Render a recorded run again",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportsGenerate,
	}
	cmd.Flags().StringP("export", "e", "all", "Report formats (md, html, json, comma list or all)")
	cmd.Flags().String("templates", "", "Directory of report templates overriding the built-in HTML layout")
	_ = viper.BindPFlag("reports.export", cmd.Flags().Lookup("export"))
	_ = viper.BindPFlag("reports.templates", cmd.Flags().Lookup("templates"))
	return cmd
}

func newReportsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rendered reports",
		RunE:  runReportsList,
	}
}

func newReportsViewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <target>",
		Short: "Print a target's report",
		Args:  cobra.ExactArgs(1),
		RunE:  runReportsView,
	}
	cmd.Flags().StringP("format", "f", "md", "Report format to print (md, html, json)")
	_ = viper.BindPFlag("reports.format", cmd.Flags().Lookup("format"))
	return cmd
}

func newReportsCleanupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete old reports",
		RunE:  runReportsCleanup,
	}
	cmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete reports last written before this age")
	cmd.Flags().Bool("dry-run", false, "Show what would be deleted")
	_ = viper.BindPFlag("reports.older_than", cmd.Flags().Lookup("older-than"))
	_ = viper.BindPFlag("reports.dry_run", cmd.Flags().Lookup("dry-run"))
	return cmd
}

func runReportsGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logrus.StandardLogger()
	repo, err := storage.NewRunRepository(dataDir(), logger)
	if err != nil {
		return fmt.Errorf("failed to open run repository: %w", err)
	}
	run, err := repo.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	generator := reporting.NewGenerator(logger)
	if dir := viper.GetString("reports.templates"); dir != "" {
		if err := generator.LoadTemplates(dir); err != nil {
			return err
		}
	}
	formats, err := generator.ResolveFormats(viper.GetString("reports.export"))
	if err != nil {
		return err
	}
	written, err := generator.Export(run, formats, cfg.OutputDir)
	for _, path := range written {
		logrus.Infof("Generated report: %s", path)
	}
	return err
}

func runReportsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	files, err := findReportFiles(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to find report files: %w", err)
	}
	if len(files) == 0 {
		logrus.Infof("No reports found in %s", cfg.OutputDir)
		return nil
	}

	fmt.Printf("Reports in %s:\n", cfg.OutputDir)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TARGET\tRUN ID\tFORMAT\tSIZE\tMODIFIED")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			f.Target,
			emptyIf(f.RunID, "-"),
			f.Format,
			humanizeBytes(f.Size),
			f.Modified.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runReportsView(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target, err := models.ParseTarget(args[0])
	if err != nil {
		return err
	}
	format := strings.ToLower(strings.TrimSpace(viper.GetString("reports.format")))
	path := filepath.Join(cfg.OutputDir, models.ReportDirName(target), "report."+format)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("no %s report for %s: %w", format, target.Raw, err)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runReportsCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	olderThan := viper.GetDuration("reports.older_than")
	dryRun := viper.GetBool("reports.dry_run")
	cutoff := time.Now().Add(-olderThan)

	files, err := findReportFiles(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("failed to find reports: %w", err)
	}

	deleted := 0
	var freed int64
	for _, f := range files {
		if !f.Modified.Before(cutoff) {
			continue
		}
		if dryRun {
			logrus.Infof("Would delete: %s (%s, modified %s)", f.Path, humanizeBytes(f.Size), f.Modified.Format("2006-01-02"))
			continue
		}
		if err := os.Remove(f.Path); err != nil {
			logrus.Warnf("Failed to delete %s: %v", f.Path, err)
			continue
		}
		deleted++
		freed += f.Size
		_ = os.Remove(filepath.Dir(f.Path)) // only succeeds once the target dir is empty
	}
	if !dryRun {
		logrus.Infof("Deleted %d reports (%s freed)", deleted, humanizeBytes(freed))
	}
	return nil
}

func findReportFiles(outputDir string) ([]ReportFile, error) {
	if _, err := os.Stat(outputDir); os.IsNotExist(err) {
		return nil, nil
	}
	var files []ReportFile
	err := filepath.WalkDir(outputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, "report.") {
			return nil
		}
		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		rf := ReportFile{
			Path:     path,
			Target:   filepath.Base(filepath.Dir(path)),
			Format:   strings.TrimPrefix(filepath.Ext(name), "."),
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		}
		if rf.Format == "json" {
			rf.Target, rf.RunID = readReportIDs(path, rf.Target)
		}
		files = append(files, rf)
		return nil
	})
	sort.Slice(files, func(i, j int) bool { return files[i].Modified.After(files[j].Modified) })
	return files, err
}

func readReportIDs(path, fallback string) (target, runID string) {
	var head struct {
		Target string `json:"target"`
		RunID  string `json:"run_id"`
	}
	data, err := os.ReadFile(path)
	if err != nil || json.Unmarshal(data, &head) != nil {
		return fallback, ""
	}
	return emptyIf(head.Target, fallback), head.RunID
}

func humanizeBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func emptyIf(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
