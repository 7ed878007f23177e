package reporting

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/pkg/models"
	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

const reportBaseName = "report"

// Formatter serializes a Document into one output representation.
type Formatter interface {
	Format(doc *Document) ([]byte, error)
	FileExtension() string
}

// Document is the view every formatter renders. The synthesis record is
// lifted into Summary and kept out of Findings and the counts.
type Document struct {
	Target         string                  `json:"target"`
	RunID          string                  `json:"run_id"`
	Timestamp      time.Time               `json:"timestamp"`
	TotalFindings  int                     `json:"total_findings"`
	SeverityCounts models.SeverityCounts   `json:"severity_counts"`
	ExposureScore  float64                 `json:"exposure_score"`
	Summary        *models.SynthesisRecord `json:"summary"`
	Findings       []models.Finding        `json:"findings"`
}

type Generator struct {
	formatters map[string]Formatter
	templates  *TemplateManager
	scorer     *ExposureScorer
	logger     *logrus.Logger
	mu         sync.RWMutex
	now        func() time.Time
}

func NewGenerator(logger *logrus.Logger) *Generator {
	if logger == nil {
		logger = logrus.New()
	}
	g := &Generator{
		formatters: make(map[string]Formatter),
		templates:  NewTemplateManager(),
		scorer:     NewExposureScorer(),
		logger:     logger,
		now:        time.Now,
	}
	g.RegisterFormatter("md", &MarkdownFormatter{})
	g.RegisterFormatter("html", &HTMLFormatter{templates: g.templates})
	g.RegisterFormatter("json", &JSONFormatter{})
	return g
}

func (g *Generator) RegisterFormatter(name string, formatter Formatter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.formatters[name] = formatter
}

func (g *Generator) SupportedFormats() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.formatters))
	for k := range g.formatters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// LoadTemplates overrides the built-in HTML template with any templates
// found under dir.
func (g *Generator) LoadTemplates(dir string) error {
	if err := g.templates.LoadDir(dir); err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	return nil
}

// ResolveFormats expands an export setting ("all" or a comma list) into the
// ordered formats to produce.
func (g *Generator) ResolveFormats(export string) ([]string, error) {
	export = strings.ToLower(strings.TrimSpace(export))
	if export == "" || export == "all" {
		return []string{"md", "html", "json"}, nil
	}
	var out []string
	for _, f := range strings.Split(export, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		g.mu.RLock()
		_, ok := g.formatters[f]
		g.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unsupported report format: %s (supported: %s)", f, strings.Join(g.SupportedFormats(), ", "))
		}
		out = append(out, f)
	}
	return utils.RemoveDuplicates(out), nil
}

// BuildDocument computes the summary figures for run.
func (g *Generator) BuildDocument(run *models.RunResult) *Document {
	total, counts := models.CountFindings(run.Findings)
	doc := &Document{
		Target:         run.Target.Raw,
		RunID:          run.RunID,
		Timestamp:      run.EndTime,
		TotalFindings:  total,
		SeverityCounts: counts,
		ExposureScore:  g.scorer.Score(counts),
		Findings:       models.WithoutSynthesis(run.Findings),
	}
	if doc.Target == "" {
		doc.Target = "unknown"
	}
	if doc.Timestamp.IsZero() {
		doc.Timestamp = g.now()
	}
	if rec, ok := models.SynthesisOf(run.Findings); ok {
		doc.Summary = &rec
	}
	return doc
}

// Render writes findings in one format to destination, creating parent
// directories and replacing any existing file.
func (g *Generator) Render(findings []models.Finding, format, destination string) error {
	return g.RenderRun(&models.RunResult{Findings: findings}, format, destination)
}

func (g *Generator) RenderRun(run *models.RunResult, format, destination string) error {
	g.mu.RLock()
	formatter, ok := g.formatters[format]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unsupported report format: %s", format)
	}

	data, err := formatter.Format(g.BuildDocument(run))
	if err != nil {
		return fmt.Errorf("failed to format %s report: %w", format, err)
	}
	if err := utils.EnsureDir(filepath.Dir(destination)); err != nil {
		return fmt.Errorf("failed to ensure output dir: %w", err)
	}
	if err := utils.SafeWriteFile(destination, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s report: %w", format, err)
	}
	g.logger.Infof("Report exported to %s", destination)
	return nil
}

// Export writes report.{ext} for every requested format under
// dir/{safe target}/. Every format is attempted; failures are joined.
func (g *Generator) Export(run *models.RunResult, formats []string, dir string) ([]string, error) {
	outDir := filepath.Join(dir, models.ReportDirName(run.Target))
	var (
		written []string
		errs    []error
	)
	for _, format := range formats {
		g.mu.RLock()
		formatter, ok := g.formatters[format]
		g.mu.RUnlock()
		if !ok {
			errs = append(errs, fmt.Errorf("unsupported report format: %s", format))
			continue
		}
		path := filepath.Join(outDir, reportBaseName+"."+formatter.FileExtension())
		if err := g.RenderRun(run, format, path); err != nil {
			g.logger.Errorf("report %s: %v", format, err)
			errs = append(errs, err)
			continue
		}
		written = append(written, path)
	}
	return written, errors.Join(errs...)
}
