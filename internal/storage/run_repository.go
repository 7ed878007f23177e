package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/pkg/models"
)

// RunSummary is the index line kept for every stored run.
type RunSummary struct {
	RunID    string                `json:"run_id"`
	Target   string                `json:"target"`
	Level    string                `json:"level"`
	Started  time.Time             `json:"started"`
	Duration time.Duration         `json:"duration"`
	Total    int                   `json:"total_findings"`
	Counts   models.SeverityCounts `json:"severity_counts"`
	Failed   []string              `json:"failed_stages,omitempty"`
	Metrics  map[string]float64    `json:"metrics,omitempty"`
	File     string                `json:"file"`
}

// RunRepository keeps the merged result of every run under baseDir/runs
// with an index used by the stats command.
type RunRepository struct {
	baseDir string
	logger  *logrus.Logger
	mu      sync.RWMutex
	index   []RunSummary
}

func NewRunRepository(baseDir string, logger *logrus.Logger) (*RunRepository, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "runs"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create runs directory: %w", err)
	}
	rr := &RunRepository{baseDir: baseDir, logger: logger}
	if err := rr.loadIndex(); err != nil {
		logger.Warnf("Failed to load run index: %v", err)
	}
	return rr, nil
}

func (rr *RunRepository) Store(run *models.RunResult, metrics map[string]float64) (*RunSummary, error) {
	if run == nil || run.RunID == "" {
		return nil, fmt.Errorf("invalid run: missing run id")
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()

	file := run.RunID + ".json"
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode run: %w", err)
	}
	if err := writeAtomic(filepath.Join(rr.baseDir, "runs", file), data); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}

	total, counts := run.Counts()
	summary := RunSummary{
		RunID:    run.RunID,
		Target:   run.Target.Raw,
		Level:    string(run.Level),
		Started:  run.StartTime,
		Duration: run.EndTime.Sub(run.StartTime),
		Total:    total,
		Counts:   counts,
		Failed:   run.FailedStages(),
		Metrics:  metrics,
		File:     file,
	}
	rr.index = append(rr.index, summary)
	if err := rr.saveIndex(); err != nil {
		rr.logger.Warnf("Failed to save run index: %v", err)
	}
	return &summary, nil
}

func (rr *RunRepository) Load(runID string) (*models.RunResult, error) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	data, err := os.ReadFile(filepath.Join(rr.baseDir, "runs", runID+".json"))
	if err != nil {
		return nil, fmt.Errorf("read run %s: %w", runID, err)
	}
	var run models.RunResult
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", runID, err)
	}
	return &run, nil
}

// List returns the stored runs, newest first.
func (rr *RunRepository) List() []RunSummary {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	out := make([]RunSummary, len(rr.index))
	copy(out, rr.index)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Started.After(out[j].Started) })
	return out
}

func (rr *RunRepository) Latest() (RunSummary, bool) {
	runs := rr.List()
	if len(runs) == 0 {
		return RunSummary{}, false
	}
	return runs[0], true
}

func (rr *RunRepository) FindByTarget(target string) []RunSummary {
	var out []RunSummary
	for _, s := range rr.List() {
		if s.Target == target {
			out = append(out, s)
		}
	}
	return out
}

func (rr *RunRepository) GetStats() map[string]interface{} {
	runs := rr.List()
	targets := make(map[string]struct{})
	findings := 0
	for _, r := range runs {
		targets[r.Target] = struct{}{}
		findings += r.Total
	}
	return map[string]interface{}{
		"runs":           len(runs),
		"unique_targets": len(targets),
		"total_findings": findings,
	}
}

func (rr *RunRepository) indexPath() string {
	return filepath.Join(rr.baseDir, "runs_index.json")
}

func (rr *RunRepository) loadIndex() error {
	data, err := os.ReadFile(rr.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index file: %w", err)
	}
	if err := json.Unmarshal(data, &rr.index); err != nil {
		return fmt.Errorf("failed to unmarshal index: %w", err)
	}
	return nil
}

func (rr *RunRepository) saveIndex() error {
	data, err := json.MarshalIndent(rr.index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	return writeAtomic(rr.indexPath(), data)
}
