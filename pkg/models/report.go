package models

import (
	"regexp"
	"time"
)

const (
	StageStatusCompleted = "completed"
	StageStatusCached    = "cached"
	StageStatusFailed    = "failed"
	StageStatusSkipped   = "skipped"
)

var filenameSanitizer = regexp.MustCompile(`[^\w\-.@]+`)

type StageReport struct {
	Name     string        `json:"name" yaml:"name"`
	Status   string        `json:"status" yaml:"status"`
	Findings int           `json:"findings" yaml:"findings"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunResult is the merged output of one pipeline invocation.
type RunResult struct {
	RunID     string          `json:"run_id" yaml:"run_id"`
	Target    Target          `json:"target" yaml:"target"`
	Level     AggressionLevel `json:"level" yaml:"level"`
	StartTime time.Time       `json:"start_time" yaml:"start_time"`
	EndTime   time.Time       `json:"end_time" yaml:"end_time"`
	Stages    []StageReport   `json:"stages" yaml:"stages"`
	Findings  []Finding       `json:"findings" yaml:"findings"`
}

func (r *RunResult) Counts() (int, SeverityCounts) {
	return CountFindings(r.Findings)
}

func (r *RunResult) FailedStages() []string {
	var out []string
	for _, s := range r.Stages {
		if s.Status == StageStatusFailed {
			out = append(out, s.Name)
		}
	}
	return out
}

// ReportDirName turns a target into a directory name safe for every
// platform the reports may be copied to.
func ReportDirName(t Target) string {
	name := filenameSanitizer.ReplaceAllString(t.SafeName(), "_")
	if name == "" {
		return "unknown"
	}
	return name
}
