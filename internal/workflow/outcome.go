package workflow

import (
	"time"

	"lectern/internal/pipeline"
)

// StageStatus describes how a stage finished within a run.
type StageStatus string

const (
	StatusExecuted  StageStatus = "executed"
	StatusCached    StageStatus = "cached"
	StatusSkipped   StageStatus = "skipped"
	StatusDefaulted StageStatus = "defaulted"
	StatusFailed    StageStatus = "failed"
)

// StageReport records one stage's fate.
type StageReport struct {
	Stage    pipeline.StageName `json:"stage"`
	Status   StageStatus        `json:"status"`
	Version  int                `json:"version,omitempty"`
	Model    string             `json:"model,omitempty"`
	Duration time.Duration      `json:"duration_ns,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// Outcome is the result of one run. Results holds every stage entry of the
// run Context keyed by stage name.
type Outcome struct {
	RunID       string                     `json:"run_id"`
	ArchivePath string                     `json:"archive_path"`
	ContentType pipeline.ContentType       `json:"content_type"`
	Order       []pipeline.StageName       `json:"order"`
	Reports     []StageReport              `json:"stages"`
	Results     map[pipeline.StageName]any `json:"results"`
	StartedAt   time.Time                  `json:"started_at"`
	FinishedAt  time.Time                  `json:"finished_at"`
}

// Report returns the report for stage, if it ran to any conclusion.
func (o *Outcome) Report(stage pipeline.StageName) (StageReport, bool) {
	for _, r := range o.Reports {
		if r.Stage == stage {
			return r, true
		}
	}
	return StageReport{}, false
}

// StagesWith lists stages that ended with status, in report order.
func (o *Outcome) StagesWith(status StageStatus) []pipeline.StageName {
	var out []pipeline.StageName
	for _, r := range o.Reports {
		if r.Status == status {
			out = append(out, r.Stage)
		}
	}
	return out
}

// Duration is the wall time of the run.
func (o *Outcome) Duration() time.Duration {
	if o.FinishedAt.IsZero() {
		return 0
	}
	return o.FinishedAt.Sub(o.StartedAt)
}
