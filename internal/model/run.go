package model

import (
	"time"
)

// RunStatus represents the state of a scoring run.
type RunStatus string

const (
	RunStatusFetching RunStatus = "fetching"
	RunStatusScoring  RunStatus = "scoring"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunIDLayout is the time layout of run identifiers (UTC).
const RunIDLayout = "20060102_150405"

// NewRunID returns the run identifier for t.
func NewRunID(t time.Time) string {
	return t.UTC().Format(RunIDLayout)
}

// IsRunID reports whether s looks like a run identifier.
func IsRunID(s string) bool {
	_, err := time.Parse(RunIDLayout, s)
	return err == nil
}

// Run is one fetch-and-score execution.
type Run struct {
	ID           string    `json:"id"`
	Status       RunStatus `json:"status"`
	DealCount    int       `json:"deal_count"`
	DroppedCount int       `json:"dropped_count"`
	CoachCount   int       `json:"coach_count"`
	P50          float64   `json:"p50_smoothed_1m"`
	Selected     bool      `json:"selected"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RunSummary carries the outcome of a completed run.
type RunSummary struct {
	DealCount    int     `json:"deal_count"`
	DroppedCount int     `json:"dropped_count"`
	CoachCount   int     `json:"coach_count"`
	P50          float64 `json:"p50_smoothed_1m"`
}

// ExportRecord is the audit entry of one lead pool push.
type ExportRecord struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	SheetID   string    `json:"sheet_id"`
	Tab       string    `json:"tab"`
	Written   int       `json:"written"`
	Skipped   int       `json:"skipped"`
	DryRun    bool      `json:"dry_run"`
	CreatedAt time.Time `json:"created_at"`
}
