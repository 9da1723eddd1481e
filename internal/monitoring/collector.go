package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/store"
)

// RunSnapshot holds a point-in-time view of run health.
type RunSnapshot struct {
	// Runs created within the lookback window.
	RunsTotal      int     `json:"runs_total"`
	RunsComplete   int     `json:"runs_complete"`
	RunsFailed     int     `json:"runs_failed"`
	RunsInProgress int     `json:"runs_in_progress"`
	RunFailRate    float64 `json:"run_fail_rate"`

	// Selected run, or the most recent complete one.
	CurrentRunID   string                    `json:"current_run_id,omitempty"`
	CurrentRunAge  time.Duration             `json:"current_run_age"`
	CurrentP50     float64                   `json:"current_p50_smoothed_1m"`
	EligibilityMix map[model.Eligibility]int `json:"eligibility_mix,omitempty"`
	LastExportAt   time.Time                 `json:"last_export_at,omitzero"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers run metrics from the store.
type Collector struct {
	store store.Store
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*RunSnapshot, error) {
	now := c.now().UTC()
	snap := &RunSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{Limit: 1000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsInProgress++
		}
	}
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	run, err := store.ResolveRun(ctx, c.store, "")
	if eris.Is(err, store.ErrNotFound) {
		return snap, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: resolve current run")
	}
	snap.CurrentRunID = run.ID
	snap.CurrentRunAge = now.Sub(run.CreatedAt)
	snap.CurrentP50 = run.P50

	rows, err := c.store.LoadResults(ctx, run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: load results")
	}
	snap.EligibilityMix = make(map[model.Eligibility]int)
	for _, r := range rows {
		snap.EligibilityMix[r.Eligibility]++
	}

	exports, err := c.store.ListExports(ctx, run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list exports")
	}
	for _, e := range exports {
		if !e.DryRun && e.CreatedAt.After(snap.LastExportAt) {
			snap.LastExportAt = e.CreatedAt
		}
	}

	return snap, nil
}
