// Package store persists scoring runs, their scored rows and deals, export
// audit records and the CRM fetch cache.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coach-cli/internal/model"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = eris.New("not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for scoring runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, runID string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, summary model.RunSummary) error
	FailRun(ctx context.Context, runID string, cause error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	SelectRun(ctx context.Context, runID string) error
	// SelectedRun returns nil, nil when no run is selected.
	SelectedRun(ctx context.Context) (*model.Run, error)

	// Run contents
	SaveResults(ctx context.Context, runID string, rows []model.EligibilityResult) error
	LoadResults(ctx context.Context, runID string) ([]model.EligibilityResult, error)
	SaveDeals(ctx context.Context, runID string, deals []model.Deal) error
	LoadDeals(ctx context.Context, runID string) ([]model.Deal, error)

	// Exports
	RecordExport(ctx context.Context, rec model.ExportRecord) error
	ListExports(ctx context.Context, runID string) ([]model.ExportRecord, error)

	// Fetch cache. GetCache returns nil, nil on a miss or expired entry.
	GetCache(ctx context.Context, key string) ([]byte, error)
	SetCache(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteExpiredCache(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ResolveRun returns runID's run, or the selected run when runID is empty,
// falling back to the most recent complete run.
func ResolveRun(ctx context.Context, s Store, runID string) (*model.Run, error) {
	if runID != "" {
		return s.GetRun(ctx, runID)
	}
	r, err := s.SelectedRun(ctx)
	if err != nil {
		return nil, err
	}
	if r != nil {
		return r, nil
	}
	runs, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, eris.Wrap(ErrNotFound, "store: no complete runs")
	}
	return &runs[0], nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
