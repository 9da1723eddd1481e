package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coach-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func completeRun(t *testing.T, st *SQLiteStore, id string, p50 float64) {
	t.Helper()
	ctx := context.Background()
	_, err := st.CreateRun(ctx, id)
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, id, model.RunSummary{DealCount: 10, CoachCount: 2, P50: p50}))
}

// --- Runs ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r, err := st.CreateRun(ctx, "20260301_080000")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFetching, r.Status)

	require.NoError(t, st.UpdateRunStatus(ctx, r.ID, model.RunStatusScoring))
	got, err := st.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusScoring, got.Status)

	require.NoError(t, st.CompleteRun(ctx, r.ID, model.RunSummary{DealCount: 42, DroppedCount: 2, CoachCount: 7, P50: 31.3}))
	got, err = st.GetRun(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, 42, got.DealCount)
	assert.Equal(t, 2, got.DroppedCount)
	assert.Equal(t, 7, got.CoachCount)
	assert.InDelta(t, 31.3, got.P50, 1e-9)
	assert.False(t, got.Selected)
}

func TestSQLite_FailRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateRun(ctx, "r1")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, "r1", errors.New("crm: no deals")))

	got, err := st.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, "crm: no deals", got.Error)
}

func TestSQLite_GetRun_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRun(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_UpdateRunStatus_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateRunStatus(context.Background(), "missing", model.RunStatusScoring)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ListRuns(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	completeRun(t, st, "20260101_000000", 30)
	completeRun(t, st, "20260201_000000", 35)
	_, err := st.CreateRun(ctx, "20260301_000000")
	require.NoError(t, err)

	all, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "20260301_000000", all[0].ID)

	complete, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, complete, 2)
	assert.Equal(t, "20260201_000000", complete[0].ID)

	page, err := st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "20260201_000000", page[0].ID)
}

func TestSQLite_SelectRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	completeRun(t, st, "r1", 30)
	completeRun(t, st, "r2", 35)

	sel, err := st.SelectedRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, sel)

	require.NoError(t, st.SelectRun(ctx, "r1"))
	require.NoError(t, st.SelectRun(ctx, "r2"))

	sel, err = st.SelectedRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Equal(t, "r2", sel.ID)

	r1, err := st.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, r1.Selected)
}

func TestSQLite_SelectRun_Incomplete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	completeRun(t, st, "r1", 30)
	require.NoError(t, st.SelectRun(ctx, "r1"))
	_, err := st.CreateRun(ctx, "r2")
	require.NoError(t, err)

	err = st.SelectRun(ctx, "r2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	// The failed selection leaves the previous one in place.
	sel, err := st.SelectedRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, sel)
	assert.Equal(t, "r1", sel.ID)
}

func TestResolveRun(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := ResolveRun(ctx, st, "")
	assert.True(t, errors.Is(err, ErrNotFound))

	completeRun(t, st, "20260101_000000", 30)
	completeRun(t, st, "20260201_000000", 35)

	r, err := ResolveRun(ctx, st, "")
	require.NoError(t, err)
	assert.Equal(t, "20260201_000000", r.ID, "latest complete run")

	require.NoError(t, st.SelectRun(ctx, "20260101_000000"))
	r, err = ResolveRun(ctx, st, "")
	require.NoError(t, err)
	assert.Equal(t, "20260101_000000", r.ID, "selected run wins")

	r, err = ResolveRun(ctx, st, "20260201_000000")
	require.NoError(t, err)
	assert.Equal(t, "20260201_000000", r.ID)
}

// --- Run contents ---

func TestSQLite_Results_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	completeRun(t, st, "r1", 31.3)

	rows := []model.EligibilityResult{
		{
			CoachMetrics: model.CoachMetrics{
				CoachID:   "c2",
				CoachName: "Coach Two",
				Windows: map[model.Window]model.WindowMetrics{
					model.Window1M: {DealCount: 10, WonCount: 4, OpenCount: 6, RawRate: 40, SmoothedRate: 38.9},
				},
			},
			Eligibility:   model.EligibilityGood,
			P50Smoothed1M: 31.3,
		},
		{
			CoachMetrics:  model.CoachMetrics{CoachID: "c1", CoachName: "Coach One"},
			Eligibility:   model.EligibilityNoData,
			P50Smoothed1M: 31.3,
		},
	}
	require.NoError(t, st.SaveResults(ctx, "r1", rows))

	got, err := st.LoadResults(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].CoachID, "insertion order is kept")
	assert.Equal(t, 38.9, got[0].Window(model.Window1M).SmoothedRate)
	assert.Equal(t, model.EligibilityNoData, got[1].Eligibility)

	// Saving again replaces the previous rows.
	require.NoError(t, st.SaveResults(ctx, "r1", rows[:1]))
	got, err = st.LoadResults(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLite_Deals_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	completeRun(t, st, "r1", 0)

	created := time.Date(2026, 2, 14, 10, 30, 0, 0, time.UTC)
	deals := []model.Deal{
		{ID: "d1", CoachID: "c1", PipelineID: "p1", StageID: "s1", CreatedAt: created, IsClosedWon: true, Class: model.ClassWon},
		{ID: "d2", CoachID: "c1", PipelineID: "38341389", StageID: "s2", CreatedAt: created.Add(time.Hour), Class: model.ClassOpen},
	}
	require.NoError(t, st.SaveDeals(ctx, "r1", deals))

	got, err := st.LoadDeals(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d1", got[0].ID)
	assert.True(t, got[0].IsClosedWon)
	assert.True(t, created.Equal(got[0].CreatedAt))
	assert.Equal(t, model.ClassOpen, got[1].Class)
}

// --- Exports ---

func TestSQLite_Exports(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, st.RecordExport(ctx, model.ExportRecord{
		ID: "a", RunID: "r1", SheetID: "sheet", Tab: "NA_Pool", Written: 5, Skipped: 1, CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, st.RecordExport(ctx, model.ExportRecord{
		ID: "b", RunID: "r1", SheetID: "sheet", Tab: "NA_Pool", Written: 6, DryRun: true, CreatedAt: now,
	}))

	got, err := st.ListExports(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.True(t, got[0].DryRun)
	assert.Equal(t, 1, got[1].Skipped)

	none, err := st.ListExports(ctx, "r2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- Fetch cache ---

func TestSQLite_Cache_SetAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCache(ctx, "hubspot:contacts", []byte(`["1","2"]`), time.Hour))

	data, err := st.GetCache(ctx, "hubspot:contacts")
	require.NoError(t, err)
	assert.Equal(t, `["1","2"]`, string(data))

	require.NoError(t, st.SetCache(ctx, "hubspot:contacts", []byte(`["3"]`), time.Hour))
	data, err = st.GetCache(ctx, "hubspot:contacts")
	require.NoError(t, err)
	assert.Equal(t, `["3"]`, string(data))
}

func TestSQLite_Cache_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	data, err := st.GetCache(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSQLite_Cache_Expired(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SetCache(ctx, "old", []byte("x"), -time.Hour))
	require.NoError(t, st.SetCache(ctx, "fresh", []byte("y"), time.Hour))

	data, err := st.GetCache(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, data)

	n, err := st.DeleteExpiredCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	data, err = st.GetCache(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "y", string(data))
}

func TestSQLite_ImplementsStore(t *testing.T) {
	var _ Store = (*SQLiteStore)(nil)
	var _ Store = (*PostgresStore)(nil)
}
