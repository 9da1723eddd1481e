package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func scoredRow(id string, e model.Eligibility) model.EligibilityResult {
	return model.EligibilityResult{
		CoachMetrics: model.CoachMetrics{CoachID: id, CoachName: "Coach " + id},
		Eligibility:  e,
	}
}

func seedRuns(t *testing.T, st *store.SQLiteStore) {
	t.Helper()
	ctx := context.Background()

	_, err := st.CreateRun(ctx, "20260301_080000")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, "20260301_080000", errors.New("hubspot: 401")))

	_, err = st.CreateRun(ctx, "20260302_080000")
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, "20260302_080000", model.RunSummary{DealCount: 40, CoachCount: 3, P50: 35.2}))
	require.NoError(t, st.SaveResults(ctx, "20260302_080000", []model.EligibilityResult{
		scoredRow("1", model.EligibilityGood),
		scoredRow("2", model.EligibilityGood),
		scoredRow("3", model.EligibilityExclude),
	}))
	require.NoError(t, st.RecordExport(ctx, model.ExportRecord{
		ID: "b1", RunID: "20260302_080000", SheetID: "s", Tab: "NA_Pool", Written: 2,
		CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}))

	_, err = st.CreateRun(ctx, "20260303_080000")
	require.NoError(t, err)
}

func TestCollector_Collect(t *testing.T) {
	st := newTestStore(t)
	seedRuns(t, st)

	snap, err := NewCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsInProgress)
	assert.InDelta(t, 0.5, snap.RunFailRate, 0.001)

	assert.Equal(t, "20260302_080000", snap.CurrentRunID)
	assert.InDelta(t, 35.2, snap.CurrentP50, 0.001)
	assert.Equal(t, 2, snap.EligibilityMix[model.EligibilityGood])
	assert.Equal(t, 1, snap.EligibilityMix[model.EligibilityExclude])
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), snap.LastExportAt.UTC())
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap, err := NewCollector(newTestStore(t)).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Empty(t, snap.CurrentRunID)
}

func TestCollector_Collect_Lookback(t *testing.T) {
	st := newTestStore(t)
	seedRuns(t, st)

	c := NewCollector(st)
	c.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Equal(t, "20260302_080000", snap.CurrentRunID)
}

func TestMetrics_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveSnapshot(&RunSnapshot{RunsComplete: 3, RunsFailed: 1, CurrentRunAge: time.Hour})

	assert.InDelta(t, 3, testutil.ToFloat64(m.Runs.WithLabelValues("complete")), 0.001)
	assert.InDelta(t, 3600, testutil.ToFloat64(m.CurrentRunAge), 0.001)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
