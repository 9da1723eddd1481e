package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coach-cli/internal/crm"
	"github.com/sells-group/coach-cli/internal/engine"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/report"
	"github.com/sells-group/coach-cli/internal/store"
	"github.com/sells-group/coach-cli/pkg/hubspot"
)

type fakeFetcher struct {
	snap    *crm.Snapshot
	err     error
	refresh []crm.Refresh
}

func (f *fakeFetcher) Fetch(_ context.Context, r crm.Refresh) (*crm.Snapshot, error) {
	f.refresh = append(f.refresh, r)
	return f.snap, f.err
}

var baseTime = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

func clock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * time.Minute)
		n++
		return t
	}
}

func deal(id, owner, pipeline, stage string, daysAgo int, won, lost bool) hubspot.Object {
	return hubspot.Object{ID: id, Properties: map[string]string{
		"hubspot_owner_id":  owner,
		"pipeline":          pipeline,
		"dealstage":         stage,
		"createdate":        baseTime.AddDate(0, 0, -daysAgo).Format(time.RFC3339),
		"hs_is_closed_won":  fmt.Sprint(won),
		"hs_is_closed_lost": fmt.Sprint(lost),
	}}
}

func testSnapshot() *crm.Snapshot {
	var deals []hubspot.Object
	for i := range 8 {
		stage, won := "open", false
		if i < 6 {
			stage, won = "won", true
		}
		deals = append(deals, deal(fmt.Sprintf("a%d", i), "101", "default", stage, i+1, won, false))
	}
	for i := range 6 {
		deals = append(deals, deal(fmt.Sprintf("b%d", i), "102", "default", "lost", i+1, false, true))
	}
	deals = append(deals, hubspot.Object{ID: "nodate", Properties: map[string]string{"hubspot_owner_id": "101"}})

	meta := func(closed bool, prob string) json.RawMessage {
		return json.RawMessage(fmt.Sprintf(`{"isClosed":"%t","probability":"%s"}`, closed, prob))
	}
	return &crm.Snapshot{
		Deals: deals,
		Pipelines: []hubspot.Pipeline{{
			ID:    "default",
			Label: "Sales",
			Stages: []hubspot.Stage{
				{ID: "open", Label: "Open", Metadata: meta(false, "0.5")},
				{ID: "won", Label: "Won", Metadata: meta(true, "1.0")},
				{ID: "lost", Label: "Lost", Metadata: meta(true, "0.0")},
			},
		}},
		Owners: []hubspot.Owner{
			{ID: "101", FirstName: "Anna", LastName: "de Vries"},
			{ID: "102", FirstName: "Bram"},
		},
	}
}

func newTestPipeline(t *testing.T, f Fetcher) (*Pipeline, *store.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.NewSQLite(filepath.Join(dir, "coach.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	p := New(st, f, nil, filepath.Join(dir, "data"))
	p.now = clock(baseTime)
	return p, st
}

func TestPipeline_Run(t *testing.T) {
	f := &fakeFetcher{snap: testSnapshot()}
	p, st := newTestPipeline(t, f)
	ctx := context.Background()

	out, err := p.Run(ctx, Options{Engine: engine.DefaultOptions(), Refresh: crm.Refresh{Deals: true}, Select: true})
	require.NoError(t, err)

	assert.Equal(t, "20260331_120000", out.Run.ID)
	assert.Equal(t, model.RunStatusComplete, out.Run.Status)
	assert.True(t, out.Run.Selected)
	assert.Equal(t, 14, out.Run.DealCount)
	assert.Equal(t, 1, out.Run.DroppedCount)
	assert.Equal(t, 2, out.Run.CoachCount)
	assert.True(t, out.MappingCreated)
	assert.Equal(t, []crm.Refresh{{Deals: true}}, f.refresh)

	assert.FileExists(t, filepath.Join(out.Dir, report.EligibilityFile))
	assert.FileExists(t, filepath.Join(out.Dir, report.EnumsFile))
	assert.FileExists(t, filepath.Join(out.Dir, report.DealsFlatFile))
	assert.FileExists(t, p.MappingPath())

	rows, err := st.LoadResults(ctx, out.Run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Anna de Vries", rows[0].CoachName)

	owners, err := report.ReadOwners(filepath.Join(out.Dir, report.EligibilityFile))
	require.NoError(t, err)
	assert.Equal(t, "Bram", owners["102"])

	deals, err := st.LoadDeals(ctx, out.Run.ID)
	require.NoError(t, err)
	assert.Len(t, deals, 14)
}

func TestPipeline_RunFetchError(t *testing.T) {
	p, st := newTestPipeline(t, &fakeFetcher{err: errors.New("crm: 0 contacts found")})
	ctx := context.Background()

	_, err := p.Run(ctx, Options{Engine: engine.DefaultOptions()})
	require.ErrorContains(t, err, "0 contacts")

	run, err := st.GetRun(ctx, "20260331_120000")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "0 contacts")
}

func TestPipeline_RunWithoutFetcher(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	_, err := p.Run(context.Background(), Options{})
	assert.ErrorContains(t, err, "no crm fetcher")
}

func TestPipeline_Recalculate(t *testing.T) {
	p, st := newTestPipeline(t, &fakeFetcher{snap: testSnapshot()})
	ctx := context.Background()

	first, err := p.Run(ctx, Options{Engine: engine.DefaultOptions()})
	require.NoError(t, err)

	opts := engine.DefaultOptions()
	override := 90.0
	opts.Eligibility.ThresholdOverride = &override

	out, err := p.Recalculate(ctx, first.Run.ID, Options{Engine: opts, Select: true})
	require.NoError(t, err)

	assert.NotEqual(t, first.Run.ID, out.Run.ID)
	assert.InDelta(t, 90, out.Run.P50, 0.001)
	assert.Equal(t, first.Run.DroppedCount, out.Run.DroppedCount)
	assert.True(t, out.Run.Selected)

	rows, err := st.LoadResults(ctx, out.Run.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Anna de Vries", rows[0].CoachName)
	for _, r := range rows {
		assert.NotEqual(t, model.EligibilityGood, r.Eligibility)
	}
}

func TestPipeline_RecalculateRequiresCompleteRun(t *testing.T) {
	p, st := newTestPipeline(t, nil)
	ctx := context.Background()
	_, err := st.CreateRun(ctx, "20260301_080000")
	require.NoError(t, err)

	_, err = p.Recalculate(ctx, "20260301_080000", Options{Engine: engine.DefaultOptions()})
	assert.ErrorContains(t, err, "not complete")

	_, err = p.Recalculate(ctx, "missing", Options{Engine: engine.DefaultOptions()})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
