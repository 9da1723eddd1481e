package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coach-cli/internal/classify"
	"github.com/sells-group/coach-cli/internal/model"
)

var now = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

func TestRun(t *testing.T) {
	opts := DefaultOptions()
	opts.Names = map[string]string{"1": "Anne", "2": "Bram"}

	mapping, err := classify.NewMapping([]classify.Entry{
		{PipelineID: "default", StageID: "closedwon", Class: "WON"},
		{PipelineID: "default", StageID: opts.Rules.PausedStageID, Class: "OPEN"},
	})
	require.NoError(t, err)

	var deals []model.Deal
	for i := range 10 {
		stage := "closedwon"
		if i >= 7 {
			stage = "appointment"
		}
		deals = append(deals, model.Deal{ID: "a", CoachID: "1", PipelineID: "default", StageID: stage, CreatedAt: now.AddDate(0, 0, -i)})
	}
	deals = append(deals,
		model.Deal{ID: "b1", CoachID: "2", PipelineID: "default", StageID: opts.Rules.PausedStageID, CreatedAt: now.AddDate(0, 0, -1)},
		model.Deal{ID: "b2", CoachID: "2", PipelineID: opts.Rules.NabellerPipelineID, StageID: "x", IsClosedWon: true, CreatedAt: now.AddDate(0, 0, -2)},
	)

	res := Run(deals, mapping, now, opts)

	require.Len(t, res.Deals, len(deals))
	assert.Equal(t, model.ClassLost, res.Deals[10].Class)
	assert.Equal(t, model.ClassNabellerHandoff, res.Deals[11].Class)
	assert.Empty(t, deals[0].Class)

	require.Len(t, res.Metrics, 2)
	assert.Equal(t, "Anne", res.Metrics[0].CoachName)
	m := res.Metrics[0].Window(model.Window1M)
	assert.Equal(t, 10, m.DealCount)
	assert.Equal(t, 7, m.WonCount)
	assert.InDelta(t, 55.6, m.SmoothedRate, 0.0001)

	assert.Equal(t, 1, res.Scored.PoolSize)
	assert.InDelta(t, 55.6, res.Scored.Threshold, 0.0001)
	require.Len(t, res.Scored.Rows, 2)
	assert.Equal(t, "2", res.Scored.Rows[1].CoachID)
	assert.Equal(t, model.EligibilityExcludeNabeller, res.Scored.Rows[1].Eligibility)

	assert.NotEmpty(t, res.Summary)
	assert.NotEmpty(t, res.Weekly)
}

func TestRun_Idempotent(t *testing.T) {
	deals := []model.Deal{
		{ID: "1", CoachID: "a", PipelineID: "p", StageID: "s", IsClosedWon: true, CreatedAt: now.AddDate(0, 0, -3)},
		{ID: "2", CoachID: "b", PipelineID: "p", StageID: "s", CreatedAt: now.AddDate(0, 0, -40)},
	}
	a := Run(deals, nil, now, DefaultOptions())
	b := Run(deals, nil, now, DefaultOptions())
	assert.Equal(t, a, b)
}

func TestRun_NoWeekly(t *testing.T) {
	opts := DefaultOptions()
	opts.Weeks = 0
	res := Run([]model.Deal{{CoachID: "a", CreatedAt: now}}, nil, now, opts)
	assert.Nil(t, res.Weekly)
}
