//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/coach-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:         "20260310_080000",
			Status:     model.RunStatusComplete,
			DealCount:  812,
			CoachCount: 37,
			P50:        41.5,
			Selected:   true,
			CreatedAt:  now,
			UpdatedAt:  now.Add(90 * time.Second),
		},
		{
			ID:        "20260309_080000",
			Status:    model.RunStatusFailed,
			Error:     "hubspot: rate limited",
			CreatedAt: now.Add(-24 * time.Hour),
			UpdatedAt: now.Add(-24 * time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "SELECTED")
	assert.Contains(t, output, "20260310_080000")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "812")
	assert.Contains(t, output, "41.5")
	assert.Contains(t, output, "*")
	assert.Contains(t, output, "failed")
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	runs := []model.Run{
		{ID: "1", Status: model.RunStatusComplete, DealCount: 100, CoachCount: 10, CreatedAt: now, UpdatedAt: now.Add(2 * time.Minute)},
		{ID: "2", Status: model.RunStatusComplete, DealCount: 200, CoachCount: 20, CreatedAt: now, UpdatedAt: now.Add(3 * time.Minute)},
		{ID: "3", Status: model.RunStatusFailed, CreatedAt: now, UpdatedAt: now},
		{ID: "4", Status: model.RunStatusScoring, CreatedAt: now, UpdatedAt: now},
	}

	stats := computeRunStats(runs)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Complete)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.InProgress)
	assert.InDelta(t, 150.0, stats.AvgDurSecs, 0.1)
	assert.InDelta(t, 150.0, stats.AvgDeals, 0.1)
	assert.InDelta(t, 15.0, stats.AvgCoaches, 0.1)

	var buf bytes.Buffer
	formatRunStats(&buf, stats)

	output := buf.String()
	assert.Contains(t, output, "Total runs:")
	assert.Contains(t, output, "In progress:")
	assert.Contains(t, output, "150.0s")
}

func TestRunsStats_NoCompleteRuns(t *testing.T) {
	stats := computeRunStats([]model.Run{{Status: model.RunStatusFailed}})
	assert.Zero(t, stats.AvgDurSecs)

	var buf bytes.Buffer
	formatRunStats(&buf, stats)
	assert.NotContains(t, buf.String(), "Avg duration")
}

func TestRunsSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	runs := []model.Run{
		{ID: "new", CreatedAt: now},
		{ID: "edge", CreatedAt: now.Add(-time.Hour)},
		{ID: "old", CreatedAt: now.Add(-2 * time.Hour)},
	}

	got := runsSince(runs, now.Add(-time.Hour))
	assert.Len(t, got, 2)
	assert.Equal(t, "edge", got[1].ID)
	assert.Len(t, runs, 3)
}

func TestFormatMapping(t *testing.T) {
	closed := true
	prob := 1.0
	rows := []model.MappingRow{
		{PipelineID: "default", StageID: "won", StageLabel: "Gewonnen", IsClosed: &closed, Probability: &prob, Class: model.ClassWon},
		{PipelineID: "default", StageID: "open", StageLabel: "Intake", Class: model.ClassOpen},
	}

	var buf bytes.Buffer
	formatMapping(&buf, filterMapping(rows, model.ClassWon))
	assert.Contains(t, buf.String(), "Gewonnen")
	assert.Contains(t, buf.String(), "1.00")
	assert.NotContains(t, buf.String(), "Intake")

	buf.Reset()
	formatClassCounts(&buf, rows)
	assert.Contains(t, buf.String(), "WON:")
	assert.Contains(t, buf.String(), "NABELLER_HANDOFF:")
}
