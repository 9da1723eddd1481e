package aggregate

import (
	"math/rand/v2"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coach-cli/internal/model"
)

var now = time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time { return now.AddDate(0, 0, -n) }

func TestSmoothedRate(t *testing.T) {
	assert.Equal(t, 37.5, SmoothedRate(0, 0))
	assert.InDelta(t, 55.6, SmoothedRate(7, 10), 0.0001)
	assert.InDelta(t, 44.4, SmoothedRate(1, 1), 0.0001)
	// 31.25 and 6.25 are exact halves and round to even.
	assert.Equal(t, 31.2, SmoothedRate(2, 8))
}

func TestAggregate_RoundsHalfToEven(t *testing.T) {
	deals := []model.Deal{{ID: "w", CoachID: "a", CreatedAt: daysAgo(1), Class: model.ClassWon}}
	for i := range 15 {
		deals = append(deals, model.Deal{ID: "l" + strconv.Itoa(i), CoachID: "a", CreatedAt: daysAgo(1), Class: model.ClassLost})
	}

	got := Aggregate(deals, now, DefaultParams())
	require.Len(t, got, 1)
	m1 := got[0].Window(model.Window1M)
	assert.Equal(t, 16, m1.DealCount)
	assert.Equal(t, 6.2, m1.RawRate)
}

func TestSmoothedRate_ShrinksTowardPrior(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 500 {
		total := r.IntN(200) + 1
		won := r.IntN(total + 1)
		raw := float64(won) / float64(total) * 100
		s := SmoothedRate(won, total)

		lo, hi := raw, 37.5
		if lo > hi {
			lo, hi = hi, lo
		}
		assert.GreaterOrEqual(t, s, lo-0.05, "won=%d total=%d", won, total)
		assert.LessOrEqual(t, s, hi+0.05, "won=%d total=%d", won, total)
	}

	// Large samples converge on the raw rate.
	assert.InDelta(t, 70.0, SmoothedRate(70000, 100000), 0.1)
}

func TestAggregate_Windows(t *testing.T) {
	p := DefaultParams()
	deals := []model.Deal{
		{ID: "1", CoachID: "a", CreatedAt: daysAgo(5), Class: model.ClassWon, StageID: "114855767"},
		{ID: "2", CoachID: "a", CreatedAt: daysAgo(40), Class: model.ClassLost, StageID: "15415582"},
		{ID: "3", CoachID: "a", CreatedAt: daysAgo(100), Class: model.ClassOpen},
		{ID: "4", CoachID: "a", CreatedAt: daysAgo(200), Class: model.ClassWon},
		{ID: "5", CoachID: "a", CreatedAt: daysAgo(2), Class: model.ClassNabellerHandoff, PipelineID: p.NabellerPipelineID},
	}

	got := Aggregate(deals, now, p)
	require.Len(t, got, 1)
	a := got[0]
	assert.Equal(t, "a", a.CoachID)

	m1 := a.Window(model.Window1M)
	assert.Equal(t, 2, m1.DealCount)
	assert.Equal(t, 1, m1.WonCount)
	assert.Equal(t, 1, m1.HandoffCount)
	assert.Equal(t, 1, m1.NabellerCount)
	assert.InDelta(t, 50.0, m1.NabellerPct, 0.0001)
	assert.InDelta(t, 50.0, m1.RawRate, 0.0001)
	assert.InDelta(t, 40.0, m1.SmoothedRate, 0.0001)
	assert.Equal(t, 1, m1.WarmRequestCount)
	assert.Equal(t, 0, m1.InfoRequestCount)

	m3 := a.Window(model.Window3M)
	assert.Equal(t, 3, m3.DealCount)
	assert.Equal(t, 1, m3.LostCount)
	assert.Equal(t, 1, m3.InfoRequestCount)

	m6 := a.Window(model.Window6M)
	assert.Equal(t, 4, m6.DealCount)
	assert.Equal(t, 1, m6.OpenCount)
}

func TestAggregate_ZeroWindow(t *testing.T) {
	got := Aggregate([]model.Deal{
		{CoachID: "old", CreatedAt: daysAgo(150), Class: model.ClassWon},
	}, now, DefaultParams())
	require.Len(t, got, 1)

	m1 := got[0].Window(model.Window1M)
	assert.Equal(t, 0, m1.DealCount)
	assert.Equal(t, 0.0, m1.RawRate)
	assert.Equal(t, 0.0, m1.NabellerPct)
	assert.Equal(t, 37.5, m1.SmoothedRate)
	assert.Equal(t, 1, got[0].Window(model.Window6M).DealCount)
}

func TestAggregate_IgnoresMissingCreatedAt(t *testing.T) {
	got := Aggregate([]model.Deal{
		{CoachID: "a", CreatedAt: daysAgo(1), Class: model.ClassWon},
		{CoachID: "a", Class: model.ClassWon},
		{CoachID: "b", Class: model.ClassLost},
	}, now, DefaultParams())

	require.Len(t, got, 1)
	for _, w := range model.Windows {
		assert.Equal(t, 1, got[0].Window(w).DealCount)
	}
}

func TestAggregate_SortedAndUnknown(t *testing.T) {
	got := Aggregate([]model.Deal{
		{CoachID: "z", CreatedAt: daysAgo(1)},
		{CoachID: "", CreatedAt: daysAgo(1)},
		{CoachID: "b", CreatedAt: daysAgo(1)},
	}, now, DefaultParams())

	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.CoachID
	}
	assert.Equal(t, []string{"UNKNOWN", "b", "z"}, ids)
}

func TestAggregate_Deterministic(t *testing.T) {
	deals := []model.Deal{
		{CoachID: "a", CreatedAt: daysAgo(1), Class: model.ClassWon},
		{CoachID: "b", CreatedAt: daysAgo(3), Class: model.ClassOpen},
	}
	assert.Equal(t, Aggregate(deals, now, DefaultParams()), Aggregate(deals, now, DefaultParams()))
}

func TestWithNames(t *testing.T) {
	in := []model.CoachMetrics{{CoachID: "1"}, {CoachID: "2"}}
	out := WithNames(in, map[string]string{"1": "Anne de Vries"})
	assert.Equal(t, "Anne de Vries", out[0].CoachName)
	assert.Equal(t, model.UnknownCoach, out[1].CoachName)
	assert.Empty(t, in[0].CoachName)
}
