// Package aggregate computes per-coach deal metrics over trailing windows.
package aggregate

import (
	"sort"
	"time"

	"github.com/sells-group/coach-cli/internal/model"
)

// Beta(3,5) prior for the smoothed win rate; prior mean 37.5%.
const (
	Alpha = 3
	Beta  = 5
)

// SmoothedRate returns (won+Alpha)/(total+Alpha+Beta)*100 rounded to one
// decimal. The denominator is never zero.
func SmoothedRate(won, total int) float64 {
	return model.Round1(float64(won+Alpha) / float64(total+Alpha+Beta) * 100)
}

// Params configures the CRM identifiers the aggregator counts.
type Params struct {
	NabellerPipelineID string
	WarmRequestStages  []string
	InfoRequestStages  []string
}

// DefaultParams returns the production identifiers.
func DefaultParams() Params {
	return Params{
		NabellerPipelineID: "38341389",
		WarmRequestStages:  []string{"114855767", "81686449"},
		InfoRequestStages:  []string{"15415582", "116831596"},
	}
}

// Aggregate groups classified deals by coach and computes metrics for each
// trailing window relative to now. Deals with a zero CreatedAt are ignored.
// The result is sorted by coach id; CoachName is left empty.
func Aggregate(deals []model.Deal, now time.Time, p Params) []model.CoachMetrics {
	starts := make(map[model.Window]time.Time, len(model.Windows))
	for _, w := range model.Windows {
		starts[w] = now.AddDate(0, 0, -w.Days())
	}

	warm := toSet(p.WarmRequestStages)
	info := toSet(p.InfoRequestStages)

	byCoach := make(map[string][]model.Deal)
	for _, d := range deals {
		if d.CreatedAt.IsZero() {
			continue
		}
		id := d.CoachID
		if id == "" {
			id = model.UnknownCoach
		}
		byCoach[id] = append(byCoach[id], d)
	}

	ids := make([]string, 0, len(byCoach))
	for id := range byCoach {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]model.CoachMetrics, 0, len(ids))
	for _, id := range ids {
		cm := model.CoachMetrics{
			CoachID: id,
			Windows: make(map[model.Window]model.WindowMetrics, len(model.Windows)),
		}
		for _, w := range model.Windows {
			cm.Windows[w] = windowMetrics(byCoach[id], starts[w], p.NabellerPipelineID, warm, info)
		}
		out = append(out, cm)
	}
	return out
}

func windowMetrics(deals []model.Deal, start time.Time, nabeller string, warm, info map[string]struct{}) model.WindowMetrics {
	var m model.WindowMetrics
	for _, d := range deals {
		if d.CreatedAt.Before(start) {
			continue
		}
		m.DealCount++
		switch d.Class {
		case model.ClassWon:
			m.WonCount++
		case model.ClassLost:
			m.LostCount++
		case model.ClassOpen:
			m.OpenCount++
		case model.ClassNabellerHandoff:
			m.HandoffCount++
		}
		if d.PipelineID == nabeller {
			m.NabellerCount++
		}
		if _, ok := warm[d.StageID]; ok {
			m.WarmRequestCount++
		}
		if _, ok := info[d.StageID]; ok {
			m.InfoRequestCount++
		}
	}

	m.RawRate = model.Round1(model.Percent(m.WonCount, m.DealCount))
	m.SmoothedRate = SmoothedRate(m.WonCount, m.DealCount)
	m.NabellerPct = model.Round1(model.Percent(m.NabellerCount, m.DealCount))
	return m
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// WithNames returns a copy of metrics with CoachName filled from names.
// Unknown ids get model.UnknownCoach.
func WithNames(metrics []model.CoachMetrics, names map[string]string) []model.CoachMetrics {
	out := make([]model.CoachMetrics, len(metrics))
	for i, m := range metrics {
		m.CoachName = model.UnknownCoach
		if n, ok := names[m.CoachID]; ok && n != "" {
			m.CoachName = n
		}
		out[i] = m
	}
	return out
}
