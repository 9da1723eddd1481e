// Package weekly buckets classified deals into ISO weeks per coach and
// flags week-over-week drift.
package weekly

import (
	"sort"
	"time"

	"github.com/sells-group/coach-cli/internal/model"
)

// RollingWeeks is the trailing window of the rolling won rate.
const RollingWeeks = 4

// Params configures the rollup.
type Params struct {
	NabellerPipelineID string
	// Names maps coach ids to display names. Missing ids get UNKNOWN.
	Names map[string]string
}

// WeekStart returns midnight UTC of the Monday of the ISO week containing
// t, using t's own calendar date.
func WeekStart(t time.Time) time.Time {
	y, m, d := t.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

type bucketKey struct {
	coach string
	week  time.Time
}

// Rollup buckets deals created within numWeeks*7 days before now by coach
// and ISO week. Output is sorted by coach id then week start.
func Rollup(deals []model.Deal, now time.Time, numWeeks int, p Params) []model.WeeklyBucket {
	cutoff := now.AddDate(0, 0, -numWeeks*7)

	buckets := make(map[bucketKey]*model.WeeklyBucket)
	for _, d := range deals {
		if d.CreatedAt.IsZero() || d.CreatedAt.Before(cutoff) {
			continue
		}
		coach := d.CoachID
		if coach == "" {
			coach = model.UnknownCoach
		}
		k := bucketKey{coach: coach, week: WeekStart(d.CreatedAt)}
		b, ok := buckets[k]
		if !ok {
			b = &model.WeeklyBucket{CoachID: coach, CoachName: name(p.Names, coach), WeekStart: k.week}
			buckets[k] = b
		}
		b.DealCount++
		switch d.Class {
		case model.ClassWon:
			b.WonCount++
		case model.ClassLost:
			b.LostCount++
		case model.ClassOpen:
			b.OpenCount++
		}
		if d.PipelineID == p.NabellerPipelineID {
			b.NabellerCountWeek++
		}
	}

	out := make([]model.WeeklyBucket, 0, len(buckets))
	for _, b := range buckets {
		b.WonRateWeek = model.Round1(model.Percent(b.WonCount, b.DealCount))
		b.NabellerPctWeek = model.Round1(model.Percent(b.NabellerCountWeek, b.DealCount))
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CoachID != out[j].CoachID {
			return out[i].CoachID < out[j].CoachID
		}
		return out[i].WeekStart.Before(out[j].WeekStart)
	})

	applyRolling(out)
	return out
}

// applyRolling sets Rolling4WRate on buckets sorted by coach then week. The
// window shrinks at the start of each coach's series.
func applyRolling(buckets []model.WeeklyBucket) {
	start := 0
	for i := range buckets {
		if buckets[i].CoachID != buckets[start].CoachID {
			start = i
		}
		from := max(start, i-RollingWeeks+1)
		var sum float64
		for j := from; j <= i; j++ {
			sum += buckets[j].WonRateWeek
		}
		buckets[i].Rolling4WRate = sum / float64(i-from+1)
	}
}

func name(names map[string]string, id string) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return model.UnknownCoach
}

// Coach returns the buckets of one coach in chronological order.
func Coach(buckets []model.WeeklyBucket, coachID string) []model.WeeklyBucket {
	var out []model.WeeklyBucket
	for _, b := range buckets {
		if b.CoachID == coachID {
			out = append(out, b)
		}
	}
	return out
}

// Latest returns the most recent week start present in buckets.
func Latest(buckets []model.WeeklyBucket) (time.Time, bool) {
	var latest time.Time
	for _, b := range buckets {
		if b.WeekStart.After(latest) {
			latest = b.WeekStart
		}
	}
	return latest, !latest.IsZero()
}
