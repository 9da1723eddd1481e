package model

import (
	"math"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Window names a trailing time window used by the metric aggregator.
type Window string

const (
	Window1M Window = "1m"
	Window3M Window = "3m"
	Window6M Window = "6m"
)

// Windows lists the trailing windows in ascending length.
var Windows = []Window{Window1M, Window3M, Window6M}

// Days returns the window length in days.
func (w Window) Days() int {
	switch w {
	case Window1M:
		return 30
	case Window3M:
		return 90
	case Window6M:
		return 180
	}
	return 0
}

// ParseWindow validates a window name.
func ParseWindow(s string) (Window, error) {
	w := Window(s)
	if w.Days() == 0 {
		return "", eris.Errorf("model: unknown window %q (want 1m, 3m or 6m)", s)
	}
	return w, nil
}

// WindowMetrics holds the aggregated counts and rates of one coach in one
// trailing window. Rates are percentages rounded to one decimal.
type WindowMetrics struct {
	DealCount        int     `json:"deal_count"`
	WonCount         int     `json:"won_count"`
	LostCount        int     `json:"lost_count"`
	OpenCount        int     `json:"open_count"`
	RawRate          float64 `json:"raw_rate"`
	SmoothedRate     float64 `json:"smoothed_rate"`
	NabellerCount    int     `json:"nabeller_count"`
	NabellerPct      float64 `json:"nabeller_pct"`
	HandoffCount     int     `json:"handoff_count"`
	WarmRequestCount int     `json:"warm_request_count"`
	InfoRequestCount int     `json:"info_request_count"`
}

// CoachMetrics is the per-coach row produced by the aggregator.
type CoachMetrics struct {
	CoachID   string                   `json:"coach_id"`
	CoachName string                   `json:"coach_name"`
	Windows   map[Window]WindowMetrics `json:"windows"`
}

// Window returns the metrics for w, or the zero value if absent.
func (c CoachMetrics) Window(w Window) WindowMetrics {
	return c.Windows[w]
}

// Eligibility is the four-way (plus no data) eligibility label.
type Eligibility string

const (
	EligibilityGood            Eligibility = "good"
	EligibilityModerate        Eligibility = "moderate"
	EligibilityExcludeNabeller Eligibility = "exclude_nabeller"
	EligibilityExclude         Eligibility = "exclude"
	EligibilityNoData          Eligibility = "no_data"
)

// Eligibilities lists the labels in sort priority.
var Eligibilities = []Eligibility{
	EligibilityGood,
	EligibilityModerate,
	EligibilityExcludeNabeller,
	EligibilityExclude,
	EligibilityNoData,
}

// Priority returns the sort rank of the label (lower sorts first).
func (e Eligibility) Priority() int {
	for i, l := range Eligibilities {
		if l == e {
			return i
		}
	}
	return len(Eligibilities)
}

// Exportable reports whether coaches with this label go to the lead pool.
func (e Eligibility) Exportable() bool {
	return e == EligibilityGood || e == EligibilityModerate
}

// EligibilityResult is a scored coach row. P50Smoothed1M is the run-level
// threshold, repeated on every row.
type EligibilityResult struct {
	CoachMetrics
	Eligibility   Eligibility `json:"eligibility"`
	P50Smoothed1M float64     `json:"p50_smoothed_1m"`
}

// WeeklyBucket aggregates one coach's deals created in one ISO week.
type WeeklyBucket struct {
	CoachID           string    `json:"coach_id"`
	CoachName         string    `json:"coach_name"`
	WeekStart         time.Time `json:"week_start"`
	DealCount         int       `json:"deal_count"`
	WonCount          int       `json:"won_count"`
	LostCount         int       `json:"lost_count"`
	OpenCount         int       `json:"open_count"`
	WonRateWeek       float64   `json:"won_rate_week"`
	NabellerCountWeek int       `json:"nabeller_count_week"`
	NabellerPctWeek   float64   `json:"nabeller_pct_week"`
	Rolling4WRate     float64   `json:"rolling_4w_rate"`
}

// Percent returns part/total*100, or 0 when total is zero.
func Percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// Round1 rounds the exact binary value of v to one decimal place, ties to
// even, so 6.25 becomes 6.2 and 0.15 becomes 0.1.
func Round1(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 1, 64), 64)
	return r
}
