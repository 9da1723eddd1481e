package weekly

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/coach-cli/internal/model"
)

// Alert kinds.
const (
	KindNabellerHigh = "nabeller_high"
	KindWonRateDrop  = "won_rate_drop"
)

// AlertParams holds the caller-supplied alert thresholds.
type AlertParams struct {
	NabellerThreshold float64 `json:"nabeller_threshold"`
	WonRateDrop       float64 `json:"won_rate_drop"`
	MinDealsWeek      int     `json:"min_deals_week"`
}

// DefaultAlertParams returns the monitor defaults.
func DefaultAlertParams() AlertParams {
	return AlertParams{NabellerThreshold: 20, WonRateDrop: 15, MinDealsWeek: 5}
}

// Alert flags one coach in the most recent week.
type Alert struct {
	CoachID         string    `json:"coach_id"`
	CoachName       string    `json:"coach_name"`
	WeekStart       time.Time `json:"week_start"`
	DealCount       int       `json:"deal_count"`
	WonRateWeek     float64   `json:"won_rate_week"`
	NabellerPctWeek float64   `json:"nabeller_pct_week"`
	Rolling4WRate   float64   `json:"rolling_4w_rate"`
	Kinds           []string  `json:"kinds"`
	Reasons         []string  `json:"reasons"`
}

// Reason joins the alert reasons with "; ".
func (a Alert) Reason() string {
	return strings.Join(a.Reasons, "; ")
}

// DetectAlerts evaluates the most recent week across all coaches. Coaches
// below MinDealsWeek deals that week are skipped. The nabeller and won rate
// conditions are independent and may both fire.
func DetectAlerts(buckets []model.WeeklyBucket, p AlertParams) []Alert {
	latest, ok := Latest(buckets)
	if !ok {
		return nil
	}

	var alerts []Alert
	for _, b := range buckets {
		if !b.WeekStart.Equal(latest) || b.DealCount < p.MinDealsWeek {
			continue
		}
		a := Alert{
			CoachID:         b.CoachID,
			CoachName:       b.CoachName,
			WeekStart:       b.WeekStart,
			DealCount:       b.DealCount,
			WonRateWeek:     b.WonRateWeek,
			NabellerPctWeek: b.NabellerPctWeek,
			Rolling4WRate:   b.Rolling4WRate,
		}
		if b.NabellerPctWeek > p.NabellerThreshold {
			a.Kinds = append(a.Kinds, KindNabellerHigh)
			a.Reasons = append(a.Reasons, fmt.Sprintf("Nabeller %.1f%% > %g%%", b.NabellerPctWeek, p.NabellerThreshold))
		}
		if b.WonRateWeek < b.Rolling4WRate-p.WonRateDrop {
			a.Kinds = append(a.Kinds, KindWonRateDrop)
			a.Reasons = append(a.Reasons, fmt.Sprintf("Won rate %.1f%% < 4w avg (%.1f%%) - %g%%", b.WonRateWeek, b.Rolling4WRate, p.WonRateDrop))
		}
		if len(a.Reasons) > 0 {
			alerts = append(alerts, a)
		}
	}
	return alerts
}
