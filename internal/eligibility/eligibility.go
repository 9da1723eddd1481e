// Package eligibility labels coaches against a population-relative win-rate
// threshold. The same parameterized function serves the default batch run
// and operator re-labeling with adjusted thresholds.
package eligibility

import (
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/coach-cli/internal/model"
)

// Params holds every threshold of the two-step threshold-then-tier
// algorithm. Zero values are not defaults; start from DefaultParams.
type Params struct {
	// Window selects which trailing window is scored.
	Window model.Window `json:"window"`

	// PoolMinDeals is the strict lower bound on deal count for a coach to
	// enter the threshold pool.
	PoolMinDeals int `json:"pool_min_deals"`
	// PoolMaxNabellerPct drops coaches above this nabeller share from the
	// pool. Nil disables the filter.
	PoolMaxNabellerPct *float64 `json:"pool_max_nabeller_pct,omitempty"`
	// PoolTopPercent keeps only the top X% of the pool by smoothed rate.
	// 0 or 100 disables the filter.
	PoolTopPercent float64 `json:"pool_top_percent"`
	// ThresholdOverride replaces the computed median when set.
	ThresholdOverride *float64 `json:"threshold_override,omitempty"`

	NabellerMaxPct  float64 `json:"nabeller_max_pct"`
	GoodMinOpen     int     `json:"good_min_open"`
	ModerateMinRate float64 `json:"moderate_min_rate"`
	ModerateMinOpen int     `json:"moderate_min_open"`
	ModerateMaxOpen int     `json:"moderate_max_open"`
}

// DefaultParams returns the batch scoring thresholds.
func DefaultParams() Params {
	return Params{
		Window:          model.Window1M,
		PoolMinDeals:    5,
		PoolTopPercent:  100,
		NabellerMaxPct:  20,
		GoodMinOpen:     5,
		ModerateMinRate: 20,
		ModerateMinOpen: 3,
		ModerateMaxOpen: 9,
	}
}

// Validate checks that the parameters describe a usable configuration.
func (p Params) Validate() error {
	var errs []string
	if p.Window.Days() == 0 {
		errs = append(errs, "window must be 1m, 3m or 6m")
	}
	if p.PoolMinDeals < 0 {
		errs = append(errs, "pool_min_deals must be >= 0")
	}
	if p.PoolTopPercent < 0 || p.PoolTopPercent > 100 {
		errs = append(errs, "pool_top_percent must be between 0 and 100")
	}
	if p.ModerateMinOpen > p.ModerateMaxOpen {
		errs = append(errs, "moderate_min_open must be <= moderate_max_open")
	}
	if p.GoodMinOpen < 0 || p.ModerateMinOpen < 0 {
		errs = append(errs, "open deal floors must be >= 0")
	}
	finite := []struct {
		name string
		v    *float64
	}{
		{"pool_top_percent", &p.PoolTopPercent},
		{"nabeller_max_pct", &p.NabellerMaxPct},
		{"moderate_min_rate", &p.ModerateMinRate},
		{"threshold", p.ThresholdOverride},
		{"pool_max_nabeller_pct", p.PoolMaxNabellerPct},
	}
	for _, f := range finite {
		if f.v != nil && (math.IsNaN(*f.v) || math.IsInf(*f.v, 0)) {
			errs = append(errs, f.name+" must be a finite number")
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("eligibility: invalid params: %v", errs)
	}
	return nil
}

// Result is one eligibility pass.
type Result struct {
	Threshold float64                   `json:"threshold"`
	PoolSize  int                       `json:"pool_size"`
	Rows      []model.EligibilityResult `json:"rows"`
}

// Counts returns the number of coaches per label.
func (r Result) Counts() map[model.Eligibility]int {
	out := make(map[model.Eligibility]int, len(model.Eligibilities))
	for _, row := range r.Rows {
		out[row.Eligibility]++
	}
	return out
}

// Pool returns the smoothed rates that qualify for the threshold.
func Pool(metrics []model.CoachMetrics, p Params) []float64 {
	var pool []float64
	for _, m := range metrics {
		w := m.Window(p.Window)
		if w.DealCount <= p.PoolMinDeals {
			continue
		}
		if p.PoolMaxNabellerPct != nil && w.NabellerPct > *p.PoolMaxNabellerPct {
			continue
		}
		pool = append(pool, w.SmoothedRate)
	}
	sort.Float64s(pool)

	if p.PoolTopPercent > 0 && p.PoolTopPercent < 100 && len(pool) > 0 {
		cut := Quantile(pool, 1-p.PoolTopPercent/100)
		kept := pool[:0:0]
		for _, v := range pool {
			if v >= cut {
				kept = append(kept, v)
			}
		}
		pool = kept
	}
	return pool
}

// Threshold returns the position-based median of a sorted pool: the element
// at index n/2. An empty pool yields 0.
func Threshold(sortedPool []float64) float64 {
	if len(sortedPool) == 0 {
		return 0
	}
	return sortedPool[len(sortedPool)/2]
}

// Quantile returns the linearly interpolated q-quantile of a sorted slice.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	q = math.Max(0, math.Min(1, q))
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

// Label assigns one coach window to exactly one label given threshold.
func Label(w model.WindowMetrics, threshold float64, p Params) model.Eligibility {
	switch {
	case w.DealCount == 0:
		return model.EligibilityNoData
	case w.NabellerPct > p.NabellerMaxPct:
		return model.EligibilityExcludeNabeller
	case w.SmoothedRate >= threshold && w.OpenCount >= p.GoodMinOpen:
		return model.EligibilityGood
	case w.SmoothedRate > p.ModerateMinRate && w.OpenCount >= p.ModerateMinOpen && w.OpenCount <= p.ModerateMaxOpen:
		return model.EligibilityModerate
	default:
		return model.EligibilityExclude
	}
}

// Classify computes the threshold and labels every coach. The input is not
// modified. Rows are ordered by label priority, then raw rate of the scored
// window descending, then coach id.
func Classify(metrics []model.CoachMetrics, p Params) Result {
	pool := Pool(metrics, p)
	threshold := Threshold(pool)
	if p.ThresholdOverride != nil {
		threshold = *p.ThresholdOverride
	}

	rows := make([]model.EligibilityResult, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, model.EligibilityResult{
			CoachMetrics:  m,
			Eligibility:   Label(m.Window(p.Window), threshold, p),
			P50Smoothed1M: model.Round1(threshold),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if pa, pb := a.Eligibility.Priority(), b.Eligibility.Priority(); pa != pb {
			return pa < pb
		}
		if ra, rb := a.Window(p.Window).RawRate, b.Window(p.Window).RawRate; ra != rb {
			return ra > rb
		}
		return a.CoachID < b.CoachID
	})

	return Result{Threshold: threshold, PoolSize: len(pool), Rows: rows}
}

// Exportable returns the good and moderate rows in order.
func Exportable(rows []model.EligibilityResult) []model.EligibilityResult {
	var out []model.EligibilityResult
	for _, r := range rows {
		if r.Eligibility.Exportable() {
			out = append(out, r)
		}
	}
	return out
}
