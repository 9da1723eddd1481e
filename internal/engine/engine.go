// Package engine composes classification, aggregation, eligibility and the
// weekly rollup into one pure scoring pass.
package engine

import (
	"time"

	"github.com/sells-group/coach-cli/internal/aggregate"
	"github.com/sells-group/coach-cli/internal/classify"
	"github.com/sells-group/coach-cli/internal/eligibility"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/weekly"
)

// Options configures one scoring pass.
type Options struct {
	Rules       classify.Rules
	Aggregate   aggregate.Params
	Eligibility eligibility.Params
	// Names maps coach ids to display names.
	Names map[string]string
	// Weeks is the weekly rollup horizon. Zero skips the rollup.
	Weeks int
}

// DefaultOptions returns production defaults with a 12 week rollup.
func DefaultOptions() Options {
	return Options{
		Rules:       classify.DefaultRules(),
		Aggregate:   aggregate.DefaultParams(),
		Eligibility: eligibility.DefaultParams(),
		Weeks:       12,
	}
}

// Result is the output of one scoring pass.
type Result struct {
	Deals   []model.Deal
	Metrics []model.CoachMetrics
	Scored  eligibility.Result
	Summary []classify.SummaryRow
	Weekly  []model.WeeklyBucket
}

// Run classifies deals against mapping, aggregates them relative to now and
// labels every coach. Identical inputs produce identical output.
func Run(deals []model.Deal, mapping *classify.Mapping, now time.Time, opts Options) Result {
	classified := classify.New(mapping, opts.Rules).ClassifyDeals(deals)

	metrics := aggregate.WithNames(aggregate.Aggregate(classified, now, opts.Aggregate), opts.Names)

	res := Result{
		Deals:   classified,
		Metrics: metrics,
		Scored:  eligibility.Classify(metrics, opts.Eligibility),
		Summary: classify.Summarize(classified),
	}
	if opts.Weeks > 0 {
		res.Weekly = weekly.Rollup(classified, now, opts.Weeks, weekly.Params{
			NabellerPipelineID: opts.Rules.NabellerPipelineID,
			Names:              opts.Names,
		})
	}
	return res
}
