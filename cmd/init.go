package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"google.golang.org/api/option"

	"github.com/sells-group/coach-cli/internal/aggregate"
	"github.com/sells-group/coach-cli/internal/classify"
	"github.com/sells-group/coach-cli/internal/cloudstore"
	"github.com/sells-group/coach-cli/internal/config"
	"github.com/sells-group/coach-cli/internal/crm"
	"github.com/sells-group/coach-cli/internal/eligibility"
	"github.com/sells-group/coach-cli/internal/engine"
	"github.com/sells-group/coach-cli/internal/exclusion"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/resilience"
	"github.com/sells-group/coach-cli/internal/store"
	"github.com/sells-group/coach-cli/internal/weekly"
	"github.com/sells-group/coach-cli/pkg/hubspot"
	"github.com/sells-group/coach-cli/pkg/sheets"
)

// initStore opens and migrates the configured run store.
func initStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate(config.ModeStore); err != nil {
		return nil, err
	}

	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		if mkErr := os.MkdirAll(filepath.Dir(cfg.Store.SQLitePath), 0o755); mkErr != nil {
			return nil, eris.Wrap(mkErr, "create sqlite dir")
		}
		st, err = store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck,gosec
		return nil, err
	}
	return st, nil
}

func initHubSpot() hubspot.Client {
	h := cfg.HubSpot
	return hubspot.NewClient(h.Token,
		hubspot.WithBaseURL(h.BaseURL),
		hubspot.WithRateLimit(h.RateLimitRPS, h.RateLimitBurst),
		hubspot.WithRetry(resilience.FromRetryConfig(h.MaxRetries, h.InitialBackoffMs, h.MaxBackoffMs)),
		hubspot.WithBreaker(resilience.NewBreaker("hubspot", resilience.FromBreakerConfig(h.BreakerThreshold, h.BreakerResetSecs))),
	)
}

func initWorkflow(st store.Store) *crm.Workflow {
	return crm.NewWorkflow(initHubSpot(), st, crm.Config{
		ContactProperty: cfg.HubSpot.ContactProperty,
		ContactValue:    cfg.HubSpot.ContactValue,
		Concurrency:     cfg.HubSpot.Concurrency,
		CacheTTL:        time.Duration(cfg.HubSpot.CacheTTLHours) * time.Hour,
	})
}

func initSheets(ctx context.Context) (sheets.Client, error) {
	return sheets.NewClient(ctx, cfg.Export.CredentialsFile)
}

// initMirror returns nil when no bucket is configured.
func initMirror(ctx context.Context) (*cloudstore.Mirror, error) {
	if cfg.GCS.Bucket == "" {
		return nil, nil
	}
	var opts []option.ClientOption
	if cfg.GCS.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCS.CredentialsFile))
	}
	b, err := cloudstore.NewGCSBucket(ctx, cfg.GCS.Bucket, opts...)
	if err != nil {
		return nil, err
	}
	return cloudstore.NewMirror(b, cfg.GCS.Prefix), nil
}

func classifyRules(c config.EngineConfig) classify.Rules {
	return classify.Rules{
		NabellerPipelineID:     c.NabellerPipelineID,
		PausedStageID:          c.PausedStageID,
		PausedOverridesMapping: c.PausedOverridesMapping,
	}
}

func eligibilityParams(c config.EligibilityConfig) (eligibility.Params, error) {
	w, err := model.ParseWindow(c.Window)
	if err != nil {
		return eligibility.Params{}, err
	}
	p := eligibility.Params{
		Window:             w,
		PoolMinDeals:       c.PoolMinDeals,
		PoolMaxNabellerPct: c.PoolMaxNabellerPct,
		PoolTopPercent:     c.PoolTopPercent,
		ThresholdOverride:  c.ThresholdOverride,
		NabellerMaxPct:     c.NabellerMaxPct,
		GoodMinOpen:        c.GoodMinOpen,
		ModerateMinRate:    c.ModerateMinRate,
		ModerateMinOpen:    c.ModerateMinOpen,
		ModerateMaxOpen:    c.ModerateMaxOpen,
	}
	return p, p.Validate()
}

func engineOptions(c *config.Config) (engine.Options, error) {
	ep, err := eligibilityParams(c.Eligibility)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Rules: classifyRules(c.Engine),
		Aggregate: aggregate.Params{
			NabellerPipelineID: c.Engine.NabellerPipelineID,
			WarmRequestStages:  c.Engine.WarmRequestStages,
			InfoRequestStages:  c.Engine.InfoRequestStages,
		},
		Eligibility: ep,
		Weeks:       c.Engine.Weeks,
	}, nil
}

func alertParams(c config.MonitorConfig) weekly.AlertParams {
	return weekly.AlertParams{
		NabellerThreshold: c.NabellerThreshold,
		WonRateDrop:       c.WonRateDrop,
		MinDealsWeek:      c.MinDealsWeek,
	}
}

func loadExclusions(extraIDs []string) (*exclusion.Matcher, error) {
	l, err := exclusion.Load(cfg.Data.ExclusionsFile)
	if err != nil {
		return nil, err
	}
	if len(extraIDs) > 0 {
		l = l.Merge(exclusion.List{CoachIDs: extraIDs})
	}
	return l.Compile(), nil
}
