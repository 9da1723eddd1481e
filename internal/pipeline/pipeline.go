// Package pipeline runs the fetch-and-score workflow end to end: CRM fetch,
// stage mapping, scoring, artefact files and run bookkeeping in the store.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coach-cli/internal/classify"
	"github.com/sells-group/coach-cli/internal/cloudstore"
	"github.com/sells-group/coach-cli/internal/crm"
	"github.com/sells-group/coach-cli/internal/engine"
	"github.com/sells-group/coach-cli/internal/ingest"
	"github.com/sells-group/coach-cli/internal/model"
	"github.com/sells-group/coach-cli/internal/report"
	"github.com/sells-group/coach-cli/internal/store"
)

// Fetcher returns the CRM snapshot a run is computed from.
type Fetcher interface {
	Fetch(ctx context.Context, refresh crm.Refresh) (*crm.Snapshot, error)
}

// Options controls one run.
type Options struct {
	Engine  engine.Options
	Refresh crm.Refresh
	// Select marks the run as the selected run once it completes.
	Select bool
	// Upload mirrors the run directory when a mirror is configured.
	Upload bool
}

// Outcome summarises a finished run.
type Outcome struct {
	Run            *model.Run
	Dir            string
	MappingCreated bool
	Result         engine.Result
	Uploaded       []string
}

// Pipeline orchestrates runs against a store and a data directory.
type Pipeline struct {
	store   store.Store
	fetcher Fetcher
	mirror  *cloudstore.Mirror
	dataDir string
	now     func() time.Time
}

// New creates a Pipeline. fetcher may be nil for recalculation only and
// mirror may be nil.
func New(st store.Store, fetcher Fetcher, mirror *cloudstore.Mirror, dataDir string) *Pipeline {
	return &Pipeline{
		store:   st,
		fetcher: fetcher,
		mirror:  mirror,
		dataDir: dataDir,
		now:     time.Now,
	}
}

// RunDir returns the artefact directory of runID.
func (p *Pipeline) RunDir(runID string) string {
	return filepath.Join(p.dataDir, runID)
}

// MappingPath returns the shared stage mapping workbook.
func (p *Pipeline) MappingPath() string {
	return filepath.Join(p.dataDir, report.MappingFile)
}

// Run fetches CRM data, scores it and records a new run. A failure after the
// run record exists marks the run failed.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Outcome, error) {
	if p.fetcher == nil {
		return nil, eris.New("pipeline: no crm fetcher configured")
	}
	now := p.now()
	runID := model.NewRunID(now)
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", runID))

	run, err := p.store.CreateRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log.Info("pipeline: run started")

	out, err := p.run(ctx, run, now, opts, log)
	if err != nil {
		if failErr := p.store.FailRun(ctx, runID, err); failErr != nil {
			log.Warn("pipeline: failed to mark run failed", zap.Error(failErr))
		}
		log.Error("pipeline: run failed", zap.Error(err))
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) run(ctx context.Context, run *model.Run, now time.Time, opts Options, log *zap.Logger) (*Outcome, error) {
	dir := p.RunDir(run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s", dir)
	}

	var snap *crm.Snapshot
	if err := phase(log, "fetch", func() (err error) {
		snap, err = p.fetcher.Fetch(ctx, opts.Refresh)
		return err
	}); err != nil {
		return nil, err
	}

	deals, dropped := ingest.Deals(snap.Deals)
	stages := ingest.Stages(snap.Pipelines)
	names := ingest.OwnerNames(snap.Owners)

	if err := report.WriteEnums(filepath.Join(dir, report.EnumsFile), snap.Pipelines, ingest.Observe(snap.Deals)); err != nil {
		return nil, err
	}

	mapping, created, err := report.EnsureMapping(p.MappingPath(), stages, opts.Engine.Rules)
	if err != nil {
		return nil, err
	}

	if err := p.store.UpdateRunStatus(ctx, run.ID, model.RunStatusScoring); err != nil {
		log.Warn("pipeline: failed to update status", zap.Error(err))
	}

	out, err := p.score(ctx, run.ID, deals, dropped, names, mapping, now, opts, log)
	if err != nil {
		return nil, err
	}
	out.MappingCreated = created
	return out, nil
}

// Recalculate re-scores the deals stored for sourceRunID under the current
// mapping and options and records the result as a new run.
func (p *Pipeline) Recalculate(ctx context.Context, sourceRunID string, opts Options) (*Outcome, error) {
	src, err := p.store.GetRun(ctx, sourceRunID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: source run %s", sourceRunID)
	}
	if src.Status != model.RunStatusComplete {
		return nil, eris.Errorf("pipeline: source run %s is %s, not complete", sourceRunID, src.Status)
	}

	deals, err := p.store.LoadDeals(ctx, sourceRunID)
	if err != nil {
		return nil, err
	}
	names, err := p.Names(ctx, sourceRunID)
	if err != nil {
		return nil, err
	}

	entries, err := report.ReadMapping(p.MappingPath())
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read mapping (run mapping init or refresh first)")
	}
	mapping, err := classify.NewMapping(entries)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load mapping")
	}

	now := p.now()
	runID := model.NewRunID(now)
	if runID == sourceRunID {
		return nil, eris.Errorf("pipeline: run %s already exists, retry in a second", runID)
	}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", runID), zap.String("source_run_id", sourceRunID))

	if _, err := p.store.CreateRun(ctx, runID); err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	if err := p.store.UpdateRunStatus(ctx, runID, model.RunStatusScoring); err != nil {
		log.Warn("pipeline: failed to update status", zap.Error(err))
	}

	out, err := p.score(ctx, runID, deals, src.DroppedCount, names, mapping, now, opts, log)
	if err != nil {
		if failErr := p.store.FailRun(ctx, runID, err); failErr != nil {
			log.Warn("pipeline: failed to mark run failed", zap.Error(failErr))
		}
		return nil, err
	}
	return out, nil
}

// Names recovers coach names of a stored run from the Owners sheet, falling
// back to the names on the scored rows.
func (p *Pipeline) Names(ctx context.Context, runID string) (map[string]string, error) {
	names := make(map[string]string)
	rows, err := p.store.LoadResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.CoachName != "" && r.CoachName != model.UnknownCoach {
			names[r.CoachID] = r.CoachName
		}
	}
	owners, err := report.ReadOwners(filepath.Join(p.RunDir(runID), report.EligibilityFile))
	if err != nil {
		zap.L().Debug("pipeline: no owners sheet", zap.String("run_id", runID), zap.Error(err))
		return names, nil
	}
	for id, n := range owners {
		names[id] = n
	}
	return names, nil
}

func (p *Pipeline) score(ctx context.Context, runID string, deals []model.Deal, dropped int, names map[string]string, mapping *classify.Mapping, now time.Time, opts Options, log *zap.Logger) (*Outcome, error) {
	dir := p.RunDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s", dir)
	}

	eo := opts.Engine
	eo.Names = names
	var res engine.Result
	_ = phase(log, "score", func() error {
		res = engine.Run(deals, mapping, now, eo)
		return nil
	})

	if err := phase(log, "write", func() error {
		if err := report.WriteEligibility(filepath.Join(dir, report.EligibilityFile), res.Scored.Rows, res.Summary, names); err != nil {
			return err
		}
		return report.WriteDealsFlat(filepath.Join(dir, report.DealsFlatFile), res.Deals, names)
	}); err != nil {
		return nil, err
	}

	if err := phase(log, "persist", func() error {
		if err := p.store.SaveDeals(ctx, runID, res.Deals); err != nil {
			return err
		}
		return p.store.SaveResults(ctx, runID, res.Scored.Rows)
	}); err != nil {
		return nil, err
	}

	sum := model.RunSummary{
		DealCount:    len(deals),
		DroppedCount: dropped,
		CoachCount:   len(res.Scored.Rows),
		P50:          res.Scored.Threshold,
	}
	if err := p.store.CompleteRun(ctx, runID, sum); err != nil {
		return nil, eris.Wrap(err, "pipeline: complete run")
	}
	if opts.Select {
		if err := p.store.SelectRun(ctx, runID); err != nil {
			return nil, eris.Wrap(err, "pipeline: select run")
		}
	}

	out := &Outcome{Dir: dir, Result: res}
	if opts.Upload && p.mirror != nil {
		// The run is complete locally; a failed upload is reported, not fatal.
		keys, err := p.mirror.UploadRun(ctx, runID, dir)
		if err != nil {
			log.Warn("pipeline: upload failed", zap.Error(err))
		}
		out.Uploaded = keys
	}

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	out.Run = run
	log.Info("pipeline: run complete",
		zap.Int("deals", sum.DealCount),
		zap.Int("dropped", sum.DroppedCount),
		zap.Int("coaches", sum.CoachCount),
		zap.Float64("p50_smoothed_1m", sum.P50),
	)
	return out, nil
}

// phase runs fn and logs its duration and outcome.
func phase(log *zap.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	dur := time.Since(start).Milliseconds()
	if err != nil {
		log.Error("pipeline: phase failed", zap.String("phase", name), zap.Int64("duration_ms", dur), zap.Error(err))
		return err
	}
	log.Info("pipeline: phase complete", zap.String("phase", name), zap.Int64("duration_ms", dur))
	return nil
}
