package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/coach-cli/internal/db"
	"github.com/sells-group/coach-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. It lets several operators
// share run history.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns, minConns := int32(4), int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL DEFAULT 'fetching',
	deal_count    INTEGER NOT NULL DEFAULT 0,
	dropped_count INTEGER NOT NULL DEFAULT 0,
	coach_count   INTEGER NOT NULL DEFAULT 0,
	p50           DOUBLE PRECISION NOT NULL DEFAULT 0,
	selected      BOOLEAN NOT NULL DEFAULT false,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_selected ON runs(selected) WHERE selected;
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS coach_results (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	coach_id    TEXT NOT NULL,
	position    INTEGER NOT NULL,
	eligibility TEXT NOT NULL,
	data        JSONB NOT NULL,
	PRIMARY KEY (run_id, coach_id)
);

CREATE TABLE IF NOT EXISTS run_deals (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	deal_id     TEXT NOT NULL,
	coach_id    TEXT NOT NULL,
	pipeline_id TEXT NOT NULL,
	stage_id    TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	is_won      BOOLEAN NOT NULL DEFAULT false,
	is_lost     BOOLEAN NOT NULL DEFAULT false,
	class       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_deals_run_id ON run_deals(run_id);

CREATE TABLE IF NOT EXISTS exports (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	sheet_id   TEXT NOT NULL,
	tab        TEXT NOT NULL,
	written    INTEGER NOT NULL,
	skipped    INTEGER NOT NULL,
	dry_run    BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_exports_run_id ON exports(run_id);

CREATE TABLE IF NOT EXISTS fetch_cache (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fetch_cache_expires_at ON fetch_cache(expires_at);
`

var (
	resultsTable = db.ReplaceConfig{
		Table:     "coach_results",
		KeyColumn: "run_id",
		Columns:   []string{"run_id", "coach_id", "position", "eligibility", "data"},
	}
	dealsTable = db.ReplaceConfig{
		Table:     "run_deals",
		KeyColumn: "run_id",
		Columns:   []string{"run_id", "position", "deal_id", "coach_id", "pipeline_id", "stage_id", "created_at", "is_won", "is_lost", "class"},
	}
)

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, runID string) (*model.Run, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		runID, string(model.RunStatusFetching), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert run %s", runID)
	}
	return &model.Run{ID: runID, Status: model.RunStatusFetching, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, sum model.RunSummary) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, deal_count = $2, dropped_count = $3, coach_count = $4, p50 = $5, error = '', updated_at = $6
		 WHERE id = $7`,
		string(model.RunStatusComplete), sum.DealCount, sum.DroppedCount, sum.CoachCount, sum.P50, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(model.RunStatusFailed), errString(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

const pgRunColumns = `id, status, deal_count, dropped_count, coach_count, p50, selected, error, created_at, updated_at`

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	if err := row.Scan(&r.ID, &status, &r.DealCount, &r.DroppedCount, &r.CoachCount, &r.P50, &r.Selected, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + pgRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SelectRun(ctx context.Context, runID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin select run")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `UPDATE runs SET selected = false WHERE selected`); err != nil {
		return eris.Wrap(err, "postgres: clear selected run")
	}
	tag, err := tx.Exec(ctx, `UPDATE runs SET selected = true WHERE id = $1 AND status = $2`, runID, string(model.RunStatusComplete))
	if err != nil {
		return eris.Wrapf(err, "postgres: select run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "complete run %s", runID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit select run")
}

func (s *PostgresStore) SelectedRun(ctx context.Context) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM runs WHERE selected LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: selected run")
	}
	return r, nil
}

func (s *PostgresStore) replace(ctx context.Context, cfg db.ReplaceConfig, runID string, rows [][]any) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: begin replace %s", cfg.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := db.Replace(ctx, tx, cfg, runID, rows); err != nil {
		return err
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit %s", cfg.Table)
}

func (s *PostgresStore) SaveResults(ctx context.Context, runID string, results []model.EligibilityResult) error {
	rows := make([][]any, 0, len(results))
	for i, r := range results {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal result %s", r.CoachID)
		}
		rows = append(rows, []any{runID, r.CoachID, i, string(r.Eligibility), data})
	}
	return s.replace(ctx, resultsTable, runID, rows)
}

func (s *PostgresStore) LoadResults(ctx context.Context, runID string) ([]model.EligibilityResult, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM coach_results WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load results %s", runID)
	}
	defer rows.Close()

	var out []model.EligibilityResult
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		var r model.EligibilityResult
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load results iterate")
}

func (s *PostgresStore) SaveDeals(ctx context.Context, runID string, deals []model.Deal) error {
	rows := make([][]any, len(deals))
	for i, d := range deals {
		rows[i] = []any{runID, i, d.ID, d.CoachID, d.PipelineID, d.StageID, d.CreatedAt.UTC(), d.IsClosedWon, d.IsClosedLost, string(d.Class)}
	}
	return s.replace(ctx, dealsTable, runID, rows)
}

func (s *PostgresStore) LoadDeals(ctx context.Context, runID string) ([]model.Deal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT deal_id, coach_id, pipeline_id, stage_id, created_at, is_won, is_lost, class
		 FROM run_deals WHERE run_id = $1 ORDER BY position`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load deals %s", runID)
	}
	defer rows.Close()

	var out []model.Deal
	for rows.Next() {
		var d model.Deal
		var class string
		if err := rows.Scan(&d.ID, &d.CoachID, &d.PipelineID, &d.StageID, &d.CreatedAt, &d.IsClosedWon, &d.IsClosedLost, &class); err != nil {
			return nil, eris.Wrap(err, "postgres: scan deal")
		}
		d.CreatedAt = d.CreatedAt.UTC()
		d.Class = model.DealClass(class)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load deals iterate")
}

func (s *PostgresStore) RecordExport(ctx context.Context, rec model.ExportRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exports (id, run_id, sheet_id, tab, written, skipped, dry_run, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.RunID, rec.SheetID, rec.Tab, rec.Written, rec.Skipped, rec.DryRun, rec.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: record export")
}

func (s *PostgresStore) ListExports(ctx context.Context, runID string) ([]model.ExportRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, sheet_id, tab, written, skipped, dry_run, created_at
		 FROM exports WHERE run_id = $1 ORDER BY created_at DESC`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list exports %s", runID)
	}
	defer rows.Close()

	var out []model.ExportRecord
	for rows.Next() {
		var r model.ExportRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.SheetID, &r.Tab, &r.Written, &r.Skipped, &r.DryRun, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan export")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list exports iterate")
}

func (s *PostgresStore) GetCache(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM fetch_cache WHERE key = $1 AND expires_at > now()`, key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cache %s", key)
	}
	return data, nil
}

func (s *PostgresStore) SetCache(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fetch_cache (key, data, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, cached_at = EXCLUDED.cached_at, expires_at = EXCLUDED.expires_at`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrapf(err, "postgres: set cache %s", key)
}

func (s *PostgresStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fetch_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired cache")
	}
	return int(tag.RowsAffected()), nil
}
