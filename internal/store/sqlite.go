package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/coach-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL DEFAULT 'fetching',
	deal_count    INTEGER NOT NULL DEFAULT 0,
	dropped_count INTEGER NOT NULL DEFAULT 0,
	coach_count   INTEGER NOT NULL DEFAULT 0,
	p50           REAL NOT NULL DEFAULT 0,
	selected      INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS coach_results (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	coach_id    TEXT NOT NULL,
	position    INTEGER NOT NULL,
	eligibility TEXT NOT NULL,
	data        TEXT NOT NULL,
	PRIMARY KEY (run_id, coach_id)
);

CREATE TABLE IF NOT EXISTS run_deals (
	run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	deal_id     TEXT NOT NULL,
	coach_id    TEXT NOT NULL,
	pipeline_id TEXT NOT NULL,
	stage_id    TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	is_won      INTEGER NOT NULL DEFAULT 0,
	is_lost     INTEGER NOT NULL DEFAULT 0,
	class       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS exports (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL,
	sheet_id   TEXT NOT NULL,
	tab        TEXT NOT NULL,
	written    INTEGER NOT NULL,
	skipped    INTEGER NOT NULL,
	dry_run    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS fetch_cache (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	cached_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_run_deals_run_id ON run_deals(run_id);
CREATE INDEX IF NOT EXISTS idx_exports_run_id ON exports(run_id);
CREATE INDEX IF NOT EXISTS idx_fetch_cache_expires_at ON fetch_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, runID string) (*model.Run, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		runID, string(model.RunStatusFetching), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert run %s", runID)
	}
	return &model.Run{ID: runID, Status: model.RunStatusFetching, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, sum model.RunSummary) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, deal_count = ?, dropped_count = ?, coach_count = ?, p50 = ?, error = '', updated_at = ?
		 WHERE id = ?`,
		string(model.RunStatusComplete), sum.DealCount, sum.DroppedCount, sum.CoachCount, sum.P50, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(model.RunStatusFailed), errString(cause), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const sqliteRunColumns = `id, status, deal_count, dropped_count, coach_count, p50, selected, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: run %s", runID)
	}
	return r, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SelectRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin select run")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET selected = 0 WHERE selected = 1`); err != nil {
		return eris.Wrap(err, "sqlite: clear selected run")
	}
	res, err := tx.ExecContext(ctx, `UPDATE runs SET selected = 1 WHERE id = ? AND status = ?`, runID, string(model.RunStatusComplete))
	if err != nil {
		return eris.Wrapf(err, "sqlite: select run %s", runID)
	}
	if err := checkRowsAffected(res, "complete run", runID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit select run")
}

func (s *SQLiteStore) SelectedRun(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE selected = 1 LIMIT 1`)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (s *SQLiteStore) SaveResults(ctx context.Context, runID string, rows []model.EligibilityResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save results")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM coach_results WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear results %s", runID)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO coach_results (run_id, coach_id, position, eligibility, data) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert result")
	}
	defer stmt.Close() //nolint:errcheck

	for i, r := range rows {
		data, err := json.Marshal(r)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal result %s", r.CoachID)
		}
		if _, err := stmt.ExecContext(ctx, runID, r.CoachID, i, string(r.Eligibility), string(data)); err != nil {
			return eris.Wrapf(err, "sqlite: insert result %s", r.CoachID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit results")
}

func (s *SQLiteStore) LoadResults(ctx context.Context, runID string) ([]model.EligibilityResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM coach_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load results %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EligibilityResult
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		var r model.EligibilityResult
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load results iterate")
}

func (s *SQLiteStore) SaveDeals(ctx context.Context, runID string, deals []model.Deal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save deals")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_deals WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear deals %s", runID)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO run_deals (run_id, deal_id, coach_id, pipeline_id, stage_id, created_at, is_won, is_lost, class)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert deal")
	}
	defer stmt.Close() //nolint:errcheck

	for _, d := range deals {
		if _, err := stmt.ExecContext(ctx, runID, d.ID, d.CoachID, d.PipelineID, d.StageID,
			d.CreatedAt.UTC(), d.IsClosedWon, d.IsClosedLost, string(d.Class)); err != nil {
			return eris.Wrapf(err, "sqlite: insert deal %s", d.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit deals")
}

func (s *SQLiteStore) LoadDeals(ctx context.Context, runID string) ([]model.Deal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT deal_id, coach_id, pipeline_id, stage_id, created_at, is_won, is_lost, class
		 FROM run_deals WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load deals %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Deal
	for rows.Next() {
		var d model.Deal
		var class string
		if err := rows.Scan(&d.ID, &d.CoachID, &d.PipelineID, &d.StageID, &d.CreatedAt, &d.IsClosedWon, &d.IsClosedLost, &class); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan deal")
		}
		d.CreatedAt = d.CreatedAt.UTC()
		d.Class = model.DealClass(class)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load deals iterate")
}

func (s *SQLiteStore) RecordExport(ctx context.Context, rec model.ExportRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exports (id, run_id, sheet_id, tab, written, skipped, dry_run, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.SheetID, rec.Tab, rec.Written, rec.Skipped, rec.DryRun, rec.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: record export")
}

func (s *SQLiteStore) ListExports(ctx context.Context, runID string) ([]model.ExportRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, sheet_id, tab, written, skipped, dry_run, created_at
		 FROM exports WHERE run_id = ? ORDER BY created_at DESC`, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list exports %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ExportRecord
	for rows.Next() {
		var r model.ExportRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.SheetID, &r.Tab, &r.Written, &r.Skipped, &r.DryRun, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan export")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list exports iterate")
}

func (s *SQLiteStore) GetCache(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM fetch_cache WHERE key = ? AND expires_at > ?`,
		key, time.Now().Unix(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cache %s", key)
	}
	return data, nil
}

func (s *SQLiteStore) SetCache(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fetch_cache (key, data, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at, expires_at = excluded.expires_at`,
		key, data, now.Unix(), now.Add(ttl).Unix(),
	)
	return eris.Wrapf(err, "sqlite: set cache %s", key)
}

func (s *SQLiteStore) DeleteExpiredCache(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fetch_cache WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	err := row.Scan(&r.ID, &status, &r.DealCount, &r.DroppedCount, &r.CoachCount, &r.P50, &r.Selected, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.Status = model.RunStatus(status)
	return &r, nil
}
