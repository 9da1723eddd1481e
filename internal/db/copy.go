package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into table using the COPY protocol.
func CopyFrom(ctx context.Context, c Copier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := c.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// ReplaceConfig names the partition of a table rewritten by Replace.
type ReplaceConfig struct {
	Table     string   // target table (e.g., "coach_results")
	KeyColumn string   // partition column (e.g., "run_id")
	Columns   []string // columns copied in, KeyColumn included
}

type replacer interface {
	Copier
	Execer
}

// Replace deletes every row of cfg.Table whose KeyColumn equals key and
// copies rows in. Run it inside a transaction so readers never see the gap.
func Replace(ctx context.Context, tx replacer, cfg ReplaceConfig, key string, rows [][]any) (int64, error) {
	del := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		pgx.Identifier{cfg.Table}.Sanitize(), pgx.Identifier{cfg.KeyColumn}.Sanitize())
	if _, err := tx.Exec(ctx, del, key); err != nil {
		return 0, eris.Wrapf(err, "db: clear %s for %s", cfg.Table, key)
	}
	return CopyFrom(ctx, tx, cfg.Table, cfg.Columns, rows)
}
