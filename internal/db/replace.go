// Package db provides shared Postgres helpers for replacing a dataset slice in one transaction.
package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the helpers and stores need. pgxmock pools satisfy it.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// ReplaceConfig describes which slice of a table to replace.
type ReplaceConfig struct {
	Table    string   // target table (e.g., "nfp.dataset_cells")
	Columns  []string // all columns being inserted
	ScopeCol string   // rows with ScopeCol = ScopeVal are deleted before the copy
	ScopeVal any
}

// ReplaceAll deletes the scoped rows and COPYs the new rows in their place,
// inside tx. The caller owns commit and rollback.
func ReplaceAll(ctx context.Context, tx pgx.Tx, cfg ReplaceConfig, rows [][]any) (int64, error) {
	if len(cfg.Columns) == 0 {
		return 0, eris.New("db: replace: no columns specified")
	}
	if cfg.ScopeCol == "" {
		return 0, eris.New("db: replace: no scope column specified")
	}

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = $1",
		sanitizeTable(cfg.Table),
		pgx.Identifier{cfg.ScopeCol}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, deleteSQL, cfg.ScopeVal); err != nil {
		return 0, eris.Wrapf(err, "db: replace: delete from %s", cfg.Table)
	}

	if len(rows) == 0 {
		return 0, nil
	}

	n, err := tx.CopyFrom(ctx, identifier(cfg.Table), cfg.Columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: replace: COPY INTO %s", cfg.Table)
	}
	return n, nil
}

// identifier splits a schema-qualified table name into a pgx.Identifier.
func identifier(table string) pgx.Identifier {
	return pgx.Identifier(strings.SplitN(table, ".", 2))
}

// sanitizeTable handles schema-qualified table names like "nfp.dataset_cells".
func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}
