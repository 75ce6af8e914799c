package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/nfp-revisions/internal/db"
	"github.com/sells-group/nfp-revisions/internal/table"
)

// PostgresStore implements Store using pgxpool.
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

	maxConns := int32(4)
	minConns := int32(1)
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
CREATE SCHEMA IF NOT EXISTS nfp;

CREATE TABLE IF NOT EXISTS nfp.dataset_rows (
	dataset  TEXT NOT NULL,
	obs_date DATE NOT NULL,
	PRIMARY KEY (dataset, obs_date)
);

CREATE TABLE IF NOT EXISTS nfp.dataset_columns (
	dataset  TEXT NOT NULL,
	name     TEXT NOT NULL,
	kind     TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (dataset, name)
);

CREATE TABLE IF NOT EXISTS nfp.dataset_cells (
	dataset  TEXT NOT NULL,
	obs_date DATE NOT NULL,
	name     TEXT NOT NULL,
	num      DOUBLE PRECISION,
	txt      TEXT,
	flag     BOOLEAN,
	PRIMARY KEY (dataset, obs_date, name)
);

CREATE TABLE IF NOT EXISTS nfp.runs (
	id           TEXT PRIMARY KEY,
	command      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	summary      JSONB,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON nfp.runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
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

// Save replaces the dataset's rows, columns and cells via COPY in one transaction.
func (s *PostgresStore) Save(ctx context.Context, dataset string, t *table.Table) error {
	defs, cells := explode(t)

	rowData := make([][]any, 0, t.Len())
	for _, d := range t.Dates() {
		rowData = append(rowData, []any{dataset, d})
	}
	colData := make([][]any, 0, len(defs))
	for pos, d := range defs {
		colData = append(colData, []any{dataset, d.Name, string(d.Kind), int32(pos)})
	}
	cellData := make([][]any, 0, len(cells))
	for _, c := range cells {
		cellData = append(cellData, []any{dataset, c.Date, c.Name, c.Num, c.Txt, c.Flag})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	parts := []struct {
		cfg  db.ReplaceConfig
		rows [][]any
	}{
		{db.ReplaceConfig{Table: "nfp.dataset_rows", Columns: []string{"dataset", "obs_date"}, ScopeCol: "dataset", ScopeVal: dataset}, rowData},
		{db.ReplaceConfig{Table: "nfp.dataset_columns", Columns: []string{"dataset", "name", "kind", "position"}, ScopeCol: "dataset", ScopeVal: dataset}, colData},
		{db.ReplaceConfig{Table: "nfp.dataset_cells", Columns: []string{"dataset", "obs_date", "name", "num", "txt", "flag"}, ScopeCol: "dataset", ScopeVal: dataset}, cellData},
	}
	for _, p := range parts {
		if _, err := db.ReplaceAll(ctx, tx, p.cfg, p.rows); err != nil {
			return eris.Wrapf(err, "postgres: save %s", dataset)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save")
}

// Load reads a dataset in month order, or returns ErrNotFound.
func (s *PostgresStore) Load(ctx context.Context, dataset string) (*table.Table, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, kind FROM nfp.dataset_columns WHERE dataset = $1 ORDER BY position`, dataset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query columns")
	}
	defs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (columnDef, error) {
		var d columnDef
		var kind string
		err := row.Scan(&d.Name, &kind)
		d.Kind = table.Kind(kind)
		return d, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan columns")
	}

	rows, err = s.pool.Query(ctx,
		`SELECT obs_date FROM nfp.dataset_rows WHERE dataset = $1 ORDER BY obs_date`, dataset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query rows")
	}
	dates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (time.Time, error) {
		var d time.Time
		err := row.Scan(&d)
		return table.MonthStart(d), err
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan rows")
	}

	if len(defs) == 0 && len(dates) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres: dataset %s", dataset)
	}

	rows, err = s.pool.Query(ctx,
		`SELECT obs_date, name, num, txt, flag FROM nfp.dataset_cells WHERE dataset = $1`, dataset)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query cells")
	}
	cells, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cell, error) {
		var c cell
		err := row.Scan(&c.Date, &c.Name, &c.Num, &c.Txt, &c.Flag)
		c.Date = table.MonthStart(c.Date)
		return c, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan cells")
	}

	return assemble(dates, defs, cells)
}

func (s *PostgresStore) StartRun(ctx context.Context, id, command string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO nfp.runs (id, command, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, command, string(RunStatusRunning), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: insert run %s", id)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id string, summary json.RawMessage) error {
	var payload any
	if len(summary) > 0 {
		payload = []byte(summary)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE nfp.runs SET status = $1, completed_at = $2, summary = $3 WHERE id = $4`,
		string(RunStatusComplete), time.Now().UTC(), payload, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, id string, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE nfp.runs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		string(RunStatusFailed), time.Now().UTC(), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, command, status, started_at, completed_at, summary, error
		 FROM nfp.runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Run, error) {
		var (
			r       Run
			status  string
			summary []byte
			errText *string
		)
		if err := row.Scan(&r.ID, &r.Command, &status, &r.StartedAt, &r.CompletedAt, &summary, &errText); err != nil {
			return r, err
		}
		r.Status = RunStatus(status)
		if len(summary) > 0 {
			r.Summary = json.RawMessage(summary)
		}
		if errText != nil {
			r.Error = *errText
		}
		return r, nil
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(err, "postgres: scan runs")
	}
	return runs, nil
}
