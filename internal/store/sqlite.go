package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/nfp-revisions/internal/table"
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS dataset_rows (
	dataset  TEXT NOT NULL,
	obs_date TEXT NOT NULL,
	PRIMARY KEY (dataset, obs_date)
);

CREATE TABLE IF NOT EXISTS dataset_columns (
	dataset  TEXT NOT NULL,
	name     TEXT NOT NULL,
	kind     TEXT NOT NULL,
	position INTEGER NOT NULL,
	PRIMARY KEY (dataset, name)
);

CREATE TABLE IF NOT EXISTS dataset_cells (
	dataset  TEXT NOT NULL,
	obs_date TEXT NOT NULL,
	name     TEXT NOT NULL,
	num      REAL,
	txt      TEXT,
	flag     INTEGER,
	PRIMARY KEY (dataset, obs_date, name)
);

CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	command      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	summary      TEXT,
	error        TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save replaces every row, column and cell of the dataset in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, dataset string, t *table.Table) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, tbl := range []string{"dataset_cells", "dataset_columns", "dataset_rows"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+tbl+` WHERE dataset = ?`, dataset); err != nil {
			return eris.Wrapf(err, "sqlite: clear %s", tbl)
		}
	}

	rowStmt, err := tx.PrepareContext(ctx, `INSERT INTO dataset_rows (dataset, obs_date) VALUES (?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare rows")
	}
	defer rowStmt.Close() //nolint:errcheck
	for _, d := range t.Dates() {
		if _, err := rowStmt.ExecContext(ctx, dataset, table.FormatDate(d)); err != nil {
			return eris.Wrapf(err, "sqlite: insert row %s", table.FormatDate(d))
		}
	}

	defs, cells := explode(t)
	for pos, d := range defs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dataset_columns (dataset, name, kind, position) VALUES (?, ?, ?, ?)`,
			dataset, d.Name, string(d.Kind), pos,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert column %s", d.Name)
		}
	}

	cellStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dataset_cells (dataset, obs_date, name, num, txt, flag) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare cells")
	}
	defer cellStmt.Close() //nolint:errcheck
	for _, c := range cells {
		if _, err := cellStmt.ExecContext(ctx, dataset, table.FormatDate(c.Date), c.Name, c.Num, c.Txt, c.Flag); err != nil {
			return eris.Wrapf(err, "sqlite: insert cell %s/%s", table.FormatDate(c.Date), c.Name)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save")
}

// Load reads a dataset back in month order. It returns ErrNotFound when
// nothing was ever saved under the name.
func (s *SQLiteStore) Load(ctx context.Context, dataset string) (*table.Table, error) {
	defs, err := s.loadColumns(ctx, dataset)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT obs_date FROM dataset_rows WHERE dataset = ? ORDER BY obs_date`, dataset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query rows")
	}
	var dates []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan row")
		}
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: parse row date %q", raw)
		}
		dates = append(dates, d)
	}
	rows.Close() //nolint:errcheck
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate rows")
	}

	if len(defs) == 0 && len(dates) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: dataset %s", dataset)
	}

	cells, err := s.loadCells(ctx, dataset)
	if err != nil {
		return nil, err
	}
	return assemble(dates, defs, cells)
}

func (s *SQLiteStore) loadColumns(ctx context.Context, dataset string) ([]columnDef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, kind FROM dataset_columns WHERE dataset = ? ORDER BY position`, dataset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query columns")
	}
	defer rows.Close() //nolint:errcheck

	var defs []columnDef
	for rows.Next() {
		var d columnDef
		var kind string
		if err := rows.Scan(&d.Name, &kind); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan column")
		}
		d.Kind = table.Kind(kind)
		defs = append(defs, d)
	}
	return defs, eris.Wrap(rows.Err(), "sqlite: iterate columns")
}

func (s *SQLiteStore) loadCells(ctx context.Context, dataset string) ([]cell, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT obs_date, name, num, txt, flag FROM dataset_cells WHERE dataset = ?`, dataset)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query cells")
	}
	defer rows.Close() //nolint:errcheck

	var cells []cell
	for rows.Next() {
		var c cell
		var raw string
		if err := rows.Scan(&raw, &c.Name, &c.Num, &c.Txt, &c.Flag); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cell")
		}
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse cell date %q", raw)
		}
		c.Date = d
		cells = append(cells, c)
	}
	return cells, eris.Wrap(rows.Err(), "sqlite: iterate cells")
}

func (s *SQLiteStore) StartRun(ctx context.Context, id, command string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, command, status, started_at) VALUES (?, ?, ?, ?)`,
		id, command, string(RunStatusRunning), formatTime(time.Now()),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", id)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, summary json.RawMessage) error {
	var text sql.Null[string]
	if len(summary) > 0 {
		text = sql.Null[string]{V: string(summary), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, summary = ? WHERE id = ?`,
		string(RunStatusComplete), formatTime(time.Now()), text, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) FailRun(ctx context.Context, id string, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(RunStatusFailed), formatTime(time.Now()), errMsg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", id)
	}
	return checkRowsAffected(res, "run", id)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, command, status, started_at, completed_at, summary, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		var (
			r         Run
			status    string
			started   string
			completed sql.Null[string]
			summary   sql.Null[string]
			errText   sql.Null[string]
		)
		if err := rows.Scan(&r.ID, &r.Command, &status, &started, &completed, &summary, &errText); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = RunStatus(status)
		if r.StartedAt, err = time.Parse(runTimeLayout, started); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse started_at for run %s", r.ID)
		}
		if completed.Valid {
			t, err := time.Parse(runTimeLayout, completed.V)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse completed_at for run %s", r.ID)
			}
			r.CompletedAt = &t
		}
		if summary.Valid {
			r.Summary = json.RawMessage(summary.V)
		}
		r.Error = errText.V
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// runTimeLayout is fixed width so started_at sorts lexically.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(runTimeLayout)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}
