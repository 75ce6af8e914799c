// Package store persists the observation table and the run history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/nfp-revisions/internal/table"
)

// ErrNotFound is returned by Load when the dataset has never been saved.
var ErrNotFound = eris.New("store: dataset not found")

// TableStore reads and fully rewrites a named dataset.
type TableStore interface {
	Load(ctx context.Context, dataset string) (*table.Table, error)
	Save(ctx context.Context, dataset string, t *table.Table) error
}

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one recorded CLI invocation.
type Run struct {
	ID          string          `json:"id"`
	Command     string          `json:"command"`
	Status      RunStatus       `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// RunLog records run history.
type RunLog interface {
	StartRun(ctx context.Context, id, command string) error
	CompleteRun(ctx context.Context, id string, summary json.RawMessage) error
	FailRun(ctx context.Context, id string, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}

// Store is a full persistence backend.
type Store interface {
	TableStore
	RunLog
	Migrate(ctx context.Context) error
	Close() error
}

// defaultRunLimit caps ListRuns when no limit is given.
const defaultRunLimit = 50

// columnDef describes one persisted column in table order.
type columnDef struct {
	Name string     `json:"name"`
	Kind table.Kind `json:"kind"`
}

// cell is one present value in the narrow cell layout. Missing cells are not stored.
type cell struct {
	Date time.Time
	Name string
	Num  sql.Null[float64]
	Txt  sql.Null[string]
	Flag sql.Null[bool]
}

// explode flattens a table into its column definitions and present cells.
func explode(t *table.Table) ([]columnDef, []cell) {
	names := t.Columns()
	defs := make([]columnDef, 0, len(names))
	var cells []cell
	for _, name := range names {
		c, _ := t.Column(name)
		defs = append(defs, columnDef{Name: name, Kind: c.Kind})
		for i := 0; i < t.Len(); i++ {
			if !c.Valid(i) {
				continue
			}
			cl := cell{Date: t.Date(i), Name: name}
			switch c.Kind {
			case table.KindFloat:
				cl.Num = c.Floats[i]
			case table.KindBool:
				cl.Flag = c.Bools[i]
			default:
				cl.Txt = c.Strings[i]
			}
			cells = append(cells, cl)
		}
	}
	return defs, cells
}

// assemble rebuilds a table from persisted parts. dates must be sorted.
func assemble(dates []time.Time, defs []columnDef, cells []cell) (*table.Table, error) {
	t := table.New(dates)
	rowOf := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		rowOf[d] = i
	}

	floats := make(map[string][]table.Float)
	bools := make(map[string][]sql.Null[bool])
	strs := make(map[string][]sql.Null[string])
	kinds := make(map[string]table.Kind, len(defs))
	for _, d := range defs {
		kinds[d.Name] = d.Kind
		switch d.Kind {
		case table.KindFloat:
			floats[d.Name] = make([]table.Float, len(dates))
		case table.KindBool:
			bools[d.Name] = make([]sql.Null[bool], len(dates))
		default:
			strs[d.Name] = make([]sql.Null[string], len(dates))
		}
	}

	for _, c := range cells {
		i, ok := rowOf[c.Date]
		if !ok {
			return nil, eris.Errorf("store: cell %s references unknown month %s", c.Name, table.FormatDate(c.Date))
		}
		switch kinds[c.Name] {
		case table.KindFloat:
			floats[c.Name][i] = c.Num
		case table.KindBool:
			bools[c.Name][i] = c.Flag
		case table.KindString:
			strs[c.Name][i] = c.Txt
		default:
			return nil, eris.Errorf("store: cell references unknown column %s", c.Name)
		}
	}

	for _, d := range defs {
		var err error
		switch d.Kind {
		case table.KindFloat:
			err = t.SetFloats(d.Name, floats[d.Name])
		case table.KindBool:
			err = t.SetBools(d.Name, bools[d.Name])
		default:
			err = t.SetStrings(d.Name, strs[d.Name])
		}
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}
