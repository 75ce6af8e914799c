package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/nfp-revisions/internal/fetcher"
	"github.com/sells-group/nfp-revisions/internal/table"
)

// CSVStore keeps each dataset as <dir>/<dataset>.csv with its column kinds in
// <dir>/<dataset>.schema.json, and the run log as <dir>/runs.json. A dataset
// without a schema file has its kinds inferred on load.
type CSVStore struct {
	dir string
	mu  sync.Mutex
}

// NewCSV returns a store rooted at dir.
func NewCSV(dir string) *CSVStore {
	return &CSVStore{dir: dir}
}

func (s *CSVStore) Migrate(_ context.Context) error {
	return eris.Wrap(os.MkdirAll(s.dir, 0o755), "csv: create dir")
}

func (s *CSVStore) Close() error { return nil }

func (s *CSVStore) path(dataset string) string {
	return filepath.Join(s.dir, dataset+".csv")
}

func (s *CSVStore) schemaPath(dataset string) string {
	return filepath.Join(s.dir, dataset+".schema.json")
}

// Save writes the schema and the table, each atomically through a temp file
// and rename.
func (s *CSVStore) Save(_ context.Context, dataset string, t *table.Table) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrap(err, "csv: create dir")
	}
	defs, _ := explode(t)
	schema, err := json.MarshalIndent(defs, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "csv: encode schema %s", dataset)
	}
	if err := s.writeAtomic(s.schemaPath(dataset), func(f *os.File) error {
		_, err := f.Write(schema)
		return err
	}); err != nil {
		return eris.Wrapf(err, "csv: write schema %s", dataset)
	}
	return s.writeAtomic(s.path(dataset), func(f *os.File) error {
		w := csv.NewWriter(f)
		return eris.Wrapf(w.WriteAll(t.Records()), "csv: write %s", dataset)
	})
}

func (s *CSVStore) writeAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "csv: create temp")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := write(tmp); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "csv: close temp")
	}
	return eris.Wrap(os.Rename(tmp.Name(), path), "csv: rename")
}

// kinds reads the declared column kinds of dataset. A missing schema file
// yields nil.
func (s *CSVStore) kinds(dataset string) (map[string]table.Kind, error) {
	data, err := os.ReadFile(s.schemaPath(dataset))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "csv: read schema %s", dataset)
	}
	var defs []columnDef
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, eris.Wrapf(err, "csv: decode schema %s", dataset)
	}
	kinds := make(map[string]table.Kind, len(defs))
	for _, d := range defs {
		kinds[d.Name] = d.Kind
	}
	return kinds, nil
}

func (s *CSVStore) Load(ctx context.Context, dataset string) (*table.Table, error) {
	f, err := os.Open(s.path(dataset))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "csv: dataset %s", dataset)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open %s", dataset)
	}
	defer f.Close() //nolint:errcheck

	header, records, err := fetcher.ReadCSV(ctx, f)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: read %s", dataset)
	}
	kinds, err := s.kinds(dataset)
	if err != nil {
		return nil, err
	}
	t, err := table.FromRecordsWithKinds(header, records, table.DateColumn, kinds)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: parse %s", dataset)
	}
	return t, nil
}

func (s *CSVStore) runsPath() string { return filepath.Join(s.dir, "runs.json") }

func (s *CSVStore) readRuns() ([]Run, error) {
	data, err := os.ReadFile(s.runsPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "csv: read runs")
	}
	var runs []Run
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, eris.Wrap(err, "csv: decode runs")
	}
	return runs, nil
}

func (s *CSVStore) writeRuns(runs []Run) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return eris.Wrap(err, "csv: create dir")
	}
	data, err := json.MarshalIndent(runs, "", "  ")
	if err != nil {
		return eris.Wrap(err, "csv: encode runs")
	}
	return eris.Wrap(os.WriteFile(s.runsPath(), data, 0o644), "csv: write runs")
}

func (s *CSVStore) updateRun(id string, fn func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs, err := s.readRuns()
	if err != nil {
		return err
	}
	for i := range runs {
		if runs[i].ID == id {
			fn(&runs[i])
			return s.writeRuns(runs)
		}
	}
	return eris.Errorf("run not found: %s", id)
}

func (s *CSVStore) StartRun(_ context.Context, id, command string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs, err := s.readRuns()
	if err != nil {
		return err
	}
	runs = append(runs, Run{ID: id, Command: command, Status: RunStatusRunning, StartedAt: time.Now().UTC()})
	return s.writeRuns(runs)
}

func (s *CSVStore) CompleteRun(_ context.Context, id string, summary json.RawMessage) error {
	now := time.Now().UTC()
	return s.updateRun(id, func(r *Run) {
		r.Status = RunStatusComplete
		r.CompletedAt = &now
		r.Summary = summary
	})
}

func (s *CSVStore) FailRun(_ context.Context, id string, errMsg string) error {
	now := time.Now().UTC()
	return s.updateRun(id, func(r *Run) {
		r.Status = RunStatusFailed
		r.CompletedAt = &now
		r.Error = errMsg
	})
}

func (s *CSVStore) ListRuns(_ context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	s.mu.Lock()
	runs, err := s.readRuns()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	slices.Reverse(runs)
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
