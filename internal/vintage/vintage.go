// Package vintage loads the persisted observation table and keeps its month
// index and release vintages consistent.
package vintage

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/store"
	"github.com/sells-group/nfp-revisions/internal/table"
)

// Fatal input conditions. Any of these aborts a run.
var (
	ErrInputNotFound  = eris.New("vintage: input not found")
	ErrMissingColumn  = table.ErrMissingColumn
	ErrEmptyDataset   = eris.New("vintage: empty dataset")
	ErrDuplicateMonth = eris.New("vintage: duplicate month")
)

// Vintage column names in publication order.
const (
	Release1 = "release1"
	Release2 = "release2"
	Release3 = "release3"
	Final    = "final"
)

// Releases lists the monthly release vintages in publication order.
var Releases = []string{Release1, Release2, Release3}

// Load reads dataset from ts and normalizes it.
func Load(ctx context.Context, ts store.TableStore, dataset string) (*table.Table, error) {
	t, err := ts.Load(ctx, dataset)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Wrapf(ErrInputNotFound, "dataset %s", dataset)
		}
		return nil, eris.Wrapf(err, "vintage: load %s", dataset)
	}
	if err := Normalize(t); err != nil {
		return nil, eris.Wrapf(err, "vintage: dataset %s", dataset)
	}
	return t, nil
}

// Normalize moves every date to its month start and sorts ascending. Two rows
// landing on the same month is an error.
func Normalize(t *table.Table) error {
	if t.Len() == 0 {
		return ErrEmptyDataset
	}
	seen := make(map[int64]int, t.Len())
	for i := range t.Len() {
		m := table.MonthStart(t.Date(i))
		if j, dup := seen[m.Unix()]; dup {
			return eris.Wrapf(ErrDuplicateMonth, "rows %d and %d are both %s", j+1, i+1, table.FormatDate(m))
		}
		seen[m.Unix()] = i
		t.SetDate(i, m)
	}
	t.SortByDate()
	return nil
}

// RequireColumns returns ErrMissingColumn naming the first absent column.
func RequireColumns(t *table.Table, names ...string) error {
	for _, n := range names {
		if !t.Has(n) {
			return eris.Wrapf(ErrMissingColumn, "column %q", n)
		}
	}
	return nil
}

// Merger combines the benchmark series with BLS release vintages.
type Merger struct {
	log *zap.Logger
}

// NewMerger creates a Merger.
func NewMerger(log *zap.Logger) *Merger {
	return &Merger{log: log.With(zap.String("component", "vintage_merge"))}
}

// levelThreshold marks a release column reported in persons rather than thousands.
const levelThreshold = 10000

// Merge outer-joins final (which must carry a final column) with releases.
// releases may be nil. A release column whose maximum exceeds 10000 is taken
// to be in persons and divided by 1000.
func (m *Merger) Merge(final, releases *table.Table) (*table.Table, error) {
	if err := RequireColumns(final, Final); err != nil {
		return nil, err
	}
	base := final.Clone()
	if err := Normalize(base); err != nil {
		return nil, eris.Wrap(err, "vintage: final series")
	}
	if releases == nil || releases.Len() == 0 {
		m.log.Warn("no release data, merged table carries the final series only")
		return base, nil
	}

	rel := releases.Clone()
	if err := Normalize(rel); err != nil {
		return nil, eris.Wrap(err, "vintage: releases")
	}
	for _, name := range Releases {
		vals := rel.Floats(name)
		if vals == nil {
			continue
		}
		if maxOf(vals) > levelThreshold {
			for i := range vals {
				if vals[i].Valid {
					vals[i].V /= 1000
				}
			}
			if err := rel.SetFloats(name, vals); err != nil {
				return nil, err
			}
			m.log.Info("converted release column to thousands", zap.String("column", name))
		}
	}

	out, err := OuterJoin(base, rel)
	if err != nil {
		return nil, err
	}
	m.log.Info("merged vintages", zap.Int("records", out.Len()))
	return out, nil
}

func maxOf(vals []table.Float) float64 {
	found := false
	var hi float64
	for _, v := range vals {
		if v.Valid && (!found || v.V > hi) {
			hi, found = v.V, true
		}
	}
	return hi
}
