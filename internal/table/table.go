// Package table holds the month-keyed columnar observation table that every
// pipeline stage reads and extends.
package table

import (
	"database/sql"
	"slices"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// DateColumn is the key column name used by persisted datasets.
const DateColumn = "date"

// ErrMissingColumn is returned when a required column is absent.
var ErrMissingColumn = eris.New("table: missing column")

// Kind is the storage type of a column.
type Kind string

const (
	KindFloat  Kind = "float"
	KindBool   Kind = "bool"
	KindString Kind = "string"
)

// Float is an optional numeric cell. The zero value is missing.
type Float = sql.Null[float64]

// Some returns a present Float.
func Some(v float64) Float { return Float{V: v, Valid: true} }

// Column is one named, typed column. Exactly one of the slices is populated,
// matching Kind.
type Column struct {
	Name    string
	Kind    Kind
	Floats  []Float
	Bools   []sql.Null[bool]
	Strings []sql.Null[string]
}

func (c *Column) clone() *Column {
	return &Column{
		Name:    c.Name,
		Kind:    c.Kind,
		Floats:  slices.Clone(c.Floats),
		Bools:   slices.Clone(c.Bools),
		Strings: slices.Clone(c.Strings),
	}
}

// Valid reports whether row i holds a value.
func (c *Column) Valid(i int) bool {
	switch c.Kind {
	case KindFloat:
		return c.Floats[i].Valid
	case KindBool:
		return c.Bools[i].Valid
	default:
		return c.Strings[i].Valid
	}
}

// Table is a set of columns sharing one month index. Column order is
// preserved across updates so rewrites stay stable.
type Table struct {
	dates []time.Time
	cols  []*Column
	index map[string]int
}

// New creates an empty table over the given month index.
func New(dates []time.Time) *Table {
	return &Table{
		dates: slices.Clone(dates),
		index: make(map[string]int),
	}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.dates) }

// Dates returns a copy of the month index.
func (t *Table) Dates() []time.Time { return slices.Clone(t.dates) }

// Date returns the month of row i.
func (t *Table) Date(i int) time.Time { return t.dates[i] }

// SetDate replaces the month of row i.
func (t *Table) SetDate(i int, d time.Time) { t.dates[i] = d }

// Columns returns the column names in table order (the date key excluded).
func (t *Table) Columns() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.Name
	}
	return names
}

// Column returns the named column.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// Has reports whether the column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Floats returns a copy of a float column, or nil if it is absent or not numeric.
func (t *Table) Floats(name string) []Float {
	c, ok := t.Column(name)
	if !ok || c.Kind != KindFloat {
		return nil
	}
	return slices.Clone(c.Floats)
}

// Strings returns a copy of a string column, or nil.
func (t *Table) Strings(name string) []sql.Null[string] {
	c, ok := t.Column(name)
	if !ok || c.Kind != KindString {
		return nil
	}
	return slices.Clone(c.Strings)
}

// Bools returns a copy of a bool column, or nil.
func (t *Table) Bools(name string) []sql.Null[bool] {
	c, ok := t.Column(name)
	if !ok || c.Kind != KindBool {
		return nil
	}
	return slices.Clone(c.Bools)
}

// SetFloats adds or replaces a float column. An existing column keeps its position.
func (t *Table) SetFloats(name string, vals []Float) error {
	if err := t.checkLen(name, len(vals)); err != nil {
		return err
	}
	t.put(&Column{Name: name, Kind: KindFloat, Floats: slices.Clone(vals)})
	return nil
}

// SetBools adds or replaces a bool column.
func (t *Table) SetBools(name string, vals []sql.Null[bool]) error {
	if err := t.checkLen(name, len(vals)); err != nil {
		return err
	}
	t.put(&Column{Name: name, Kind: KindBool, Bools: slices.Clone(vals)})
	return nil
}

// SetStrings adds or replaces a string column.
func (t *Table) SetStrings(name string, vals []sql.Null[string]) error {
	if err := t.checkLen(name, len(vals)); err != nil {
		return err
	}
	t.put(&Column{Name: name, Kind: KindString, Strings: slices.Clone(vals)})
	return nil
}

// Drop removes a column if present.
func (t *Table) Drop(name string) {
	i, ok := t.index[name]
	if !ok {
		return
	}
	t.cols = slices.Delete(t.cols, i, i+1)
	t.reindex()
}

func (t *Table) checkLen(name string, n int) error {
	if name == "" || name == DateColumn {
		return eris.Errorf("table: invalid column name %q", name)
	}
	if n != len(t.dates) {
		return eris.Errorf("table: column %s has %d values, table has %d rows", name, n, len(t.dates))
	}
	return nil
}

func (t *Table) put(c *Column) {
	if i, ok := t.index[c.Name]; ok {
		t.cols[i] = c
		return
	}
	t.index[c.Name] = len(t.cols)
	t.cols = append(t.cols, c)
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.cols))
	for i, c := range t.cols {
		t.index[c.Name] = i
	}
}

// SortByDate orders rows ascending by month, moving every column with them.
func (t *Table) SortByDate() {
	perm := make([]int, len(t.dates))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool { return t.dates[perm[a]].Before(t.dates[perm[b]]) })

	t.dates = permute(t.dates, perm)
	for _, c := range t.cols {
		switch c.Kind {
		case KindFloat:
			c.Floats = permute(c.Floats, perm)
		case KindBool:
			c.Bools = permute(c.Bools, perm)
		default:
			c.Strings = permute(c.Strings, perm)
		}
	}
}

func permute[T any](in []T, perm []int) []T {
	out := make([]T, len(in))
	for i, p := range perm {
		out[i] = in[p]
	}
	return out
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := New(t.dates)
	for _, c := range t.cols {
		out.cols = append(out.cols, c.clone())
	}
	out.reindex()
	return out
}

// IndexOf returns the row for a month.
func (t *Table) IndexOf(month time.Time) (int, bool) {
	m := MonthStart(month)
	i := sort.Search(len(t.dates), func(i int) bool { return !t.dates[i].Before(m) })
	if i < len(t.dates) && t.dates[i].Equal(m) {
		return i, true
	}
	return 0, false
}

// Coverage returns the first and last rows where the column has a value.
func (t *Table) Coverage(name string) (first, last int, ok bool) {
	c, found := t.Column(name)
	if !found {
		return 0, 0, false
	}
	first, last = -1, -1
	for i := range t.dates {
		if c.Valid(i) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	return first, last, first >= 0
}

// MonthStart truncates a time to the first day of its month in UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
