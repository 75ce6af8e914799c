package vintage

import (
	"database/sql"
	"slices"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/nfp-revisions/internal/table"
)

// OuterJoin returns a table over the union of the inputs' months with every
// column of every input. Column names must be unique across inputs.
func OuterJoin(tables ...*table.Table) (*table.Table, error) {
	var dates []time.Time
	for _, t := range tables {
		for _, d := range t.Dates() {
			d = table.MonthStart(d)
			if !slices.ContainsFunc(dates, d.Equal) {
				dates = append(dates, d)
			}
		}
	}
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })

	out := table.New(dates)
	for _, t := range tables {
		rows := make([]int, t.Len())
		for i := range t.Len() {
			rows[i], _ = out.IndexOf(t.Date(i))
		}
		for _, name := range t.Columns() {
			if out.Has(name) {
				return nil, eris.Errorf("vintage: column %s appears in more than one input", name)
			}
			c, _ := t.Column(name)
			if err := copyColumn(out, c, rows); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// CarryOver copies every column of prev that dst lacks and that is not a
// vintage column into dst, aligned by month. Months of prev missing from dst
// are dropped. It returns the names of the copied columns.
func CarryOver(dst, prev *table.Table) ([]string, error) {
	rows := make([]int, prev.Len())
	for i := range prev.Len() {
		r, ok := dst.IndexOf(prev.Date(i))
		if !ok {
			r = -1
		}
		rows[i] = r
	}
	var copied []string
	for _, name := range prev.Columns() {
		if dst.Has(name) || isVintage(name) {
			continue
		}
		c, _ := prev.Column(name)
		if err := copyColumn(dst, c, rows); err != nil {
			return copied, eris.Wrapf(err, "vintage: carry over %s", name)
		}
		copied = append(copied, name)
	}
	return copied, nil
}

func isVintage(name string) bool {
	return name == Final || slices.Contains(Releases, name)
}

// copyColumn places c into dst, moving source row i to dst row rows[i].
// Rows mapped to a negative index are skipped.
func copyColumn(dst *table.Table, c *table.Column, rows []int) error {
	n := dst.Len()
	switch c.Kind {
	case table.KindFloat:
		vals := make([]table.Float, n)
		for i, r := range rows {
			if r >= 0 {
				vals[r] = c.Floats[i]
			}
		}
		return dst.SetFloats(c.Name, vals)
	case table.KindBool:
		vals := make([]sql.Null[bool], n)
		for i, r := range rows {
			if r >= 0 {
				vals[r] = c.Bools[i]
			}
		}
		return dst.SetBools(c.Name, vals)
	default:
		vals := make([]sql.Null[string], n)
		for i, r := range rows {
			if r >= 0 {
				vals[r] = c.Strings[i]
			}
		}
		return dst.SetStrings(c.Name, vals)
	}
}
