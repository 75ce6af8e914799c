// Package revision derives revision deltas between payroll vintages and the
// uncertainty and outlier annotations built on them.
package revision

import (
	"github.com/sells-group/nfp-revisions/internal/table"
	"github.com/sells-group/nfp-revisions/internal/vintage"
)

// Revision column names.
const (
	Rev2to1     = "rev_2to1"
	Rev3to2     = "rev_3to2"
	RevFinal    = "rev_final"
	RevFinalTo3 = "rev_final_to3"
	RevLatest   = "rev_final_latest"
)

// Compute writes the revision delta columns into t. A delta is missing when
// either endpoint is missing, including when a vintage column is absent.
func Compute(t *table.Table) error {
	r1 := floatsOrMissing(t, vintage.Release1)
	r2 := floatsOrMissing(t, vintage.Release2)
	r3 := floatsOrMissing(t, vintage.Release3)
	fin := floatsOrMissing(t, vintage.Final)

	deltas := []struct {
		name string
		vals []table.Float
	}{
		{Rev2to1, diff(r2, r1)},
		{Rev3to2, diff(r3, r2)},
		{RevFinal, diff(fin, r1)},
		{RevFinalTo3, diff(fin, r3)},
		{RevLatest, diff(fin, latestPrior(r1, r2, r3))},
	}
	for _, d := range deltas {
		if err := t.SetFloats(d.name, d.vals); err != nil {
			return err
		}
	}
	return nil
}

func floatsOrMissing(t *table.Table, name string) []table.Float {
	if vals := t.Floats(name); vals != nil {
		return vals
	}
	return make([]table.Float, t.Len())
}

// diff returns a - b elementwise.
func diff(a, b []table.Float) []table.Float {
	out := make([]table.Float, len(a))
	for i := range a {
		if a[i].Valid && b[i].Valid {
			out[i] = table.Some(a[i].V - b[i].V)
		}
	}
	return out
}

// latestPrior picks, per row, the most recent present vintage among r1..r3.
func latestPrior(r1, r2, r3 []table.Float) []table.Float {
	out := make([]table.Float, len(r1))
	for i := range r1 {
		switch {
		case r3[i].Valid:
			out[i] = r3[i]
		case r2[i].Valid:
			out[i] = r2[i]
		default:
			out[i] = r1[i]
		}
	}
	return out
}
