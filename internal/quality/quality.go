// Package quality labels seasonal adjustments by how much the two
// decomposition methods disagree, and checks the dataset's integrity.
package quality

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/compare"
	"github.com/sells-group/nfp-revisions/internal/table"
)

// Column is the shared quality flag column.
const Column = "seasonal_adjustment_quality"

// Flag values.
const (
	Good = "good"
	Poor = "poor"
)

// DefaultThreshold is the mean absolute disagreement above which a series is poor.
const DefaultThreshold = 50.0

// Annotator writes quality flags from method comparisons.
type Annotator struct {
	threshold float64
	log       *zap.Logger
}

// NewAnnotator creates an Annotator. A non-positive threshold uses DefaultThreshold.
func NewAnnotator(threshold float64, log *zap.Logger) *Annotator {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Annotator{threshold: threshold, log: log.With(zap.String("component", "quality"))}
}

// Label returns the flag for a comparison, and false when the comparison
// has no disagreement measure.
func (a *Annotator) Label(c *compare.MethodComparison) (string, bool) {
	if c == nil || !c.Available() || c.MeanAbsDiff == nil {
		return "", false
	}
	if *c.MeanAbsDiff > a.threshold {
		return Poor, true
	}
	return Good, true
}

// Annotate rebuilds the quality column. Series are applied in order, each
// flag covering the series' first to last valid month, so a later series
// overwrites an earlier one where their coverage overlaps. It returns the
// number of series flagged.
func (a *Annotator) Annotate(t *table.Table, order []string, comparisons map[string]*compare.MethodComparison) (int, error) {
	flags := make([]sql.Null[string], t.Len())
	flagged := 0
	for _, series := range order {
		label, ok := a.Label(comparisons[series])
		if !ok {
			a.log.Debug("no comparison, series not flagged", zap.String("series", series))
			continue
		}
		first, last, ok := t.Coverage(series)
		if !ok {
			continue
		}
		for i := first; i <= last; i++ {
			flags[i] = sql.Null[string]{V: label, Valid: true}
		}
		flagged++
		a.log.Info("quality flag applied",
			zap.String("series", series),
			zap.String("flag", label),
			zap.Float64("mean_abs_diff", *comparisons[series].MeanAbsDiff),
		)
	}
	if err := t.SetStrings(Column, flags); err != nil {
		return 0, err
	}
	return flagged, nil
}

// Distribution counts rows per flag value.
func Distribution(t *table.Table) map[string]int {
	out := map[string]int{Good: 0, Poor: 0}
	for _, v := range t.Strings(Column) {
		if v.Valid {
			out[v.V]++
		}
	}
	return out
}
