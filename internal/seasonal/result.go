package seasonal

import (
	"maps"
	"slices"
	"time"

	"github.com/sells-group/nfp-revisions/internal/table"
)

// Diagnostics are the optional fit statistics of one adjustment.
type Diagnostics struct {
	FitStat        *float64           `json:"fit_stat,omitempty"`
	ResidualStat   *float64           `json:"residual_test_stat,omitempty"`
	ResidualPValue *float64           `json:"residual_test_pval,omitempty"`
	SlidingSpans   map[string]float64 `json:"sliding_spans,omitempty"`
}

func (d Diagnostics) clone() Diagnostics {
	return Diagnostics{
		FitStat:        clonePtr(d.FitStat),
		ResidualStat:   clonePtr(d.ResidualStat),
		ResidualPValue: clonePtr(d.ResidualPValue),
		SlidingSpans:   maps.Clone(d.SlidingSpans),
	}
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// AdjustmentResult holds the components of one series adjusted by one method,
// aligned to the full table index. It is read-only: accessors return copies.
type AdjustmentResult struct {
	series    string
	method    Method
	dates     []time.Time
	adjusted  []table.Float
	seasonal  []table.Float
	trend     []table.Float
	irregular []table.Float
	diag      Diagnostics
}

// NewResult builds a result from aligned components. Nil components are
// treated as entirely missing.
func NewResult(series string, method Method, dates []time.Time, adjusted, seasonal, trend, irregular []table.Float, diag Diagnostics) *AdjustmentResult {
	fill := func(v []table.Float) []table.Float {
		if v == nil {
			return make([]table.Float, len(dates))
		}
		return slices.Clone(v)
	}
	return &AdjustmentResult{
		series:    series,
		method:    method,
		dates:     slices.Clone(dates),
		adjusted:  fill(adjusted),
		seasonal:  fill(seasonal),
		trend:     fill(trend),
		irregular: fill(irregular),
		diag:      diag.clone(),
	}
}

func (r *AdjustmentResult) Series() string           { return r.series }
func (r *AdjustmentResult) Method() Method           { return r.method }
func (r *AdjustmentResult) Dates() []time.Time       { return slices.Clone(r.dates) }
func (r *AdjustmentResult) Adjusted() []table.Float  { return slices.Clone(r.adjusted) }
func (r *AdjustmentResult) Seasonal() []table.Float  { return slices.Clone(r.seasonal) }
func (r *AdjustmentResult) Trend() []table.Float     { return slices.Clone(r.trend) }
func (r *AdjustmentResult) Irregular() []table.Float { return slices.Clone(r.irregular) }
func (r *AdjustmentResult) Diagnostics() Diagnostics { return r.diag.clone() }

// Column is the table column holding this result's adjusted series.
func (r *AdjustmentResult) Column() string { return AdjustedColumn(r.series, r.method) }

// AdjustedColumn names the adjusted column for series and method, e.g. release1_x11_adj.
func AdjustedColumn(series string, method Method) string {
	return series + "_" + string(method) + "_adj"
}
