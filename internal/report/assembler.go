// Package report merges seasonal adjustment outcomes into the observation
// table, persists it, and writes the diagnostics and summary documents the
// dashboard reads.
package report

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/compare"
	"github.com/sells-group/nfp-revisions/internal/quality"
	"github.com/sells-group/nfp-revisions/internal/seasonal"
	"github.com/sells-group/nfp-revisions/internal/store"
	"github.com/sells-group/nfp-revisions/internal/table"
)

// Failure records one (series, method) adjustment that produced no result.
type Failure struct {
	Series string `json:"series"`
	Method string `json:"method"`
	Reason string `json:"reason"`
}

// Outcome is everything a run produced for the report.
type Outcome struct {
	RunID       string
	Series      []string
	Results     map[string]map[seasonal.Method]*seasonal.AdjustmentResult
	Comparisons map[string]*compare.MethodComparison
	Failures    []Failure
}

// Result returns the adjustment for a series and method, or nil.
func (o *Outcome) Result(series string, method seasonal.Method) *seasonal.AdjustmentResult {
	if o.Results == nil {
		return nil
	}
	return o.Results[series][method]
}

// Options configures an Assembler.
type Options struct {
	Dataset        string
	DataDir        string
	DiagnosticsDir string
	DefaultMethod  seasonal.Method
}

// Assembler writes run outcomes into the table and the JSON documents.
type Assembler struct {
	store   store.TableStore
	quality *quality.Annotator
	opts    Options
	log     *zap.Logger
	now     func() time.Time
}

// NewAssembler creates an Assembler.
func NewAssembler(ts store.TableStore, q *quality.Annotator, opts Options, log *zap.Logger) *Assembler {
	if opts.DefaultMethod == "" {
		opts.DefaultMethod = compare.DefaultMethod
	}
	return &Assembler{
		store:   ts,
		quality: q,
		opts:    opts,
		log:     log.With(zap.String("component", "report")),
		now:     time.Now,
	}
}

// MethodDiffColumn names the per-row x11 minus seats difference for a series.
func MethodDiffColumn(series string) string { return series + "_method_diff" }

// RecommendedColumn names the broadcast recommended method for a series.
func RecommendedColumn(series string) string { return series + "_recommended_method" }

// Merge adds the outcome's columns to t. Columns already present are
// replaced in place. Adjusted and method-diff columns for a series are
// dropped when this run did not produce them, so a failed method never
// leaves an earlier run's output behind. Other columns are untouched.
func (a *Assembler) Merge(t *table.Table, out *Outcome) error {
	for _, series := range out.Series {
		x11 := out.Result(series, seasonal.MethodX11)
		seats := out.Result(series, seasonal.MethodSEATS)
		for _, m := range []seasonal.Method{seasonal.MethodX11, seasonal.MethodSEATS} {
			res := out.Result(series, m)
			if res == nil {
				t.Drop(seasonal.AdjustedColumn(series, m))
				continue
			}
			if err := t.SetFloats(res.Column(), res.Adjusted()); err != nil {
				return eris.Wrapf(err, "report: merge %s", res.Column())
			}
		}
		if x11 == nil || seats == nil {
			t.Drop(MethodDiffColumn(series))
		} else if err := t.SetFloats(MethodDiffColumn(series), methodDiff(x11.Adjusted(), seats.Adjusted())); err != nil {
			return eris.Wrapf(err, "report: merge method diff for %s", series)
		}
		if c, ok := out.Comparisons[series]; ok {
			rec := string(c.MethodOrDefault(a.opts.DefaultMethod))
			vals := make([]sql.Null[string], t.Len())
			for i := range vals {
				vals[i] = sql.Null[string]{V: rec, Valid: true}
			}
			if err := t.SetStrings(RecommendedColumn(series), vals); err != nil {
				return eris.Wrapf(err, "report: merge recommendation for %s", series)
			}
		}
	}
	if _, err := a.quality.Annotate(t, out.Series, out.Comparisons); err != nil {
		return eris.Wrap(err, "report: quality flags")
	}
	return nil
}

func methodDiff(a, b []table.Float) []table.Float {
	out := make([]table.Float, len(a))
	for i := range out {
		if a[i].Valid && b[i].Valid {
			out[i] = table.Some(a[i].V - b[i].V)
		}
	}
	return out
}

// Publish merges the outcome, rewrites the dataset and writes the documents.
// It returns the summary it wrote.
func (a *Assembler) Publish(ctx context.Context, t *table.Table, out *Outcome) (*Summary, error) {
	if err := a.Merge(t, out); err != nil {
		return nil, err
	}
	if err := a.store.Save(ctx, a.opts.Dataset, t); err != nil {
		return nil, eris.Wrapf(err, "report: save dataset %s", a.opts.Dataset)
	}
	a.log.Info("dataset saved", zap.String("dataset", a.opts.Dataset), zap.Int("records", t.Len()))

	for _, series := range out.Series {
		c, ok := out.Comparisons[series]
		if !ok {
			continue
		}
		path, err := a.WriteDiagnostics(c)
		if err != nil {
			return nil, err
		}
		a.log.Debug("diagnostics written", zap.String("series", series), zap.String("path", path))
	}

	sum := a.Summarize(t, out)
	if _, err := a.WriteSummary(sum); err != nil {
		return nil, err
	}
	return sum, nil
}
