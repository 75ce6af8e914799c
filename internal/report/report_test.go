package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/compare"
	"github.com/sells-group/nfp-revisions/internal/fetcher"
	"github.com/sells-group/nfp-revisions/internal/quality"
	"github.com/sells-group/nfp-revisions/internal/seasonal"
	"github.com/sells-group/nfp-revisions/internal/store"
	"github.com/sells-group/nfp-revisions/internal/table"
)

var jan2020 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func months(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = jan2020.AddDate(0, i, 0)
	}
	return out
}

func ptr(v float64) *float64 { return &v }

var none = table.Float{}

func some(v float64) table.Float { return table.Some(v) }

func baseTable(t *testing.T) *table.Table {
	t.Helper()
	tb := table.New(months(3))
	require.NoError(t, tb.SetFloats("release1", []table.Float{some(100), some(200), some(300)}))
	require.NoError(t, tb.SetFloats("release1_x11_adj", []table.Float{some(-1), some(-1), some(-1)}))
	require.NoError(t, tb.SetFloats("final", []table.Float{none, some(210), some(320)}))
	require.NoError(t, tb.SetStrings("notes", []sql.Null[string]{{V: "keep", Valid: true}, {}, {}}))
	return tb
}

// outcome has both methods for release1 and only x11 for final, whose
// seats run failed.
func outcome() *Outcome {
	dates := months(3)
	r1x := seasonal.NewResult("release1", seasonal.MethodX11, dates,
		[]table.Float{some(101), some(199), some(302)}, nil, nil, nil,
		seasonal.Diagnostics{FitStat: ptr(120.5), ResidualPValue: ptr(0.31)})
	r1s := seasonal.NewResult("release1", seasonal.MethodSEATS, dates,
		[]table.Float{some(100), some(200), some(300)}, nil, nil, nil,
		seasonal.Diagnostics{FitStat: ptr(118.2)})
	fx := seasonal.NewResult("final", seasonal.MethodX11, dates,
		[]table.Float{none, some(208), some(318)}, nil, nil, nil,
		seasonal.Diagnostics{FitStat: ptr(99)})
	return &Outcome{
		RunID:  "run-1",
		Series: []string{"release1", "final"},
		Results: map[string]map[seasonal.Method]*seasonal.AdjustmentResult{
			"release1": {seasonal.MethodX11: r1x, seasonal.MethodSEATS: r1s},
			"final":    {seasonal.MethodX11: fx},
		},
		Comparisons: map[string]*compare.MethodComparison{
			"release1": compare.Compare("release1", r1x, r1s),
			"final":    compare.Compare("final", fx, nil),
		},
		Failures: []Failure{{Series: "final", Method: "seats", Reason: "model did not converge"}},
	}
}

func newAssembler(t *testing.T, ts store.TableStore) *Assembler {
	t.Helper()
	dir := t.TempDir()
	a := NewAssembler(ts, quality.NewAnnotator(50, zap.NewNop()), Options{
		Dataset:        "nfp_revisions",
		DataDir:        dir,
		DiagnosticsDir: filepath.Join(dir, "diagnostics"),
	}, zap.NewNop())
	a.now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	return a
}

func TestMerge_AddsColumns(t *testing.T) {
	tb := baseTable(t)
	before := tb.Columns()
	a := newAssembler(t, store.NewCSV(t.TempDir()))

	require.NoError(t, a.Merge(tb, outcome()))

	cols := tb.Columns()
	assert.Equal(t, before, cols[:len(before)], "existing columns keep their order")
	assert.Equal(t, []string{
		"release1_seats_adj",
		"release1_method_diff",
		"release1_recommended_method",
		"final_x11_adj",
		"final_recommended_method",
		quality.Column,
	}, cols[len(before):])

	assert.Equal(t, []table.Float{some(101), some(199), some(302)}, tb.Floats("release1_x11_adj"))
	assert.Equal(t, []table.Float{some(1), some(-1), some(2)}, tb.Floats("release1_method_diff"))
	assert.False(t, tb.Has("final_seats_adj"))
	assert.False(t, tb.Has("final_method_diff"))
	assert.Equal(t, "keep", tb.Strings("notes")[0].V)

	for _, v := range tb.Strings("release1_recommended_method") {
		assert.Equal(t, "seats", v.V)
	}
	// No comparison was possible for final, so the default is used.
	for _, v := range tb.Strings("final_recommended_method") {
		assert.Equal(t, "x11", v.V)
	}
	// release1 disagrees by 4/3 on average, final has no comparison.
	q := tb.Strings(quality.Column)
	assert.Equal(t, "good", q[0].V)
	assert.Equal(t, "good", q[2].V)
}

func TestMerge_DropsColumnsOfFailedMethod(t *testing.T) {
	tb := baseTable(t)
	a := newAssembler(t, store.NewCSV(t.TempDir()))
	require.NoError(t, tb.SetFloats("final_seats_adj", []table.Float{some(7), some(7), some(7)}))
	require.NoError(t, tb.SetFloats("final_method_diff", []table.Float{some(1), some(1), some(1)}))

	require.NoError(t, a.Merge(tb, outcome()))

	assert.False(t, tb.Has("final_seats_adj"))
	assert.False(t, tb.Has("final_method_diff"))
	assert.Equal(t, []table.Float{none, some(208), some(318)}, tb.Floats("final_x11_adj"))
	for _, v := range tb.Strings("final_recommended_method") {
		assert.Equal(t, "x11", v.V)
	}
	assert.True(t, tb.Has("notes"))
	assert.True(t, tb.Has("release1_seats_adj"))
}

func TestPublish_WritesDocuments(t *testing.T) {
	ts := store.NewCSV(t.TempDir())
	a := newAssembler(t, ts)

	sum, err := a.Publish(context.Background(), baseTable(t), outcome())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.TotalRecords)
	assert.Equal(t, map[string]int{"good": 3, "poor": 0}, sum.QualityDistribution)

	saved, err := ts.Load(context.Background(), "nfp_revisions")
	require.NoError(t, err)
	assert.True(t, saved.Has("release1_seats_adj"))

	var diag map[string]any
	readJSON(t, a.DiagnosticsPath("release1"), &diag)
	assert.Equal(t, "seats", diag["recommended_method"])
	assert.Equal(t, 120.5, diag["x11_fit_stat"])
	assert.Equal(t, 0.31, diag["x11_residual_test_pval"])
	assert.NotContains(t, diag, "seats_residual_test_pval")

	var failed map[string]any
	readJSON(t, a.DiagnosticsPath("final"), &failed)
	assert.Equal(t, 99.0, failed["x11_fit_stat"])
	assert.NotContains(t, failed, "seats_fit_stat")
	assert.NotContains(t, failed, "recommended_method")
	assert.NotContains(t, failed, "mean_abs_diff")

	var doc map[string]any
	readJSON(t, a.SummaryPath(), &doc)
	assert.Equal(t, "run-1", doc["run_id"])
	assert.Equal(t, "2025-03-01T00:00:00Z", doc["generated_at"])
	assert.Equal(t, map[string]any{"start": "2020-01-01", "end": "2020-03-01"}, doc["date_range"])
	stats := doc["series_stats"].(map[string]any)
	assert.Len(t, stats, 3)
	fx := stats["final_x11"].(map[string]any)
	assert.Equal(t, 2.0, fx["valid_observations"])
	assert.Equal(t, 263.0, fx["mean_value"])
	assert.Equal(t, map[string]any{"min": 208.0, "max": 318.0}, fx["range"])
	failures := doc["failures"].([]any)
	require.Len(t, failures, 1)
	assert.Equal(t, "seats", failures[0].(map[string]any)["method"])
}

func TestPublish_Idempotent(t *testing.T) {
	dir := t.TempDir()
	ts := store.NewCSV(dir)
	a := newAssembler(t, ts)
	ctx := context.Background()

	_, err := a.Publish(ctx, baseTable(t), outcome())
	require.NoError(t, err)
	first := snapshot(t, filepath.Join(dir, "nfp_revisions.csv"), a.SummaryPath(), a.DiagnosticsPath("release1"))

	reloaded, err := ts.Load(ctx, "nfp_revisions")
	require.NoError(t, err)
	_, err = a.Publish(ctx, reloaded, outcome())
	require.NoError(t, err)
	second := snapshot(t, filepath.Join(dir, "nfp_revisions.csv"), a.SummaryPath(), a.DiagnosticsPath("release1"))

	assert.Equal(t, first, second)
}

func TestSummarize_EmptyTable(t *testing.T) {
	a := newAssembler(t, store.NewCSV(t.TempDir()))
	s := a.Summarize(table.New(nil), &Outcome{RunID: "r"})
	assert.Nil(t, s.DateRange)
	assert.Equal(t, []Failure{}, s.Failures)
	assert.Empty(t, s.SeriesStats)
}

func TestDescribe(t *testing.T) {
	st := describe([]table.Float{some(5), none})
	assert.Equal(t, 1, st.ValidObservations)
	assert.Equal(t, 5.0, *st.MeanValue)
	assert.Nil(t, st.StdDev)

	st = describe([]table.Float{some(1), some(3)})
	assert.InDelta(t, 1.41421356, *st.StdDev, 1e-6)

	assert.Nil(t, describe(nil).Range)
}

func TestExportCSVAndXLSX(t *testing.T) {
	tb := baseTable(t)
	dir := t.TempDir()

	csvPath := filepath.Join(dir, "out", "nfp.csv")
	require.NoError(t, ExportCSV(csvPath, tb))
	b, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "date,release1,release1_x11_adj,final,notes\n"+
		"2020-01-01,100,-1,,keep\n"+
		"2020-02-01,200,-1,210,\n"+
		"2020-03-01,300,-1,320,\n", string(b))

	xlsxPath := filepath.Join(dir, "nfp.xlsx")
	require.NoError(t, ExportXLSX(xlsxPath, "nfp_revisions", tb))
	header, records, err := fetcher.ReadXLSX(xlsxPath, fetcher.XLSXOptions{SheetName: "nfp_revisions"})
	require.NoError(t, err)
	assert.Equal(t, []string{"date", "release1", "release1_x11_adj", "final", "notes"}, header)
	require.Len(t, records, 3)
	assert.Equal(t, "2020-02-01", records[1][0])
	assert.Equal(t, "210", records[1][3])
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}

func snapshot(t *testing.T, paths ...string) map[string]string {
	t.Helper()
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		out[filepath.Base(p)] = string(b)
	}
	return out
}
