package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/config"
	"github.com/sells-group/nfp-revisions/internal/seasonal"
	"github.com/sells-group/nfp-revisions/internal/seasonal/mocks"
	"github.com/sells-group/nfp-revisions/internal/store"
	"github.com/sells-group/nfp-revisions/internal/table"
	"github.com/sells-group/nfp-revisions/internal/vintage"
)

func testConfig(dir string, series ...string) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Driver: "csv", DatabaseURL: dir, Dataset: "nfp_revisions"},
		Paths: config.PathsConfig{
			DataDir:        dir,
			DiagnosticsDir: filepath.Join(dir, "diagnostics"),
			ReleasesFile:   filepath.Join(dir, "bls_releases.csv"),
			SnapshotDir:    filepath.Join(dir, "snapshots"),
		},
		FRED:     config.FREDConfig{Series: []string{"PAYEMS"}},
		Seasonal: config.SeasonalConfig{MinObservations: 24, TimeoutSecs: 5, Series: series},
		Quality:  config.QualityConfig{DisagreementThreshold: 50, DefaultMethod: "x11"},
	}
}

func seed(t *testing.T, st store.TableStore, n int) {
	t.Helper()
	dates := make([]time.Time, n)
	r1 := make([]table.Float, n)
	fin := make([]table.Float, n)
	for i := range dates {
		dates[i] = time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0)
		r1[i] = table.Some(150000 + float64(i*150) + float64(i%12))
		fin[i] = table.Some(r1[i].V + 20)
	}
	tb := table.New(dates)
	require.NoError(t, tb.SetFloats(vintage.Release1, r1))
	require.NoError(t, tb.SetFloats(vintage.Final, fin))
	require.NoError(t, st.Save(context.Background(), "nfp_revisions", tb))
}

func fitOK(fit float64) func(context.Context, seasonal.FitRequest) (*seasonal.FitResult, error) {
	return fitShift(fit, 5)
}

// fitShift adjusts every value down by shift.
func fitShift(fit, shift float64) func(context.Context, seasonal.FitRequest) (*seasonal.FitResult, error) {
	return func(_ context.Context, req seasonal.FitRequest) (*seasonal.FitResult, error) {
		adj := make([]float64, len(req.Values))
		for i, v := range req.Values {
			adj[i] = v - shift
		}
		return &seasonal.FitResult{Adjusted: adj, FitStat: &fit}, nil
	}
}

func byMethod(series string, m seasonal.Method) any {
	return mock.MatchedBy(func(req seasonal.FitRequest) bool {
		return req.Series == series && req.Method == m
	})
}

func newPipeline(cfg *config.Config, st store.Store, m seasonal.SeasonalModel) *Pipeline {
	p := New(cfg, st, m, nil, zap.NewNop())
	p.newID = func() string { return "run-test" }
	return p
}

func TestRun_OneMethodFails(t *testing.T) {
	dir := t.TempDir()
	st := store.NewCSV(dir)
	seed(t, st, 36)

	m := mocks.NewMockSeasonalModel(t)
	m.On("Fit", mock.Anything, byMethod("release1", seasonal.MethodX11)).Return(fitOK(120.5))
	m.On("Fit", mock.Anything, byMethod("release1", seasonal.MethodSEATS)).Return(nil, errors.New("seats: model estimation failed"))

	cfg := testConfig(dir, "release1")
	res, err := newPipeline(cfg, st, m).Run(context.Background(), "adjust")
	require.NoError(t, err)
	require.NotNil(t, res.Summary)

	saved, err := st.Load(context.Background(), "nfp_revisions")
	require.NoError(t, err)
	assert.True(t, saved.Has("release1_x11_adj"))
	assert.False(t, saved.Has("release1_seats_adj"))
	assert.False(t, saved.Has("release1_method_diff"))
	assert.True(t, saved.Has("rev_final"))
	rec := saved.Strings("release1_recommended_method")
	require.NotEmpty(t, rec)
	assert.Equal(t, "x11", rec[0].V)

	b, err := os.ReadFile(filepath.Join(dir, "diagnostics", "release1_seasonal_diagnostics.json"))
	require.NoError(t, err)
	var diag map[string]any
	require.NoError(t, json.Unmarshal(b, &diag))
	assert.Equal(t, 120.5, diag["x11_fit_stat"])
	assert.NotContains(t, diag, "seats_fit_stat")

	require.Len(t, res.Summary.Failures, 1)
	assert.Equal(t, "seats", res.Summary.Failures[0].Method)
	assert.Contains(t, res.Summary.Failures[0].Reason, "model estimation failed")
	assert.FileExists(t, filepath.Join(dir, "seasonal_summary.json"))

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusComplete, runs[0].Status)
	assert.Equal(t, "adjust", runs[0].Command)

	names := make([]string, len(res.Phases))
	for i, ph := range res.Phases {
		names[i] = ph.Name
		assert.Equal(t, PhaseStatusComplete, ph.Status, ph.Name)
	}
	assert.Equal(t, []string{"load", "revisions", "adjust", "compare", "publish", "export"}, names)
}

func TestRun_RerunDropsStaleMethodColumns(t *testing.T) {
	dir := t.TempDir()
	st := store.NewCSV(dir)
	seed(t, st, 36)
	ctx := context.Background()
	cfg := testConfig(dir, "release1")

	first := mocks.NewMockSeasonalModel(t)
	first.On("Fit", mock.Anything, byMethod("release1", seasonal.MethodX11)).Return(fitShift(120.5, 5))
	first.On("Fit", mock.Anything, byMethod("release1", seasonal.MethodSEATS)).Return(fitShift(118.2, 100))
	_, err := newPipeline(cfg, st, first).Run(ctx, "adjust")
	require.NoError(t, err)

	saved, err := st.Load(ctx, "nfp_revisions")
	require.NoError(t, err)
	require.True(t, saved.Has("release1_seats_adj"))
	require.True(t, saved.Has("release1_method_diff"))
	assert.Equal(t, "seats", saved.Strings("release1_recommended_method")[0].V)

	second := mocks.NewMockSeasonalModel(t)
	second.On("Fit", mock.Anything, byMethod("release1", seasonal.MethodX11)).Return(fitShift(120.5, 7))
	second.On("Fit", mock.Anything, byMethod("release1", seasonal.MethodSEATS)).Return(nil, errors.New("seats: model estimation failed"))
	p := newPipeline(cfg, st, second)
	p.newID = func() string { return "run-test-2" }
	_, err = p.Run(ctx, "adjust")
	require.NoError(t, err)

	saved, err = st.Load(ctx, "nfp_revisions")
	require.NoError(t, err)
	assert.False(t, saved.Has("release1_seats_adj"))
	assert.False(t, saved.Has("release1_method_diff"))

	r1 := saved.Floats(vintage.Release1)
	x11 := saved.Floats("release1_x11_adj")
	require.NotEmpty(t, x11)
	assert.InDelta(t, r1[0].V-7, x11[0].V, 1e-9)
	for _, v := range saved.Strings("release1_recommended_method") {
		assert.Equal(t, "x11", v.V)
	}
}

func TestRun_ShortSeriesNeverReachesModel(t *testing.T) {
	dir := t.TempDir()
	st := store.NewCSV(dir)
	seed(t, st, 20)

	m := mocks.NewMockSeasonalModel(t)
	cfg := testConfig(dir, "release1")
	res, err := newPipeline(cfg, st, m).Run(context.Background(), "adjust")
	require.NoError(t, err)

	m.AssertNotCalled(t, "Fit", mock.Anything, mock.Anything)
	assert.Len(t, res.Summary.Failures, 2)
	assert.Empty(t, res.Comparisons)
	assert.Empty(t, res.Summary.SeriesStats)

	saved, err := st.Load(context.Background(), "nfp_revisions")
	require.NoError(t, err)
	assert.False(t, saved.Has("release1_x11_adj"))
	assert.False(t, saved.Has("release1_recommended_method"))
}

func TestRun_BothMethodsCompared(t *testing.T) {
	dir := t.TempDir()
	st := store.NewCSV(dir)
	seed(t, st, 30)

	m := mocks.NewMockSeasonalModel(t)
	m.On("Fit", mock.Anything, byMethod("final", seasonal.MethodX11)).Return(fitOK(120.5))
	m.On("Fit", mock.Anything, byMethod("final", seasonal.MethodSEATS)).Return(fitOK(118.2))

	cfg := testConfig(dir, "final", "release3")
	cfg.Export.CSV = true
	res, err := newPipeline(cfg, st, m).Run(context.Background(), "run")
	require.NoError(t, err)

	c := res.Comparisons["final"]
	require.NotNil(t, c)
	assert.Equal(t, seasonal.MethodSEATS, c.Recommended)
	assert.Equal(t, 0.0, *c.MeanAbsDiff)
	// release3 is not a column of the dataset.
	assert.Len(t, res.Summary.Failures, 2)
	assert.Equal(t, map[string]int{"good": 30, "poor": 0}, res.Summary.QualityDistribution)
	assert.FileExists(t, filepath.Join(dir, "exports", "nfp_revisions.csv"))
}

func TestRun_MissingDatasetIsFatal(t *testing.T) {
	dir := t.TempDir()
	st := store.NewCSV(dir)
	m := mocks.NewMockSeasonalModel(t)

	res, err := newPipeline(testConfig(dir, "release1"), st, m).Run(context.Background(), "adjust")
	require.Error(t, err)
	assert.ErrorIs(t, err, vintage.ErrInputNotFound)
	require.Len(t, res.Phases, 1)
	assert.Equal(t, PhaseStatusFailed, res.Phases[0].Status)

	runs, err := st.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusFailed, runs[0].Status)
	assert.NoFileExists(t, filepath.Join(dir, "seasonal_summary.json"))
}
