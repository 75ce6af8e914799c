package seasonal_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/config"
	"github.com/sells-group/nfp-revisions/internal/seasonal"
	"github.com/sells-group/nfp-revisions/internal/seasonal/mocks"
	"github.com/sells-group/nfp-revisions/internal/table"
)

func series(n int, start time.Time) ([]time.Time, []table.Float) {
	dates := make([]time.Time, n)
	vals := make([]table.Float, n)
	for i := range n {
		dates[i] = start.AddDate(0, i, 0)
		vals[i] = table.Some(100 + float64(i%4))
	}
	return dates, vals
}

func ptr(v float64) *float64 { return &v }

func echoFit(_ context.Context, req seasonal.FitRequest) (*seasonal.FitResult, error) {
	adj := make([]float64, len(req.Values))
	for i, v := range req.Values {
		adj[i] = v - 1
	}
	return &seasonal.FitResult{Adjusted: adj, FitStat: ptr(120.5)}, nil
}

func newAdapter(m seasonal.SeasonalModel, timeoutSecs int) *seasonal.Adapter {
	return seasonal.NewAdapter(m, config.SeasonalConfig{MinObservations: 24, TimeoutSecs: timeoutSecs}, zap.NewNop())
}

var jan2020 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAdjust_InsufficientDataNeverCallsModel(t *testing.T) {
	m := mocks.NewMockSeasonalModel(t)
	dates, vals := series(20, jan2020)

	res, err := newAdapter(m, 1).Adjust(context.Background(), "release1", dates, vals, seasonal.MethodX11)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, seasonal.ErrInsufficientData)
	m.AssertNotCalled(t, "Fit", mock.Anything, mock.Anything)
}

func TestAdjust_DropsMissingAndRealigns(t *testing.T) {
	dates, vals := series(30, jan2020)
	vals[0] = table.Float{}
	vals[10] = table.Float{}

	m := mocks.NewMockSeasonalModel(t)
	m.On("Fit", mock.Anything, mock.MatchedBy(func(req seasonal.FitRequest) bool {
		return len(req.Values) == 28 &&
			req.Start.Equal(jan2020.AddDate(0, 1, 0)) &&
			req.Period == 12 &&
			req.AutoModel && req.Outliers &&
			req.Transform == "none" &&
			req.Method == seasonal.MethodSEATS
	})).Return(echoFit)

	res, err := newAdapter(m, 5).Adjust(context.Background(), "release1", dates, vals, seasonal.MethodSEATS)
	require.NoError(t, err)

	adj := res.Adjusted()
	require.Len(t, adj, 30)
	assert.False(t, adj[0].Valid)
	assert.False(t, adj[10].Valid)
	assert.Equal(t, vals[1].V-1, adj[1].V)
	assert.Equal(t, vals[29].V-1, adj[29].V)
	assert.Equal(t, "release1_seats_adj", res.Column())

	// Components the model did not return stay missing.
	for _, v := range res.Trend() {
		assert.False(t, v.Valid)
	}
	diag := res.Diagnostics()
	require.NotNil(t, diag.FitStat)
	assert.Equal(t, 120.5, *diag.FitStat)
	assert.Nil(t, diag.ResidualPValue)
}

func TestAdjust_ModelErrorIsAdjustmentFailure(t *testing.T) {
	m := mocks.NewMockSeasonalModel(t)
	m.On("Fit", mock.Anything, mock.Anything).Return(nil, errors.New("x13: model did not converge"))
	dates, vals := series(24, jan2020)

	_, err := newAdapter(m, 5).Adjust(context.Background(), "final", dates, vals, seasonal.MethodX11)
	var af *seasonal.AdjustmentFailure
	require.ErrorAs(t, err, &af)
	assert.Equal(t, "final", af.Series)
	assert.Equal(t, seasonal.MethodX11, af.Method)
	assert.Contains(t, af.Error(), "did not converge")
}

func TestAdjust_PanicIsAdjustmentFailure(t *testing.T) {
	m := mocks.NewMockSeasonalModel(t)
	m.On("Fit", mock.Anything, mock.Anything).Return(func(context.Context, seasonal.FitRequest) (*seasonal.FitResult, error) {
		panic("index out of range")
	})
	dates, vals := series(24, jan2020)

	_, err := newAdapter(m, 5).Adjust(context.Background(), "final", dates, vals, seasonal.MethodX11)
	var af *seasonal.AdjustmentFailure
	require.ErrorAs(t, err, &af)
	assert.Contains(t, af.Error(), "panicked")
}

func TestAdjust_TimeoutIsAdjustmentFailure(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	m := mocks.NewMockSeasonalModel(t)
	m.On("Fit", mock.Anything, mock.Anything).Return(func(context.Context, seasonal.FitRequest) (*seasonal.FitResult, error) {
		<-release
		return nil, errors.New("too late")
	})
	dates, vals := series(24, jan2020)

	start := time.Now()
	_, err := newAdapter(m, 1).Adjust(context.Background(), "final", dates, vals, seasonal.MethodSEATS)
	var af *seasonal.AdjustmentFailure
	require.ErrorAs(t, err, &af)
	assert.Contains(t, err.Error(), "did not finish")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAdjust_WrongLengthIsAdjustmentFailure(t *testing.T) {
	m := mocks.NewMockSeasonalModel(t)
	m.On("Fit", mock.Anything, mock.Anything).Return(&seasonal.FitResult{Adjusted: []float64{1, 2}}, nil)
	dates, vals := series(24, jan2020)

	_, err := newAdapter(m, 5).Adjust(context.Background(), "final", dates, vals, seasonal.MethodX11)
	var af *seasonal.AdjustmentFailure
	assert.ErrorAs(t, err, &af)
}

func TestAdjust_NonFiniteDiagnosticsDropped(t *testing.T) {
	m := mocks.NewMockSeasonalModel(t)
	m.On("Fit", mock.Anything, mock.Anything).Return(func(ctx context.Context, req seasonal.FitRequest) (*seasonal.FitResult, error) {
		res, _ := echoFit(ctx, req)
		res.ResidualPValue = ptr(math.NaN())
		return res, nil
	})
	dates, vals := series(24, jan2020)

	res, err := newAdapter(m, 5).Adjust(context.Background(), "final", dates, vals, seasonal.MethodX11)
	require.NoError(t, err)
	assert.Nil(t, res.Diagnostics().ResidualPValue)
}

func TestResult_AccessorsReturnCopies(t *testing.T) {
	dates := []time.Time{jan2020}
	res := seasonal.NewResult("s", seasonal.MethodX11, dates, []table.Float{table.Some(1)}, nil, nil, nil,
		seasonal.Diagnostics{FitStat: ptr(1)})

	adj := res.Adjusted()
	adj[0] = table.Some(99)
	*res.Diagnostics().FitStat = 42

	assert.Equal(t, 1.0, res.Adjusted()[0].V)
	assert.Equal(t, 1.0, *res.Diagnostics().FitStat)
	assert.Len(t, res.Seasonal(), 1)
}

func TestParseMethod(t *testing.T) {
	m, err := seasonal.ParseMethod("seats")
	require.NoError(t, err)
	assert.Equal(t, seasonal.MethodSEATS, m)
	_, err = seasonal.ParseMethod("stl")
	assert.Error(t, err)
}
