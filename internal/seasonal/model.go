// Package seasonal re-runs seasonal adjustment on payroll vintages through an
// external X-13ARIMA-SEATS model.
package seasonal

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Method is a seasonal decomposition algorithm.
type Method string

const (
	MethodX11   Method = "x11"
	MethodSEATS Method = "seats"
)

// Methods lists the decompositions run for every series, x11 first.
var Methods = []Method{MethodX11, MethodSEATS}

// ParseMethod validates a method label.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodX11, MethodSEATS:
		return m, nil
	}
	return "", eris.Errorf("seasonal: unknown method %q", s)
}

// FitRequest is one model invocation. Values are contiguous observations
// starting at Start with the given Period.
type FitRequest struct {
	Series    string
	Start     time.Time
	Period    int
	Values    []float64
	Method    Method
	AutoModel bool
	Outliers  bool
	Transform string
}

// FitResult is the raw model output. Component slices have one value per
// request value; optional diagnostics are nil when the model did not report them.
type FitResult struct {
	Adjusted       []float64
	Seasonal       []float64
	Trend          []float64
	Irregular      []float64
	FitStat        *float64
	ResidualStat   *float64
	ResidualPValue *float64
	SlidingSpans   map[string]float64
}

// SeasonalModel fits a seasonal decomposition.
type SeasonalModel interface {
	Fit(ctx context.Context, req FitRequest) (*FitResult, error)
}

// ErrInsufficientData is returned when a series has too few observations to adjust.
var ErrInsufficientData = eris.New("seasonal: insufficient data")

// AdjustmentFailure records a model failure for one series and method.
type AdjustmentFailure struct {
	Series string `json:"series"`
	Method Method `json:"method"`
	Cause  error  `json:"-"`
}

func (f *AdjustmentFailure) Error() string {
	return fmt.Sprintf("seasonal: %s adjustment of %s failed: %v", f.Method, f.Series, f.Cause)
}

func (f *AdjustmentFailure) Unwrap() error { return f.Cause }
