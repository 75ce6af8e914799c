package seasonal

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/config"
	"github.com/sells-group/nfp-revisions/internal/table"
)

const (
	defaultMinObservations = 24
	defaultTimeout         = 120 * time.Second
	monthlyPeriod          = 12
)

// Adapter runs a SeasonalModel over table columns and isolates its failures.
type Adapter struct {
	model   SeasonalModel
	minObs  int
	timeout time.Duration
	log     *zap.Logger
}

// NewAdapter creates an Adapter around model.
func NewAdapter(model SeasonalModel, cfg config.SeasonalConfig, log *zap.Logger) *Adapter {
	a := &Adapter{
		model:   model,
		minObs:  cfg.MinObservations,
		timeout: time.Duration(cfg.TimeoutSecs) * time.Second,
		log:     log.With(zap.String("component", "seasonal")),
	}
	if a.minObs <= 0 {
		a.minObs = defaultMinObservations
	}
	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}
	return a
}

// Adjust fits one series with one method. Missing values are dropped before
// the fit and the components are re-aligned onto dates. A series with fewer
// valid values than the minimum returns ErrInsufficientData without calling
// the model; any model error, panic or timeout returns *AdjustmentFailure.
func (a *Adapter) Adjust(ctx context.Context, series string, dates []time.Time, values []table.Float, method Method) (*AdjustmentResult, error) {
	if len(dates) != len(values) {
		return nil, eris.Errorf("seasonal: %s has %d dates and %d values", series, len(dates), len(values))
	}

	var (
		obs []float64
		pos []int
	)
	for i, v := range values {
		if v.Valid && !math.IsNaN(v.V) {
			obs = append(obs, v.V)
			pos = append(pos, i)
		}
	}
	if len(obs) < a.minObs {
		return nil, eris.Wrapf(ErrInsufficientData, "%s has %d valid observations, need %d", series, len(obs), a.minObs)
	}

	req := FitRequest{
		Series:    series,
		Start:     table.MonthStart(dates[pos[0]]),
		Period:    monthlyPeriod,
		Values:    obs,
		Method:    method,
		AutoModel: true,
		Outliers:  true,
		Transform: "none",
	}

	log := a.log.With(zap.String("series", series), zap.String("method", string(method)))
	log.Info("running seasonal adjustment", zap.Int("observations", len(obs)))

	res, err := a.fit(ctx, req)
	if err != nil {
		log.Error("seasonal adjustment failed", zap.Error(err))
		return nil, &AdjustmentFailure{Series: series, Method: method, Cause: err}
	}
	if err := checkLengths(res, len(obs)); err != nil {
		log.Error("seasonal adjustment returned malformed output", zap.Error(err))
		return nil, &AdjustmentFailure{Series: series, Method: method, Cause: err}
	}

	diag := Diagnostics{
		FitStat:        finite(res.FitStat),
		ResidualStat:   finite(res.ResidualStat),
		ResidualPValue: finite(res.ResidualPValue),
		SlidingSpans:   res.SlidingSpans,
	}
	if diag.FitStat == nil {
		log.Debug("fit statistic unavailable")
	}

	return NewResult(series, method, dates,
		realign(res.Adjusted, pos, len(dates)),
		realign(res.Seasonal, pos, len(dates)),
		realign(res.Trend, pos, len(dates)),
		realign(res.Irregular, pos, len(dates)),
		diag,
	), nil
}

type fitOutcome struct {
	res *FitResult
	err error
}

// fit calls the model under the adapter timeout. The call runs in its own
// goroutine so a model that ignores ctx still times out.
func (a *Adapter) fit(ctx context.Context, req FitRequest) (*FitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan fitOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fitOutcome{err: eris.Errorf("model panicked: %v", r)}
			}
		}()
		res, err := a.model.Fit(ctx, req)
		done <- fitOutcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil && out.res == nil {
			return nil, eris.New("model returned no result")
		}
		return out.res, out.err
	case <-ctx.Done():
		return nil, eris.Wrapf(ctx.Err(), "model did not finish within %s", a.timeout)
	}
}

func checkLengths(res *FitResult, n int) error {
	if len(res.Adjusted) != n {
		return eris.Errorf("adjusted series has %d values, want %d", len(res.Adjusted), n)
	}
	for name, comp := range map[string][]float64{"seasonal": res.Seasonal, "trend": res.Trend, "irregular": res.Irregular} {
		if comp != nil && len(comp) != n {
			return eris.Errorf("%s series has %d values, want %d", name, len(comp), n)
		}
	}
	return nil
}

// realign spreads fitted values back to their original rows. NaN becomes missing.
func realign(vals []float64, pos []int, n int) []table.Float {
	if vals == nil {
		return nil
	}
	out := make([]table.Float, n)
	for i, p := range pos {
		if !math.IsNaN(vals[i]) {
			out[p] = table.Some(vals[i])
		}
	}
	return out
}

func finite(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return nil
	}
	return p
}
