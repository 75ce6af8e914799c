package revision

import (
	"database/sql"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/nfp-revisions/internal/config"
	"github.com/sells-group/nfp-revisions/internal/table"
	"github.com/sells-group/nfp-revisions/internal/vintage"
)

// Annotation column names.
const (
	StandardError       = "standard_error"
	CI90Lower           = "ci90_lower"
	CI90Upper           = "ci90_upper"
	IsOutlier           = "is_outlier"
	DirectionConsistent = "revision_direction_consistent"
	Magnitude           = "revision_magnitude"
)

// RollingColumns are the deltas that get rolling mean and std columns.
var RollingColumns = []string{Rev2to1, Rev3to2, RevFinal}

// Annotator adds sampling-error bands, outlier flags and rolling revision
// statistics to a table that already carries revision deltas.
type Annotator struct {
	cfg      config.RevisionConfig
	episodes []Episode
	log      *zap.Logger
}

// NewAnnotator creates an Annotator. Zero config values fall back to the
// published BLS sampling error and a 12 month window.
func NewAnnotator(cfg config.RevisionConfig, episodes []Episode, log *zap.Logger) *Annotator {
	if cfg.StandardError == 0 {
		cfg.StandardError = 85
	}
	if cfg.CI90HalfWidth == 0 {
		cfg.CI90HalfWidth = 136
	}
	if cfg.ExtremeMultiple == 0 {
		cfg.ExtremeMultiple = 3
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = 12
	}
	if cfg.RollingMinPeriods <= 0 {
		cfg.RollingMinPeriods = 6
	}
	return &Annotator{
		cfg:      cfg,
		episodes: episodes,
		log:      log.With(zap.String("component", "revision")),
	}
}

// Annotate computes the deltas and writes every annotation column into t.
func (a *Annotator) Annotate(t *table.Table) error {
	if err := Compute(t); err != nil {
		return err
	}
	if err := a.bands(t); err != nil {
		return err
	}
	outliers, err := a.outliers(t)
	if err != nil {
		return err
	}
	for _, col := range RollingColumns {
		mean, std := Rolling(t.Floats(col), a.cfg.RollingWindow, a.cfg.RollingMinPeriods)
		if err := t.SetFloats(col+"_rolling_std", std); err != nil {
			return err
		}
		if err := t.SetFloats(col+"_rolling_mean", mean); err != nil {
			return err
		}
	}
	if err := t.SetBools(DirectionConsistent, directionConsistent(t.Floats(Rev2to1), t.Floats(RevFinal))); err != nil {
		return err
	}
	if err := t.SetStrings(Magnitude, magnitudes(t.Floats(RevFinal))); err != nil {
		return err
	}
	a.log.Info("annotated revisions", zap.Int("records", t.Len()), zap.Int("outliers", outliers))
	return nil
}

func (a *Annotator) bands(t *table.Table) error {
	r1 := floatsOrMissing(t, vintage.Release1)
	se := make([]table.Float, t.Len())
	lo := make([]table.Float, t.Len())
	hi := make([]table.Float, t.Len())
	for i := range se {
		se[i] = table.Some(a.cfg.StandardError)
		if r1[i].Valid {
			lo[i] = table.Some(r1[i].V - a.cfg.CI90HalfWidth)
			hi[i] = table.Some(r1[i].V + a.cfg.CI90HalfWidth)
		}
	}
	if err := t.SetFloats(StandardError, se); err != nil {
		return err
	}
	if err := t.SetFloats(CI90Lower, lo); err != nil {
		return err
	}
	return t.SetFloats(CI90Upper, hi)
}

func (a *Annotator) outliers(t *table.Table) (int, error) {
	rev := t.Floats(RevFinal)
	limit := a.cfg.ExtremeMultiple * a.cfg.StandardError
	flags := make([]sql.Null[bool], t.Len())
	n := 0
	for i := range flags {
		out := rev[i].Valid && math.Abs(rev[i].V) > limit
		for _, e := range a.episodes {
			if e.Contains(t.Date(i)) {
				out = true
				break
			}
		}
		flags[i] = sql.Null[bool]{V: out, Valid: true}
		if out {
			n++
		}
	}
	return n, t.SetBools(IsOutlier, flags)
}

// Rolling returns the trailing-window mean and sample standard deviation of
// vals. A window with fewer than minPeriods present values yields missing.
func Rolling(vals []table.Float, window, minPeriods int) (mean, std []table.Float) {
	mean = make([]table.Float, len(vals))
	std = make([]table.Float, len(vals))
	buf := make([]float64, 0, window)
	for i := range vals {
		buf = buf[:0]
		for j := max(0, i-window+1); j <= i; j++ {
			if vals[j].Valid {
				buf = append(buf, vals[j].V)
			}
		}
		if len(buf) < minPeriods || len(buf) == 0 {
			continue
		}
		m, s := stat.MeanStdDev(buf, nil)
		mean[i] = table.Some(m)
		if len(buf) > 1 {
			std[i] = table.Some(s)
		}
	}
	return mean, std
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func directionConsistent(early, final []table.Float) []sql.Null[bool] {
	out := make([]sql.Null[bool], len(early))
	for i := range early {
		if early[i].Valid && final[i].Valid {
			out[i] = sql.Null[bool]{V: sign(early[i].V) == sign(final[i].V), Valid: true}
		}
	}
	return out
}

// MagnitudeLabel buckets an absolute revision: Small up to 50, Medium up to
// 100, Large up to 200, Extreme beyond.
func MagnitudeLabel(rev float64) string {
	switch a := math.Abs(rev); {
	case a <= 50:
		return "Small"
	case a <= 100:
		return "Medium"
	case a <= 200:
		return "Large"
	default:
		return "Extreme"
	}
}

func magnitudes(rev []table.Float) []sql.Null[string] {
	out := make([]sql.Null[string], len(rev))
	for i, r := range rev {
		if r.Valid {
			out[i] = sql.Null[string]{V: MagnitudeLabel(r.V), Valid: true}
		}
	}
	return out
}
