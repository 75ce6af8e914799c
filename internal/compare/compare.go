// Package compare measures how far two seasonal adjustments of the same
// series disagree and picks one of them.
package compare

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/nfp-revisions/internal/seasonal"
)

// DefaultMethod is recommended whenever a fit statistic is unavailable.
const DefaultMethod = seasonal.MethodX11

// MethodComparison summarizes the disagreement between the x11 and seats
// adjustments of one series. Pointer fields are nil when they cannot be
// computed. Recommended is empty when either side is missing.
type MethodComparison struct {
	Series         string
	MeanAbsDiff    *float64
	MaxAbsDiff     *float64
	Correlation    *float64
	X11FitStat     *float64
	SEATSFitStat   *float64
	X11ResidualP   *float64
	SEATSResidualP *float64
	Recommended    seasonal.Method
	DefaultApplied bool
	Pairs          int
}

// Available reports whether both adjustments were present.
func (c *MethodComparison) Available() bool { return c.Recommended != "" }

// Compare compares x11 and seats results for one series. Either may be nil;
// then the comparison carries only the present side's diagnostics and no
// recommendation.
func Compare(series string, x11, seats *seasonal.AdjustmentResult) *MethodComparison {
	c := &MethodComparison{Series: series}
	if x11 != nil {
		d := x11.Diagnostics()
		c.X11FitStat, c.X11ResidualP = d.FitStat, d.ResidualPValue
	}
	if seats != nil {
		d := seats.Diagnostics()
		c.SEATSFitStat, c.SEATSResidualP = d.FitStat, d.ResidualPValue
	}
	if x11 == nil || seats == nil {
		return c
	}

	a, b := x11.Adjusted(), seats.Adjusted()
	var xs, ys []float64
	for i := range min(len(a), len(b)) {
		if a[i].Valid && b[i].Valid {
			xs = append(xs, a[i].V)
			ys = append(ys, b[i].V)
		}
	}
	c.Pairs = len(xs)
	if c.Pairs > 0 {
		var sum, hi float64
		for i := range xs {
			d := math.Abs(xs[i] - ys[i])
			sum += d
			hi = max(hi, d)
		}
		mean := sum / float64(c.Pairs)
		c.MeanAbsDiff, c.MaxAbsDiff = &mean, &hi
	}
	if c.Pairs > 1 {
		if r := stat.Correlation(xs, ys, nil); !math.IsNaN(r) {
			c.Correlation = &r
		}
	}

	c.Recommended, c.DefaultApplied = Recommend(c.X11FitStat, c.SEATSFitStat)
	return c
}

// Recommend picks the method with the lower fit statistic. Ties go to x11.
// When either statistic is missing it returns DefaultMethod and true.
func Recommend(x11Fit, seatsFit *float64) (seasonal.Method, bool) {
	if x11Fit == nil || seatsFit == nil {
		return DefaultMethod, true
	}
	if *seatsFit < *x11Fit {
		return seasonal.MethodSEATS, false
	}
	return seasonal.MethodX11, false
}

// MethodOrDefault returns the recommendation, or def when none was made.
func (c *MethodComparison) MethodOrDefault(def seasonal.Method) seasonal.Method {
	if c == nil || c.Recommended == "" {
		return def
	}
	return c.Recommended
}
