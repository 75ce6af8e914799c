package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/nfp-revisions/internal/compare"
	"github.com/sells-group/nfp-revisions/internal/quality"
	"github.com/sells-group/nfp-revisions/internal/seasonal"
	"github.com/sells-group/nfp-revisions/internal/table"
)

// SummaryFile is the run summary document name under the data directory.
const SummaryFile = "seasonal_summary.json"

// Diagnostics is the per-series comparison document.
type Diagnostics struct {
	MeanAbsDiff         *float64 `json:"mean_abs_diff,omitempty"`
	MaxAbsDiff          *float64 `json:"max_abs_diff,omitempty"`
	Correlation         *float64 `json:"correlation,omitempty"`
	X11FitStat          *float64 `json:"x11_fit_stat,omitempty"`
	SEATSFitStat        *float64 `json:"seats_fit_stat,omitempty"`
	X11ResidualTestPval *float64 `json:"x11_residual_test_pval,omitempty"`
	SEATSResidualPval   *float64 `json:"seats_residual_test_pval,omitempty"`
	RecommendedMethod   string   `json:"recommended_method,omitempty"`
}

// NewDiagnostics builds the document for one comparison.
func NewDiagnostics(c *compare.MethodComparison) Diagnostics {
	return Diagnostics{
		MeanAbsDiff:         c.MeanAbsDiff,
		MaxAbsDiff:          c.MaxAbsDiff,
		Correlation:         c.Correlation,
		X11FitStat:          c.X11FitStat,
		SEATSFitStat:        c.SEATSFitStat,
		X11ResidualTestPval: c.X11ResidualP,
		SEATSResidualPval:   c.SEATSResidualP,
		RecommendedMethod:   string(c.Recommended),
	}
}

// DiagnosticsPath returns where a series' diagnostics document is written.
func (a *Assembler) DiagnosticsPath(series string) string {
	return filepath.Join(a.opts.DiagnosticsDir, series+"_seasonal_diagnostics.json")
}

// WriteDiagnostics writes the comparison document for one series.
func (a *Assembler) WriteDiagnostics(c *compare.MethodComparison) (string, error) {
	path := a.DiagnosticsPath(c.Series)
	return path, writeJSON(path, NewDiagnostics(c))
}

// Range is a closed min/max interval.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// SeriesStats describes one adjusted column.
type SeriesStats struct {
	ValidObservations int      `json:"valid_observations"`
	MeanValue         *float64 `json:"mean_value"`
	StdDev            *float64 `json:"std_dev"`
	Range             *Range   `json:"range"`
}

// DateRange is the first and last month of the table.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Summary is the run summary document.
type Summary struct {
	GeneratedAt         time.Time              `json:"generated_at"`
	RunID               string                 `json:"run_id"`
	TotalRecords        int                    `json:"total_records"`
	DateRange           *DateRange             `json:"date_range"`
	QualityDistribution map[string]int         `json:"quality_distribution"`
	SeriesStats         map[string]SeriesStats `json:"series_stats"`
	Failures            []Failure              `json:"failures"`
}

// Summarize builds the summary document from a merged table.
func (a *Assembler) Summarize(t *table.Table, out *Outcome) *Summary {
	s := &Summary{
		GeneratedAt:         a.now().UTC(),
		RunID:               out.RunID,
		TotalRecords:        t.Len(),
		QualityDistribution: quality.Distribution(t),
		SeriesStats:         make(map[string]SeriesStats),
		Failures:            out.Failures,
	}
	if s.Failures == nil {
		s.Failures = []Failure{}
	}
	if t.Len() > 0 {
		s.DateRange = &DateRange{
			Start: table.FormatDate(t.Date(0)),
			End:   table.FormatDate(t.Date(t.Len() - 1)),
		}
	}
	for _, series := range out.Series {
		for _, m := range seasonal.Methods {
			res := out.Result(series, m)
			if res == nil {
				continue
			}
			s.SeriesStats[series+"_"+string(m)] = describe(res.Adjusted())
		}
	}
	return s
}

func describe(vals []table.Float) SeriesStats {
	var xs []float64
	for _, v := range vals {
		if v.Valid {
			xs = append(xs, v.V)
		}
	}
	st := SeriesStats{ValidObservations: len(xs)}
	if len(xs) == 0 {
		return st
	}
	mean, std := stat.MeanStdDev(xs, nil)
	st.MeanValue = &mean
	if len(xs) > 1 {
		st.StdDev = &std
	}
	r := Range{Min: xs[0], Max: xs[0]}
	for _, x := range xs[1:] {
		r.Min, r.Max = min(r.Min, x), max(r.Max, x)
	}
	st.Range = &r
	return st
}

// SummaryPath returns where the summary document is written.
func (a *Assembler) SummaryPath() string {
	return filepath.Join(a.opts.DataDir, SummaryFile)
}

// WriteSummary writes the summary document.
func (a *Assembler) WriteSummary(s *Summary) (string, error) {
	path := a.SummaryPath()
	return path, writeJSON(path, s)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir for %s", path)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "report: marshal %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}
