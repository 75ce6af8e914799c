package quality

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/nfp-revisions/internal/revision"
	"github.com/sells-group/nfp-revisions/internal/table"
	"github.com/sells-group/nfp-revisions/internal/vintage"
)

const checkerVersion = "1.0"

var requiredColumns = []string{
	table.DateColumn,
	vintage.Release1,
	vintage.Final,
	revision.StandardError,
	revision.CI90Lower,
	revision.CI90Upper,
}

var knownColumns = []string{
	vintage.Release2, vintage.Release3,
	revision.Rev2to1, revision.Rev3to2, revision.RevFinal, revision.RevFinalTo3, revision.RevLatest,
	revision.IsOutlier, revision.Magnitude, revision.DirectionConsistent,
	Column,
}

var knownSuffixes = []string{
	"_rolling_mean", "_rolling_std", "_adj", "_method_diff", "_recommended_method",
}

// Report is the data-quality check result.
type Report struct {
	Metadata            Metadata                    `json:"metadata"`
	Structure           Structure                   `json:"structure"`
	MissingData         MissingData                 `json:"missing_data"`
	DateConsistency     DateConsistency             `json:"date_consistency"`
	ValueRanges         map[string]ValueRange       `json:"value_ranges"`
	RevisionConsistency map[string]RevisionMismatch `json:"revision_consistency"`
	SeasonalPatterns    map[string]SeasonalPattern  `json:"seasonal_patterns"`
	OverallScore        Score                       `json:"overall_score"`
}

type Metadata struct {
	CheckTimestamp time.Time `json:"check_timestamp"`
	Dataset        string    `json:"dataset"`
	CheckerVersion string    `json:"checker_version"`
}

type Structure struct {
	TotalRecords           int               `json:"total_records"`
	TotalColumns           int               `json:"total_columns"`
	ColumnNames            []string          `json:"column_names"`
	DataTypes              map[string]string `json:"data_types"`
	MissingExpectedColumns []string          `json:"missing_expected_columns"`
	UnexpectedColumns      []string          `json:"unexpected_columns"`
	HasAllRequiredColumns  bool              `json:"has_all_required_columns"`
}

type ColumnMissing struct {
	MissingCount      int     `json:"missing_count"`
	MissingPercentage float64 `json:"missing_percentage"`
	FirstValidIndex   *int    `json:"first_valid_index"`
	LastValidIndex    *int    `json:"last_valid_index"`
}

type MissingData struct {
	ByColumn             map[string]ColumnMissing `json:"by_column"`
	HighMissingColumns   []string                 `json:"high_missing_columns"`
	TotalCompleteRecords int                      `json:"total_complete_records"`
}

type DateConsistency struct {
	Start             string   `json:"start,omitempty"`
	End               string   `json:"end,omitempty"`
	SpanYears         float64  `json:"span_years"`
	UniqueDates       int      `json:"unique_dates"`
	DuplicateDates    int      `json:"duplicate_dates"`
	IrregularTimeGaps int      `json:"irregular_time_gaps"`
	MedianGapDays     *float64 `json:"median_gap_days,omitempty"`
	MaxGapDays        *float64 `json:"max_gap_days,omitempty"`
	MinGapDays        *float64 `json:"min_gap_days,omitempty"`
}

// ValueRange describes one numeric column. Level columns carry the
// negative, zero and plausible-range checks; revision columns carry the
// extreme-revision count.
type ValueRange struct {
	Min              float64 `json:"min"`
	Max              float64 `json:"max"`
	Mean             float64 `json:"mean"`
	Std              float64 `json:"std"`
	OutliersIQR      int     `json:"outliers_iqr"`
	NegativeValues   *int    `json:"negative_values,omitempty"`
	ZeroValues       *int    `json:"zero_values,omitempty"`
	ReasonableRange  *bool   `json:"reasonable_range,omitempty"`
	ExtremeRevisions *int    `json:"extreme_revisions,omitempty"`
}

type RevisionMismatch struct {
	InconsistentCount int      `json:"inconsistent_count"`
	MaxDifference     *float64 `json:"max_difference"`
}

type SeasonalPattern struct {
	MonthlyMeans           map[string]float64 `json:"monthly_means"`
	MonthlyStds            map[string]float64 `json:"monthly_stds"`
	SeasonalVariationCoeff *float64           `json:"seasonal_variation_coeff"`
}

type Score struct {
	Score  int      `json:"score"`
	Grade  string   `json:"grade"`
	Issues []string `json:"issues"`
}

// Checker runs the data-quality checks.
type Checker struct {
	log *zap.Logger
	now func() time.Time
}

// NewChecker creates a Checker.
func NewChecker(log *zap.Logger) *Checker {
	return &Checker{log: log.With(zap.String("component", "quality_check")), now: time.Now}
}

// Check inspects a table as stored, before normalization, so duplicate
// months are reported rather than rejected.
func (c *Checker) Check(dataset string, t *table.Table) *Report {
	r := &Report{
		Metadata: Metadata{
			CheckTimestamp: c.now().UTC(),
			Dataset:        dataset,
			CheckerVersion: checkerVersion,
		},
		Structure:           checkStructure(t),
		MissingData:         checkMissing(t),
		DateConsistency:     checkDates(t),
		ValueRanges:         checkRanges(t),
		RevisionConsistency: checkRevisions(t),
		SeasonalPatterns:    checkSeasonal(t),
	}
	r.OverallScore = score(r)
	c.log.Info("data quality check complete",
		zap.String("dataset", dataset),
		zap.Int("score", r.OverallScore.Score),
		zap.String("grade", r.OverallScore.Grade),
		zap.Strings("issues", r.OverallScore.Issues),
	)
	return r
}

// Save writes the report as indented JSON.
func (r *Report) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrapf(err, "quality: create dir for %s", path)
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return eris.Wrap(err, "quality: marshal report")
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "quality: write %s", path)
	}
	return nil
}

func checkStructure(t *table.Table) Structure {
	cols := append([]string{table.DateColumn}, t.Columns()...)
	s := Structure{
		TotalRecords: t.Len(),
		TotalColumns: len(cols),
		ColumnNames:  cols,
		DataTypes:    map[string]string{table.DateColumn: "date"},
	}
	for _, name := range t.Columns() {
		col, _ := t.Column(name)
		s.DataTypes[name] = string(col.Kind)
	}
	s.MissingExpectedColumns = []string{}
	for _, name := range requiredColumns {
		if name != table.DateColumn && !t.Has(name) {
			s.MissingExpectedColumns = append(s.MissingExpectedColumns, name)
		}
	}
	s.UnexpectedColumns = []string{}
	for _, name := range t.Columns() {
		if !expected(name) {
			s.UnexpectedColumns = append(s.UnexpectedColumns, name)
		}
	}
	s.HasAllRequiredColumns = len(s.MissingExpectedColumns) == 0
	return s
}

func expected(name string) bool {
	if slices.Contains(requiredColumns, name) || slices.Contains(knownColumns, name) {
		return true
	}
	for _, suffix := range knownSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func checkMissing(t *table.Table) MissingData {
	m := MissingData{
		ByColumn:           make(map[string]ColumnMissing),
		HighMissingColumns: []string{},
	}
	complete := make([]bool, t.Len())
	for i := range complete {
		complete[i] = true
	}
	for _, name := range t.Columns() {
		col, _ := t.Column(name)
		cm := ColumnMissing{}
		for i := 0; i < t.Len(); i++ {
			if !col.Valid(i) {
				cm.MissingCount++
				complete[i] = false
			}
		}
		if t.Len() > 0 {
			cm.MissingPercentage = float64(cm.MissingCount) / float64(t.Len()) * 100
		}
		if first, last, ok := t.Coverage(name); ok {
			cm.FirstValidIndex, cm.LastValidIndex = &first, &last
		}
		m.ByColumn[name] = cm
		if cm.MissingPercentage > 50 {
			m.HighMissingColumns = append(m.HighMissingColumns, name)
		}
	}
	for _, ok := range complete {
		if ok {
			m.TotalCompleteRecords++
		}
	}
	return m
}

func checkDates(t *table.Table) DateConsistency {
	var d DateConsistency
	if t.Len() == 0 {
		return d
	}
	dates := t.Dates()
	slices.SortFunc(dates, func(a, b time.Time) int { return a.Compare(b) })
	first, last := dates[0], dates[len(dates)-1]
	d.Start, d.End = table.FormatDate(first), table.FormatDate(last)
	d.SpanYears = last.Sub(first).Hours() / 24 / 365.25

	seen := make(map[time.Time]bool, len(dates))
	for _, dt := range dates {
		if seen[dt] {
			d.DuplicateDates++
			continue
		}
		seen[dt] = true
	}
	d.UniqueDates = len(seen)

	if len(dates) < 2 {
		return d
	}
	gaps := make([]float64, 0, len(dates)-1)
	for i := 1; i < len(dates); i++ {
		days := math.Floor(dates[i].Sub(dates[i-1]).Hours() / 24)
		gaps = append(gaps, days)
		if days < 28 || days > 31 {
			d.IrregularTimeGaps++
		}
	}
	sort.Float64s(gaps)
	med := median(gaps)
	lo, hi := gaps[0], gaps[len(gaps)-1]
	d.MedianGapDays, d.MinGapDays, d.MaxGapDays = &med, &lo, &hi
	return d
}

// levelColumn reports whether a column holds employment levels.
func levelColumn(name string) bool {
	if strings.HasPrefix(name, "rev_") || strings.HasSuffix(name, "_method_diff") {
		return false
	}
	for _, s := range []string{"release", "final", "nonfarm", "payroll"} {
		if strings.Contains(strings.ToLower(name), s) {
			return true
		}
	}
	return false
}

func checkRanges(t *table.Table) map[string]ValueRange {
	out := make(map[string]ValueRange)
	for _, name := range t.Columns() {
		isLevel := levelColumn(name)
		isRev := strings.HasPrefix(name, "rev_")
		if !isLevel && !isRev {
			continue
		}
		vals := present(t.Floats(name))
		if len(vals) == 0 {
			continue
		}
		vr := describe(vals)
		if isLevel {
			var neg, zero int
			for _, v := range vals {
				if v < 0 {
					neg++
				}
				if v == 0 {
					zero++
				}
			}
			// Levels are in thousands: 100M to 200M jobs.
			ok := vr.Min >= 100_000 && vr.Max <= 200_000
			vr.NegativeValues, vr.ZeroValues, vr.ReasonableRange = &neg, &zero, &ok
		} else {
			extreme := 0
			for _, v := range vals {
				if math.Abs(v) > 1000 {
					extreme++
				}
			}
			vr.ExtremeRevisions = &extreme
		}
		out[name] = vr
	}
	return out
}

func describe(vals []float64) ValueRange {
	mean, std := stat.MeanStdDev(vals, nil)
	if len(vals) < 2 {
		std = 0
	}
	return ValueRange{
		Min:         slices.Min(vals),
		Max:         slices.Max(vals),
		Mean:        mean,
		Std:         std,
		OutliersIQR: iqrOutliers(vals),
	}
}

// iqrOutliers counts values outside 1.5 interquartile ranges of the quartiles.
func iqrOutliers(vals []float64) int {
	sorted := slices.Clone(vals)
	sort.Float64s(sorted)
	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lo, hi := q1-1.5*iqr, q3+1.5*iqr
	n := 0
	for _, v := range sorted {
		if v < lo || v > hi {
			n++
		}
	}
	return n
}

// quantile interpolates linearly between closest ranks of sorted values.
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	h := p * float64(len(sorted)-1)
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}

func checkRevisions(t *table.Table) map[string]RevisionMismatch {
	out := make(map[string]RevisionMismatch)
	pairs := []struct{ rev, later, earlier string }{
		{revision.Rev2to1, vintage.Release2, vintage.Release1},
		{revision.RevFinal, vintage.Final, vintage.Release1},
	}
	for _, p := range pairs {
		if !t.Has(p.rev) || !t.Has(p.later) || !t.Has(p.earlier) {
			continue
		}
		stored, later, earlier := t.Floats(p.rev), t.Floats(p.later), t.Floats(p.earlier)
		var m RevisionMismatch
		for i := range stored {
			if !stored[i].Valid || !later[i].Valid || !earlier[i].Valid {
				continue
			}
			diff := math.Abs(later[i].V - earlier[i].V - stored[i].V)
			if diff > 0.01 {
				m.InconsistentCount++
			}
			if m.MaxDifference == nil || diff > *m.MaxDifference {
				m.MaxDifference = &diff
			}
		}
		out[p.rev] = m
	}
	return out
}

func checkSeasonal(t *table.Table) map[string]SeasonalPattern {
	out := make(map[string]SeasonalPattern)
	for _, name := range []string{vintage.Release1, vintage.Final} {
		vals := t.Floats(name)
		if vals == nil {
			continue
		}
		byMonth := make(map[time.Month][]float64)
		for i, v := range vals {
			if v.Valid {
				m := t.Date(i).Month()
				byMonth[m] = append(byMonth[m], v.V)
			}
		}
		sp := SeasonalPattern{
			MonthlyMeans: make(map[string]float64),
			MonthlyStds:  make(map[string]float64),
		}
		var means []float64
		for m := time.January; m <= time.December; m++ {
			xs := byMonth[m]
			if len(xs) == 0 {
				continue
			}
			mean, std := stat.MeanStdDev(xs, nil)
			key := strconv.Itoa(int(m))
			sp.MonthlyMeans[key] = mean
			if len(xs) > 1 {
				sp.MonthlyStds[key] = std
			}
			means = append(means, mean)
		}
		if len(means) > 1 {
			mean, std := stat.MeanStdDev(means, nil)
			if mean != 0 {
				cv := std / mean
				sp.SeasonalVariationCoeff = &cv
			}
		}
		out[name] = sp
	}
	return out
}

func score(r *Report) Score {
	s := Score{Score: 100, Issues: []string{}}
	if !r.Structure.HasAllRequiredColumns {
		s.Score -= 20
		s.Issues = append(s.Issues, "Missing required columns")
	}
	if n := len(r.MissingData.HighMissingColumns); n > 0 {
		s.Score -= min(n*10, 30)
		s.Issues = append(s.Issues, strconv.Itoa(n)+" columns with high missing data")
	}
	if r.DateConsistency.DuplicateDates > 0 {
		s.Score -= 10
		s.Issues = append(s.Issues, "Duplicate dates found")
	}
	revs := make([]string, 0, len(r.RevisionConsistency))
	for name := range r.RevisionConsistency {
		revs = append(revs, name)
	}
	sort.Strings(revs)
	for _, name := range revs {
		if r.RevisionConsistency[name].InconsistentCount > 0 {
			s.Score -= 5
			s.Issues = append(s.Issues, "Revision calculation inconsistencies in "+name)
		}
	}
	s.Score = max(s.Score, 0)
	s.Grade = Grade(s.Score)
	return s
}

// Grade maps a 0-100 score to a letter.
func Grade(score int) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

func present(vals []table.Float) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if v.Valid && !math.IsNaN(v.V) {
			out = append(out, v.V)
		}
	}
	return out
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
