package revision

import (
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/nfp-revisions/internal/table"
	"github.com/sells-group/nfp-revisions/internal/vintage"
)

// Summary describes a merged revision table.
type Summary struct {
	TotalRecords int            `json:"total_records"`
	DateRange    DateRange      `json:"date_range"`
	MissingData  map[string]int `json:"missing_data"`
	Revisions    *Stats         `json:"revision_statistics,omitempty"`
	Outliers     OutlierCounts  `json:"outliers"`
}

// DateRange is the first and last month of a table.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Stats summarizes rev_final over the months where it is present.
type Stats struct {
	Mean        float64   `json:"mean_revision"`
	Median      float64   `json:"median_revision"`
	StdDev      float64   `json:"std_revision"`
	MaxPositive float64   `json:"max_positive_revision"`
	MaxNegative float64   `json:"max_negative_revision"`
	Frequency   Frequency `json:"revision_frequency"`
}

// Frequency counts revisions by sign.
type Frequency struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Zero     int `json:"zero"`
}

// OutlierCounts reports how many months are flagged.
type OutlierCounts struct {
	Total   int     `json:"total_outliers"`
	Percent float64 `json:"outlier_percentage"`
}

// Summarize reports coverage, rev_final statistics and outlier counts for an
// annotated table.
func Summarize(t *table.Table) Summary {
	s := Summary{
		TotalRecords: t.Len(),
		MissingData:  make(map[string]int),
	}
	if t.Len() > 0 {
		s.DateRange = DateRange{Start: table.FormatDate(t.Date(0)), End: table.FormatDate(t.Date(t.Len() - 1))}
	}
	for _, name := range []string{vintage.Release1, vintage.Release2, vintage.Release3, vintage.Final} {
		c, ok := t.Column(name)
		if !ok {
			continue
		}
		for i := range t.Len() {
			if !c.Valid(i) {
				s.MissingData[name]++
			}
		}
		if _, counted := s.MissingData[name]; !counted {
			s.MissingData[name] = 0
		}
	}

	var revs []float64
	for _, v := range t.Floats(RevFinal) {
		if v.Valid {
			revs = append(revs, v.V)
		}
	}
	if len(revs) > 0 {
		s.Revisions = revisionStats(revs)
	}

	for _, f := range t.Bools(IsOutlier) {
		if f.Valid && f.V {
			s.Outliers.Total++
		}
	}
	if t.Len() > 0 {
		s.Outliers.Percent = float64(s.Outliers.Total) / float64(t.Len()) * 100
	}
	return s
}

func revisionStats(revs []float64) *Stats {
	sorted := slices.Clone(revs)
	slices.Sort(sorted)

	st := &Stats{
		Mean:        stat.Mean(revs, nil),
		Median:      median(sorted),
		MaxPositive: sorted[len(sorted)-1],
		MaxNegative: sorted[0],
	}
	if len(revs) > 1 {
		st.StdDev = stat.StdDev(revs, nil)
	}
	for _, r := range revs {
		switch sign(r) {
		case 1:
			st.Frequency.Positive++
		case -1:
			st.Frequency.Negative++
		default:
			st.Frequency.Zero++
		}
	}
	return st
}

// median of an ascending slice; even lengths average the middle pair.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
