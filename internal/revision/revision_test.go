package revision

import (
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/config"
	"github.com/sells-group/nfp-revisions/internal/table"
	"github.com/sells-group/nfp-revisions/internal/vintage"
)

func months(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, i, 0)
	}
	return out
}

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

var none = table.Float{}

func some(v float64) table.Float { return table.Some(v) }

func TestCompute_Deltas(t *testing.T) {
	tb := table.New(months(month(2024, 1), 4))
	require.NoError(t, tb.SetFloats(vintage.Release1, []table.Float{some(100), some(200), none, some(400)}))
	require.NoError(t, tb.SetFloats(vintage.Release2, []table.Float{some(110), none, some(300), some(420)}))
	require.NoError(t, tb.SetFloats(vintage.Release3, []table.Float{some(115), none, none, none}))
	require.NoError(t, tb.SetFloats(vintage.Final, []table.Float{some(120), some(190), some(310), none}))

	require.NoError(t, Compute(tb))

	assert.Equal(t, []table.Float{some(10), none, none, some(20)}, tb.Floats(Rev2to1))
	assert.Equal(t, []table.Float{some(5), none, none, none}, tb.Floats(Rev3to2))
	assert.Equal(t, []table.Float{some(20), some(-10), none, none}, tb.Floats(RevFinal))
	assert.Equal(t, []table.Float{some(5), none, none, none}, tb.Floats(RevFinalTo3))
	// Falls back to the latest present vintage: release3, then release2, then release1.
	assert.Equal(t, []table.Float{some(5), some(-10), some(10), none}, tb.Floats(RevLatest))
}

func TestCompute_MissingColumnsGiveMissingDeltas(t *testing.T) {
	tb := table.New(months(month(2024, 1), 2))
	require.NoError(t, tb.SetFloats(vintage.Final, []table.Float{some(1), some(2)}))

	require.NoError(t, Compute(tb))
	for _, col := range []string{Rev2to1, Rev3to2, RevFinal, RevFinalTo3, RevLatest} {
		assert.Equal(t, []table.Float{none, none}, tb.Floats(col), col)
	}
}

func TestCompute_RevFinalIsExact(t *testing.T) {
	tb := table.New(months(month(2024, 1), 1))
	require.NoError(t, tb.SetFloats(vintage.Release1, []table.Float{some(157_431.7)}))
	require.NoError(t, tb.SetFloats(vintage.Final, []table.Float{some(157_212.3)}))
	require.NoError(t, Compute(tb))
	assert.Equal(t, 157_212.3-157_431.7, tb.Floats(RevFinal)[0].V)
}

func TestLoadEpisodes_Default(t *testing.T) {
	eps, err := LoadEpisodes("")
	require.NoError(t, err)
	require.Len(t, eps, 2)
	assert.Equal(t, "financial_crisis", eps[0].Name)
	assert.Equal(t, month(2008, 9), eps[0].Start)
	assert.Equal(t, month(2009, 3), eps[0].End)
	assert.True(t, eps[1].Contains(time.Date(2020, 6, 15, 0, 0, 0, 0, time.UTC)))
	assert.False(t, eps[1].Contains(month(2020, 7)))
}

func TestLoadEpisodes_File(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("episodes:\n  - name: strike\n    start: \"2023-10-01\"\n    end: \"2023-11\"\n"), 0o644))
	eps, err := LoadEpisodes(good)
	require.NoError(t, err)
	assert.Equal(t, []Episode{{Name: "strike", Start: month(2023, 10), End: month(2023, 11)}}, eps)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("episodes:\n  - name: x\n    start: \"2024-05\"\n    end: \"2024-01\"\n"), 0o644))
	_, err = LoadEpisodes(bad)
	assert.Error(t, err)

	_, err = LoadEpisodes(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestRolling(t *testing.T) {
	vals := []table.Float{some(1), some(2), none, some(3), some(4)}
	mean, std := Rolling(vals, 3, 2)

	assert.Equal(t, []table.Float{none, some(1.5), some(1.5), some(2.5), some(3.5)}, mean)
	assert.False(t, std[0].Valid)
	assert.InDelta(t, math.Sqrt(0.5), std[1].V, 1e-12)
	assert.InDelta(t, math.Sqrt(0.5), std[4].V, 1e-12)
}

func TestMagnitudeLabel(t *testing.T) {
	assert.Equal(t, "Small", MagnitudeLabel(0))
	assert.Equal(t, "Small", MagnitudeLabel(-50))
	assert.Equal(t, "Medium", MagnitudeLabel(50.5))
	assert.Equal(t, "Large", MagnitudeLabel(200))
	assert.Equal(t, "Extreme", MagnitudeLabel(-201))
}

func TestAnnotator_Annotate(t *testing.T) {
	dates := []time.Time{month(2008, 8), month(2008, 9), month(2019, 1), month(2019, 2)}
	tb := table.New(dates)
	require.NoError(t, tb.SetFloats(vintage.Release1, []table.Float{some(100), some(200), some(300), none}))
	require.NoError(t, tb.SetFloats(vintage.Release2, []table.Float{some(90), some(210), some(310), none}))
	require.NoError(t, tb.SetFloats(vintage.Final, []table.Float{some(80), some(220), some(600), some(5)}))

	eps, err := LoadEpisodes("")
	require.NoError(t, err)
	a := NewAnnotator(config.RevisionConfig{}, eps, zap.NewNop())
	require.NoError(t, a.Annotate(tb))

	assert.Equal(t, []table.Float{some(85), some(85), some(85), some(85)}, tb.Floats(StandardError))
	assert.Equal(t, []table.Float{some(-36), some(64), some(164), none}, tb.Floats(CI90Lower))
	assert.Equal(t, []table.Float{some(236), some(336), some(436), none}, tb.Floats(CI90Upper))

	// September 2008 is in an episode, January 2019 revised by 300 > 3 * 85.
	assert.Equal(t, []sql.Null[bool]{
		{V: false, Valid: true}, {V: true, Valid: true}, {V: true, Valid: true}, {V: false, Valid: true},
	}, tb.Bools(IsOutlier))

	assert.Equal(t, []sql.Null[bool]{
		{V: true, Valid: true}, {V: true, Valid: true}, {V: true, Valid: true}, {},
	}, tb.Bools(DirectionConsistent))

	assert.Equal(t, []sql.Null[string]{
		{V: "Small", Valid: true}, {V: "Small", Valid: true}, {V: "Extreme", Valid: true}, {},
	}, tb.Strings(Magnitude))

	for _, col := range RollingColumns {
		assert.True(t, tb.Has(col+"_rolling_mean"))
		assert.True(t, tb.Has(col+"_rolling_std"))
	}
}

func TestSummarize(t *testing.T) {
	tb := table.New(months(month(2024, 1), 4))
	require.NoError(t, tb.SetFloats(vintage.Release1, []table.Float{some(100), some(100), some(100), none}))
	require.NoError(t, tb.SetFloats(vintage.Final, []table.Float{some(110), some(90), some(100), some(1)}))
	eps, err := LoadEpisodes("")
	require.NoError(t, err)
	require.NoError(t, NewAnnotator(config.RevisionConfig{}, eps, zap.NewNop()).Annotate(tb))

	s := Summarize(tb)
	assert.Equal(t, 4, s.TotalRecords)
	assert.Equal(t, DateRange{Start: "2024-01-01", End: "2024-04-01"}, s.DateRange)
	assert.Equal(t, map[string]int{"release1": 1, "final": 0}, s.MissingData)
	require.NotNil(t, s.Revisions)
	assert.Equal(t, 0.0, s.Revisions.Mean)
	assert.Equal(t, 0.0, s.Revisions.Median)
	assert.Equal(t, 10.0, s.Revisions.MaxPositive)
	assert.Equal(t, -10.0, s.Revisions.MaxNegative)
	assert.Equal(t, Frequency{Positive: 1, Negative: 1, Zero: 1}, s.Revisions.Frequency)
	assert.Equal(t, 0, s.Outliers.Total)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.0, median([]float64{1, 2, 3}))
	assert.Equal(t, 2.5, median([]float64{1, 2, 3, 4}))
}
