package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/nfp-revisions/internal/fetcher"
	"github.com/sells-group/nfp-revisions/internal/resilience"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func newTestFetcher() fetcher.Fetcher {
	return fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		Timeout:      5 * time.Second,
		MaxRetries:   1,
		Retry:        &resilience.RetryConfig{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
		RateLimiters: map[string]*fetcher.AdaptiveLimiter{},
		Logger:       zap.NewNop(),
	})
}

func fredServer(t *testing.T, bodies map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Query().Get("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body)) //nolint:errcheck
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFRED_DownloadDropsMissing(t *testing.T) {
	srv := fredServer(t, map[string]string{
		"PAYEMS": "observation_date,PAYEMS\n2024-02-01,157800\n2024-01-01,157500\n2024-03-01,.\n2024-04-01,\n",
	})
	c := NewFRED(newTestFetcher(), srv.URL+"/graph/fredgraph.csv", t.TempDir(), zap.NewNop())

	snap, err := c.Download(context.Background(), "PAYEMS")
	require.NoError(t, err)
	assert.Equal(t, []Point{
		{Date: month(2024, 1), Value: 157500},
		{Date: month(2024, 2), Value: 157800},
	}, snap.Points)
	assert.Equal(t, month(2024, 1), snap.Start())
	assert.Equal(t, month(2024, 2), snap.End())
}

func TestFRED_DownloadEmptyIsError(t *testing.T) {
	srv := fredServer(t, map[string]string{"PAYEMS": "DATE,PAYEMS\n2024-01-01,.\n"})
	c := NewFRED(newTestFetcher(), srv.URL, t.TempDir(), zap.NewNop())

	_, err := c.Download(context.Background(), "PAYEMS")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestFRED_DownloadNotFound(t *testing.T) {
	srv := fredServer(t, map[string]string{})
	c := NewFRED(newTestFetcher(), srv.URL, t.TempDir(), zap.NewNop())

	_, err := c.Download(context.Background(), "NOPE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fred: download NOPE")
}

func TestFRED_DownloadAll(t *testing.T) {
	srv := fredServer(t, map[string]string{
		"PAYEMS": "DATE,PAYEMS\n2024-01-01,157500\n",
		"USPRIV": "DATE,USPRIV\n2024-01-01,134900\n",
	})
	c := NewFRED(newTestFetcher(), srv.URL, t.TempDir(), zap.NewNop())

	snaps, err := c.DownloadAll(context.Background(), []string{"PAYEMS", "USPRIV"}, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "PAYEMS", snaps[0].Series)
	assert.Equal(t, 134900.0, snaps[1].Points[0].Value)
}

func TestParseSnapshot_MissingDate(t *testing.T) {
	_, err := parseSnapshot("PAYEMS", []string{"when", "PAYEMS"}, nil)
	assert.Error(t, err)
}

func TestFRED_SaveAndLatest(t *testing.T) {
	dir := t.TempDir()
	c := NewFRED(newTestFetcher(), "", dir, zap.NewNop())

	old := &Snapshot{Series: "PAYEMS", Points: []Point{{month(2024, 1), 157500}}}
	cur := &Snapshot{Series: "PAYEMS", Points: []Point{{month(2024, 1), 157450}, {month(2024, 2), 157800}}}

	_, err := c.Save(old, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	path, err := c.Save(cur, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "PAYEMS_20240308.csv"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "DATE,PAYEMS\n2024-01-01,157450\n2024-02-01,157800\n", string(raw))

	latest, latestPath, err := c.Latest(context.Background(), "PAYEMS")
	require.NoError(t, err)
	assert.Equal(t, path, latestPath)
	assert.Equal(t, cur.Points, latest.Points)
}

func TestFRED_LatestNone(t *testing.T) {
	c := NewFRED(newTestFetcher(), "", t.TempDir(), zap.NewNop())
	_, _, err := c.Latest(context.Background(), "PAYEMS")
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestCompare(t *testing.T) {
	prev := &Snapshot{Points: []Point{{month(2024, 1), 100}, {month(2024, 2), 200}}}
	cur := &Snapshot{Points: []Point{{month(2024, 1), 100}, {month(2024, 2), 180}, {month(2024, 3), 300}}}

	cmp := Compare(cur, prev)
	assert.Equal(t, "compared", cmp.Status)
	assert.Equal(t, 2, cmp.CommonRecords)
	assert.Equal(t, 1, cmp.Changed)
	assert.Equal(t, 20.0, cmp.MaxAbsChange)
	assert.Equal(t, []time.Time{month(2024, 2)}, cmp.RevisionDates)

	assert.Equal(t, "no_previous_data", Compare(cur, nil).Status)
	assert.Equal(t, "no_overlap", Compare(cur, &Snapshot{Points: []Point{{month(2020, 1), 1}}}).Status)
}

func TestFRED_RefreshLogsRevisions(t *testing.T) {
	srv := fredServer(t, map[string]string{"PAYEMS": "DATE,PAYEMS\n2024-01-01,157450\n2024-02-01,157800\n"})
	dir := t.TempDir()
	core, logs := observer.New(zapcore.WarnLevel)
	c := NewFRED(newTestFetcher(), srv.URL, dir, zap.New(core))

	_, err := c.Save(&Snapshot{Series: "PAYEMS", Points: []Point{{month(2024, 1), 157500}}}, month(2024, 2))
	require.NoError(t, err)

	out, err := c.Refresh(context.Background(), []string{"PAYEMS"}, time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, out["PAYEMS"].Changed)
	assert.Equal(t, 50.0, out["PAYEMS"].MaxAbsChange)
	assert.Equal(t, 1, logs.FilterMessage("revisions detected").Len())

	_, err = os.Stat(filepath.Join(dir, "PAYEMS_20240308.csv"))
	assert.NoError(t, err)
}

func TestSnapshot_Table(t *testing.T) {
	snap := &Snapshot{Points: []Point{{month(2024, 1), 1}, {month(2024, 2), 2}}}
	tb, err := snap.Table("final")
	require.NoError(t, err)
	assert.Equal(t, 2, tb.Len())
	assert.Equal(t, 2.0, tb.Floats("final")[1].V)
}
