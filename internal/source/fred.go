// Package source downloads FRED payroll snapshots and parses BLS release
// vintages into month-keyed tables.
package source

import (
	"context"
	"encoding/csv"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/nfp-revisions/internal/fetcher"
	"github.com/sells-group/nfp-revisions/internal/table"
)

// ErrNoSnapshot is returned when no saved snapshot exists for a series.
var ErrNoSnapshot = eris.New("source: no snapshot found")

// Point is one monthly observation of a FRED series.
type Point struct {
	Date  time.Time
	Value float64
}

// Snapshot is a full download of one FRED series.
type Snapshot struct {
	Series string
	Points []Point
}

// Start and End return the first and last months, or zero times when empty.
func (s *Snapshot) Start() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[0].Date
}

func (s *Snapshot) End() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Date
}

// Table returns the snapshot as a one-column table named column.
func (s *Snapshot) Table(column string) (*table.Table, error) {
	dates := make([]time.Time, len(s.Points))
	vals := make([]table.Float, len(s.Points))
	for i, p := range s.Points {
		dates[i] = p.Date
		vals[i] = table.Some(p.Value)
	}
	t := table.New(dates)
	if err := t.SetFloats(column, vals); err != nil {
		return nil, err
	}
	return t, nil
}

// Comparison summarizes value changes between two snapshots over their common months.
type Comparison struct {
	Status        string      `json:"status"` // compared, no_previous_data, no_overlap
	CommonRecords int         `json:"total_common_records"`
	Changed       int         `json:"records_changed"`
	MaxAbsChange  float64     `json:"max_absolute_change"`
	RevisionDates []time.Time `json:"revision_dates,omitempty"`
}

// FRED downloads series from the FRED graph CSV endpoint and manages dated snapshots.
type FRED struct {
	fetcher fetcher.Fetcher
	baseURL string
	dir     string
	log     *zap.Logger
}

// NewFRED creates a FRED client that stores snapshots under dir.
func NewFRED(f fetcher.Fetcher, baseURL, dir string, log *zap.Logger) *FRED {
	return &FRED{
		fetcher: f,
		baseURL: baseURL,
		dir:     dir,
		log:     log.With(zap.String("component", "fred")),
	}
}

func (c *FRED) seriesURL(series string) string {
	q := url.Values{"id": {series}}
	if strings.Contains(c.baseURL, "?") {
		return c.baseURL + "&" + q.Encode()
	}
	return c.baseURL + "?" + q.Encode()
}

// Download fetches the full history of series. Missing observations are dropped.
func (c *FRED) Download(ctx context.Context, series string) (*Snapshot, error) {
	c.log.Info("downloading series", zap.String("series", series))

	body, err := c.fetcher.Download(ctx, c.seriesURL(series))
	if err != nil {
		return nil, eris.Wrapf(err, "fred: download %s", series)
	}
	defer body.Close() //nolint:errcheck

	header, records, err := fetcher.ReadCSV(ctx, body)
	if err != nil {
		return nil, eris.Wrapf(err, "fred: read %s", series)
	}
	snap, err := parseSnapshot(series, header, records)
	if err != nil {
		return nil, err
	}
	if len(snap.Points) == 0 {
		return nil, eris.Errorf("fred: downloaded data for %s is empty", series)
	}

	c.log.Info("downloaded series",
		zap.String("series", series),
		zap.Int("records", len(snap.Points)),
		zap.String("start", table.FormatDate(snap.Start())),
		zap.String("end", table.FormatDate(snap.End())),
	)
	return snap, nil
}

// DownloadAll fetches several series concurrently, at most limit at a time.
func (c *FRED) DownloadAll(ctx context.Context, series []string, limit int) ([]*Snapshot, error) {
	if limit <= 0 {
		limit = 2
	}
	out := make([]*Snapshot, len(series))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, s := range series {
		g.Go(func() error {
			snap, err := c.Download(gctx, s)
			if err != nil {
				return err
			}
			out[i] = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// parseSnapshot accepts both the legacy DATE header and the current observation_date header.
func parseSnapshot(series string, header []string, records [][]string) (*Snapshot, error) {
	dateIdx, valIdx := -1, -1
	for i, h := range header {
		switch {
		case strings.EqualFold(h, "DATE"), strings.EqualFold(h, "observation_date"):
			dateIdx = i
		case strings.EqualFold(h, series):
			valIdx = i
		}
	}
	if dateIdx < 0 {
		return nil, eris.Wrapf(table.ErrMissingColumn, "fred: %s has no date column", series)
	}
	if valIdx < 0 {
		if len(header) != 2 {
			return nil, eris.Wrapf(table.ErrMissingColumn, "fred: %s value column", series)
		}
		valIdx = 1 - dateIdx
	}

	snap := &Snapshot{Series: series}
	for n, rec := range records {
		if dateIdx >= len(rec) || valIdx >= len(rec) {
			continue
		}
		raw := strings.ReplaceAll(rec[valIdx], ",", "")
		if raw == "" || raw == "." {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) {
			continue
		}
		d, err := table.ParseDate(rec[dateIdx])
		if err != nil {
			return nil, eris.Wrapf(err, "fred: %s record %d", series, n+1)
		}
		snap.Points = append(snap.Points, Point{Date: table.MonthStart(d), Value: v})
	}
	slices.SortFunc(snap.Points, func(a, b Point) int { return a.Date.Compare(b.Date) })
	return snap, nil
}

// SnapshotPath returns <dir>/<SERIES>_YYYYMMDD.csv for asOf.
func (c *FRED) SnapshotPath(series string, asOf time.Time) string {
	return filepath.Join(c.dir, series+"_"+asOf.Format("20060102")+".csv")
}

// Save writes the snapshot as a DATE,<SERIES> CSV stamped with asOf.
func (c *FRED) Save(snap *Snapshot, asOf time.Time) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", eris.Wrap(err, "fred: create snapshot dir")
	}
	path := c.SnapshotPath(snap.Series, asOf)
	f, err := os.Create(path)
	if err != nil {
		return "", eris.Wrap(err, "fred: create snapshot")
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write([]string{"DATE", snap.Series}); err != nil {
		return "", eris.Wrap(err, "fred: write header")
	}
	for _, p := range snap.Points {
		if err := w.Write([]string{table.FormatDate(p.Date), strconv.FormatFloat(p.Value, 'f', -1, 64)}); err != nil {
			return "", eris.Wrap(err, "fred: write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", eris.Wrap(err, "fred: flush snapshot")
	}
	c.log.Info("saved snapshot", zap.String("path", path))
	return path, nil
}

// Latest loads the newest saved snapshot for series. Snapshot names sort by date.
func (c *FRED) Latest(ctx context.Context, series string) (*Snapshot, string, error) {
	matches, err := filepath.Glob(filepath.Join(c.dir, series+"_*.csv"))
	if err != nil {
		return nil, "", eris.Wrap(err, "fred: glob snapshots")
	}
	if len(matches) == 0 {
		return nil, "", eris.Wrapf(ErrNoSnapshot, "series %s in %s", series, c.dir)
	}
	slices.Sort(matches)
	path := matches[len(matches)-1]

	f, err := os.Open(path)
	if err != nil {
		return nil, "", eris.Wrap(err, "fred: open snapshot")
	}
	defer f.Close() //nolint:errcheck

	header, records, err := fetcher.ReadCSV(ctx, f)
	if err != nil {
		return nil, "", eris.Wrapf(err, "fred: read %s", path)
	}
	snap, err := parseSnapshot(series, header, records)
	if err != nil {
		return nil, "", err
	}
	return snap, path, nil
}

// Compare reports which common months changed value between previous and current.
func Compare(current, previous *Snapshot) Comparison {
	if previous == nil || len(previous.Points) == 0 {
		return Comparison{Status: "no_previous_data"}
	}
	prev := make(map[time.Time]float64, len(previous.Points))
	for _, p := range previous.Points {
		prev[p.Date] = p.Value
	}

	cmp := Comparison{Status: "compared"}
	for _, p := range current.Points {
		old, ok := prev[p.Date]
		if !ok {
			continue
		}
		cmp.CommonRecords++
		diff := math.Abs(p.Value - old)
		if diff != 0 {
			cmp.Changed++
			cmp.RevisionDates = append(cmp.RevisionDates, p.Date)
			cmp.MaxAbsChange = math.Max(cmp.MaxAbsChange, diff)
		}
	}
	if cmp.CommonRecords == 0 {
		return Comparison{Status: "no_overlap"}
	}
	return cmp
}

// Refresh downloads each series, compares it with its latest snapshot, and
// saves a new snapshot stamped asOf.
func (c *FRED) Refresh(ctx context.Context, series []string, asOf time.Time) (map[string]Comparison, error) {
	snaps, err := c.DownloadAll(ctx, series, 2)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Comparison, len(snaps))
	for _, snap := range snaps {
		prev, _, err := c.Latest(ctx, snap.Series)
		if err != nil && !eris.Is(err, ErrNoSnapshot) {
			return nil, err
		}
		cmp := Compare(snap, prev)
		if cmp.Changed > 0 {
			c.log.Warn("revisions detected",
				zap.String("series", snap.Series),
				zap.Int("records_changed", cmp.Changed),
				zap.Float64("max_absolute_change", cmp.MaxAbsChange),
			)
			for _, d := range cmp.RevisionDates[:min(5, len(cmp.RevisionDates))] {
				c.log.Warn("revision detected", zap.String("series", snap.Series), zap.String("date", table.FormatDate(d)))
			}
		}
		if _, err := c.Save(snap, asOf); err != nil {
			return nil, err
		}
		out[snap.Series] = cmp
	}
	return out, nil
}
