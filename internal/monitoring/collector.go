package monitoring

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/nfp-revisions/internal/quality"
	"github.com/sells-group/nfp-revisions/internal/report"
	"github.com/sells-group/nfp-revisions/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Runs within the lookback window.
	RunsTotal       int     `json:"runs_total"`
	RunsComplete    int     `json:"runs_complete"`
	RunsFailed      int     `json:"runs_failed"`
	RunsRunning     int     `json:"runs_running"`
	RunFailRate     float64 `json:"run_fail_rate"`
	AvgDurationSecs float64 `json:"avg_duration_secs"`

	// Latest completed run.
	LatestRunID    string   `json:"latest_run_id,omitempty"`
	SeriesFailures int      `json:"series_failures"`
	FailedSeries   []string `json:"failed_series,omitempty"`
	PoorShare      float64  `json:"poor_share"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// maxRuns caps how much run history one collection reads.
const maxRuns = 10000

// Collector gathers metrics from the run log.
type Collector struct {
	runs store.RunLog
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs store.RunLog) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, maxRuns)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var totalDur time.Duration
	var durCount int
	var latest *store.Run
	for i := range runs {
		r := &runs[i]
		if lookbackHours > 0 && r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case store.RunStatusComplete:
			snap.RunsComplete++
			if r.CompletedAt != nil {
				totalDur += r.CompletedAt.Sub(r.StartedAt)
				durCount++
			}
			if latest == nil || r.StartedAt.After(latest.StartedAt) {
				latest = r
			}
		case store.RunStatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsRunning++
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if durCount > 0 {
		snap.AvgDurationSecs = totalDur.Seconds() / float64(durCount)
	}

	if latest != nil {
		snap.LatestRunID = latest.ID
		if err := applyLatest(snap, latest.Summary); err != nil {
			return nil, eris.Wrapf(err, "monitoring: decode summary of run %s", latest.ID)
		}
	}
	return snap, nil
}

// runSummary is the part of a recorded run result the collector reads.
type runSummary struct {
	Summary *report.Summary `json:"summary"`
}

func applyLatest(snap *MetricsSnapshot, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var rs runSummary
	if err := json.Unmarshal(raw, &rs); err != nil {
		return err
	}
	if rs.Summary == nil {
		return nil
	}

	snap.SeriesFailures = len(rs.Summary.Failures)
	for _, f := range rs.Summary.Failures {
		snap.FailedSeries = append(snap.FailedSeries, f.Series+"/"+f.Method)
	}

	good := rs.Summary.QualityDistribution[quality.Good]
	poor := rs.Summary.QualityDistribution[quality.Poor]
	if good+poor > 0 {
		snap.PoorShare = float64(poor) / float64(good+poor)
	}
	return nil
}
