// Package pipeline runs the revision and seasonal adjustment stages in
// order and records each run.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/compare"
	"github.com/sells-group/nfp-revisions/internal/config"
	"github.com/sells-group/nfp-revisions/internal/quality"
	"github.com/sells-group/nfp-revisions/internal/report"
	"github.com/sells-group/nfp-revisions/internal/revision"
	"github.com/sells-group/nfp-revisions/internal/seasonal"
	"github.com/sells-group/nfp-revisions/internal/store"
	"github.com/sells-group/nfp-revisions/internal/table"
	"github.com/sells-group/nfp-revisions/internal/vintage"
)

// PhaseStatus is the outcome of one stage.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
)

// PhaseResult records one stage of a run.
type PhaseResult struct {
	Name       string         `json:"name"`
	Status     PhaseStatus    `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Result is what a run produced.
type Result struct {
	RunID       string                               `json:"run_id"`
	Phases      []PhaseResult                        `json:"phases"`
	Summary     *report.Summary                      `json:"summary,omitempty"`
	Comparisons map[string]*compare.MethodComparison `json:"-"`
}

// Pipeline orchestrates load, revisions, adjustment, comparison, quality
// and publishing over the persisted dataset.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	revisions *revision.Annotator
	adapter   *seasonal.Adapter
	assembler *report.Assembler
	log       *zap.Logger
	newID     func() string
}

// New creates a Pipeline. model is the external seasonal adjustment program.
func New(cfg *config.Config, st store.Store, model seasonal.SeasonalModel, episodes []revision.Episode, log *zap.Logger) *Pipeline {
	defaultMethod, err := seasonal.ParseMethod(cfg.Quality.DefaultMethod)
	if err != nil {
		defaultMethod = compare.DefaultMethod
	}
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		revisions: revision.NewAnnotator(cfg.Revision, episodes, log),
		adapter:   seasonal.NewAdapter(model, cfg.Seasonal, log),
		assembler: report.NewAssembler(st, quality.NewAnnotator(cfg.Quality.DisagreementThreshold, log), report.Options{
			Dataset:        cfg.Store.Dataset,
			DataDir:        cfg.Paths.DataDir,
			DiagnosticsDir: cfg.Paths.DiagnosticsDir,
			DefaultMethod:  defaultMethod,
		}, log),
		log:   log.With(zap.String("component", "pipeline")),
		newID: func() string { return uuid.New().String() },
	}
}

// Run executes every stage and records the run under command. Dataset
// errors abort the run; a series that cannot be adjusted is recorded as a
// failure and the run continues.
func (p *Pipeline) Run(ctx context.Context, command string) (*Result, error) {
	res := &Result{RunID: p.newID()}
	log := p.log.With(zap.String("run_id", res.RunID), zap.String("command", command))
	log.Info("pipeline: starting run")

	if err := p.store.StartRun(ctx, res.RunID, command); err != nil {
		return nil, eris.Wrap(err, "pipeline: start run")
	}

	err := p.run(ctx, res, log)
	if err != nil {
		if failErr := p.store.FailRun(ctx, res.RunID, err.Error()); failErr != nil {
			log.Warn("pipeline: failed to record run failure", zap.Error(failErr))
		}
		log.Error("pipeline: run failed", zap.Error(err))
		return res, err
	}

	summary, mErr := json.Marshal(res)
	if mErr != nil {
		return res, eris.Wrap(mErr, "pipeline: marshal run summary")
	}
	if err := p.store.CompleteRun(ctx, res.RunID, summary); err != nil {
		return res, eris.Wrap(err, "pipeline: complete run")
	}
	log.Info("pipeline: run complete", zap.Int("failures", len(res.Summary.Failures)))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, res *Result, log *zap.Logger) error {
	track := func(name string, fn func() (map[string]any, error)) error {
		start := time.Now()
		meta, err := fn()
		pr := PhaseResult{Name: name, DurationMs: time.Since(start).Milliseconds(), Metadata: meta}
		if err != nil {
			pr.Status = PhaseStatusFailed
			pr.Error = err.Error()
			log.Error("pipeline: phase failed", zap.String("phase", name), zap.Int64("duration_ms", pr.DurationMs), zap.Error(err))
		} else {
			pr.Status = PhaseStatusComplete
			log.Info("pipeline: phase complete", zap.String("phase", name), zap.Int64("duration_ms", pr.DurationMs))
		}
		res.Phases = append(res.Phases, pr)
		return err
	}

	var t *table.Table
	if err := track("load", func() (map[string]any, error) {
		var err error
		t, err = vintage.Load(ctx, p.store, p.cfg.Store.Dataset)
		if err != nil {
			return nil, err
		}
		return map[string]any{"records": t.Len()}, nil
	}); err != nil {
		return err
	}

	if err := track("revisions", func() (map[string]any, error) {
		return nil, p.revisions.Annotate(t)
	}); err != nil {
		return err
	}

	out := &report.Outcome{
		RunID:       res.RunID,
		Series:      p.cfg.Seasonal.Series,
		Results:     make(map[string]map[seasonal.Method]*seasonal.AdjustmentResult),
		Comparisons: make(map[string]*compare.MethodComparison),
	}
	if err := track("adjust", func() (map[string]any, error) {
		if err := p.adjust(ctx, t, out); err != nil {
			return nil, err
		}
		return map[string]any{"failures": len(out.Failures)}, nil
	}); err != nil {
		return err
	}

	_ = track("compare", func() (map[string]any, error) {
		for _, series := range out.Series {
			byMethod := out.Results[series]
			if len(byMethod) == 0 {
				continue
			}
			c := compare.Compare(series, byMethod[seasonal.MethodX11], byMethod[seasonal.MethodSEATS])
			out.Comparisons[series] = c
			if !c.Available() {
				log.Warn("pipeline: comparison unavailable, using default method", zap.String("series", series))
			} else if c.DefaultApplied {
				log.Info("pipeline: fit statistic missing, default method applied", zap.String("series", series))
			}
		}
		return map[string]any{"compared": len(out.Comparisons)}, nil
	})
	res.Comparisons = out.Comparisons

	if err := track("publish", func() (map[string]any, error) {
		sum, err := p.assembler.Publish(ctx, t, out)
		if err != nil {
			return nil, err
		}
		res.Summary = sum
		return map[string]any{"records": sum.TotalRecords}, nil
	}); err != nil {
		return err
	}

	return track("export", func() (map[string]any, error) {
		return p.export(t)
	})
}

// adjust fits every configured series with both methods. Only context
// cancellation stops it early.
func (p *Pipeline) adjust(ctx context.Context, t *table.Table, out *report.Outcome) error {
	dates := t.Dates()
	for _, series := range out.Series {
		values := t.Floats(series)
		for _, m := range seasonal.Methods {
			if err := ctx.Err(); err != nil {
				return eris.Wrap(err, "pipeline: adjust")
			}
			if values == nil {
				out.Failures = append(out.Failures, report.Failure{Series: series, Method: string(m), Reason: "column not found"})
				p.log.Warn("pipeline: series column not found", zap.String("series", series), zap.String("method", string(m)))
				continue
			}
			r, err := p.adapter.Adjust(ctx, series, dates, values, m)
			if err != nil {
				out.Failures = append(out.Failures, report.Failure{Series: series, Method: string(m), Reason: err.Error()})
				var af *seasonal.AdjustmentFailure
				switch {
				case errors.Is(err, seasonal.ErrInsufficientData):
					p.log.Warn("pipeline: insufficient data, skipping", zap.String("series", series), zap.String("method", string(m)))
				case errors.As(err, &af):
					p.log.Error("pipeline: adjustment failed", zap.String("series", series), zap.String("method", string(m)), zap.Error(af.Cause))
				default:
					p.log.Error("pipeline: adjustment error", zap.String("series", series), zap.String("method", string(m)), zap.Error(err))
				}
				continue
			}
			if out.Results[series] == nil {
				out.Results[series] = make(map[seasonal.Method]*seasonal.AdjustmentResult)
			}
			out.Results[series][m] = r
		}
	}
	return nil
}

func (p *Pipeline) export(t *table.Table) (map[string]any, error) {
	meta := map[string]any{}
	base := filepath.Join(p.cfg.Paths.DataDir, "exports", p.cfg.Store.Dataset)
	if p.cfg.Export.CSV {
		if err := report.ExportCSV(base+".csv", t); err != nil {
			return nil, err
		}
		meta["csv"] = base + ".csv"
	}
	if p.cfg.Export.XLSX {
		if err := report.ExportXLSX(base+".xlsx", p.cfg.Store.Dataset, t); err != nil {
			return nil, err
		}
		meta["xlsx"] = base + ".xlsx"
	}
	return meta, nil
}
