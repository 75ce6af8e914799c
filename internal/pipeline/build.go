package pipeline

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/nfp-revisions/internal/config"
	"github.com/sells-group/nfp-revisions/internal/source"
	"github.com/sells-group/nfp-revisions/internal/store"
	"github.com/sells-group/nfp-revisions/internal/table"
	"github.com/sells-group/nfp-revisions/internal/vintage"
)

// Builder assembles the vintage dataset from the latest FRED snapshot and
// the BLS release file, then saves it.
type Builder struct {
	cfg    *config.Config
	store  store.TableStore
	fred   *source.FRED
	merger *vintage.Merger
	log    *zap.Logger
	now    func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(cfg *config.Config, ts store.TableStore, fred *source.FRED, log *zap.Logger) *Builder {
	return &Builder{
		cfg:    cfg,
		store:  ts,
		fred:   fred,
		merger: vintage.NewMerger(log),
		log:    log.With(zap.String("component", "build")),
		now:    time.Now,
	}
}

// Build merges the final series with the release vintages, clears values
// that were not yet published, and rewrites the dataset. Non-vintage columns
// of an existing dataset are kept on the months the new build still covers.
func (b *Builder) Build(ctx context.Context) (*table.Table, error) {
	if len(b.cfg.FRED.Series) == 0 {
		return nil, eris.New("build: no FRED series configured")
	}
	series := b.cfg.FRED.Series[0]
	snap, path, err := b.fred.Latest(ctx, series)
	if err != nil {
		return nil, eris.Wrap(err, "build: final series")
	}
	final, err := snap.Table(vintage.Final)
	if err != nil {
		return nil, err
	}
	b.log.Info("loaded final series", zap.String("series", series), zap.String("path", path), zap.Int("records", final.Len()))

	var releases *table.Table
	if _, statErr := os.Stat(b.cfg.Paths.ReleasesFile); statErr == nil {
		releases, err = source.LoadReleases(ctx, b.cfg.Paths.ReleasesFile)
		if err != nil {
			return nil, err
		}
	} else {
		b.log.Warn("release file not found", zap.String("path", b.cfg.Paths.ReleasesFile))
	}

	t, err := b.merger.Merge(final, releases)
	if err != nil {
		return nil, err
	}
	cleared, err := b.merger.EnforceAvailability(t, b.now())
	if err != nil {
		return nil, err
	}
	if err := b.carryOver(ctx, t); err != nil {
		return nil, err
	}
	if err := b.store.Save(ctx, b.cfg.Store.Dataset, t); err != nil {
		return nil, eris.Wrapf(err, "build: save %s", b.cfg.Store.Dataset)
	}
	b.log.Info("dataset built",
		zap.String("dataset", b.cfg.Store.Dataset),
		zap.Int("records", t.Len()),
		zap.Int("cleared", cleared),
	)
	return t, nil
}

func (b *Builder) carryOver(ctx context.Context, t *table.Table) error {
	prev, err := vintage.Load(ctx, b.store, b.cfg.Store.Dataset)
	if err != nil {
		if errors.Is(err, vintage.ErrInputNotFound) || errors.Is(err, vintage.ErrEmptyDataset) {
			return nil
		}
		return eris.Wrap(err, "build: existing dataset")
	}
	kept, err := vintage.CarryOver(t, prev)
	if err != nil {
		return err
	}
	if len(kept) > 0 {
		b.log.Info("kept columns from existing dataset", zap.Strings("columns", kept))
	}
	return nil
}
