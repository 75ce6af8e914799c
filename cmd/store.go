package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/nfp-revisions/internal/fetcher"
	"github.com/sells-group/nfp-revisions/internal/source"
	"github.com/sells-group/nfp-revisions/internal/store"
	"go.uber.org/zap"
)

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "nfp.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "csv":
		dir := cfg.Store.DatabaseURL
		if dir == "" {
			dir = cfg.Paths.DataDir
		}
		st = store.NewCSV(dir)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// initFRED builds the FRED client over the HTTP fetcher.
func initFRED() *source.FRED {
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:  cfg.FRED.UserAgent,
		Timeout:    time.Duration(cfg.FRED.TimeoutSecs) * time.Second,
		MaxRetries: cfg.FRED.MaxRetries,
		Logger:     zap.L(),
	})
	return source.NewFRED(f, cfg.FRED.BaseURL, cfg.Paths.SnapshotDir, zap.L())
}
