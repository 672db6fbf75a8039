package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"

	"github.com/sambandhq/samband/internal/backup"
	"github.com/sambandhq/samband/internal/config"
	"github.com/sambandhq/samband/internal/feed"
	"github.com/sambandhq/samband/internal/ingest"
	"github.com/sambandhq/samband/internal/ops"
	"github.com/sambandhq/samband/internal/stats"
	"github.com/sambandhq/samband/internal/store"
)

// app bundles the wired components a command needs. Backups is nil on the
// Postgres backend.
type app struct {
	Store     store.Store
	Feed      *feed.Client
	Upserter  *ingest.Upserter
	Backfill  *ingest.Backfiller
	Refresher *ingest.Refresher
	Stats     *stats.Aggregator
	Reporter  *ops.Reporter
	Backups   *backup.Manager
}

// openStore opens the configured backend and runs migrations.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.Path)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("cmd: unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// buildApp wires the full pipeline over an open store.
func buildApp(cfg *config.Config, st store.Store) *app {
	client := feed.NewClient(feed.Options{
		Endpoint:    cfg.Feed.Endpoint,
		UserAgent:   cfg.Feed.UserAgent,
		Timeout:     cfg.Feed.Timeout(),
		MaxAttempts: cfg.Feed.MaxAttempts,
		RetryDelay:  cfg.Feed.RetryDelay(),
	})

	upserter := ingest.NewUpserter(st, nil)
	backfiller := ingest.NewBackfiller(client, ingest.BackfillOptions{
		HighWater: cfg.Backfill.HighWater,
		MaxDays:   cfg.Backfill.MaxDays,
		DayDelay:  cfg.Backfill.DayDelay(),
	}, nil)
	refresher := ingest.NewRefresher(st, client, upserter, backfiller, ingest.RefresherOptions{
		CacheInterval:     cfg.Refresh.CacheInterval(),
		BackfillThreshold: cfg.Refresh.BackfillThreshold,
		LogRetention:      cfg.Refresh.LogRetention(),
	}, nil)
	refresher.SetMetrics(ops.NewMetrics(prometheus.DefaultRegisterer))

	var loc *time.Location
	if cfg.Stats.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Stats.Timezone); err == nil {
			loc = l
		}
	}
	aggregator := stats.New(st, stats.Options{
		ExcludeTypePrefix: cfg.Stats.ExcludeTypePrefix,
		TopN:              cfg.Stats.TopN,
		Location:          loc,
	}, nil)

	reporter := ops.NewReporter(st, cfg.Refresh.CacheInterval(), nil)

	var backups *backup.Manager
	if sqliteStore, ok := st.(*store.SQLiteStore); ok {
		backups = backup.NewManager(sqliteStore, backup.Options{
			Dir:           cfg.Backup.Dir,
			RetentionDays: cfg.Backup.RetentionDays,
		}, nil)
	}

	return &app{
		Store:     st,
		Feed:      client,
		Upserter:  upserter,
		Backfill:  backfiller,
		Refresher: refresher,
		Stats:     aggregator,
		Reporter:  reporter,
		Backups:   backups,
	}
}
