// Package application wires configuration into a ready import service:
// it opens the configured store, picks the tenant lock and builds the
// core.Service shared by the HTTP server and the command line tool.
package application

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/resolver/internal/config"
	"github.com/JonMunkholm/resolver/internal/core"
	"github.com/JonMunkholm/resolver/internal/lock"
	"github.com/JonMunkholm/resolver/internal/metrics"
	"github.com/JonMunkholm/resolver/internal/store/postgres"
	"github.com/JonMunkholm/resolver/internal/store/sqlite"
)

// App holds the opened backends and the service built on them.
type App struct {
	Service *core.Service
	Driver  string
	Redis   redis.UniversalClient // nil unless REDIS_URL is set

	pool    *pgxpool.Pool
	db      *sql.DB
	closers []func()
}

// Open connects to the configured store and lock backend and migrates the
// schema. The caller must Close the App.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	source, store, err := app.openStore(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}

	locker, err := app.openLocker(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publicDomains, err := config.LoadPublicDomains(cfg.Import.PublicDomainsFile)
	if err != nil {
		return nil, err
	}

	counter := core.NewRowCounter()
	counter.ExactThreshold = cfg.Import.ExactCountThreshold
	counter.SampleRows = cfg.Import.EstimateSampleRows

	app.Service, err = core.NewService(metrics.InstrumentSource(source), store, locker, core.ServiceConfig{
		UploadDir:        cfg.Import.UploadDir,
		HeaderOffset:     cfg.Import.HeaderOffset,
		DecimalSeparator: cfg.Import.DecimalSeparator,
		Counter:          counter,
		Company: core.CompanyMatcherOptions{
			FilterPublicDomains: cfg.Import.FilterPublicDomains,
			PublicDomains:       publicDomains,
		},
		StageBatchSize: cfg.Import.StageBatchSize,
		MaxConcurrent:  cfg.Import.MaxConcurrent,
		MaxWait:        cfg.Import.MaxWaitTime,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return app, nil
}

func (a *App) openStore(ctx context.Context, cfg config.DatabaseConfig) (core.RecordSource, core.RowStore, error) {
	driver, dsn := cfg.Driver()
	a.Driver = driver

	switch driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)

		if err := postgres.Migrate(ctx, pool); err != nil {
			return nil, nil, err
		}
		slog.Info("connected to database", "driver", driver)
		return postgres.NewRecordSource(pool), postgres.NewRowStore(pool), nil

	case "sqlite":
		db, err := sqlite.Open(dsn)
		if err != nil {
			return nil, nil, err
		}
		a.db = db
		a.closers = append(a.closers, func() { db.Close() })

		if err := sqlite.Migrate(ctx, db, entityTables()...); err != nil {
			return nil, nil, err
		}
		slog.Info("opened database", "driver", driver, "path", dsn)
		return sqlite.NewRecordSource(db), sqlite.NewRowStore(db), nil

	default:
		return nil, nil, fmt.Errorf("unsupported database url %q", cfg.URL)
	}
}

// openLocker uses Redis when configured so several server instances share
// tenant locks; otherwise locks are process-local.
func (a *App) openLocker(ctx context.Context, cfg *config.Config) (core.Locker, error) {
	if cfg.Redis.URL == "" {
		return lock.NewLocal(), nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	a.Redis = client
	a.closers = append(a.closers, func() { client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("using redis tenant locks", "addr", opts.Addr, "ttl", cfg.Import.LockTTL)
	return lock.NewRedis(client, cfg.Import.LockTTL), nil
}

// PutRecord writes an existing-entity record into the configured store.
func (a *App) PutRecord(ctx context.Context, kind core.EntityKind, rec core.Record) error {
	def, err := core.Lookup(kind)
	if err != nil {
		return err
	}
	switch {
	case a.pool != nil:
		return postgres.PutRecord(ctx, a.pool, def.Table, rec)
	case a.db != nil:
		return sqlite.PutRecord(ctx, a.db, def.Table, rec)
	default:
		return fmt.Errorf("no store open")
	}
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func entityTables() []string {
	defs := core.All()
	tables := make([]string, 0, len(defs))
	for _, def := range defs {
		if def.Table != "" {
			tables = append(tables, def.Table)
		}
	}
	return tables
}
