package main

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/edgeflare/pgcrud/pkg/engine"
	pg "github.com/edgeflare/pgcrud/pkg/pgx"
	"github.com/edgeflare/pgcrud/pkg/schema"
	"github.com/edgeflare/pgcrud/pkg/sqlbuild"
)

// backend is an opened database with the model its endpoints resolve
// against.
type backend struct {
	source schema.Source
	engine engine.Engine
	// reloads delivers introspected models; nil for static models.
	reloads <-chan schema.Tables
	ping    func(context.Context) error
	close   func()
}

// openBackend connects to the configured database. PostgreSQL models are
// introspected and reloaded on notification; other drivers use the tables
// declared in the config.
func openBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	db := cfg.REST.DB
	if db.ConnString == "" {
		return nil, fmt.Errorf("rest.db.connString is required")
	}
	dialect, err := sqlbuild.ForDriver(db.Driver)
	if err != nil {
		return nil, err
	}

	if dialect == sqlbuild.Postgres {
		return openPostgres(ctx, cfg, logger)
	}

	if len(cfg.Tables) == 0 {
		return nil, fmt.Errorf("driver %s needs tables declared in the config", dialect.Name)
	}
	conn, err := sql.Open(dialect.Name, db.ConnString)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.Name, err)
	}
	if db.MaxConns > 0 {
		conn.SetMaxOpenConns(int(db.MaxConns))
	}
	logger.Info("waiting for database", zap.String("driver", dialect.Name))
	if err := pg.WaitReady(ctx, conn.PingContext, db.PingTimeout); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", dialect.Name, err)
	}

	return &backend{
		source: cfg.Model(),
		engine: engine.NewSQL(conn, dialect),
		ping:   conn.PingContext,
		close:  func() { conn.Close() },
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	db := cfg.REST.DB
	pools := pg.NewPoolManager()
	logger.Info("waiting for database", zap.String("driver", "postgres"))
	if err := pools.Add(ctx, pg.Pool{
		Name:        "default",
		ConnString:  db.ConnString,
		MaxConns:    db.MaxConns,
		PingTimeout: db.PingTimeout,
	}); err != nil {
		return nil, err
	}
	pool, err := pools.Active()
	if err != nil {
		pools.Close()
		return nil, err
	}

	cache, err := schema.NewCache(ctx, pool,
		schema.WithLogger(logger),
		schema.WithSchemas(db.Schemas...),
		schema.WithRelations(cfg.DeclaredRelations()),
	)
	if err != nil {
		pools.Close()
		return nil, err
	}
	if err := cache.Init(ctx); err != nil {
		cache.Close()
		pools.Close()
		return nil, fmt.Errorf("schema cache: %w", err)
	}

	return &backend{
		source:  cache,
		engine:  engine.NewPGX(pool),
		reloads: cache.Watch(),
		ping:    pool.Ping,
		close: func() {
			cache.Close()
			pools.Close()
		},
	}, nil
}

// staticModel returns the model explain and schema work with when no
// database is needed: the declared tables, or nil when none are declared.
func staticModel(cfg *config.Config) schema.Tables {
	if len(cfg.Tables) == 0 {
		return nil
	}
	return cfg.Model()
}
