package main

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"funneltrace/api/config"
	"funneltrace/api/database"
	"funneltrace/api/handlers"
	"funneltrace/api/logger"
	"funneltrace/api/store"
)

// backend bundles the stores selected by store.driver.
type backend struct {
	events   store.EventStore
	sessions store.SessionStore
	funnels  store.FunnelStore
	stats    store.StatsStore
	checks   map[string]handlers.HealthCheck
	closers  []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// loadConfig reads configuration and initialises logging and gin mode.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{
		Level:      logger.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	if cfg.Server.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	return cfg, nil
}

// openBackend connects the configured stores and applies the schema.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		return openSQLite(cfg)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func openSQLite(cfg *config.Config) (*backend, error) {
	client, err := database.NewSQLiteDB(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sqlite database: %w", err)
	}
	s := store.NewSQLiteStore(client.DB)
	return &backend{
		events:   s,
		sessions: s,
		funnels:  s,
		stats:    s,
		checks: map[string]handlers.HealthCheck{
			"sqlite": client.DB.PingContext,
		},
		closers: []func(){func() {
			if err := client.Close(); err != nil {
				log := logger.WithComponent("database")
				log.Error().Err(err).Msg("Error closing sqlite database")
			}
		}},
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*backend, error) {
	pg, err := database.NewPostgresDB(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres database: %w", err)
	}
	if err := database.MigratePostgres(ctx, pg.DB); err != nil {
		pg.Close()
		return nil, err
	}

	ch, err := database.NewClickHouseDB(ctx, cfg.ClickHouse)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("failed to initialize clickhouse database: %w", err)
	}
	if err := database.MigrateClickHouse(ctx, ch); err != nil {
		ch.Close()
		pg.Close()
		return nil, err
	}

	relational := store.NewPostgresStore(pg.DB)
	analytics := store.NewAnalyticsStore(ch)
	return &backend{
		events:   analytics,
		sessions: relational,
		funnels:  relational,
		stats:    analytics,
		checks: map[string]handlers.HealthCheck{
			"postgres":   pg.DB.PingContext,
			"clickhouse": ch.Conn.Ping,
		},
		closers: []func(){pg.Close, ch.Close},
	}, nil
}
