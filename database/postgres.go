package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"funneltrace/api/logger"
)

const (
	postgresMaxOpenConns = 25
	postgresMaxIdleConns = 5
	postgresConnLifetime = 5 * time.Minute
	connectTimeout       = 10 * time.Second
)

// DBClient holds the Postgres pool used for sessions and funnel definitions.
type DBClient struct {
	DB *sql.DB
}

// NewPostgresDB opens the pool and pings it within connectTimeout.
func NewPostgresDB(ctx context.Context, dbURL string) (*DBClient, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("postgres connection url is empty")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres pool: %w", err)
	}
	db.SetMaxOpenConns(postgresMaxOpenConns)
	db.SetMaxIdleConns(postgresMaxIdleConns)
	db.SetConnMaxLifetime(postgresConnLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log := logger.WithComponent("database")
	log.Info().Msg("PostgreSQL pool ready")
	return &DBClient{DB: db}, nil
}

func (c *DBClient) Close() {
	if c.DB == nil {
		return
	}
	log := logger.WithComponent("database")
	if err := c.DB.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close postgres pool")
		return
	}
	log.Info().Msg("PostgreSQL pool closed")
}
