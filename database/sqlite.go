package database

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // CGO-free SQLite

	"funneltrace/api/logger"
)

type SQLiteClient struct {
	DB *sql.DB
}

// NewSQLiteDB opens (or creates) the embedded database and applies the schema.
func NewSQLiteDB(path string) (*SQLiteClient, error) {
	// WAL + busy timeout to avoid "database is locked" under concurrent ingestion
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One writer at a time; readers share the same connection pool.
	db.SetMaxOpenConns(1)

	if err := MigrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}

	log := logger.WithComponent("database")
	log.Info().Str("path", path).Msg("SQLite database ready")
	return &SQLiteClient{DB: db}, nil
}

func (c *SQLiteClient) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
