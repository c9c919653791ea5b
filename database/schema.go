package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Events are append-only and scanned by (event_type, session_id, timestamp),
// which is the sort key the sessionizer reads in.
const clickHouseEventsDDL = `
CREATE TABLE IF NOT EXISTS events (
	event_id          String,
	session_id        String,
	event_type        LowCardinality(String),
	timestamp         DateTime64(3, 'UTC'),
	url               String,
	path              String,
	title             String,
	x                 Float64,
	y                 Float64,
	element_tag       String,
	element_id        String,
	element_classes   String,
	element_text      String,
	is_cta            Bool,
	click_count       UInt32,
	scroll_depth      Float64,
	scroll_percentage Float64,
	max_scroll        Float64,
	mouse_speed       Float64,
	form_id           String,
	form_name         String,
	form_field        String,
	form_action       String,
	funnel_id         String,
	step_name         String,
	step_order        Int32,
	elapsed_seconds   Int32,
	engaged           Bool
) ENGINE = MergeTree
ORDER BY (event_type, session_id, timestamp)`

var postgresDDL = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id       TEXT PRIMARY KEY,
		first_seen_at    BIGINT NOT NULL,
		last_activity_at BIGINT NOT NULL,
		pageviews        INTEGER NOT NULL DEFAULT 0,
		device_type      TEXT,
		browser          TEXT,
		os               TEXT,
		screen_width     INTEGER,
		screen_height    INTEGER,
		viewport_width   INTEGER,
		viewport_height  INTEGER,
		language         TEXT,
		entry_url        TEXT,
		entry_path       TEXT,
		entry_title      TEXT,
		referrer         TEXT,
		utm_source       TEXT,
		utm_medium       TEXT,
		utm_campaign     TEXT,
		utm_term         TEXT,
		utm_content      TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS funnels (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		conversion_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at      BIGINT NOT NULL,
		updated_at      BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS funnel_steps (
		id         TEXT PRIMARY KEY,
		funnel_id  TEXT NOT NULL REFERENCES funnels(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		target_url TEXT,
		position   INTEGER NOT NULL,
		visitors   INTEGER NOT NULL DEFAULT 0,
		dropoff    DOUBLE PRECISION NOT NULL DEFAULT 0,
		UNIQUE (funnel_id, position)
	)`,
}

var sqliteDDL = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id       TEXT PRIMARY KEY,
		first_seen_at    INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		pageviews        INTEGER NOT NULL DEFAULT 0,
		device_type      TEXT,
		browser          TEXT,
		os               TEXT,
		screen_width     INTEGER,
		screen_height    INTEGER,
		viewport_width   INTEGER,
		viewport_height  INTEGER,
		language         TEXT,
		entry_url        TEXT,
		entry_path       TEXT,
		entry_title      TEXT,
		referrer         TEXT,
		utm_source       TEXT,
		utm_medium       TEXT,
		utm_campaign     TEXT,
		utm_term         TEXT,
		utm_content      TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		event_id          TEXT PRIMARY KEY,
		session_id        TEXT NOT NULL,
		event_type        TEXT NOT NULL,
		timestamp         INTEGER NOT NULL,
		url               TEXT NOT NULL DEFAULT '',
		path              TEXT NOT NULL DEFAULT '',
		title             TEXT NOT NULL DEFAULT '',
		x                 REAL NOT NULL DEFAULT 0,
		y                 REAL NOT NULL DEFAULT 0,
		element_tag       TEXT NOT NULL DEFAULT '',
		element_id        TEXT NOT NULL DEFAULT '',
		element_classes   TEXT NOT NULL DEFAULT '',
		element_text      TEXT NOT NULL DEFAULT '',
		is_cta            INTEGER NOT NULL DEFAULT 0,
		click_count       INTEGER NOT NULL DEFAULT 0,
		scroll_depth      REAL NOT NULL DEFAULT 0,
		scroll_percentage REAL NOT NULL DEFAULT 0,
		max_scroll        REAL NOT NULL DEFAULT 0,
		mouse_speed       REAL NOT NULL DEFAULT 0,
		form_id           TEXT NOT NULL DEFAULT '',
		form_name         TEXT NOT NULL DEFAULT '',
		form_field        TEXT NOT NULL DEFAULT '',
		form_action       TEXT NOT NULL DEFAULT '',
		funnel_id         TEXT NOT NULL DEFAULT '',
		step_name         TEXT NOT NULL DEFAULT '',
		step_order        INTEGER NOT NULL DEFAULT 0,
		elapsed_seconds   INTEGER NOT NULL DEFAULT 0,
		engaged           INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_funnel ON events(event_type, funnel_id, session_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp)`,
	`CREATE TABLE IF NOT EXISTS funnels (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		conversion_rate REAL NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS funnel_steps (
		id         TEXT PRIMARY KEY,
		funnel_id  TEXT NOT NULL REFERENCES funnels(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		target_url TEXT,
		position   INTEGER NOT NULL,
		visitors   INTEGER NOT NULL DEFAULT 0,
		dropoff    REAL NOT NULL DEFAULT 0,
		UNIQUE (funnel_id, position)
	)`,
}

func MigratePostgres(ctx context.Context, db *sql.DB) error {
	for _, stmt := range postgresDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply postgres schema: %w", err)
		}
	}
	return nil
}

func MigrateClickHouse(ctx context.Context, c *ClickHouseClient) error {
	if err := c.Conn.Exec(ctx, clickHouseEventsDDL); err != nil {
		return fmt.Errorf("failed to apply clickhouse schema: %w", err)
	}
	return nil
}

func MigrateSQLite(db *sql.DB) error {
	for _, stmt := range sqliteDDL {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create database tables: %w", err)
		}
	}
	return nil
}
