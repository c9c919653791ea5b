// store/sqlite_store.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"funneltrace/api/models"
	"funneltrace/api/utils"
)

// SQLiteStore keeps sessions, funnels and events in one embedded database.
// It satisfies every store interface and backs single-node deployments.
type SQLiteStore struct {
	*SQLStore
}

var (
	_ EventStore   = (*SQLiteStore)(nil)
	_ SessionStore = (*SQLiteStore)(nil)
	_ FunnelStore  = (*SQLiteStore)(nil)
	_ StatsStore   = (*SQLiteStore)(nil)
	_ EventStore   = (*AnalyticsStore)(nil)
	_ StatsStore   = (*AnalyticsStore)(nil)
	_ SessionStore = (*SQLStore)(nil)
	_ FunnelStore  = (*SQLStore)(nil)
)

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{SQLStore: &SQLStore{db: db, dialect: dialectSQLite}}
}

const insertEventValuesSQL = ` VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func sqliteRow(ev models.Event) []any {
	return []any{
		ev.EventID, ev.SessionID, string(ev.EventType), ev.Timestamp,
		ev.URL, ev.Path, ev.Title, ev.X, ev.Y,
		ev.ElementTag, ev.ElementID, ev.ElementClasses, ev.ElementText, ev.IsCTA, ev.ClickCount,
		ev.ScrollDepth, ev.ScrollPercentage, ev.MaxScroll, ev.MouseSpeed,
		ev.FormID, ev.FormName, ev.FormField, ev.FormAction,
		ev.FunnelID, ev.StepName, ev.StepOrder, ev.ElapsedSeconds, ev.Engaged,
	}
}

// AppendEvents inserts all events in one transaction; any failure rolls the
// whole batch back.
func (s *SQLiteStore) AppendEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, insertEventSQL+insertEventValuesSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		if _, err := stmt.ExecContext(ctx, sqliteRow(ev)...); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", ev.EventID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event models.Event) error {
	if _, err := s.db.ExecContext(ctx, insertEventSQL+insertEventValuesSQL, sqliteRow(event)...); err != nil {
		return fmt.Errorf("failed to insert event %s: %w", event.EventID, err)
	}
	return nil
}

func (s *SQLiteStore) FunnelStepEvents(ctx context.Context, funnelID string, start, end time.Time) ([]models.StepEvent, error) {
	where := []string{"event_type = ?", "funnel_id = ?"}
	args := []any{string(models.EventFunnelStep), funnelID}
	if !start.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, start.UnixMilli())
	}
	if !end.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, end.UnixMilli())
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT session_id, step_name, timestamp
		FROM events
		WHERE %s
		ORDER BY session_id ASC, timestamp ASC`, strings.Join(where, " AND ")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query funnel step events: %w", err)
	}
	defer rows.Close()

	var results []models.StepEvent
	for rows.Next() {
		var se models.StepEvent
		if err := rows.Scan(&se.SessionID, &se.StepName, &se.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan funnel step event: %w", err)
		}
		results = append(results, se)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during funnel step query: %w", err)
	}
	return results, nil
}

// SQLite has no toStartOf* family, so rows are bucketed in Go.
func (s *SQLiteStore) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]models.EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	query := `SELECT timestamp, event_type FROM events WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{start.UnixMilli(), end.UnixMilli()}
	if eventTypeFilter != "" {
		query += ` AND event_type = ?`
		args = append(args, eventTypeFilter)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts over time: %w", err)
	}
	defer rows.Close()

	type key struct {
		bucket    int64
		eventType string
	}
	counts := map[key]uint64{}
	for rows.Next() {
		var (
			ts        int64
			eventType string
		)
		if err := rows.Scan(&ts, &eventType); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		k := key{bucket: utils.TruncateToInterval(time.UnixMilli(ts), interval).UnixMilli()}
		if eventTypeFilter != "" {
			k.eventType = eventType
		}
		counts[k]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during event counts over time query: %w", err)
	}

	results := make([]models.EventTypeCountByTime, 0, len(counts))
	for k, c := range counts {
		r := models.EventTypeCountByTime{Time: time.UnixMilli(k.bucket).UTC(), Count: c}
		if eventTypeFilter != "" {
			et := k.eventType
			r.EventType = &et
		}
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Time.Before(results[j].Time) })
	return results, nil
}

func (s *SQLiteStore) GetUniqueSessionsOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.EventTypeCountByTime, error) {
	if !utils.IsValidInterval(interval) {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, session_id FROM events WHERE timestamp >= ? AND timestamp <= ?`,
		start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query unique sessions over time: %w", err)
	}
	defer rows.Close()

	buckets := map[int64]map[string]struct{}{}
	for rows.Next() {
		var (
			ts        int64
			sessionID string
		)
		if err := rows.Scan(&ts, &sessionID); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		b := utils.TruncateToInterval(time.UnixMilli(ts), interval).UnixMilli()
		if buckets[b] == nil {
			buckets[b] = map[string]struct{}{}
		}
		buckets[b][sessionID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for unique sessions: %w", err)
	}

	results := make([]models.EventTypeCountByTime, 0, len(buckets))
	for b, set := range buckets {
		results = append(results, models.EventTypeCountByTime{Time: time.UnixMilli(b).UTC(), Count: uint64(len(set))})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Time.Before(results[j].Time) })
	return results, nil
}

func (s *SQLiteStore) GetAverageTimeOnPage(ctx context.Context, path string, start, end time.Time) (float64, error) {
	inner := `SELECT session_id, MAX(elapsed_seconds) AS longest FROM events
		WHERE event_type = ? AND timestamp >= ? AND timestamp <= ?`
	args := []any{string(models.EventTimeOnPage), start.UnixMilli(), end.UnixMilli()}
	if path != "" {
		inner += ` AND path = ?`
		args = append(args, path)
	}
	inner += ` GROUP BY session_id`

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(longest) FROM (`+inner+`)`, args...).Scan(&avg); err != nil {
		return 0, fmt.Errorf("failed to query average time on page: %w", err)
	}
	if !avg.Valid || math.IsNaN(avg.Float64) {
		return 0, nil
	}
	return avg.Float64, nil
}

func (s *SQLiteStore) GetTopNPagePaths(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, COUNT(*) AS view_count
		FROM events
		WHERE event_type = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY path
		ORDER BY view_count DESC, path ASC
		LIMIT ?`,
		string(models.EventPageview), start.UnixMilli(), end.UnixMilli(), int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query top page paths: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var (
			r     models.TopPathResult
			count int64
		)
		if err := rows.Scan(&r.PagePath, &count); err != nil {
			return nil, fmt.Errorf("failed to scan top path row: %w", err)
		}
		r.Count = uint64(count)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top page paths: %w", err)
	}
	return results, nil
}

func (s *SQLiteStore) GetHeatmapPoints(ctx context.Context, path string, eventType models.EventType, start, end time.Time, grid float64) ([]models.HeatmapPoint, error) {
	if grid <= 0 {
		grid = defaultHeatmapGrid
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ROUND(x / ?) * ? AS px, ROUND(y / ?) * ? AS py, COUNT(*) AS hits
		FROM events
		WHERE event_type = ? AND path = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY px, py
		ORDER BY hits DESC
		LIMIT ?`,
		grid, grid, grid, grid, string(eventType), path, start.UnixMilli(), end.UnixMilli(), heatmapPointLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query heatmap points: %w", err)
	}
	defer rows.Close()

	var results []models.HeatmapPoint
	for rows.Next() {
		var (
			p    models.HeatmapPoint
			hits int64
		)
		if err := rows.Scan(&p.X, &p.Y, &hits); err != nil {
			return nil, fmt.Errorf("failed to scan heatmap point: %w", err)
		}
		p.Count = uint64(hits)
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating heatmap rows: %w", err)
	}
	return results, nil
}
