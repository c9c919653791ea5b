// store/analytics_store.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"funneltrace/api/database"
	"funneltrace/api/logger"
	"funneltrace/api/models"
	"funneltrace/api/utils"
)

const insertEventSQL = `
	INSERT INTO events (
		event_id, session_id, event_type, timestamp, url, path, title, x, y,
		element_tag, element_id, element_classes, element_text, is_cta, click_count,
		scroll_depth, scroll_percentage, max_scroll, mouse_speed,
		form_id, form_name, form_field, form_action,
		funnel_id, step_name, step_order, elapsed_seconds, engaged
	)`

// AnalyticsStore keeps the event log in ClickHouse.
type AnalyticsStore struct {
	DB *database.ClickHouseClient
}

func NewAnalyticsStore(chClient *database.ClickHouseClient) *AnalyticsStore {
	return &AnalyticsStore{
		DB: chClient,
	}
}

// AppendEvents writes all events in one native batch. The batch is
// all-or-nothing: any append error aborts it.
func (s *AnalyticsStore) AppendEvents(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.DB.Conn.PrepareBatch(ctx, insertEventSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, ev := range events {
		if err := batch.Append(clickHouseRow(ev)...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append event %s to batch: %w", ev.EventID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	log := logger.WithComponent("store")
	log.Debug().Int("count", len(events)).Msg("inserted events into ClickHouse")
	return nil
}

func (s *AnalyticsStore) AppendEvent(ctx context.Context, event models.Event) error {
	return s.AppendEvents(ctx, []models.Event{event})
}

func clickHouseRow(ev models.Event) []any {
	return []any{
		ev.EventID,
		ev.SessionID,
		string(ev.EventType),
		time.UnixMilli(ev.Timestamp).UTC(),
		ev.URL,
		ev.Path,
		ev.Title,
		ev.X,
		ev.Y,
		ev.ElementTag,
		ev.ElementID,
		ev.ElementClasses,
		ev.ElementText,
		ev.IsCTA,
		uint32(max(ev.ClickCount, 0)),
		ev.ScrollDepth,
		ev.ScrollPercentage,
		ev.MaxScroll,
		ev.MouseSpeed,
		ev.FormID,
		ev.FormName,
		ev.FormField,
		ev.FormAction,
		ev.FunnelID,
		ev.StepName,
		int32(ev.StepOrder),
		int32(ev.ElapsedSeconds),
		ev.Engaged,
	}
}

func (s *AnalyticsStore) FunnelStepEvents(ctx context.Context, funnelID string, start, end time.Time) ([]models.StepEvent, error) {
	where := []string{"event_type = ?", "funnel_id = ?"}
	args := []any{string(models.EventFunnelStep), funnelID}
	if !start.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, start)
	}
	if !end.IsZero() {
		where = append(where, "timestamp < ?")
		args = append(args, end)
	}

	query := fmt.Sprintf(`
		SELECT session_id, step_name, toUnixTimestamp64Milli(timestamp) AS ts
		FROM events
		WHERE %s
		ORDER BY session_id ASC, ts ASC
	`, strings.Join(where, " AND "))

	rows, err := s.DB.Conn.Query(ctx, query, args...)
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

// bucketExpr maps an interval name onto ClickHouse's toStartOf family.
func bucketExpr(interval string) (string, error) {
	if !utils.IsValidInterval(interval) {
		return "", fmt.Errorf("invalid interval: %s", interval)
	}
	return "toStartOf" + interval + "(timestamp)", nil
}

// GetEventCountsOverTime counts events per bucket. Without a filter every
// type shares one row per bucket; with one, rows carry the event type.
func (s *AnalyticsStore) GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]models.EventTypeCountByTime, error) {
	bucket, err := bucketExpr(interval)
	if err != nil {
		return nil, err
	}

	kind := "''"
	where := "timestamp BETWEEN ? AND ?"
	args := []any{start, end}
	if eventTypeFilter != "" {
		kind = "event_type"
		where += " AND event_type = ?"
		args = append(args, eventTypeFilter)
	}

	query := fmt.Sprintf(`
		SELECT %s AS bucket, %s AS kind, count() AS n
		FROM events
		WHERE %s
		GROUP BY bucket, kind
		ORDER BY bucket, kind`, bucket, kind, where)
	return s.bucketCounts(ctx, "event counts", query, args, eventTypeFilter != "")
}

func (s *AnalyticsStore) GetUniqueSessionsOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.EventTypeCountByTime, error) {
	bucket, err := bucketExpr(interval)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT %s AS bucket, '' AS kind, uniqExact(session_id) AS n
		FROM events
		WHERE timestamp BETWEEN ? AND ?
		GROUP BY bucket
		ORDER BY bucket`, bucket)
	return s.bucketCounts(ctx, "unique sessions", query, []any{start, end}, false)
}

// bucketCounts runs a (bucket, kind, n) query. kind is kept only when
// withType is set.
func (s *AnalyticsStore) bucketCounts(ctx context.Context, what, query string, args []any, withType bool) ([]models.EventTypeCountByTime, error) {
	rows, err := s.DB.Conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	defer rows.Close()

	var results []models.EventTypeCountByTime
	for rows.Next() {
		var (
			bucket time.Time
			kind   string
			n      uint64
		)
		if err := rows.Scan(&bucket, &kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", what, err)
		}
		r := models.EventTypeCountByTime{Time: bucket.UTC(), Count: n}
		if withType {
			r.EventType = &kind
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row error during %s query: %w", what, err)
	}
	return results, nil
}

// GetAverageTimeOnPage averages, per session, the longest elapsed time the
// heartbeat reported. An empty path averages across all pages.
func (s *AnalyticsStore) GetAverageTimeOnPage(ctx context.Context, path string, start, end time.Time) (float64, error) {
	query := `
		SELECT avg(longest) FROM (
			SELECT session_id, max(elapsed_seconds) AS longest
			FROM events
			WHERE event_type = ? AND timestamp >= ? AND timestamp <= ?`
	args := []any{string(models.EventTimeOnPage), start, end}
	if path != "" {
		query += ` AND path = ?`
		args = append(args, path)
	}
	query += `
			GROUP BY session_id
		)`

	var avgValue float64
	if err := s.DB.Conn.QueryRow(ctx, query, args...).Scan(&avgValue); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0.0, nil
		}
		return 0.0, fmt.Errorf("failed to query average time on page: %w", err)
	}

	// avg() over zero rows is NaN, which JSON cannot carry.
	if math.IsNaN(avgValue) {
		return 0.0, nil
	}
	return avgValue, nil
}

func (s *AnalyticsStore) GetTopNPagePaths(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error) {
	if limit == 0 {
		limit = 10
	}

	query := `
		SELECT path, count() as view_count
		FROM events
		WHERE event_type = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY path
		ORDER BY view_count DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, string(models.EventPageview), start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top page paths: %w", err)
	}
	defer rows.Close()

	var results []models.TopPathResult
	for rows.Next() {
		var r models.TopPathResult
		if err := rows.Scan(&r.PagePath, &r.Count); err != nil {
			log := logger.WithComponent("store")
			log.Warn().Err(err).Msg("error scanning top path row")
			continue
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows for top page paths: %w", err)
	}

	return results, nil
}

// GetHeatmapPoints snaps pointer coordinates to a grid and counts hits per cell.
func (s *AnalyticsStore) GetHeatmapPoints(ctx context.Context, path string, eventType models.EventType, start, end time.Time, grid float64) ([]models.HeatmapPoint, error) {
	if grid <= 0 {
		grid = defaultHeatmapGrid
	}

	query := `
		SELECT round(x / ?) * ? AS px, round(y / ?) * ? AS py, count() AS hits
		FROM events
		WHERE event_type = ? AND path = ? AND timestamp >= ? AND timestamp <= ?
		GROUP BY px, py
		ORDER BY hits DESC
		LIMIT ?
	`
	rows, err := s.DB.Conn.Query(ctx, query, grid, grid, grid, grid, string(eventType), path, start, end, heatmapPointLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query heatmap points: %w", err)
	}
	defer rows.Close()

	var results []models.HeatmapPoint
	for rows.Next() {
		var p models.HeatmapPoint
		if err := rows.Scan(&p.X, &p.Y, &p.Count); err != nil {
			return nil, fmt.Errorf("failed to scan heatmap point: %w", err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating heatmap rows: %w", err)
	}
	return results, nil
}
