// store/sql_store.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"funneltrace/api/logger"
	"funneltrace/api/models"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// SQLStore implements SessionStore and FunnelStore over database/sql. The
// same statements serve Postgres and SQLite; placeholders are rebound and the
// two scalar min/max functions differ.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: dialectPostgres}
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) least() string {
	if s.dialect == dialectPostgres {
		return "LEAST"
	}
	return "MIN"
}

func (s *SQLStore) greatest() string {
	if s.dialect == dialectPostgres {
		return "GREATEST"
	}
	return "MAX"
}

const sessionColumns = `session_id, first_seen_at, last_activity_at, pageviews,
	device_type, browser, os, screen_width, screen_height, viewport_width, viewport_height, language,
	entry_url, entry_path, entry_title, referrer,
	utm_source, utm_medium, utm_campaign, utm_term, utm_content`

// Device fields take the newest known value; entry page, referrer and
// campaign tags are first-touch and keep the earliest known value.
func (s *SQLStore) upsertSessionSQL() string {
	newer := func(col string) string {
		return fmt.Sprintf("%s = COALESCE(excluded.%s, sessions.%s)", col, col, col)
	}
	older := func(col string) string {
		return fmt.Sprintf("%s = COALESCE(sessions.%s, excluded.%s)", col, col, col)
	}
	set := []string{
		fmt.Sprintf("first_seen_at = %s(sessions.first_seen_at, excluded.first_seen_at)", s.least()),
		fmt.Sprintf("last_activity_at = %s(sessions.last_activity_at, excluded.last_activity_at)", s.greatest()),
		"pageviews = sessions.pageviews + 1",
	}
	for _, c := range []string{"device_type", "browser", "os", "screen_width", "screen_height", "viewport_width", "viewport_height", "language"} {
		set = append(set, newer(c))
	}
	for _, c := range []string{"entry_url", "entry_path", "entry_title", "referrer", "utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"} {
		set = append(set, older(c))
	}
	return s.rebind(fmt.Sprintf(`
		INSERT INTO sessions (%s)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
		%s`, sessionColumns, strings.Join(set, ",\n\t\t")))
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(v int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v > 0}
}

func (s *SQLStore) UpsertSession(ctx context.Context, sess models.Session) error {
	if sess.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	_, err := s.db.ExecContext(ctx, s.upsertSessionSQL(),
		sess.SessionID,
		sess.FirstSeenAt,
		sess.LastActivityAt,
		nullString(sess.DeviceType),
		nullString(sess.Browser),
		nullString(sess.OS),
		nullInt(sess.ScreenWidth),
		nullInt(sess.ScreenHeight),
		nullInt(sess.ViewportWidth),
		nullInt(sess.ViewportHeight),
		nullString(sess.Language),
		nullString(sess.EntryURL),
		nullString(sess.EntryPath),
		nullString(sess.EntryTitle),
		nullString(sess.Referrer),
		nullString(sess.UTMSource),
		nullString(sess.UTMMedium),
		nullString(sess.UTMCampaign),
		nullString(sess.UTMTerm),
		nullString(sess.UTMContent),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.SessionID, err)
	}
	return nil
}

func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var (
		sess                           models.Session
		deviceType, browser, osName    sql.NullString
		language, entryURL, entryPath  sql.NullString
		entryTitle, referrer           sql.NullString
		utmSource, utmMedium, utmCamp  sql.NullString
		utmTerm, utmContent            sql.NullString
		screenW, screenH, viewW, viewH sql.NullInt64
	)
	query := s.rebind(fmt.Sprintf(`SELECT %s FROM sessions WHERE session_id = ?`, sessionColumns))
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&sess.SessionID, &sess.FirstSeenAt, &sess.LastActivityAt, &sess.Pageviews,
		&deviceType, &browser, &osName, &screenW, &screenH, &viewW, &viewH, &language,
		&entryURL, &entryPath, &entryTitle, &referrer,
		&utmSource, &utmMedium, &utmCamp, &utmTerm, &utmContent,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}

	sess.DeviceType = deviceType.String
	sess.Browser = browser.String
	sess.OS = osName.String
	sess.ScreenWidth = int(screenW.Int64)
	sess.ScreenHeight = int(screenH.Int64)
	sess.ViewportWidth = int(viewW.Int64)
	sess.ViewportHeight = int(viewH.Int64)
	sess.Language = language.String
	sess.EntryURL = entryURL.String
	sess.EntryPath = entryPath.String
	sess.EntryTitle = entryTitle.String
	sess.Referrer = referrer.String
	sess.UTMSource = utmSource.String
	sess.UTMMedium = utmMedium.String
	sess.UTMCampaign = utmCamp.String
	sess.UTMTerm = utmTerm.String
	sess.UTMContent = utmContent.String
	return &sess, nil
}

// CreateFunnel inserts a funnel and its steps in one transaction. Step
// positions are taken from slice order.
func (s *SQLStore) CreateFunnel(ctx context.Context, name string, steps []models.FunnelStep) (*models.Funnel, []models.FunnelStep, error) {
	now := time.Now().UTC()
	funnel := &models.Funnel{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO funnels (id, name, conversion_rate, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`),
		funnel.ID, funnel.Name, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert funnel: %w", err)
	}

	created := make([]models.FunnelStep, 0, len(steps))
	for i, st := range steps {
		st.ID = uuid.New().String()
		st.FunnelID = funnel.ID
		st.Position = i
		_, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO funnel_steps (id, funnel_id, name, target_url, position, visitors, dropoff) VALUES (?, ?, ?, ?, ?, 0, 0)`),
			st.ID, st.FunnelID, st.Name, nullString(st.TargetURL), st.Position)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert funnel step %q: %w", st.Name, err)
		}
		created = append(created, st)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit funnel: %w", err)
	}

	log := logger.WithFunnelID(funnel.ID)
	log.Info().Str("name", name).Int("steps", len(created)).Msg("funnel created")
	return funnel, created, nil
}

func (s *SQLStore) GetFunnel(ctx context.Context, funnelID string) (*models.Funnel, error) {
	var (
		f                models.Funnel
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, name, conversion_rate, created_at, updated_at FROM funnels WHERE id = ?`),
		funnelID,
	).Scan(&f.ID, &f.Name, &f.ConversionRate, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFunnelNotFound
		}
		return nil, fmt.Errorf("failed to get funnel %s: %w", funnelID, err)
	}
	f.CreatedAt = time.UnixMilli(created).UTC()
	f.UpdatedAt = time.UnixMilli(updated).UTC()
	return &f, nil
}

func (s *SQLStore) ListFunnels(ctx context.Context) ([]models.Funnel, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, conversion_rate, created_at, updated_at FROM funnels ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list funnels: %w", err)
	}
	defer rows.Close()

	var funnels []models.Funnel
	for rows.Next() {
		var (
			f                models.Funnel
			created, updated int64
		)
		if err := rows.Scan(&f.ID, &f.Name, &f.ConversionRate, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan funnel: %w", err)
		}
		f.CreatedAt = time.UnixMilli(created).UTC()
		f.UpdatedAt = time.UnixMilli(updated).UTC()
		funnels = append(funnels, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funnels: %w", err)
	}
	return funnels, nil
}

func (s *SQLStore) GetSteps(ctx context.Context, funnelID string) ([]models.FunnelStep, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, funnel_id, name, target_url, position, visitors, dropoff
			FROM funnel_steps WHERE funnel_id = ? ORDER BY position ASC`),
		funnelID)
	if err != nil {
		return nil, fmt.Errorf("failed to query funnel steps: %w", err)
	}
	defer rows.Close()

	var steps []models.FunnelStep
	for rows.Next() {
		var (
			st        models.FunnelStep
			targetURL sql.NullString
		)
		if err := rows.Scan(&st.ID, &st.FunnelID, &st.Name, &targetURL, &st.Position, &st.Visitors, &st.Dropoff); err != nil {
			return nil, fmt.Errorf("failed to scan funnel step: %w", err)
		}
		st.TargetURL = targetURL.String
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funnel steps: %w", err)
	}
	return steps, nil
}

// SaveStepMetrics writes the cache columns. Each statement is an independent
// single-row update; concurrent runs for one funnel resolve as last writer wins.
func (s *SQLStore) SaveStepMetrics(ctx context.Context, funnelID string, steps []models.StepMetric, conversionRate float64) error {
	for _, st := range steps {
		_, err := s.db.ExecContext(ctx,
			s.rebind(`UPDATE funnel_steps SET visitors = ?, dropoff = ? WHERE id = ? AND funnel_id = ?`),
			st.Visitors, st.Dropoff, st.StepID, funnelID)
		if err != nil {
			return fmt.Errorf("failed to update funnel step %s: %w", st.StepID, err)
		}
	}

	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE funnels SET conversion_rate = ?, updated_at = ? WHERE id = ?`),
		conversionRate, time.Now().UTC().UnixMilli(), funnelID)
	if err != nil {
		return fmt.Errorf("failed to update funnel conversion rate: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrFunnelNotFound
	}
	return nil
}
