package store

import (
	"context"
	"errors"
	"time"

	"funneltrace/api/models"
)

const (
	defaultHeatmapGrid = 10.0
	heatmapPointLimit  = 5000
)

var (
	ErrFunnelNotFound  = errors.New("funnel not found")
	ErrSessionNotFound = errors.New("session not found")
)

// EventStore is the append-only event log.
type EventStore interface {
	AppendEvents(ctx context.Context, events []models.Event) error
	AppendEvent(ctx context.Context, event models.Event) error
	// FunnelStepEvents returns funnel_step rows for one funnel ordered by
	// session then timestamp. Zero start/end leave that side unbounded; end
	// is exclusive.
	FunnelStepEvents(ctx context.Context, funnelID string, start, end time.Time) ([]models.StepEvent, error)
}

// SessionStore keeps one row per session id.
type SessionStore interface {
	// UpsertSession creates the session or merges s into the existing row
	// atomically. Known values are never replaced with unknown ones.
	UpsertSession(ctx context.Context, s models.Session) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
}

// FunnelStore reads funnel definitions and owns the cache columns written by
// persisted funnel computations.
type FunnelStore interface {
	CreateFunnel(ctx context.Context, name string, steps []models.FunnelStep) (*models.Funnel, []models.FunnelStep, error)
	GetFunnel(ctx context.Context, funnelID string) (*models.Funnel, error)
	ListFunnels(ctx context.Context) ([]models.Funnel, error)
	// GetSteps returns steps ordered by position.
	GetSteps(ctx context.Context, funnelID string) ([]models.FunnelStep, error)
	SaveStepMetrics(ctx context.Context, funnelID string, steps []models.StepMetric, conversionRate float64) error
}

// StatsStore serves the dashboard's read-only event aggregates.
type StatsStore interface {
	GetEventCountsOverTime(ctx context.Context, interval string, start, end time.Time, eventTypeFilter string) ([]models.EventTypeCountByTime, error)
	GetUniqueSessionsOverTime(ctx context.Context, interval string, start, end time.Time) ([]models.EventTypeCountByTime, error)
	GetAverageTimeOnPage(ctx context.Context, path string, start, end time.Time) (float64, error)
	GetTopNPagePaths(ctx context.Context, start, end time.Time, limit uint64) ([]models.TopPathResult, error)
	GetHeatmapPoints(ctx context.Context, path string, eventType models.EventType, start, end time.Time, grid float64) ([]models.HeatmapPoint, error)
}
