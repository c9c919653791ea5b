// models/funnel.go
package models

import "time"

// Funnel is a user-authored journey definition. ConversionRate is a cache
// written only by a persisted funnel computation.
type Funnel struct {
	ID             string    `json:"id"`
	Name           string    `json:"name" validate:"required"`
	ConversionRate float64   `json:"conversionRate"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// FunnelStep is one ordered step. Visitors and Dropoff are cache fields with
// the same single writer as Funnel.ConversionRate.
type FunnelStep struct {
	ID        string  `json:"id"`
	FunnelID  string  `json:"funnelId" validate:"required"`
	Name      string  `json:"name" validate:"required"`
	TargetURL string  `json:"targetUrl,omitempty"`
	Position  int     `json:"position" validate:"gte=0"`
	Visitors  int     `json:"visitors"`
	Dropoff   float64 `json:"dropoff"`
}

// Transition is one adjacent (from, to) pair observed in session paths.
type Transition struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// FunnelPaths is the result of GET /api/funnel-paths.
type FunnelPaths struct {
	FunnelID      string         `json:"funnelId"`
	HasData       bool           `json:"hasData"`
	TotalSessions int            `json:"totalSessions"`
	Transitions   []Transition   `json:"transitions"`
	StepVisits    map[string]int `json:"stepVisits"`
	EntryPoints   map[string]int `json:"entryPoints"`
	ExitPoints    map[string]int `json:"exitPoints"`
}

// StepMetric is the computed visitors/dropoff for one declared step.
type StepMetric struct {
	StepID   string  `json:"stepId"`
	Name     string  `json:"name"`
	Position int     `json:"position"`
	Visitors int     `json:"visitors"`
	Dropoff  float64 `json:"dropoff"`
}

// FunnelMetrics is the result of a live or persisted funnel computation.
type FunnelMetrics struct {
	FunnelID       string       `json:"funnelId"`
	Name           string       `json:"name"`
	HasData        bool         `json:"hasData"`
	TotalSessions  int          `json:"totalSessions"`
	ConversionRate float64      `json:"conversionRate"`
	Steps          []StepMetric `json:"steps"`
	Persisted      bool         `json:"persisted"`
}

// CreateFunnelRequest is the body of POST /api/funnels. Steps are stored in
// the order given.
type CreateFunnelRequest struct {
	Name  string             `json:"name" validate:"required"`
	Steps []CreateFunnelStep `json:"steps" validate:"required,min=1,dive"`
}

type CreateFunnelStep struct {
	Name      string `json:"name" validate:"required"`
	TargetURL string `json:"targetUrl,omitempty"`
}

// FunnelStatsRequest is the body of POST /api/funnel-stats.
type FunnelStatsRequest struct {
	FunnelID string `json:"funnelId" validate:"required"`
}
