// Package funnel reconstructs per-session step paths from funnel_step events
// and derives funnel statistics from them.
package funnel

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"funneltrace/api/models"
	"funneltrace/api/store"
)

// DateRange bounds the events a computation reads. Zero values are
// unbounded; End is exclusive.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// SessionPath is the ordered list of steps one session visited, with
// consecutive repeats collapsed.
type SessionPath struct {
	SessionID string
	Steps     []string
}

// Sessionize groups step rows by session and orders them by timestamp. Input
// order is not trusted: rows are re-sorted, ties keep their input order. A
// step equal to the last one appended for the session is dropped, so reloads
// and duplicate deliveries do not create transitions. Rows without a step
// name are ignored and sessions left with no steps are omitted.
func Sessionize(rows []models.StepEvent) []SessionPath {
	sorted := slices.Clone(rows)
	slices.SortStableFunc(sorted, func(a, b models.StepEvent) int {
		if c := cmp.Compare(a.SessionID, b.SessionID); c != 0 {
			return c
		}
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})

	var paths []SessionPath
	for _, row := range sorted {
		if row.StepName == "" || row.SessionID == "" {
			continue
		}
		n := len(paths)
		if n == 0 || paths[n-1].SessionID != row.SessionID {
			paths = append(paths, SessionPath{SessionID: row.SessionID, Steps: []string{row.StepName}})
			continue
		}
		cur := &paths[n-1]
		if cur.Steps[len(cur.Steps)-1] != row.StepName {
			cur.Steps = append(cur.Steps, row.StepName)
		}
	}
	return paths
}

type Sessionizer struct {
	events store.EventStore
}

func NewSessionizer(events store.EventStore) *Sessionizer {
	return &Sessionizer{events: events}
}

// Paths loads the funnel's step events in r and sessionizes them.
func (s *Sessionizer) Paths(ctx context.Context, funnelID string, r DateRange) ([]SessionPath, error) {
	rows, err := s.events.FunnelStepEvents(ctx, funnelID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("failed to load funnel step events: %w", err)
	}
	return Sessionize(rows), nil
}
