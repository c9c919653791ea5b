// Package ingest turns batches of agent event records into stored events
// and session rows.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"

	"funneltrace/api/logger"
	"funneltrace/api/metrics"
	"funneltrace/api/models"
	"funneltrace/api/store"
)

var ErrEmptyBatch = errors.New("events array is required and must not be empty")

// Result reports what one batch contributed.
type Result struct {
	Accepted int
	Sessions []string
}

type Service struct {
	events   store.EventStore
	sessions store.SessionStore
	validate *validator.Validate
	newID    func() string
}

func NewService(events store.EventStore, sessions store.SessionStore) *Service {
	return &Service{
		events:   events,
		sessions: sessions,
		validate: validator.New(),
		newID:    func() string { return uuid.New().String() },
	}
}

// Ingest stores one batch. Only an empty batch fails the call; records that
// are invalid or fail to persist are logged and skipped.
func (s *Service) Ingest(ctx context.Context, records []models.TrackRecord) (Result, error) {
	if len(records) == 0 {
		return Result{}, ErrEmptyBatch
	}
	log := logger.WithComponent("ingest")
	metrics.BatchSize.Observe(float64(len(records)))

	events := make([]models.Event, 0, len(records))
	for i := range records {
		rec := records[i]
		rec.Normalize()

		if err := s.check(rec); err != nil {
			metrics.EventsRejected.WithLabelValues("invalid").Inc()
			log.Warn().Err(err).
				Int("index", i).
				Str("session_id", rec.SessionID).
				Str("event_type", rec.Type).
				Msg("skipping invalid event record")
			continue
		}

		if models.EventType(rec.Type) == models.EventPageview {
			s.upsertSession(ctx, rec)
		}
		events = append(events, rec.ToEvent(s.newID()))
	}

	stored := s.append(ctx, events)

	res := Result{Accepted: len(stored), Sessions: []string{}}
	seen := make(map[string]bool)
	for _, ev := range stored {
		metrics.EventsIngested.WithLabelValues(string(ev.EventType)).Inc()
		if !seen[ev.SessionID] {
			seen[ev.SessionID] = true
			res.Sessions = append(res.Sessions, ev.SessionID)
		}
	}

	log.Debug().
		Int("received", len(records)).
		Int("accepted", res.Accepted).
		Int("sessions", len(res.Sessions)).
		Msg("batch ingested")
	return res, nil
}

// IngestRaw decodes each record of a batch on its own so that one malformed
// record is skipped instead of failing the whole batch.
func (s *Service) IngestRaw(ctx context.Context, raw []json.RawMessage) (Result, error) {
	if len(raw) == 0 {
		return Result{}, ErrEmptyBatch
	}

	records := make([]models.TrackRecord, 0, len(raw))
	for i, r := range raw {
		var rec models.TrackRecord
		if err := gojson.Unmarshal(r, &rec); err != nil {
			metrics.EventsRejected.WithLabelValues("invalid").Inc()
			log := logger.WithComponent("ingest")
			log.Warn().Err(err).Int("index", i).Msg("skipping malformed event record")
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return Result{Sessions: []string{}}, nil
	}
	return s.Ingest(ctx, records)
}

func (s *Service) check(rec models.TrackRecord) error {
	if err := s.validate.Struct(rec); err != nil {
		return err
	}
	if !models.EventType(rec.Type).Valid() {
		return fmt.Errorf("unknown event type %q", rec.Type)
	}
	return nil
}

func (s *Service) upsertSession(ctx context.Context, rec models.TrackRecord) {
	if err := s.sessions.UpsertSession(ctx, rec.ToSession()); err != nil {
		metrics.SessionUpserts.WithLabelValues("error").Inc()
		log := logger.WithSessionID(rec.SessionID)
		log.Warn().Err(err).Str("component", "ingest").Msg("session upsert failed")
		return
	}
	metrics.SessionUpserts.WithLabelValues("ok").Inc()
}

// append writes the batch in one call and falls back to row-at-a-time
// inserts when the batch write fails, so a bad row only costs itself.
func (s *Service) append(ctx context.Context, events []models.Event) []models.Event {
	if len(events) == 0 {
		return nil
	}
	log := logger.WithComponent("ingest")

	err := s.events.AppendEvents(ctx, events)
	if err == nil {
		return events
	}
	log.Warn().Err(err).Int("count", len(events)).Msg("batch append failed, retrying per event")

	stored := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if err := s.events.AppendEvent(ctx, ev); err != nil {
			metrics.EventsRejected.WithLabelValues("persist").Inc()
			log.Warn().Err(err).
				Str("session_id", ev.SessionID).
				Str("event_type", string(ev.EventType)).
				Msg("failed to store event")
			continue
		}
		stored = append(stored, ev)
	}
	return stored
}
