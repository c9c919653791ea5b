package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funneltrace/api/database"
	"funneltrace/api/metrics"
	"funneltrace/api/models"
	"funneltrace/api/store"
)

func setupService(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()

	client, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	st := store.NewSQLiteStore(client.DB)
	return NewService(st, st), st
}

// flakyEvents rejects batch writes and any single event whose id is listed.
type flakyEvents struct {
	mu      sync.Mutex
	badIDs  map[string]bool
	batches int
	stored  []models.Event
}

func (f *flakyEvents) AppendEvents(ctx context.Context, events []models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	return errors.New("batch rejected")
}

func (f *flakyEvents) AppendEvent(ctx context.Context, event models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.badIDs[event.EventID] {
		return errors.New("row rejected")
	}
	f.stored = append(f.stored, event)
	return nil
}

func (f *flakyEvents) FunnelStepEvents(ctx context.Context, funnelID string, start, end time.Time) ([]models.StepEvent, error) {
	return nil, nil
}

type failingSessions struct{}

func (failingSessions) UpsertSession(ctx context.Context, s models.Session) error {
	return errors.New("sessions unavailable")
}

func (failingSessions) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return nil, store.ErrSessionNotFound
}

func funnelStep(session, step string, ts int64) models.TrackRecord {
	return models.TrackRecord{
		SessionID:  session,
		Type:       string(models.EventFunnelStep),
		Timestamp:  ts,
		FunnelData: &models.FunnelData{FunnelID: "f1", StepName: step},
	}
}

func TestIngestEmptyBatch(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.Ingest(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = svc.Ingest(context.Background(), []models.TrackRecord{})
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestIngestStoresEventsAndSessions(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, []models.TrackRecord{
		{
			SessionID: "s1",
			Type:      string(models.EventPageview),
			Timestamp: 100,
			URL:       "https://shop.example/?utm_source=ads",
			Path:      "/",
			DeviceContext: models.DeviceContext{
				DeviceType: "mobile",
				Browser:    "Safari",
				UTMSource:  "ads",
			},
		},
		funnelStep("s1", "Landing", 100),
		funnelStep("s1", "Signup", 200),
		funnelStep("s2", "Landing", 150),
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Accepted)
	assert.Equal(t, []string{"s1", "s2"}, res.Sessions)

	sess, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "mobile", sess.DeviceType)
	assert.Equal(t, "ads", sess.UTMSource)
	assert.Equal(t, 1, sess.Pageviews)

	// Only pageviews create sessions.
	_, err = st.GetSession(ctx, "s2")
	assert.ErrorIs(t, err, store.ErrSessionNotFound)

	rows, err := st.FunnelStepEvents(ctx, "f1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestIngestNormalizesLegacyFields(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	res, err := svc.Ingest(ctx, []models.TrackRecord{{
		LegacySessionID: "legacy",
		LegacyType:      string(models.EventPageview),
		Timestamp:       42,
		Path:            "/old",
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, []string{"legacy"}, res.Sessions)

	sess, err := st.GetSession(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "/old", sess.EntryPath)
}

func TestIngestSkipsInvalidRecords(t *testing.T) {
	svc, _ := setupService(t)

	res, err := svc.Ingest(context.Background(), []models.TrackRecord{
		{Type: string(models.EventClick), Timestamp: 1},
		{SessionID: "s1", Timestamp: 1},
		{SessionID: "s1", Type: string(models.EventClick)},
		{SessionID: "s1", Type: "teleport", Timestamp: 1},
		{SessionID: "s1", Type: string(models.EventClick), Timestamp: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, []string{"s1"}, res.Sessions)
}

func TestIngestFallsBackToPerEventWrites(t *testing.T) {
	events := &flakyEvents{badIDs: map[string]bool{"id-2": true}}
	svc := NewService(events, failingSessions{})

	n := 0
	svc.newID = func() string {
		n++
		return "id-" + string(rune('0'+n))
	}

	res, err := svc.Ingest(context.Background(), []models.TrackRecord{
		{SessionID: "s1", Type: string(models.EventPageview), Timestamp: 1},
		{SessionID: "s2", Type: string(models.EventClick), Timestamp: 2},
		{SessionID: "s3", Type: string(models.EventScroll), Timestamp: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, events.batches)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, []string{"s1", "s3"}, res.Sessions)
	require.Len(t, events.stored, 2)
	assert.Equal(t, "id-1", events.stored[0].EventID)
	assert.Equal(t, "id-3", events.stored[1].EventID)
}

func TestIngestDuplicateDeliveryIsAppended(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	batch := []models.TrackRecord{funnelStep("s1", "Landing", 100), funnelStep("s1", "Signup", 200)}
	_, err := svc.Ingest(ctx, batch)
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, batch)
	require.NoError(t, err)

	rows, err := st.FunnelStepEvents(ctx, "f1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestIngestRawSkipsMalformedRecords(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()
	rejected := metrics.EventsRejected.WithLabelValues("invalid")
	before := testutil.ToFloat64(rejected)

	res, err := svc.IngestRaw(ctx, []json.RawMessage{
		json.RawMessage(`{"sessionId":"s1","type":"pageview","timestamp":100,"path":"/"}`),
		json.RawMessage(`{"sessionId":"s1","type":"click","timestamp":"oops"}`),
		json.RawMessage(`[1,2,3]`),
		json.RawMessage(`{"sessionId":"s2","type":"click","timestamp":200,"clickData":{"x":1,"y":2}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, []string{"s1", "s2"}, res.Sessions)
	assert.Equal(t, before+2, testutil.ToFloat64(rejected))

	sess, err := st.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "/", sess.EntryPath)
}

func TestIngestRawAllMalformed(t *testing.T) {
	svc, _ := setupService(t)

	res, err := svc.IngestRaw(context.Background(), []json.RawMessage{json.RawMessage(`{"timestamp":"x"}`)})
	require.NoError(t, err)
	assert.Zero(t, res.Accepted)
	assert.Empty(t, res.Sessions)

	_, err = svc.IngestRaw(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}
