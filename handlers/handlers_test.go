package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funneltrace/api/database"
	"funneltrace/api/funnel"
	"funneltrace/api/ingest"
	"funneltrace/api/models"
	"funneltrace/api/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	store  *store.SQLiteStore
}

func setupServer(t *testing.T, checks map[string]HealthCheck) *testServer {
	t.Helper()

	client, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	st := store.NewSQLiteStore(client.DB)
	timeout := 5 * time.Second
	r := NewRouter([]string{"*"}, Handlers{
		Track:  NewTrackHandlers(ingest.NewService(st, st), timeout),
		Funnel: NewFunnelHandlers(funnel.NewEngine(st, st), st, timeout),
		Stats:  NewStatsHandlers(st, timeout),
		Health: NewHealthHandlers(checks),
	})
	return &testServer{router: r, store: st}
}

func (s *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (s *testServer) createFunnel(t *testing.T, steps ...string) string {
	t.Helper()
	req := models.CreateFunnelRequest{Name: "signup"}
	for _, name := range steps {
		req.Steps = append(req.Steps, models.CreateFunnelStep{Name: name})
	}
	w := s.do(t, http.MethodPost, "/api/funnels", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[struct {
		Funnel models.Funnel       `json:"funnel"`
		Steps  []models.FunnelStep `json:"steps"`
	}](t, w)
	require.Len(t, resp.Steps, len(steps))
	return resp.Funnel.ID
}

func stepRecord(sessionID, funnelID, step string, ts int64) models.TrackRecord {
	return models.TrackRecord{
		SessionID:  sessionID,
		Type:       string(models.EventFunnelStep),
		Timestamp:  ts,
		FunnelData: &models.FunnelData{FunnelID: funnelID, StepName: step},
	}
}

func TestTrackEvent(t *testing.T) {
	s := setupServer(t, nil)
	now := time.Now().UnixMilli()

	w := s.do(t, http.MethodPost, "/api/track", models.TrackRequest{Events: []models.TrackRecord{
		{SessionID: "s1", Type: "pageview", Timestamp: now, URL: "https://shop.test/", Path: "/"},
		{SessionID: "s1", Type: "click", Timestamp: now + 10, ClickData: &models.ClickData{X: 10, Y: 20}},
		{SessionID: "s2", Type: "pageview", Timestamp: now + 20, Path: "/pricing"},
		{SessionID: "", Type: "click", Timestamp: now},
	}})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		Success         bool     `json:"success"`
		EventsProcessed int      `json:"eventsProcessed"`
		Sessions        []string `json:"sessions"`
	}](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, 3, resp.EventsProcessed)
	assert.Equal(t, []string{"s1", "s2"}, resp.Sessions)

	sess, err := s.store.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "/", sess.EntryPath)
	assert.Equal(t, 1, sess.Pageviews)
}

func TestTrackEventBadRequests(t *testing.T) {
	s := setupServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/track", models.TrackRequest{Events: []models.TrackRecord{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/track", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/track", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrackEventSkipsMalformedRecord(t *testing.T) {
	s := setupServer(t, nil)

	body := `{"events":[{"sessionId":"s1","type":"pageview","timestamp":100,"path":"/"},{"sessionId":"s1","type":"click","timestamp":"oops"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/track", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[struct {
		EventsProcessed int      `json:"eventsProcessed"`
		Sessions        []string `json:"sessions"`
	}](t, w)
	assert.Equal(t, 1, resp.EventsProcessed)
	assert.Equal(t, []string{"s1"}, resp.Sessions)

	sess, err := s.store.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.Pageviews)
}

func TestFunnelPaths(t *testing.T) {
	s := setupServer(t, nil)
	id := s.createFunnel(t, "Landing", "Signup")

	w := s.do(t, http.MethodGet, "/api/funnel-paths?funnelId="+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	empty := decode[models.FunnelPaths](t, w)
	assert.False(t, empty.HasData)
	assert.Empty(t, empty.Transitions)

	w = s.do(t, http.MethodPost, "/api/track", models.TrackRequest{Events: []models.TrackRecord{
		stepRecord("s1", id, "Landing", 100),
		stepRecord("s1", id, "Signup", 200),
		stepRecord("s2", id, "Landing", 150),
	}})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/funnel-paths?funnelId="+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	paths := decode[models.FunnelPaths](t, w)
	assert.True(t, paths.HasData)
	assert.Equal(t, 2, paths.TotalSessions)
	require.Len(t, paths.Transitions, 1)
	assert.InDelta(t, 50.0, paths.Transitions[0].Percentage, 1e-9)
	assert.Equal(t, map[string]int{"Landing": 2}, paths.EntryPoints)
}

func TestFunnelPathsErrors(t *testing.T) {
	s := setupServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/funnel-paths", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/funnel-paths?funnelId=missing", nil).Code)

	id := s.createFunnel(t, "Landing")
	w := s.do(t, http.MethodGet, "/api/funnel-paths?funnelId="+id+"&startDate=01-02-2024", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFunnelStatsPersistsAndMetricsMatch(t *testing.T) {
	s := setupServer(t, nil)
	id := s.createFunnel(t, "Landing", "Signup", "Checkout")

	s.do(t, http.MethodPost, "/api/track", models.TrackRequest{Events: []models.TrackRecord{
		stepRecord("s1", id, "Landing", 100),
		stepRecord("s1", id, "Signup", 200),
		stepRecord("s1", id, "Checkout", 300),
		stepRecord("s2", id, "Landing", 100),
		stepRecord("s2", id, "Signup", 200),
		stepRecord("s3", id, "Landing", 100),
		stepRecord("s4", id, "Landing", 100),
	}})

	w := s.do(t, http.MethodPost, "/api/funnel-stats", models.FunnelStatsRequest{FunnelID: id})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	persisted := decode[models.FunnelMetrics](t, w)
	assert.True(t, persisted.Persisted)
	assert.InDelta(t, 25.0, persisted.ConversionRate, 1e-9)
	require.Len(t, persisted.Steps, 3)
	assert.Equal(t, 4, persisted.Steps[0].Visitors)
	assert.InDelta(t, 50.0, persisted.Steps[1].Dropoff, 1e-9)

	w = s.do(t, http.MethodGet, "/api/funnels/"+id+"/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	live := decode[models.FunnelMetrics](t, w)
	assert.False(t, live.Persisted)
	assert.Equal(t, persisted.Steps, live.Steps)
	assert.InDelta(t, persisted.ConversionRate, live.ConversionRate, 1e-9)

	w = s.do(t, http.MethodGet, "/api/funnels/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	def := decode[struct {
		Funnel models.Funnel       `json:"funnel"`
		Steps  []models.FunnelStep `json:"steps"`
	}](t, w)
	assert.InDelta(t, 25.0, def.Funnel.ConversionRate, 1e-9)
	require.Len(t, def.Steps, 3)
	assert.Equal(t, 4, def.Steps[0].Visitors)
}

func TestFunnelStatsErrors(t *testing.T) {
	s := setupServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/funnel-stats", map[string]string{}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/funnel-stats", models.FunnelStatsRequest{FunnelID: "nope"}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/funnels/nope/metrics", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/funnels/nope", nil).Code)
}

func TestCreateAndListFunnels(t *testing.T) {
	s := setupServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/funnels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = s.do(t, http.MethodPost, "/api/funnels", models.CreateFunnelRequest{Name: "empty"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodPost, "/api/funnels", models.CreateFunnelRequest{
		Name:  "unnamed step",
		Steps: []models.CreateFunnelStep{{TargetURL: "/x"}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	id := s.createFunnel(t, "Landing", "Signup")

	w = s.do(t, http.MethodGet, "/api/funnels", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.Funnel](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestStatsEndpoints(t *testing.T) {
	s := setupServer(t, nil)
	now := time.Now().Add(-time.Hour).UnixMilli()

	w := s.do(t, http.MethodPost, "/api/track", models.TrackRequest{Events: []models.TrackRecord{
		{SessionID: "s1", Type: "pageview", Timestamp: now, Path: "/"},
		{SessionID: "s2", Type: "pageview", Timestamp: now + 1, Path: "/"},
		{SessionID: "s2", Type: "pageview", Timestamp: now + 2, Path: "/pricing"},
		{SessionID: "s1", Type: "click", Timestamp: now + 3, Path: "/", ClickData: &models.ClickData{X: 101, Y: 48}},
		{SessionID: "s2", Type: "click", Timestamp: now + 4, Path: "/", ClickData: &models.ClickData{X: 99, Y: 52}},
		{SessionID: "s1", Type: "time_on_page", Timestamp: now + 5, Path: "/", TimeData: &models.TimeData{Elapsed: 30, Engaged: true}},
		{SessionID: "s1", Type: "time_on_page", Timestamp: now + 6, Path: "/", TimeData: &models.TimeData{Elapsed: 60}},
		{SessionID: "s2", Type: "time_on_page", Timestamp: now + 7, Path: "/", TimeData: &models.TimeData{Elapsed: 30, Engaged: true}},
	}})
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("event counts", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/stats/event-counts?interval=Day", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var total uint64
		for _, r := range decode[[]models.EventTypeCountByTime](t, w) {
			total += r.Count
		}
		assert.Equal(t, uint64(8), total)

		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/stats/event-counts", nil).Code)
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/stats/event-counts?interval=Day&start=yesterday", nil).Code)
	})

	t.Run("unique sessions", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/stats/unique-sessions?interval=Day", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var total uint64
		for _, r := range decode[[]models.EventTypeCountByTime](t, w) {
			total += r.Count
		}
		assert.Equal(t, uint64(2), total)
	})

	t.Run("top paths", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/stats/top-paths?limit=1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []models.TopPathResult{{PagePath: "/", Count: 2}}, decode[[]models.TopPathResult](t, w))

		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/stats/top-paths?limit=0", nil).Code)
	})

	t.Run("heatmap", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/stats/heatmap?path=/", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[struct {
			Points []models.HeatmapPoint `json:"points"`
		}](t, w)
		assert.Equal(t, []models.HeatmapPoint{{X: 100, Y: 50, Count: 2}}, resp.Points)

		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/stats/heatmap", nil).Code)
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/stats/heatmap?path=/&type=scroll", nil).Code)
	})

	t.Run("time on page", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/stats/time-on-page?path=/", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[struct {
			Path    string  `json:"path"`
			Average float64 `json:"averageSecondsOnPage"`
		}](t, w)
		assert.Equal(t, "/", resp.Path)
		assert.InDelta(t, 45.0, resp.Average, 1e-9)
	})
}

func TestHealth(t *testing.T) {
	ok := setupServer(t, map[string]HealthCheck{
		"db": func(context.Context) error { return nil },
	})
	w := ok.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"db":"ok"}}`, w.Body.String())

	down := setupServer(t, map[string]HealthCheck{
		"db":    func(context.Context) error { return nil },
		"cache": func(context.Context) error { return errors.New("connection refused") },
	})
	w = down.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"db":"ok","cache":"connection refused"}}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupServer(t, nil)
	s.do(t, http.MethodGet, "/health", nil)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "funneltrace_api_requests_total")
}
