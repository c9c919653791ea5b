// handlers/stats_handlers.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"funneltrace/api/logger"
	"funneltrace/api/models"
	"funneltrace/api/store"
)

const defaultStatsWindow = 7 * 24 * time.Hour

type StatsHandlers struct {
	Stats   store.StatsStore
	Timeout time.Duration
}

func NewStatsHandlers(s store.StatsStore, timeout time.Duration) *StatsHandlers {
	return &StatsHandlers{
		Stats:   s,
		Timeout: timeout,
	}
}

// parseTimeWindow reads RFC3339 start/end query parameters, defaulting to the
// last seven days.
func parseTimeWindow(c *gin.Context) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	if p := c.Query("end"); p != "" {
		t, err := time.Parse(time.RFC3339, p)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("Invalid 'end' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)")
		}
		end = t
	}

	start := end.Add(-defaultStatsWindow)
	if p := c.Query("start"); p != "" {
		t, err := time.Parse(time.RFC3339, p)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("Invalid 'start' timestamp format. Use RFC3339 (e.g., 2006-01-02T15:04:05Z)")
		}
		start = t
	}
	return start, end, nil
}

func (h *StatsHandlers) GetEventCountsOverTime(c *gin.Context) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}
	eventTypeFilter := c.Query("eventType")

	start, end, err := parseTimeWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	results, err := h.Stats.GetEventCountsOverTime(ctx, interval, start, end, eventTypeFilter)
	if err != nil {
		log := logger.WithComponent("http")
		log.Error().Err(err).Msg("error getting event counts over time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve event statistics", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetUniqueSessionsOverTime(c *gin.Context) {
	interval := c.Query("interval")
	if interval == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval query parameter is required (e.g., 'Day', 'Hour')"})
		return
	}

	start, end, err := parseTimeWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	results, err := h.Stats.GetUniqueSessionsOverTime(ctx, interval, start, end)
	if err != nil {
		log := logger.WithComponent("http")
		log.Error().Err(err).Msg("error getting unique sessions over time")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve unique session statistics", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, results)
}

func (h *StatsHandlers) GetAverageTimeOnPage(c *gin.Context) {
	path := c.Query("path")

	start, end, err := parseTimeWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	avg, err := h.Stats.GetAverageTimeOnPage(ctx, path, start, end)
	if err != nil {
		log := logger.WithComponent("http")
		log.Error().Err(err).Msg("error getting average time on page")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve time on page statistics", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"path":                 path,
		"startDate":            start.Format(time.RFC3339),
		"endDate":              end.Format(time.RFC3339),
		"averageSecondsOnPage": avg,
	})
}

func (h *StatsHandlers) GetTopNPagePaths(c *gin.Context) {
	start, end, err := parseTimeWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var limit uint64 = 10
	if p := c.Query("limit"); p != "" {
		parsed, err := strconv.ParseUint(p, 10, 64)
		if err != nil || parsed == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'limit' parameter. Must be a positive integer."})
			return
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	results, err := h.Stats.GetTopNPagePaths(ctx, start, end, limit)
	if err != nil {
		log := logger.WithComponent("http")
		log.Error().Err(err).Msg("error getting top page paths")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve top page paths statistics", "details": err.Error()})
		return
	}
	if results == nil {
		results = []models.TopPathResult{}
	}

	c.JSON(http.StatusOK, results)
}

// GetHeatmap returns pre-aggregated click or mousemove points for one page.
func (h *StatsHandlers) GetHeatmap(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter is required"})
		return
	}

	eventType := models.EventClick
	if p := c.Query("type"); p != "" {
		eventType = models.EventType(p)
	}
	if eventType != models.EventClick && eventType != models.EventMousemove {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be 'click' or 'mousemove'"})
		return
	}

	var grid float64
	if p := c.Query("grid"); p != "" {
		parsed, err := strconv.ParseFloat(p, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'grid' parameter. Must be a positive number."})
			return
		}
		grid = parsed
	}

	start, end, err := parseTimeWindow(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	points, err := h.Stats.GetHeatmapPoints(ctx, path, eventType, start, end, grid)
	if err != nil {
		log := logger.WithComponent("http")
		log.Error().Err(err).Msg("error getting heatmap points")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve heatmap points", "details": err.Error()})
		return
	}
	if points == nil {
		points = []models.HeatmapPoint{}
	}

	c.JSON(http.StatusOK, gin.H{
		"path":   path,
		"type":   eventType,
		"points": points,
	})
}
