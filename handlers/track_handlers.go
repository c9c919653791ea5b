// handlers/track_handlers.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"funneltrace/api/ingest"
	"funneltrace/api/logger"
	"funneltrace/api/models"
)

type TrackHandlers struct {
	Ingest  *ingest.Service
	Timeout time.Duration
}

func NewTrackHandlers(svc *ingest.Service, timeout time.Duration) *TrackHandlers {
	return &TrackHandlers{
		Ingest:  svc,
		Timeout: timeout,
	}
}

// TrackEvent accepts one batch from the agent. Records that fail decoding,
// validation or storage are skipped; only a missing or empty events array
// (or a body that is not JSON at all) is a 400.
func (h *TrackHandlers) TrackEvent(c *gin.Context) {
	log := logger.WithComponent("http")

	var req models.RawTrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("error binding track request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	res, err := h.Ingest.IngestRaw(ctx, req.Events)
	if err != nil {
		if errors.Is(err, ingest.ErrEmptyBatch) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Msg("error ingesting events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record events", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"eventsProcessed": res.Accepted,
		"sessions":        res.Sessions,
	})
}
