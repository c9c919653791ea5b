// handlers/funnel_handlers.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"funneltrace/api/funnel"
	"funneltrace/api/logger"
	"funneltrace/api/models"
	"funneltrace/api/store"
	"funneltrace/api/utils"
)

type FunnelHandlers struct {
	Engine   *funnel.Engine
	Funnels  store.FunnelStore
	Timeout  time.Duration
	validate *validator.Validate
}

func NewFunnelHandlers(engine *funnel.Engine, funnels store.FunnelStore, timeout time.Duration) *FunnelHandlers {
	return &FunnelHandlers{
		Engine:   engine,
		Funnels:  funnels,
		Timeout:  timeout,
		validate: validator.New(),
	}
}

// funnelError maps missing funnels and steps to 404, everything else to 500.
func funnelError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrFunnelNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Funnel not found"})
	case errors.Is(err, funnel.ErrNoSteps):
		c.JSON(http.StatusNotFound, gin.H{"error": "Funnel has no steps"})
	default:
		log := logger.WithComponent("http")
		log.Error().Err(err).Msg(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "details": err.Error()})
	}
}

func dateRange(c *gin.Context) (funnel.DateRange, error) {
	start, end, err := utils.ParseDateRange(c.Query("startDate"), c.Query("endDate"))
	if err != nil {
		return funnel.DateRange{}, err
	}
	return funnel.DateRange{Start: start, End: end}, nil
}

// GetFunnelPaths serves path statistics. A funnel without any sessions in
// range answers 200 with hasData=false.
func (h *FunnelHandlers) GetFunnelPaths(c *gin.Context) {
	funnelID := c.Query("funnelId")
	if funnelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "funnelId query parameter is required"})
		return
	}
	r, err := dateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	paths, err := h.Engine.PathStats(ctx, funnelID, r)
	if err != nil {
		funnelError(c, err, "Failed to compute funnel paths")
		return
	}

	c.JSON(http.StatusOK, paths)
}

// ComputeFunnelStats runs the persisted computation and echoes the values
// it wrote.
func (h *FunnelHandlers) ComputeFunnelStats(c *gin.Context) {
	var req models.FunnelStatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "funnelId is required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	res, err := h.Engine.Persist(ctx, req.FunnelID, funnel.DateRange{})
	if err != nil {
		funnelError(c, err, "Failed to compute funnel stats")
		return
	}

	c.JSON(http.StatusOK, res)
}

// GetFunnelMetrics is the read-only counterpart of ComputeFunnelStats.
func (h *FunnelHandlers) GetFunnelMetrics(c *gin.Context) {
	r, err := dateRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	res, err := h.Engine.Live(ctx, c.Param("id"), r)
	if err != nil {
		funnelError(c, err, "Failed to compute funnel metrics")
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *FunnelHandlers) CreateFunnel(c *gin.Context) {
	var req models.CreateFunnelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid funnel definition", "details": err.Error()})
		return
	}

	steps := make([]models.FunnelStep, len(req.Steps))
	for i, s := range req.Steps {
		steps[i] = models.FunnelStep{Name: s.Name, TargetURL: s.TargetURL}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	f, created, err := h.Funnels.CreateFunnel(ctx, req.Name, steps)
	if err != nil {
		funnelError(c, err, "Failed to create funnel")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"funnel": f, "steps": created})
}

func (h *FunnelHandlers) ListFunnels(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	funnels, err := h.Funnels.ListFunnels(ctx)
	if err != nil {
		funnelError(c, err, "Failed to list funnels")
		return
	}
	if funnels == nil {
		funnels = []models.Funnel{}
	}

	c.JSON(http.StatusOK, funnels)
}

// GetFunnel returns the definition with its cached step values.
func (h *FunnelHandlers) GetFunnel(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	id := c.Param("id")
	f, err := h.Funnels.GetFunnel(ctx, id)
	if err != nil {
		funnelError(c, err, "Failed to get funnel")
		return
	}
	steps, err := h.Funnels.GetSteps(ctx, id)
	if err != nil {
		funnelError(c, err, "Failed to get funnel steps")
		return
	}
	if steps == nil {
		steps = []models.FunnelStep{}
	}

	c.JSON(http.StatusOK, gin.H{"funnel": f, "steps": steps})
}
