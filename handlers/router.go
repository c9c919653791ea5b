package handlers

import (
	"github.com/gin-gonic/gin"

	"funneltrace/api/metrics"
	"funneltrace/api/middleware"
)

type Handlers struct {
	Track  *TrackHandlers
	Funnel *FunnelHandlers
	Stats  *StatsHandlers
	Health *HealthHandlers
}

// NewRouter wires every route. corsOrigins may contain "*" to allow any
// origin, which the ingestion endpoint needs when the agent is embedded on
// third-party pages.
func NewRouter(corsOrigins []string, h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.PrometheusMiddleware())
	r.Use(middleware.CORSMiddleware(corsOrigins))

	r.GET("/health", h.Health.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		api.POST("/track", h.Track.TrackEvent)

		api.GET("/funnel-paths", h.Funnel.GetFunnelPaths)
		api.POST("/funnel-stats", h.Funnel.ComputeFunnelStats)

		funnels := api.Group("/funnels")
		{
			funnels.POST("", h.Funnel.CreateFunnel)
			funnels.GET("", h.Funnel.ListFunnels)
			funnels.GET("/:id", h.Funnel.GetFunnel)
			funnels.GET("/:id/metrics", h.Funnel.GetFunnelMetrics)
		}

		stats := api.Group("/stats")
		{
			stats.GET("/event-counts", h.Stats.GetEventCountsOverTime)
			stats.GET("/unique-sessions", h.Stats.GetUniqueSessionsOverTime)
			stats.GET("/time-on-page", h.Stats.GetAverageTimeOnPage)
			stats.GET("/top-paths", h.Stats.GetTopNPagePaths)
			stats.GET("/heatmap", h.Stats.GetHeatmap)
		}
	}

	return r
}
