package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes registers all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/healthz", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/requests", h.GetRequests)
		v1.GET("/requests/:id", h.GetRequest)
		v1.GET("/configs", h.GetConfigs)
		v1.GET("/logs", h.GetLogs)

		sched := v1.Group("/scheduler")
		{
			sched.POST("/start", h.StartScheduler)
			sched.POST("/stop", h.StopScheduler)
			sched.POST("/run-once", h.RunOnce)
			sched.GET("/status", h.GetSchedulerStatus)
		}
	}
}
