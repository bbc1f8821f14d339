package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/earnings-watch/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	h := handler.NewHandler(deps)

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/transcripts/:id/analysis?force=true
		v1.POST("/transcripts/:id/analysis", h.EnqueueAnalysis)

		// POST /api/v1/stocks/:id/check
		v1.POST("/stocks/:id/check", h.TriggerCheck)

		scheduler := v1.Group("/scheduler")
		{
			scheduler.GET("/status", h.SchedulerStatus)
			scheduler.POST("/run", h.RunScheduler)
		}

		jobs := v1.Group("/analysis-jobs")
		{
			jobs.GET("", h.ListAnalysisJobs)
			jobs.GET("/:id", h.GetAnalysisJob)
		}
	}

	return r
}
