package handlers

import "github.com/gin-gonic/gin"

// Handlers groups every HTTP handler the API serves.
type Handlers struct {
	Health    *HealthHandler
	Cycles    *CycleHandler
	Scores    *ScoreHandler
	CallQueue *CallQueueHandler
}

// RegisterRoutes mounts the health probes and the /api/v1 routes on router.
func RegisterRoutes(router *gin.Engine, h Handlers) {
	router.GET("/health", h.Health.Health)
	router.GET("/health/ready", h.Health.Ready)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/info", h.Health.Info)

		v1.POST("/cycles", h.Cycles.Run)
		v1.POST("/sources/partner/signals", h.Cycles.PartnerSignals)

		v1.POST("/scores/replay", h.Scores.ReplayScores)
		v1.POST("/predictions/run", h.Scores.RunPredictions)

		properties := v1.Group("/properties/:id")
		{
			properties.POST("/score", h.Scores.ScoreProperty)
			properties.POST("/predict", h.Scores.PredictProperty)
			properties.GET("/scores", h.Scores.History)
		}

		v1.POST("/call-queue/filter", h.CallQueue.Filter)
	}
}
