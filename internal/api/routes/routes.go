package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yoockh/callguard/internal/api/handlers"
	"github.com/yoockh/callguard/internal/api/middleware"
	"github.com/yoockh/callguard/internal/auth"
	"github.com/yoockh/callguard/internal/metrics"
)

type Deps struct {
	Verifier *auth.Verifier
	Jobs     *handlers.JobHandler
	Alerts   *handlers.AlertHandler
	WS       *handlers.WSHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	// Health-ish
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/metrics", metrics.Handler())

	// the gateway verifies the token itself so it can answer over the socket
	r.GET("/ws", d.WS.Connect)

	// Protected routes (JWT)
	protected := r.Group("/")
	protected.Use(middleware.JWTAuth(d.Verifier))

	protected.POST("/jobs", d.Jobs.Submit)
	protected.GET("/jobs/:job_id", d.Jobs.Status)
	protected.GET("/alerts", d.Alerts.Mine)

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireAdmin())
	admin.GET("/alerts/:user_id", d.Alerts.ForUser)
	admin.PUT("/users/:user_id/defense-level", d.Alerts.SetDefenseLevel)
}

// RegisterWorkerRoutes is the worker process's surface: health and metrics.
func RegisterWorkerRoutes(r *gin.Engine) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/metrics", metrics.Handler())
}
