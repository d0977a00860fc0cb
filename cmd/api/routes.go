package main

import (
	"net/http"
	"time"

	"survey-platform/internal/app"
	"survey-platform/internal/auth"
	"survey-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app.App, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), a.Postgres, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(a.Metrics.Handler()))

	// Provider webhooks (public). Vendors retry on non-2xx, so the handler
	// acknowledges first and reconciles in the background.
	wh := a.Webhooks()
	r.GET("/webhooks/:provider", wh.Handle)
	r.POST("/webhooks/:provider", wh.Handle)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			cid, _ := auth.CompanyID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "company_id": cid, "role": role})
		})
		a.Handlers().Register(v1)
	}
}
