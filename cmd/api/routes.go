package main

import (
	"cadence-dialer/internal/httpapi"
	"cadence-dialer/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhook (public).
	// NOTE: This endpoint should be protected by Twilio signature validation in production.
	r.POST("/webhooks/call-outcome", h.CallOutcome)

	// AUTH routes (token issuance).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireWorkspace())
	{
		// LEADS routes
		leadsGroup := v1.Group("/leads")
		leadsGroup.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleSuperAdmin))
		{
			leadsGroup.POST("", h.IngestLead)
		}

		// SCHEDULER routes (manual trigger; cron hits these in deployment)
		sched := v1.Group("/scheduler")
		sched.Use(rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleSuperAdmin))
		{
			sched.POST("/run", h.RunScheduler)
			sched.POST("/sweep", h.SweepStale)
		}

		// REPORTING routes
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleAnalyst, rbac.RoleOperator, rbac.RoleSuperAdmin))
		{
			reports.GET("/campaign", h.CampaignReport)
		}
	}
}
