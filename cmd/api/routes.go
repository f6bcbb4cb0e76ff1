package main

import (
	"context"
	"net/http"
	"time"

	"videokyc-platform/internal/auth"
	"videokyc-platform/internal/documents"
	"videokyc-platform/internal/httpapi"
	"videokyc-platform/internal/rbac"
	"videokyc-platform/internal/signaling"
	"videokyc-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Handlers  httpapi.Handlers
	Gateway   *signaling.Gateway
	Documents *documents.FileStore
	AuthMW    gin.HandlerFunc
	// DevLogin exposes token issuance without credentials. Never set in production.
	DevLogin   bool
	HealthPing func(context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.Handlers

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if d.HealthPing != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			defer cancel()
			if err := d.HealthPing(ctx); err != nil {
				logger.FromGin(c).Warn("health check failed", "err", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Signed links carry their own authorization.
	r.GET("/documents/:token", d.Documents.Serve)

	if d.DevLogin {
		r.POST("/v1/auth/token", h.Login)
	}
	r.POST("/v1/auth/refresh", h.Refresh)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.AuthMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})
		v1.GET("/ice-servers", h.ICEServers)

		// CALLS routes
		callsGroup := v1.Group("/calls")
		{
			callsGroup.POST("", rbac.RequireAnyRole(rbac.RoleUser), h.CreateCall)
			callsGroup.GET("/events", h.CallEvents)

			// The gateway authorizes against the record itself and must stay reachable
			// for an upgrade, so it sits outside RequireCallAccess.
			callsGroup.GET("/:id/signal", d.Gateway.Handle)

			one := callsGroup.Group("/:id")
			one.Use(httpapi.RequireCallAccess(h.Calls))
			{
				one.GET("", h.GetCall)
				one.PATCH("/status", h.UpdateCallStatus)
				one.POST("/decision", rbac.RequireAnyRole(rbac.RoleAdmin), h.Decide)
				one.GET("/audit", rbac.RequireAnyRole(rbac.RoleAdmin), h.CallAudit)
			}
		}

		// KYC routes
		// Only verifiers (admin/super_admin) can see profiles and documents.
		kycGroup := v1.Group("/kyc")
		kycGroup.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			kycGroup.GET("/pending", h.PendingKYC)
			kycGroup.GET("/:user_id/document", h.DocumentURL)
			kycGroup.POST("/:user_id/decision", h.ReviewProfile)
			kycGroup.POST("/:user_id/invite", h.InviteToCall)
		}

		// REPORTS routes
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			reports.GET("/calls", h.CallsReport)
		}
	}
}
