package main

import (
	"github.com/gin-gonic/gin"

	"callbridge/internal/httpapi"
	"callbridge/internal/rbac"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Vendor webhooks: public, gated by signature verification inside the
	// handlers. Both endpoints always exist regardless of which vendor is
	// configured for outbound dialing.
	webhooks := r.Group("/calls/webhooks")
	{
		webhooks.POST("/twilio", h.TwilioWebhook)
		webhooks.POST("/exotel", h.ExotelWebhook)
	}

	r.POST("/auth/login", h.Login)

	// protected API group
	api := r.Group("/calls")
	api.Use(authMW)
	api.Use(rbac.RequireCompany())
	{
		api.POST("/click-to-call", h.ClickToCall)

		api.GET("", h.ListCalls)
		api.GET("/lead/:lead_id/history", h.LeadHistory)
		api.GET("/:id", h.GetCall)
		api.GET("/:id/recording", h.Recording)

		api.GET("/:id/notes", h.ListNotes)
		api.POST("/:id/notes", h.AddNote)
		api.PUT("/:id/notes/:note_id", h.UpdateNote)
	}

	// Mapping administration is restricted to owner/admin.
	mappings := r.Group("/calls/mappings")
	mappings.Use(authMW)
	mappings.Use(rbac.RequireCompany())
	mappings.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAdmin))
	{
		mappings.GET("", h.ListMappings)
		mappings.POST("", h.CreateMapping)
		mappings.PUT("/:id", h.UpdateMapping)
		mappings.DELETE("/:id", h.DeleteMapping)
	}
}
