package main

import (
	"database/sql"
	"net/http"
	"time"

	"telehealth-platform/internal/auth"
	"telehealth-platform/internal/callstate"
	"telehealth-platform/internal/events"
	"telehealth-platform/internal/httpapi"
	"telehealth-platform/internal/queue"
	"telehealth-platform/internal/rbac"
	"telehealth-platform/internal/reporting"
	"telehealth-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	Auth      *auth.Manager
	Queue     *queue.Service
	Reporting *reporting.Service
	CallState *callstate.Store
	Hub       *events.Hub
	DB        *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := httpapi.Handlers{
		Auth:      deps.Auth,
		Queue:     deps.Queue,
		Reporting: deps.Reporting,
		CallState: deps.CallState,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.DB, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/v1/auth/login", h.Login)

	// The event channel authenticates via query token; browsers cannot set
	// headers on websocket dials.
	r.GET("/ws", auth.RequireWebSocketToken(deps.Auth), httpapi.EventChannel(deps.Hub))

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.Auth))
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"success": true, "user_id": uid, "role": role, "name": auth.DisplayName(c.Request.Context())})
		})

		// SESSION routes: doctors run clinic sessions.
		sessions := v1.Group("/sessions")
		sessions.Use(rbac.RequireAnyRole(rbac.RoleDoctor))
		{
			sessions.POST("", h.ScheduleSession)
			sessions.POST("/:id/start", h.StartSession)
			sessions.POST("/:id/end", h.EndSession)
			sessions.POST("/:id/cancel", h.CancelSession)
		}

		// QUEUE routes. Booking is open to patients and front-desk staff;
		// queue actions are doctor-only.
		v1.POST("/queue", rbac.RequireAnyRole(rbac.RolePatient, rbac.RoleNurse, rbac.RoleDoctor), h.BookEntry)

		doctorQueue := v1.Group("/queue")
		doctorQueue.Use(rbac.RequireAnyRole(rbac.RoleDoctor))
		{
			doctorQueue.GET("", h.GetQueue)
			doctorQueue.POST("/:id/call", h.CallPatient)
			doctorQueue.POST("/:id/recall", h.Recall)
			doctorQueue.POST("/:id/skip", h.Skip)
			doctorQueue.POST("/:id/no-show", h.MarkNoShow)
			doctorQueue.POST("/:id/complete", h.Complete)
		}

		// REPORTING routes
		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleDoctor))
		{
			reports.GET("/sessions/:id/summary", h.SessionSummary)
		}

		// CALL WIDGET routes: any authenticated party with a call.
		callui := v1.Group("/callstate")
		{
			callui.GET("", h.GetCallState)
			callui.POST("/minimize", h.MinimizeCall)
			callui.POST("/maximize", h.MaximizeCall)
			callui.POST("/toggle-minimize", h.ToggleCallMinimize)
		}
	}
}
