package router

import (
	"net/http"

	"github.com/SRMV-Team/liveclass-gateway/internal/handler"
	"github.com/SRMV-Team/liveclass-gateway/pkg/constants"
	"github.com/gin-gonic/gin"
)

// New builds the HTTP router.
func New(
	dashboard *handler.DashboardHandler,
	eventsWS *handler.EventsWSHandler,
	health *handler.HealthHandler,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)

	// Per-role dashboard views
	dash := r.Group("/dashboard")
	{
		dash.GET("/teacher", dashboard.TeacherDashboard)
		dash.GET("/student", dashboard.StudentDashboard)
	}

	// Live-class roster and intents
	classes := r.Group("/classes")
	{
		classes.GET("", dashboard.ListClasses)
		classes.POST("/start", dashboard.StartClass)
		classes.DELETE("/:id", dashboard.EndClass)
		classes.POST("/:id/join", dashboard.JoinClass)
		classes.POST("/leave", dashboard.LeaveClass)
	}

	r.GET("/classroom", dashboard.Classroom)

	// WebSocket: directory snapshots for the local UI
	r.GET("/ws/events", eventsWS.ServeWS)

	return r
}
