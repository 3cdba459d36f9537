package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/edukita/proctor-backend/internal/config"
	"github.com/edukita/proctor-backend/internal/handler"
	"github.com/edukita/proctor-backend/internal/middleware"
	"github.com/edukita/proctor-backend/internal/response"
	"github.com/edukita/proctor-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Proctoring *handler.ProctoringHandler
	Monitor    *handler.MonitorHandler
	WS         *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for the violation ingest (120 events per minute per IP).
	violationLimiter := middleware.NewRateLimiter(120, time.Minute)

	// ─── 1. Exam Taker Group (User JWT) ────────────────────────────────
	userAPI := router.Group("/api/v1/proctoring")
	userAPI.Use(middleware.RequireUserJWT(authService))
	{
		userAPI.POST("/sessions", handlers.Proctoring.StartSession)
		userAPI.POST("/sessions/:session_id/violations",
			violationLimiter.Middleware(),
			handlers.Proctoring.LogViolation,
		)
		userAPI.POST("/sessions/:session_id/snapshots", handlers.Proctoring.AddSnapshot)
		userAPI.GET("/sessions/:session_id/status", handlers.Proctoring.GetSessionStatus)
		userAPI.POST("/sessions/:session_id/end", handlers.Proctoring.EndSession)
	}

	// ─── 2. WebSocket Group (User WS Auth) ─────────────────────────────
	wsGroup := router.Group("/ws/v1")
	wsGroup.Use(middleware.RequireUserWSAuth(authService))
	{
		wsGroup.GET("/proctoring/sessions/:session_id/stream", handlers.WS.SessionWebSocketStream)
	}

	// ─── 3. Instructor Group (JWT + Permission) ────────────────────────
	instructorAPI := router.Group("/api/v1/proctoring")
	instructorAPI.Use(
		middleware.RequireInstructorJWT(authService),
		middleware.RequirePermission(service.PermissionProctoringReview),
	)
	{
		instructorAPI.GET("/sessions/:session_id/report", handlers.Proctoring.GetReport)
		instructorAPI.GET("/quizzes/:quiz_id/monitor", handlers.Monitor.MonitorQuizSSE)
	}

	return router
}
