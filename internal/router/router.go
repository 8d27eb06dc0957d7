package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/proktor/internal/config"
	"github.com/stemsi/proktor/internal/handler"
	"github.com/stemsi/proktor/internal/middleware"
	"github.com/stemsi/proktor/internal/response"
	"github.com/stemsi/proktor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
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

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for the join route (30 requests per minute per IP).
	// Keeps a misbehaving client from hammering session creation.
	joinLimiter := middleware.NewRateLimiter(30, time.Minute)

	// Rate limiter for the violation fallback route. A client spamming it
	// would disqualify only itself, but the Redis reports behind it are not
	// free.
	violationLimiter := middleware.NewRateLimiter(60, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.POST("/exams/:exam_id/join", joinLimiter.Middleware(), handlers.Session.Join)
		studentAPI.GET("/exams/:exam_id/paper", handlers.Session.GetPaper)
		studentAPI.GET("/exams/:exam_id/state", handlers.Session.GetState)
		studentAPI.POST("/exams/:exam_id/answers", handlers.Session.SaveAnswer)
		studentAPI.POST("/exams/:exam_id/violations", violationLimiter.Middleware(), handlers.Session.ReportViolation)
		studentAPI.POST("/exams/:exam_id/submit", handlers.Session.Submit)
		studentAPI.POST("/exams/:exam_id/submit/retry", handlers.Session.RetrySubmit)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.SessionStream)
	}

	return router
}
