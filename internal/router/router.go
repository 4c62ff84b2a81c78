package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/handler"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth          *handler.AuthHandler
	StudentPortal *handler.StudentPortalHandler
	Assessment    *handler.AssessmentHandler
	WS            *handler.WSHandler
	Monitor       *handler.MonitorHandler
	System        *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	rdb *redis.Client,
	cfg *config.Config,
	log zerolog.Logger,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.System.Health)

	// 30 login attempts per minute per IP.
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/student/login", authLimiter.Middleware(), handlers.Auth.StudentLogin)
		auth.POST("/instructor/login", authLimiter.Middleware(), handlers.Auth.InstructorLogin)

		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
		auth.GET("/instructor/me", middleware.RequireInstructorJWT(authService), handlers.Auth.GetInstructorProfile)
	}

	// ─── 2. Student Group (JWT) ────────────────────────────────────────
	// Attempt state changes every second; only the key-stripped definition may be cached.
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService), middleware.NoStore())
	{
		studentAPI.POST("/access/check", handlers.StudentPortal.CheckAccess)
		studentAPI.POST("/attempt/start", handlers.StudentPortal.StartAttempt)
		studentAPI.POST("/attempt/answer",
			middleware.StudentRateLimit(rdb, cfg.AnswerRatePerMinute, log),
			handlers.StudentPortal.SubmitAnswer,
		)
		studentAPI.POST("/attempt/finalize", handlers.StudentPortal.FinalizeAttempt)

		studentAPI.GET("/:kind/:id", middleware.CacheControl(60), handlers.StudentPortal.GetDefinition)
		studentAPI.GET("/:kind/:id/availability", handlers.StudentPortal.GetAvailability)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/:kind/:id/stream", handlers.WS.AttemptStream)
	}

	// ─── 4. Instructor Group (JWT) ─────────────────────────────────────
	instructorAPI := router.Group("/api/v1/instructor")
	instructorAPI.Use(middleware.RequireInstructorJWT(authService))
	{
		instructorAPI.GET("/assessments", handlers.Assessment.ListAssessments)
		instructorAPI.POST("/assessments", handlers.Assessment.CreateAssessment)
		instructorAPI.GET("/assessments/:id", handlers.Assessment.GetAssessment)
		instructorAPI.PATCH("/assessments/:id/active", handlers.Assessment.SetActive)
		instructorAPI.GET("/assessments/:id/overrides", handlers.Assessment.ListOverrides)
		instructorAPI.PUT("/assessments/:id/overrides", handlers.Assessment.SetOverride)
		instructorAPI.GET("/assessments/:id/results", handlers.Assessment.GetResults)
		instructorAPI.GET("/assessments/:id/monitor", handlers.Monitor.MonitorAssessmentSSE)

		instructorAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
