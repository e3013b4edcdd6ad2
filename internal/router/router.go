package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/forms-backend/internal/config"
	"github.com/stemsi/forms-backend/internal/handler"
	"github.com/stemsi/forms-backend/internal/middleware"
	"github.com/stemsi/forms-backend/internal/response"
	"github.com/stemsi/forms-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Form   *handler.FormHandler
	WS     *handler.WSHandler
	System *handler.SystemHandler
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

	// Health check with dependency probes.
	router.GET("/health", handlers.System.Health)

	// Submissions per client IP per minute.
	submitLimiter := middleware.NewRateLimiter(cfg.SubmitRateLimit, time.Minute)

	// ─── 1. Forms Group (Optional JWT) ─────────────────────────────────
	forms := router.Group("/api/v1/forms")
	forms.Use(middleware.OptionalJWT(authService))
	{
		forms.GET("/:form_id", handlers.Form.GetForm)
		forms.POST("/submit/:form_id", submitLimiter.Middleware(), handlers.Form.SubmitForm)
	}

	// ─── 2. WebSocket Group (Admin JWT) ────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAdminJWT(authService))
	{
		ws.GET("/admin/forms/:form_id/responses", handlers.WS.ResponseFeed)
	}

	// ─── 3. Admin Group (Admin JWT) ────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
