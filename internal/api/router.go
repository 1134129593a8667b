package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/groundchat/internal/api/admin"
	"github.com/liliang-cn/groundchat/internal/api/chat"
	"github.com/liliang-cn/groundchat/internal/api/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// ServiceName identifies the backend in health responses
const ServiceName = "rag-chatbot-backend"

// RouterConfig holds configuration for the router
type RouterConfig struct {
	Version      string
	APIKey       string
	AllowOrigins []string
	// RateLimiter is nil when rate limiting is disabled
	RateLimiter *middleware.RateLimiter
	// Gatherer backs /metrics; nil skips the route
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Services groups what the handlers call into
type Services struct {
	Chat    chat.Service
	Stats   admin.StatsProvider
	Sweeper admin.SweepRunner
}

// SetupRouter sets up the Gin router
func SetupRouter(svc Services, cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(otelgin.Middleware(ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.AllowOrigins))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "Physical AI textbook chatbot API",
			"version": cfg.Version,
			"docs":    "/docs",
			"health":  "/v1/health",
		})
	})

	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")
	v1.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": cfg.Version,
			"service": ServiceName,
		})
	})

	var chatMiddleware []gin.HandlerFunc
	if cfg.RateLimiter != nil {
		chatMiddleware = append(chatMiddleware, middleware.RateLimit(cfg.RateLimiter))
	}
	chat.NewHandler(svc.Chat).RegisterRoutes(v1, chatMiddleware...)

	// Admin API (requires API key)
	adminGroup := v1.Group("/admin")
	adminGroup.Use(middleware.Auth(cfg.APIKey))
	admin.NewHandler(svc.Stats, svc.Sweeper).RegisterRoutes(adminGroup)

	return r
}
