package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/mobile-auth-api/internal/middleware"
	"github.com/noah-isme/mobile-auth-api/internal/service"
	"github.com/noah-isme/mobile-auth-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/mobile-auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/mobile-auth-api/pkg/middleware/requestid"
)

// RouterConfig collects what the HTTP surface is built from.
type RouterConfig struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	Auth           *service.AuthService
	Metrics        *service.MetricsService
	Checks         []ReadinessCheck
	Logger         *zap.Logger
}

// NewRouter builds the gin engine serving the auth API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))

	metricsHandler := NewMetricsHandler(cfg.Metrics, cfg.Checks...)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := NewAuthHandler(cfg.Auth)
	auth := r.Group(cfg.APIPrefix + "/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/me", middleware.JWT(cfg.Auth), authHandler.Me)

	return r
}
