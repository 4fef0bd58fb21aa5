package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/incident-tracker/internal/middleware"
	"github.com/noah-isme/incident-tracker/internal/service"
	"github.com/noah-isme/incident-tracker/pkg/logger"
	corsmiddleware "github.com/noah-isme/incident-tracker/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/incident-tracker/pkg/middleware/requestid"
)

// RouterConfig carries what the operational router needs.
type RouterConfig struct {
	AllowedOrigins []string
	Metrics        *service.MetricsService
	Checks         map[string]ReadinessCheck
	Logger         *zap.Logger
}

// NewRouter builds the gin engine serving health, readiness and metrics.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(cfg.Logger, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.AllowedOrigins))
	r.Use(middleware.Metrics(cfg.Metrics))

	h := NewMetricsHandler(cfg.Metrics, cfg.Checks, cfg.Logger)
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)

	return r
}
