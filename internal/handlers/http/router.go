package http

import (
	"rtclink/internal/core/ports"
	"rtclink/internal/core/services"
	"rtclink/internal/infrastructure/middleware"
	"rtclink/internal/infrastructure/monitoring"
	"rtclink/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Deps are what the HTTP surface is built from.
type Deps struct {
	Config   *config.Config
	Admin    ports.SessionAdmin
	Tokens   ports.TokenIssuer
	Project  *services.ProjectAuth
	Health   *monitoring.HealthChecker
	Gatherer prometheus.Gatherer
	Logger   *zap.SugaredLogger
}

// NewRouter wires middleware and every handler onto a gin engine. The API
// group requires a project token; health and metrics do not.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(d.Logger),
		middleware.ErrorHandlerMiddleware(d.Logger),
		middleware.TracingMiddleware(),
		middleware.NewHTTPRateLimitMiddleware(d.Config),
	)

	NewHealthHandler(d.Health, d.Gatherer).SetupRoutes(router)

	api := router.Group("/api/v1", middleware.ProjectAuthMiddleware(d.Project))
	NewSessionHandler(d.Admin).SetupRoutes(api)
	NewAuthHandler(d.Tokens, d.Admin).SetupRoutes(api)
	return router
}
