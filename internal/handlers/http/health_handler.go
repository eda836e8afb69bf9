package http

import (
	"net/http"

	"rtclink/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HealthHandler struct {
	checker  *monitoring.HealthChecker
	gatherer prometheus.Gatherer
}

// NewHealthHandler serves metrics from gatherer, or from the default
// registry when it is nil.
func NewHealthHandler(checker *monitoring.HealthChecker, gatherer prometheus.Gatherer) *HealthHandler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &HealthHandler{checker: checker, gatherer: gatherer}
}

func (h *HealthHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
}

// Health reports liveness from the latest background probe results.
func (h *HealthHandler) Health(c *gin.Context) {
	status := h.checker.Cached()
	c.JSON(statusCode(status), status)
}

// Ready probes every dependency now.
func (h *HealthHandler) Ready(c *gin.Context) {
	status := h.checker.CheckAll(c.Request.Context())
	c.JSON(statusCode(status), status)
}

func statusCode(status monitoring.HealthStatus) int {
	if status.Status != monitoring.StatusHealthy {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}
