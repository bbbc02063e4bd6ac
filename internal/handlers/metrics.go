package handlers

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/memohai/mediastore/internal/metrics"
)

// MetricsHandler exposes the Prometheus registry at GET /metrics.
type MetricsHandler struct {
	registry *prometheus.Registry
}

func NewMetricsHandler(reg *prometheus.Registry) *MetricsHandler {
	return &MetricsHandler{registry: reg}
}

// Register mounts GET /metrics when a registry is configured.
func (h *MetricsHandler) Register(e *echo.Echo) {
	if h.registry == nil {
		return
	}
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(h.registry)))
}
