package handlers

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
)

// PingHandler serves /ping and HEAD /health for liveness.
type PingHandler struct {
	root   string
	logger *slog.Logger
}

// NewPingHandler creates a ping handler. HEAD /health additionally checks
// that root is reachable.
func NewPingHandler(log *slog.Logger, root string) *PingHandler {
	return &PingHandler{root: root, logger: log.With(slog.String("handler", "ping"))}
}

// Register mounts GET /ping and HEAD /health on the Echo instance.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.PingHead)
}

// Ping returns 200 JSON {"status":"ok"}.
func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// PingHead returns 200 No Content, or 503 when the storage root is gone.
func (h *PingHandler) PingHead(c echo.Context) error {
	if h.root != "" {
		if fi, err := os.Stat(h.root); err != nil || !fi.IsDir() {
			h.logger.Warn("storage root unavailable", slog.String("root", h.root), slog.Any("error", err))
			return c.NoContent(http.StatusServiceUnavailable)
		}
	}
	return c.NoContent(http.StatusOK)
}
