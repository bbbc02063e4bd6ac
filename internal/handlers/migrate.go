package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/mediastore/internal/auth"
	"github.com/memohai/mediastore/internal/identity"
	"github.com/memohai/mediastore/internal/migration"
)

// MigrateHandler moves an anonymous identity's files to the signed-in identity.
type MigrateHandler struct {
	engine *migration.Engine
	logger *slog.Logger
}

// MigrateRequest is the body for POST /media/migrate.
type MigrateRequest struct {
	AnonymousID string `json:"anonymous_id"`
}

// MigrateResponse reports how many files moved.
type MigrateResponse struct {
	Moved      int  `json:"moved"`
	Redirected bool `json:"redirected"`
}

// MigratePartialResponse is returned with 500 when a migration stopped early.
type MigratePartialResponse struct {
	Message string `json:"message"`
	Moved   int    `json:"moved"`
}

// NewMigrateHandler creates a migrate handler.
func NewMigrateHandler(log *slog.Logger, engine *migration.Engine) *MigrateHandler {
	return &MigrateHandler{
		engine: engine,
		logger: log.With(slog.String("handler", "migrate")),
	}
}

// Register mounts POST /media/migrate on the Echo instance.
func (h *MigrateHandler) Register(e *echo.Echo) {
	e.POST("/media/migrate", h.Migrate)
}

// Migrate godoc
// @Summary Migrate an anonymous identity into the bearer token's identity
// @Tags media
// @Param payload body MigrateRequest true "Anonymous identity"
// @Success 200 {object} MigrateResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 500 {object} MigratePartialResponse
// @Router /media/migrate [post].
func (h *MigrateHandler) Migrate(c echo.Context) error {
	target, err := auth.Authenticated(c)
	if err != nil {
		return httpError(err)
	}
	var req MigrateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	source, err := identity.Parse(req.AnonymousID)
	if err != nil {
		return httpError(err)
	}
	if !source.IsAnonymous() {
		return httpError(fmt.Errorf("%w: anonymous_id must carry the %q prefix", identity.ErrInvalidIdentity, identity.AnonymousPrefix))
	}

	res, err := h.engine.Migrate(c.Request().Context(), source, target)
	if errors.Is(err, migration.ErrMigrationPartial) {
		h.logger.Error("migration incomplete",
			slog.String("old", source.String()),
			slog.String("new", target.String()),
			slog.Int("moved", res.Moved),
			slog.Any("error", err),
		)
		return c.JSON(http.StatusInternalServerError, MigratePartialResponse{
			Message: "migration incomplete, retry to resume",
			Moved:   res.Moved,
		})
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, MigrateResponse{Moved: res.Moved, Redirected: res.Redirected})
}
