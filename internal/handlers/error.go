package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/mediastore/internal/auth"
	"github.com/memohai/mediastore/internal/identity"
	"github.com/memohai/mediastore/internal/media"
	"github.com/memohai/mediastore/internal/storage"
)

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	var he *echo.HTTPError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &he):
		return he
	case errors.Is(err, identity.ErrInvalidIdentity), errors.Is(err, media.ErrEmptyUpload):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUntrustedIdentity):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, media.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "media not found")
	case errors.Is(err, media.ErrTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, media.ErrUnsupportedMediaType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, storage.ErrStorageUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage unavailable").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}
