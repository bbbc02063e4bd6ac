package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/mediastore/internal/auth"
	"github.com/memohai/mediastore/internal/identity"
	"github.com/memohai/mediastore/internal/ratelimit"
)

// RequireIdentity resolves the caller's storage identity or returns an HTTP error.
func RequireIdentity(c echo.Context, resolver auth.Resolver) (identity.Identity, error) {
	id, err := resolver.Resolve(c)
	if err != nil {
		return "", httpError(err)
	}
	return id, nil
}

// RequireAllowance consumes one token of id's bucket or fails with 429.
func RequireAllowance(limiter *ratelimit.Keyed, id identity.Identity) error {
	if !limiter.Allow(id.String()) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many uploads, slow down")
	}
	return nil
}
