package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/memohai/mediastore/internal/identity"
)

// UserIDHeader carries the caller's identity when no bearer token is sent.
const UserIDHeader = "X-User-Id"

// ErrUntrustedIdentity is returned when an authenticated identity arrives
// through the plain header without a token.
var ErrUntrustedIdentity = errors.New("authenticated identity requires a bearer token")

// Resolver picks the storage identity for a request.
type Resolver struct {
	// TrustUserHeader accepts authenticated identities via UserIDHeader.
	TrustUserHeader bool
}

// Resolve prefers the verified token subject and falls back to UserIDHeader.
// Missing or malformed identities wrap identity.ErrInvalidIdentity.
func (r Resolver) Resolve(c echo.Context) (identity.Identity, error) {
	if sub, err := SubjectFromContext(c); err == nil {
		id, err := identity.Parse(sub)
		if err != nil {
			return "", err
		}
		if id.IsAnonymous() {
			return "", fmt.Errorf("%w: token subject must not be anonymous", identity.ErrInvalidIdentity)
		}
		return id, nil
	}

	raw := strings.TrimSpace(c.Request().Header.Get(UserIDHeader))
	if raw == "" {
		return "", fmt.Errorf("%w: missing %s header", identity.ErrInvalidIdentity, UserIDHeader)
	}
	id, err := identity.Parse(raw)
	if err != nil {
		return "", err
	}
	if !id.IsAnonymous() && !r.TrustUserHeader {
		return "", ErrUntrustedIdentity
	}
	return id, nil
}

// Authenticated returns the token subject, or a 401 when there is none.
func Authenticated(c echo.Context) (identity.Identity, error) {
	sub, err := SubjectFromContext(c)
	if err != nil {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "bearer token required")
	}
	id, err := identity.Parse(sub)
	if err != nil {
		return "", err
	}
	if id.IsAnonymous() {
		return "", fmt.Errorf("%w: token subject must not be anonymous", identity.ErrInvalidIdentity)
	}
	return id, nil
}
