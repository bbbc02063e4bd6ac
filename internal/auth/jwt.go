// Package auth issues and verifies bearer tokens and resolves the storage
// identity of a request.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const tokenContextKey = "user"

// ErrNoToken is returned when the request carried no verified bearer token.
var ErrNoToken = errors.New("no bearer token")

// JWTMiddleware verifies HS256 bearer tokens. Requests without a token pass
// through so that anonymous identities keep working; a token that is
// present but invalid is rejected with 401.
func JWTMiddleware(secret string, skipper middleware.Skipper) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		Skipper:       skipper,
		SigningKey:    []byte(secret),
		SigningMethod: echojwt.AlgorithmHS256,
		ContextKey:    tokenContextKey,
		NewClaimsFunc: func(echo.Context) jwt.Claims {
			return jwt.MapClaims{}
		},
		ContinueOnIgnoredError: true,
		ErrorHandler: func(c echo.Context, err error) error {
			var extractErr *echojwt.TokenExtractionError
			if errors.As(err, &extractErr) {
				return nil
			}
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		},
	})
}

// GenerateToken signs an HS256 token for subject valid for ttl.
func GenerateToken(subject, secret string, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, fmt.Errorf("subject is required")
	}
	if strings.TrimSpace(secret) == "" {
		return "", time.Time{}, fmt.Errorf("jwt secret is required")
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("ttl must be positive")
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     subject,
		"user_id": subject,
		"iat":     now.Unix(),
		"exp":     expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// SubjectFromContext returns the subject of the verified token, or ErrNoToken.
func SubjectFromContext(c echo.Context) (string, error) {
	token, ok := c.Get(tokenContextKey).(*jwt.Token)
	if !ok || token == nil || !token.Valid {
		return "", ErrNoToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrNoToken
	}
	sub, _ := claims.GetSubject()
	if strings.TrimSpace(sub) == "" {
		if uid, ok := claims["user_id"].(string); ok {
			sub = uid
		}
	}
	if strings.TrimSpace(sub) == "" {
		return "", ErrNoToken
	}
	return sub, nil
}
