// Package boot provides runtime configuration for the media service.
package boot

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/memohai/mediastore/internal/config"
)

// RuntimeConfig holds parsed runtime settings (JWT, server address, media root, prober binary).
// Values may be overridden by environment variables (HTTP_ADDR, MEDIA_ROOT, FFPROBE_PATH, JWT_SECRET).
type RuntimeConfig struct {
	JwtSecret    string
	JwtExpiresIn time.Duration
	ServerAddr   string
	StorageRoot  string
	ProbeBinary  string
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	ret := &RuntimeConfig{
		JwtSecret:   cfg.Auth.JWTSecret,
		ServerAddr:  cfg.Server.Addr,
		StorageRoot: cfg.Storage.Root,
		ProbeBinary: cfg.Probe.Binary,
	}

	if value := os.Getenv("JWT_SECRET"); value != "" {
		ret.JwtSecret = value
	}
	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := os.Getenv("MEDIA_ROOT"); value != "" {
		ret.StorageRoot = value
	}
	if value := os.Getenv("FFPROBE_PATH"); value != "" {
		ret.ProbeBinary = value
	}

	if strings.TrimSpace(ret.JwtSecret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	expires := cfg.Auth.JWTExpiresIn
	if expires == "" {
		expires = config.DefaultJWTExpiresIn
	}
	jwtExpiresIn, err := time.ParseDuration(expires)
	if err != nil {
		return nil, fmt.Errorf("invalid jwt expires in: %w", err)
	}
	ret.JwtExpiresIn = jwtExpiresIn
	return ret, nil
}
