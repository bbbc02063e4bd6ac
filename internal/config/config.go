// Package config loads and exposes application configuration (TOML).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultStorageRoot     = "videos"
	DefaultMaxUploadBytes  = 2 << 30
	DefaultJWTExpiresIn    = "24h"
	DefaultProbeBinary     = "ffprobe"
	DefaultProbeTimeout    = 10 * time.Second
	DefaultFPS             = 30
	DefaultProbeWorkers    = 2
	DefaultProbeQueueSize  = 256
	DefaultCatalogType     = "sqlite"
	DefaultCatalogPath     = "catalog.db"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultHeaderTimeout   = 10 * time.Second
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	Auth    AuthConfig    `toml:"auth"`
	Storage StorageConfig `toml:"storage"`
	Probe   ProbeConfig   `toml:"probe"`
	Catalog CatalogConfig `toml:"catalog"`
	Limits  LimitsConfig  `toml:"limits"`
	Metrics MetricsConfig `toml:"metrics"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

// ServerConfig holds the HTTP listen address and timeouts.
// ReadTimeout covers the whole request body, so it bounds upload duration;
// leave it at 0 and rely on ReadHeaderTimeout for slow clients.
type ServerConfig struct {
	Addr              string   `toml:"addr" validate:"required"`
	ReadTimeout       Duration `toml:"read_timeout"`
	ReadHeaderTimeout Duration `toml:"read_header_timeout"`
	WriteTimeout      Duration `toml:"write_timeout"`
	ShutdownTimeout   Duration `toml:"shutdown_timeout"`
}

// AuthConfig holds the JWT secret and token expiry.
// TrustUserHeader lets X-User-Id carry authenticated identities, not only anonymous ones.
type AuthConfig struct {
	JWTSecret       string `toml:"jwt_secret"`
	JWTExpiresIn    string `toml:"jwt_expires_in"`
	TrustUserHeader bool   `toml:"trust_user_header"`
}

// StorageConfig holds the media root and upload size limit.
type StorageConfig struct {
	Root           string `toml:"root" validate:"required"`
	MaxUploadBytes int64  `toml:"max_upload_bytes" validate:"gt=0"`
}

// ProbeConfig configures the external media prober.
type ProbeConfig struct {
	Binary     string   `toml:"binary" validate:"required"`
	Timeout    Duration `toml:"timeout"`
	DefaultFPS float64  `toml:"default_fps" validate:"gt=0"`
	Workers    int      `toml:"workers" validate:"gte=1"`
	QueueSize  int      `toml:"queue_size" validate:"gte=1"`
}

// CatalogConfig selects the metadata catalog backend.
type CatalogConfig struct {
	Type string `toml:"type" validate:"oneof=sqlite badger"`
	Path string `toml:"path" validate:"required"`
}

// LimitsConfig bounds per-identity upload rate; UploadRPS = 0 disables limiting.
type LimitsConfig struct {
	UploadRPS   float64 `toml:"upload_rps" validate:"gte=0"`
	UploadBurst int     `toml:"upload_burst" validate:"gte=0"`
}

// MetricsConfig toggles the Prometheus registry and /metrics route.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Duration decodes TOML strings like "10s" into time.Duration.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:              DefaultHTTPAddr,
			ReadHeaderTimeout: Duration{DefaultHeaderTimeout},
			ShutdownTimeout:   Duration{DefaultShutdownTimeout},
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Storage: StorageConfig{
			Root:           DefaultStorageRoot,
			MaxUploadBytes: DefaultMaxUploadBytes,
		},
		Probe: ProbeConfig{
			Binary:     DefaultProbeBinary,
			Timeout:    Duration{DefaultProbeTimeout},
			DefaultFPS: DefaultFPS,
			Workers:    DefaultProbeWorkers,
			QueueSize:  DefaultProbeQueueSize,
		},
		Catalog: CatalogConfig{
			Type: DefaultCatalogType,
			Path: DefaultCatalogPath,
		},
		Limits: LimitsConfig{
			UploadRPS:   2,
			UploadBurst: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks struct tags on the decoded configuration.
func Validate(cfg Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
