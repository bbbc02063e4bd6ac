package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultStorageRoot, cfg.Storage.Root)
	assert.Equal(t, float64(DefaultFPS), cfg.Probe.DefaultFPS)
	assert.Equal(t, DefaultProbeTimeout, cfg.Probe.Timeout.Duration)
	assert.Equal(t, "sqlite", cfg.Catalog.Type)
}

func TestLoadOverridesAndKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[server]
addr = ":9000"

[storage]
root = "/srv/media"

[probe]
timeout = "3s"

[catalog]
type = "badger"
path = "/srv/catalog"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "/srv/media", cfg.Storage.Root)
	assert.Equal(t, 3*time.Second, cfg.Probe.Timeout.Duration)
	assert.Equal(t, "badger", cfg.Catalog.Type)
	assert.Equal(t, DefaultProbeBinary, cfg.Probe.Binary)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.Storage.MaxUploadBytes)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[catalog]\ntype = \"postgres\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[probe]\ntimeout = \"soon\"\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestExampleConfigDoesNotCapUploadDuration(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config.example.toml"))
	require.NoError(t, err)
	assert.Zero(t, cfg.Server.ReadTimeout.Duration)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadHeaderTimeout.Duration)
	assert.Equal(t, DefaultHeaderTimeout, Default().Server.ReadHeaderTimeout.Duration)
}
