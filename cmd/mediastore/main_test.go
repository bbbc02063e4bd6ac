package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/memohai/mediastore/internal/config"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestAppGraphIsComplete(t *testing.T) {
	for _, catalogType := range []string{"sqlite", "badger"} {
		cfg := config.Default()
		cfg.Catalog.Type = catalogType
		cfg.Metrics.Enabled = catalogType == "sqlite"
		require.NoError(t, fx.ValidateApp(appOptions(cfg)...), catalogType)
	}
}

func TestAnonIDCommand(t *testing.T) {
	out, err := runCLI(t, "anon-id")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "browser-"), out)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	cfgPath := writeConfig(t, "")

	out, err := runCLI(t, "--config", cfgPath, "token", "user-42", "--ttl", "5m")
	require.NoError(t, err)
	assert.Contains(t, out, `"access_token"`)
	assert.Contains(t, out, `"token_type": "Bearer"`)

	_, err = runCLI(t, "--config", cfgPath, "token", "browser-abc")
	require.Error(t, err)
}

func TestMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "videos")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "browser-old"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "browser-old", "a.mp4"), []byte("mp4"), 0o644))
	cfgPath := writeConfig(t, `
[storage]
root = "`+filepath.ToSlash(root)+`"
max_upload_bytes = 1024

[catalog]
type = "badger"
path = "`+filepath.ToSlash(filepath.Join(dir, "catalog"))+`"
`)
	t.Setenv("MEDIA_ROOT", "")

	out, err := runCLI(t, "--config", cfgPath, "migrate", "browser-old", "user-1")
	require.NoError(t, err)
	assert.Contains(t, out, `"moved": 1`)
	assert.FileExists(t, filepath.Join(root, "user-1", "a.mp4"))

	target, err := os.Readlink(filepath.Join(root, "browser-old"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", target)

	_, err = runCLI(t, "--config", cfgPath, "migrate", "user-1", "user-2")
	require.Error(t, err)
	assert.DirExists(t, filepath.Join(root, "user-1"))
	assert.NoFileExists(t, filepath.Join(root, "user-2", "a.mp4"))
}

func TestCatalogMigrateCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, `
[catalog]
type = "sqlite"
path = "`+filepath.ToSlash(filepath.Join(dir, "catalog.db"))+`"
`)

	out, err := runCLI(t, "--config", cfgPath, "catalog", "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "version=1 dirty=false")

	out, err = runCLI(t, "--config", cfgPath, "catalog", "migrate", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "version=1")
}
