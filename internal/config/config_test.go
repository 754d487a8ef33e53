package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Store.Root)
	assert.Equal(t, "warn", cfg.Compose.Incompatibility)
	assert.Equal(t, "none", cfg.Sandbox.Mode)
	assert.False(t, cfg.Archive.Enabled)
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truthcaps.yaml")
	raw := `
store:
  root: /srv/capsules
  strict: true
compose:
  incompatibility: error
  control_table: true
witness:
  default_timeout: 10s
  parallelism: 8
sandbox:
  mode: container
  image: python:3.12-alpine
archive:
  enabled: true
  path: /var/db/receipts.db
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/capsules", cfg.Store.Root)
	assert.True(t, cfg.Store.Strict)
	assert.Equal(t, "error", cfg.Compose.Incompatibility)
	assert.True(t, cfg.Compose.ControlTable)
	assert.Equal(t, 8, cfg.Witness.Parallelism)
	assert.Equal(t, "container", cfg.Sandbox.Mode)
	assert.Equal(t, "python:3.12-alpine", cfg.Sandbox.Image)
	assert.True(t, cfg.Archive.Enabled)
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truthcaps.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  root: /from/file\n"), 0644))

	t.Setenv("TRUTHCAPS_ROOT", "/from/env")
	t.Setenv("TRUTHCAPS_STRICT", "true")
	t.Setenv("TRUTHCAPS_ARCHIVE", "/env/receipts.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.Store.Root)
	assert.True(t, cfg.Store.Strict)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, "/env/receipts.db", cfg.Archive.Path)
}

func TestInvalidPolicyRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truthcaps.yaml")
	require.NoError(t, os.WriteFile(path, []byte("compose:\n  incompatibility: ignore\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestWitnessTimeoutFallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Witness.DefaultTimeout = "not-a-duration"
	assert.Equal(t, "5s", cfg.WitnessTimeout().String())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "truthcaps.yaml")

	cfg := DefaultConfig()
	cfg.Store.Root = "/srv/capsules"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/capsules", loaded.Store.Root)
}
