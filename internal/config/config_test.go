package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDefaultIsValidOnceSecretIsSet(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = "dev-secret"
	assert.NoError(t, cfg.Validate())
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, 5000, cfg.Manager.SPUProcessingTimeoutMs)
	assert.Equal(t, "all", cfg.Manager.FilterMode)
	assert.Equal(t, "memory", cfg.Endpoint.Backend)
	assert.Equal(t, 60, cfg.Auth.TTLMinutes)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{Manager: ManagerConfig{FilterMode: "lut", SPUProcessingTimeoutMs: 9000}}
	cfg.ApplyDefaults()

	assert.Equal(t, "lut", cfg.Manager.FilterMode)
	assert.Equal(t, 9000, cfg.Manager.SPUProcessingTimeoutMs)
}

func TestValidateRejectsUnknownFilterMode(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = "x"
	cfg.Manager.FilterMode = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMongoBackendWithoutURI(t *testing.T) {
	cfg := Default()
	cfg.Auth.Secret = "x"
	cfg.Endpoint.Backend = "mongo"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingAuthSecret(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())
}

func TestApplyEnvOverridesReadsSepaPrefixedVars(t *testing.T) {
	t.Setenv("SEPA_AUTH_SECRET", "from-env")
	t.Setenv("SEPA_LOG_LEVEL", "debug")

	var cfg Config
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadLayersConfigYmlThenLocalYml(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte("auth:\n  secret: base-secret\nmanager:\n  filter_mode: lut\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.local.yml"), []byte("auth:\n  secret: local-secret\n"), 0o644))

	cfg, err := Load(dir, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "local-secret", cfg.Auth.Secret)
	assert.Equal(t, "lut", cfg.Manager.FilterMode)
}

func TestLoadToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SEPA_AUTH_SECRET", "env-secret")

	cfg, err := Load(dir, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Auth.Secret)
	assert.Equal(t, "memory", cfg.Endpoint.Backend)
}
