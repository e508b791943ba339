package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsDefaults(t *testing.T) {
	cfg, err := LoadSettings("")
	require.NoError(t, err)
	assert.Equal(t, ":8095", cfg.Server.ListenAddress)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Policy.Watch)
	assert.Equal(t, "polis-mam", cfg.Telemetry.ServiceName)
}

func TestLoadSettingsFileAndEnv(t *testing.T) {
	content := `
server:
  listen_address: ":9000"
policy:
  file: "policy.yaml"
  watch: false
  rego_cache_entries: 64
telemetry:
  otlp_endpoint: "collector:4317"
logging:
  level: "debug"
`
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("MAM_LISTEN_ADDR", ":9100")
	t.Setenv("MAM_OTLP_INSECURE", "true")

	cfg, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Server.ListenAddress)
	assert.Equal(t, "policy.yaml", cfg.Policy.File)
	assert.False(t, cfg.Policy.Watch)
	assert.Equal(t, 64, cfg.Policy.RegoCacheEntries)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadSettingsRejectsBadLevel(t *testing.T) {
	t.Setenv("MAM_LOG_LEVEL", "verbose")
	_, err := LoadSettings("")
	assert.Error(t, err)
}

func TestLoadSettingsMissingFile(t *testing.T) {
	_, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
