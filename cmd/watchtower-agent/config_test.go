package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.Agent.CheckInterval)
	assert.Equal(t, 300*time.Second, cfg.Agent.UpdateInterval)
	assert.False(t, cfg.Agent.AutoUpdate)
	assert.True(t, cfg.Agent.Cleanup)
	assert.Equal(t, 1024, cfg.Agent.EventBufferSize)
	assert.Equal(t, 1, cfg.Agent.MaxParallelUpdates)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000

runtime:
  endpoint: "tcp://docker:2375"

log:
  level: "debug"
  format: "text"

agent:
  check_interval: 15s
  update_interval: 120s
  auto_update: true
  max_parallel_updates: 4
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "tcp://docker:2375", cfg.Runtime.Endpoint)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 15*time.Second, cfg.Agent.CheckInterval)
	assert.Equal(t, 120*time.Second, cfg.Agent.UpdateInterval)
	assert.True(t, cfg.Agent.AutoUpdate)
	assert.Equal(t, 4, cfg.Agent.MaxParallelUpdates)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("CHECK_INTERVAL", "45s")
	t.Setenv("UPDATE_INTERVAL", "600s")
	t.Setenv("AUTO_UPDATE", "true")
	t.Setenv("CLEANUP", "false")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("PORT", "9090")
	t.Setenv("RUNTIME_ENDPOINT", "unix:///var/run/docker.sock")
	t.Setenv("MAX_PARALLEL_UPDATES", "3")
	t.Setenv("EVENT_BUFFER_SIZE", "512")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Agent.CheckInterval)
	assert.Equal(t, 600*time.Second, cfg.Agent.UpdateInterval)
	assert.True(t, cfg.Agent.AutoUpdate)
	assert.False(t, cfg.Agent.Cleanup)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "unix:///var/run/docker.sock", cfg.Runtime.Endpoint)
	assert.Equal(t, 3, cfg.Agent.MaxParallelUpdates)
	assert.Equal(t, 512, cfg.Agent.EventBufferSize)
}

func TestSetupLogger_TextFormat(t *testing.T) {
	cfg := &Config{Log: LogConfig{Level: "debug", Format: "text"}}
	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"CHECK_INTERVAL", "UPDATE_INTERVAL", "AUTO_UPDATE", "CLEANUP",
		"LOG_LEVEL", "PORT", "RUNTIME_ENDPOINT", "MAX_PARALLEL_UPDATES",
		"EVENT_BUFFER_SIZE",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
