package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lattice-labs/libresa/config"
)

func writeConfig(t *testing.T, dir, env, body string) {
	t.Helper()
	path := filepath.Join(dir, "config_"+env+".json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadParsesEnvironmentFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "dev", `{
		"environment": "dev",
		"worker_threads": 6,
		"processing_delay": "0s",
		"log_level": "debug",
		"cache_size": 50,
		"min_connections": 2,
		"max_connections": 8,
		"batch_interval": "2s",
		"sla_report_interval": "5m",
		"max_queue_size": 500,
		"max_retries": 3,
		"port": 8080
	}`)
	t.Setenv("ENVIRONMENT", "dev")

	_, cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.WorkerThreads)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Second, cfg.BatchInterval)
	assert.Equal(t, 5*time.Minute, cfg.SLAReportInterval)
}

func TestLoadMissingFileIsFatalError(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ENVIRONMENT", "staging")

	_, _, err := config.Load(dir)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidConnectionBounds(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "dev", `{
		"min_connections": 10,
		"max_connections": 2
	}`)
	t.Setenv("ENVIRONMENT", "dev")

	_, _, err := config.Load(dir)
	assert.Error(t, err)
}

func TestPortEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "dev", `{
		"min_connections": 1,
		"max_connections": 2,
		"port": 8080
	}`)
	t.Setenv("ENVIRONMENT", "dev")
	t.Setenv("PORT", "9090")

	_, cfg, err := config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
}

func TestWatchFiresOnChangeOnRewrite(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "dev", `{
		"min_connections": 1,
		"max_connections": 2,
		"log_level": "info"
	}`)
	t.Setenv("ENVIRONMENT", "dev")

	loader, _, err := config.Load(dir)
	require.NoError(t, err)

	received := make(chan config.Config, 1)
	loader.OnChange(func(c config.Config) {
		received <- c
	})

	stop, err := loader.Watch()
	require.NoError(t, err)
	defer stop()

	time.Sleep(20 * time.Millisecond)
	writeConfig(t, dir, "dev", `{
		"min_connections": 1,
		"max_connections": 2,
		"log_level": "debug"
	}`)

	select {
	case cfg := <-received:
		assert.Equal(t, "debug", cfg.LogLevel)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}
