package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "data/events.db", cfg.Store.Path)
	assert.Equal(t, "https://polisen.se/api/events", cfg.Feed.Endpoint)
	assert.Equal(t, 30*time.Second, cfg.Feed.Timeout())
	assert.Equal(t, 3, cfg.Feed.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Feed.RetryDelay())
	assert.Equal(t, 5*time.Minute, cfg.Refresh.CacheInterval())
	assert.Equal(t, 100, cfg.Refresh.BackfillThreshold)
	assert.Equal(t, 30*24*time.Hour, cfg.Refresh.LogRetention())
	assert.Equal(t, 500, cfg.Backfill.HighWater)
	assert.Equal(t, 30, cfg.Backfill.MaxDays)
	assert.Equal(t, 500*time.Millisecond, cfg.Backfill.DayDelay())
	assert.Equal(t, "Europe/Stockholm", cfg.Stats.Timezone)
	assert.Equal(t, 10, cfg.Stats.TopN)
	assert.Equal(t, "Sammanfattning", cfg.Stats.ExcludeTypePrefix)
	assert.Equal(t, 14, cfg.Backup.RetentionDays)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Server.APIKey)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/samband
feed:
  max_attempts: 5
server:
  port: 9090
  api_key: sekrit
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/samband", cfg.Store.DatabaseURL)
	assert.Equal(t, 5, cfg.Feed.MaxAttempts)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sekrit", cfg.Server.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Defaults still fill unset keys.
	assert.Equal(t, 100, cfg.Refresh.BackfillThreshold)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("SAMBAND_STORE_DRIVER", "postgres")
	t.Setenv("SAMBAND_REFRESH_CACHE_INTERVAL_SECS", "60")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, time.Minute, cfg.Refresh.CacheInterval())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "json"}))
	assert.NotNil(t, zap.L())

	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "console"}))

	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	assert.Error(t, err)
}
