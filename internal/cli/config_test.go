package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stratactl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_AppliesEveryOption(t *testing.T) {
	path := writeConfigFile(t, `
database_path: ./demo.db
min_pool_size: 2
max_pool_size: 7
busy_timeout_ms: 2500
write_lock_timeout_ms: 15000
retry_attempts: 4
store_datetime_as_ticks: false
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "./demo.db", cfg.DatabasePath)
	require.Equal(t, 2, cfg.MinPoolSize)
	require.Equal(t, 7, cfg.MaxPoolSize)
	require.Equal(t, 2500*time.Millisecond, cfg.BusyTimeout)
	require.Equal(t, 15000*time.Millisecond, cfg.DatabaseWriteLockTimeout)
	require.Equal(t, 4, cfg.RetryAttempts)
	require.False(t, cfg.StoreDateTimeAsTicks)
}

func TestLoadConfig_EmptyFileKeepsDefaults(t *testing.T) {
	path := writeConfigFile(t, "")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.True(t, cfg.StoreDateTimeAsTicks)
	require.Equal(t, 1, cfg.MinPoolSize)
	require.Equal(t, 5, cfg.MaxPoolSize)
	require.Equal(t, 10, cfg.RetryAttempts)
}

func TestLoadConfig_MissingFileErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
