package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.Database.Type)
	require.Equal(t, 15*time.Second, cfg.Scheduler.PollInterval)
	require.Equal(t, int64(16), cfg.Executor.MaxConcurrency)
	require.True(t, cfg.Notification.Async)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("EXECUTOR_MAX_CONCURRENCY", "4")
	t.Setenv("SCHEDULER_POLL_INTERVAL", "2s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.Database.Type)
	require.Equal(t, int64(4), cfg.Executor.MaxConcurrency)
	require.Equal(t, 2*time.Second, cfg.Scheduler.PollInterval)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("NOTIFICATION_ASYNC=false\nSCHEDULER_CLAIM_GRACE=3m\n"), 0o600))
	t.Chdir(dir)
	t.Setenv("SCHEDULER_CLAIM_GRACE", "1m")
	t.Cleanup(func() { _ = os.Unsetenv("NOTIFICATION_ASYNC") })

	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.Notification.Async)
	// Real environment wins over the file.
	require.Equal(t, time.Minute, cfg.Scheduler.ClaimGrace)
}
