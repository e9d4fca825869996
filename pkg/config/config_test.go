package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, "4000", cfg.Port)
	require.Equal(t, "openai", cfg.ModelProvider)
	require.True(t, cfg.Subagent.Enabled)
	require.Equal(t, 3, cfg.Subagent.MaxConcurrent)
	require.Equal(t, 2, cfg.Scheduler.MaxConcurrent)
	require.Equal(t, 30*time.Second, cfg.Scheduler.TickInterval)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("FERN_PORT", "9001")
	t.Setenv("FERN_SUBAGENT_MAX_CONCURRENT", "7")
	t.Setenv("FERN_SCHEDULER_TICK_INTERVAL_MS", "5000")
	t.Setenv("FERN_SCHEDULER_ENABLED", "false")

	cfg := Load()
	require.Equal(t, "9001", cfg.Port)
	require.Equal(t, 7, cfg.Subagent.MaxConcurrent)
	require.Equal(t, 5*time.Second, cfg.Scheduler.TickInterval)
	require.False(t, cfg.Scheduler.Enabled)
}
