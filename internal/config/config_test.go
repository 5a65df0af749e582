package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{
		"CORE_TIMEZONE", "CORE_MAX_JOB_PARALLEL", "CORE_MAX_JOB_EXEC_TIMEOUT",
		"CORE_STAGE_DEFAULT_ID", "CORE_REGISTRY", "CORE_AUDIT_PATH", "CORE_TRACE_PATH",
	} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	require.Equal(t, time.UTC, cfg.Timezone)
	require.True(t, cfg.StageDefaultID)
	require.Equal(t, "./audit", cfg.AuditPath)
	require.Equal(t, "./trace", cfg.TracePath)
	require.Nil(t, cfg.RegistrySearchPaths)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CORE_TIMEZONE", "America/New_York")
	t.Setenv("CORE_MAX_JOB_PARALLEL", "3")
	t.Setenv("CORE_MAX_JOB_EXEC_TIMEOUT", "30")
	t.Setenv("CORE_STAGE_DEFAULT_ID", "false")
	t.Setenv("CORE_REGISTRY", "/a,/b,/c")
	t.Setenv("CORE_AUDIT_PATH", "/var/audit")
	t.Setenv("CORE_TRACE_PATH", "/var/trace")

	cfg := FromEnv()
	require.Equal(t, "America/New_York", cfg.Timezone.String())
	require.Equal(t, 3, cfg.MaxJobParallel)
	require.Equal(t, 30*time.Second, cfg.MaxJobExecTimeout)
	require.False(t, cfg.StageDefaultID)
	require.Equal(t, []string{"/a", "/b", "/c"}, cfg.RegistrySearchPaths)
	require.Equal(t, "/var/audit", cfg.AuditPath)
	require.Equal(t, "/var/trace", cfg.TracePath)
}

func TestFromEnvBadTimezoneFallsBackToUTC(t *testing.T) {
	t.Setenv("CORE_TIMEZONE", "Not/AZone")
	cfg := FromEnv()
	require.Equal(t, time.UTC, cfg.Timezone)
}
