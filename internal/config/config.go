// Package config builds the engine's immutable runtime Config from its
// environment variable contract. Read once at process start; the executor
// receives Config by value and never rereads the environment itself.
package config

import (
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config is the immutable, process-wide set of §6 environment-derived
// settings. Zero value is not valid; use FromEnv.
type Config struct {
	// Timezone is the default IANA zone used when a workflow/param doesn't
	// specify one (CORE_TIMEZONE, default UTC).
	Timezone *time.Location

	// MaxJobParallel bounds how many jobs of one workflow run run
	// concurrently (CORE_MAX_JOB_PARALLEL, default runtime.NumCPU()).
	MaxJobParallel int

	// MaxJobExecTimeout is the default per-job timeout when a job spec
	// doesn't set one (CORE_MAX_JOB_EXEC_TIMEOUT, seconds; 0 = no default).
	MaxJobExecTimeout time.Duration

	// StageDefaultID enables auto-deriving a stage's id from its name when
	// absent (CORE_STAGE_DEFAULT_ID, default true).
	StageDefaultID bool

	// RegistrySearchPaths is the comma-separated CORE_REGISTRY path list
	// consulted by an external collaborator that populates the call
	// registry; the core itself only carries the parsed list through.
	RegistrySearchPaths []string

	// AuditPath / TracePath root the §6 persisted state layout.
	AuditPath string
	TracePath string
}

// FromEnv reads the §6 environment variables once and returns an immutable
// Config. Malformed values (e.g. an unknown timezone) fall back to their
// documented default rather than failing startup.
func FromEnv() Config {
	loc, err := time.LoadLocation(getenvDefault("CORE_TIMEZONE", "UTC"))
	if err != nil {
		loc = time.UTC
	}

	return Config{
		Timezone:            loc,
		MaxJobParallel:      getenvInt("CORE_MAX_JOB_PARALLEL", runtime.NumCPU()),
		MaxJobExecTimeout:   time.Duration(getenvInt("CORE_MAX_JOB_EXEC_TIMEOUT", 0)) * time.Second,
		StageDefaultID:      getenvBool("CORE_STAGE_DEFAULT_ID", true),
		RegistrySearchPaths: splitNonEmpty(getenvDefault("CORE_REGISTRY", "")),
		AuditPath:           getenvDefault("CORE_AUDIT_PATH", "./audit"),
		TracePath:           getenvDefault("CORE_TRACE_PATH", "./trace"),
	}
}

func getenvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitNonEmpty(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				out = append(out, csv[start:i])
			}
			start = i + 1
		}
	}
	return out
}
