// Package config loads Fern's runtime configuration from the environment
// variables, applying the documented defaults.
package config

import (
	"os"
	"strconv"
	"time"
)

// SubagentConfig controls the subagent task manager's worker pool.
type SubagentConfig struct {
	Enabled        bool
	MaxConcurrent  int
	TaskTimeout    time.Duration
}

// DefaultSubagentConfig returns the built-in subagent defaults.
func DefaultSubagentConfig() *SubagentConfig {
	return &SubagentConfig{
		Enabled:       true,
		MaxConcurrent: 3,
		TaskTimeout:   480 * time.Second,
	}
}

// SchedulerConfig controls the scheduler's dispatcher and worker pool.
type SchedulerConfig struct {
	Enabled       bool
	MaxConcurrent int
	TickInterval  time.Duration
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		Enabled:       true,
		MaxConcurrent: 2,
		TickInterval:  30 * time.Second,
	}
}

// MemoryConfig controls the archival pipeline and retrieval.
type MemoryConfig struct {
	Enabled bool
	Path    string
}

// DefaultMemoryConfig returns the built-in memory defaults.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{Enabled: true}
}

// Config is the umbrella configuration object built from the environment.
type Config struct {
	Port            string
	ModelProvider   string
	Model           string
	ModelBaseURL    string
	StoragePath     string

	Subagent  *SubagentConfig
	Scheduler *SchedulerConfig
	Memory    *MemoryConfig
	Retention *RetentionConfig

	APISecret  string
	WebhookURL string
}

// Load builds a Config from the process environment, applying the defaults
// documented below.
func Load() *Config {
	cfg := &Config{
		Port:          getEnv("FERN_PORT", "4000"),
		ModelProvider: getEnv("FERN_MODEL_PROVIDER", "openai"),
		Model:         getEnv("FERN_MODEL", "gpt-4o-mini"),
		ModelBaseURL:  os.Getenv("FERN_MODEL_BASE_URL"),
		StoragePath:   getEnv("FERN_STORAGE_PATH", defaultStoragePath()),
		APISecret:     os.Getenv("FERN_API_SECRET"),
		WebhookURL:    os.Getenv("FERN_WEBHOOK_URL"),
	}

	sub := DefaultSubagentConfig()
	sub.Enabled = getEnvBool("FERN_SUBAGENT_ENABLED", sub.Enabled)
	sub.MaxConcurrent = getEnvInt("FERN_SUBAGENT_MAX_CONCURRENT", sub.MaxConcurrent)
	sub.TaskTimeout = getEnvDurationMS("FERN_SUBAGENT_TIMEOUT_MS", sub.TaskTimeout)
	cfg.Subagent = sub

	sched := DefaultSchedulerConfig()
	sched.Enabled = getEnvBool("FERN_SCHEDULER_ENABLED", sched.Enabled)
	sched.MaxConcurrent = getEnvInt("FERN_SCHEDULER_MAX_CONCURRENT", sched.MaxConcurrent)
	sched.TickInterval = getEnvDurationMS("FERN_SCHEDULER_TICK_INTERVAL_MS", sched.TickInterval)
	cfg.Scheduler = sched

	mem := DefaultMemoryConfig()
	mem.Enabled = getEnvBool("FERN_MEMORY_ENABLED", mem.Enabled)
	mem.Path = os.Getenv("FERN_MEMORY_PATH")
	cfg.Memory = mem

	cfg.Retention = DefaultRetentionConfig()

	return cfg
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.fern/sessions"
	}
	return home + "/.fern/sessions"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDurationMS(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
