package config

import "time"

// RetentionConfig controls the TodoTask maintenance pass (TodoTask
// Retention: done/cancelled items older than 7 days are purged).
type RetentionConfig struct {
	// TodoRetention is how long a done/cancelled TodoTask is kept before purge.
	TodoRetention time.Duration

	// CleanupInterval is how often the maintenance pass runs.
	CleanupInterval time.Duration
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		TodoRetention:   7 * 24 * time.Hour,
		CleanupInterval: 1 * time.Hour,
	}
}
