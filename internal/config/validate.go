package config

import (
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return invalid("addr must not be empty")
	}
	switch strings.ToLower(c.Language) {
	case "en", "pt":
	default:
		return invalid("language must be en or pt, got %q", c.Language)
	}
	if c.FrameIntervalMS <= 0 {
		return invalid("frame_interval_ms must be positive")
	}
	if c.CalibrationStepMS <= 0 {
		return invalid("calibration_step_ms must be positive")
	}
	if c.MaxSessionSeconds < 0 {
		return invalid("max_session_seconds must not be negative")
	}
	if c.RetryAttempts < 1 {
		return invalid("retry_attempts must be at least 1")
	}
	if c.RetryBaseMS < 0 || c.RetryMaxMS < 0 || c.RetryJitterMS < 0 {
		return invalid("retry timings must not be negative")
	}
	if c.QueueSize <= 0 {
		return invalid("queue_size must be positive")
	}
	if c.WorkerCount <= 0 {
		return invalid("worker_count must be positive")
	}
	if c.DedupeSize <= 0 {
		return invalid("dedupe_size must be positive")
	}
	return c.validatePersistence()
}

func (c *Config) validatePersistence() error {
	switch strings.ToLower(c.PersistBackend) {
	case "", "none":
		return nil
	case "postgrest":
		if strings.TrimSpace(c.SupabaseURL) == "" {
			return invalid("supabase_url must be set when persist_backend is postgrest")
		}
		if strings.TrimSpace(c.SupabaseKey) == "" {
			return invalid("supabase_key must be set when persist_backend is postgrest")
		}
		return nil
	case "sqlite":
		if strings.TrimSpace(c.HistoryDB) == "" {
			return invalid("history_db must be set when persist_backend is sqlite")
		}
		return nil
	default:
		return invalid("unknown persist_backend %q", c.PersistBackend)
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
