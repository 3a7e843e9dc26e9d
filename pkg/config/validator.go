package config

import (
	"fmt"
	"log/slog"
)

// validate checks cross-field constraints and clamps tunables to their
// documented minimums.
func validate(cfg *Config) error {
	if cfg.Batch.ChunkSize < 1 {
		return NewValidationError("batch", "chunk_size",
			fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidValue, cfg.Batch.ChunkSize))
	}
	if cfg.Batch.MaxVerboseErrors < 1 {
		cfg.Batch.MaxVerboseErrors = DefaultMaxVerboseErrors
	}

	switch cfg.Model.Backend {
	case BackendGemini, BackendAnthropic:
	default:
		return NewValidationError("model", "backend",
			fmt.Errorf("%w: %q (expected %q or %q)",
				ErrInvalidValue, cfg.Model.Backend, BackendGemini, BackendAnthropic))
	}
	if cfg.Model.ID == "" {
		return NewValidationError("model", "id", ErrMissingRequiredField)
	}
	if cfg.Model.TimeoutMS < MinModelTimeoutMS {
		slog.Warn("Model timeout below minimum, raising",
			"configured_ms", cfg.Model.TimeoutMS, "minimum_ms", MinModelTimeoutMS)
		cfg.Model.TimeoutMS = MinModelTimeoutMS
	}

	if cfg.Database.Enabled {
		if cfg.Database.Host == "" {
			return NewValidationError("database", "host", ErrMissingRequiredField)
		}
		if cfg.Database.Name == "" {
			return NewValidationError("database", "name", ErrMissingRequiredField)
		}
	}

	if cfg.Notifications.Slack != nil && cfg.Notifications.Slack.Enabled &&
		cfg.Notifications.Slack.Channel == "" {
		return NewValidationError("notifications", "slack.channel", ErrMissingRequiredField)
	}

	return nil
}
