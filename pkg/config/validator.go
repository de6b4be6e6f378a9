package config

import (
	"errors"
	"fmt"
)

// validate checks the merged configuration for values the runtime cannot
// work with. It collects all failures so operators see everything at once.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Engine.ProgressionThreshold <= 0 || cfg.Engine.ProgressionThreshold > 1 {
		errs = append(errs, fmt.Errorf("engine.progression_threshold must be in (0,1], got %v",
			cfg.Engine.ProgressionThreshold))
	}
	if cfg.Engine.FeedbackTimeout <= 0 {
		errs = append(errs, errors.New("engine.feedback_timeout must be positive"))
	}
	if cfg.Engine.EmptyRoomGracePeriod <= 0 {
		errs = append(errs, errors.New("engine.empty_room_grace_period must be positive"))
	}
	if cfg.Engine.MailboxSize < 1 {
		errs = append(errs, errors.New("engine.mailbox_size must be at least 1"))
	}

	if cfg.Chapter.RandomEventProbability < 0 || cfg.Chapter.RandomEventProbability > 1 {
		errs = append(errs, fmt.Errorf("chapter.random_event_probability must be in [0,1], got %v",
			cfg.Chapter.RandomEventProbability))
	}

	if cfg.Memory.ShortTermMinSize < 1 {
		errs = append(errs, errors.New("memory.short_term_min_size must be at least 1"))
	}
	if cfg.Memory.ShortTermMaxSize <= cfg.Memory.ShortTermMinSize {
		errs = append(errs, fmt.Errorf("memory.short_term_max_size (%d) must exceed short_term_min_size (%d)",
			cfg.Memory.ShortTermMaxSize, cfg.Memory.ShortTermMinSize))
	}
	if cfg.Memory.CharsPerToken < 1 {
		errs = append(errs, errors.New("memory.chars_per_token must be at least 1"))
	}

	if cfg.Queue.MaxConcurrent < 1 {
		errs = append(errs, errors.New("request_queue.max_concurrent must be at least 1"))
	}
	if cfg.Queue.MaxRetries < 0 {
		errs = append(errs, errors.New("request_queue.max_retries must not be negative"))
	}
	if cfg.Queue.Timeout <= 0 {
		errs = append(errs, errors.New("request_queue.timeout must be positive"))
	}

	if cfg.Provider.Name == "" {
		errs = append(errs, errors.New("provider.name is required"))
	}
	if cfg.Provider.AvailabilityTTL <= 0 {
		errs = append(errs, errors.New("provider.availability_ttl must be positive"))
	}

	if cfg.Retention.SweepInterval <= 0 {
		errs = append(errs, errors.New("retention.sweep_interval must be positive"))
	}

	return errors.Join(errs...)
}
