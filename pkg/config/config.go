// Package config loads and validates the server configuration from a
// YAML config directory plus environment variables.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved server configuration.
type Config struct {
	Engine       *EngineConfig       `yaml:"engine"`
	Chapter      *ChapterConfig      `yaml:"chapter"`
	StoryTrigger *StoryTriggerConfig `yaml:"story_trigger"`
	Memory       *MemoryConfig       `yaml:"memory"`
	Queue        *QueueConfig        `yaml:"request_queue"`
	Provider     *ProviderConfig     `yaml:"provider"`
	Retention    *RetentionConfig    `yaml:"retention"`
	Server       *ServerConfig       `yaml:"server"`
}

// EngineConfig controls the room engine (C7).
type EngineConfig struct {
	// FeedbackTimeout is the per-chapter feedback window; when it fires,
	// remaining player progress rows are force-completed.
	FeedbackTimeout Duration `yaml:"feedback_timeout"`

	// ProgressionThreshold is the per-player completion fraction needed
	// for the chapter to advance.
	ProgressionThreshold float64 `yaml:"progression_threshold"`

	// EmptyRoomGracePeriod is the delay before a room with zero members
	// is deleted. A rejoin before expiry cancels the deletion.
	EmptyRoomGracePeriod Duration `yaml:"empty_room_grace_period"`

	// MailboxSize is the per-room mailbox buffer depth.
	MailboxSize int `yaml:"mailbox_size"`
}

// ChapterConfig holds the auto-progression trigger thresholds (C5),
// checked in the order they are listed here.
type ChapterConfig struct {
	WordCount        int      `yaml:"word_count"`
	KeyEvents        int      `yaml:"key_events"`
	MessageCount     int      `yaml:"message_count"`
	TimeElapsed      Duration `yaml:"time_elapsed"`
	PlayerInactivity Duration `yaml:"player_inactivity"`

	// RandomEventProbability is the chance a chapter transition carries
	// a random event.
	RandomEventProbability float64 `yaml:"random_event_probability"`
}

// StoryTriggerConfig holds the per-message story-generation rules (C7).
type StoryTriggerConfig struct {
	// MessageThreshold fires generation every Nth global message since
	// the last AI output.
	MessageThreshold int `yaml:"message_threshold"`

	// LongMessageThreshold fires on messages longer than this.
	LongMessageThreshold int `yaml:"long_message_threshold"`

	// TimeThreshold fires when this much time passed since the last AI
	// output.
	TimeThreshold Duration `yaml:"time_threshold"`

	ActionKeywords   []string `yaml:"action_keywords"`
	QuestionTriggers []string `yaml:"question_triggers"`
	DramaticKeywords []string `yaml:"dramatic_keywords"`
	EmotionKeywords  []string `yaml:"emotion_keywords"`
}

// MemoryConfig controls the layered memory subsystem (C4).
type MemoryConfig struct {
	// ShortTermMaxSize is the interaction buffer capacity; exceeding it
	// triggers compression down to ShortTermMinSize retained items.
	ShortTermMaxSize int `yaml:"short_term_max_size"`
	ShortTermMinSize int `yaml:"short_term_min_size"`

	// SalienceKeywords mark sentences worth folding into the synthetic
	// interaction during compression. Localizable.
	SalienceKeywords []string `yaml:"salience_keywords"`

	// CharsPerToken maps the caller token budget to a character budget.
	CharsPerToken int `yaml:"chars_per_token"`

	// SummaryMaxChars bounds stored chapter summaries.
	SummaryMaxChars int `yaml:"summary_max_chars"`
}

// QueueConfig controls the LLM request queue (C3).
type QueueConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	MaxRetries    int `yaml:"max_retries"`

	// RetryDelay is the base of the linear backoff: delay × attempt.
	RetryDelay Duration `yaml:"retry_delay"`

	// Timeout bounds each individual provider call.
	Timeout Duration `yaml:"timeout"`
}

// ProviderConfig selects and tunes the active LLM provider (C2).
type ProviderConfig struct {
	// Name selects the provider implementation ("genai", "fake").
	Name string `yaml:"name"`

	// Model is the provider-specific model identifier.
	Model string `yaml:"model"`

	// APIKeyEnv names the environment variable carrying the API key.
	APIKeyEnv string `yaml:"api_key_env"`

	// AvailabilityTTL caches the health probe result for this long.
	AvailabilityTTL Duration `yaml:"availability_ttl"`
}

// RetentionConfig controls the cleanup sweeper.
type RetentionConfig struct {
	// EndedRoomRetention keeps ended rooms around for this long before
	// purging them and their stories.
	EndedRoomRetention Duration `yaml:"ended_room_retention"`

	// PlayerIdleThreshold flips players offline after this much
	// inactivity.
	PlayerIdleThreshold Duration `yaml:"player_idle_threshold"`

	// SweepInterval is the cleanup cadence.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr             string   `yaml:"addr"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
	WriteTimeout     Duration `yaml:"write_timeout"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
