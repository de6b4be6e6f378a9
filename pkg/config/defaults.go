package config

import "time"

// Default returns the built-in configuration. User YAML overrides
// individual fields; anything left unset keeps these values.
func Default() *Config {
	return &Config{
		Engine:       DefaultEngineConfig(),
		Chapter:      DefaultChapterConfig(),
		StoryTrigger: DefaultStoryTriggerConfig(),
		Memory:       DefaultMemoryConfig(),
		Queue:        DefaultQueueConfig(),
		Provider:     DefaultProviderConfig(),
		Retention:    DefaultRetentionConfig(),
		Server:       DefaultServerConfig(),
	}
}

// DefaultEngineConfig returns the built-in engine defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		FeedbackTimeout:      Duration(10 * time.Minute),
		ProgressionThreshold: 0.8,
		EmptyRoomGracePeriod: Duration(5 * time.Minute),
		MailboxSize:          64,
	}
}

// DefaultChapterConfig returns the built-in chapter trigger defaults.
func DefaultChapterConfig() *ChapterConfig {
	return &ChapterConfig{
		WordCount:              2500,
		KeyEvents:              3,
		MessageCount:           15,
		TimeElapsed:            Duration(30 * time.Minute),
		PlayerInactivity:       Duration(10 * time.Minute),
		RandomEventProbability: 0.15,
	}
}

// DefaultStoryTriggerConfig returns the built-in per-message trigger rules.
func DefaultStoryTriggerConfig() *StoryTriggerConfig {
	return &StoryTriggerConfig{
		MessageThreshold:     3,
		LongMessageThreshold: 80,
		TimeThreshold:        Duration(2 * time.Minute),
		ActionKeywords: []string{
			"search", "open", "follow", "examine", "attack",
			"unlock", "investigate", "confront", "chase",
		},
		QuestionTriggers: []string{
			"or", "if", "shall we", "should we", "what if", "?",
		},
		DramaticKeywords: []string{
			"scream", "blood", "body", "dead", "vanish", "shadow",
			"gunshot", "poison",
		},
		EmotionKeywords: []string{
			"afraid", "terrified", "suspect", "betray", "love", "hate",
		},
	}
}

// DefaultMemoryConfig returns the built-in memory defaults.
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		ShortTermMaxSize: 50,
		ShortTermMinSize: 20,
		SalienceKeywords: []string{
			"discover", "decide", "secret", "relationship", "setting",
			"clue", "motive", "alibi",
		},
		CharsPerToken:   4,
		SummaryMaxChars: 200,
	}
}

// DefaultQueueConfig returns the built-in request queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		MaxConcurrent: 3,
		MaxRetries:    3,
		RetryDelay:    Duration(1 * time.Second),
		Timeout:       Duration(30 * time.Second),
	}
}

// DefaultProviderConfig returns the built-in provider defaults.
func DefaultProviderConfig() *ProviderConfig {
	return &ProviderConfig{
		Name:            "genai",
		Model:           "gemini-2.0-flash",
		APIKeyEnv:       "GOOGLE_API_KEY",
		AvailabilityTTL: Duration(60 * time.Second),
	}
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		EndedRoomRetention:  Duration(24 * time.Hour),
		PlayerIdleThreshold: Duration(30 * time.Minute),
		SweepInterval:       Duration(10 * time.Minute),
	}
}

// DefaultServerConfig returns the built-in HTTP server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:         ":8080",
		WriteTimeout: Duration(10 * time.Second),
	}
}
