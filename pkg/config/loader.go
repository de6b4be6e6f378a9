package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the YAML file read from the config directory.
const ConfigFileName = "parlor.yaml"

// Initialize loads, merges, and validates configuration.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Read parlor.yaml from configDir (missing file is fine)
//  3. Expand environment variables in the YAML content
//  4. Overlay user values onto the defaults
//  5. Validate the result
func Initialize(configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	cfg := Default()

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("No config file found, using built-in defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		expanded := ExpandEnv(data)
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		log.Info("Loaded configuration", "path", path)
	}

	// yaml.Unmarshal replaces whole sections when present; refill any
	// section the user omitted entirely.
	fillMissingSections(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func fillMissingSections(cfg *Config) {
	if cfg.Engine == nil {
		cfg.Engine = DefaultEngineConfig()
	}
	if cfg.Chapter == nil {
		cfg.Chapter = DefaultChapterConfig()
	}
	if cfg.StoryTrigger == nil {
		cfg.StoryTrigger = DefaultStoryTriggerConfig()
	}
	if cfg.Memory == nil {
		cfg.Memory = DefaultMemoryConfig()
	}
	if cfg.Queue == nil {
		cfg.Queue = DefaultQueueConfig()
	}
	if cfg.Provider == nil {
		cfg.Provider = DefaultProviderConfig()
	}
	if cfg.Retention == nil {
		cfg.Retention = DefaultRetentionConfig()
	}
	if cfg.Server == nil {
		cfg.Server = DefaultServerConfig()
	}
}
