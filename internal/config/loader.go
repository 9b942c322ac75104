package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and parses the configuration file and environment variables
func Load(configPath string) (*Config, *Secrets, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	return &cfg, secrets, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Workflow.OutputDir == "" {
		cfg.Workflow.OutputDir = "output"
	}
	if cfg.Workflow.MaxIterations == 0 {
		cfg.Workflow.MaxIterations = 300
	}
	if cfg.Workflow.MaxRevisionsPerChunk == 0 {
		cfg.Workflow.MaxRevisionsPerChunk = 2
	}
	if cfg.Workflow.PollIntervalSeconds == 0 {
		cfg.Workflow.PollIntervalSeconds = 5
	}
	if cfg.Workflow.TranscriptInterval == 0 {
		cfg.Workflow.TranscriptInterval = 5
	}

	for name, model := range cfg.Models {
		if model.Temperature == 0 {
			model.Temperature = 0.7
		}
		if model.TopP == 0 {
			model.TopP = 1.0
		}
		if model.MaxOutputTokens == 0 {
			model.MaxOutputTokens = 8192
		}
		if model.ContextSize == 0 {
			model.ContextSize = 200000
		}
		if model.RateLimitPerMinute == 0 {
			model.RateLimitPerMinute = 60
		}
		if model.MaxRetries == 0 {
			model.MaxRetries = 3
		}
		if model.HTTPTimeoutSeconds == 0 {
			model.HTTPTimeoutSeconds = 300
		}
		cfg.Models[name] = model
	}

	if cfg.Compression.TokenLimit == 0 {
		cfg.Compression.TokenLimit = 200000
	}
	if cfg.Compression.Threshold == 0 {
		cfg.Compression.Threshold = 180000
	}
	if cfg.Compression.KeepRecent == 0 {
		cfg.Compression.KeepRecent = 10
	}
	if cfg.Compression.Estimator == "" {
		cfg.Compression.Estimator = EstimatorHeuristic
	}
}
