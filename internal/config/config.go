package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/storyloom/storyloom/pkg/models"
)

// Config represents the complete application configuration
type Config struct {
	Workflow    WorkflowConfig         `toml:"workflow"`
	Models      map[string]ModelConfig `toml:"models"`
	Compression CompressionConfig      `toml:"compression"`

	// RequireApproval defers the transition into the named phase until a
	// human approves it (keys are destination phase names, e.g. "WRITING")
	RequireApproval map[string]bool `toml:"require_approval"`
}

// WorkflowConfig holds engine-level settings
type WorkflowConfig struct {
	OutputDir            string `toml:"output_dir"`              // Project workspaces root (default: output)
	MaxIterations        int    `toml:"max_iterations"`          // Hard cap on loop iterations (default: 300)
	MaxRevisionsPerChunk int    `toml:"max_revisions_per_chunk"` // Revision requests per chunk before auto-approval (default: 2)
	PollIntervalSeconds  int    `toml:"poll_interval_seconds"`   // Pause/approval polling interval (default: 5)
	TranscriptInterval   int    `toml:"transcript_interval"`     // Write readable transcript every N iterations (default: 5)
}

// ModelConfig represents configuration for a single model endpoint
type ModelConfig struct {
	BaseURL            string  `toml:"base_url"`
	ModelName          string  `toml:"model_name"`
	Temperature        float64 `toml:"temperature"`
	TopP               float64 `toml:"top_p"`
	MaxOutputTokens    int     `toml:"max_output_tokens"`
	ContextSize        int     `toml:"context_size"`
	RateLimitPerMinute int     `toml:"rate_limit_per_minute"`
	MaxRetries         int     `toml:"max_retries"`          // Retry attempts per call (default 3)
	HTTPTimeoutSeconds int     `toml:"http_timeout_seconds"` // Per-request timeout (default 300)
}

// CompressionConfig holds context compression settings
type CompressionConfig struct {
	Disabled   bool   `toml:"disabled"`
	TokenLimit int    `toml:"token_limit"` // Model context budget (default: 200000)
	Threshold  int    `toml:"threshold"`   // Compress when estimate reaches this (default: 180000)
	KeepRecent int    `toml:"keep_recent"` // Messages kept verbatim at the tail (default: 10)
	Estimator  string `toml:"estimator"`   // "heuristic" or "remote" (default: heuristic)
}

// Estimator modes
const (
	EstimatorHeuristic = "heuristic"
	EstimatorRemote    = "remote"
)

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Workflow.MaxIterations < 1 {
		return fmt.Errorf("workflow.max_iterations must be at least 1")
	}
	if c.Workflow.MaxRevisionsPerChunk < 0 {
		return fmt.Errorf("workflow.max_revisions_per_chunk must not be negative")
	}
	if c.Workflow.PollIntervalSeconds < 1 {
		return fmt.Errorf("workflow.poll_interval_seconds must be at least 1")
	}

	mainModel, ok := c.Models["main"]
	if !ok {
		return fmt.Errorf("models.main is required")
	}
	if err := validateModelConfig("main", mainModel); err != nil {
		return err
	}
	if summary, ok := c.Models["summary"]; ok {
		if err := validateModelConfig("summary", summary); err != nil {
			return err
		}
	}

	if c.Compression.Estimator != EstimatorHeuristic && c.Compression.Estimator != EstimatorRemote {
		return fmt.Errorf("compression.estimator must be %q or %q (got %q)",
			EstimatorHeuristic, EstimatorRemote, c.Compression.Estimator)
	}
	if c.Compression.Threshold >= c.Compression.TokenLimit {
		return fmt.Errorf("compression.threshold (%d) must be below compression.token_limit (%d)",
			c.Compression.Threshold, c.Compression.TokenLimit)
	}
	if c.Compression.KeepRecent < 1 {
		return fmt.Errorf("compression.keep_recent must be at least 1")
	}

	for phase := range c.RequireApproval {
		if _, err := models.ParsePhase(phase); err != nil {
			return fmt.Errorf("require_approval references %w", err)
		}
	}

	return nil
}

func validateModelConfig(name string, mc ModelConfig) error {
	if mc.BaseURL == "" {
		return fmt.Errorf("models.%s.base_url is required", name)
	}
	if mc.ModelName == "" {
		return fmt.Errorf("models.%s.model_name is required", name)
	}
	if mc.Temperature < 0 || mc.Temperature > 2 {
		return fmt.Errorf("models.%s.temperature must be between 0 and 2", name)
	}
	if mc.TopP < 0 || mc.TopP > 1 {
		return fmt.Errorf("models.%s.top_p must be between 0 and 1", name)
	}
	if mc.MaxOutputTokens < 1 {
		return fmt.Errorf("models.%s.max_output_tokens must be at least 1", name)
	}
	if mc.ContextSize < 1 {
		return fmt.Errorf("models.%s.context_size must be at least 1", name)
	}
	if mc.MaxOutputTokens > mc.ContextSize {
		return fmt.Errorf("models.%s.max_output_tokens (%d) must not exceed context_size (%d)",
			name, mc.MaxOutputTokens, mc.ContextSize)
	}
	if mc.RateLimitPerMinute < 1 {
		return fmt.Errorf("models.%s.rate_limit_per_minute must be at least 1", name)
	}
	return nil
}

// SummaryModel returns the model used for compression summaries, falling
// back to the main model when none is configured.
func (c *Config) SummaryModel() ModelConfig {
	if summary, ok := c.Models["summary"]; ok {
		return summary
	}
	return c.Models["main"]
}

// ApprovalRequired reports whether entering the given phase needs approval
func (c *Config) ApprovalRequired(phase models.Phase) bool {
	return c.RequireApproval[string(phase)]
}

// Secrets holds sensitive credentials loaded from environment variables
type Secrets struct {
	APIKeys map[string]string
}

// LoadSecrets loads sensitive credentials from environment variables
func LoadSecrets() (*Secrets, error) {
	secrets := &Secrets{
		APIKeys: make(map[string]string),
	}

	// Generic key works for any OpenAI-compatible provider
	if key := os.Getenv("API_KEY"); key != "" {
		secrets.APIKeys["generic"] = key
	}

	// Provider-specific keys override the generic one
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		secrets.APIKeys["openai"] = key
	}
	if key := os.Getenv("MOONSHOT_API_KEY"); key != "" {
		secrets.APIKeys["moonshot"] = key
	}
	if key := os.Getenv("TOGETHER_API_KEY"); key != "" {
		secrets.APIKeys["together"] = key
	}

	return secrets, nil
}

// GetAPIKey returns the API key for a given base URL
func (s *Secrets) GetAPIKey(baseURL string) string {
	if strings.Contains(baseURL, "openai.com") {
		if key := s.APIKeys["openai"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "moonshot") {
		if key := s.APIKeys["moonshot"]; key != "" {
			return key
		}
	}
	if strings.Contains(baseURL, "together.xyz") || strings.Contains(baseURL, "together.ai") {
		if key := s.APIKeys["together"]; key != "" {
			return key
		}
	}

	// Fall back to generic API_KEY; empty is fine for local servers
	return s.APIKeys["generic"]
}
