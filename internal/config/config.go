// Package config loads appforge configuration from a YAML file with
// environment variable overrides for provider credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"appforge/internal/types"
)

// Config holds provider credentials and call tuning.
type Config struct {
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	GeminiBaseURL    string `yaml:"gemini_base_url"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`

	// Timeout is the per-call HTTP timeout, e.g. "10m".
	Timeout string `yaml:"timeout"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures the zap logger built by the CLI.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		GeminiBaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		AnthropicBaseURL: "https://api.anthropic.com/v1",
		Timeout:          "10m",
		Logging:          LoggingConfig{Level: "info"},
	}
}

// Load reads the config file at path and applies environment overrides.
// A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.fillDefaults()
	return cfg, nil
}

// applyEnv fills credentials from the environment when the file left them
// empty. File values take priority, matching provider detection order
// elsewhere in the tree.
func (c *Config) applyEnv() {
	if c.GeminiAPIKey == "" {
		c.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.AnthropicAPIKey == "" {
		c.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

func (c *Config) fillDefaults() {
	if c.GeminiBaseURL == "" {
		c.GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if c.AnthropicBaseURL == "" {
		c.AnthropicBaseURL = "https://api.anthropic.com/v1"
	}
	if c.Timeout == "" {
		c.Timeout = "10m"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Credentials returns the presence-only credential set consumed by the
// model router. No secret material leaves this package through it.
func (c *Config) Credentials() types.CredentialSet {
	return types.CredentialSet{
		types.ProviderGemini:    c.GeminiAPIKey != "",
		types.ProviderAnthropic: c.AnthropicAPIKey != "",
	}
}

// CallTimeout parses Timeout, falling back to ten minutes on bad input.
// Large-context models need extended timeouts.
func (c *Config) CallTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Minute
	}
	return d
}
