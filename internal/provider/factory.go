package provider

import (
	"fmt"

	"go.uber.org/zap"

	"appforge/internal/config"
	"appforge/internal/types"
)

// Factory builds provider clients for router candidates. One factory serves
// a whole process; clients are cheap and constructed per call site.
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a client factory over the loaded configuration.
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}
}

// ClientFor returns a client for the given provider, pinned to model.
// It fails when the provider has no credential; the router only proposes
// credentialed candidates, so hitting this error means misconfiguration.
func (f *Factory) ClientFor(p types.Provider, model string) (types.Client, error) {
	switch p {
	case types.ProviderAnthropic:
		if f.cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("no API key configured for provider %s", p)
		}
		cfg := DefaultAnthropicConfig(f.cfg.AnthropicAPIKey)
		cfg.Timeout = f.cfg.CallTimeout()
		cfg.Logger = f.logger
		if f.cfg.AnthropicBaseURL != "" {
			cfg.BaseURL = f.cfg.AnthropicBaseURL
		}
		client := NewAnthropicClientWithConfig(cfg)
		if model != "" {
			client.SetModel(model)
		}
		return client, nil

	case types.ProviderGemini:
		if f.cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("no API key configured for provider %s", p)
		}
		cfg := DefaultGeminiConfig(f.cfg.GeminiAPIKey)
		cfg.Timeout = f.cfg.CallTimeout()
		cfg.Logger = f.logger
		if f.cfg.GeminiBaseURL != "" {
			cfg.BaseURL = f.cfg.GeminiBaseURL
		}
		client := NewGeminiClientWithConfig(cfg)
		if model != "" {
			client.SetModel(model)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unknown provider: %s", p)
	}
}
