package llmclient

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProviderConfig selects and configures one provider.
type ProviderConfig struct {
	Provider    string // openai | groq | gemini | fake
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Providers lists the names accepted by New.
var Providers = []string{"openai", "groq", "gemini", "fake"}

// New builds the client named by cfg.Provider.
func New(ctx context.Context, cfg ProviderConfig) (LLMClient, error) {
	switch normalizeProvider(cfg.Provider) {
	case "openai", "groq":
		return NewOpenAIClient(OpenAIOptions{
			Provider:    normalizeProvider(cfg.Provider),
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case "gemini":
		return NewGeminiClient(ctx, GeminiOptions{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	case "fake":
		return NewFakeClient(nil), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q (want one of %s)", cfg.Provider, strings.Join(Providers, ", "))
}

func normalizeProvider(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "openai"
	}
	return p
}
