package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"refinery/internal/gateway/config"
	"refinery/internal/gateway/service/refinement"
	"refinery/internal/llm"
	llmclient "refinery/internal/llmClient"
	"refinery/internal/metrics"
	"refinery/internal/oracle"
)

// NewService wires the oracle adapter and the configured store into a
// refinement service. The returned func releases the provider client and
// the database.
func NewService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*refinement.Service, func() error, error) {
	policy, err := oracle.ParseReferencePolicy(cfg.ReferencePolicy)
	if err != nil {
		return nil, nil, err
	}

	base, err := llmclient.New(ctx, llmclient.ProviderConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}
	client := llm.Wrap(base,
		llm.RateLimit(cfg.LLM.RPS, cfg.LLM.Burst),
		llm.WithMetrics(metrics.Oracle{}),
		llm.WithLogging(logger),
	)

	stores, err := initStores(cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	adapter := oracle.NewAdapter(client, oracle.WithDecoder(oracle.NewDecoder(
		oracle.WithReferencePolicy(policy),
		oracle.WithDecoderLogger(logger),
	)))
	svc := refinement.New(adapter, stores.refinement,
		refinement.WithLogger(logger),
		refinement.WithSaveTimeout(cfg.SaveTimeout),
	)
	closeAll := func() error {
		return errors.Join(client.Close(), stores.close())
	}
	return svc, closeAll, nil
}
