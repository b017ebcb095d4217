package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"refinery/internal/gateway/config"
	"refinery/internal/gateway/handler"
	"refinery/internal/gateway/server"
	"refinery/internal/metrics"
)

type App struct {
	server *server.Server
	close  func() error
	log    *slog.Logger
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	// Dependencies
	svc, closeDeps, err := NewService(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	reg, err := metrics.NewRegistry()
	if err != nil {
		_ = closeDeps()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	refineHandler := handler.NewRefineHandler(svc, logger)
	wsHandler := handler.NewRefineWSHandler(svc, logger)

	// Routing & Server
	mux := server.NewMux(refineHandler, wsHandler, metrics.Handler(reg), cfg.AllowedOrigins, logger)
	srv := server.New(cfg.Port, mux, logger)

	logger.Info("gateway configured",
		"env", cfg.Env,
		"store", cfg.Store.Backend,
		"llm_provider", cfg.LLM.Provider,
		"reference_policy", cfg.ReferencePolicy,
	)
	return &App{server: srv, close: closeDeps, log: logger}, nil
}

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	return errors.Join(a.server.Shutdown(ctx), a.close())
}
