package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"refinery/internal/gateway/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		slog.Error("failed to initialize app", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.Start() }()

	exitCode := 0
	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("server error", "err", err)
			exitCode = 1
		}
	case <-ctx.Done():
		slog.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "err", err)
		exitCode = 1
	}

	slog.Info("server exiting")
	if exitCode != 0 {
		cancel()
		stop()
		os.Exit(exitCode)
	}
}
