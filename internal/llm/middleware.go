package llm

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	llmclient "refinery/internal/llmClient"
)

// Middleware decorates an LLMClient to inject cross-cutting concerns
// (rate limiting, logging, metrics).
type Middleware func(llmclient.LLMClient) llmclient.LLMClient

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner llmclient.LLMClient, mws ...Middleware) llmclient.LLMClient {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		out = mws[i](out)
	}
	return out
}

// passthrough forwards everything but GenerateJSON to next.
type passthrough struct {
	next llmclient.LLMClient
}

func (p passthrough) Name() string                { return p.next.Name() }
func (p passthrough) Close() error                { return p.next.Close() }
func (p passthrough) CountTokens(text string) int { return p.next.CountTokens(text) }
func (p passthrough) TokenCapacity() int          { return p.next.TokenCapacity() }

// -------- Rate Limiting --------

// RateLimit limits request rate with a token bucket. If rps <= 0 the
// middleware is a no-op. When the provider answers 429 with Retry-After,
// later requests wait out that window instead of hitting the provider again.
func RateLimit(rps float64, burst int) Middleware {
	return func(next llmclient.LLMClient) llmclient.LLMClient {
		rl := newRPSLimiter(rps, burst)
		if rl == nil {
			return next
		}
		return &rateLimited{passthrough: passthrough{next}, rl: rl}
	}
}

type rateLimited struct {
	passthrough
	rl *rpsLimiter
}

func (c *rateLimited) Close() error {
	c.rl.Stop()
	return c.next.Close()
}

func (c *rateLimited) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}
	out, err := c.next.GenerateJSON(ctx, prompt, input)
	var se *llmclient.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests && se.HasLimits {
		c.rl.Pause(time.Duration(se.RateLimit.RetryAfterSeconds) * time.Second)
	}
	return out, err
}

// -------- Logging --------

// WithLogging logs request size, latency and errors. A nil logger uses
// slog.Default().
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next llmclient.LLMClient) llmclient.LLMClient {
		return &logging{passthrough: passthrough{next}, log: logger}
	}
}

type logging struct {
	passthrough
	log *slog.Logger
}

func (l *logging) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, _ := json.Marshal(input)
	start := time.Now()
	l.log.DebugContext(ctx, "llm request", "client", l.next.Name(), "bytes", len(prompt)+len(in))
	raw, err := l.next.GenerateJSON(ctx, prompt, input)
	elapsed := time.Since(start)
	if err != nil {
		l.log.WarnContext(ctx, "llm error", "client", l.next.Name(), "elapsed", elapsed, "err", err)
		return raw, err
	}
	l.log.InfoContext(ctx, "llm response", "client", l.next.Name(), "elapsed", elapsed, "bytes", len(raw))
	return raw, err
}

// -------- Metrics --------

// Observer receives one observation per provider call.
type Observer interface {
	ObserveOracleRequest(provider string, elapsed time.Duration, err error)
}

// WithMetrics reports every call to obs. A nil observer disables it.
func WithMetrics(obs Observer) Middleware {
	return func(next llmclient.LLMClient) llmclient.LLMClient {
		if obs == nil {
			return next
		}
		return &measured{passthrough: passthrough{next}, obs: obs}
	}
}

type measured struct {
	passthrough
	obs Observer
}

func (m *measured) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := m.next.GenerateJSON(ctx, prompt, input)
	m.obs.ObserveOracleRequest(m.next.Name(), time.Since(start), err)
	return raw, err
}
