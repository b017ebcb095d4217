package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyCompletion is returned when the provider answered without any text.
var ErrEmptyCompletion = errors.New("empty completion from LLM")

// LLMClient is the transport to a text-completion provider. GenerateJSON asks
// the provider for a JSON answer to prompt+input and returns the raw text
// untouched; callers must treat it as untrusted.
type LLMClient interface {
	Name() string
	Close() error
	CountTokens(text string) int
	TokenCapacity() int
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
}

// StatusError reports a non-2xx answer from an HTTP provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RateLimit  RateLimitHeaders
	HasLimits  bool
}

func (e *StatusError) Error() string {
	if e.HasLimits && e.RateLimit.RetryAfterSeconds > 0 {
		return fmt.Sprintf("%s: unexpected status %d (retry after %ds): %s", e.Provider, e.StatusCode, e.RateLimit.RetryAfterSeconds, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}
