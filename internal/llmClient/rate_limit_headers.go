package llmclient

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitHeaders represents normalized provider rate-limit signals.
type RateLimitHeaders struct {
	RetryAfterSeconds int

	LimitRequests     int
	LimitTokens       int
	RemainingRequests int
	RemainingTokens   int

	ResetRequests time.Duration
	ResetTokens   time.Duration
}

// RateLimitHeaderAwareClient is implemented by clients that expose the
// rate-limit headers of their last response.
type RateLimitHeaderAwareClient interface {
	LastRateLimitHeaders() (RateLimitHeaders, bool)
}

// parseRateLimitHeaders reads the x-ratelimit-* family shared by OpenAI and
// Groq. Reset values are Go-style durations ("7.66s", "2m59.56s").
func parseRateLimitHeaders(h http.Header) (RateLimitHeaders, bool) {
	out := RateLimitHeaders{}
	found := false

	readInt := func(key string) (int, bool) {
		v := strings.TrimSpace(h.Get(key))
		if v == "" {
			return 0, false
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	readDur := func(key string) (time.Duration, bool) {
		v := strings.TrimSpace(h.Get(key))
		if v == "" {
			return 0, false
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, false
		}
		return d, true
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"retry-after", &out.RetryAfterSeconds},
		{"x-ratelimit-limit-requests", &out.LimitRequests},
		{"x-ratelimit-limit-tokens", &out.LimitTokens},
		{"x-ratelimit-remaining-requests", &out.RemainingRequests},
		{"x-ratelimit-remaining-tokens", &out.RemainingTokens},
	}
	for _, f := range ints {
		if v, ok := readInt(f.key); ok {
			*f.dst = v
			found = true
		}
	}
	if v, ok := readDur("x-ratelimit-reset-requests"); ok {
		out.ResetRequests = v
		found = true
	}
	if v, ok := readDur("x-ratelimit-reset-tokens"); ok {
		out.ResetTokens = v
		found = true
	}
	return out, found
}
