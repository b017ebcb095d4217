package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	OpenAIChatCompletionsURL = "https://api.openai.com/v1/chat/completions"
	GroqChatCompletionsURL   = "https://api.groq.com/openai/v1/chat/completions"
)

// OpenAIOptions configures a chat-completions client. The same wire format
// serves OpenAI and Groq; only BaseURL and the key differ.
type OpenAIOptions struct {
	Provider    string
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TokenCap    int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OpenAIClient calls an OpenAI-compatible Chat Completions API in JSON mode.
type OpenAIClient struct {
	http        *http.Client
	provider    string
	apiKey      string
	model       string
	baseURL     string
	temperature float32
	maxTokens   int
	tokenCap    int

	rlMu      sync.RWMutex
	rlLast    RateLimitHeaders
	rlHasLast bool
}

// NewOpenAIClient creates a client. An empty APIKey falls back to
// OPENAI_API_KEY (or GROQ_API_KEY when Provider is "groq").
func NewOpenAIClient(opts OpenAIOptions) (*OpenAIClient, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "openai"
	}
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		if provider == "groq" {
			apiKey = os.Getenv("GROQ_API_KEY")
		} else {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s: api key is required", provider)
	}
	baseURL := strings.TrimSpace(opts.BaseURL)
	if baseURL == "" {
		baseURL = OpenAIChatCompletionsURL
		if provider == "groq" {
			baseURL = GroqChatCompletionsURL
		}
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	tokenCap := opts.TokenCap
	if tokenCap <= 0 {
		tokenCap = 16000
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &OpenAIClient{
		http:        hc,
		provider:    provider,
		apiKey:      apiKey,
		model:       model,
		baseURL:     baseURL,
		temperature: opts.Temperature,
		maxTokens:   maxTokens,
		tokenCap:    tokenCap,
	}, nil
}

func (c *OpenAIClient) Name() string { return c.provider + ":" + c.model }
func (c *OpenAIClient) Close() error { return nil }
func (c *OpenAIClient) CountTokens(text string) int {
	return CountTokens(text)
}
func (c *OpenAIClient) TokenCapacity() int { return c.tokenCap }

func (c *OpenAIClient) LastRateLimitHeaders() (RateLimitHeaders, bool) {
	c.rlMu.RLock()
	defer c.rlMu.RUnlock()
	return c.rlLast, c.rlHasLast
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float32           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// GenerateJSON sends prompt as the system message and the indented input as
// the user message. The returned content is not validated here.
func (c *OpenAIClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%s: encode input: %w", c.provider, err)
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: "[INPUT JSON]\n" + string(in)},
		},
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	limits, hasLimits := parseRateLimitHeaders(resp.Header)
	if hasLimits {
		c.rlMu.Lock()
		c.rlLast, c.rlHasLast = limits, true
		c.rlMu.Unlock()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &StatusError{
			Provider:   c.provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
			RateLimit:  limits,
			HasLimits:  hasLimits,
		}
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode envelope: %w", c.provider, err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return nil, ErrEmptyCompletion
	}
	return json.RawMessage(out.Choices[0].Message.Content), nil
}
