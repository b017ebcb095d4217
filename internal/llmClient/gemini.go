package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiOptions configures a GeminiClient.
type GeminiOptions struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	TokenCap    int
}

// GeminiClient is a thin wrapper around the official genai client. It only
// focuses on the API call itself; logging, limits and metrics are applied
// as middleware.
type GeminiClient struct {
	cli         *genai.Client
	model       string
	temperature float32
	maxTokens   int
	tokenCap    int
}

func NewGeminiClient(ctx context.Context, opts GeminiOptions) (*GeminiClient, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		apiKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY"))
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4000
	}
	tokenCap := opts.TokenCap
	if tokenCap <= 0 {
		tokenCap = 12000
	}
	return &GeminiClient{
		cli:         cli,
		model:       model,
		temperature: opts.Temperature,
		maxTokens:   maxTokens,
		tokenCap:    tokenCap,
	}, nil
}

func (g *GeminiClient) Name() string { return "gemini:" + g.model }
func (g *GeminiClient) Close() error { return nil }
func (g *GeminiClient) CountTokens(text string) int {
	return CountTokens(text)
}
func (g *GeminiClient) TokenCapacity() int { return g.tokenCap }

// GenerateJSON sends prompt as the system instruction, asks for
// application/json, and returns the concatenated text parts of the first
// candidate.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	in, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("gemini: encode input: %w", err)
	}
	temperature := g.temperature

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: "[INPUT JSON]\n" + string(in)}}}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: prompt}}},
			Temperature:       &temperature,
			MaxOutputTokens:   int32(g.maxTokens),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrEmptyCompletion
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return nil, ErrEmptyCompletion
	}
	return json.RawMessage(b.String()), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
