package oracle

import (
	"context"
	"errors"
	"strings"

	llmclient "refinery/internal/llmClient"
	"refinery/internal/types"
)

// Adapter sends user text to an LLM provider and decodes the answer.
type Adapter struct {
	client  llmclient.LLMClient
	decoder *Decoder
	prompt  string
}

type AdapterOption func(*Adapter)

func WithDecoder(d *Decoder) AdapterOption {
	return func(a *Adapter) {
		if d != nil {
			a.decoder = d
		}
	}
}

// WithPrompt replaces the system prompt. Used by tests and experiments.
func WithPrompt(p string) AdapterOption {
	return func(a *Adapter) {
		if strings.TrimSpace(p) != "" {
			a.prompt = p
		}
	}
}

func NewAdapter(client llmclient.LLMClient, opts ...AdapterOption) *Adapter {
	a := &Adapter{client: client, decoder: NewDecoder(), prompt: SystemPrompt}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Provider names the transport behind the adapter.
func (a *Adapter) Provider() string { return a.client.Name() }

// Refine performs exactly one provider call for non-empty text. Blank text
// fails with ErrEmptyInput before anything is sent.
func (a *Adapter) Refine(ctx context.Context, text string) (types.RefinementResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.RefinementResult{}, types.ErrEmptyInput
	}
	raw, err := a.client.GenerateJSON(ctx, a.prompt, Request{InputText: text})
	if err != nil {
		if errors.Is(err, llmclient.ErrEmptyCompletion) {
			return types.RefinementResult{}, &types.MalformedResponseError{Err: err}
		}
		te := &types.OracleTransportError{Provider: a.client.Name(), Err: err}
		var se *llmclient.StatusError
		if errors.As(err, &se) {
			te.StatusCode = se.StatusCode
		}
		return types.RefinementResult{}, te
	}
	return a.decoder.Decode(raw)
}
