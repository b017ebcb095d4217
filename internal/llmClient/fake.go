package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

// FakeReply produces the raw answer of a FakeClient.
type FakeReply func(ctx context.Context, prompt string, input any) (json.RawMessage, error)

// FakeClient answers without any network call. With no reply configured it
// returns a minimal, fully linked refinement derived from the input text,
// which keeps local runs and demos working offline.
type FakeClient struct {
	reply    FakeReply
	tokenCap int
	calls    atomic.Int64
}

func NewFakeClient(reply FakeReply) *FakeClient {
	return &FakeClient{reply: reply, tokenCap: 4096}
}

// NewFakeClientText returns a FakeClient that always answers with text.
func NewFakeClientText(text string) *FakeClient {
	return NewFakeClient(func(context.Context, string, any) (json.RawMessage, error) {
		return json.RawMessage(text), nil
	})
}

func (f *FakeClient) Name() string { return "fake" }
func (f *FakeClient) Close() error { return nil }
func (f *FakeClient) CountTokens(text string) int {
	return CountTokens(text)
}
func (f *FakeClient) TokenCapacity() int { return f.tokenCap }

// Calls reports how many times GenerateJSON was invoked.
func (f *FakeClient) Calls() int { return int(f.calls.Load()) }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.reply != nil {
		return f.reply(ctx, prompt, input)
	}
	return cannedRefinement(inputText(input))
}

func inputText(input any) string {
	raw, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	var probe struct {
		InputText string `json:"inputText"`
	}
	_ = json.Unmarshal(raw, &probe)
	return strings.TrimSpace(probe.InputText)
}

func cannedRefinement(text string) (json.RawMessage, error) {
	title := text
	if r := []rune(title); len(r) > 60 {
		title = string(r[:60])
	}
	if title == "" {
		title = "Untitled"
	}
	obj := map[string]any{
		"epics": []any{map[string]any{
			"id": "epic-1", "title": title, "description": text, "priority": "Medium",
		}},
		"userStories": []any{map[string]any{
			"id": "story-1", "epicId": "epic-1", "role": "user",
			"goal":               fmt.Sprintf("to %s", strings.ToLower(title)),
			"reason":             "it solves the described need",
			"acceptanceCriteria": []string{"the capability is available"},
		}},
		"features": []any{map[string]any{
			"id": "feature-1", "title": title, "description": text, "userStoryIds": []string{"story-1"},
		}},
		"tasks": []any{map[string]any{
			"id": "task-1", "featureId": "feature-1", "summary": "Implement " + title,
			"description": text, "estimatedHours": 8, "priority": "Medium",
		}},
	}
	return json.Marshal(obj)
}
