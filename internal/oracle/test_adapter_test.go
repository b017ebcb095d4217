package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	llmclient "refinery/internal/llmClient"
	"refinery/internal/tester"
	"refinery/internal/types"
)

func TestAdapter_EmptyInputSkipsTransport(t *testing.T) {
	fake := llmclient.NewFakeClient(nil)
	a := NewAdapter(fake)
	for _, text := range []string{"", "   ", "\n\t "} {
		_, err := a.Refine(context.Background(), text)
		tester.ErrIs(t, err, types.ErrEmptyInput)
	}
	tester.Eq(t, fake.Calls(), 0, "blank input must not reach the provider")
}

func TestAdapter_SendsPromptAndTrimmedText(t *testing.T) {
	var gotPrompt string
	var gotInput Request
	fake := llmclient.NewFakeClient(func(_ context.Context, prompt string, input any) (json.RawMessage, error) {
		gotPrompt = prompt
		gotInput = input.(Request)
		return json.Marshal(waterIntake())
	})
	res, err := NewAdapter(fake).Refine(context.Background(), "  track water intake \n")
	tester.NoErr(t, err)
	tester.Eq(t, gotPrompt, SystemPrompt)
	tester.Eq(t, gotInput.InputText, "track water intake")
	tester.Eq(t, res, waterIntake())
	tester.Eq(t, fake.Calls(), 1)
}

func TestAdapter_DefaultFakeIsValid(t *testing.T) {
	res, err := NewAdapter(llmclient.NewFakeClient(nil)).Refine(context.Background(), "track water intake")
	tester.NoErr(t, err)
	tester.Eq(t, len(res.Epics), 1)
	tester.Eq(t, len(CheckReferences(res)), 0)
}

func TestAdapter_TransportError(t *testing.T) {
	fake := llmclient.NewFakeClient(func(context.Context, string, any) (json.RawMessage, error) {
		return nil, &llmclient.StatusError{Provider: "openai", StatusCode: 503, Body: "unavailable"}
	})
	_, err := NewAdapter(fake).Refine(context.Background(), "track water intake")
	tester.ErrIs(t, err, types.ErrOracleTransport)
	var te *types.OracleTransportError
	tester.True(t, errors.As(err, &te), "expected *OracleTransportError")
	tester.Eq(t, te.StatusCode, 503)
	tester.Eq(t, te.Provider, "fake")
	tester.Eq(t, types.KindOf(err), types.KindOracleTransport)
}

func TestAdapter_CanceledContextIsTransport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewAdapter(llmclient.NewFakeClient(nil)).Refine(ctx, "track water intake")
	tester.ErrIs(t, err, types.ErrOracleTransport)
	tester.ErrIs(t, err, context.Canceled)
}

func TestAdapter_EmptyCompletionIsMalformed(t *testing.T) {
	fake := llmclient.NewFakeClient(func(context.Context, string, any) (json.RawMessage, error) {
		return nil, llmclient.ErrEmptyCompletion
	})
	_, err := NewAdapter(fake).Refine(context.Background(), "x")
	tester.ErrIs(t, err, types.ErrMalformedOracleResponse)
}

func TestAdapter_BrokenReference(t *testing.T) {
	r := waterIntake()
	r.UserStories[0].EpicID = "epic-99"
	body, _ := json.Marshal(r)
	_, err := NewAdapter(llmclient.NewFakeClientText(string(body))).Refine(context.Background(), "track water intake")
	tester.ErrIs(t, err, types.ErrDanglingReference)
	tester.ErrContains(t, err, "epic-99")
}

func TestAdapter_WarnDecoder(t *testing.T) {
	r := waterIntake()
	r.Tasks[0].FeatureID = "feature-42"
	body, _ := json.Marshal(r)
	a := NewAdapter(llmclient.NewFakeClientText(string(body)), WithDecoder(NewDecoder(WithReferencePolicy(ReferencesWarn))))
	res, err := a.Refine(context.Background(), "track water intake")
	tester.NoErr(t, err)
	tester.Eq(t, res.Tasks[0].FeatureID, "feature-42")
}
