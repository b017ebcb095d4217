package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	refinementrepo "refinery/internal/gateway/repository/refinement"
	"refinery/internal/gateway/service/refinement"
	llmclient "refinery/internal/llmClient"
	"refinery/internal/oracle"
	"refinery/internal/types"
)

type cliHarness struct {
	client *llmclient.FakeClient
	store  *refinementrepo.MemoryStore
	builds int
}

func newCLIHarness(t *testing.T, client *llmclient.FakeClient) *cliHarness {
	t.Helper()
	color.NoColor = true
	h := &cliHarness{client: client, store: refinementrepo.NewMemoryStore()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prev := newService
	newService = func(context.Context) (*refinement.Service, func() error, error) {
		h.builds++
		svc := refinement.New(oracle.NewAdapter(h.client), h.store, refinement.WithLogger(logger))
		return svc, func() error { return nil }, nil
	}
	t.Cleanup(func() { newService = prev })
	return h
}

// run executes the root command with fresh flag values and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	jsonOutput, verbose = false, false
	refineUser, refineFile, refineNoSave = "", "", false
	historyUser, historyLimit = "", refinementrepo.DefaultHistoryLimit
	validateReferences = "strict"

	out := new(bytes.Buffer)
	RootCmd.SetOut(out)
	RootCmd.SetErr(io.Discard)
	RootCmd.SetIn(strings.NewReader(stdin))
	RootCmd.SetArgs(args)
	err := Execute(context.Background())
	return out.String(), err
}

func TestRefineRendersAndSaves(t *testing.T) {
	h := newCLIHarness(t, llmclient.NewFakeClient(nil))

	out, err := run(t, "", "refine", "--user", "u1", "Track", "daily", "water", "intake")
	require.NoError(t, err)
	assert.Contains(t, out, "Epics (1)")
	assert.Contains(t, out, "[Medium] Track daily water intake")
	assert.Contains(t, out, "[8h]")
	assert.Contains(t, out, "Saved as input")

	recs, err := h.store.History(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Track daily water intake", recs[0].RawText)
}

func TestRefineNoSave(t *testing.T) {
	h := newCLIHarness(t, llmclient.NewFakeClient(nil))

	_, err := run(t, "", "refine", "--no-save", "Export reports")
	require.NoError(t, err)

	recs, err := h.store.History(context.Background(), refinement.DefaultUserID, 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRefineReadsStdinAndFile(t *testing.T) {
	h := newCLIHarness(t, llmclient.NewFakeClient(nil))

	out, err := run(t, "Send weekly digest\n", "refine", "--no-save")
	require.NoError(t, err)
	assert.Contains(t, out, "Send weekly digest")

	path := filepath.Join(t.TempDir(), "req.txt")
	require.NoError(t, os.WriteFile(path, []byte("Archive old projects"), 0o600))
	out, err = run(t, "", "refine", "--no-save", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Archive old projects")
	assert.Equal(t, 2, h.client.Calls())

	_, err = run(t, "", "refine", "-f", path, "extra")
	require.Error(t, err)
}

func TestRefineEmptyInputSkipsService(t *testing.T) {
	h := newCLIHarness(t, llmclient.NewFakeClient(nil))

	_, err := run(t, "   \n", "refine")
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrEmptyInput)
	assert.Equal(t, 2, ExitCode(err))
	assert.Equal(t, 0, h.builds)
	assert.Equal(t, 0, h.client.Calls())
}

func TestRefineJSON(t *testing.T) {
	newCLIHarness(t, llmclient.NewFakeClient(nil))

	out, err := run(t, "", "refine", "--json", "--no-save", "Plan sprints")
	require.NoError(t, err)

	var res types.RefinementResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, "feature-1", res.Tasks[0].FeatureID)
}

func TestRefineOracleFailureIsMapped(t *testing.T) {
	newCLIHarness(t, llmclient.NewFakeClient(func(context.Context, string, any) (json.RawMessage, error) {
		return nil, errors.New("connection refused")
	}))

	_, err := run(t, "", "refine", "Anything")
	require.Error(t, err)
	var cliErr *CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, refinement.UserMessage(err), cliErr.Message)
	assert.Contains(t, cliErr.Hint, types.KindOracleTransport)
	assert.ErrorIs(t, err, types.ErrOracleTransport)
}

func TestHistoryAndRevisions(t *testing.T) {
	newCLIHarness(t, llmclient.NewFakeClient(nil))

	_, err := run(t, "", "refine", "-u", "u2", "First idea")
	require.NoError(t, err)
	_, err = run(t, "", "refine", "-u", "u2", "Second idea")
	require.NoError(t, err)

	out, err := run(t, "", "history", "-u", "u2", "--json")
	require.NoError(t, err)
	var recs []types.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "Second idea", recs[0].RawText)

	out, err = run(t, "", "history", "-u", "u2", "-n", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Second idea")
	assert.NotContains(t, out, "First idea")

	_, err = run(t, "", "revise", recs[1].InputID)
	require.NoError(t, err)

	out, err = run(t, "", "revisions", recs[1].InputID, "--json")
	require.NoError(t, err)
	var revs []types.Record
	require.NoError(t, json.Unmarshal([]byte(out), &revs))
	require.Len(t, revs, 2)
	assert.Equal(t, recs[1].InputID, revs[0].InputID)
	assert.NotEqual(t, revs[0].ID, revs[1].ID)
}

func TestHistoryEmptyAndBadLimit(t *testing.T) {
	newCLIHarness(t, llmclient.NewFakeClient(nil))

	out, err := run(t, "", "history", "-u", "nobody")
	require.NoError(t, err)
	assert.Contains(t, out, "No refinements stored yet")

	_, err = run(t, "", "history", "--limit", "500")
	require.Error(t, err)
}

func TestRevisionsUnknownInput(t *testing.T) {
	newCLIHarness(t, llmclient.NewFakeClient(nil))

	_, err := run(t, "", "revisions", "missing")
	var cliErr *CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, "input not found", cliErr.Message)

	_, err = run(t, "", "revise", "missing")
	require.ErrorAs(t, err, &cliErr)
	assert.Equal(t, "input not found", cliErr.Message)
}

const danglingAnswer = `{
  "epics": [{"id": "e1", "title": "T", "description": "D", "priority": "High"}],
  "userStories": [{"id": "s1", "epicId": "e9", "role": "r", "goal": "g", "reason": "x", "acceptanceCriteria": []}],
  "features": [],
  "tasks": []
}`

func TestValidate(t *testing.T) {
	color.NoColor = true
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}
	good, err := llmclient.NewFakeClient(nil).GenerateJSON(context.Background(), "", map[string]string{"inputText": "x"})
	require.NoError(t, err)

	out, err := run(t, "", "validate", write("good.json", string(good)))
	require.NoError(t, err)
	assert.Contains(t, out, "Valid: 1 epics, 1 stories, 1 features, 1 tasks")

	_, err = run(t, "", "validate", write("bad.json", `{"epics":[{"id":"e1","title":"T","description":"D","priority":"Urgent"}],"userStories":[],"features":[],"tasks":[]}`))
	var cliErr *CLIError
	require.ErrorAs(t, err, &cliErr)
	assert.Contains(t, cliErr.Hint, "epics[0].priority")

	path := write("dangling.json", danglingAnswer)
	_, err = run(t, "", "validate", path)
	require.ErrorIs(t, err, types.ErrDanglingReference)

	out, err = run(t, "", "validate", "--references", "warn", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"e9" not found in epics`)

	_, err = run(t, "not json", "validate", "-")
	require.ErrorIs(t, err, types.ErrMalformedOracleResponse)
}

func TestValidate_WarnReportsEachReferenceOnce(t *testing.T) {
	color.NoColor = true
	path := filepath.Join(t.TempDir(), "dangling.json")
	require.NoError(t, os.WriteFile(path, []byte(danglingAnswer), 0o600))

	jsonOutput, verbose = false, false
	validateReferences = "strict"
	combined := new(bytes.Buffer)
	RootCmd.SetOut(combined)
	RootCmd.SetErr(combined)
	RootCmd.SetIn(strings.NewReader(""))
	RootCmd.SetArgs([]string{"validate", "--references", "warn", path})
	t.Cleanup(func() { RootCmd.SetErr(io.Discard) })

	require.NoError(t, Execute(context.Background()))
	assert.Equal(t, 1, strings.Count(combined.String(), "e9"), combined.String())
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		message  string
		exitCode int
	}{
		{"empty", types.ErrEmptyInput, "input text is required", 2},
		{"not found", &types.PersistenceError{Op: "revisions", Err: refinementrepo.ErrNotFound}, "input not found", 1},
		{"persistence", &types.PersistenceError{Op: "save", Err: errors.New("disk full")}, "failed to process the request, try again", 1},
		{"schema", &types.SchemaMismatchError{Path: "tasks[0].priority", Reason: "bad"}, "failed to process the request, try again", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapError(tt.err)
			var cliErr *CLIError
			require.ErrorAs(t, err, &cliErr)
			assert.Equal(t, tt.message, cliErr.Message)
			assert.Equal(t, tt.exitCode, ExitCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	plain := errors.New("other")
	assert.Equal(t, plain, MapError(plain))
	assert.Nil(t, MapError(nil))
	assert.Equal(t, 0, ExitCode(nil))
}

func TestRenderResultListsUnlinkedItems(t *testing.T) {
	color.NoColor = true
	res := types.RefinementResult{
		Epics:       []types.Epic{{ID: "e1", Title: "Billing", Priority: types.PriorityHigh}},
		UserStories: []types.UserStory{{ID: "s1", EpicID: "e2", Role: "admin", Goal: "export", Reason: "audit"}},
		Features:    []types.Feature{{ID: "f1", Title: "Invoices"}},
		Tasks:       []types.Task{{ID: "t1", FeatureID: "f9", Summary: "Wire PDF", EstimatedHours: 2.5, Priority: types.PriorityLow}},
	}
	buf := new(bytes.Buffer)
	RenderResult(buf, res)
	out := buf.String()

	assert.Contains(t, out, "[High] Billing")
	assert.Contains(t, out, "Unlinked")
	assert.Contains(t, out, "As a admin, I want export so that audit")
	assert.Contains(t, out, "[Low] [2.5h] Wire PDF")
	assert.Contains(t, out, "2.5h estimated")

	buf.Reset()
	RenderResult(buf, types.RefinementResult{})
	assert.Contains(t, buf.String(), "The refinement is empty")
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "first line", summarize("  first line\nsecond", 60))
	assert.Equal(t, "abcd…", summarize("abcdefgh", 5))
}
