package refinement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"refinery/internal/tester"
	"refinery/internal/types"
)

func sampleResult(title string) types.RefinementResult {
	return types.RefinementResult{
		Epics:       []types.Epic{{ID: "epic-1", Title: title, Description: "d", Priority: types.PriorityHigh}},
		UserStories: []types.UserStory{{ID: "story-1", EpicID: "epic-1", Role: "user", Goal: "g", Reason: "r", AcceptanceCriteria: []string{}}},
		Features:    []types.Feature{{ID: "feature-1", Title: "f", Description: "d", UserStoryIDs: []string{"story-1"}}},
		Tasks:       []types.Task{{ID: "task-1", FeatureID: "feature-1", Summary: "s", Description: "d", EstimatedHours: 3, Priority: types.PriorityLow}},
	}
}

func TestMemoryStore_SaveAndHistoryNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Save(ctx, "alice", fmt.Sprintf("idea %d", i), sampleResult(fmt.Sprintf("t%d", i)))
		tester.NoErr(t, err)
	}
	_, err := s.Save(ctx, "bob", "other", sampleResult("b"))
	tester.NoErr(t, err)

	got, err := s.History(ctx, "alice", 0)
	tester.NoErr(t, err)
	tester.Eq(t, len(got), 3)
	tester.Eq(t, got[0].RawText, "idea 2")
	tester.Eq(t, got[2].RawText, "idea 0")
	tester.Eq(t, got[0].Result, sampleResult("t2"))
}

func TestMemoryStore_HistoryLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		_, err := s.Save(ctx, "alice", fmt.Sprintf("idea %d", i), sampleResult("x"))
		tester.NoErr(t, err)
	}
	got, err := s.History(ctx, "alice", 0)
	tester.NoErr(t, err)
	tester.Eq(t, len(got), DefaultHistoryLimit)

	got, err = s.History(ctx, "alice", 2)
	tester.NoErr(t, err)
	tester.Eq(t, len(got), 2)
	tester.Eq(t, got[0].RawText, "idea 14")
}

func TestMemoryStore_EmptyHistoryIsNotAnError(t *testing.T) {
	got, err := NewMemoryStore().History(context.Background(), "nobody", 10)
	tester.NoErr(t, err)
	tester.True(t, got != nil, "history should be an empty slice, not nil")
	tester.Eq(t, len(got), 0)
}

func TestMemoryStore_NoDedupe(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, err := s.Save(ctx, "alice", "same", sampleResult("x"))
	tester.NoErr(t, err)
	b, err := s.Save(ctx, "alice", "same", sampleResult("x"))
	tester.NoErr(t, err)
	tester.True(t, a.ID != b.ID && a.InputID != b.InputID, "identical saves should create distinct records")
}

func TestMemoryStore_Revisions(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	tick := 0
	s.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Second) }
	ctx := context.Background()

	first, err := s.Save(ctx, "alice", "track water intake", sampleResult("v1"))
	tester.NoErr(t, err)
	second, err := s.AppendRevision(ctx, first.InputID, sampleResult("v2"))
	tester.NoErr(t, err)
	tester.Eq(t, second.InputID, first.InputID)
	tester.Eq(t, second.UserID, "alice")
	tester.Eq(t, second.RawText, "track water intake")
	tester.True(t, second.CreatedAt.After(first.CreatedAt), "revision should be newer")

	revs, err := s.Revisions(ctx, first.InputID)
	tester.NoErr(t, err)
	tester.Eq(t, len(revs), 2)
	tester.Eq(t, revs[0].ID, second.ID)
	tester.Eq(t, revs[0].Input().LatestRevisionID, second.ID)

	_, err = s.AppendRevision(ctx, "missing", sampleResult("x"))
	tester.True(t, errors.Is(err, ErrNotFound), "unknown input should be ErrNotFound")
	_, err = s.Revisions(ctx, "missing")
	tester.True(t, errors.Is(err, ErrNotFound), "unknown input should be ErrNotFound")
}

func TestNormalizeLimit(t *testing.T) {
	tester.Eq(t, NormalizeLimit(-3), DefaultHistoryLimit)
	tester.Eq(t, NormalizeLimit(0), DefaultHistoryLimit)
	tester.Eq(t, NormalizeLimit(7), 7)
	tester.Eq(t, NormalizeLimit(1000), MaxHistoryLimit)
}
