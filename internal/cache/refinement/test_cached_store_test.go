package refinement

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	refinementrepo "refinery/internal/gateway/repository/refinement"
	"refinery/internal/tester"
	"refinery/internal/types"
)

type countingStore struct {
	*refinementrepo.MemoryStore

	mu             sync.Mutex
	historyCalls   int
	revisionsCalls int
	failSave       bool

	// run after the origin read, before the result reaches the cache
	afterHistory   func()
	afterRevisions func()
}

func (s *countingStore) Save(ctx context.Context, userID, rawText string, result types.RefinementResult) (types.Record, error) {
	if s.failSave {
		return types.Record{}, fmt.Errorf("save failed")
	}
	return s.MemoryStore.Save(ctx, userID, rawText, result)
}

func (s *countingStore) History(ctx context.Context, userID string, limit int) ([]types.Record, error) {
	s.mu.Lock()
	s.historyCalls++
	hook := s.afterHistory
	s.afterHistory = nil
	s.mu.Unlock()
	recs, err := s.MemoryStore.History(ctx, userID, limit)
	if hook != nil {
		hook()
	}
	return recs, err
}

func (s *countingStore) Revisions(ctx context.Context, inputID string) ([]types.Record, error) {
	s.mu.Lock()
	s.revisionsCalls++
	hook := s.afterRevisions
	s.afterRevisions = nil
	s.mu.Unlock()
	recs, err := s.MemoryStore.Revisions(ctx, inputID)
	if hook != nil {
		hook()
	}
	return recs, err
}

func newCounting() *countingStore {
	return &countingStore{MemoryStore: refinementrepo.NewMemoryStore()}
}

func TestCachedStore_HistoryReadThrough(t *testing.T) {
	origin := newCounting()
	s := NewCachedStore(origin, CacheConfig{HistoryTTL: time.Minute})
	ctx := context.Background()

	_, err := s.Save(ctx, "alice", "first", types.RefinementResult{})
	tester.NoErr(t, err)

	for i := 0; i < 3; i++ {
		got, err := s.History(ctx, "alice", 0)
		tester.NoErr(t, err)
		tester.Eq(t, len(got), 1)
	}
	tester.Eq(t, origin.historyCalls, 1, "history should be served from cache after first read")

	snap := s.MetricsSnapshot()
	tester.Eq(t, snap.HistoryHits, uint64(2))
	tester.Eq(t, snap.HistoryMisses, uint64(1))
}

func TestCachedStore_SaveInvalidatesUser(t *testing.T) {
	origin := newCounting()
	s := NewCachedStore(origin, DefaultCacheConfig())
	ctx := context.Background()

	_, _ = s.History(ctx, "alice", 5)
	_, _ = s.History(ctx, "alice", 10)
	_, _ = s.History(ctx, "bob", 10)
	tester.Eq(t, origin.historyCalls, 3)

	_, err := s.Save(ctx, "alice", "new idea", types.RefinementResult{})
	tester.NoErr(t, err)

	got, err := s.History(ctx, "alice", 5)
	tester.NoErr(t, err)
	tester.Eq(t, len(got), 1)
	_, _ = s.History(ctx, "alice", 10)
	_, _ = s.History(ctx, "bob", 10)
	tester.Eq(t, origin.historyCalls, 5, "only alice's entries should be dropped")
}

func TestCachedStore_FailedSaveKeepsCache(t *testing.T) {
	origin := newCounting()
	s := NewCachedStore(origin, DefaultCacheConfig())
	ctx := context.Background()
	_, _ = s.History(ctx, "alice", 0)

	origin.failSave = true
	_, err := s.Save(ctx, "alice", "x", types.RefinementResult{})
	tester.ErrContains(t, err, "save failed")
	_, _ = s.History(ctx, "alice", 0)
	tester.Eq(t, origin.historyCalls, 1)
}

func TestCachedStore_AppendRevisionInvalidatesRevisions(t *testing.T) {
	origin := newCounting()
	s := NewCachedStore(origin, DefaultCacheConfig())
	ctx := context.Background()

	rec, err := s.Save(ctx, "alice", "idea", types.RefinementResult{})
	tester.NoErr(t, err)
	revs, err := s.Revisions(ctx, rec.InputID)
	tester.NoErr(t, err)
	tester.Eq(t, len(revs), 1)

	_, err = s.AppendRevision(ctx, rec.InputID, types.RefinementResult{})
	tester.NoErr(t, err)
	revs, err = s.Revisions(ctx, rec.InputID)
	tester.NoErr(t, err)
	tester.Eq(t, len(revs), 2)
	tester.Eq(t, origin.revisionsCalls, 2)
}

func TestCachedStore_ReturnsCopies(t *testing.T) {
	s := NewCachedStore(newCounting(), DefaultCacheConfig())
	ctx := context.Background()
	_, _ = s.Save(ctx, "alice", "idea", types.RefinementResult{})

	first, _ := s.History(ctx, "alice", 0)
	first[0].RawText = "mutated"
	second, _ := s.History(ctx, "alice", 0)
	tester.Eq(t, second[0].RawText, "idea")
}

func TestCachedStore_WriteDuringHistoryReadIsNotCached(t *testing.T) {
	origin := newCounting()
	s := NewCachedStore(origin, DefaultCacheConfig())
	ctx := context.Background()
	_, err := s.Save(ctx, "alice", "first", types.RefinementResult{})
	tester.NoErr(t, err)

	origin.afterHistory = func() {
		_, err := s.Save(ctx, "alice", "second", types.RefinementResult{})
		tester.NoErr(t, err)
	}
	stale, err := s.History(ctx, "alice", 0)
	tester.NoErr(t, err)
	tester.Eq(t, len(stale), 1)

	fresh, err := s.History(ctx, "alice", 0)
	tester.NoErr(t, err)
	tester.Eq(t, len(fresh), 2, "the list read before the save must not be served")
	tester.Eq(t, origin.historyCalls, 2)

	_, _ = s.History(ctx, "alice", 0)
	tester.Eq(t, origin.historyCalls, 2, "a read with no concurrent write is cached")
}

func TestCachedStore_WriteDuringRevisionsReadIsNotCached(t *testing.T) {
	origin := newCounting()
	s := NewCachedStore(origin, DefaultCacheConfig())
	ctx := context.Background()
	rec, err := s.Save(ctx, "alice", "idea", types.RefinementResult{})
	tester.NoErr(t, err)

	origin.afterRevisions = func() {
		_, err := s.AppendRevision(ctx, rec.InputID, types.RefinementResult{})
		tester.NoErr(t, err)
	}
	stale, err := s.Revisions(ctx, rec.InputID)
	tester.NoErr(t, err)
	tester.Eq(t, len(stale), 1)

	fresh, err := s.Revisions(ctx, rec.InputID)
	tester.NoErr(t, err)
	tester.Eq(t, len(fresh), 2)
	tester.Eq(t, origin.revisionsCalls, 2)
}
