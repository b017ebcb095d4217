package refinement

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	refinementrepo "refinery/internal/gateway/repository/refinement"
	"refinery/internal/types"
)

type Store = refinementrepo.Store

type CacheConfig struct {
	HistoryTTL        time.Duration
	HistoryMaxEntries int

	RevisionsTTL        time.Duration
	RevisionsMaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		HistoryTTL:          30 * time.Second,
		HistoryMaxEntries:   512,
		RevisionsTTL:        time.Minute,
		RevisionsMaxEntries: 512,
	}
}

type MetricsSnapshot struct {
	HistoryHits     uint64
	HistoryMisses   uint64
	RevisionsHits   uint64
	RevisionsMisses uint64
	OriginReads     uint64
	OriginWrites    uint64
}

type Metrics struct {
	historyHits     atomic.Uint64
	historyMisses   atomic.Uint64
	revisionsHits   atomic.Uint64
	revisionsMisses atomic.Uint64
	originReads     atomic.Uint64
	originWrites    atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		HistoryHits:     m.historyHits.Load(),
		HistoryMisses:   m.historyMisses.Load(),
		RevisionsHits:   m.revisionsHits.Load(),
		RevisionsMisses: m.revisionsMisses.Load(),
		OriginReads:     m.originReads.Load(),
		OriginWrites:    m.originWrites.Load(),
	}
}

// CachedStore is a read-through cache in front of a Store. Writes go to the
// origin first and then drop the cached history of the affected user.
//
// Every invalidation bumps a generation for the user or input. A read only
// fills the cache when the generation it saw before asking the origin is
// still current, so a list fetched concurrently with a write is never cached.
type CachedStore struct {
	origin Store

	history   *expirable.LRU[string, []types.Record]
	revisions *expirable.LRU[string, []types.Record]
	metrics   Metrics

	genMu sync.Mutex
	gens  map[string]uint64
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	def := DefaultCacheConfig()
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = def.HistoryTTL
	}
	if cfg.HistoryMaxEntries <= 0 {
		cfg.HistoryMaxEntries = def.HistoryMaxEntries
	}
	if cfg.RevisionsTTL <= 0 {
		cfg.RevisionsTTL = def.RevisionsTTL
	}
	if cfg.RevisionsMaxEntries <= 0 {
		cfg.RevisionsMaxEntries = def.RevisionsMaxEntries
	}
	return &CachedStore{
		origin:    origin,
		history:   expirable.NewLRU[string, []types.Record](cfg.HistoryMaxEntries, nil, cfg.HistoryTTL),
		revisions: expirable.NewLRU[string, []types.Record](cfg.RevisionsMaxEntries, nil, cfg.RevisionsTTL),
		gens:      make(map[string]uint64),
	}
}

func (s *CachedStore) Save(ctx context.Context, userID, rawText string, result types.RefinementResult) (types.Record, error) {
	s.metrics.originWrites.Add(1)
	rec, err := s.origin.Save(ctx, userID, rawText, result)
	if err != nil {
		return types.Record{}, err
	}
	s.invalidateUser(rec.UserID)
	return rec, nil
}

func (s *CachedStore) AppendRevision(ctx context.Context, inputID string, result types.RefinementResult) (types.Record, error) {
	s.metrics.originWrites.Add(1)
	rec, err := s.origin.AppendRevision(ctx, inputID, result)
	if err != nil {
		return types.Record{}, err
	}
	s.invalidateUser(rec.UserID)
	s.invalidateInput(inputID)
	return rec, nil
}

func (s *CachedStore) History(ctx context.Context, userID string, limit int) ([]types.Record, error) {
	key := historyKey(userID, refinementrepo.NormalizeLimit(limit))
	if recs, ok := s.history.Get(key); ok {
		s.metrics.historyHits.Add(1)
		return cloneRecords(recs), nil
	}
	s.metrics.historyMisses.Add(1)
	s.metrics.originReads.Add(1)
	gk := userGenKey(userID)
	gen := s.generation(gk)
	recs, err := s.origin.History(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	s.addIfCurrent(s.history, key, recs, gk, gen)
	return recs, nil
}

func (s *CachedStore) Revisions(ctx context.Context, inputID string) ([]types.Record, error) {
	key := strings.TrimSpace(inputID)
	if recs, ok := s.revisions.Get(key); ok {
		s.metrics.revisionsHits.Add(1)
		return cloneRecords(recs), nil
	}
	s.metrics.revisionsMisses.Add(1)
	s.metrics.originReads.Add(1)
	gk := inputGenKey(inputID)
	gen := s.generation(gk)
	recs, err := s.origin.Revisions(ctx, inputID)
	if err != nil {
		return nil, err
	}
	s.addIfCurrent(s.revisions, key, recs, gk, gen)
	return recs, nil
}

func (s *CachedStore) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.snapshot()
}

func (s *CachedStore) generation(genKey string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[genKey]
}

func (s *CachedStore) addIfCurrent(lru *expirable.LRU[string, []types.Record], key string, recs []types.Record, genKey string, gen uint64) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens[genKey] != gen {
		return
	}
	lru.Add(key, cloneRecords(recs))
}

func (s *CachedStore) invalidateUser(userID string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gens[userGenKey(userID)]++

	prefix := historyKey(userID, 0)
	prefix = prefix[:strings.LastIndexByte(prefix, '|')+1]
	for _, key := range s.history.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.history.Remove(key)
		}
	}
}

func (s *CachedStore) invalidateInput(inputID string) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.gens[inputGenKey(inputID)]++
	s.revisions.Remove(strings.TrimSpace(inputID))
}

func userGenKey(userID string) string   { return "user|" + strings.TrimSpace(userID) }
func inputGenKey(inputID string) string { return "input|" + strings.TrimSpace(inputID) }

func historyKey(userID string, limit int) string {
	return strings.TrimSpace(userID) + "|" + strconv.Itoa(limit)
}

func cloneRecords(in []types.Record) []types.Record {
	out := make([]types.Record, len(in))
	copy(out, in)
	return out
}
