package refinement

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"refinery/internal/types"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records []types.Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, userID, rawText string, result types.RefinementResult) (types.Record, error) {
	if s == nil {
		return types.Record{}, fmt.Errorf("store is nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return types.Record{}, fmt.Errorf("user_id is required")
	}
	rec := types.Record{
		ID:      newID(),
		InputID: newID(),
		UserID:  userID,
		RawText: rawText,
		Result:  result,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.CreatedAt = s.now().UTC()
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *MemoryStore) AppendRevision(_ context.Context, inputID string, result types.RefinementResult) (types.Record, error) {
	if s == nil {
		return types.Record{}, fmt.Errorf("store is nil")
	}
	inputID = strings.TrimSpace(inputID)
	if inputID == "" {
		return types.Record{}, fmt.Errorf("input_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, prev := range s.records {
		if prev.InputID != inputID {
			continue
		}
		rec := types.Record{
			ID:        newID(),
			InputID:   inputID,
			UserID:    prev.UserID,
			RawText:   prev.RawText,
			Result:    result,
			CreatedAt: s.now().UTC(),
		}
		s.records = append(s.records, rec)
		return rec, nil
	}
	return types.Record{}, ErrNotFound
}

func (s *MemoryStore) History(_ context.Context, userID string, limit int) ([]types.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	userID = strings.TrimSpace(userID)
	limit = NormalizeLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Record, 0, limit)
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].UserID == userID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func (s *MemoryStore) Revisions(_ context.Context, inputID string) ([]types.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	inputID = strings.TrimSpace(inputID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Record, 0, 4)
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].InputID == inputID {
			out = append(out, s.records[i])
		}
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}
