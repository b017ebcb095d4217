package refinement

import (
	"context"
	"errors"

	"refinery/internal/types"
)

// Store persists refinement results. A Save creates a new input together with
// its first revision; AppendRevision adds a revision to an existing input.
// Stores never validate domain invariants.
type Store interface {
	Save(ctx context.Context, userID, rawText string, result types.RefinementResult) (types.Record, error)
	AppendRevision(ctx context.Context, inputID string, result types.RefinementResult) (types.Record, error)
	History(ctx context.Context, userID string, limit int) ([]types.Record, error)
	Revisions(ctx context.Context, inputID string) ([]types.Record, error)
}

var ErrNotFound = errors.New("refinement input not found")

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// NormalizeLimit maps a caller supplied limit into [1, MaxHistoryLimit].
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return limit
}
