package refinement

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	refinementrepo "refinery/internal/gateway/repository/refinement"
	"refinery/internal/metrics"
	"refinery/internal/types"
)

const (
	// DefaultUserID is used when a submission carries no user.
	DefaultUserID = "anonymous"

	DefaultSaveTimeout = 15 * time.Second

	messageRetry      = "failed to process the request, try again"
	messageEmptyInput = "input text is required"
)

// Refiner turns raw text into a validated RefinementResult.
type Refiner interface {
	Refine(ctx context.Context, text string) (types.RefinementResult, error)
}

// SaveOutcome reports the result of a background save.
type SaveOutcome struct {
	Record types.Record
	Err    error
}

// Service is the submission handler behind every surface: HTTP, websocket
// and CLI. It owns the empty-input guard, error kind logging and the
// decoupling of persistence from rendering.
type Service struct {
	oracle      Refiner
	store       refinementrepo.Store
	log         *slog.Logger
	saveTimeout time.Duration
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithSaveTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.saveTimeout = d
		}
	}
}

func New(oracle Refiner, store refinementrepo.Store, opts ...Option) *Service {
	s := &Service{
		oracle:      oracle,
		store:       store,
		log:         slog.Default(),
		saveTimeout: DefaultSaveTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refine validates text and asks the oracle for a refinement. Blank text
// fails with ErrEmptyInput before any remote call.
func (s *Service) Refine(ctx context.Context, text string) (types.RefinementResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		s.fail("refine", types.ErrEmptyInput)
		return types.RefinementResult{}, types.ErrEmptyInput
	}
	started := time.Now()
	res, err := s.oracle.Refine(ctx, text)
	if err != nil {
		s.fail("refine", err, "input_chars", len(text), "elapsed", time.Since(started))
		return types.RefinementResult{}, err
	}
	metrics.ObserveRefinement(nil)
	s.log.Info("refinement generated",
		"epics", len(res.Epics),
		"user_stories", len(res.UserStories),
		"features", len(res.Features),
		"tasks", len(res.Tasks),
		"elapsed", time.Since(started),
	)
	return res, nil
}

// Save persists one result for userID. A storage failure is returned as a
// *types.PersistenceError; the result itself is left untouched.
func (s *Service) Save(ctx context.Context, userID, text string, result types.RefinementResult) (types.Record, error) {
	userID = normalizeUser(userID)
	rec, err := s.store.Save(ctx, userID, strings.TrimSpace(text), result)
	metrics.ObservePersistence("save", err)
	if err != nil {
		perr := &types.PersistenceError{Op: "save", Err: err}
		s.log.Error("refinement not saved", "kind", types.KindPersistence, "user_id", userID, "err", err)
		return types.Record{}, perr
	}
	s.log.Info("refinement saved", "id", rec.ID, "input_id", rec.InputID, "user_id", userID)
	return rec, nil
}

// SaveAsync persists result in the background on a context detached from the
// caller, bounded by the save timeout. The returned channel receives exactly
// one outcome and may be ignored.
func (s *Service) SaveAsync(userID, text string, result types.RefinementResult) <-chan SaveOutcome {
	out := make(chan SaveOutcome, 1)
	go func() {
		defer close(out)
		ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
		defer cancel()
		rec, err := s.Save(ctx, userID, text, result)
		out <- SaveOutcome{Record: rec, Err: err}
	}()
	return out
}

// Submit refines text and, only on success, starts a background save. The
// result is returned as soon as the oracle answers; saved reports the
// persistence outcome independently. On failure saved is nil.
func (s *Service) Submit(ctx context.Context, userID, text string) (result types.RefinementResult, saved <-chan SaveOutcome, err error) {
	result, err = s.Refine(ctx, text)
	if err != nil {
		return types.RefinementResult{}, nil, err
	}
	return result, s.SaveAsync(userID, text, result), nil
}

// Revise re-runs the oracle on the stored text of inputID and appends the
// answer as a new revision.
func (s *Service) Revise(ctx context.Context, inputID string) (types.Record, error) {
	revs, err := s.Revisions(ctx, inputID)
	if err != nil {
		return types.Record{}, err
	}
	res, err := s.Refine(ctx, revs[0].RawText)
	if err != nil {
		return types.Record{}, err
	}
	rec, err := s.store.AppendRevision(ctx, inputID, res)
	metrics.ObservePersistence("append_revision", err)
	if err != nil {
		s.log.Error("revision not saved", "kind", types.KindPersistence, "input_id", inputID, "err", err)
		return types.Record{}, &types.PersistenceError{Op: "append_revision", Err: err}
	}
	s.log.Info("revision saved", "id", rec.ID, "input_id", inputID)
	return rec, nil
}

// History lists the newest records of userID; limit <= 0 means the default.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]types.Record, error) {
	userID = normalizeUser(userID)
	recs, err := s.store.History(ctx, userID, limit)
	metrics.ObservePersistence("history", err)
	if err != nil {
		s.log.Error("history query failed", "kind", types.KindPersistence, "user_id", userID, "err", err)
		return nil, &types.PersistenceError{Op: "history", Err: err}
	}
	return recs, nil
}

func (s *Service) Revisions(ctx context.Context, inputID string) ([]types.Record, error) {
	inputID = strings.TrimSpace(inputID)
	recs, err := s.store.Revisions(ctx, inputID)
	metrics.ObservePersistence("revisions", err)
	if err != nil {
		if !errors.Is(err, refinementrepo.ErrNotFound) {
			s.log.Error("revisions query failed", "kind", types.KindPersistence, "input_id", inputID, "err", err)
		}
		return nil, &types.PersistenceError{Op: "revisions", Err: err}
	}
	return recs, nil
}

func (s *Service) fail(op string, err error, attrs ...any) {
	metrics.ObserveRefinement(err)
	kind := types.KindOf(err)
	args := append([]any{"op", op, "kind", kind, "err", err}, attrs...)
	if kind == types.KindEmptyInput {
		s.log.Info("submission rejected", args...)
		return
	}
	s.log.Error("refinement failed", args...)
}

// UserMessage is the only failure text shown to end users. Empty input gets
// its own notice; every other kind shares one retry message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, types.ErrEmptyInput) {
		return messageEmptyInput
	}
	return messageRetry
}

func normalizeUser(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return DefaultUserID
	}
	return userID
}
