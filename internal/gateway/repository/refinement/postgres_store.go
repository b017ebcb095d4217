package refinement

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"refinery/internal/types"
)

const tableName = "refinement_inputs"

var recordColumns = []string{
	"id", "input_id", "user_id", "raw_text",
	"epics", "user_stories", "features", "tasks",
	"created_at",
}

// PostgresStore keeps one row per revision. The four collections are stored
// as JSONB columns so a row can be read back without the application schema.
type PostgresStore struct {
	db       *sql.DB
	schemaMu sync.Mutex
	schemaOK bool
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("db is nil")
	}
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaOK {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS refinement_inputs (
    id TEXT PRIMARY KEY,
    input_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    raw_text TEXT NOT NULL,
    epics JSONB NOT NULL DEFAULT '[]'::jsonb,
    user_stories JSONB NOT NULL DEFAULT '[]'::jsonb,
    features JSONB NOT NULL DEFAULT '[]'::jsonb,
    tasks JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_refinement_inputs_user_created ON refinement_inputs(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_refinement_inputs_input_id ON refinement_inputs(input_id);
`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	s.schemaOK = true
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, userID, rawText string, result types.RefinementResult) (types.Record, error) {
	if s == nil {
		return types.Record{}, fmt.Errorf("store is nil")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return types.Record{}, fmt.Errorf("user_id is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return types.Record{}, err
	}
	rec := types.Record{ID: newID(), InputID: newID(), UserID: userID, RawText: rawText, Result: result}
	return s.insert(ctx, rec)
}

func (s *PostgresStore) AppendRevision(ctx context.Context, inputID string, result types.RefinementResult) (types.Record, error) {
	if s == nil {
		return types.Record{}, fmt.Errorf("store is nil")
	}
	inputID = strings.TrimSpace(inputID)
	if inputID == "" {
		return types.Record{}, fmt.Errorf("input_id is required")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return types.Record{}, err
	}
	query, args := entsql.Dialect(dialect.Postgres).
		Select("user_id", "raw_text").
		From(entsql.Table(tableName)).
		Where(entsql.EQ("input_id", inputID)).
		OrderBy(entsql.Desc("created_at")).
		Limit(1).
		Query()
	var userID, rawText string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&userID, &rawText)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Record{}, ErrNotFound
	}
	if err != nil {
		return types.Record{}, err
	}
	rec := types.Record{ID: newID(), InputID: inputID, UserID: userID, RawText: rawText, Result: result}
	return s.insert(ctx, rec)
}

func (s *PostgresStore) insert(ctx context.Context, rec types.Record) (types.Record, error) {
	query, args, err := insertQuery(rec)
	if err != nil {
		return types.Record{}, err
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&rec.CreatedAt); err != nil {
		return types.Record{}, err
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]types.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	query, args := historyQuery(strings.TrimSpace(userID), NormalizeLimit(limit))
	return s.queryRecords(ctx, query, args)
}

func (s *PostgresStore) Revisions(ctx context.Context, inputID string) ([]types.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	query, args := revisionsQuery(strings.TrimSpace(inputID))
	out, err := s.queryRecords(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args []any) ([]types.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]types.Record, 0, 16)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func insertQuery(rec types.Record) (string, []any, error) {
	cols, err := encodeCollections(rec.Result)
	if err != nil {
		return "", nil, err
	}
	query, args := entsql.Dialect(dialect.Postgres).
		Insert(tableName).
		Columns("id", "input_id", "user_id", "raw_text", "epics", "user_stories", "features", "tasks").
		Values(rec.ID, rec.InputID, rec.UserID, rec.RawText, cols[0], cols[1], cols[2], cols[3]).
		Returning("created_at").
		Query()
	return query, args, nil
}

func historyQuery(userID string, limit int) (string, []any) {
	return entsql.Dialect(dialect.Postgres).
		Select(recordColumns...).
		From(entsql.Table(tableName)).
		Where(entsql.EQ("user_id", userID)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Limit(limit).
		Query()
}

func revisionsQuery(inputID string) (string, []any) {
	return entsql.Dialect(dialect.Postgres).
		Select(recordColumns...).
		From(entsql.Table(tableName)).
		Where(entsql.EQ("input_id", inputID)).
		OrderBy(entsql.Desc("created_at"), entsql.Desc("id")).
		Query()
}

func encodeCollections(r types.RefinementResult) ([4]string, error) {
	var out [4]string
	for i, v := range []any{nonNil(r.Epics), nonNil(r.UserStories), nonNil(r.Features), nonNil(r.Tasks)} {
		b, err := json.Marshal(v)
		if err != nil {
			return out, fmt.Errorf("encode %s: %w", recordColumns[4+i], err)
		}
		out[i] = string(b)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (types.Record, error) {
	var rec types.Record
	var epics, stories, features, tasks []byte
	if err := row.Scan(&rec.ID, &rec.InputID, &rec.UserID, &rec.RawText, &epics, &stories, &features, &tasks, &rec.CreatedAt); err != nil {
		return types.Record{}, err
	}
	for _, c := range []struct {
		name string
		raw  []byte
		dst  any
	}{
		{"epics", epics, &rec.Result.Epics},
		{"user_stories", stories, &rec.Result.UserStories},
		{"features", features, &rec.Result.Features},
		{"tasks", tasks, &rec.Result.Tasks},
	} {
		if err := json.Unmarshal(c.raw, c.dst); err != nil {
			return types.Record{}, fmt.Errorf("decode %s of %s: %w", c.name, rec.ID, err)
		}
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}
