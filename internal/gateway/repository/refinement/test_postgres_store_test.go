package refinement

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refinery/internal/types"
)

func TestHistoryQuery(t *testing.T) {
	query, args := historyQuery("alice", 10)
	assert.True(t, strings.HasPrefix(query, `SELECT "id", "input_id", "user_id"`), query)
	assert.Contains(t, query, `FROM "refinement_inputs"`)
	assert.Contains(t, query, `WHERE "user_id" = $1`)
	assert.Contains(t, query, `ORDER BY "created_at" DESC, "id" DESC`)
	assert.True(t, strings.HasSuffix(query, "LIMIT 10"), query)
	assert.Equal(t, []any{"alice"}, args)
}

func TestRevisionsQuery(t *testing.T) {
	query, args := revisionsQuery("input-1")
	assert.Contains(t, query, `WHERE "input_id" = $1`)
	assert.NotContains(t, query, "LIMIT")
	assert.Equal(t, []any{"input-1"}, args)
}

func TestInsertQuery_EncodesCollectionsAsJSON(t *testing.T) {
	rec := types.Record{ID: "r1", InputID: "i1", UserID: "alice", RawText: "text", Result: types.RefinementResult{}}
	query, args, err := insertQuery(rec)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(query, `INSERT INTO "refinement_inputs"`), query)
	assert.True(t, strings.HasSuffix(query, `RETURNING "created_at"`), query)
	require.Len(t, args, 8)
	assert.Equal(t, "r1", args[0])
	for _, a := range args[4:] {
		assert.Equal(t, "[]", a, "nil collections are stored as empty arrays")
	}
}

func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("REFINERY_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("REFINERY_TEST_PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := NewPostgresStore(db)
	user := "it-" + newID()
	first, err := s.Save(ctx, user, "track water intake", sampleResult("v1"))
	require.NoError(t, err)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := s.AppendRevision(ctx, first.InputID, sampleResult("v2"))
	require.NoError(t, err)
	assert.Equal(t, user, second.UserID)

	hist, err := s.History(ctx, user, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, sampleResult("v2"), hist[0].Result)

	revs, err := s.Revisions(ctx, first.InputID)
	require.NoError(t, err)
	assert.Len(t, revs, 2)

	empty, err := s.History(ctx, "nobody-"+newID(), 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.AppendRevision(ctx, "missing-"+newID(), sampleResult("x"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_SchemaRetriedAfterCanceledContext(t *testing.T) {
	conn := &stubConnector{}
	s := NewPostgresStore(sql.OpenDB(conn))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.History(canceled, "alice", 10)
	require.Error(t, err)

	hist, err := s.History(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Empty(t, hist)
	assert.Equal(t, 1, conn.execCount())

	_, err = s.History(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, conn.execCount(), "schema is created once")
}

func TestPostgresStore_SchemaRetriedAfterExecError(t *testing.T) {
	conn := &stubConnector{execErrs: []error{errors.New("connection refused")}}
	s := NewPostgresStore(sql.OpenDB(conn))

	_, err := s.Save(context.Background(), "alice", "text", sampleResult("v1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure schema")

	_, err = s.Save(context.Background(), "alice", "text", sampleResult("v1"))
	require.NoError(t, err)
	assert.Equal(t, 2, conn.execCount())
}

func TestPostgresStore_RoundTripOverDriver(t *testing.T) {
	s := NewPostgresStore(sql.OpenDB(&stubConnector{}))
	ctx := context.Background()

	first, err := s.Save(ctx, " alice ", "track water intake", sampleResult("v1"))
	require.NoError(t, err)
	assert.Equal(t, "alice", first.UserID)
	assert.False(t, first.CreatedAt.IsZero())

	second, err := s.AppendRevision(ctx, first.InputID, sampleResult("v2"))
	require.NoError(t, err)
	assert.Equal(t, "alice", second.UserID)
	assert.Equal(t, "track water intake", second.RawText)

	hist, err := s.History(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, second.ID, hist[0].ID)
	assert.Equal(t, sampleResult("v2"), hist[0].Result)
	assert.Equal(t, time.UTC, hist[0].CreatedAt.Location())

	revs, err := s.Revisions(ctx, first.InputID)
	require.NoError(t, err)
	assert.Len(t, revs, 2)

	_, err = s.Revisions(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.AppendRevision(ctx, "missing", sampleResult("v3"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestScanRecord_RejectsMalformedCollections(t *testing.T) {
	conn := &stubConnector{}
	conn.rows = append(conn.rows, []driver.Value{
		"r1", "i1", "alice", "text",
		[]byte("{"), []byte("[]"), []byte("[]"), []byte("[]"),
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	s := NewPostgresStore(sql.OpenDB(conn))

	_, err := s.History(context.Background(), "alice", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode epics of r1")
}

// stubConnector is an in-memory database/sql driver that understands the
// handful of statements PostgresStore issues. Rows are kept newest first.
type stubConnector struct {
	mu       sync.Mutex
	execs    int
	execErrs []error
	rows     [][]driver.Value
	clock    int
}

func (c *stubConnector) Connect(context.Context) (driver.Conn, error) { return &stubConn{c: c}, nil }
func (c *stubConnector) Driver() driver.Driver                        { return stubDriver{} }

func (c *stubConnector) execCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execs
}

type stubDriver struct{}

func (stubDriver) Open(string) (driver.Conn, error) { return nil, errors.New("open through the connector") }

type stubConn struct{ c *stubConnector }

func (sc *stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("prepare not supported") }
func (sc *stubConn) Close() error                        { return nil }
func (sc *stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("tx not supported") }

func (sc *stubConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c := sc.c
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs++
	if !strings.Contains(query, "CREATE TABLE") {
		return nil, errors.New("unexpected exec")
	}
	if len(c.execErrs) > 0 {
		err := c.execErrs[0]
		c.execErrs = c.execErrs[1:]
		return nil, err
	}
	return driver.RowsAffected(0), nil
}

func (sc *stubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c := sc.c
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case strings.HasPrefix(query, "INSERT INTO"):
		c.clock++
		created := time.Date(2025, 6, 1, 12, 0, c.clock, 0, time.FixedZone("JST", 9*60*60))
		row := make([]driver.Value, 0, len(recordColumns))
		for i, a := range args {
			v := a.Value
			if i >= 4 {
				v = []byte(v.(string))
			}
			row = append(row, v)
		}
		row = append(row, created)
		c.rows = append([][]driver.Value{row}, c.rows...)
		return &stubRows{cols: []string{"created_at"}, rows: [][]driver.Value{{created}}}, nil
	case strings.HasPrefix(query, `SELECT "user_id", "raw_text"`):
		for _, r := range c.rows {
			if r[1] == args[0].Value {
				return &stubRows{cols: []string{"user_id", "raw_text"}, rows: [][]driver.Value{{r[2], r[3]}}}, nil
			}
		}
		return &stubRows{cols: []string{"user_id", "raw_text"}}, nil
	case strings.Contains(query, `WHERE "user_id" = $1`):
		return c.filter(2, args[0].Value), nil
	case strings.Contains(query, `WHERE "input_id" = $1`):
		return c.filter(1, args[0].Value), nil
	}
	return nil, errors.New("unexpected query: " + query)
}

func (c *stubConnector) filter(col int, want driver.Value) *stubRows {
	out := &stubRows{cols: recordColumns}
	for _, r := range c.rows {
		if r[col] == want {
			out.rows = append(out.rows, r)
		}
	}
	return out
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	next int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}
