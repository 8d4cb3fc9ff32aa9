package usage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// mockRows implements pgx.Rows for testing.
type mockRows struct {
	data   [][]any
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(dest) != len(row) {
		return fmt.Errorf("scan: expected %d columns, got %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int:
			*d = v.(int)
		case *int64:
			*d = v.(int64)
		case *float64:
			*d = v.(float64)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		default:
			return fmt.Errorf("scan: unsupported type at index %d: %T", i, dest[i])
		}
	}
	return nil
}

// mockDB implements the DB interface for testing.
type mockDB struct {
	queryFunc func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc  func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()
	var gotSQL string
	s := NewPostgresStore(&mockDB{execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
		gotSQL = sql
		return pgconn.CommandTag{}, nil
	}})
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if !strings.Contains(gotSQL, "CREATE TABLE IF NOT EXISTS llm_usage") {
		t.Errorf("Migrate executed %q", gotSQL)
	}

	boom := errors.New("boom")
	s = NewPostgresStore(&mockDB{execFunc: func(context.Context, string, ...any) (pgconn.CommandTag, error) {
		return pgconn.CommandTag{}, boom
	}})
	if err := s.Migrate(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Migrate err = %v, want wrapped boom", err)
	}
}

func TestPostgresStore_Insert(t *testing.T) {
	t.Parallel()
	var args []any
	s := NewPostgresStore(&mockDB{execFunc: func(_ context.Context, sql string, a ...any) (pgconn.CommandTag, error) {
		if !strings.Contains(sql, "INSERT INTO llm_usage") {
			t.Errorf("unexpected SQL %q", sql)
		}
		args = a
		return pgconn.CommandTag{}, nil
	}})
	r := Record{
		ID: "r1", RequestID: "req-1", Provider: "openai", Model: "gpt-4o", Operation: "completion",
		InputTokens: 10, OutputTokens: 5, CostUSD: 0.01, Latency: 1500 * time.Millisecond, CreatedAt: t0,
	}
	if err := s.Insert(context.Background(), r); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(args) != 12 {
		t.Fatalf("expected 12 args, got %d", len(args))
	}
	if args[0] != "r1" || args[2] != "openai" || args[9] != int64(1500) {
		t.Errorf("args = %v", args)
	}
}

func TestPostgresStore_List(t *testing.T) {
	t.Parallel()
	rows := &mockRows{data: [][]any{
		{"r2", "", "openai", "gpt-4o", "tools", 3, 4, false, 0.02, int64(250), "", t0.Add(time.Minute)},
		{"r1", "req", "openai", "gpt-4o", "completion", 1, 2, true, 0.01, int64(100), "network_error", t0},
	}}
	var gotArgs []any
	s := NewPostgresStore(&mockDB{queryFunc: func(_ context.Context, _ string, a ...any) (pgx.Rows, error) {
		gotArgs = a
		return rows, nil
	}})

	got, err := s.List(context.Background(), Filter{Provider: "openai"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != "r2" || got[1].Latency != 100*time.Millisecond || !got[1].Failed() {
		t.Errorf("List = %+v", got)
	}
	if gotArgs[0] != "openai" || gotArgs[2] != 100 {
		t.Errorf("query args = %v, want provider filter and default limit", gotArgs)
	}
	if !rows.closed {
		t.Error("rows not closed")
	}
}

func TestPostgresStore_Summarize(t *testing.T) {
	t.Parallel()
	s := NewPostgresStore(&mockDB{queryFunc: func(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
		if !strings.Contains(sql, "GROUP BY provider, model") {
			t.Errorf("unexpected SQL %q", sql)
		}
		return &mockRows{data: [][]any{
			{"openai", "gpt-4o", int64(3), int64(1), int64(150), int64(30), 0.75},
		}}, nil
	}})
	got, err := s.Summarize(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(got) != 1 || got[0].Requests != 3 || got[0].CostUSD != 0.75 {
		t.Errorf("Summarize = %+v", got)
	}
}

func TestPostgresStore_RowsError(t *testing.T) {
	t.Parallel()
	boom := errors.New("broken pipe")
	s := NewPostgresStore(&mockDB{queryFunc: func(context.Context, string, ...any) (pgx.Rows, error) {
		return &mockRows{err: boom}, nil
	}})
	if _, err := s.List(context.Background(), Filter{}); !errors.Is(err, boom) {
		t.Errorf("List err = %v", err)
	}
	if _, err := s.Summarize(context.Background(), Filter{}); !errors.Is(err, boom) {
		t.Errorf("Summarize err = %v", err)
	}
}

// TestPostgresStore_Integration runs against a real database when
// OMNILLM_TEST_POSTGRES_DSN is set.
func TestPostgresStore_Integration(t *testing.T) {
	dsn := os.Getenv("OMNILLM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("OMNILLM_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	defer s.Close()

	provider := "itest-" + time.Now().Format("150405.000000")
	l := NewLedger(s)
	for i := range 3 {
		r := Record{Provider: provider, Model: "m", Operation: "completion", InputTokens: 10, OutputTokens: i}
		if i == 2 {
			r.ErrorKind = "network_error"
		}
		if err := l.Record(ctx, r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	sums, err := l.Summary(ctx, Filter{Provider: provider})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(sums) != 1 || sums[0].Requests != 3 || sums[0].Failures != 1 || sums[0].InputTokens != 30 {
		t.Errorf("Summary = %+v", sums)
	}
	recent, err := l.Recent(ctx, Filter{Provider: provider, Limit: 2})
	if err != nil || len(recent) != 2 {
		t.Errorf("Recent = %+v, %v", recent, err)
	}
}
