package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the llm_usage table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS llm_usage (
    id            TEXT PRIMARY KEY,
    request_id    TEXT NOT NULL DEFAULT '',
    provider      TEXT NOT NULL,
    model         TEXT NOT NULL DEFAULT '',
    operation     TEXT NOT NULL,
    input_tokens  INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    estimated     BOOLEAN NOT NULL DEFAULT false,
    cost_usd      DOUBLE PRECISION NOT NULL DEFAULT 0,
    latency_ms    BIGINT NOT NULL DEFAULT 0,
    error_kind    TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_llm_usage_provider_created ON llm_usage(provider, created_at);
CREATE INDEX IF NOT EXISTS idx_llm_usage_created ON llm_usage(created_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db    DB
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over db. The caller is
// responsible for calling [PostgresStore.Migrate] and for closing db.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db, close: func() {}}
}

// OpenPostgres connects a pool to dsn, verifies it and applies [Schema].
// Close the returned store to release the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("usage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("usage: ping: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool opened by [OpenPostgres]. It is a no-op for
// stores built with [NewPostgresStore].
func (s *PostgresStore) Close() { s.close() }

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("usage: migrate: %w", err)
	}
	return nil
}

// Insert implements [Store].
func (s *PostgresStore) Insert(ctx context.Context, r Record) error {
	const query = `
		INSERT INTO llm_usage (
			id, request_id, provider, model, operation,
			input_tokens, output_tokens, estimated, cost_usd, latency_ms,
			error_kind, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := s.db.Exec(ctx, query,
		r.ID, r.RequestID, r.Provider, r.Model, r.Operation,
		r.InputTokens, r.OutputTokens, r.Estimated, r.CostUSD, r.Latency.Milliseconds(),
		r.ErrorKind, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("usage: insert: %w", err)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Record, error) {
	const query = `
		SELECT id, request_id, provider, model, operation,
		       input_tokens, output_tokens, estimated, cost_usd, latency_ms,
		       error_kind, created_at
		FROM llm_usage
		WHERE ($1 = '' OR provider = $1) AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := s.db.Query(ctx, query, f.Provider, f.Since, f.limit())
	if err != nil {
		return nil, fmt.Errorf("usage: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r         Record
			latencyMS int64
		)
		if err := rows.Scan(
			&r.ID, &r.RequestID, &r.Provider, &r.Model, &r.Operation,
			&r.InputTokens, &r.OutputTokens, &r.Estimated, &r.CostUSD, &latencyMS,
			&r.ErrorKind, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("usage: list scan: %w", err)
		}
		r.Latency = time.Duration(latencyMS) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usage: list: %w", err)
	}
	return out, nil
}

// Summarize implements [Store].
func (s *PostgresStore) Summarize(ctx context.Context, f Filter) ([]Summary, error) {
	const query = `
		SELECT provider, model,
		       count(*),
		       count(*) FILTER (WHERE error_kind <> ''),
		       COALESCE(sum(input_tokens), 0),
		       COALESCE(sum(output_tokens), 0),
		       COALESCE(sum(cost_usd), 0)
		FROM llm_usage
		WHERE ($1 = '' OR provider = $1) AND created_at >= $2
		GROUP BY provider, model
		ORDER BY provider, model`

	rows, err := s.db.Query(ctx, query, f.Provider, f.Since)
	if err != nil {
		return nil, fmt.Errorf("usage: summarize: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(
			&sum.Provider, &sum.Model, &sum.Requests, &sum.Failures,
			&sum.InputTokens, &sum.OutputTokens, &sum.CostUSD,
		); err != nil {
			return nil, fmt.Errorf("usage: summarize scan: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usage: summarize: %w", err)
	}
	return out, nil
}
