// Package postgres is the shared-database journal backend, built on a pgx
// connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/echocrafter/internal/journal"
)

var _ journal.Journal = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS echocrafter_outcomes (
    id          BIGSERIAL    PRIMARY KEY,
    kind        TEXT         NOT NULL,
    name        TEXT         NOT NULL DEFAULT '',
    slots       JSONB        NOT NULL DEFAULT '{}',
    text        TEXT         NOT NULL DEFAULT '',
    words       JSONB        NOT NULL DEFAULT '[]',
    duration_ns BIGINT       NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_echocrafter_outcomes_created
    ON echocrafter_outcomes (created_at);
`

// Store is a PostgreSQL-backed journal. All methods are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal postgres: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Record implements [journal.Journal].
func (s *Store) Record(ctx context.Context, e journal.Entry) (journal.Entry, error) {
	if err := e.Validate(); err != nil {
		return e, err
	}
	slots, err := journal.EncodeSlots(e.Slots)
	if err != nil {
		return e, err
	}
	words, err := journal.EncodeWords(e.Words)
	if err != nil {
		return e, err
	}

	const q = `
		INSERT INTO echocrafter_outcomes
		    (kind, name, slots, text, words, duration_ns, created_at)
		VALUES ($1, $2, $3::jsonb, $4, $5::jsonb, $6, $7)
		RETURNING id`

	err = s.pool.QueryRow(ctx, q,
		string(e.Kind),
		e.Name,
		slots,
		e.Text,
		words,
		e.Duration.Nanoseconds(),
		e.Time,
	).Scan(&e.ID)
	if err != nil {
		return e, fmt.Errorf("journal postgres: insert: %w", err)
	}
	return e, nil
}

// Recent implements [journal.Journal].
func (s *Store) Recent(ctx context.Context, n int) ([]journal.Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	const q = `
		SELECT id, kind, name, slots::text, text, words::text, duration_ns, created_at
		FROM   echocrafter_outcomes
		ORDER  BY created_at DESC, id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("journal postgres: query recent: %w", err)
	}
	return pgx.CollectRows(rows, scanEntry)
}

func scanEntry(row pgx.CollectableRow) (journal.Entry, error) {
	var (
		e            journal.Entry
		kind         string
		slots, words string
		durationNS   int64
	)
	if err := row.Scan(&e.ID, &kind, &e.Name, &slots, &e.Text, &words, &durationNS, &e.Time); err != nil {
		return e, fmt.Errorf("journal postgres: scan: %w", err)
	}
	e.Kind = journal.Kind(kind)
	e.Duration = time.Duration(durationNS)
	var err error
	if e.Slots, err = journal.DecodeSlots(slots); err != nil {
		return e, err
	}
	if e.Words, err = journal.DecodeWords(words); err != nil {
		return e, err
	}
	return e, nil
}

// Close implements [journal.Journal].
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
