// Package sqlite is the single-file journal backend, built on the pure-Go
// modernc.org/sqlite driver with write-ahead logging.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/echocrafter/internal/journal"
)

var _ journal.Journal = (*Store)(nil)

const ddl = `
CREATE TABLE IF NOT EXISTS outcomes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    kind        TEXT    NOT NULL,
    name        TEXT    NOT NULL DEFAULT '',
    slots       TEXT    NOT NULL DEFAULT '{}',
    text        TEXT    NOT NULL DEFAULT '',
    words       TEXT    NOT NULL DEFAULT '[]',
    duration_ns INTEGER NOT NULL DEFAULT 0,
    created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_created ON outcomes(created_at);
`

// Store is a SQLite-backed journal.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. The parent directory is created when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("journal sqlite: path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal sqlite: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal sqlite: open: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
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

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes(kind, name, slots, text, words, duration_ns, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.Name, slots, e.Text, words, e.Duration.Nanoseconds(), e.Time.UTC())
	if err != nil {
		return e, fmt.Errorf("journal sqlite: insert: %w", err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return e, fmt.Errorf("journal sqlite: last insert id: %w", err)
	}
	return e, nil
}

// Recent implements [journal.Journal].
func (s *Store) Recent(ctx context.Context, n int) ([]journal.Entry, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, name, slots, text, words, duration_ns, created_at
		 FROM outcomes ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal sqlite: query recent: %w", err)
	}
	defer rows.Close()

	var out []journal.Entry
	for rows.Next() {
		var (
			e            journal.Entry
			kind         string
			slots, words string
			durationNS   int64
			created      time.Time
		)
		if err := rows.Scan(&e.ID, &kind, &e.Name, &slots, &e.Text, &words, &durationNS, &created); err != nil {
			return nil, fmt.Errorf("journal sqlite: scan: %w", err)
		}
		e.Kind = journal.Kind(kind)
		e.Duration = time.Duration(durationNS)
		e.Time = created
		if e.Slots, err = journal.DecodeSlots(slots); err != nil {
			return nil, err
		}
		if e.Words, err = journal.DecodeWords(words); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal sqlite: rows: %w", err)
	}
	return out, nil
}

// Close implements [journal.Journal].
func (s *Store) Close() error { return s.db.Close() }
