package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const upsertKV = `INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`

// SQLiteKV stores values in a single sqlite table.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV wraps db and creates the table if needed.
func NewSQLiteKV(db *sql.DB) (*SQLiteKV, error) {
	s := &SQLiteKV{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteKV opens path with the modernc driver.
func OpenSQLiteKV(path string) (*SQLiteKV, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteKV(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteKV) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS kv (
        k TEXT PRIMARY KEY,
        v BLOB NOT NULL
    );`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %q: %w", key, err)
	}
	return v, nil
}

func (s *SQLiteKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, upsertKV, key, nonNil(value))
	if err != nil {
		return fmt.Errorf("store: put %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("store: delete %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	// Compare as bytes: substr on TEXT counts characters, len counts bytes.
	rows, err := s.db.QueryContext(ctx,
		`SELECT k FROM kv WHERE substr(CAST(k AS BLOB), 1, ?) = CAST(? AS BLOB) ORDER BY k`,
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("store: keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Batch applies every write in one transaction.
func (s *SQLiteKV) Batch(ctx context.Context, fn func(Batch) error) error {
	b := &opBatch{}
	if err := fn(b); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, o := range b.ops {
		if o.delete {
			_, err = tx.ExecContext(ctx, `DELETE FROM kv WHERE k = ?`, o.key)
		} else {
			_, err = tx.ExecContext(ctx, upsertKV, o.key, nonNil(o.value))
		}
		if err != nil {
			return fmt.Errorf("store: batch %q: %w", o.key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit batch: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteKV) Close() error { return s.db.Close() }

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
