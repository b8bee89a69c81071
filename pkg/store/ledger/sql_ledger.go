package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	name    string
	schema  string
	consume string
	prune   string
}

var postgresDialect = dialect{
	name: "postgres",
	schema: `
CREATE TABLE IF NOT EXISTS consumed_nonces (
	wallet_id TEXT NOT NULL,
	nonce TEXT NOT NULL,
	expires_at_ms BIGINT NOT NULL,
	consumed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (wallet_id, nonce)
);
CREATE INDEX IF NOT EXISTS consumed_nonces_expiry ON consumed_nonces (expires_at_ms);`,
	consume: `INSERT INTO consumed_nonces (wallet_id, nonce, expires_at_ms) VALUES ($1, $2, $3) ON CONFLICT (wallet_id, nonce) DO NOTHING`,
	prune:   `DELETE FROM consumed_nonces WHERE expires_at_ms < $1`,
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
CREATE TABLE IF NOT EXISTS consumed_nonces (
	wallet_id TEXT NOT NULL,
	nonce TEXT NOT NULL,
	expires_at_ms INTEGER NOT NULL,
	consumed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (wallet_id, nonce)
);
CREATE INDEX IF NOT EXISTS consumed_nonces_expiry ON consumed_nonces (expires_at_ms);`,
	consume: `INSERT OR IGNORE INTO consumed_nonces (wallet_id, nonce, expires_at_ms) VALUES (?, ?, ?)`,
	prune:   `DELETE FROM consumed_nonces WHERE expires_at_ms < ?`,
}

// SQLLedger is a durable NonceLedger over database/sql. The primary key on
// (wallet_id, nonce) makes the insert itself the compare-and-set: exactly
// one concurrent insert affects a row.
type SQLLedger struct {
	db      *sql.DB
	dialect dialect
}

// NewPostgresLedger wraps a lib/pq database. Call Init before first use.
func NewPostgresLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db, dialect: postgresDialect}
}

// NewSQLiteLedger wraps a modernc sqlite database and creates the table.
func NewSQLiteLedger(db *sql.DB) (*SQLLedger, error) {
	l := &SQLLedger{db: db, dialect: sqliteDialect}
	if err := l.Init(context.Background()); err != nil {
		return nil, err
	}
	return l, nil
}

// Init creates the nonce table if it does not exist.
func (l *SQLLedger) Init(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, l.dialect.schema); err != nil {
		return fmt.Errorf("%s ledger: migrate: %w", l.dialect.name, err)
	}
	return nil
}

// Consume implements wsqk.NonceLedger.
func (l *SQLLedger) Consume(ctx context.Context, walletID, nonce string, expiresAt time.Time) (bool, error) {
	res, err := l.db.ExecContext(ctx, l.dialect.consume, walletID, nonce, expiresAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("%s ledger: consume: %w", l.dialect.name, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s ledger: failed to check rows affected: %w", l.dialect.name, err)
	}
	return rows == 1, nil
}

// Prune deletes nonces whose capability expired before now.
func (l *SQLLedger) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, l.dialect.prune, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("%s ledger: prune: %w", l.dialect.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s ledger: failed to check rows affected: %w", l.dialect.name, err)
	}
	return n, nil
}

// Close closes the underlying database.
func (l *SQLLedger) Close() error { return l.db.Close() }
