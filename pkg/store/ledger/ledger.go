// Package ledger provides durable wsqk.NonceLedger backends and a factory
// that selects one from configuration.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/adamantine-wallet/gate/pkg/wsqk"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// ErrUnknownBackend is returned by Open for an unrecognised backend name.
var ErrUnknownBackend = errors.New("ledger: unknown backend")

// Ledger is a NonceLedger the process owns and must close.
type Ledger interface {
	wsqk.NonceLedger
	Prune(ctx context.Context, now time.Time) (int64, error)
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend       string
	DSN           string // postgres URL or sqlite path
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Memory adapts wsqk.MemoryLedger to Ledger.
type Memory struct {
	*wsqk.MemoryLedger
}

// NewMemory returns an in-process ledger.
func NewMemory() *Memory { return &Memory{MemoryLedger: wsqk.NewMemoryLedger()} }

// Prune implements Ledger.
func (m *Memory) Prune(_ context.Context, now time.Time) (int64, error) {
	return int64(m.MemoryLedger.Prune(now)), nil
}

// Close implements Ledger.
func (m *Memory) Close() error { return nil }

// Open builds the configured backend and verifies it is reachable.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nonce_ledger", "backend", opts.Backend)

	switch opts.Backend {
	case "", BackendMemory:
		logger.Warn("nonce ledger is in-memory; consumed nonces are lost on restart")
		return NewMemory(), nil

	case BackendRedis:
		l := NewRedisLedgerFromAddr(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err := l.Ping(ctx); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("ledger: redis unreachable at %s: %w", opts.RedisAddr, err)
		}
		logger.Info("nonce ledger ready", "addr", opts.RedisAddr)
		return l, nil

	case BackendPostgres:
		db, err := sql.Open("postgres", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("ledger: open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ledger: postgres unreachable: %w", err)
		}
		l := NewPostgresLedger(db)
		if err := l.Init(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("nonce ledger ready")
		return l, nil

	case BackendSQLite:
		db, err := sql.Open("sqlite", opts.DSN)
		if err != nil {
			return nil, fmt.Errorf("ledger: open sqlite: %w", err)
		}
		// One writer keeps INSERT OR IGNORE serialised within the process.
		db.SetMaxOpenConns(1)
		l, err := NewSQLiteLedger(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("nonce ledger ready", "path", opts.DSN)
		return l, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
}
