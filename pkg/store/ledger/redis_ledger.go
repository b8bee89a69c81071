package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiryGrace keeps redis keys a little past capability expiry so clock
// skew between gate instances cannot reopen a nonce early.
const expiryGrace = time.Minute

// RedisLedger is a shared NonceLedger using SET NX. Keys expire on their
// own, so Prune is a no-op.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisLedger creates a ledger on an existing client.
func NewRedisLedger(client redis.UniversalClient, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "wsqk:nonce"
	}
	return &RedisLedger{client: client, prefix: prefix, now: time.Now}
}

// NewRedisLedgerFromAddr dials a single redis node.
func NewRedisLedgerFromAddr(addr, password string, db int) *RedisLedger {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisLedger(rdb, "")
}

func (l *RedisLedger) key(walletID, nonce string) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, walletID, nonce)
}

// Consume implements wsqk.NonceLedger.
func (l *RedisLedger) Consume(ctx context.Context, walletID, nonce string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(l.now()) + expiryGrace
	if ttl < expiryGrace {
		ttl = expiryGrace
	}
	ok, err := l.client.SetNX(ctx, l.key(walletID, nonce), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis ledger error: %w", err)
	}
	return ok, nil
}

// Prune implements Ledger. Redis expires keys itself.
func (l *RedisLedger) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

// Ping checks connectivity.
func (l *RedisLedger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the client.
func (l *RedisLedger) Close() error { return l.client.Close() }
