package wsqk

import (
	"context"
	"sync"
	"time"
)

// NonceLedger records consumed nonces per wallet. Consume must check and
// record in one atomic step: it returns true only for the first caller to
// present (walletID, nonce), and an error means nothing was recorded.
// expiresAt lets durable backends expire the entry after the capability can
// no longer be presented.
type NonceLedger interface {
	Consume(ctx context.Context, walletID, nonce string, expiresAt time.Time) (bool, error)
}

// MemoryLedger is a process-local NonceLedger. Consumed nonces do not
// survive a restart, so it is only safe while capability lifetimes are far
// shorter than process uptime.
type MemoryLedger struct {
	mu   sync.Mutex
	used map[string]map[string]time.Time // wallet -> nonce -> expiry
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{used: make(map[string]map[string]time.Time)}
}

// Consume implements NonceLedger.
func (l *MemoryLedger) Consume(ctx context.Context, walletID, nonce string, expiresAt time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	wallet, ok := l.used[walletID]
	if !ok {
		wallet = make(map[string]time.Time)
		l.used[walletID] = wallet
	}
	if _, seen := wallet[nonce]; seen {
		return false, nil
	}
	wallet[nonce] = expiresAt
	return true, nil
}

// Prune drops nonces whose capability expired before now and returns how
// many were removed. An expired capability fails the TTL check before the
// ledger is consulted, so pruning cannot reopen a replay.
func (l *MemoryLedger) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for walletID, wallet := range l.used {
		for nonce, exp := range wallet {
			if exp.Before(now) {
				delete(wallet, nonce)
				removed++
			}
		}
		if len(wallet) == 0 {
			delete(l.used, walletID)
		}
	}
	return removed
}

// Len returns the number of nonces held.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, wallet := range l.used {
		n += len(wallet)
	}
	return n
}
