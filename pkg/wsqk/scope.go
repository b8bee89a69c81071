// Package wsqk turns an ALLOW decision into single-use execution
// authority: a Scope bound to the decision's context hash, a sealed
// Capability for that scope, and a Guard that consumes it exactly once.
package wsqk

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/adamantine-wallet/gate/pkg/canonicalize"
	"github.com/adamantine-wallet/gate/pkg/eqc"
	"github.com/adamantine-wallet/gate/pkg/intent"
)

// ErrScopeBindingDenied is returned when a scope is requested without an
// ALLOW decision for the same intent. Reason code: SCOPE_BINDING_DENIED.
var ErrScopeBindingDenied = errors.New("wsqk: scope binding denied")

// DefaultScopeTTL is the fixed policy TTL applied to every scope.
const DefaultScopeTTL = 60 * time.Second

const nonceBytes = 32

// Scope is the authority a single ALLOW decision grants.
type Scope struct {
	WalletID    string    `json:"wallet_id"`
	Action      string    `json:"action"`
	ContextHash string    `json:"context_hash"`
	TimeBucket  int64     `json:"time_bucket"`
	NotBefore   time.Time `json:"not_before"`
	Deadline    time.Time `json:"ttl_deadline"`
	Nonce       string    `json:"nonce"`
}

// Hash returns the content hash a Capability is bound to.
func (s Scope) Hash() (string, error) {
	h, err := canonicalize.CanonicalHash(struct {
		WalletID    string `json:"wallet_id"`
		Action      string `json:"action"`
		ContextHash string `json:"context_hash"`
		TimeBucket  int64  `json:"time_bucket"`
		NotBefore   int64  `json:"not_before_ms"`
		Deadline    int64  `json:"ttl_deadline_ms"`
		Nonce       string `json:"nonce"`
	}{
		WalletID:    s.WalletID,
		Action:      s.Action,
		ContextHash: s.ContextHash,
		TimeBucket:  s.TimeBucket,
		NotBefore:   s.NotBefore.UnixMilli(),
		Deadline:    s.Deadline.UnixMilli(),
		Nonce:       s.Nonce,
	})
	if err != nil {
		return "", fmt.Errorf("wsqk: scope hash: %w", err)
	}
	return h, nil
}

// Expired reports whether now is past the scope deadline.
func (s Scope) Expired(now time.Time) bool { return now.After(s.Deadline) }

// Binder derives scopes from decisions.
type Binder struct {
	clock  intent.Clock
	ttl    time.Duration
	random io.Reader
}

// BinderOption configures a Binder.
type BinderOption func(*Binder)

// WithBinderClock sets the authority clock.
func WithBinderClock(c intent.Clock) BinderOption {
	return func(b *Binder) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithScopeTTL overrides DefaultScopeTTL. Non-positive values are ignored.
func WithScopeTTL(ttl time.Duration) BinderOption {
	return func(b *Binder) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithNonceSource replaces crypto/rand as the nonce source. Tests only.
func WithNonceSource(r io.Reader) BinderOption {
	return func(b *Binder) {
		if r != nil {
			b.random = r
		}
	}
}

// NewBinder creates a Binder.
func NewBinder(opts ...BinderOption) *Binder {
	b := &Binder{clock: wallClock{}, ttl: DefaultScopeTTL, random: rand.Reader}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TTL returns the policy TTL.
func (b *Binder) TTL() time.Duration { return b.ttl }

// Bind returns a fresh scope for in. The decision must be ALLOW and its
// context hash must match the hash recomputed from in under the decision's
// time bucket, so a decision for one intent cannot authorize another.
func (b *Binder) Bind(d eqc.Decision, in intent.Intent) (Scope, error) {
	if !d.Allowed() {
		return Scope{}, fmt.Errorf("%w: verdict is %s", ErrScopeBindingDenied, d.Verdict.Kind)
	}
	if d.ContextHash == "" {
		return Scope{}, fmt.Errorf("%w: decision has no context hash", ErrScopeBindingDenied)
	}

	h, err := intent.Hash(in, d.TimeBucket)
	if err != nil {
		return Scope{}, fmt.Errorf("%w: %v", ErrScopeBindingDenied, err)
	}
	if h != d.ContextHash {
		return Scope{}, fmt.Errorf("%w: decision context hash does not match intent", ErrScopeBindingDenied)
	}

	nonce, err := b.nonce()
	if err != nil {
		return Scope{}, fmt.Errorf("%w: %v", ErrScopeBindingDenied, err)
	}

	n := in.Normalized()
	now := b.clock.Now()
	return Scope{
		WalletID:    n.WalletID,
		Action:      n.Action,
		ContextHash: h,
		TimeBucket:  d.TimeBucket,
		NotBefore:   now,
		Deadline:    now.Add(b.ttl),
		Nonce:       nonce,
	}, nil
}

func (b *Binder) nonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := io.ReadFull(b.random, buf); err != nil {
		return "", fmt.Errorf("nonce generation failed: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }
