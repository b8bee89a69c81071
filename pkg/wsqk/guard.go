package wsqk

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/reasons"
)

// ErrAlreadyRedeemed is returned by a second Redeem on the same
// AuthorizedExecution.
var ErrAlreadyRedeemed = errors.New("wsqk: authorized execution already redeemed")

// Blocked is the error Authorize returns. Reason is one of the stable
// reason codes.
type Blocked struct {
	Reason string
	Err    error
}

func (b *Blocked) Error() string {
	if b.Err != nil {
		return fmt.Sprintf("wsqk: execution blocked: %s: %v", b.Reason, b.Err)
	}
	return "wsqk: execution blocked: " + b.Reason
}

func (b *Blocked) Unwrap() error { return b.Err }

// BlockedReason extracts the reason code from err, or "".
func BlockedReason(err error) string {
	var b *Blocked
	if errors.As(err, &b) {
		return b.Reason
	}
	return ""
}

// AuthorizedExecution is the one-time token handed to the downstream
// executor. Redeem succeeds exactly once.
type AuthorizedExecution struct {
	capabilityID string
	walletID     string
	action       string
	contextHash  string
	nonce        string
	authorizedAt time.Time
	redeemed     atomic.Bool
}

func (a *AuthorizedExecution) CapabilityID() string    { return a.capabilityID }
func (a *AuthorizedExecution) WalletID() string        { return a.walletID }
func (a *AuthorizedExecution) Action() string          { return a.action }
func (a *AuthorizedExecution) ContextHash() string     { return a.contextHash }
func (a *AuthorizedExecution) AuthorizedAt() time.Time { return a.authorizedAt }

// Redeem marks the token used.
func (a *AuthorizedExecution) Redeem() error {
	if a == nil || a.capabilityID == "" {
		return fmt.Errorf("%w: zero value", ErrAlreadyRedeemed)
	}
	if !a.redeemed.CompareAndSwap(false, true) {
		return ErrAlreadyRedeemed
	}
	return nil
}

// Valid reports whether the token was issued by a Guard and can still be
// redeemed. It is false once Redeem has succeeded.
func (a *AuthorizedExecution) Valid() bool {
	return a != nil && a.capabilityID != "" && a.nonce != "" && !a.redeemed.Load()
}

// Redeemed reports whether Redeem has succeeded. Redeem refuses tokens a
// Guard did not issue, so a redeemed token is always a genuine one.
// Executors receive tokens already redeemed and check this.
func (a *AuthorizedExecution) Redeemed() bool {
	return a != nil && a.redeemed.Load()
}

// Guard consumes capabilities.
type Guard struct {
	issuer *Issuer
	ledger NonceLedger
	clock  intent.Clock
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardClock sets the authority clock.
func WithGuardClock(c intent.Clock) GuardOption {
	return func(g *Guard) {
		if c != nil {
			g.clock = c
		}
	}
}

// NewGuard creates a Guard accepting capabilities from issuer and burning
// nonces in ledger.
func NewGuard(issuer *Issuer, ledger NonceLedger, opts ...GuardOption) (*Guard, error) {
	if issuer == nil {
		return nil, errors.New("wsqk: guard requires an issuer")
	}
	if ledger == nil {
		return nil, errors.New("wsqk: guard requires a nonce ledger")
	}
	g := &Guard{issuer: issuer, ledger: ledger, clock: wallClock{}}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authorize checks c against in and burns its nonce. Checks run in a fixed
// order and stop at the first failure; only the final step touches the
// ledger.
func (g *Guard) Authorize(ctx context.Context, c *Capability, in intent.Intent) (*AuthorizedExecution, error) {
	if !g.issuer.Verify(c) {
		return nil, &Blocked{Reason: reasons.CapabilityMissing}
	}

	now := g.clock.Now()
	if now.After(c.expiry) {
		return nil, &Blocked{Reason: reasons.TTLExpired}
	}

	n := in.Normalized()
	s := c.scope
	if n.WalletID != s.WalletID {
		return nil, &Blocked{Reason: reasons.WalletMismatch}
	}
	if n.Action != s.Action {
		return nil, &Blocked{Reason: reasons.ActionMismatch}
	}

	h, err := intent.Hash(in, s.TimeBucket)
	if err != nil {
		return nil, &Blocked{Reason: reasons.ContextMismatch, Err: err}
	}
	if h != s.ContextHash {
		return nil, &Blocked{Reason: reasons.ContextMismatch}
	}

	consumed, err := g.ledger.Consume(ctx, s.WalletID, s.Nonce, c.expiry)
	if err != nil {
		return nil, &Blocked{Reason: reasons.LedgerUnavailable, Err: err}
	}
	if !consumed {
		return nil, &Blocked{Reason: reasons.NonceReused}
	}

	return &AuthorizedExecution{
		capabilityID: c.id,
		walletID:     s.WalletID,
		action:       s.Action,
		contextHash:  s.ContextHash,
		nonce:        s.Nonce,
		authorizedAt: now,
	}, nil
}
