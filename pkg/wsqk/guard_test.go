package wsqk

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/reasons"
)

func TestAuthorize_SendThenReplay(t *testing.T) {
	f := newFixture(t)
	in := sendIntent("w1")
	s, c := f.capabilityFor(t, in)
	assert.Equal(t, f.clock.Now().Add(60*time.Second), s.Deadline)

	auth, err := f.guard.Authorize(context.Background(), c, in)
	require.NoError(t, err)
	assert.True(t, auth.Valid())
	assert.Equal(t, "w1", auth.WalletID())
	assert.Equal(t, c.ID(), auth.CapabilityID())

	f.clock.Advance(10 * time.Second)
	_, err = f.guard.Authorize(context.Background(), c, in)
	assert.Equal(t, reasons.NonceReused, BlockedReason(err))
}

func TestAuthorize_ConcurrentSingleUse(t *testing.T) {
	f := newFixture(t)
	in := sendIntent("w1")
	_, c := f.capabilityFor(t, in)

	const callers = 64
	var (
		wg      sync.WaitGroup
		success atomic.Int32
		reused  atomic.Int32
		start   = make(chan struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.guard.Authorize(context.Background(), c, in)
			switch BlockedReason(err) {
			case "":
				success.Add(1)
			case reasons.NonceReused:
				reused.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(callers-1), reused.Load())
}

func TestAuthorize_Checks(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture, c *Capability) *Capability
		mutate func(in *intent.Intent)
		want   string
	}{
		{
			name:  "nil capability",
			setup: func(*fixture, *Capability) *Capability { return nil },
			want:  reasons.CapabilityMissing,
		},
		{
			name:  "zero capability",
			setup: func(*fixture, *Capability) *Capability { return &Capability{} },
			want:  reasons.CapabilityMissing,
		},
		{
			name: "expired",
			setup: func(f *fixture, c *Capability) *Capability {
				f.clock.Advance(61 * time.Second)
				return c
			},
			want: reasons.TTLExpired,
		},
		{
			name: "expired beats wallet mismatch",
			setup: func(f *fixture, c *Capability) *Capability {
				f.clock.Advance(61 * time.Second)
				return c
			},
			mutate: func(in *intent.Intent) { in.WalletID = "w2" },
			want:   reasons.TTLExpired,
		},
		{
			name:   "wallet mismatch",
			mutate: func(in *intent.Intent) { in.WalletID = "w2" },
			want:   reasons.WalletMismatch,
		},
		{
			name:   "action mismatch",
			mutate: func(in *intent.Intent) { in.Action = "transfer" },
			want:   reasons.ActionMismatch,
		},
		{
			name:   "context mismatch",
			mutate: func(in *intent.Intent) { in.Recipient = "DGB1-attacker" },
			want:   reasons.ContextMismatch,
		},
		{
			name:   "context mismatch on amount",
			mutate: func(in *intent.Intent) { in.Amount = intent.Amount(500) },
			want:   reasons.ContextMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := sendIntent("w1")
			_, c := f.capabilityFor(t, in)
			if tt.setup != nil {
				c = tt.setup(f, c)
			}
			presented := in
			if tt.mutate != nil {
				tt.mutate(&presented)
			}

			_, err := f.guard.Authorize(context.Background(), c, presented)
			assert.Equal(t, tt.want, BlockedReason(err))
			assert.Zero(t, f.ledger.Len(), "a blocked authorization must not burn a nonce")
		})
	}
}

func TestAuthorize_FailedCheckLeavesCapabilityUsable(t *testing.T) {
	f := newFixture(t)
	in := sendIntent("w1")
	_, c := f.capabilityFor(t, in)

	_, err := f.guard.Authorize(context.Background(), c, sendIntent("w2"))
	require.Equal(t, reasons.WalletMismatch, BlockedReason(err))

	_, err = f.guard.Authorize(context.Background(), c, in)
	assert.NoError(t, err)
}

func TestAuthorize_ExpiryBoundaryInclusive(t *testing.T) {
	f := newFixture(t)
	in := sendIntent("w1")
	_, c := f.capabilityFor(t, in)

	f.clock.Advance(60 * time.Second)
	_, err := f.guard.Authorize(context.Background(), c, in)
	assert.NoError(t, err)
}

func TestAuthorize_CapabilityFromAnotherGuardsIssuer(t *testing.T) {
	f := newFixture(t)
	g := newFixture(t)
	in := sendIntent("w1")
	_, c := g.capabilityFor(t, in)

	_, err := f.guard.Authorize(context.Background(), c, in)
	assert.Equal(t, reasons.CapabilityMissing, BlockedReason(err))
}

func TestAuthorize_LedgerFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	in := sendIntent("w1")
	_, c := f.capabilityFor(t, in)

	guard, err := NewGuard(f.issuer, failingLedger{}, WithGuardClock(f.clock))
	require.NoError(t, err)

	_, err = guard.Authorize(context.Background(), c, in)
	assert.Equal(t, reasons.LedgerUnavailable, BlockedReason(err))
	assert.ErrorContains(t, err, "connection refused")
}

func TestAuthorize_CancelledContextConsumesNothing(t *testing.T) {
	f := newFixture(t)
	in := sendIntent("w1")
	_, c := f.capabilityFor(t, in)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.guard.Authorize(ctx, c, in)
	assert.Equal(t, reasons.LedgerUnavailable, BlockedReason(err))

	_, err = f.guard.Authorize(context.Background(), c, in)
	assert.NoError(t, err)
}

func TestAuthorizedExecution_RedeemOnce(t *testing.T) {
	f := newFixture(t)
	in := sendIntent("w1")
	_, c := f.capabilityFor(t, in)
	auth, err := f.guard.Authorize(context.Background(), c, in)
	require.NoError(t, err)

	assert.True(t, auth.Valid())
	assert.False(t, auth.Redeemed())

	require.NoError(t, auth.Redeem())
	assert.True(t, auth.Redeemed())
	assert.False(t, auth.Valid(), "a redeemed token is no longer valid")
	assert.ErrorIs(t, auth.Redeem(), ErrAlreadyRedeemed)

	var zero AuthorizedExecution
	assert.False(t, zero.Valid())
	assert.False(t, zero.Redeemed())
	assert.ErrorIs(t, zero.Redeem(), ErrAlreadyRedeemed)
}

func TestNewGuard_RequiresCollaborators(t *testing.T) {
	issuer, err := NewIssuer()
	require.NoError(t, err)
	_, err = NewGuard(nil, NewMemoryLedger())
	assert.Error(t, err)
	_, err = NewGuard(issuer, nil)
	assert.Error(t, err)
}
