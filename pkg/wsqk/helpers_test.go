package wsqk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adamantine-wallet/gate/pkg/eqc"
	"github.com/adamantine-wallet/gate/pkg/intent"
)

// manualClock is a settable clock shared by builder, binder, issuer and guard.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func sendIntent(wallet string) intent.Intent {
	return intent.Intent{
		WalletID:  wallet,
		AccountID: "acct-0",
		Action:    "send",
		Asset:     "DGB",
		Amount:    intent.Amount(5),
		Recipient: "DGB1-recipient",
		Device:    intent.DeviceContext{Type: "mobile", Trusted: true},
		Network:   intent.NetworkContext{Name: "mainnet"},
	}
}

type fixture struct {
	clock   *manualClock
	engine  *eqc.Engine
	builder *intent.Builder
	binder  *Binder
	issuer  *Issuer
	ledger  *MemoryLedger
	guard   *Guard
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newManualClock()
	engine, err := eqc.NewEngine(nil)
	require.NoError(t, err)
	issuer, err := NewIssuer(WithIssuerClock(clock))
	require.NoError(t, err)
	ledger := NewMemoryLedger()
	guard, err := NewGuard(issuer, ledger, WithGuardClock(clock))
	require.NoError(t, err)

	return &fixture{
		clock:   clock,
		engine:  engine,
		builder: intent.NewBuilder(intent.WithClock(clock)),
		binder:  NewBinder(WithBinderClock(clock)),
		issuer:  issuer,
		ledger:  ledger,
		guard:   guard,
	}
}

func (f *fixture) decide(t *testing.T, in intent.Intent) eqc.Decision {
	t.Helper()
	c, err := f.builder.Build(in)
	require.NoError(t, err)
	return f.engine.Decide(c)
}

// capabilityFor runs decide, bind and issue for in.
func (f *fixture) capabilityFor(t *testing.T, in intent.Intent) (Scope, *Capability) {
	t.Helper()
	d := f.decide(t, in)
	require.True(t, d.Allowed(), "verdict %v", d.Verdict)
	s, err := f.binder.Bind(d, in)
	require.NoError(t, err)
	c, err := f.issuer.Issue(s)
	require.NoError(t, err)
	return s, c
}

// failingLedger always errors.
type failingLedger struct{}

func (failingLedger) Consume(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("connection refused")
}
