package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adamantine-wallet/gate/pkg/accounts"
	"github.com/adamantine-wallet/gate/pkg/audit"
	"github.com/adamantine-wallet/gate/pkg/eqc"
	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/shield"
	"github.com/adamantine-wallet/gate/pkg/store"
	"github.com/adamantine-wallet/gate/pkg/wsqk"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func sendIntent() intent.Intent {
	return intent.Intent{
		WalletID:  "w1",
		AccountID: "acct-0",
		Action:    "send",
		Asset:     "DGB",
		Amount:    intent.Amount(5),
		Recipient: "DGB1-recipient",
		Device:    intent.DeviceContext{Type: "mobile", Trusted: true},
		Network:   intent.NetworkContext{Name: "mainnet"},
	}
}

type countingLookup struct {
	next  AccountLookup
	calls atomic.Int32
}

func (c *countingLookup) IsWatchOnly(ctx context.Context, walletID, accountID string) (bool, error) {
	c.calls.Add(1)
	return c.next.IsWatchOnly(ctx, walletID, accountID)
}

type countingEngine struct {
	next  Decider
	calls atomic.Int32
}

func (c *countingEngine) Decide(ic *intent.Context) eqc.Decision {
	c.calls.Add(1)
	return c.next.Decide(ic)
}

type countingBinder struct {
	next  ScopeBinder
	calls atomic.Int32
}

func (c *countingBinder) Bind(d eqc.Decision, in intent.Intent) (wsqk.Scope, error) {
	c.calls.Add(1)
	return c.next.Bind(d, in)
}

// replayingIssuer hands out the first capability it issued on every later
// call, standing in for a caller that kept an old capability around.
type replayingIssuer struct {
	next  CapabilityIssuer
	mu    sync.Mutex
	first *wsqk.Capability
	calls atomic.Int32
}

func (r *replayingIssuer) Issue(s wsqk.Scope) (*wsqk.Capability, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.first != nil {
		return r.first, nil
	}
	c, err := r.next.Issue(s)
	if err != nil {
		return nil, err
	}
	r.first = c
	return c, nil
}

type countingGate struct {
	next  shield.Gate
	calls atomic.Int32
}

func (c *countingGate) Evaluate(ctx context.Context, contextHash string, in intent.Intent) (shield.Result, error) {
	c.calls.Add(1)
	return c.next.Evaluate(ctx, contextHash, in)
}

type recordingExecutor struct {
	mu    sync.Mutex
	auths []*wsqk.AuthorizedExecution
	out   any
	err   error
}

func (r *recordingExecutor) Execute(_ context.Context, a *wsqk.AuthorizedExecution, _ intent.Intent) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auths = append(r.auths, a)
	return r.out, r.err
}

func (r *recordingExecutor) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.auths)
}

type harness struct {
	clock    *manualClock
	accounts *accounts.Store
	lookup   *countingLookup
	engine   *countingEngine
	binder   *countingBinder
	issuer   *replayingIssuer
	ledger   *wsqk.MemoryLedger
	events   *audit.StoreLogger
	gate     *countingGate
	executor *recordingExecutor
	orch     *Orchestrator
}

type harnessConfig struct {
	packs  []eqc.PolicyPack
	replay bool
	gate   shield.Gate
	opts   []Option
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	ctx := context.Background()
	clock := &manualClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}

	accts := accounts.NewStore(store.NewMemoryKV())
	require.NoError(t, accts.SaveAll(ctx,
		accounts.State{WalletID: "w1", AccountID: "acct-0"},
		accounts.State{WalletID: "w1", AccountID: "watch", WatchOnly: true},
	))

	engine, err := eqc.NewEngine(cfg.packs)
	require.NoError(t, err)
	issuer, err := wsqk.NewIssuer(wsqk.WithIssuerClock(clock))
	require.NoError(t, err)
	ledger := wsqk.NewMemoryLedger()
	guard, err := wsqk.NewGuard(issuer, ledger, wsqk.WithGuardClock(clock))
	require.NoError(t, err)

	h := &harness{
		clock:    clock,
		accounts: accts,
		lookup:   &countingLookup{next: accts},
		engine:   &countingEngine{next: engine},
		binder:   &countingBinder{next: wsqk.NewBinder(wsqk.WithBinderClock(clock))},
		issuer:   &replayingIssuer{next: issuer},
		ledger:   ledger,
		events:   audit.NewStoreLogger(store.NewMemoryKV()),
		executor: &recordingExecutor{out: "txid-1"},
	}

	gate := cfg.gate
	if gate == nil {
		gate = shield.Static(shield.Passed())
	}
	h.gate = &countingGate{next: gate}

	var issuerDep CapabilityIssuer = issuer
	if cfg.replay {
		issuerDep = h.issuer
	}

	opts := append([]Option{WithAudit(h.events)}, cfg.opts...)
	h.orch, err = New(Deps{
		Accounts: h.lookup,
		Builder:  intent.NewBuilder(intent.WithClock(clock)),
		Engine:   h.engine,
		Binder:   h.binder,
		Issuer:   issuerDep,
		Guard:    guard,
	}, opts...)
	require.NoError(t, err)
	return h
}

func (h *harness) execute(in intent.Intent) (Result, error) {
	return h.orch.ExecuteSigningIntent(context.Background(), in, h.gate, h.executor)
}

func (h *harness) eventTypes(t *testing.T) []audit.EventType {
	t.Helper()
	events, err := h.events.List(context.Background())
	require.NoError(t, err)
	out := make([]audit.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}
