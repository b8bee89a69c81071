package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/adamantine-wallet/gate/pkg/accounts"
	"github.com/adamantine-wallet/gate/pkg/audit"
	"github.com/adamantine-wallet/gate/pkg/eqc"
	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/observability"
	"github.com/adamantine-wallet/gate/pkg/reasons"
	"github.com/adamantine-wallet/gate/pkg/shield"
)

func requireBlocked(t *testing.T, err error, reason string) *ExecutionBlocked {
	t.Helper()
	require.Error(t, err)
	b, ok := AsBlocked(err)
	require.True(t, ok, "expected ExecutionBlocked, got %v", err)
	require.Equal(t, reason, b.Reason, b.Error())
	return b
}

func TestExecuteSigningIntent_AllowRunsExecutorOnce(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	res, err := h.execute(sendIntent())
	require.NoError(t, err)

	assert.Equal(t, "txid-1", res.Output)
	assert.Equal(t, eqc.Allow, res.Decision.Verdict.Kind)
	assert.NotEmpty(t, res.ContextHash)
	require.Equal(t, 1, h.executor.calls())

	auth := h.executor.auths[0]
	assert.True(t, auth.Redeemed())
	assert.False(t, auth.Valid())
	assert.Equal(t, res.CapabilityID, auth.CapabilityID())
	assert.Equal(t, res.ContextHash, auth.ContextHash())
	assert.Equal(t, 1, h.ledger.Len())

	assert.ElementsMatch(t, []audit.EventType{audit.EventDecision, audit.EventExecuted}, h.eventTypes(t))
}

func TestExecuteSigningIntent_BrowserDeniedWithoutBinding(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	in := sendIntent()
	in.Device.Type = "browser"

	_, err := h.execute(in)
	b := requireBlocked(t, err, reasons.EQCDenied)

	assert.Contains(t, b.DenyReasons, reasons.BrowserContextBlocked)
	assert.Empty(t, b.Requirements)
	assert.NotEmpty(t, b.ContextHash)
	assert.Equal(t, int32(1), h.engine.calls.Load())
	assert.Equal(t, int32(0), h.gate.calls.Load())
	assert.Equal(t, int32(0), h.binder.calls.Load())
	assert.Equal(t, 0, h.executor.calls())
	assert.Equal(t, 0, h.ledger.Len())
}

func TestExecuteSigningIntent_ExtensionDenied(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	in := sendIntent()
	in.Device.Type = "extension"

	_, err := h.execute(in)
	b := requireBlocked(t, err, reasons.EQCDenied)
	assert.Contains(t, b.DenyReasons, reasons.ExtensionContextBlocked)
	assert.Equal(t, int32(0), h.binder.calls.Load())
}

func TestExecuteSigningIntent_WatchOnlyBlocksFirst(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	in := sendIntent()
	in.AccountID = "watch"

	_, err := h.execute(in)
	requireBlocked(t, err, reasons.WatchOnly)

	assert.Equal(t, int32(1), h.lookup.calls.Load())
	assert.Equal(t, int32(0), h.engine.calls.Load())
	assert.Equal(t, int32(0), h.gate.calls.Load())
	assert.Equal(t, 0, h.executor.calls())
	assert.Equal(t, []audit.EventType{audit.EventBlocked}, h.eventTypes(t))
}

func TestExecuteSigningIntent_UnknownAccountIsWatchOnly(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	in := sendIntent()
	in.AccountID = "acct-404"

	_, err := h.execute(in)
	b := requireBlocked(t, err, reasons.WatchOnly)
	assert.NotEmpty(t, b.Detail)
	assert.Equal(t, int32(0), h.engine.calls.Load())
}

type erroringLookup struct{}

func (erroringLookup) IsWatchOnly(context.Context, string, string) (bool, error) {
	return false, errors.New("account store offline")
}

func TestExecuteSigningIntent_LookupErrorFailsClosed(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.orch.accounts = erroringLookup{}

	_, err := h.execute(sendIntent())
	b := requireBlocked(t, err, reasons.WatchOnly)
	assert.Equal(t, "account store offline", b.Detail)
}

func TestExecuteSigningIntent_MintStepUpSurfacesRequirements(t *testing.T) {
	h := newHarness(t, harnessConfig{packs: []eqc.PolicyPack{eqc.NewHighValueStepUp(1000)}})
	in := intent.Intent{
		WalletID:  "w1",
		AccountID: "acct-0",
		Action:    "mint",
		Asset:     "DigiDollar",
		Amount:    intent.Amount(10000),
		Device:    intent.DeviceContext{Type: "mobile", Trusted: true},
		Network:   intent.NetworkContext{Name: "mainnet"},
	}

	_, err := h.execute(in)
	b := requireBlocked(t, err, reasons.EQCStepUp)
	assert.Equal(t, []string{reasons.RequireConfirmUserIntent}, b.Requirements)
	assert.Contains(t, b.DenyReasons, reasons.LargeAmount)
	assert.Equal(t, int32(0), h.binder.calls.Load())
}

func TestExecuteSigningIntent_InvalidIntent(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	in := sendIntent()
	in.WalletID = "  "

	_, err := h.execute(in)
	require.ErrorIs(t, err, intent.ErrInvalidIntent)
	_, blocked := AsBlocked(err)
	assert.False(t, blocked)
	assert.Equal(t, int32(0), h.lookup.calls.Load())
}

func TestExecuteSigningIntent_ShieldOutcomes(t *testing.T) {
	slow := shield.GateFunc(func(ctx context.Context, _ string, _ intent.Intent) (shield.Result, error) {
		<-ctx.Done()
		return shield.Passed(), nil
	})

	tests := []struct {
		name    string
		gate    shield.Gate
		nilGate bool
		detail  string
	}{
		{"block", shield.Static(shield.Blocked("SANCTIONED_RECIPIENT")), false, "SANCTIONED_RECIPIENT"},
		{"error", shield.GateFunc(func(context.Context, string, intent.Intent) (shield.Result, error) {
			return shield.Passed(), errors.New("scorer 503")
		}), false, "scorer 503"},
		{"timeout", slow, false, reasons.ShieldTimeout},
		{"missing", nil, true, shield.ErrNoGate.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessConfig{gate: tt.gate, opts: []Option{WithShieldTimeout(20 * time.Millisecond)}})

			var gate shield.Gate = h.gate
			if tt.nilGate {
				gate = nil
			}
			_, err := h.orch.ExecuteSigningIntent(context.Background(), sendIntent(), gate, h.executor)
			b := requireBlocked(t, err, reasons.ShieldBlocked)

			assert.Equal(t, tt.detail, b.Detail)
			assert.Equal(t, int32(0), h.binder.calls.Load())
			assert.Equal(t, 0, h.executor.calls())
		})
	}
}

func TestExecuteSigningIntent_ShieldSeesContextHash(t *testing.T) {
	var seen string
	gate := shield.GateFunc(func(_ context.Context, hash string, _ intent.Intent) (shield.Result, error) {
		seen = hash
		return shield.Passed(), nil
	})
	h := newHarness(t, harnessConfig{gate: gate})

	res, err := h.execute(sendIntent())
	require.NoError(t, err)
	assert.Equal(t, res.ContextHash, seen)
}

func TestExecuteSigningIntent_ExecutorErrorIsSeparateClass(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.executor.err = errors.New("broadcast rejected")

	_, err := h.execute(sendIntent())
	require.ErrorIs(t, err, ErrExecutorFailed)
	assert.ErrorContains(t, err, "broadcast rejected")
	_, blocked := AsBlocked(err)
	assert.False(t, blocked)
	assert.Equal(t, 1, h.executor.calls())
}

func TestExecuteSigningIntent_ReplayedCapabilityRejected(t *testing.T) {
	h := newHarness(t, harnessConfig{replay: true})

	_, err := h.execute(sendIntent())
	require.NoError(t, err)

	_, err = h.execute(sendIntent())
	requireBlocked(t, err, reasons.NonceReused)

	assert.Equal(t, int32(2), h.issuer.calls.Load())
	assert.Equal(t, 1, h.executor.calls())
}

func TestExecuteSigningIntent_WalletSwapRejected(t *testing.T) {
	h := newHarness(t, harnessConfig{replay: true})
	require.NoError(t, h.accounts.Save(context.Background(), accounts.State{WalletID: "w2", AccountID: "acct-0"}))

	_, err := h.execute(sendIntent())
	require.NoError(t, err)

	other := sendIntent()
	other.WalletID = "w2"
	_, err = h.execute(other)
	requireBlocked(t, err, reasons.WalletMismatch)
	assert.Equal(t, 1, h.executor.calls())
}

func TestExecuteSigningIntent_ConcurrentDistinctRequests(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	const n = 32
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.execute(sendIntent())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, n, h.executor.calls())
	assert.Equal(t, n, h.ledger.Len())
}

func TestExecuteSigningIntent_NilExecutor(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	_, err := h.orch.ExecuteSigningIntent(context.Background(), sendIntent(), h.gate, nil)
	require.Error(t, err)
	assert.Equal(t, int32(0), h.lookup.calls.Load())
}

func TestExecuteSigningIntent_MetricsAndTelemetry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider, err := observability.NewWithMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)
	metrics, err := observability.NewGateMetrics(provider)
	require.NoError(t, err)

	h := newHarness(t, harnessConfig{opts: []Option{WithMetrics(metrics), WithTelemetry(provider)}})
	_, err = h.execute(sendIntent())
	require.NoError(t, err)

	in := sendIntent()
	in.Device.Type = "browser"
	_, err = h.execute(in)
	requireBlocked(t, err, reasons.EQCDenied)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	for _, want := range []string{
		"gate.decisions.total",
		"gate.blocks.total",
		"gate.executions.total",
		"gate.shield.duration",
		"gate.requests.total",
		"gate.errors.total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}

func TestExecutionBlocked_Error(t *testing.T) {
	b := &ExecutionBlocked{
		Reason:       reasons.EQCStepUp,
		Requirements: []string{reasons.RequireConfirmUserIntent},
		DenyReasons:  []string{reasons.LargeAmount},
	}
	assert.Equal(t, "execution blocked: EQC_STEP_UP reasons=LARGE_AMOUNT requires=confirm_user_intent", b.Error())

	wrapped := errors.Join(errors.New("outer"), b)
	got, ok := AsBlocked(wrapped)
	require.True(t, ok)
	assert.Same(t, b, got)

}
