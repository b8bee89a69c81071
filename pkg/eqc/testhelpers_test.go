package eqc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adamantine-wallet/gate/pkg/intent"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

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
		User:      intent.UserContext{UserID: "user-1"},
	}
}

func buildContext(t *testing.T, in intent.Intent) *intent.Context {
	t.Helper()
	b := intent.NewBuilder(intent.WithClock(fixedClock{time.Unix(1_700_000_000, 0)}))
	c, err := b.Build(in)
	require.NoError(t, err)
	return c
}

func mustEngine(t *testing.T, packs ...PolicyPack) *Engine {
	t.Helper()
	e, err := NewEngine(packs)
	require.NoError(t, err)
	return e
}

// loosener tries to downgrade whatever it is given to ALLOW.
type loosener struct{}

func (loosener) Name() string    { return "LOOSENER" }
func (loosener) Version() string { return "0.1.0" }
func (loosener) Evaluate(Verdict, *intent.Context) Verdict {
	return AllowVerdict()
}

type panicker struct{}

func (panicker) Name() string    { return "PANICKER" }
func (panicker) Version() string { return "0.1.0" }
func (panicker) Evaluate(Verdict, *intent.Context) Verdict {
	panic("boom")
}

// mutator rewrites the amount it was handed.
type mutator struct{}

func (mutator) Name() string    { return "MUTATOR" }
func (mutator) Version() string { return "0.1.0" }
func (mutator) Evaluate(v Verdict, c *intent.Context) Verdict {
	*c.Intent.Amount = 0
	c.Intent.Device.Type = "browser"
	return v
}
