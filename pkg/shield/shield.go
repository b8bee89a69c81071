// Package shield adapts the external risk gate. The gate is opaque: it
// answers pass or block for a context hash. Every failure mode of the
// adapter blocks.
package shield

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/reasons"
)

// DefaultTimeout bounds a single risk-gate call.
const DefaultTimeout = 2 * time.Second

// ErrNoGate is returned when no risk gate is configured.
var ErrNoGate = errors.New("shield: no risk gate configured")

// Result is the gate's answer.
type Result struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

// Passed returns a passing result.
func Passed() Result { return Result{Pass: true} }

// Blocked returns a blocking result. An empty reason becomes SHIELD_BLOCKED.
func Blocked(reason string) Result {
	if reason == "" {
		reason = reasons.ShieldBlocked
	}
	return Result{Pass: false, Reason: reason}
}

// Gate is the external risk gate.
type Gate interface {
	Evaluate(ctx context.Context, contextHash string, in intent.Intent) (Result, error)
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, contextHash string, in intent.Intent) (Result, error)

func (f GateFunc) Evaluate(ctx context.Context, contextHash string, in intent.Intent) (Result, error) {
	return f(ctx, contextHash, in)
}

// Static always returns the same result. Useful for local tooling where
// the operator chooses the answer explicitly.
type Static Result

func (s Static) Evaluate(context.Context, string, intent.Intent) (Result, error) {
	return Result(s), nil
}

type timeoutGate struct {
	next    Gate
	timeout time.Duration
}

// WithTimeout bounds g. If g has not answered within d the call returns
// a SHIELD_TIMEOUT block; g keeps running with a cancelled context. A
// non-positive d uses DefaultTimeout.
func WithTimeout(g Gate, d time.Duration) Gate {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutGate{next: g, timeout: d}
}

type outcome struct {
	res Result
	err error
}

func (t *timeoutGate) Evaluate(ctx context.Context, contextHash string, in intent.Intent) (Result, error) {
	if t.next == nil {
		return Blocked(reasons.ShieldBlocked), ErrNoGate
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{res: Blocked(reasons.ShieldBlocked), err: fmt.Errorf("shield: gate panicked: %v", r)}
			}
		}()
		res, err := t.next.Evaluate(ctx, contextHash, in)
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return Blocked(reasons.ShieldTimeout), nil
	}
}
