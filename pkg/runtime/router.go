package runtime

import (
	"context"

	"github.com/adamantine-wallet/gate/pkg/canonicalize"
	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/reasons"
	"github.com/adamantine-wallet/gate/pkg/shield"
)

var signingActions = map[string]bool{
	intent.ActionSign:        true,
	intent.ActionMessageSign: true,
	intent.ActionSend:        true,
	intent.ActionTransfer:    true,
	intent.ActionMint:        true,
	intent.ActionRedeem:      true,
}

// IsSigningAction reports whether action produces a signature and so must
// pass through the gate.
func IsSigningAction(action string) bool {
	return signingActions[canonicalize.NormalizeIdentifier(action)]
}

// ExecuteIntent is the single entry point for wallet intents. Signing
// actions go through ExecuteSigningIntent; anything else is refused with
// UNSUPPORTED_ACTION rather than executed ungated.
func (o *Orchestrator) ExecuteIntent(ctx context.Context, in intent.Intent, riskGate shield.Gate, executor Executor) (Result, error) {
	if !IsSigningAction(in.Action) {
		return Result{}, o.block(ctx, in, reasons.UnsupportedAction, "", in.Action, nil)
	}
	return o.ExecuteSigningIntent(ctx, in, riskGate, executor)
}
