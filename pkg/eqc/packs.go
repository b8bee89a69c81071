package eqc

import (
	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/reasons"
)

// Built-in pack names.
const (
	PackHighValueStepUp       = "HIGH_VALUE_STEP_UP"
	PackUntrustedDeviceStepUp = "UNTRUSTED_DEVICE_STEP_UP"
)

// DefaultHighValueThreshold is the HighValueStepUp threshold in minor units.
const DefaultHighValueThreshold int64 = 10_000

// HighValueStepUp requires confirm_user_intent for value and issuance
// actions whose amount is at or above Threshold.
type HighValueStepUp struct {
	Threshold int64
}

// NewHighValueStepUp returns the pack with threshold, or the default when
// threshold is not positive.
func NewHighValueStepUp(threshold int64) *HighValueStepUp {
	if threshold <= 0 {
		threshold = DefaultHighValueThreshold
	}
	return &HighValueStepUp{Threshold: threshold}
}

func (p *HighValueStepUp) Name() string    { return PackHighValueStepUp }
func (p *HighValueStepUp) Version() string { return "1.0.0" }

func (p *HighValueStepUp) Evaluate(current Verdict, c *intent.Context) Verdict {
	tier, _ := TierOf(c.Intent.Action)
	if tier != TierValue && tier != TierIssuance {
		return current
	}
	if c.Intent.Amount == nil || *c.Intent.Amount < p.Threshold {
		return current
	}
	return Merge(current, StepUpVerdict(reasons.LargeAmount, reasons.RequireConfirmUserIntent))
}

// UntrustedDeviceStepUp requires verify_device whenever the device is not
// marked trusted.
type UntrustedDeviceStepUp struct{}

func (UntrustedDeviceStepUp) Name() string    { return PackUntrustedDeviceStepUp }
func (UntrustedDeviceStepUp) Version() string { return "1.0.0" }

func (UntrustedDeviceStepUp) Evaluate(current Verdict, c *intent.Context) Verdict {
	if c.Intent.Device.Trusted {
		return current
	}
	return Merge(current, StepUpVerdict(reasons.UntrustedDevice, reasons.RequireVerifyDevice))
}
