package eqc

import (
	"strconv"

	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/reasons"
)

// Tier is the action risk tier.
type Tier string

const (
	TierLow      Tier = "low"
	TierValue    Tier = "value"
	TierIssuance Tier = "issuance"
)

var actionTiers = map[string]Tier{
	intent.ActionMessageSign: TierLow,
	intent.ActionSign:        TierLow,
	intent.ActionVote:        TierLow,
	intent.ActionSend:        TierValue,
	intent.ActionTransfer:    TierValue,
	intent.ActionRedeem:      TierValue,
	intent.ActionMint:        TierIssuance,
}

// TierOf returns the risk tier of a normalized action name.
func TierOf(action string) (Tier, bool) {
	t, ok := actionTiers[action]
	return t, ok
}

// Device classes.
const (
	DeviceMobile    = "mobile"
	DeviceHardware  = "hardware"
	DeviceAirgap    = "airgap"
	DeviceDesktop   = "desktop"
	DeviceBrowser   = "browser"
	DeviceExtension = "extension"
)

var knownDevices = map[string]bool{
	DeviceMobile:    true,
	DeviceHardware:  true,
	DeviceAirgap:    true,
	DeviceDesktop:   true,
	DeviceBrowser:   true,
	DeviceExtension: true,
}

// Network names.
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkRegtest = "regtest"
)

var knownNetworks = map[string]bool{
	NetworkMainnet: true,
	NetworkTestnet: true,
	NetworkRegtest: true,
}

// DefaultLargeAmount is the base policy threshold, in minor units, above
// which any value action requires confirm_large_amount.
const DefaultLargeAmount int64 = 1_000_000_000_000

// baseRules evaluates the hard rules and the classifiers. Packs cannot
// loosen anything returned here.
func baseRules(c *intent.Context, largeAmount int64, signals map[string]string) Verdict {
	in := c.Intent
	v := AllowVerdict()

	tier, known := TierOf(in.Action)
	if known {
		signals["tier"] = string(tier)
	} else {
		signals["tier"] = "unknown"
		v = Merge(v, DenyVerdict(reasons.ActionUnknown))
	}

	switch {
	case in.Device.Type == "":
		signals["device"] = "missing"
		v = Merge(v, DenyVerdict(reasons.DeviceUnknown))
	case !knownDevices[in.Device.Type]:
		signals["device"] = "unknown:" + in.Device.Type
		v = Merge(v, DenyVerdict(reasons.DeviceUnknown))
	case in.Device.Type == DeviceBrowser:
		signals["device"] = DeviceBrowser
		v = Merge(v, DenyVerdict(reasons.BrowserContextBlocked))
	case in.Device.Type == DeviceExtension:
		signals["device"] = DeviceExtension
		v = Merge(v, DenyVerdict(reasons.ExtensionContextBlocked))
	default:
		signals["device"] = in.Device.Type
	}

	switch {
	case in.Network.Name == "":
		signals["network"] = "missing"
		v = Merge(v, StepUpVerdict(reasons.NetworkUnknown, reasons.RequireConfirmNetwork))
	case !knownNetworks[in.Network.Name]:
		signals["network"] = "unknown:" + in.Network.Name
		v = Merge(v, StepUpVerdict(reasons.NetworkUnknown, reasons.RequireConfirmNetwork))
	default:
		signals["network"] = in.Network.Name
	}

	if in.Amount == nil {
		signals["amount"] = "none"
	} else {
		signals["amount"] = strconv.FormatInt(*in.Amount, 10)
		if (tier == TierValue || tier == TierIssuance) && *in.Amount >= largeAmount {
			v = Merge(v, StepUpVerdict(reasons.LargeAmount, reasons.RequireConfirmLargeAmount))
		}
	}

	signals["base"] = v.Kind.String()
	return v
}
