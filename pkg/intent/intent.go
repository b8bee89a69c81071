// Package intent defines the caller's request to perform a sensitive wallet
// action and builds the canonical, hashed Context that binds the policy
// decision, the execution scope, and the final authorization together.
package intent

import (
	"errors"
	"fmt"

	"github.com/adamantine-wallet/gate/pkg/canonicalize"
)

// ErrInvalidIntent is returned for malformed or incomplete intents.
// Reason code: INVALID_INTENT.
var ErrInvalidIntent = errors.New("intent: invalid intent")

// Action names understood by the gate.
const (
	ActionSign        = "sign"
	ActionMessageSign = "message_sign"
	ActionSend        = "send"
	ActionTransfer    = "transfer"
	ActionMint        = "mint"
	ActionRedeem      = "redeem"
	ActionVote        = "vote"
)

// DeviceContext describes the device the request originates from.
type DeviceContext struct {
	ID         string `json:"id,omitempty"`
	Type       string `json:"type"` // mobile, hardware, airgap, desktop, browser, extension
	OS         string `json:"os,omitempty"`
	Trusted    bool   `json:"trusted"`
	AppVersion string `json:"app_version,omitempty"`
}

// NetworkContext identifies the chain network and node the wallet talks to.
type NetworkContext struct {
	Name        string `json:"name"` // mainnet, testnet
	NodeType    string `json:"node_type,omitempty"`
	NodeTrusted bool   `json:"node_trusted"`
	PeerCount   int64  `json:"peer_count,omitempty"`
	FeeRate     int64  `json:"fee_rate,omitempty"`
}

// UserContext identifies the user and the local authenticators available.
type UserContext struct {
	UserID             string `json:"user_id,omitempty"`
	BiometricAvailable bool   `json:"biometric_available"`
	PINSet             bool   `json:"pin_set"`
}

// Intent is the caller's request. Treat it as immutable once created; the
// Builder works on a normalized copy.
type Intent struct {
	WalletID  string         `json:"wallet_id"`
	AccountID string         `json:"account_id"`
	Action    string         `json:"action"`
	Asset     string         `json:"asset"`
	Amount    *int64         `json:"amount,omitempty"` // minor units
	Recipient string         `json:"recipient,omitempty"`
	Device    DeviceContext  `json:"device"`
	Network   NetworkContext `json:"network"`
	User      UserContext    `json:"user"`

	// Note is free text for the user's own records. It never participates
	// in the context hash.
	Note string `json:"note,omitempty"`
}

// Amount returns a pointer to v, for building intents inline.
func Amount(v int64) *int64 { return &v }

// IsValueAction reports whether the action moves or creates value and
// therefore requires an amount.
func IsValueAction(action string) bool {
	switch canonicalize.NormalizeIdentifier(action) {
	case ActionSend, ActionTransfer, ActionMint, ActionRedeem:
		return true
	}
	return false
}

// requiresRecipient reports whether the action pays out to an address.
func requiresRecipient(action string) bool {
	switch action {
	case ActionSend, ActionTransfer:
		return true
	}
	return false
}

// Normalized returns a copy with identifiers lower-cased and every string
// NFC-normalized and trimmed. Free-text Note is left as-is.
func (in Intent) Normalized() Intent {
	out := in
	out.WalletID = canonicalize.NormalizeString(in.WalletID)
	out.AccountID = canonicalize.NormalizeString(in.AccountID)
	out.Action = canonicalize.NormalizeIdentifier(in.Action)
	out.Asset = canonicalize.NormalizeIdentifier(in.Asset)
	out.Recipient = canonicalize.NormalizeString(in.Recipient)
	if in.Amount != nil {
		out.Amount = Amount(*in.Amount)
	}

	out.Device.ID = canonicalize.NormalizeString(in.Device.ID)
	out.Device.Type = canonicalize.NormalizeIdentifier(in.Device.Type)
	out.Device.OS = canonicalize.NormalizeIdentifier(in.Device.OS)
	out.Device.AppVersion = canonicalize.NormalizeString(in.Device.AppVersion)

	out.Network.Name = canonicalize.NormalizeIdentifier(in.Network.Name)
	out.Network.NodeType = canonicalize.NormalizeIdentifier(in.Network.NodeType)

	out.User.UserID = canonicalize.NormalizeString(in.User.UserID)
	return out
}

// Validate checks required fields on a normalized intent. Device and
// network signals are deliberately not required here: their absence is a
// policy outcome, not a malformed request.
func (in Intent) Validate() error {
	switch {
	case in.WalletID == "":
		return fmt.Errorf("%w: wallet_id is required", ErrInvalidIntent)
	case in.AccountID == "":
		return fmt.Errorf("%w: account_id is required", ErrInvalidIntent)
	case in.Action == "":
		return fmt.Errorf("%w: action is required", ErrInvalidIntent)
	case in.Asset == "":
		return fmt.Errorf("%w: asset is required", ErrInvalidIntent)
	}
	if in.Amount != nil && *in.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative, got %d", ErrInvalidIntent, *in.Amount)
	}
	if IsValueAction(in.Action) && in.Amount == nil {
		return fmt.Errorf("%w: action %q requires an amount", ErrInvalidIntent, in.Action)
	}
	if requiresRecipient(in.Action) && in.Recipient == "" {
		return fmt.Errorf("%w: action %q requires a recipient", ErrInvalidIntent, in.Action)
	}
	if in.Network.PeerCount < 0 || in.Network.FeeRate < 0 {
		return fmt.Errorf("%w: network counters must be non-negative", ErrInvalidIntent)
	}
	return nil
}
