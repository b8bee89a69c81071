// Package reasons holds the stable reason codes surfaced by the gate.
// They are part of the public contract and must not change between releases.
package reasons

const (
	// --- Caller input ---
	InvalidIntent     = "INVALID_INTENT"
	UnsupportedAction = "UNSUPPORTED_ACTION"

	// --- Account ---
	WatchOnly = "WATCH_ONLY"

	// --- Policy (EQC) ---
	EQCDenied               = "EQC_DENIED"
	EQCStepUp               = "EQC_STEP_UP"
	BrowserContextBlocked   = "BROWSER_CONTEXT_BLOCKED"
	ExtensionContextBlocked = "EXTENSION_CONTEXT_BLOCKED"
	DeviceUnknown           = "DEVICE_UNKNOWN"
	ActionUnknown           = "ACTION_UNKNOWN"
	LargeAmount             = "LARGE_AMOUNT"
	UntrustedDevice         = "UNTRUSTED_DEVICE"
	NetworkUnknown          = "NETWORK_UNKNOWN"
	PackEvalError           = "PACK_EVAL_ERROR" // pack failed or panicked; treated as DENY

	// --- Risk gate ---
	ShieldBlocked = "SHIELD_BLOCKED"
	ShieldTimeout = "SHIELD_TIMEOUT" // surfaced to callers as SHIELD_BLOCKED

	// --- Scope & capability (WSQK) ---
	ScopeBindingDenied = "SCOPE_BINDING_DENIED"
	CapabilityMissing  = "CAPABILITY_MISSING"
	CapabilityExpired  = "CAPABILITY_EXPIRED"
	TTLExpired         = "TTL_EXPIRED"
	WalletMismatch     = "WALLET_MISMATCH"
	ActionMismatch     = "ACTION_MISMATCH"
	ContextMismatch    = "CONTEXT_MISMATCH"
	NonceReused        = "NONCE_REUSED"
	LedgerUnavailable  = "LEDGER_UNAVAILABLE" // ledger error; nothing consumed
)

// Step-up requirements returned alongside EQC_STEP_UP.
const (
	RequireConfirmNetwork     = "confirm_network"
	RequireConfirmLargeAmount = "confirm_large_amount"
	RequireConfirmUserIntent  = "confirm_user_intent"
	RequireVerifyDevice       = "verify_device"
)
