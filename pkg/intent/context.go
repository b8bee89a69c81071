package intent

import (
	"fmt"
	"strconv"
	"time"

	"github.com/adamantine-wallet/gate/pkg/canonicalize"
)

// ProtocolVersion is mixed into every context hash. Bump it whenever the
// canonical layout below changes.
const ProtocolVersion = "eqc-ctx-v1"

// DefaultBucketWidth is the granularity of the time bucket hashed into the
// context.
const DefaultBucketWidth = 60 * time.Second

// Clock provides authority time. Inject a fixed clock in tests.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Context is the canonical, hashed form of an Intent under which a policy
// decision is made.
type Context struct {
	Intent          Intent `json:"intent"`
	ProtocolVersion string `json:"protocol_version"`
	TimeBucket      int64  `json:"time_bucket"`
	Hash            string `json:"context_hash"`
}

// canonicalContext is the exact document that gets hashed. Amounts are
// decimal strings so large minor-unit values never pass through a float.
type canonicalContext struct {
	Protocol  string           `json:"protocol_version"`
	Bucket    int64            `json:"time_bucket"`
	WalletID  string           `json:"wallet_id"`
	AccountID string           `json:"account_id"`
	Action    string           `json:"action"`
	Asset     string           `json:"asset"`
	Amount    *string          `json:"amount"`
	Recipient string           `json:"recipient"`
	Device    canonicalDevice  `json:"device"`
	Network   canonicalNetwork `json:"network"`
	User      canonicalUser    `json:"user"`
}

type canonicalDevice struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	OS         string `json:"os"`
	Trusted    bool   `json:"trusted"`
	AppVersion string `json:"app_version"`
}

type canonicalNetwork struct {
	Name        string `json:"name"`
	NodeType    string `json:"node_type"`
	NodeTrusted bool   `json:"node_trusted"`
	PeerCount   string `json:"peer_count"`
	FeeRate     string `json:"fee_rate"`
}

type canonicalUser struct {
	UserID             string `json:"user_id"`
	BiometricAvailable bool   `json:"biometric_available"`
	PINSet             bool   `json:"pin_set"`
}

func toCanonical(in Intent, bucket int64) canonicalContext {
	var amount *string
	if in.Amount != nil {
		s := strconv.FormatInt(*in.Amount, 10)
		amount = &s
	}
	return canonicalContext{
		Protocol:  ProtocolVersion,
		Bucket:    bucket,
		WalletID:  in.WalletID,
		AccountID: in.AccountID,
		Action:    in.Action,
		Asset:     in.Asset,
		Amount:    amount,
		Recipient: in.Recipient,
		Device: canonicalDevice{
			ID:         in.Device.ID,
			Type:       in.Device.Type,
			OS:         in.Device.OS,
			Trusted:    in.Device.Trusted,
			AppVersion: in.Device.AppVersion,
		},
		Network: canonicalNetwork{
			Name:        in.Network.Name,
			NodeType:    in.Network.NodeType,
			NodeTrusted: in.Network.NodeTrusted,
			PeerCount:   strconv.FormatInt(in.Network.PeerCount, 10),
			FeeRate:     strconv.FormatInt(in.Network.FeeRate, 10),
		},
		User: canonicalUser{
			UserID:             in.User.UserID,
			BiometricAvailable: in.User.BiometricAvailable,
			PINSet:             in.User.PINSet,
		},
	}
}

// Hash validates and normalizes in, then returns its context hash for the
// given time bucket. Downstream components call this to re-derive the hash
// instead of trusting a value handed to them.
func Hash(in Intent, bucket int64) (string, error) {
	n := in.Normalized()
	if err := n.Validate(); err != nil {
		return "", err
	}
	return hashNormalized(n, bucket)
}

func hashNormalized(n Intent, bucket int64) (string, error) {
	h, err := canonicalize.CanonicalHash(toCanonical(n, bucket))
	if err != nil {
		return "", fmt.Errorf("intent: context hash: %w", err)
	}
	return h, nil
}

// PolicyInput returns the hashed fields as a generic map. Policy packs that
// evaluate expressions see exactly what the hash covers, nothing more.
func (c *Context) PolicyInput() map[string]any {
	cc := toCanonical(c.Intent, c.TimeBucket)
	var amount any
	if c.Intent.Amount != nil {
		amount = *c.Intent.Amount
	}
	return map[string]any{
		"wallet_id":  cc.WalletID,
		"account_id": cc.AccountID,
		"action":     cc.Action,
		"asset":      cc.Asset,
		"amount":     amount,
		"recipient":  cc.Recipient,
		"device": map[string]any{
			"id":          cc.Device.ID,
			"type":        cc.Device.Type,
			"os":          cc.Device.OS,
			"trusted":     cc.Device.Trusted,
			"app_version": cc.Device.AppVersion,
		},
		"network": map[string]any{
			"name":         cc.Network.Name,
			"node_type":    cc.Network.NodeType,
			"node_trusted": cc.Network.NodeTrusted,
			"peer_count":   c.Intent.Network.PeerCount,
			"fee_rate":     c.Intent.Network.FeeRate,
		},
		"user": map[string]any{
			"user_id":             cc.User.UserID,
			"biometric_available": cc.User.BiometricAvailable,
			"pin_set":             cc.User.PINSet,
		},
	}
}

// Builder assembles Contexts. It is safe for concurrent use.
type Builder struct {
	clock       Clock
	bucketWidth time.Duration
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithClock injects the authority clock used for time buckets.
func WithClock(c Clock) BuilderOption {
	return func(b *Builder) {
		if c != nil {
			b.clock = c
		}
	}
}

// WithBucketWidth overrides DefaultBucketWidth. Non-positive values are ignored.
func WithBucketWidth(d time.Duration) BuilderOption {
	return func(b *Builder) {
		if d > 0 {
			b.bucketWidth = d
		}
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{clock: wallClock{}, bucketWidth: DefaultBucketWidth}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BucketAt maps t onto the builder's time bucket.
func (b *Builder) BucketAt(t time.Time) int64 {
	secs := int64(b.bucketWidth / time.Second)
	if secs < 1 {
		secs = 1
	}
	return t.Unix() / secs
}

// Build validates the intent and returns its canonical Context.
func (b *Builder) Build(in Intent) (*Context, error) {
	n := in.Normalized()
	if err := n.Validate(); err != nil {
		return nil, err
	}
	bucket := b.BucketAt(b.clock.Now())
	h, err := hashNormalized(n, bucket)
	if err != nil {
		return nil, err
	}
	return &Context{
		Intent:          n,
		ProtocolVersion: ProtocolVersion,
		TimeBucket:      bucket,
		Hash:            h,
	}, nil
}
