package wsqk

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/adamantine-wallet/gate/pkg/intent"
)

// ErrCapabilityExpired is returned when issuing for a scope whose deadline
// has passed. Reason code: CAPABILITY_EXPIRED.
var ErrCapabilityExpired = errors.New("wsqk: capability expired")

// DefaultCapabilityCeiling caps every capability lifetime regardless of
// the scope TTL.
const DefaultCapabilityCeiling = 120 * time.Second

const macInfo = "wsqk-capability-mac-v1"

// Capability proves a Scope was issued by a specific Issuer. Fields are
// unexported and there is no exported constructor, so only Issuer.Issue can
// produce a value the Guard accepts. Never persist or share one.
type Capability struct {
	id        string
	issuerID  string
	scope     Scope
	scopeHash string
	issuedAt  time.Time
	expiry    time.Time
	mac       []byte
}

func (c *Capability) ID() string          { return c.id }
func (c *Capability) ScopeHash() string   { return c.scopeHash }
func (c *Capability) IssuedAt() time.Time { return c.issuedAt }
func (c *Capability) Expiry() time.Time   { return c.expiry }
func (c *Capability) WalletID() string    { return c.scope.WalletID }
func (c *Capability) Action() string      { return c.scope.Action }
func (c *Capability) ContextHash() string { return c.scope.ContextHash }

// Issuer mints capabilities. Its MAC key is derived with HKDF from a root
// secret; a process-random root makes capabilities unusable outside the
// process that issued them.
type Issuer struct {
	id      string
	key     []byte
	clock   intent.Clock
	ceiling time.Duration
}

// IssuerOption configures an Issuer.
type IssuerOption func(*issuerConfig)

type issuerConfig struct {
	root    []byte
	clock   intent.Clock
	ceiling time.Duration
}

// WithRootSecret sets the HKDF input key material. It must be at least 32
// bytes. Without it a random secret is generated.
func WithRootSecret(secret []byte) IssuerOption {
	return func(c *issuerConfig) { c.root = append([]byte(nil), secret...) }
}

// WithIssuerClock sets the authority clock.
func WithIssuerClock(clock intent.Clock) IssuerOption {
	return func(c *issuerConfig) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithCeiling overrides DefaultCapabilityCeiling. Non-positive values are ignored.
func WithCeiling(d time.Duration) IssuerOption {
	return func(c *issuerConfig) {
		if d > 0 {
			c.ceiling = d
		}
	}
}

// NewIssuer creates an Issuer with a fresh identity.
func NewIssuer(opts ...IssuerOption) (*Issuer, error) {
	cfg := issuerConfig{clock: wallClock{}, ceiling: DefaultCapabilityCeiling}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.root == nil {
		cfg.root = make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, cfg.root); err != nil {
			return nil, fmt.Errorf("wsqk: root secret generation failed: %w", err)
		}
	}
	if len(cfg.root) < 32 {
		return nil, fmt.Errorf("wsqk: root secret must be at least 32 bytes, got %d", len(cfg.root))
	}

	id := uuid.NewString()
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, cfg.root, []byte(id), []byte(macInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("wsqk: HKDF derivation failed: %w", err)
	}

	return &Issuer{id: id, key: key, clock: cfg.clock, ceiling: cfg.ceiling}, nil
}

// ID identifies the issuer instance.
func (i *Issuer) ID() string { return i.id }

// Issue mints a capability for s. Expiry is the earlier of the scope
// deadline and now plus the ceiling.
func (i *Issuer) Issue(s Scope) (*Capability, error) {
	now := i.clock.Now()
	if s.Expired(now) {
		return nil, fmt.Errorf("%w: scope deadline %s passed", ErrCapabilityExpired, s.Deadline.UTC().Format(time.RFC3339))
	}
	if s.Nonce == "" || s.ContextHash == "" || s.WalletID == "" {
		return nil, fmt.Errorf("%w: scope is incomplete", ErrScopeBindingDenied)
	}

	scopeHash, err := s.Hash()
	if err != nil {
		return nil, err
	}

	expiry := s.Deadline
	if ceiling := now.Add(i.ceiling); ceiling.Before(expiry) {
		expiry = ceiling
	}

	c := &Capability{
		id:        uuid.NewString(),
		issuerID:  i.id,
		scope:     s,
		scopeHash: scopeHash,
		issuedAt:  now,
		expiry:    expiry,
	}
	c.mac = i.sign(c)
	return c, nil
}

// Verify reports whether c was issued by i and is unmodified.
func (i *Issuer) Verify(c *Capability) bool {
	if c == nil || c.id == "" || c.issuerID != i.id || len(c.mac) == 0 {
		return false
	}
	h, err := c.scope.Hash()
	if err != nil || h != c.scopeHash {
		return false
	}
	return hmac.Equal(c.mac, i.sign(c))
}

func (i *Issuer) sign(c *Capability) []byte {
	m := hmac.New(sha256.New, i.key)
	writeField(m, c.id)
	writeField(m, c.issuerID)
	writeField(m, c.scopeHash)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(c.expiry.UnixNano()))
	m.Write(ts[:])
	return m.Sum(nil)
}

// writeField length-prefixes s so field boundaries are unambiguous.
func writeField(w io.Writer, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	w.Write(n[:])
	io.WriteString(w, s)
}
