package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adamantine-wallet/gate/pkg/eqc"
	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/shield"
	"github.com/adamantine-wallet/gate/pkg/store/ledger"
	"github.com/adamantine-wallet/gate/pkg/wsqk"
)

// ErrInvalidGateFile is returned for a gate file that parses but cannot
// be used.
var ErrInvalidGateFile = errors.New("config: invalid gate file")

// GateFile is the YAML document that fixes the policy and execution
// settings of a gate process. It is read once at start.
type GateFile struct {
	Ledger LedgerConfig `yaml:"ledger"`
	Shield ShieldConfig `yaml:"shield"`
	TTL    TTLConfig    `yaml:"ttl"`
	Policy PolicyConfig `yaml:"policy"`
}

// LedgerConfig selects the nonce ledger backend.
type LedgerConfig struct {
	Backend   string `yaml:"backend"` // memory | redis | postgres | sqlite
	DSN       string `yaml:"dsn,omitempty"`
	RedisAddr string `yaml:"redis_addr,omitempty"`
	RedisDB   int    `yaml:"redis_db,omitempty"`
}

// ShieldConfig configures the external risk gate. With no URL the process
// must be given a gate some other way; there is no pass-through default.
type ShieldConfig struct {
	URL     string        `yaml:"url,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
	RPS     float64       `yaml:"rps,omitempty"`
	Burst   int           `yaml:"burst,omitempty"`
}

type TTLConfig struct {
	Scope             time.Duration `yaml:"scope"`
	CapabilityCeiling time.Duration `yaml:"capability_ceiling"`
	Bucket            time.Duration `yaml:"bucket"`
}

// PolicyConfig lists the packs to run, in order.
type PolicyConfig struct {
	LargeAmount        int64             `yaml:"large_amount,omitempty"`
	HighValueThreshold int64             `yaml:"high_value_threshold,omitempty"`
	Packs              []eqc.PackRef     `yaml:"packs"`
	CELPacks           []eqc.CELPackSpec `yaml:"cel_packs,omitempty"`
}

// DefaultGateFile is used when no file is configured: memory ledger, base
// policy only.
func DefaultGateFile() *GateFile {
	return &GateFile{
		Ledger: LedgerConfig{Backend: ledger.BackendMemory},
		Shield: ShieldConfig{Timeout: shield.DefaultTimeout},
		TTL: TTLConfig{
			Scope:             wsqk.DefaultScopeTTL,
			CapabilityCeiling: wsqk.DefaultCapabilityCeiling,
			Bucket:            intent.DefaultBucketWidth,
		},
		Policy: PolicyConfig{
			LargeAmount:        eqc.DefaultLargeAmount,
			HighValueThreshold: eqc.DefaultHighValueThreshold,
		},
	}
}

// Resolve builds the effective gate file for c: the file named by
// GATE_CONFIG, or the defaults, with environment overrides applied. It
// validates only after the overrides, so the environment can complete a
// file (a DSN from GATE_LEDGER_DSN, for example).
func Resolve(c *Config) (*GateFile, error) {
	g := DefaultGateFile()
	if c != nil && c.GateFile != "" {
		var err error
		if g, err = LoadGateFile(c.GateFile); err != nil {
			return nil, err
		}
	}
	g.ApplyEnv(c)
	if err := g.Validate(); err != nil {
		if c != nil && c.GateFile != "" {
			return nil, fmt.Errorf("gate file %q: %w", c.GateFile, err)
		}
		return nil, err
	}
	return g, nil
}

// LoadGateFile reads the gate file at path. It does not validate.
func LoadGateFile(path string) (*GateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load gate file %q: %w", path, err)
	}
	g, err := ParseGateFile(data)
	if err != nil {
		return nil, fmt.Errorf("gate file %q: %w", path, err)
	}
	return g, nil
}

// ParseGateFile decodes data over DefaultGateFile, so omitted sections keep
// their defaults. Unknown keys are rejected. Call Validate once environment
// overrides are applied.
func ParseGateFile(data []byte) (*GateFile, error) {
	g := DefaultGateFile()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(g); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return g, nil
}

// Validate checks settings that would otherwise fail later or silently
// weaken the gate.
func (g *GateFile) Validate() error {
	switch g.Ledger.Backend {
	case ledger.BackendMemory, ledger.BackendRedis, ledger.BackendPostgres, ledger.BackendSQLite:
	case "":
		g.Ledger.Backend = ledger.BackendMemory
	default:
		return fmt.Errorf("%w: ledger.backend %q", ErrInvalidGateFile, g.Ledger.Backend)
	}
	if (g.Ledger.Backend == ledger.BackendPostgres || g.Ledger.Backend == ledger.BackendSQLite) && g.Ledger.DSN == "" {
		return fmt.Errorf("%w: ledger.dsn is required for %s", ErrInvalidGateFile, g.Ledger.Backend)
	}
	if g.Shield.Timeout < 0 || g.TTL.Scope < 0 || g.TTL.CapabilityCeiling < 0 || g.TTL.Bucket < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidGateFile)
	}
	if g.Shield.RPS < 0 || g.Shield.Burst < 0 {
		return fmt.Errorf("%w: shield rate limits must not be negative", ErrInvalidGateFile)
	}
	if g.Policy.LargeAmount < 0 || g.Policy.HighValueThreshold < 0 {
		return fmt.Errorf("%w: policy amounts must not be negative", ErrInvalidGateFile)
	}
	for _, ref := range g.Policy.Packs {
		if ref.Name == "" {
			return fmt.Errorf("%w: policy.packs entry without a name", ErrInvalidGateFile)
		}
	}
	return nil
}

// ApplyEnv lets environment settings override the file's ledger section.
func (g *GateFile) ApplyEnv(c *Config) {
	if c == nil {
		return
	}
	if c.LedgerBackend != "" {
		g.Ledger.Backend = c.LedgerBackend
	}
	if c.LedgerDSN != "" {
		g.Ledger.DSN = c.LedgerDSN
	}
	if c.RedisAddr != "" && g.Ledger.RedisAddr == "" {
		g.Ledger.RedisAddr = c.RedisAddr
	}
	if c.RedisDB != 0 {
		g.Ledger.RedisDB = c.RedisDB
	}
}

// LedgerOptions converts the ledger section for ledger.Open.
func (g *GateFile) LedgerOptions(c *Config) ledger.Options {
	opts := ledger.Options{
		Backend:   g.Ledger.Backend,
		DSN:       g.Ledger.DSN,
		RedisAddr: g.Ledger.RedisAddr,
		RedisDB:   g.Ledger.RedisDB,
	}
	if c != nil {
		opts.RedisPassword = c.RedisPassword
	}
	return opts
}

// HTTPShield returns the configured remote risk gate, or nil without a URL.
func (g *GateFile) HTTPShield() *shield.HTTPGate {
	if g.Shield.URL == "" {
		return nil
	}
	return shield.NewHTTPGate(shield.HTTPConfig{
		URL:   g.Shield.URL,
		RPS:   g.Shield.RPS,
		Burst: g.Shield.Burst,
	}, nil)
}

// Registry returns the packs this process can run: the built-in packs,
// with the configured high-value threshold, plus every CEL pack declared
// in the file.
func (g *GateFile) Registry() (*eqc.Registry, error) {
	reg, err := eqc.NewRegistry(
		eqc.NewHighValueStepUp(g.Policy.HighValueThreshold),
		eqc.UntrustedDeviceStepUp{},
	)
	if err != nil {
		return nil, err
	}
	for _, spec := range g.Policy.CELPacks {
		p, err := eqc.NewCELPack(spec)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Engine resolves policy.packs against Registry and builds the engine.
func (g *GateFile) Engine() (*eqc.Engine, error) {
	reg, err := g.Registry()
	if err != nil {
		return nil, err
	}
	packs, err := reg.Resolve(g.Policy.Packs)
	if err != nil {
		return nil, err
	}
	return eqc.NewEngine(packs, eqc.WithLargeAmount(g.Policy.LargeAmount))
}
