package eqc

import (
	"fmt"

	"github.com/adamantine-wallet/gate/pkg/canonicalize"
	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/reasons"
)

// Decision is the engine output for one Context. TimeBucket and
// PolicySetHash let later stages and auditors re-derive what was decided.
type Decision struct {
	Verdict       Verdict           `json:"verdict"`
	ContextHash   string            `json:"context_hash"`
	TimeBucket    int64             `json:"time_bucket"`
	Signals       map[string]string `json:"signals"`
	PolicySetHash string            `json:"policy_set_hash"`
	DecisionHash  string            `json:"decision_hash"`
}

// Allowed reports whether the verdict is ALLOW.
func (d Decision) Allowed() bool { return d.Verdict.Kind == Allow }

// ComputeDecisionHash hashes the decision without its own hash field.
func ComputeDecisionHash(d Decision) (string, error) {
	hashInput := struct {
		Verdict       Verdict           `json:"verdict"`
		ContextHash   string            `json:"context_hash"`
		TimeBucket    int64             `json:"time_bucket"`
		Signals       map[string]string `json:"signals"`
		PolicySetHash string            `json:"policy_set_hash"`
	}{
		Verdict:       d.Verdict,
		ContextHash:   d.ContextHash,
		TimeBucket:    d.TimeBucket,
		Signals:       d.Signals,
		PolicySetHash: d.PolicySetHash,
	}
	h, err := canonicalize.CanonicalHash(hashInput)
	if err != nil {
		return "", fmt.Errorf("eqc: decision hash canonicalization failed: %w", err)
	}
	return h, nil
}

// Engine evaluates the base policy and an ordered pack list. It holds no
// mutable state after construction; changing the pack set means building
// a new Engine.
type Engine struct {
	packs         []PolicyPack
	largeAmount   int64
	policySetHash string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLargeAmount overrides DefaultLargeAmount. Non-positive values are ignored.
func WithLargeAmount(v int64) EngineOption {
	return func(e *Engine) {
		if v > 0 {
			e.largeAmount = v
		}
	}
}

// NewEngine builds an engine running packs in the given order.
func NewEngine(packs []PolicyPack, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		packs:       append([]PolicyPack(nil), packs...),
		largeAmount: DefaultLargeAmount,
	}
	for _, opt := range opts {
		opt(e)
	}
	for i, p := range e.packs {
		if p == nil {
			return nil, fmt.Errorf("%w: nil pack at position %d", ErrInvalidPackRef, i)
		}
	}
	h, err := e.computePolicySetHash()
	if err != nil {
		return nil, err
	}
	e.policySetHash = h
	return e, nil
}

type packID struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

func (e *Engine) computePolicySetHash() (string, error) {
	set := struct {
		LargeAmount string   `json:"large_amount"`
		Packs       []packID `json:"packs"`
	}{
		LargeAmount: fmt.Sprintf("%d", e.largeAmount),
		Packs:       make([]packID, 0, len(e.packs)),
	}
	for _, p := range e.packs {
		set.Packs = append(set.Packs, packID{Name: p.Name(), Version: p.Version()})
	}
	h, err := canonicalize.CanonicalHash(set)
	if err != nil {
		return "", fmt.Errorf("eqc: policy set hash: %w", err)
	}
	return h, nil
}

// PolicySetHash identifies the base threshold and the enabled packs.
func (e *Engine) PolicySetHash() string { return e.policySetHash }

// Packs returns the enabled pack names in evaluation order.
func (e *Engine) Packs() []string {
	names := make([]string, len(e.packs))
	for i, p := range e.packs {
		names[i] = p.Name()
	}
	return names
}

// Decide evaluates c. It is a pure function of c and the engine's pack
// set. A nil context is denied.
func (e *Engine) Decide(c *intent.Context) Decision {
	signals := make(map[string]string)
	if c == nil {
		signals["base"] = "nil_context"
		return e.finish(Decision{
			Verdict: DenyVerdict(reasons.InvalidIntent),
			Signals: signals,
		})
	}

	v := baseRules(c, e.largeAmount, signals)
	for _, p := range e.packs {
		out := evaluatePack(p, v, c)
		key := "pack." + p.Name()
		if !v.Tightens(out) {
			signals[key] = "violation:ignored"
			continue
		}
		v = Merge(v, out)
		signals[key] = out.Kind.String()
	}

	return e.finish(Decision{
		Verdict:     v,
		ContextHash: c.Hash,
		TimeBucket:  c.TimeBucket,
		Signals:     signals,
	})
}

func (e *Engine) finish(d Decision) Decision {
	d.PolicySetHash = e.policySetHash
	h, err := ComputeDecisionHash(d)
	if err != nil {
		d.Verdict = Merge(d.Verdict, DenyVerdict(reasons.PackEvalError))
		return d
	}
	d.DecisionHash = h
	return d
}

// evaluatePack runs one pack, turning a panic or an out-of-range kind into
// DENY.
func evaluatePack(p PolicyPack, current Verdict, c *intent.Context) (out Verdict) {
	defer func() {
		if r := recover(); r != nil {
			out = Merge(current, DenyVerdict(reasons.PackEvalError))
		}
	}()
	out = p.Evaluate(current, snapshot(c))
	if !out.Kind.Valid() {
		return Merge(current, DenyVerdict(reasons.PackEvalError))
	}
	return out
}

// snapshot gives each pack its own copy so one pack cannot change what the
// next one sees.
func snapshot(c *intent.Context) *intent.Context {
	cp := *c
	if c.Intent.Amount != nil {
		cp.Intent.Amount = intent.Amount(*c.Intent.Amount)
	}
	return &cp
}
