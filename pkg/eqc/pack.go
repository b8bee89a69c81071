package eqc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/adamantine-wallet/gate/pkg/intent"
)

// PolicyPack is a named, versioned rule set evaluated after the base
// policy. Evaluate receives the verdict accumulated so far and must return
// an equal-or-stricter verdict. Anything weaker is ignored by the engine.
// Implementations must be pure and safe for concurrent use.
type PolicyPack interface {
	Name() string
	Version() string
	Evaluate(current Verdict, c *intent.Context) Verdict
}

var (
	ErrPackExists     = errors.New("eqc: policy pack already registered")
	ErrPackNotFound   = errors.New("eqc: policy pack not registered")
	ErrPackIncompat   = errors.New("eqc: policy pack version does not satisfy constraint")
	ErrInvalidPackRef = errors.New("eqc: invalid policy pack reference")
)

// PackRef selects a registered pack by name, optionally constrained to a
// semver range such as "^1.0" or ">= 1.2, < 2".
type PackRef struct {
	Name       string `yaml:"name" json:"name"`
	Constraint string `yaml:"version,omitempty" json:"version,omitempty"`
}

// Registry holds the packs available to a process. It is populated once at
// start and then only read.
type Registry struct {
	packs map[string]PolicyPack
}

// NewRegistry creates a registry preloaded with packs.
func NewRegistry(packs ...PolicyPack) (*Registry, error) {
	r := &Registry{packs: make(map[string]PolicyPack)}
	for _, p := range packs {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a pack. Names are unique and versions must parse as semver.
func (r *Registry) Register(p PolicyPack) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("%w: pack has no name", ErrInvalidPackRef)
	}
	if _, err := semver.NewVersion(p.Version()); err != nil {
		return fmt.Errorf("%w: %s version %q: %v", ErrInvalidPackRef, p.Name(), p.Version(), err)
	}
	if _, ok := r.packs[p.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrPackExists, p.Name())
	}
	r.packs[p.Name()] = p
	return nil
}

// Names lists registered pack names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.packs))
	for n := range r.packs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get returns a registered pack by name.
func (r *Registry) Get(name string) (PolicyPack, bool) {
	p, ok := r.packs[name]
	return p, ok
}

// Resolve turns an ordered list of references into the ordered pack list
// an Engine runs. Unknown packs, duplicates and version mismatches are
// errors: a misconfigured pack set must stop the process, not silently
// shrink the policy.
func (r *Registry) Resolve(refs []PackRef) ([]PolicyPack, error) {
	out := make([]PolicyPack, 0, len(refs))
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if seen[ref.Name] {
			return nil, fmt.Errorf("%w: %s listed twice", ErrInvalidPackRef, ref.Name)
		}
		seen[ref.Name] = true

		p, ok := r.packs[ref.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrPackNotFound, ref.Name)
		}
		if ref.Constraint != "" {
			if err := checkVersion(p, ref.Constraint); err != nil {
				return nil, err
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func checkVersion(p PolicyPack, spec string) error {
	constraint, err := semver.NewConstraint(spec)
	if err != nil {
		return fmt.Errorf("%w: %s constraint %q: %v", ErrInvalidPackRef, p.Name(), spec, err)
	}
	v, err := semver.NewVersion(p.Version())
	if err != nil {
		return fmt.Errorf("%w: %s version %q: %v", ErrInvalidPackRef, p.Name(), p.Version(), err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("%w: %s requires %s, registered %s", ErrPackIncompat, p.Name(), spec, p.Version())
	}
	return nil
}
