// Package eqc is the decision-only policy engine. It maps a canonical
// intent.Context to a Decision and never touches keys, storage, or the
// network.
package eqc

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind is the verdict outcome. The numeric order is the strictness order:
// Allow < StepUp < Deny.
type Kind int

const (
	Allow Kind = iota
	StepUp
	Deny
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "ALLOW"
	case StepUp:
		return "STEP_UP"
	case Deny:
		return "DENY"
	default:
		return fmt.Sprintf("KIND(%d)", int(k))
	}
}

// Valid reports whether k is one of Allow, StepUp or Deny.
func (k Kind) Valid() bool {
	return k >= Allow && k <= Deny
}

// MarshalJSON encodes the kind by name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind by name. Unknown names decode as Deny.
func (k *Kind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*k = ParseKind(s)
	return nil
}

// ParseKind maps a name to a Kind. Anything unrecognised is Deny.
func ParseKind(s string) Kind {
	switch s {
	case "ALLOW":
		return Allow
	case "STEP_UP":
		return StepUp
	default:
		return Deny
	}
}

// Verdict is the outcome of policy evaluation. Requirements are only
// meaningful for StepUp; Reasons explain StepUp and Deny.
type Verdict struct {
	Kind         Kind     `json:"kind"`
	Requirements []string `json:"requirements,omitempty"`
	Reasons      []string `json:"reasons,omitempty"`
}

// AllowVerdict returns a bare ALLOW.
func AllowVerdict() Verdict { return Verdict{Kind: Allow} }

// StepUpVerdict returns STEP_UP with the given requirements.
func StepUpVerdict(reason string, requirements ...string) Verdict {
	v := Verdict{Kind: StepUp, Requirements: normalizeSet(requirements)}
	if reason != "" {
		v.Reasons = []string{reason}
	}
	return v
}

// DenyVerdict returns DENY with the given reason codes.
func DenyVerdict(reasons ...string) Verdict {
	return Verdict{Kind: Deny, Reasons: normalizeSet(reasons)}
}

// Reason returns the first reason code in sorted order, or "".
func (v Verdict) Reason() string {
	if len(v.Reasons) == 0 {
		return ""
	}
	return v.Reasons[0]
}

// Tightens reports whether out is equal-or-stricter than v. An out-of-range
// kind never tightens; the engine turns one into DENY before asking.
func (v Verdict) Tightens(out Verdict) bool {
	return out.Kind >= v.Kind && out.Kind <= Deny
}

// Merge returns the stricter of a and b. At equal rank requirements and
// reasons are unioned, so Merge is commutative, associative and
// idempotent.
func Merge(a, b Verdict) Verdict {
	switch {
	case a.Kind > b.Kind:
		return a.clone()
	case b.Kind > a.Kind:
		return b.clone()
	}
	return Verdict{
		Kind:         a.Kind,
		Requirements: normalizeSet(append(append([]string{}, a.Requirements...), b.Requirements...)),
		Reasons:      normalizeSet(append(append([]string{}, a.Reasons...), b.Reasons...)),
	}
}

// MergeAll folds Merge over vs starting from ALLOW.
func MergeAll(vs ...Verdict) Verdict {
	out := AllowVerdict()
	for _, v := range vs {
		out = Merge(out, v)
	}
	return out
}

func (v Verdict) clone() Verdict {
	return Verdict{
		Kind:         v.Kind,
		Requirements: normalizeSet(v.Requirements),
		Reasons:      normalizeSet(v.Reasons),
	}
}

// normalizeSet sorts and deduplicates, dropping empty strings. Returns nil
// for an empty result so equal verdicts compare equal.
func normalizeSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
