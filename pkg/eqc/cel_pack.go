package eqc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/reasons"
)

// ErrInvalidCELPack is returned when a declared CEL pack cannot be built.
var ErrInvalidCELPack = errors.New("eqc: invalid CEL pack")

// CELRule is one declarative rule. When is a boolean CEL expression over
// the variable `intent`, which has the same fields as the context hash.
type CELRule struct {
	Name        string `yaml:"name" json:"name"`
	When        string `yaml:"when" json:"when"`
	Outcome     string `yaml:"outcome" json:"outcome"` // STEP_UP or DENY
	Requirement string `yaml:"requirement,omitempty" json:"requirement,omitempty"`
	Reason      string `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// CELPackSpec declares a pack in the gate file.
type CELPackSpec struct {
	Name    string    `yaml:"name" json:"name"`
	Version string    `yaml:"version" json:"version"`
	Rules   []CELRule `yaml:"rules" json:"rules"`
}

type compiledRule struct {
	CELRule
	prg cel.Program
}

// CELPack evaluates CEL rules compiled once at construction. Evaluation
// errors deny.
type CELPack struct {
	name    string
	version string
	rules   []compiledRule
}

// celCostLimit bounds the work a single rule can do.
const celCostLimit = 10000

// NewCELPack compiles every rule in def. Any compile error fails the
// whole pack so a typo cannot leave a rule silently disabled.
func NewCELPack(def CELPackSpec) (*CELPack, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: pack name is required", ErrInvalidCELPack)
	}
	if def.Version == "" {
		def.Version = "0.0.0"
	}

	env, err := cel.NewEnv(
		cel.Variable("intent", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	p := &CELPack{name: def.Name, version: def.Version}
	for i, r := range def.Rules {
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule_%d", i)
		}
		r.Outcome = strings.ToUpper(strings.TrimSpace(r.Outcome))
		switch r.Outcome {
		case "STEP_UP":
			if r.Requirement == "" {
				return nil, fmt.Errorf("%w: %s/%s: STEP_UP needs a requirement", ErrInvalidCELPack, def.Name, r.Name)
			}
		case "DENY":
			if r.Reason == "" {
				return nil, fmt.Errorf("%w: %s/%s: DENY needs a reason", ErrInvalidCELPack, def.Name, r.Name)
			}
		default:
			return nil, fmt.Errorf("%w: %s/%s: outcome %q", ErrInvalidCELPack, def.Name, r.Name, r.Outcome)
		}

		ast, issues := env.Compile(r.When)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("%w: %s/%s: compile: %v", ErrInvalidCELPack, def.Name, r.Name, issues.Err())
		}
		switch ast.OutputType().String() {
		case "bool", "dyn":
		default:
			return nil, fmt.Errorf("%w: %s/%s: expression must be boolean, got %s", ErrInvalidCELPack, def.Name, r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(celCostLimit),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: program: %v", ErrInvalidCELPack, def.Name, r.Name, err)
		}
		p.rules = append(p.rules, compiledRule{CELRule: r, prg: prg})
	}
	return p, nil
}

func (p *CELPack) Name() string    { return p.name }
func (p *CELPack) Version() string { return p.version }

// Evaluate runs every rule and merges matches into current.
func (p *CELPack) Evaluate(current Verdict, c *intent.Context) Verdict {
	input := map[string]any{"intent": c.PolicyInput()}
	out := current
	for _, r := range p.rules {
		val, _, err := r.prg.Eval(input)
		if err != nil {
			out = Merge(out, DenyVerdict(reasons.PackEvalError))
			continue
		}
		matched, ok := val.Value().(bool)
		if !ok {
			out = Merge(out, DenyVerdict(reasons.PackEvalError))
			continue
		}
		if !matched {
			continue
		}
		if r.Outcome == "DENY" {
			out = Merge(out, DenyVerdict(r.Reason))
		} else {
			out = Merge(out, StepUpVerdict(r.Reason, r.Requirement))
		}
	}
	return out
}
