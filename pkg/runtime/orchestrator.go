// Package runtime sequences one signing request through the gate: account
// check, policy decision, risk gate, scope binding, capability issue, guard
// authorization and finally the downstream executor.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/adamantine-wallet/gate/pkg/audit"
	"github.com/adamantine-wallet/gate/pkg/eqc"
	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/observability"
	"github.com/adamantine-wallet/gate/pkg/reasons"
	"github.com/adamantine-wallet/gate/pkg/shield"
	"github.com/adamantine-wallet/gate/pkg/wsqk"
)

// AccountLookup answers whether an account can only watch. An error is
// treated as watch-only.
type AccountLookup interface {
	IsWatchOnly(ctx context.Context, walletID, accountID string) (bool, error)
}

// Executor performs the signing operation once authorized. The orchestrator
// redeems auth before the call, so auth.Redeemed() is true and auth.Valid()
// is false; executors must refuse a token that is not redeemed.
type Executor interface {
	Execute(ctx context.Context, auth *wsqk.AuthorizedExecution, in intent.Intent) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, auth *wsqk.AuthorizedExecution, in intent.Intent) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, auth *wsqk.AuthorizedExecution, in intent.Intent) (any, error) {
	return f(ctx, auth, in)
}

// Decider is satisfied by *eqc.Engine.
type Decider interface {
	Decide(c *intent.Context) eqc.Decision
}

// ScopeBinder is satisfied by *wsqk.Binder.
type ScopeBinder interface {
	Bind(d eqc.Decision, in intent.Intent) (wsqk.Scope, error)
}

// CapabilityIssuer is satisfied by *wsqk.Issuer.
type CapabilityIssuer interface {
	Issue(s wsqk.Scope) (*wsqk.Capability, error)
}

// Authorizer is satisfied by *wsqk.Guard.
type Authorizer interface {
	Authorize(ctx context.Context, c *wsqk.Capability, in intent.Intent) (*wsqk.AuthorizedExecution, error)
}

// Result is a successful execution.
type Result struct {
	Decision    eqc.Decision
	ContextHash string
	// CapabilityID identifies the capability that was redeemed.
	CapabilityID string
	// Output is whatever the executor returned, untouched.
	Output any
}

// Deps are the collaborators every orchestrator needs.
type Deps struct {
	Accounts AccountLookup
	Builder  *intent.Builder
	Engine   Decider
	Binder   ScopeBinder
	Issuer   CapabilityIssuer
	Guard    Authorizer
}

// Orchestrator runs requests through the gate. It is safe for concurrent
// use; the only shared mutable state is the nonce ledger behind the guard.
type Orchestrator struct {
	accounts AccountLookup
	builder  *intent.Builder
	engine   Decider
	binder   ScopeBinder
	issuer   CapabilityIssuer
	guard    Authorizer

	audit         audit.Logger
	metrics       *observability.GateMetrics
	telemetry     *observability.Provider
	shieldTimeout time.Duration
	logger        *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAudit sets the audit sink. Defaults to discarding events.
func WithAudit(l audit.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.audit = l
		}
	}
}

func WithMetrics(m *observability.GateMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTelemetry(p *observability.Provider) Option {
	return func(o *Orchestrator) { o.telemetry = p }
}

// WithShieldTimeout bounds every risk gate call. Non-positive values keep
// shield.DefaultTimeout.
func WithShieldTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.shieldTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New validates deps and returns an Orchestrator.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Accounts == nil:
		return nil, errors.New("runtime: account lookup is required")
	case deps.Engine == nil:
		return nil, errors.New("runtime: policy engine is required")
	case deps.Binder == nil:
		return nil, errors.New("runtime: scope binder is required")
	case deps.Issuer == nil:
		return nil, errors.New("runtime: capability issuer is required")
	case deps.Guard == nil:
		return nil, errors.New("runtime: execution guard is required")
	}
	builder := deps.Builder
	if builder == nil {
		builder = intent.NewBuilder()
	}
	o := &Orchestrator{
		accounts:      deps.Accounts,
		builder:       builder,
		engine:        deps.Engine,
		binder:        deps.Binder,
		issuer:        deps.Issuer,
		guard:         deps.Guard,
		audit:         audit.Nop{},
		shieldTimeout: shield.DefaultTimeout,
		logger:        slog.Default().With("component", "runtime"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ExecuteSigningIntent runs in through every gate step in order and calls
// executor only after the guard has authorized it. A refusal is returned
// as *ExecutionBlocked; a malformed intent as an error wrapping
// intent.ErrInvalidIntent; executor failures wrap ErrExecutorFailed.
func (o *Orchestrator) ExecuteSigningIntent(ctx context.Context, in intent.Intent, riskGate shield.Gate, executor Executor) (res Result, err error) {
	if o.telemetry != nil {
		var done func(error)
		ctx, done = o.telemetry.TrackOperation(ctx, "gate.execute_signing_intent",
			attribute.String("action", in.Action),
		)
		defer func() { done(err) }()
	}

	if executor == nil {
		return Result{}, errors.New("runtime: executor is required")
	}

	// 0. Input validation
	norm := in.Normalized()
	if err := norm.Validate(); err != nil {
		o.block(ctx, in, reasons.InvalidIntent, "", err.Error(), nil)
		return Result{}, err
	}

	// 1. Watch-only accounts never reach policy
	watchOnly, lookupErr := o.accounts.IsWatchOnly(ctx, norm.WalletID, norm.AccountID)
	if watchOnly || lookupErr != nil {
		detail := ""
		if lookupErr != nil {
			detail = lookupErr.Error()
		}
		return Result{}, o.block(ctx, in, reasons.WatchOnly, "", detail, nil)
	}

	// 2. Policy decision
	pctx, err := o.builder.Build(in)
	if err != nil {
		o.block(ctx, in, reasons.InvalidIntent, "", err.Error(), nil)
		return Result{}, err
	}
	decision := o.engine.Decide(pctx)
	o.recordDecision(ctx, in, decision)

	switch decision.Verdict.Kind {
	case eqc.Allow:
	case eqc.StepUp:
		return Result{}, o.block(ctx, in, reasons.EQCStepUp, decision.ContextHash, "", &decision)
	default:
		return Result{}, o.block(ctx, in, reasons.EQCDenied, decision.ContextHash, "", &decision)
	}

	// 3. Risk gate, bounded
	start := time.Now()
	verdict, shieldErr := shield.WithTimeout(riskGate, o.shieldTimeout).Evaluate(ctx, decision.ContextHash, in)
	if o.metrics != nil {
		o.metrics.ShieldLatency(ctx, time.Since(start), shieldErr == nil && verdict.Pass)
	}
	if shieldErr != nil {
		return Result{}, o.block(ctx, in, reasons.ShieldBlocked, decision.ContextHash, shieldErr.Error(), nil)
	}
	if !verdict.Pass {
		return Result{}, o.block(ctx, in, reasons.ShieldBlocked, decision.ContextHash, verdict.Reason, nil)
	}

	// 4. Scope binding
	scope, err := o.binder.Bind(decision, in)
	if err != nil {
		return Result{}, o.block(ctx, in, reasons.ScopeBindingDenied, decision.ContextHash, err.Error(), nil)
	}

	// 5. Capability
	capability, err := o.issuer.Issue(scope)
	if err != nil {
		reason := reasons.ScopeBindingDenied
		if errors.Is(err, wsqk.ErrCapabilityExpired) {
			reason = reasons.CapabilityExpired
		}
		return Result{}, o.block(ctx, in, reason, decision.ContextHash, err.Error(), nil)
	}

	// 6. Guard
	authorized, err := o.guard.Authorize(ctx, capability, in)
	if err != nil {
		reason := wsqk.BlockedReason(err)
		if reason == "" {
			reason = reasons.CapabilityMissing
		}
		return Result{}, o.block(ctx, in, reason, decision.ContextHash, "", nil)
	}
	if err := authorized.Redeem(); err != nil {
		return Result{}, o.block(ctx, in, reasons.NonceReused, decision.ContextHash, err.Error(), nil)
	}

	// 7. Downstream execution
	output, execErr := executor.Execute(ctx, authorized, in)
	if o.metrics != nil {
		o.metrics.Executed(ctx, in.Action, execErr == nil)
	}
	o.record(ctx, audit.Event{
		Type:        audit.EventExecuted,
		WalletID:    in.WalletID,
		AccountID:   in.AccountID,
		Action:      in.Action,
		ContextHash: decision.ContextHash,
		Metadata:    executedMetadata(authorized, execErr),
	})
	if execErr != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrExecutorFailed, execErr)
	}

	return Result{
		Decision:     decision,
		ContextHash:  decision.ContextHash,
		CapabilityID: authorized.CapabilityID(),
		Output:       output,
	}, nil
}

func executedMetadata(a *wsqk.AuthorizedExecution, execErr error) map[string]string {
	md := map[string]string{"capability_id": a.CapabilityID()}
	if execErr != nil {
		md["executor_error"] = execErr.Error()
	}
	return md
}

func (o *Orchestrator) recordDecision(ctx context.Context, in intent.Intent, d eqc.Decision) {
	if o.metrics != nil {
		o.metrics.Decision(ctx, d.Verdict.Kind.String(), in.Action)
	}
	o.record(ctx, audit.Event{
		Type:          audit.EventDecision,
		WalletID:      in.WalletID,
		AccountID:     in.AccountID,
		Action:        in.Action,
		ContextHash:   d.ContextHash,
		Verdict:       d.Verdict.Kind.String(),
		Requirements:  d.Verdict.Requirements,
		DenyReasons:   d.Verdict.Reasons,
		Signals:       d.Signals,
		PolicySetHash: d.PolicySetHash,
		DecisionHash:  d.DecisionHash,
	})
}

// block reports and returns an ExecutionBlocked.
func (o *Orchestrator) block(ctx context.Context, in intent.Intent, reason, contextHash, detail string, d *eqc.Decision) *ExecutionBlocked {
	b := &ExecutionBlocked{
		Reason:      reason,
		ContextHash: contextHash,
		Detail:      detail,
	}
	if d != nil {
		b.DenyReasons = append([]string(nil), d.Verdict.Reasons...)
		if d.Verdict.Kind == eqc.StepUp {
			b.Requirements = append([]string(nil), d.Verdict.Requirements...)
		}
	}

	if o.metrics != nil {
		o.metrics.Blocked(ctx, reason)
	}
	o.logger.InfoContext(ctx, "execution blocked",
		"reason", reason,
		"detail", detail,
		"wallet_id", in.WalletID,
		"action", in.Action,
		"context_hash", contextHash,
	)
	o.record(ctx, audit.Event{
		Type:         audit.EventBlocked,
		WalletID:     in.WalletID,
		AccountID:    in.AccountID,
		Action:       in.Action,
		ContextHash:  contextHash,
		Reason:       reason,
		Requirements: b.Requirements,
		DenyReasons:  b.DenyReasons,
		Metadata:     detailMetadata(detail),
	})
	return b
}

func detailMetadata(detail string) map[string]string {
	if detail == "" {
		return nil
	}
	return map[string]string{"detail": detail}
}

func (o *Orchestrator) record(ctx context.Context, evt audit.Event) {
	if err := o.audit.Record(ctx, evt); err != nil {
		o.logger.ErrorContext(ctx, "audit record failed", "type", evt.Type, "error", err)
	}
}
