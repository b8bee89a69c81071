package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/adamantine-wallet/gate/pkg/accounts"
	"github.com/adamantine-wallet/gate/pkg/audit"
	"github.com/adamantine-wallet/gate/pkg/config"
	"github.com/adamantine-wallet/gate/pkg/eqc"
	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/observability"
	"github.com/adamantine-wallet/gate/pkg/runtime"
	"github.com/adamantine-wallet/gate/pkg/store"
	"github.com/adamantine-wallet/gate/pkg/store/ledger"
	"github.com/adamantine-wallet/gate/pkg/wsqk"
)

// gate holds the process-wide pieces a command needs. Fields are opened
// lazily so `hash` does not touch a database.
type gate struct {
	cfg    *config.Config
	file   *config.GateFile
	logger *slog.Logger

	closers []func() error
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// loadGate reads the environment and the gate file.
func loadGate(stderr io.Writer) (*gate, error) {
	cfg := config.Load()
	file, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	return &gate{cfg: cfg, file: file, logger: newLogger(cfg, stderr)}, nil
}

func (g *gate) Close() {
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](); err != nil {
			g.logger.Warn("close failed", "error", err)
		}
	}
	g.closers = nil
}

func (g *gate) builder() *intent.Builder {
	return intent.NewBuilder(intent.WithBucketWidth(g.file.TTL.Bucket))
}

func (g *gate) engine() (*eqc.Engine, error) {
	return g.file.Engine()
}

// openKV opens a SQLite store at path, or an in-memory one for "".
func (g *gate) openKV(path string) (store.KV, error) {
	if path == "" {
		return store.NewMemoryKV(), nil
	}
	kv, err := store.OpenSQLiteKV(path)
	if err != nil {
		return nil, err
	}
	g.closers = append(g.closers, kv.Close)
	return kv, nil
}

func (g *gate) accounts() (*accounts.Store, error) {
	if g.cfg.AccountsDB == "" {
		g.logger.Warn("GATE_ACCOUNTS_DB not set; every account is unknown and treated as watch-only")
	}
	kv, err := g.openKV(g.cfg.AccountsDB)
	if err != nil {
		return nil, err
	}
	return accounts.NewStore(kv), nil
}

func (g *gate) auditStore() (*audit.StoreLogger, error) {
	if g.cfg.AuditDB == "" {
		return nil, nil
	}
	kv, err := g.openKV(g.cfg.AuditDB)
	if err != nil {
		return nil, err
	}
	return audit.NewStoreLogger(kv), nil
}

func (g *gate) ledger(ctx context.Context) (ledger.Ledger, error) {
	l, err := ledger.Open(ctx, g.file.LedgerOptions(g.cfg), g.logger)
	if err != nil {
		return nil, err
	}
	g.closers = append(g.closers, l.Close)
	return l, nil
}

// telemetry starts the OTLP provider when OTEL_ENABLED is set.
func (g *gate) telemetry(ctx context.Context) (*observability.Provider, *observability.GateMetrics, error) {
	oc := observability.DefaultConfig()
	oc.Enabled = g.cfg.OTelEnabled
	oc.OTLPEndpoint = g.cfg.OTLPEndpoint
	oc.Insecure = true
	p, err := observability.New(ctx, oc)
	if err != nil {
		return nil, nil, err
	}
	g.closers = append(g.closers, func() error { return p.Shutdown(context.Background()) })
	m, err := observability.NewGateMetrics(p)
	if err != nil {
		return nil, nil, err
	}
	return p, m, nil
}

// orchestrator wires every component from configuration.
func (g *gate) orchestrator(ctx context.Context, auditOut io.Writer) (*runtime.Orchestrator, error) {
	engine, err := g.engine()
	if err != nil {
		return nil, err
	}
	accts, err := g.accounts()
	if err != nil {
		return nil, err
	}
	nonces, err := g.ledger(ctx)
	if err != nil {
		return nil, err
	}

	secret, err := g.cfg.RootSecret()
	if err != nil {
		return nil, err
	}
	issuerOpts := []wsqk.IssuerOption{wsqk.WithCeiling(g.file.TTL.CapabilityCeiling)}
	if secret != nil {
		issuerOpts = append(issuerOpts, wsqk.WithRootSecret(secret))
	}
	issuer, err := wsqk.NewIssuer(issuerOpts...)
	if err != nil {
		return nil, err
	}
	guard, err := wsqk.NewGuard(issuer, nonces)
	if err != nil {
		return nil, err
	}

	sinks := []audit.Logger{audit.NewLoggerWithWriter(auditOut)}
	stored, err := g.auditStore()
	if err != nil {
		return nil, err
	}
	if stored != nil {
		sinks = append(sinks, stored)
	}

	provider, metrics, err := g.telemetry(ctx)
	if err != nil {
		return nil, err
	}

	return runtime.New(runtime.Deps{
		Accounts: accts,
		Builder:  g.builder(),
		Engine:   engine,
		Binder:   wsqk.NewBinder(wsqk.WithScopeTTL(g.file.TTL.Scope)),
		Issuer:   issuer,
		Guard:    guard,
	},
		runtime.WithAudit(audit.Multi(sinks...)),
		runtime.WithMetrics(metrics),
		runtime.WithTelemetry(provider),
		runtime.WithShieldTimeout(g.file.Shield.Timeout),
		runtime.WithLogger(g.logger.With("component", "runtime")),
	)
}

// readIntent decodes an intent document from path, or stdin for "-".
func readIntent(path string) (intent.Intent, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return intent.Intent{}, fmt.Errorf("read intent: %w", err)
	}
	return intent.DecodeJSON(raw)
}
