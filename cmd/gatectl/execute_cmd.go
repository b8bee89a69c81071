package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/adamantine-wallet/gate/pkg/intent"
	"github.com/adamantine-wallet/gate/pkg/reasons"
	"github.com/adamantine-wallet/gate/pkg/runtime"
	"github.com/adamantine-wallet/gate/pkg/shield"
	"github.com/adamantine-wallet/gate/pkg/wsqk"
)

// authorization is what the dry-run executor reports. gatectl holds no
// keys; signing happens in the wallet process that receives this.
type authorization struct {
	CapabilityID string    `json:"capability_id"`
	WalletID     string    `json:"wallet_id"`
	Action       string    `json:"action"`
	ContextHash  string    `json:"context_hash"`
	AuthorizedAt time.Time `json:"authorized_at"`
}

var errNotRedeemed = errors.New("authorization was not redeemed")

func dryRunExecutor() runtime.Executor {
	return runtime.ExecutorFunc(func(_ context.Context, a *wsqk.AuthorizedExecution, _ intent.Intent) (any, error) {
		if !a.Redeemed() {
			return nil, errNotRedeemed
		}
		return authorization{
			CapabilityID: a.CapabilityID(),
			WalletID:     a.WalletID(),
			Action:       a.Action(),
			ContextHash:  a.ContextHash(),
			AuthorizedAt: a.AuthorizedAt().UTC(),
		}, nil
	})
}

// selectShield picks the risk gate. "config" uses the gate file URL; the
// static modes are an explicit operator choice. No URL and no mode leaves
// the gate nil, which blocks.
func selectShield(mode string, g *gate) (shield.Gate, error) {
	switch mode {
	case "", "config":
		if h := g.file.HTTPShield(); h != nil {
			return h, nil
		}
		return nil, nil
	case "pass":
		return shield.Static(shield.Passed()), nil
	case "block":
		return shield.Static(shield.Blocked(reasons.ShieldBlocked)), nil
	}
	return nil, fmt.Errorf("unknown --shield mode %q (config|pass|block)", mode)
}

type blockedOutput struct {
	Blocked      string   `json:"blocked"`
	Detail       string   `json:"detail,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
	Reasons      []string `json:"reasons,omitempty"`
	ContextHash  string   `json:"context_hash,omitempty"`
}

// runExecuteCmd implements `gatectl execute`.
//
// Exit codes:
//
//	0 = authorized and executed
//	1 = blocked
//	2 = invalid intent or runtime error
func runExecuteCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("execute", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		intentPath string
		shieldMode string
		auditLog   bool
	)
	cmd.StringVar(&intentPath, "intent", "", "Path to intent JSON, or - for stdin (REQUIRED)")
	cmd.StringVar(&shieldMode, "shield", "config", "Risk gate: config, pass or block")
	cmd.BoolVar(&auditLog, "audit", false, "Also write AUDIT: lines to stderr")
	if err := cmd.Parse(args); err != nil {
		return exitError
	}
	if intentPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --intent is required")
		return exitError
	}

	g, err := loadGate(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer g.Close()

	in, err := readIntent(intentPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	riskGate, err := selectShield(shieldMode, g)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	ctx := context.Background()
	auditOut := io.Discard
	if auditLog {
		auditOut = stderr
	}
	orch, err := g.orchestrator(ctx, auditOut)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	res, err := orch.ExecuteIntent(ctx, in, riskGate, dryRunExecutor())
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if b, ok := runtime.AsBlocked(err); ok {
		_ = enc.Encode(blockedOutput{
			Blocked:      b.Reason,
			Detail:       b.Detail,
			Requirements: b.Requirements,
			Reasons:      b.DenyReasons,
			ContextHash:  b.ContextHash,
		})
		return exitBlocked
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if err := enc.Encode(res.Output); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return exitOK
}
