package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/adamantine-wallet/gate/pkg/accounts"
	"github.com/adamantine-wallet/gate/pkg/canonicalize"
)

// runAccountsCmd implements `gatectl accounts <add|list>`.
func runAccountsCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "Usage: gatectl accounts <add|list> [flags]")
		return exitError
	}

	cmd := flag.NewFlagSet("accounts "+args[0], flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		walletID  string
		accountID string
		index     uint
		watchOnly bool
		label     string
	)
	cmd.StringVar(&walletID, "wallet", "", "Wallet ID (REQUIRED)")
	cmd.StringVar(&accountID, "account", "", "Account ID (add only)")
	cmd.UintVar(&index, "index", 0, "Account index (add only)")
	cmd.BoolVar(&watchOnly, "watch-only", false, "Mark the account watch-only (add only)")
	cmd.StringVar(&label, "label", "", "Display label (add only)")
	if err := cmd.Parse(args[1:]); err != nil {
		return exitError
	}
	walletID = canonicalize.NormalizeString(walletID)
	accountID = canonicalize.NormalizeString(accountID)
	if walletID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --wallet is required")
		return exitError
	}
	if index > math.MaxUint32 {
		_, _ = fmt.Fprintf(stderr, "Error: --index must be at most %d\n", uint32(math.MaxUint32))
		return exitError
	}

	g, err := loadGate(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer g.Close()

	st, err := g.accounts()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	ctx := context.Background()

	switch args[0] {
	case "add":
		if err := st.Save(ctx, accounts.State{
			WalletID:  walletID,
			AccountID: accountID,
			Index:     uint32(index),
			WatchOnly: watchOnly,
			Label:     label,
		}); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		_, _ = fmt.Fprintf(stdout, "saved %s/%s watch_only=%t\n", walletID, accountID, watchOnly)
		return exitOK
	case "list":
		list, err := st.List(ctx, walletID)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		for _, a := range list {
			_, _ = fmt.Fprintf(stdout, "%s\t%d\twatch_only=%t\t%s\n", a.AccountID, a.Index, a.WatchOnly, a.Label)
		}
		return exitOK
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown accounts subcommand: %s\n", args[0])
		return exitError
	}
}

// runPruneCmd implements `gatectl prune`.
func runPruneCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("prune", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return exitError
	}

	g, err := loadGate(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer g.Close()

	ctx := context.Background()
	l, err := g.ledger(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	n, err := l.Prune(ctx, time.Now())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	_, _ = fmt.Fprintf(stdout, "pruned %d expired nonces\n", n)
	return exitOK
}

// runAuditCmd implements `gatectl audit`, printing stored events as JSON
// lines.
func runAuditCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("audit", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return exitError
	}

	g, err := loadGate(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer g.Close()

	st, err := g.auditStore()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if st == nil {
		_, _ = fmt.Fprintln(stderr, "Error: GATE_AUDIT_DB is not set")
		return exitError
	}
	events, err := st.List(context.Background())
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	enc := json.NewEncoder(stdout)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
	}
	return exitOK
}
