package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Exit codes shared by every subcommand.
const (
	exitOK      = 0
	exitBlocked = 1 // policy said no, or the request was blocked
	exitError   = 2 // usage or runtime error
)

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return exitError
	}

	switch args[1] {
	case "hash":
		return runHashCmd(args[2:], stdout, stderr)
	case "decide":
		return runDecideCmd(args[2:], stdout, stderr)
	case "execute":
		return runExecuteCmd(args[2:], stdout, stderr)
	case "accounts":
		return runAccountsCmd(args[2:], stdout, stderr)
	case "packs":
		return runPacksCmd(args[2:], stdout, stderr)
	case "prune":
		return runPruneCmd(args[2:], stdout, stderr)
	case "audit":
		return runAuditCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return exitOK
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return exitError
	}
}

// ANSI Colors
const (
	ColorReset = "\033[0m"
	ColorBold  = "\033[1m"
	ColorBlue  = "\033[34m"
	ColorCyan  = "\033[36m"
	ColorGreen = "\033[32m"
	ColorGray  = "\033[37m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sgatectl%s\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintf(w, "%sPolicy decides. Capabilities execute. Nothing signs twice.%s\n", ColorGray, ColorReset)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%sUSAGE:%s\n", ColorBold, ColorReset)
	fmt.Fprintln(w, "  gatectl <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "POLICY")
	printCommand(w, "hash", "Print the context hash of an intent (--intent)")
	printCommand(w, "decide", "Evaluate policy for an intent (--intent, --json)")
	printCommand(w, "packs", "List registered and configured policy packs")

	printSection(w, "EXECUTION")
	printCommand(w, "execute", "Run an intent through the full gate (--intent, --shield)")
	printCommand(w, "accounts", "Manage account metadata (add|list)")

	printSection(w, "MAINTENANCE")
	printCommand(w, "prune", "Drop expired nonces from the ledger")
	printCommand(w, "audit", "List stored audit events")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")

	printSection(w, "ENVIRONMENT")
	fmt.Fprintln(w, "  GATE_CONFIG, GATE_LEDGER_BACKEND, GATE_LEDGER_DSN, REDIS_ADDR,")
	fmt.Fprintln(w, "  GATE_ACCOUNTS_DB, GATE_AUDIT_DB, GATE_ROOT_SECRET, LOG_LEVEL, OTEL_ENABLED")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-10s%s %s\n", ColorGreen, name, ColorReset, desc)
}
