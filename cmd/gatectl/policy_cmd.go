package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/adamantine-wallet/gate/pkg/eqc"
)

// runHashCmd implements `gatectl hash`.
func runHashCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("hash", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	intentPath := cmd.String("intent", "", "Path to intent JSON, or - for stdin (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return exitError
	}
	if *intentPath == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --intent is required")
		return exitError
	}

	g, err := loadGate(stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer g.Close()

	in, err := readIntent(*intentPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	c, err := g.builder().Build(in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	_, _ = fmt.Fprintf(stdout, "%s\t%d\n", c.Hash, c.TimeBucket)
	return exitOK
}

// runDecideCmd implements `gatectl decide`. It evaluates policy only; no
// scope is bound and no nonce is consumed.
//
// Exit codes:
//
//	0 = ALLOW
//	1 = STEP_UP or DENY
//	2 = runtime error
func runDecideCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("decide", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		intentPath string
		jsonOutput bool
	)
	cmd.StringVar(&intentPath, "intent", "", "Path to intent JSON, or - for stdin (REQUIRED)")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the decision as JSON")
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

	engine, err := g.engine()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	in, err := readIntent(intentPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	c, err := g.builder().Build(in)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	d := engine.Decide(c)

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
	} else {
		_, _ = fmt.Fprintf(stdout, "verdict:      %s\n", d.Verdict.Kind)
		_, _ = fmt.Fprintf(stdout, "context_hash: %s\n", d.ContextHash)
		for _, r := range d.Verdict.Reasons {
			_, _ = fmt.Fprintf(stdout, "reason:       %s\n", r)
		}
		for _, r := range d.Verdict.Requirements {
			_, _ = fmt.Fprintf(stdout, "requires:     %s\n", r)
		}
	}

	if d.Verdict.Kind != eqc.Allow {
		return exitBlocked
	}
	return exitOK
}

// runPacksCmd implements `gatectl packs`.
func runPacksCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("packs", flag.ContinueOnError)
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

	reg, err := g.file.Registry()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	engine, err := g.engine()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	enabled := map[string]int{}
	for i, name := range engine.Packs() {
		enabled[name] = i + 1
	}

	_, _ = fmt.Fprintln(stdout, "registered:")
	for _, name := range reg.Names() {
		p, _ := reg.Get(name)
		status := "off"
		if pos, ok := enabled[name]; ok {
			status = fmt.Sprintf("#%d", pos)
		}
		_, _ = fmt.Fprintf(stdout, "  %-28s %-8s %s\n", name, p.Version(), status)
	}
	_, _ = fmt.Fprintf(stdout, "policy_set_hash: %s\n", engine.PolicySetHash())
	return exitOK
}
