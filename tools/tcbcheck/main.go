// Command tcbcheck keeps the decision and capability core free of I/O.
//
// The packages that decide (eqc), hash (intent, canonicalize) and mint or
// check capabilities (wsqk) must stay pure: no transport, no database
// drivers, no telemetry, and no imports of the layers built on top of
// them. Test files are exempt.
//
// Usage:
//
//	go run ./tools/tcbcheck [-root <project-root>]
package main

import (
	"flag"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// corePackages are checked, relative to the project root.
var corePackages = []string{
	"pkg/canonicalize",
	"pkg/intent",
	"pkg/eqc",
	"pkg/wsqk",
	"pkg/reasons",
}

// Forbidden import path fragments for core packages.
var forbiddenFragments = []string{
	"net/http",
	"database/sql",
	"github.com/redis/",
	"github.com/lib/pq",
	"modernc.org/sqlite",
	"go.opentelemetry.io/",
	"/pkg/runtime",
	"/pkg/shield",
	"/pkg/store",
	"/pkg/config",
	"/pkg/audit",
	"/pkg/observability",
	"/pkg/accounts",
}

type violation struct {
	File     string
	Line     int
	Import   string
	Fragment string
}

func (v violation) String() string {
	return fmt.Sprintf("%s:%d imports %q (forbidden: %q)", v.File, v.Line, v.Import, v.Fragment)
}

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()
	os.Exit(run(*root, os.Stdout, os.Stderr))
}

func run(root string, stdout, stderr io.Writer) int {
	violations, err := check(root, corePackages, forbiddenFragments)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	for _, v := range violations {
		fmt.Fprintf(stdout, "CORE VIOLATION: %s\n", v)
	}
	if len(violations) > 0 {
		fmt.Fprintf(stdout, "\n%d core isolation violation(s) found\n", len(violations))
		return 1
	}
	fmt.Fprintln(stdout, "core isolation check passed")
	return 0
}

// check parses the imports of every non-test Go file under each package
// directory and reports imports containing a forbidden fragment.
func check(root string, packages, fragments []string) ([]violation, error) {
	var out []violation
	fset := token.NewFileSet()

	for _, pkg := range packages {
		dir := filepath.Join(root, pkg)
		if _, err := os.Stat(dir); err != nil {
			return nil, fmt.Errorf("%s: %w", dir, err)
		}
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() {
				if info.Name() == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}

			f, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
			if err != nil {
				return fmt.Errorf("parse %s: %w", path, err)
			}
			for _, imp := range f.Imports {
				importPath := strings.Trim(imp.Path.Value, `"`)
				for _, frag := range fragments {
					if strings.Contains(importPath, frag) {
						pos := fset.Position(imp.Pos())
						rel, _ := filepath.Rel(root, pos.Filename)
						out = append(out, violation{File: rel, Line: pos.Line, Import: importPath, Fragment: frag})
					}
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
