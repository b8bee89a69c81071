// Command doccheck validates the repository's markdown: relative links
// must resolve and backticked .go/.yaml paths must exist.
//
// Usage:
//
//	go run ./tools/doccheck [-root <project-root>] [file.md ...]
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	linkRe    = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	fileRefRe = regexp.MustCompile("`([a-zA-Z0-9_./-]+\\.(?:go|yaml|yml))`")
)

func main() {
	root := flag.String("root", ".", "Project root directory")
	flag.Parse()
	files := flag.Args()
	if len(files) == 0 {
		files = []string{"DESIGN.md"}
	}
	os.Exit(run(*root, files, os.Stdout, os.Stderr))
}

func run(root string, files []string, stdout, stderr io.Writer) int {
	var issues []string
	for _, name := range files {
		found, err := checkFile(root, filepath.Join(root, name))
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %v\n", err)
			return 1
		}
		issues = append(issues, found...)
	}

	if len(issues) > 0 {
		fmt.Fprintln(stdout, "Documentation issues found:")
		for _, issue := range issues {
			fmt.Fprintln(stdout, "  ", issue)
		}
		return 1
	}
	fmt.Fprintln(stdout, "Documentation check passed.")
	return 0
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func checkFile(root, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var issues []string
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		for _, m := range linkRe.FindAllStringSubmatch(line, -1) {
			link := m[2]
			if strings.HasPrefix(link, "http") || strings.HasPrefix(link, "#") {
				continue
			}
			if !exists(filepath.Join(filepath.Dir(path), link)) && !exists(filepath.Join(root, link)) {
				issues = append(issues, fmt.Sprintf("%s:%d: broken link %q", path, lineNum, link))
			}
		}

		for _, m := range fileRefRe.FindAllStringSubmatch(line, -1) {
			ref := m[1]
			// Bare file names are descriptions, not paths.
			if !strings.Contains(ref, "/") {
				continue
			}
			if !exists(filepath.Join(root, ref)) {
				issues = append(issues, fmt.Sprintf("%s:%d: file ref %q not found", path, lineNum, ref))
			}
		}
	}
	return issues, scanner.Err()
}
