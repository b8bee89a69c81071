package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryDesignDocResolves(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(filepath.Join("..", ".."), []string{"DESIGN.md"}, &stdout, &stderr)
	assert.Equal(t, 0, code, stdout.String()+stderr.String())
}

func TestCheckFile_FindsBrokenReferences(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "eqc"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "eqc", "engine.go"), []byte("package eqc\n"), 0o600))

	doc := "ok `pkg/eqc/engine.go`\n" +
		"missing `pkg/eqc/gone.go`\n" +
		"bare `engine.go` is fine\n" +
		"[notes](NOTES.md) and [site](https://example.org)\n"
	path := filepath.Join(root, "DOC.md")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	issues, err := checkFile(root, path)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Contains(t, issues[0], "pkg/eqc/gone.go")
	assert.Contains(t, issues[1], "NOTES.md")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(root, []string{"DOC.md"}, &stdout, &stderr))
}
