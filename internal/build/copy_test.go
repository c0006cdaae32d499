package build

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCopyTreeRecursive(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "out", "static")

	writeFile(t, filepath.Join(src, "index.txt"), "top")
	writeFile(t, filepath.Join(src, "nested", "deep", "file.txt"), "deep")

	require.NoError(t, copyTree(src, dest))

	data, err := os.ReadFile(filepath.Join(dest, "nested", "deep", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deep", string(data))
}

func TestCopyTreeReplacesPriorContents(t *testing.T) {
	src := t.TempDir()
	dest := filepath.Join(t.TempDir(), "static")

	writeFile(t, filepath.Join(dest, "stale.txt"), "stale")
	writeFile(t, filepath.Join(src, "fresh.txt"), "fresh")

	require.NoError(t, copyTree(src, dest))

	assert.NoFileExists(t, filepath.Join(dest, "stale.txt"))
	assert.FileExists(t, filepath.Join(dest, "fresh.txt"))
}

func TestCopyTreeLeavesNoStagingBehind(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.txt"), "a")
	parent := t.TempDir()
	dest := filepath.Join(parent, "static")

	require.NoError(t, copyTree(src, dest))

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "static", entries[0].Name())
}

func TestCopyFilePreservesMode(t *testing.T) {
	src := t.TempDir()
	script := filepath.Join(src, "run.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"), 0o755))

	dest := filepath.Join(t.TempDir(), "static")
	require.NoError(t, copyTree(src, dest))

	info, err := os.Stat(filepath.Join(dest, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
}
