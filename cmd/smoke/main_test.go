package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFatalfRemovesScratchDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "smoke")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "gt"), 0o755))

	code := -1
	scratch, exit = dir, func(c int) { code = c }
	t.Cleanup(func() { scratch, exit = "", os.Exit })

	fatalf("evaluate: %v", "boom")
	assert.Equal(t, 1, code)
	assert.NoDirExists(t, dir)
}
