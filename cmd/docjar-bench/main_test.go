package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/docjar"
)

func TestRun_Memory(t *testing.T) {
	docjar.ResetCaches()
	var out, errOut bytes.Buffer
	code := run(&out, &errOut, []string{"-n", "20", "--conflicts", "simple"})
	require.Equal(t, 0, code, errOut.String())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "Insert:"))
	assert.True(t, strings.HasPrefix(lines[5], "Deletion:"))
}

func TestRun_Bolt(t *testing.T) {
	docjar.ResetCaches()
	var out, errOut bytes.Buffer
	path := filepath.Join(t.TempDir(), "bench.db")
	code := run(&out, &errOut, []string{"--objects=5", "--path", path})
	require.Equal(t, 0, code, errOut.String())
	assert.FileExists(t, path)
}

func TestRun_BadFlags(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run(&out, &errOut, []string{"--objects", "0"}))
	assert.Equal(t, 2, run(&out, &errOut, []string{"--conflicts", "maybe"}))
	assert.Equal(t, 2, run(&out, &errOut, []string{"--nope"}))
}
