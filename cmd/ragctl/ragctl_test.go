package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RAGCHAT_CONFIG_FILE", "")
	t.Setenv("RAGCHAT_STORE_DRIVER", "sqlite")
	t.Setenv("RAGCHAT_SQLITE_PATH", filepath.Join(dir, "ragchat.db"))
	t.Setenv("RAGCHAT_INDEX_PATH", filepath.Join(dir, "index.json"))
	t.Setenv("RAGCHAT_UPLOAD_DIR", filepath.Join(dir, "uploads"))
	t.Setenv("RAGCHAT_EMBED_DIM", "8")
	t.Setenv("RAGCHAT_INGEST_MODE", "local")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		askSession = ""
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootHasSubcommands(t *testing.T) {
	names := make([]string, 0)
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "ingest")
	assert.Contains(t, names, "ask")
	assert.Contains(t, names, "sessions")
	assert.Contains(t, names, "documents")
}

func TestIngestRequiresFile(t *testing.T) {
	setupTestEnv(t)
	_, err := run(t, "ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg(s)")
}

func TestIngestAskAndInspect(t *testing.T) {
	dir := setupTestEnv(t)
	file := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte(strings.Repeat("gopher ", 200)), 0o644))

	out, err := run(t, "ingest", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Indexed notes.txt: 2 chunks")

	out, err = run(t, "ask", "what", "is", "this?")
	require.NoError(t, err)
	assert.Contains(t, out, "Sources:")
	assert.Contains(t, out, "Model: mock:primary (1 attempt(s))")
	m := regexp.MustCompile(`Session: (\S+)`).FindStringSubmatch(out)
	require.Len(t, m, 2)
	sessionID := m[1]

	out, err = run(t, "ask", "--session", sessionID, "and more?")
	require.NoError(t, err)
	assert.Contains(t, out, "Session: "+sessionID)

	out, err = run(t, "sessions", "list")
	require.NoError(t, err)
	assert.Contains(t, out, sessionID)
	assert.Contains(t, out, "4 messages")

	out, err = run(t, "sessions", "show", sessionID)
	require.NoError(t, err)
	assert.Contains(t, out, "user: what is this?")
	assert.Contains(t, out, "retrieve chunks=")
	assert.Contains(t, out, "model=mock:primary attempt=1")

	out, err = run(t, "documents", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "File: notes.txt")
	assert.Contains(t, out, "Total: 1 documents")
}

func TestDocumentsDeleteUnknown(t *testing.T) {
	setupTestEnv(t)
	_, err := run(t, "documents", "delete", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "document not found: missing")
}

func TestSessionsShowUnknown(t *testing.T) {
	setupTestEnv(t)
	_, err := run(t, "sessions", "show", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found: missing")
}
