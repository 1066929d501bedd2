package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notebinder/internal/storage"
)

// messyDB creates a database whose two notebooks are numbered 5 and 9.
func messyDB(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "notes.db")
	db, err := storage.New(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	require.NoError(t, storage.Migrate(db))

	h := storage.NewHierarchy(db)
	a, err := h.Notebooks.Create(ctx, "A")
	require.NoError(t, err)
	b, err := h.Notebooks.Create(ctx, "B")
	require.NoError(t, err)
	_, err = db.Exec("UPDATE notebooks SET order_index = ? WHERE id = ?", 5, a.ID)
	require.NoError(t, err)
	_, err = db.Exec("UPDATE notebooks SET order_index = ? WHERE id = ?", 9, b.ID)
	require.NoError(t, err)
	return path
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestOrderIndexes_DryRunThenApply(t *testing.T) {
	path := messyDB(t)

	code, out, _ := runCLI("order-indexes", path, "--verbose")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Notebooks changes (id -> new_order_index):")
	assert.Contains(t, out, "  1 -> 1\n")
	assert.Contains(t, out, "  2 -> 2\n")
	assert.Contains(t, out, "notebooks: 2 updates\nsections: no changes\npages: no changes\n")
	assert.Contains(t, out, "Dry run; re-run with --apply to persist.")

	// The dry run wrote nothing.
	code, out, _ = runCLI("order-indexes", "--dry-run", path)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "notebooks: 2 updates")

	code, out, _ = runCLI("order-indexes", "--apply", path)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Applied normalization.")

	code, out, _ = runCLI("order-indexes", "--apply", path)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Already normalized.")
}

func TestOrderIndexes_Errors(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.db")
	code, out, errOut := runCLI("order-indexes", missing)
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
	assert.Equal(t, "Error: database '"+missing+"' not found\n", errOut)

	code, _, errOut = runCLI("order-indexes", "--dry-run", "--apply", messyDB(t))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Error:")

	code, _, _ = runCLI("order-indexes")
	assert.Equal(t, 1, code)
}
