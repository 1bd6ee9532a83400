package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garlicbreadcleric/increadable/internal/domain"
	"github.com/garlicbreadcleric/increadable/internal/repositories"
)

func seed(t *testing.T, docs ...*domain.Document) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lib", "reader.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	store, err := repositories.NewSQLiteStore(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer store.Close()
	for _, d := range docs {
		require.NoError(t, store.Add(context.Background(), d))
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config="}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestListAndRemove(t *testing.T) {
	db := seed(t,
		&domain.Document{ID: "b", Type: domain.DocumentTypePdf, Metadata: &domain.Metadata{Title: "Alpha"}},
		&domain.Document{ID: "a", Type: domain.DocumentTypeEbook, Metadata: &domain.Metadata{Title: "Beta"}},
	)

	out, err := run(t, "list", "--db", db)
	require.NoError(t, err)
	assert.Regexp(t, `(?s)^a\s.*Beta.*\nb\s.*Alpha`, out)

	out, err = run(t, "list", "--db", db, "--order", "title")
	require.NoError(t, err)
	assert.Regexp(t, `(?s)^b\s.*Alpha.*\na\s.*Beta`, out)

	out, err = run(t, "rm", "b", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed: b")

	out, err = run(t, "list", "--db", db)
	require.NoError(t, err)
	assert.NotContains(t, out, "Alpha")
}

func TestTOCAndBookmarks(t *testing.T) {
	current := 3
	db := seed(t, &domain.Document{
		ID:                  "novel",
		Type:                domain.DocumentTypeEbook,
		PreviewMarkup:       `<h1>One</h1><p>first</p><h2>One.a</h2><p>second</p><h1>Two</h1>`,
		CurrentElementIndex: &current,
		Bookmarks: []domain.Bookmark{
			{ID: "bm-late", ElementIndex: 3, Content: "second", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "bm-early", ElementIndex: 1, Content: "first", CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		},
	})

	out, err := run(t, "toc", "novel", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "* One\n*   One.a\n  Two\n", out)

	out, err = run(t, "bookmarks", "novel", "--db", db)
	require.NoError(t, err)
	assert.Regexp(t, `(?s)^bm-early.*\nbm-late`, out)

	out, err = run(t, "bookmarks", "novel", "--db", db, "--order", "oldest")
	require.NoError(t, err)
	assert.Regexp(t, `(?s)^bm-late.*\nbm-early`, out)
}

func TestEmptyLibrary(t *testing.T) {
	db := seed(t)

	out, err := run(t, "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No documents yet")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b c", truncate("a\n  b\tc", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))
}

func TestInspectRejectsBrokenEPUB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.epub")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o600))

	_, err := run(t, "inspect", path)
	assert.Error(t, err)

	_, err = run(t, "upload", path, "--db", seed(t))
	assert.Error(t, err, "broken e-books never reach the remote service")
}
