package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notebinder/internal/apperr"
	"notebinder/internal/config"
	"notebinder/internal/mediastore"
	"notebinder/internal/retention"
	"notebinder/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		DBPath:             filepath.Join(dir, "notes.db"),
		BackupDir:          filepath.Join(dir, "backups"),
		BackupKeep:         2,
		BackupIncludeMedia: true,
		StaleTempMaxAge:    time.Hour,
		DBBusyTimeout:      2 * time.Second,
	}
}

func openApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

type tree struct {
	notebook *storage.Notebook
	section  *storage.Section
	page     *storage.Page
}

func seed(t *testing.T, a *App) tree {
	t.Helper()
	ctx := context.Background()
	nb, err := a.Hierarchy.Notebooks.Create(ctx, "Journal")
	require.NoError(t, err)
	sec, err := a.Hierarchy.Sections.Create(ctx, nb.ID, "Days")
	require.NoError(t, err)
	page, err := a.Hierarchy.Pages.Create(ctx, sec.ID, nil, "Monday")
	require.NoError(t, err)
	return tree{notebook: nb, section: sec, page: page}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestOpen_DefaultMediaRoot(t *testing.T) {
	cfg := testConfig(t)
	a := openApp(t, cfg)
	assert.Equal(t, mediastore.RootForDB(cfg.DBPath), a.Store.Root())

	version, err := storage.UserVersion(context.Background(), a.DB())
	require.NoError(t, err)
	assert.Positive(t, version)

	custom := testConfig(t)
	custom.MediaRoot = filepath.Join(t.TempDir(), "blobs")
	b := openApp(t, custom)
	assert.Equal(t, custom.MediaRoot, b.Store.Root())
}

func TestBackupOnExit(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a := openApp(t, cfg)
	tr := seed(t, a)
	_, err := a.AttachFile(ctx, tr.page.ID, writeFile(t, "note.txt", "attached"), "")
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(cfg.BackupDir, 0o755))
	old := time.Now().Add(-24 * time.Hour)
	var previous []string
	for i, name := range []string{"notes-20250101-000000.bundle", "notes-20250102-000000.bundle"} {
		p := filepath.Join(cfg.BackupDir, name)
		require.NoError(t, os.WriteFile(p, []byte("old"), 0o644))
		mt := old.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, mt, mt))
		previous = append(previous, p)
	}
	stale := filepath.Join(cfg.BackupDir, "notes-20250103-000000.bundle.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("partial"), 0o644))
	require.NoError(t, os.Chtimes(stale, old, old))

	path, err := a.BackupOnExit(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "notes-"))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale temp file swept")

	left, err := retention.ListBundles(cfg.BackupDir, "notes")
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, path, left[0].Path)
	assert.Equal(t, previous[1], left[1].Path)
}

func TestAttachFile(t *testing.T) {
	ctx := context.Background()
	a := openApp(t, testConfig(t))
	tr := seed(t, a)

	m, err := a.AttachFile(ctx, tr.page.ID, writeFile(t, "report.pdf", "%PDF-1.4 body"), "")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", m.OriginalFilename)
	refs, err := a.Media.ListRefs(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, []storage.MediaRef{{MediaID: m.ID, Owner: storage.PageOwner(tr.page.ID), Role: storage.RoleAttachment}}, refs)

	_, err = a.AttachFile(ctx, tr.page.ID, filepath.Join(t.TempDir(), "missing.bin"), "")
	assert.ErrorIs(t, err, apperr.ErrIO)

	_, err = a.AttachFile(ctx, 9999, writeFile(t, "x.txt", "x"), "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, a.Hierarchy.Pages.Trash(ctx, tr.page.ID))
	_, err = a.AttachFile(ctx, tr.page.ID, writeFile(t, "y.txt", "y"), "")
	assert.ErrorIs(t, err, apperr.ErrReadOnly)
}

func TestCreatePageFromMarkdown(t *testing.T) {
	ctx := context.Background()
	a := openApp(t, testConfig(t))
	tr := seed(t, a)

	md := "# Plan\n\n- [x] pack\n- [ ] leave\n\n| day | place |\n|-----|-------|\n| 1 | Oslo |\n\n~~cancelled~~\n"
	page, err := a.CreatePageFromMarkdown(ctx, tr.section.ID, &tr.page.ID, "Plan", md)
	require.NoError(t, err)
	require.NotNil(t, page.ParentPageID)
	assert.Equal(t, tr.page.ID, *page.ParentPageID)

	stored, err := a.Hierarchy.Pages.Get(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, page.ContentHTML, stored.ContentHTML)
	for _, want := range []string{`<h1 id="plan">Plan</h1>`, "<table>", `type="checkbox"`, "<del>cancelled</del>"} {
		assert.Contains(t, stored.ContentHTML, want)
	}

	_, err = a.CreatePageFromMarkdown(ctx, 9999, nil, "Nowhere", "text")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	missing := int64(9999)
	_, err = a.CreatePageFromMarkdown(ctx, tr.section.ID, &missing, "Dangling", "text")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	pages, err := a.Hierarchy.Pages.ListBySection(ctx, tr.section.ID)
	require.NoError(t, err)
	assert.Len(t, pages, 2, "failed create leaves no page behind")
}

func TestCleanUnusedMedia(t *testing.T) {
	ctx := context.Background()
	a := openApp(t, testConfig(t))
	tr := seed(t, a)

	kept, err := a.AttachFile(ctx, tr.page.ID, writeFile(t, "keep.txt", "keep"), "")
	require.NoError(t, err)
	dropped, err := a.AttachFile(ctx, tr.page.ID, writeFile(t, "drop.txt", "drop"), "")
	require.NoError(t, err)
	require.NoError(t, a.Store.RemoveReference(ctx, dropped.ID, storage.PageOwner(tr.page.ID)))

	n, err := a.CleanUnusedMedia(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(a.Store.PathFor(dropped))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(a.Store.PathFor(kept))
	assert.NoError(t, err)
}

func TestSaveAs(t *testing.T) {
	ctx := context.Background()
	a := openApp(t, testConfig(t))
	tr := seed(t, a)
	m, err := a.AttachFile(ctx, tr.page.ID, writeFile(t, "pic.txt", "bytes"), "")
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "copy", "copy.db")
	require.NoError(t, a.SaveAs(ctx, target, false))

	copied, err := Open(ctx, &config.Config{DBPath: target, BackupDir: t.TempDir()})
	require.NoError(t, err)
	got, err := copied.Hierarchy.Notebooks.Get(ctx, tr.notebook.ID)
	require.NoError(t, err)
	assert.Equal(t, "Journal", got.Title)
	body, err := os.ReadFile(copied.Store.PathFor(m))
	require.NoError(t, err)
	assert.Equal(t, "bytes", string(body))
	require.NoError(t, copied.Close())

	err = a.SaveAs(ctx, target, false)
	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &conflict)

	require.NoError(t, a.Hierarchy.Notebooks.Rename(ctx, tr.notebook.ID, "Journal v2"))
	require.NoError(t, a.SaveAs(ctx, target, true))
	copied, err = Open(ctx, &config.Config{DBPath: target, BackupDir: t.TempDir()})
	require.NoError(t, err)
	defer func() { _ = copied.Close() }()
	got, err = copied.Hierarchy.Notebooks.Get(ctx, tr.notebook.ID)
	require.NoError(t, err)
	assert.Equal(t, "Journal v2", got.Title)

	err = a.SaveAs(ctx, a.cfg.DBPath, true)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestImportMarkdownDir(t *testing.T) {
	ctx := context.Background()
	a := openApp(t, testConfig(t))

	root := filepath.Join(t.TempDir(), "Vault")
	for name, body := range map[string]string{
		"index.md":                   "# Home",
		"projects/alpha.md":          "alpha *notes*",
		"projects/archive/old/x.md":  "x",
		"projects/archive/readme.md": "r",
		".obsidian/workspace.md":     "skip",
	} {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	nb, err := a.ImportMarkdownDir(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, "Vault", nb.Title)

	sections, err := a.Hierarchy.Sections.ListByNotebook(ctx, nb.ID)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	// Files are visited in path order: index.md before projects/.
	assert.Equal(t, rootSectionTitle, sections[0].Title)
	assert.Equal(t, "projects", sections[1].Title)

	tree, err := a.Hierarchy.Pages.ChildIndex(ctx, sections[1].ID)
	require.NoError(t, err)
	var lines []string
	tree.Walk(func(p *storage.Page, depth int) bool {
		lines = append(lines, strings.Repeat("  ", depth)+p.Title)
		return true
	})
	assert.Equal(t, []string{"alpha", "archive", "  old", "    x", "  readme"}, lines)

	roots := tree.Roots()
	assert.Contains(t, roots[0].ContentHTML, "<em>notes</em>")

	home, err := a.Hierarchy.Pages.ListBySection(ctx, sections[0].ID)
	require.NoError(t, err)
	require.Len(t, home, 1)
	assert.Equal(t, "index", home[0].Title)

	_, err = a.ImportMarkdownDir(ctx, filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, apperr.ErrIO)
}
