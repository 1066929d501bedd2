package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"notebinder/internal/apperr"
	"notebinder/internal/storage"
	"notebinder/internal/vault"
)

// rootSectionTitle holds the markdown files at the top of an imported folder.
const rootSectionTitle = "Notes"

// ImportMarkdownDir creates a notebook named after dir from the markdown
// files below it. Top-level folders become sections, deeper folders become
// empty parent pages and every file becomes a rendered page. On failure the
// partially imported notebook is removed.
func (a *App) ImportMarkdownDir(ctx context.Context, dir string) (*storage.Notebook, error) {
	log := logger(ctx)

	files, err := vault.Scan(ctx, dir)
	if err != nil {
		return nil, &apperr.IOError{Op: "scan", Path: dir, Err: err}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &apperr.IOError{Op: "resolve", Path: dir, Err: err}
	}

	nb, err := a.Hierarchy.Notebooks.Create(ctx, filepath.Base(abs))
	if err != nil {
		return nil, err
	}
	imp := &markdownImport{app: a, notebookID: nb.ID,
		sections: make(map[string]int64), folders: make(map[string]int64)}
	for _, f := range files {
		if err := imp.add(ctx, f); err != nil {
			if delErr := a.Hierarchy.Notebooks.Delete(ctx, nb.ID); delErr != nil {
				log.WarnContext(ctx, "failed to remove partially imported notebook", "notebook_id", nb.ID, "error", delErr)
			}
			return nil, err
		}
	}

	log.InfoContext(ctx, "markdown folder imported", "dir", abs, "notebook_id", nb.ID,
		"pages", len(files), "sections", len(imp.sections))
	return nb, nil
}

type markdownImport struct {
	app        *App
	notebookID int64
	sections   map[string]int64 // top-level folder -> section id
	folders    map[string]int64 // folder path -> parent page id
}

func (m *markdownImport) add(ctx context.Context, f vault.ScannedFile) error {
	data, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return &apperr.IOError{Op: "read", Path: f.AbsPath, Err: err}
	}

	top, rest := f.Folder, ""
	if i := strings.IndexByte(f.Folder, '/'); i >= 0 {
		top, rest = f.Folder[:i], f.Folder[i+1:]
	}
	sectionID, err := m.section(ctx, top)
	if err != nil {
		return err
	}
	parent, err := m.folderPage(ctx, sectionID, top, rest)
	if err != nil {
		return err
	}
	_, err = m.app.CreatePageFromMarkdown(ctx, sectionID, parent, f.Title(), string(data))
	return err
}

func (m *markdownImport) section(ctx context.Context, top string) (int64, error) {
	if id, ok := m.sections[top]; ok {
		return id, nil
	}
	title := top
	if title == "" {
		title = rootSectionTitle
	}
	sec, err := m.app.Hierarchy.Sections.Create(ctx, m.notebookID, title)
	if err != nil {
		return 0, err
	}
	m.sections[top] = sec.ID
	return sec.ID, nil
}

// folderPage returns the page standing for folder rest inside section top,
// creating it and its ancestors as needed. An empty rest is the section root.
func (m *markdownImport) folderPage(ctx context.Context, sectionID int64, top, rest string) (*int64, error) {
	if rest == "" {
		return nil, nil
	}
	key := top + "/" + rest
	if id, ok := m.folders[key]; ok {
		return &id, nil
	}

	parentRest, name := "", rest
	if i := strings.LastIndexByte(rest, '/'); i >= 0 {
		parentRest, name = rest[:i], rest[i+1:]
	}
	parent, err := m.folderPage(ctx, sectionID, top, parentRest)
	if err != nil {
		return nil, err
	}
	page, err := m.app.Hierarchy.Pages.Create(ctx, sectionID, parent, name)
	if err != nil {
		return nil, err
	}
	m.folders[key] = page.ID
	return &page.ID, nil
}
