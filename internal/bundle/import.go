package bundle

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"notebinder/internal/apperr"
	"notebinder/internal/mediastore"
	"notebinder/internal/normalize"
	"notebinder/internal/storage"
)

// ImportOptions configures Import.
type ImportOptions struct {
	// NormalizeFirst compacts every sibling group of the target database in
	// the import transaction before anything is inserted.
	NormalizeFirst bool
}

// Import adds the notebook in a .binder bundle to the database as a new
// notebook at the end of the list and returns its id. Titles that already
// exist get " (2)", " (3)", ... appended. Everything happens in one
// transaction; media files written by a failed import are removed again.
func (c *Codec) Import(ctx context.Context, bundlePath string, opts ImportOptions) (int64, error) {
	log := logger(ctx)

	zr, err := zip.OpenReader(bundlePath)
	if err != nil {
		return 0, &apperr.IOError{Op: "open", Path: bundlePath, Err: err}
	}
	defer func() {
		_ = zr.Close()
	}()

	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}
	manifest, err := readManifest(entries)
	if err != nil {
		return 0, err
	}

	if err := storage.EnsureMediaSchema(ctx, c.db); err != nil {
		return 0, err
	}

	imp := &importer{
		log:      log.With("bundle", bundlePath),
		store:    c.store,
		manifest: manifest,
		entries:  entries,
		sections: make(map[int64]int64),
		pages:    make(map[int64]int64),
		media:    make(map[int64]int64),
	}
	var notebookID int64
	err = storage.WithTx(ctx, c.db, "import binder", func(tx *sql.Tx) error {
		if opts.NormalizeFirst {
			plan, err := normalize.Run(ctx, tx)
			if err != nil {
				return err
			}
			log.DebugContext(ctx, "normalized before import", "updates", plan.Total())
		}
		var err error
		notebookID, err = imp.run(ctx, tx)
		return err
	})
	if err != nil {
		for _, p := range imp.created {
			if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
				log.WarnContext(ctx, "failed to remove media file from failed import", "path", p, "error", rmErr)
			}
		}
		return 0, unwrapTx(err)
	}

	log.InfoContext(ctx, "binder imported", "bundle", bundlePath, "notebook_id", notebookID,
		"sections", len(imp.sections), "pages", len(imp.pages), "media", len(imp.media),
		"refs", imp.refs, "skipped_refs", imp.skippedRefs)
	return notebookID, nil
}

func readManifest(entries map[string]*zip.File) (*Manifest, error) {
	f, ok := entries[ManifestName]
	if !ok {
		return nil, &apperr.ValidationError{Field: ManifestName, Message: errNoManifest.Error(), Err: apperr.ErrUnsupportedFormat}
	}
	rc, err := f.Open()
	if err != nil {
		return nil, &apperr.IOError{Op: "open entry", Path: ManifestName, Err: err}
	}
	defer func() {
		_ = rc.Close()
	}()
	return DecodeManifest(rc)
}

type importer struct {
	log      *slog.Logger
	store    *mediastore.Store
	manifest *Manifest
	entries  map[string]*zip.File

	notebookID int64
	sections   map[int64]int64 // orig id -> new id
	pages      map[int64]int64
	media      map[int64]int64

	created     []string
	refs        int
	skippedRefs int
}

func (imp *importer) run(ctx context.Context, tx *sql.Tx) (int64, error) {
	m := imp.manifest

	title, err := uniqueTitle(ctx, tx, m.Notebook.Title)
	if err != nil {
		return 0, err
	}
	next, err := storage.NextOrderIndex(ctx, tx, storage.NotebookGroup())
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO notebooks (title, order_index, created_at, modified_at)
		VALUES (?, ?, COALESCE(?, datetime('now')), COALESCE(?, datetime('now')))`,
		title, next, parseTime(m.Notebook.CreatedAt), parseTime(m.Notebook.ModifiedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert notebook: %w", err)
	}
	if imp.notebookID, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("failed to get notebook id: %w", err)
	}

	sections := append([]ManifestSection(nil), m.Sections...)
	sort.SliceStable(sections, func(i, j int) bool {
		if sections[i].OrderIndex != sections[j].OrderIndex {
			return sections[i].OrderIndex < sections[j].OrderIndex
		}
		return sections[i].OrigID < sections[j].OrigID
	})
	order := 0
	for _, s := range sections {
		if _, dup := imp.sections[s.OrigID]; dup {
			imp.log.WarnContext(ctx, "skipping section with repeated id", "orig_id", s.OrigID)
			continue
		}
		order++
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sections (notebook_id, title, color_hex, order_index, created_at, modified_at)
			VALUES (?, ?, ?, ?, COALESCE(?, datetime('now')), COALESCE(?, datetime('now')))`,
			imp.notebookID, s.Title, s.ColorHex, order, parseTime(s.CreatedAt), parseTime(s.ModifiedAt))
		if err != nil {
			return 0, fmt.Errorf("failed to insert section %q: %w", s.Title, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to get section id: %w", err)
		}
		imp.sections[s.OrigID] = id
		if err := imp.insertPages(ctx, tx, s, id); err != nil {
			return 0, err
		}
	}

	for _, media := range m.Media {
		if err := imp.importMedia(ctx, tx, media); err != nil {
			return 0, err
		}
	}

	refs := m.Refs
	if !m.HasRefs() {
		refs = legacyRefs(m)
		imp.log.InfoContext(ctx, "manifest has no refs, scanned page content", "refs", len(refs))
	}
	for _, r := range refs {
		if err := imp.importRef(ctx, tx, r); err != nil {
			return 0, err
		}
	}
	return imp.notebookID, nil
}

// insertPages inserts a section's pages parents-first. A page whose parent is
// not part of the section is attached to the section root.
func (imp *importer) insertPages(ctx context.Context, tx *sql.Tx, s ManifestSection, sectionID int64) error {
	byOrig := make(map[int64]ManifestPage, len(s.Pages))
	var pending []ManifestPage
	for _, p := range s.Pages {
		if _, dup := byOrig[p.OrigID]; dup {
			imp.log.WarnContext(ctx, "skipping page with repeated id", "orig_id", p.OrigID)
			continue
		}
		byOrig[p.OrigID] = p
		pending = append(pending, p)
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].OrderIndex != pending[j].OrderIndex {
			return pending[i].OrderIndex < pending[j].OrderIndex
		}
		return pending[i].OrigID < pending[j].OrigID
	})

	parent := make(map[int64]*int64, len(pending))
	for _, p := range pending {
		if p.ParentOrigID == nil {
			continue
		}
		if _, ok := byOrig[*p.ParentOrigID]; !ok || *p.ParentOrigID == p.OrigID {
			imp.log.WarnContext(ctx, "page parent not in bundle, attaching to section root",
				"orig_id", p.OrigID, "parent_orig_id", *p.ParentOrigID)
			continue
		}
		parent[p.OrigID] = p.ParentOrigID
	}

	groups := make(map[string]storage.SiblingGroup)
	for len(pending) > 0 {
		var rest []ManifestPage
		for _, p := range pending {
			var newParent *int64
			if orig := parent[p.OrigID]; orig != nil {
				id, ok := imp.pages[*orig]
				if !ok {
					rest = append(rest, p)
					continue
				}
				newParent = &id
			}
			if err := imp.insertPage(ctx, tx, p, sectionID, newParent); err != nil {
				return err
			}
			g := storage.PageGroup(sectionID, newParent)
			groups[g.String()] = g
		}
		if len(rest) == len(pending) {
			// Only cycles are left; break one.
			p := rest[0]
			imp.log.WarnContext(ctx, "page parent chain is cyclic, attaching to section root", "orig_id", p.OrigID)
			delete(parent, p.OrigID)
		}
		pending = rest
	}

	for _, g := range groups {
		if err := storage.ResequenceGroup(ctx, tx, g); err != nil {
			return err
		}
	}
	return nil
}

func (imp *importer) insertPage(ctx context.Context, tx *sql.Tx, p ManifestPage, sectionID int64, parentID *int64) error {
	var parent, deletedAt any
	if parentID != nil {
		parent = *parentID
	}
	if p.DeletedAt != nil {
		deletedAt = parseTime(*p.DeletedAt)
		if deletedAt == nil {
			deletedAt = storage.FormatTimestamp(time.Now())
		}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO pages (section_id, parent_page_id, title, content_html, order_index, created_at, modified_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, COALESCE(?, datetime('now')), COALESCE(?, datetime('now')), ?)`,
		sectionID, parent, p.Title, p.ContentHTML, p.OrderIndex,
		parseTime(p.CreatedAt), parseTime(p.ModifiedAt), deletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert page %q: %w", p.Title, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get page id: %w", err)
	}
	imp.pages[p.OrigID] = id
	return nil
}

// importMedia reuses a media row with the same hash or inserts a new one,
// extracting the bytes when the bundle carries them.
func (imp *importer) importMedia(ctx context.Context, tx *sql.Tx, m ManifestMedia) error {
	existing, err := storage.FindMediaBySHA256(ctx, tx, m.SHA256)
	if err != nil {
		return err
	}
	ext := m.Ext
	if existing != nil {
		ext = existing.Ext
	}
	if err := imp.extractMedia(ctx, m, ext); err != nil {
		return err
	}
	if existing != nil {
		imp.media[m.OrigID] = existing.ID
		return nil
	}

	row := &storage.Media{
		SHA256:           m.SHA256,
		MimeType:         m.MimeType,
		Ext:              m.Ext,
		OriginalFilename: m.OriginalFilename,
		SizeBytes:        m.SizeBytes,
	}
	if t, err := storage.ParseTimestamp(m.CreatedAt); err == nil {
		row.CreatedAt = t
	}
	id, err := storage.InsertMedia(ctx, tx, row)
	if err != nil {
		return err
	}
	imp.media[m.OrigID] = id
	return nil
}

// extractMedia writes the archive's copy of m to the content store as ext
// unless the store already has it.
func (imp *importer) extractMedia(ctx context.Context, m ManifestMedia, ext string) error {
	dest := imp.store.AbsPath(mediastore.RelativePath(m.SHA256, ext))
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	f, ok := imp.entries[mediastore.RelativePath(m.SHA256, m.Ext)]
	if !ok {
		imp.log.WarnContext(ctx, "media bytes not in bundle, importing metadata only", "orig_id", m.OrigID, "sha256", m.SHA256)
		return nil
	}
	rc, err := f.Open()
	if err != nil {
		return &apperr.IOError{Op: "open entry", Path: f.Name, Err: err}
	}
	defer func() {
		_ = rc.Close()
	}()

	_, created, err := imp.store.WriteBlob(rc, m.SHA256, ext)
	if err != nil {
		return err
	}
	if created {
		imp.created = append(imp.created, dest)
	}
	return nil
}

func (imp *importer) importRef(ctx context.Context, tx *sql.Tx, r ManifestRef) error {
	mediaID, ok := imp.media[r.MediaOrigID]
	if !ok {
		imp.skippedRefs++
		imp.log.WarnContext(ctx, "skipping ref to unknown media", "media_orig_id", r.MediaOrigID)
		return nil
	}
	owner, ok := imp.resolveOwner(r)
	if !ok {
		imp.skippedRefs++
		imp.log.WarnContext(ctx, "skipping ref with unresolved owner", "media_orig_id", r.MediaOrigID,
			"page_orig_id", r.PageOrigID, "section_orig_id", r.SectionOrigID, "notebook_orig_id", r.NotebookOrigID)
		return nil
	}
	if err := storage.InsertMediaRef(ctx, tx, storage.MediaRef{MediaID: mediaID, Owner: owner, Role: r.Role}); err != nil {
		return err
	}
	imp.refs++
	return nil
}

func (imp *importer) resolveOwner(r ManifestRef) (storage.Owner, bool) {
	set := 0
	for _, p := range []*int64{r.PageOrigID, r.SectionOrigID, r.NotebookOrigID} {
		if p != nil {
			set++
		}
	}
	if set != 1 {
		return storage.Owner{}, false
	}

	switch {
	case r.PageOrigID != nil:
		id, ok := imp.pages[*r.PageOrigID]
		return storage.PageOwner(id), ok
	case r.SectionOrigID != nil:
		id, ok := imp.sections[*r.SectionOrigID]
		return storage.SectionOwner(id), ok
	default:
		if *r.NotebookOrigID != imp.manifest.Notebook.OrigID {
			return storage.Owner{}, false
		}
		return storage.NotebookOwner(imp.notebookID), true
	}
}

// legacyRefs derives inline page refs from page content for manifests
// without an explicit refs list.
func legacyRefs(m *Manifest) []ManifestRef {
	bySHA := make(map[string]int64, len(m.Media))
	for _, media := range m.Media {
		bySHA[strings.ToLower(media.SHA256)] = media.OrigID
	}

	var refs []ManifestRef
	for _, s := range m.Sections {
		for _, p := range s.Pages {
			for _, sha := range LegacyContentRefs(p.ContentHTML) {
				orig, ok := bySHA[sha]
				if !ok {
					continue
				}
				pageID := p.OrigID
				refs = append(refs, ManifestRef{MediaOrigID: orig, Role: storage.RoleInline, PageOrigID: &pageID})
			}
		}
	}
	return refs
}

// uniqueTitle returns base, or base with the lowest " (n)" suffix (n >= 2)
// that no notebook uses yet.
func uniqueTitle(ctx context.Context, q storage.DBTX, base string) (string, error) {
	candidate := base
	for n := 2; ; n++ {
		var one int
		err := q.QueryRowContext(ctx, "SELECT 1 FROM notebooks WHERE title = ? LIMIT 1", candidate).Scan(&one)
		if err == sql.ErrNoRows {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check notebook title: %w", err)
		}
		candidate = fmt.Sprintf("%s (%d)", base, n)
	}
}
