package bundle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zip"

	"notebinder/internal/apperr"
	"notebinder/internal/mediastore"
	"notebinder/internal/storage"
)

// Export writes one notebook with its sections, pages, referenced media and
// refs to <sanitized-title>-<timestamp>.binder in destDir. Media whose bytes
// are missing from the content store are exported as metadata only.
func (c *Codec) Export(ctx context.Context, notebookID int64, destDir string) (string, error) {
	log := logger(ctx)
	if destDir == "" {
		return "", apperr.NewValidation("dest_dir", "must not be empty")
	}

	var manifest *Manifest
	err := storage.WithTx(ctx, c.db, "export snapshot", func(tx *sql.Tx) error {
		var err error
		manifest, err = c.buildManifest(ctx, tx, notebookID)
		return err
	})
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}

	finalPath := filepath.Join(destDir, sanitizeTitle(manifest.Notebook.Title)+"-"+c.timestamp()+ExportExt)
	if _, err := os.Stat(finalPath); err == nil {
		return "", &apperr.ConflictError{Path: finalPath}
	}
	missing := 0
	err = writeZipAtomic(finalPath, func(zw *zip.Writer) error {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: ManifestName, Method: zip.Deflate, Modified: c.now()})
		if err != nil {
			return &apperr.IOError{Op: "add entry", Path: ManifestName, Err: err}
		}
		if _, err := w.Write(data); err != nil {
			return &apperr.IOError{Op: "write", Path: ManifestName, Err: err}
		}

		for _, m := range manifest.Media {
			rel := mediastore.RelativePath(m.SHA256, m.Ext)
			src := c.store.AbsPath(rel)
			if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
				missing++
				log.WarnContext(ctx, "media bytes missing, exporting metadata only",
					"media_id", m.OrigID, "sha256", m.SHA256, "path", src)
				continue
			}
			if err := addFile(zw, src, rel); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	log.InfoContext(ctx, "notebook exported", "notebook_id", notebookID, "path", finalPath,
		"sections", len(manifest.Sections), "media", len(manifest.Media), "refs", len(manifest.Refs), "missing_media", missing)
	return finalPath, nil
}

func (c *Codec) buildManifest(ctx context.Context, tx *sql.Tx, notebookID int64) (*Manifest, error) {
	var nb struct {
		title                 string
		order                 int
		createdAt, modifiedAt string
	}
	err := tx.QueryRowContext(ctx,
		"SELECT title, COALESCE(order_index, 0), created_at, modified_at FROM notebooks WHERE id = ?", notebookID,
	).Scan(&nb.title, &nb.order, &nb.createdAt, &nb.modifiedAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("notebook", notebookID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notebook: %w", err)
	}

	dbUUID, err := storage.DatabaseUUID(ctx, tx)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Format:       FormatV1,
		ExportedAt:   formatTime(c.now()),
		SourceDBUUID: dbUUID,
		Notebook: ManifestNotebook{
			OrigID:     notebookID,
			Title:      nb.title,
			OrderIndex: nb.order,
			CreatedAt:  exportTime(nb.createdAt),
			ModifiedAt: exportTime(nb.modifiedAt),
		},
		Sections: make([]ManifestSection, 0),
		Media:    make([]ManifestMedia, 0),
		Refs:     make([]ManifestRef, 0),
	}

	if m.Sections, err = exportSections(ctx, tx, notebookID); err != nil {
		return nil, err
	}
	if m.Refs, err = exportRefs(ctx, tx, notebookID); err != nil {
		return nil, err
	}
	if m.Media, err = exportMedia(ctx, tx, m.Refs); err != nil {
		return nil, err
	}
	return m, nil
}

func exportSections(ctx context.Context, tx *sql.Tx, notebookID int64) ([]ManifestSection, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, title, color_hex, COALESCE(order_index, 0), created_at, modified_at
		FROM sections WHERE notebook_id = ? ORDER BY COALESCE(order_index, 0), id`, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	sections := make([]ManifestSection, 0)
	for rows.Next() {
		var s ManifestSection
		var color sql.NullString
		var createdAt, modifiedAt string
		if err := rows.Scan(&s.OrigID, &s.Title, &color, &s.OrderIndex, &createdAt, &modifiedAt); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		if color.Valid && color.String != "" {
			v := color.String
			s.ColorHex = &v
		}
		s.CreatedAt, s.ModifiedAt = exportTime(createdAt), exportTime(modifiedAt)
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	_ = rows.Close()

	for i := range sections {
		pages, err := exportPages(ctx, tx, sections[i].OrigID)
		if err != nil {
			return nil, err
		}
		sections[i].Pages = pages
	}
	return sections, nil
}

func exportPages(ctx context.Context, tx *sql.Tx, sectionID int64) ([]ManifestPage, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, parent_page_id, title, COALESCE(content_html, ''), COALESCE(order_index, 0),
		       created_at, modified_at, deleted_at
		FROM pages WHERE section_id = ? ORDER BY COALESCE(order_index, 0), id`, sectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	pages := make([]ManifestPage, 0)
	for rows.Next() {
		var p ManifestPage
		var parent sql.NullInt64
		var createdAt, modifiedAt string
		var deletedAt sql.NullString
		if err := rows.Scan(&p.OrigID, &parent, &p.Title, &p.ContentHTML, &p.OrderIndex,
			&createdAt, &modifiedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		if parent.Valid {
			v := parent.Int64
			p.ParentOrigID = &v
		}
		p.CreatedAt, p.ModifiedAt = exportTime(createdAt), exportTime(modifiedAt)
		if deletedAt.Valid && deletedAt.String != "" {
			v := exportTime(deletedAt.String)
			p.DeletedAt = &v
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return pages, nil
}

func exportRefs(ctx context.Context, tx *sql.Tx, notebookID int64) ([]ManifestRef, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT r.media_id, r.role, r.page_id, r.section_id, r.notebook_id
		FROM media_refs r
		WHERE r.notebook_id = ?
		   OR r.section_id IN (SELECT id FROM sections WHERE notebook_id = ?)
		   OR r.page_id IN (SELECT p.id FROM pages p JOIN sections s ON p.section_id = s.id WHERE s.notebook_id = ?)
		ORDER BY r.media_id, r.notebook_id, r.section_id, r.page_id`,
		notebookID, notebookID, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query media refs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	refs := make([]ManifestRef, 0)
	for rows.Next() {
		var r ManifestRef
		var page, section, notebook sql.NullInt64
		if err := rows.Scan(&r.MediaOrigID, &r.Role, &page, &section, &notebook); err != nil {
			return nil, fmt.Errorf("failed to scan media ref: %w", err)
		}
		r.PageOrigID, r.SectionOrigID, r.NotebookOrigID = nullPtr(page), nullPtr(section), nullPtr(notebook)
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return refs, nil
}

func exportMedia(ctx context.Context, tx *sql.Tx, refs []ManifestRef) ([]ManifestMedia, error) {
	seen := make(map[int64]bool)
	var ids []int64
	for _, r := range refs {
		if !seen[r.MediaOrigID] {
			seen[r.MediaOrigID] = true
			ids = append(ids, r.MediaOrigID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	media := make([]ManifestMedia, 0, len(ids))
	for _, id := range ids {
		var m ManifestMedia
		var createdAt string
		err := tx.QueryRowContext(ctx, `
			SELECT id, sha256, mime_type, ext, COALESCE(original_filename, ''), COALESCE(size_bytes, 0), created_at
			FROM media WHERE id = ?`, id,
		).Scan(&m.OrigID, &m.SHA256, &m.MimeType, &m.Ext, &m.OriginalFilename, &m.SizeBytes, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to query media %d: %w", id, err)
		}
		m.CreatedAt = exportTime(createdAt)
		media = append(media, m)
	}
	return media, nil
}

// exportTime rewrites a stored timestamp as RFC 3339, passing unparseable values through.
func exportTime(s string) string {
	t, err := storage.ParseTimestamp(s)
	if err != nil {
		return s
	}
	return formatTime(t)
}

func nullPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
