package storage

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_media_store.go -package=mocks notebinder/internal/storage MediaStore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"notebinder/internal/apperr"
)

// MediaStore defines the interface for media row and reference operations.
type MediaStore interface {
	// GetByID returns a media row. Returns a NotFoundError if absent.
	GetByID(ctx context.Context, id int64) (*Media, error)
	// GetBySHA256 returns the media row for a content hash. Returns a NotFoundError if absent.
	GetBySHA256(ctx context.Context, sha256 string) (*Media, error)
	// Upsert inserts m unless its hash is already stored, and returns the stored row.
	Upsert(ctx context.Context, m *Media) (*Media, error)
	// AddRef links a media row to its owner. Adding an identical ref twice is a no-op.
	AddRef(ctx context.Context, ref MediaRef) error
	// RemoveRef deletes every ref from mediaID to owner and returns how many were removed.
	RemoveRef(ctx context.Context, mediaID int64, owner Owner) (int64, error)
	// CountRefs returns the number of refs pointing at a media row.
	CountRefs(ctx context.Context, mediaID int64) (int, error)
	// ListUnreferenced returns media rows with no refs.
	ListUnreferenced(ctx context.Context) ([]*Media, error)
	// DeleteIfUnreferenced deletes the row only if it still has no refs.
	DeleteIfUnreferenced(ctx context.Context, id int64) (bool, error)
}

// MediaRepo provides methods for media operations.
// It implements the MediaStore interface.
type MediaRepo struct {
	db *sql.DB
}

// NewMediaRepo creates a new MediaRepo.
func NewMediaRepo(db *sql.DB) *MediaRepo {
	return &MediaRepo{db: db}
}

const mediaColumns = "id, sha256, mime_type, ext, COALESCE(original_filename, ''), COALESCE(size_bytes, 0), created_at"

func scanMedia(s rowScanner) (*Media, error) {
	var m Media
	var createdAt string
	if err := s.Scan(&m.ID, &m.SHA256, &m.MimeType, &m.Ext, &m.OriginalFilename, &m.SizeBytes, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if m.CreatedAt, err = ParseTimestamp(createdAt); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetByID returns a media row by id.
func (r *MediaRepo) GetByID(ctx context.Context, id int64) (*Media, error) {
	m, err := scanMedia(r.db.QueryRowContext(ctx, "SELECT "+mediaColumns+" FROM media WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("media", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query media: %w", err)
	}
	return m, nil
}

// GetBySHA256 returns the media row for a content hash.
func (r *MediaRepo) GetBySHA256(ctx context.Context, sha256 string) (*Media, error) {
	m, err := FindMediaBySHA256(ctx, r.db, sha256)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &apperr.NotFoundError{Kind: "media " + sha256}
	}
	return m, nil
}

// Upsert inserts m unless its hash exists and returns the stored row.
func (r *MediaRepo) Upsert(ctx context.Context, m *Media) (*Media, error) {
	var stored *Media
	err := WithTx(ctx, r.db, "upsert media", func(tx *sql.Tx) error {
		existing, err := FindMediaBySHA256(ctx, tx, m.SHA256)
		if err != nil {
			return err
		}
		if existing != nil {
			stored = existing
			return nil
		}
		if _, err := InsertMedia(ctx, tx, m); err != nil {
			return err
		}
		stored, err = FindMediaBySHA256(ctx, tx, m.SHA256)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// AddRef links a media row to its owner.
func (r *MediaRepo) AddRef(ctx context.Context, ref MediaRef) error {
	if err := ref.Owner.Validate(); err != nil {
		return err
	}
	return WithTx(ctx, r.db, "add media ref", func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM media WHERE id = ?", ref.MediaID).Scan(&one)
		if err == sql.ErrNoRows {
			return apperr.NotFound("media", ref.MediaID)
		}
		if err != nil {
			return fmt.Errorf("failed to check media: %w", err)
		}
		if err := ownerExists(ctx, tx, ref.Owner); err != nil {
			return err
		}
		return InsertMediaRef(ctx, tx, ref)
	})
}

// RemoveRef deletes the refs from mediaID to owner.
func (r *MediaRepo) RemoveRef(ctx context.Context, mediaID int64, owner Owner) (int64, error) {
	if err := owner.Validate(); err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM media_refs
		WHERE media_id = ?
		  AND IFNULL(page_id, -1) = IFNULL(?, -1)
		  AND IFNULL(section_id, -1) = IFNULL(?, -1)
		  AND IFNULL(notebook_id, -1) = IFNULL(?, -1)`,
		mediaID, nullableID(owner.PageID), nullableID(owner.SectionID), nullableID(owner.NotebookID))
	if err != nil {
		return 0, fmt.Errorf("failed to remove media ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// CountRefs returns the number of refs to a media row.
func (r *MediaRepo) CountRefs(ctx context.Context, mediaID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM media_refs WHERE media_id = ?", mediaID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count media refs: %w", err)
	}
	return n, nil
}

// ListUnreferenced returns media rows that no ref points at.
func (r *MediaRepo) ListUnreferenced(ctx context.Context) ([]*Media, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+mediaColumns+` FROM media m
		WHERE NOT EXISTS (SELECT 1 FROM media_refs r WHERE r.media_id = m.id)
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query unreferenced media: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var media []*Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan media: %w", err)
		}
		media = append(media, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return media, nil
}

// DeleteIfUnreferenced deletes a media row only while it has no refs.
func (r *MediaRepo) DeleteIfUnreferenced(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM media
		WHERE id = ? AND NOT EXISTS (SELECT 1 FROM media_refs WHERE media_id = ?)`, id, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete media: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// ListRefs returns refs to mediaID ordered by owner.
func (r *MediaRepo) ListRefs(ctx context.Context, mediaID int64) ([]MediaRef, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT media_id, page_id, section_id, notebook_id, role FROM media_refs
		WHERE media_id = ? ORDER BY page_id, section_id, notebook_id`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("failed to query media refs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var refs []MediaRef
	for rows.Next() {
		var ref MediaRef
		var page, section, notebook sql.NullInt64
		if err := rows.Scan(&ref.MediaID, &page, &section, &notebook, &ref.Role); err != nil {
			return nil, fmt.Errorf("failed to scan media ref: %w", err)
		}
		ref.Owner = Owner{PageID: ptrFromNull(page), SectionID: ptrFromNull(section), NotebookID: ptrFromNull(notebook)}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return refs, nil
}

// FindMediaBySHA256 returns the media row for a hash, or nil when there is none.
func FindMediaBySHA256(ctx context.Context, q DBTX, sha256 string) (*Media, error) {
	m, err := scanMedia(q.QueryRowContext(ctx,
		"SELECT "+mediaColumns+" FROM media WHERE sha256 = ?", strings.ToLower(sha256)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query media by hash: %w", err)
	}
	return m, nil
}

// InsertMedia inserts a media row and returns its id. CreatedAt is kept when set.
func InsertMedia(ctx context.Context, q DBTX, m *Media) (int64, error) {
	mimeType := m.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	ext := strings.TrimPrefix(m.Ext, ".")
	if ext == "" {
		ext = "bin"
	}
	var createdAt any
	if !m.CreatedAt.IsZero() {
		createdAt = FormatTimestamp(m.CreatedAt)
	}
	var original any
	if m.OriginalFilename != "" {
		original = m.OriginalFilename
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO media (sha256, mime_type, ext, original_filename, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, COALESCE(?, datetime('now')))`,
		strings.ToLower(m.SHA256), mimeType, ext, original, m.SizeBytes, createdAt)
	if err != nil {
		return 0, fmt.Errorf("failed to insert media: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get media id: %w", err)
	}
	return id, nil
}

// InsertMediaRef inserts a ref unless an identical one exists. Role defaults to attachment.
func InsertMediaRef(ctx context.Context, q DBTX, ref MediaRef) error {
	if err := ref.Owner.Validate(); err != nil {
		return err
	}
	role := strings.TrimSpace(ref.Role)
	if role == "" {
		role = RoleAttachment
	}
	page, section, notebook := nullableID(ref.Owner.PageID), nullableID(ref.Owner.SectionID), nullableID(ref.Owner.NotebookID)
	_, err := q.ExecContext(ctx, `
		INSERT INTO media_refs (media_id, page_id, section_id, notebook_id, role)
		SELECT ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM media_refs
			WHERE media_id = ?
			  AND IFNULL(page_id, -1) = IFNULL(?, -1)
			  AND IFNULL(section_id, -1) = IFNULL(?, -1)
			  AND IFNULL(notebook_id, -1) = IFNULL(?, -1)
			  AND role = ?
		)`,
		ref.MediaID, page, section, notebook, role,
		ref.MediaID, page, section, notebook, role)
	if err != nil {
		return fmt.Errorf("failed to insert media ref: %w", err)
	}
	return nil
}
