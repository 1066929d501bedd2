package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"notebinder/internal/apperr"
)

var colorHexPattern = regexp.MustCompile(`^#(?:[0-9A-Fa-f]{3}|[0-9A-Fa-f]{6}|[0-9A-Fa-f]{8})$`)

// SectionRepo provides methods for section operations.
type SectionRepo struct {
	db *sql.DB
}

// NewSectionRepo creates a new SectionRepo.
func NewSectionRepo(db *sql.DB) *SectionRepo {
	return &SectionRepo{db: db}
}

const sectionColumns = "id, notebook_id, title, color_hex, COALESCE(order_index, 0), created_at, modified_at"

func scanSection(s rowScanner) (*Section, error) {
	var sec Section
	var color sql.NullString
	var createdAt, modifiedAt string
	if err := s.Scan(&sec.ID, &sec.NotebookID, &sec.Title, &color, &sec.OrderIndex, &createdAt, &modifiedAt); err != nil {
		return nil, err
	}
	if color.Valid && color.String != "" {
		c := color.String
		sec.ColorHex = &c
	}
	var err error
	if sec.CreatedAt, err = ParseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if sec.ModifiedAt, err = ParseTimestamp(modifiedAt); err != nil {
		return nil, err
	}
	return &sec, nil
}

func getSection(ctx context.Context, q DBTX, id int64) (*Section, error) {
	sec, err := scanSection(q.QueryRowContext(ctx,
		"SELECT "+sectionColumns+" FROM sections WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("section", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query section: %w", err)
	}
	return sec, nil
}

// Create inserts a section at the end of its notebook.
func (r *SectionRepo) Create(ctx context.Context, notebookID int64, title string) (*Section, error) {
	title, err := requireTitle(title)
	if err != nil {
		return nil, err
	}

	var sec *Section
	err = WithTx(ctx, r.db, "create section", func(tx *sql.Tx) error {
		if err := ownerExists(ctx, tx, NotebookOwner(notebookID)); err != nil {
			return err
		}
		next, err := NextOrderIndex(ctx, tx, SectionGroup(notebookID))
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO sections (notebook_id, title, order_index) VALUES (?, ?, ?)",
			notebookID, title, next)
		if err != nil {
			return fmt.Errorf("failed to insert section: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get section id: %w", err)
		}
		sec, err = getSection(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sec, nil
}

// Get returns a section by id.
func (r *SectionRepo) Get(ctx context.Context, id int64) (*Section, error) {
	return getSection(ctx, r.db, id)
}

// ListByNotebook returns a notebook's sections in display order.
func (r *SectionRepo) ListByNotebook(ctx context.Context, notebookID int64) ([]*Section, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+sectionColumns+" FROM sections WHERE notebook_id = ? "+siblingOrderBy, notebookID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sections: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var sections []*Section
	for rows.Next() {
		sec, err := scanSection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, sec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return sections, nil
}

// Rename changes a section's title.
func (r *SectionRepo) Rename(ctx context.Context, id int64, title string) error {
	title, err := requireTitle(title)
	if err != nil {
		return err
	}
	return WithTx(ctx, r.db, "rename section", func(tx *sql.Tx) error {
		return execOne(ctx, tx, "section", id,
			"UPDATE sections SET title = ?, modified_at = datetime('now') WHERE id = ?", title, id)
	})
}

// SetColor sets a section's tab color. A nil or empty hex clears it.
func (r *SectionRepo) SetColor(ctx context.Context, id int64, hex *string) error {
	var value any
	if hex != nil && strings.TrimSpace(*hex) != "" {
		h := strings.TrimSpace(*hex)
		if !colorHexPattern.MatchString(h) {
			return apperr.NewValidation("color_hex", "%q is not a #RGB or #RRGGBB color", h)
		}
		value = h
	}
	return WithTx(ctx, r.db, "color section", func(tx *sql.Tx) error {
		return execOne(ctx, tx, "section", id,
			"UPDATE sections SET color_hex = ?, modified_at = datetime('now') WHERE id = ?", value, id)
	})
}

// Delete removes a section and its pages, then compacts the notebook's section order.
func (r *SectionRepo) Delete(ctx context.Context, id int64) error {
	return WithTx(ctx, r.db, "delete section", func(tx *sql.Tx) error {
		sec, err := getSection(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM sections WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete section: %w", err)
		}
		return ResequenceGroup(ctx, tx, SectionGroup(sec.NotebookID))
	})
}

// SetOrder assigns 1..N to a notebook's sections in the order given.
func (r *SectionRepo) SetOrder(ctx context.Context, notebookID int64, ids []int64) error {
	return WithTx(ctx, r.db, "order sections", func(tx *sql.Tx) error {
		if err := ownerExists(ctx, tx, NotebookOwner(notebookID)); err != nil {
			return err
		}
		return setOrder(ctx, tx, SectionGroup(notebookID), ids)
	})
}

// Move shifts a section delta positions within its notebook.
func (r *SectionRepo) Move(ctx context.Context, id int64, delta int) (bool, error) {
	var moved bool
	err := WithTx(ctx, r.db, "move section", func(tx *sql.Tx) error {
		sec, err := getSection(ctx, tx, id)
		if err != nil {
			return err
		}
		moved, err = moveBy(ctx, tx, SectionGroup(sec.NotebookID), id, delta)
		return err
	})
	return moved, err
}
