package storage

import (
	"context"
	"database/sql"
	"fmt"

	"notebinder/internal/apperr"
)

// Owner identifies the entity a MediaRef points at. Exactly one field must be set.
type Owner struct {
	PageID     *int64
	SectionID  *int64
	NotebookID *int64
}

// PageOwner returns an Owner for the given page.
func PageOwner(id int64) Owner { return Owner{PageID: &id} }

// SectionOwner returns an Owner for the given section.
func SectionOwner(id int64) Owner { return Owner{SectionID: &id} }

// NotebookOwner returns an Owner for the given notebook.
func NotebookOwner(id int64) Owner { return Owner{NotebookID: &id} }

// Validate checks the single-owner constraint.
func (o Owner) Validate() error {
	n := 0
	for _, p := range []*int64{o.PageID, o.SectionID, o.NotebookID} {
		if p != nil {
			n++
		}
	}
	if n != 1 {
		return apperr.NewValidation("owner", "exactly one of page_id, section_id, notebook_id must be set, got %d", n)
	}
	return nil
}

// Kind returns the owning entity kind and id. It assumes Validate passed.
func (o Owner) Kind() (Kind, int64) {
	switch {
	case o.PageID != nil:
		return KindPage, *o.PageID
	case o.SectionID != nil:
		return KindSection, *o.SectionID
	case o.NotebookID != nil:
		return KindNotebook, *o.NotebookID
	}
	return 0, 0
}

func (o Owner) String() string {
	kind, id := o.Kind()
	if kind == 0 {
		return "owner(none)"
	}
	return fmt.Sprintf("%s %d", kind, id)
}

// ownerExists returns a NotFoundError when the owning row is absent.
func ownerExists(ctx context.Context, q DBTX, o Owner) error {
	kind, id := o.Kind()
	var one int
	err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", kind.table()), id).Scan(&one)
	if err == sql.ErrNoRows {
		return apperr.NotFound(kind.String(), id)
	}
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", kind, err)
	}
	return nil
}

func nullableID(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptrFromNull(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
