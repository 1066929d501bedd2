package storage

import (
	"context"
	"database/sql"
	"fmt"

	"notebinder/internal/apperr"
)

// PageRepo provides methods for page operations.
type PageRepo struct {
	db *sql.DB
}

// NewPageRepo creates a new PageRepo.
func NewPageRepo(db *sql.DB) *PageRepo {
	return &PageRepo{db: db}
}

const pageColumns = "id, section_id, parent_page_id, title, COALESCE(content_html, ''), COALESCE(order_index, 0), created_at, modified_at, deleted_at"

func scanPage(s rowScanner) (*Page, error) {
	var p Page
	var parent sql.NullInt64
	var createdAt, modifiedAt string
	var deletedAt sql.NullString
	if err := s.Scan(&p.ID, &p.SectionID, &parent, &p.Title, &p.ContentHTML, &p.OrderIndex,
		&createdAt, &modifiedAt, &deletedAt); err != nil {
		return nil, err
	}
	p.ParentPageID = ptrFromNull(parent)

	var err error
	if p.CreatedAt, err = ParseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if p.ModifiedAt, err = ParseTimestamp(modifiedAt); err != nil {
		return nil, err
	}
	if p.DeletedAt, err = parseNullTimestamp(deletedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func getPage(ctx context.Context, q DBTX, id int64) (*Page, error) {
	p, err := scanPage(q.QueryRowContext(ctx, "SELECT "+pageColumns+" FROM pages WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("page", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query page: %w", err)
	}
	return p, nil
}

func queryPages(ctx context.Context, q DBTX, query string, args ...any) ([]*Page, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var pages []*Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return pages, nil
}

func readOnly(p *Page) error {
	return &apperr.ValidationError{
		Field:   "page",
		Message: fmt.Sprintf("page %d is deleted and read-only", p.ID),
		Err:     apperr.ErrReadOnly,
	}
}

// checkPageGroup verifies that a page group's section exists and that its
// parent page, if any, exists inside that section.
func checkPageGroup(ctx context.Context, q DBTX, g SiblingGroup) error {
	if g.Kind != KindPage {
		return apperr.NewValidation("group", "%s is not a page group", g)
	}
	if err := ownerExists(ctx, q, SectionOwner(g.SectionID)); err != nil {
		return err
	}
	if g.ParentPageID == nil {
		return nil
	}
	parent, err := getPage(ctx, q, *g.ParentPageID)
	if err != nil {
		return err
	}
	if parent.SectionID != g.SectionID {
		return apperr.NewValidation("parent_page_id", "page %d belongs to section %d, not %d",
			parent.ID, parent.SectionID, g.SectionID)
	}
	return nil
}

// Create inserts a page at the end of its (section, parent) group.
func (r *PageRepo) Create(ctx context.Context, sectionID int64, parentPageID *int64, title string) (*Page, error) {
	return r.CreateWithContent(ctx, sectionID, parentPageID, title, "")
}

// CreateWithContent is Create with the page body set in the same transaction,
// so a failed insert never leaves an empty page behind.
func (r *PageRepo) CreateWithContent(ctx context.Context, sectionID int64, parentPageID *int64, title, html string) (*Page, error) {
	title, err := requireTitle(title)
	if err != nil {
		return nil, err
	}
	g := PageGroup(sectionID, parentPageID)

	var page *Page
	err = WithTx(ctx, r.db, "create page", func(tx *sql.Tx) error {
		if err := checkPageGroup(ctx, tx, g); err != nil {
			return err
		}
		next, err := NextOrderIndex(ctx, tx, g)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO pages (section_id, parent_page_id, title, content_html, order_index) VALUES (?, ?, ?, ?, ?)",
			sectionID, nullableID(parentPageID), title, html, next)
		if err != nil {
			return fmt.Errorf("failed to insert page: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get page id: %w", err)
		}
		page, err = getPage(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Get returns a page by id, including deleted pages.
func (r *PageRepo) Get(ctx context.Context, id int64) (*Page, error) {
	return getPage(ctx, r.db, id)
}

// ListGroup returns the pages of one (section, parent) group in display order.
func (r *PageRepo) ListGroup(ctx context.Context, g SiblingGroup) ([]*Page, error) {
	if g.Kind != KindPage {
		return nil, apperr.NewValidation("group", "%s is not a page group", g)
	}
	where, args := g.where()
	return queryPages(ctx, r.db, "SELECT "+pageColumns+" FROM pages WHERE "+where+" "+siblingOrderBy, args...)
}

// ListBySection returns every page in a section, across all parent groups.
func (r *PageRepo) ListBySection(ctx context.Context, sectionID int64) ([]*Page, error) {
	return queryPages(ctx, r.db, "SELECT "+pageColumns+" FROM pages WHERE section_id = ? "+siblingOrderBy, sectionID)
}

// ChildIndex builds the page tree of one section.
func (r *PageRepo) ChildIndex(ctx context.Context, sectionID int64) (*PageTree, error) {
	pages, err := r.ListBySection(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	return NewPageTree(pages), nil
}

// Rename changes a page's title. Deleted pages are read-only.
func (r *PageRepo) Rename(ctx context.Context, id int64, title string) error {
	title, err := requireTitle(title)
	if err != nil {
		return err
	}
	return r.edit(ctx, "rename page", id,
		"UPDATE pages SET title = ?, modified_at = datetime('now') WHERE id = ?", title, id)
}

// UpdateContent replaces a page's HTML body. Deleted pages are read-only.
func (r *PageRepo) UpdateContent(ctx context.Context, id int64, html string) error {
	return r.edit(ctx, "update page content", id,
		"UPDATE pages SET content_html = ?, modified_at = datetime('now') WHERE id = ?", html, id)
}

func (r *PageRepo) edit(ctx context.Context, op string, id int64, query string, args ...any) error {
	return WithTx(ctx, r.db, op, func(tx *sql.Tx) error {
		p, err := getPage(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.IsDeleted() {
			return readOnly(p)
		}
		_, err = tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update page: %w", err)
		}
		return nil
	})
}

// Trash marks a page deleted without removing it. Its position is kept.
func (r *PageRepo) Trash(ctx context.Context, id int64) error {
	return WithTx(ctx, r.db, "trash page", func(tx *sql.Tx) error {
		return execOne(ctx, tx, "page", id,
			"UPDATE pages SET deleted_at = COALESCE(deleted_at, datetime('now')) WHERE id = ?", id)
	})
}

// Delete removes a page and its sub-pages, then compacts its group.
func (r *PageRepo) Delete(ctx context.Context, id int64) error {
	return WithTx(ctx, r.db, "delete page", func(tx *sql.Tx) error {
		p, err := getPage(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM pages WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete page: %w", err)
		}
		return ResequenceGroup(ctx, tx, p.Group())
	})
}

// SetOrder assigns 1..N to one page group in the order given.
func (r *PageRepo) SetOrder(ctx context.Context, g SiblingGroup, ids []int64) error {
	return WithTx(ctx, r.db, "order pages", func(tx *sql.Tx) error {
		if err := checkPageGroup(ctx, tx, g); err != nil {
			return err
		}
		return setOrder(ctx, tx, g, ids)
	})
}

// ReparentAndOrder makes ids the complete, ordered membership of group g.
// Pages listed from other groups are moved in along with their sub-pages;
// every group they leave is compacted in the same transaction.
func (r *PageRepo) ReparentAndOrder(ctx context.Context, g SiblingGroup, ids []int64) error {
	return WithTx(ctx, r.db, "reparent pages", func(tx *sql.Tx) error {
		return reparentAndOrder(ctx, tx, g, ids)
	})
}

func reparentAndOrder(ctx context.Context, q DBTX, g SiblingGroup, ids []int64) error {
	if err := checkPageGroup(ctx, q, g); err != nil {
		return err
	}
	members, err := LoadSiblings(ctx, q, g)
	if err != nil {
		return err
	}
	inGroup := make(map[int64]bool, len(members))
	for _, m := range members {
		inGroup[m.ID] = true
	}

	// Split ids into current members and pages arriving from elsewhere.
	ordered := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	movers := make(map[int64]*Page)
	for _, id := range ids {
		if seen[id] {
			logger(ctx).WarnContext(ctx, "ignoring repeated id in order", "group", g.String(), "id", id)
			continue
		}
		if !inGroup[id] {
			p, err := getPage(ctx, q, id)
			if apperr.IsTyped(err) {
				logger(ctx).WarnContext(ctx, "ignoring unknown page in reparent", "group", g.String(), "id", id)
				continue
			}
			if err != nil {
				return err
			}
			movers[id] = p
		}
		seen[id] = true
		ordered = append(ordered, id)
	}
	if len(ordered)-len(movers) != len(members) {
		return underSpecified(g, members, seen)
	}

	if g.ParentPageID != nil && len(movers) > 0 {
		if err := checkNoCycle(ctx, q, *g.ParentPageID, movers); err != nil {
			return err
		}
	}

	vacated := make(map[string]SiblingGroup)
	for _, id := range ordered {
		p, ok := movers[id]
		if !ok {
			continue
		}
		if _, err := q.ExecContext(ctx,
			"UPDATE pages SET section_id = ?, parent_page_id = ?, modified_at = datetime('now') WHERE id = ?",
			g.SectionID, nullableID(g.ParentPageID), id); err != nil {
			return fmt.Errorf("failed to move page %d: %w", id, err)
		}
		if p.SectionID != g.SectionID {
			if err := moveDescendants(ctx, q, id, g.SectionID); err != nil {
				return err
			}
		}
		old := p.Group()
		vacated[old.key()] = old
	}

	changes := make([]OrderChange, len(ordered))
	for i, id := range ordered {
		changes[i] = OrderChange{ID: id, OrderIndex: i + 1}
	}
	if err := ApplyOrderChanges(ctx, q, KindPage, changes); err != nil {
		return err
	}

	for _, old := range vacated {
		if old.Equal(g) {
			continue
		}
		if err := ResequenceGroup(ctx, q, old); err != nil {
			return err
		}
	}
	return nil
}

// checkNoCycle rejects a move that would put a page under itself or one of its sub-pages.
func checkNoCycle(ctx context.Context, q DBTX, parentID int64, movers map[int64]*Page) error {
	rows, err := q.QueryContext(ctx, `
		WITH RECURSIVE ancestors(id, parent_page_id) AS (
			SELECT id, parent_page_id FROM pages WHERE id = ?
			UNION
			SELECT p.id, p.parent_page_id FROM pages p JOIN ancestors a ON p.id = a.parent_page_id
		)
		SELECT id FROM ancestors`, parentID)
	if err != nil {
		return fmt.Errorf("failed to query page ancestors: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan ancestor: %w", err)
		}
		if _, ok := movers[id]; ok {
			return apperr.NewValidation("parent_page_id", "cannot move page %d under itself or its sub-page %d", id, parentID)
		}
	}
	return rows.Err()
}

// moveDescendants carries every sub-page of root into sectionID.
func moveDescendants(ctx context.Context, q DBTX, root, sectionID int64) error {
	_, err := q.ExecContext(ctx, `
		WITH RECURSIVE descendants(id) AS (
			SELECT id FROM pages WHERE parent_page_id = ?
			UNION
			SELECT p.id FROM pages p JOIN descendants d ON p.parent_page_id = d.id
		)
		UPDATE pages SET section_id = ? WHERE id IN (SELECT id FROM descendants)`,
		root, sectionID)
	if err != nil {
		return fmt.Errorf("failed to move sub-pages of page %d: %w", root, err)
	}
	return nil
}
