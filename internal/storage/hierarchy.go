package storage

import (
	"context"
	"database/sql"

	"notebinder/internal/apperr"
)

// Hierarchy groups the notebook, section and page repositories and exposes
// the kind-generic ordering operations used by drag-and-drop.
type Hierarchy struct {
	db        *sql.DB
	Notebooks *NotebookRepo
	Sections  *SectionRepo
	Pages     *PageRepo
}

// NewHierarchy creates a Hierarchy over db.
func NewHierarchy(db *sql.DB) *Hierarchy {
	return &Hierarchy{
		db:        db,
		Notebooks: NewNotebookRepo(db),
		Sections:  NewSectionRepo(db),
		Pages:     NewPageRepo(db),
	}
}

// SetOrder assigns 1..N to the sibling group g in the order given.
func (h *Hierarchy) SetOrder(ctx context.Context, g SiblingGroup, ids []int64) error {
	switch g.Kind {
	case KindNotebook:
		return h.Notebooks.SetOrder(ctx, ids)
	case KindSection:
		return h.Sections.SetOrder(ctx, g.NotebookID, ids)
	case KindPage:
		return h.Pages.SetOrder(ctx, g, ids)
	}
	return apperr.NewValidation("group", "unknown sibling group %s", g)
}

// ReparentAndOrder moves ids into g and orders the group. Only pages can be reparented.
func (h *Hierarchy) ReparentAndOrder(ctx context.Context, g SiblingGroup, ids []int64) error {
	if g.Kind != KindPage {
		return apperr.NewValidation("group", "only pages can be reparented, got %s", g.Kind)
	}
	return h.Pages.ReparentAndOrder(ctx, g, ids)
}

// DropTarget is where a dragged page was released: onto a section, or
// before / after another page.
type DropTarget struct {
	SectionID *int64
	PageID    *int64
	Position  DropPosition
}

// OntoSection targets the end of a section's root-level pages.
func OntoSection(sectionID int64) DropTarget {
	return DropTarget{SectionID: &sectionID}
}

// RelativeToPage targets the slot before or after another page.
func RelativeToPage(pageID int64, pos DropPosition) DropTarget {
	return DropTarget{PageID: &pageID, Position: pos}
}

// DropPage applies a page drag-and-drop in one transaction. Dropping relative
// to a page in another section is rejected; drop onto the section instead.
func (h *Hierarchy) DropPage(ctx context.Context, pageID int64, target DropTarget) error {
	if (target.SectionID == nil) == (target.PageID == nil) {
		return apperr.NewValidation("target", "exactly one of section or page must be set")
	}
	if target.PageID != nil && *target.PageID == pageID {
		return nil
	}

	return WithTx(ctx, h.db, "drop page", func(tx *sql.Tx) error {
		moved, err := getPage(ctx, tx, pageID)
		if err != nil {
			return err
		}

		var g SiblingGroup
		var ids []int64
		if target.SectionID != nil {
			g = PageGroup(*target.SectionID, nil)
			if err := checkPageGroup(ctx, tx, g); err != nil {
				return err
			}
			siblings, err := LoadSiblings(ctx, tx, g)
			if err != nil {
				return err
			}
			ids = siblingIDs(siblings)
			ids = Reinsert(ids, pageID, len(ids))
		} else {
			anchor, err := getPage(ctx, tx, *target.PageID)
			if err != nil {
				return err
			}
			if anchor.SectionID != moved.SectionID {
				return apperr.NewValidation("target", "page %d is in section %d; drop onto the section to move across sections",
					anchor.ID, anchor.SectionID)
			}
			g = anchor.Group()
			siblings, err := LoadSiblings(ctx, tx, g)
			if err != nil {
				return err
			}
			ids = siblingIDs(siblings)
			ids = Reinsert(ids, pageID, InsertionIndex(indexOf(ids, anchor.ID), target.Position))
		}

		logger(ctx).DebugContext(ctx, "dropping page", "page_id", pageID, "group", g.String())
		if moved.Group().Equal(g) {
			return setOrder(ctx, tx, g, ids)
		}
		return reparentAndOrder(ctx, tx, g, ids)
	})
}

// DropSection moves a section before or after another section of the same notebook.
func (h *Hierarchy) DropSection(ctx context.Context, sectionID, targetSectionID int64, pos DropPosition) error {
	if sectionID == targetSectionID {
		return nil
	}
	return WithTx(ctx, h.db, "drop section", func(tx *sql.Tx) error {
		moved, err := getSection(ctx, tx, sectionID)
		if err != nil {
			return err
		}
		anchor, err := getSection(ctx, tx, targetSectionID)
		if err != nil {
			return err
		}
		if moved.NotebookID != anchor.NotebookID {
			return apperr.NewValidation("target", "sections cannot be moved between notebooks (%d -> %d)",
				moved.NotebookID, anchor.NotebookID)
		}
		g := SectionGroup(moved.NotebookID)
		siblings, err := LoadSiblings(ctx, tx, g)
		if err != nil {
			return err
		}
		ids := siblingIDs(siblings)
		ids = Reinsert(ids, sectionID, InsertionIndex(indexOf(ids, anchor.ID), pos))
		return setOrder(ctx, tx, g, ids)
	})
}

// DropNotebook moves a notebook before or after another notebook.
func (h *Hierarchy) DropNotebook(ctx context.Context, notebookID, targetNotebookID int64, pos DropPosition) error {
	if notebookID == targetNotebookID {
		return nil
	}
	return WithTx(ctx, h.db, "drop notebook", func(tx *sql.Tx) error {
		if _, err := getNotebook(ctx, tx, notebookID); err != nil {
			return err
		}
		if _, err := getNotebook(ctx, tx, targetNotebookID); err != nil {
			return err
		}
		siblings, err := LoadSiblings(ctx, tx, NotebookGroup())
		if err != nil {
			return err
		}
		ids := siblingIDs(siblings)
		ids = Reinsert(ids, notebookID, InsertionIndex(indexOf(ids, targetNotebookID), pos))
		return setOrder(ctx, tx, NotebookGroup(), ids)
	})
}
