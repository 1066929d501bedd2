// Package normalize repairs order_index values so every sibling group is numbered 1..N.
package normalize

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"notebinder/internal/contextutil"
	"notebinder/internal/storage"
)

// Change assigns a new order_index to one row.
type Change = storage.OrderChange

// Plan holds the pending changes for each entity kind. Only rows whose
// order_index differs from its position are listed.
type Plan struct {
	Notebooks []Change
	Sections  []Change
	Pages     []Change
}

// Total returns the number of pending updates.
func (p *Plan) Total() int {
	return len(p.Notebooks) + len(p.Sections) + len(p.Pages)
}

// Empty reports whether the database is already normalized.
func (p *Plan) Empty() bool {
	return p.Total() == 0
}

func (p *Plan) kinds() []struct {
	label   string
	kind    storage.Kind
	changes []Change
} {
	return []struct {
		label   string
		kind    storage.Kind
		changes []Change
	}{
		{"notebooks", storage.KindNotebook, p.Notebooks},
		{"sections", storage.KindSection, p.Sections},
		{"pages", storage.KindPage, p.Pages},
	}
}

// Summary returns one line per kind: "<kind>: no changes" or "<kind>: N updates".
func (p *Plan) Summary() string {
	lines := make([]string, 0, 3)
	for _, k := range p.kinds() {
		if len(k.changes) == 0 {
			lines = append(lines, k.label+": no changes")
		} else {
			lines = append(lines, fmt.Sprintf("%s: %d updates", k.label, len(k.changes)))
		}
	}
	return strings.Join(lines, "\n")
}

// Dump writes every planned change as "id -> new_order_index", grouped by kind.
func (p *Plan) Dump(w io.Writer) error {
	for _, k := range p.kinds() {
		label := strings.ToUpper(k.label[:1]) + k.label[1:]
		if len(k.changes) == 0 {
			if _, err := fmt.Fprintf(w, "%s: (none)\n", label); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "%s changes (id -> new_order_index):\n", label); err != nil {
			return err
		}
		for _, c := range k.changes {
			if _, err := fmt.Fprintf(w, "  %d -> %d\n", c.ID, c.OrderIndex); err != nil {
				return err
			}
		}
	}
	return nil
}

// PlanNotebookOrder plans the single notebook group.
func PlanNotebookOrder(ctx context.Context, q storage.DBTX) ([]Change, error) {
	return planGroups(ctx, q, []storage.SiblingGroup{storage.NotebookGroup()})
}

// PlanSectionOrder plans the section group of every notebook.
func PlanSectionOrder(ctx context.Context, q storage.DBTX) ([]Change, error) {
	groups, err := storage.ListSectionGroups(ctx, q)
	if err != nil {
		return nil, err
	}
	return planGroups(ctx, q, groups)
}

// PlanPageOrder plans every (section, parent page) group. Databases that
// predate sub-pages are grouped by section alone.
func PlanPageOrder(ctx context.Context, q storage.DBTX) ([]Change, error) {
	hasParent, err := storage.HasColumn(ctx, q, "pages", "parent_page_id")
	if err != nil {
		return nil, err
	}
	if !hasParent {
		return planLegacyPages(ctx, q)
	}
	groups, err := storage.ListPageGroups(ctx, q)
	if err != nil {
		return nil, err
	}
	return planGroups(ctx, q, groups)
}

func planGroups(ctx context.Context, q storage.DBTX, groups []storage.SiblingGroup) ([]Change, error) {
	var changes []Change
	for _, g := range groups {
		siblings, err := storage.LoadSiblings(ctx, q, g)
		if err != nil {
			return nil, err
		}
		changes = append(changes, storage.Resequence(siblings)...)
	}
	return changes, nil
}

func planLegacyPages(ctx context.Context, q storage.DBTX) ([]Change, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, section_id, COALESCE(order_index, 0) FROM pages ORDER BY section_id, COALESCE(order_index, 0), id")
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy pages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	bySection := make(map[int64][]storage.Sibling)
	var order []int64
	for rows.Next() {
		var s storage.Sibling
		var section int64
		if err := rows.Scan(&s.ID, &section, &s.OrderIndex); err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		if _, ok := bySection[section]; !ok {
			order = append(order, section)
		}
		bySection[section] = append(bySection[section], s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	var changes []Change
	for _, section := range order {
		changes = append(changes, storage.Resequence(bySection[section])...)
	}
	return changes, nil
}

// BuildPlan plans all three kinds.
func BuildPlan(ctx context.Context, q storage.DBTX) (*Plan, error) {
	var plan Plan
	var err error
	if plan.Notebooks, err = PlanNotebookOrder(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to plan notebooks: %w", err)
	}
	if plan.Sections, err = PlanSectionOrder(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to plan sections: %w", err)
	}
	if plan.Pages, err = PlanPageOrder(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to plan pages: %w", err)
	}
	return &plan, nil
}

// Apply writes a plan in one transaction. Nothing persists if any update fails.
func Apply(ctx context.Context, db *sql.DB, plan *Plan) error {
	if plan == nil || plan.Empty() {
		return nil
	}
	return storage.WithTx(ctx, db, "normalize order", func(tx *sql.Tx) error {
		return applyTo(ctx, tx, plan)
	})
}

func applyTo(ctx context.Context, q storage.DBTX, plan *Plan) error {
	for _, k := range plan.kinds() {
		if err := storage.ApplyOrderChanges(ctx, q, k.kind, k.changes); err != nil {
			return err
		}
	}
	contextutil.LoggerFromContext(ctx).InfoContext(ctx, "normalized order indexes",
		"notebooks", len(plan.Notebooks), "sections", len(plan.Sections), "pages", len(plan.Pages))
	return nil
}

// Run plans and applies inside the caller's transaction and returns what it changed.
func Run(ctx context.Context, q storage.DBTX) (*Plan, error) {
	plan, err := BuildPlan(ctx, q)
	if err != nil {
		return nil, err
	}
	if plan.Empty() {
		return plan, nil
	}
	if err := applyTo(ctx, q, plan); err != nil {
		return nil, err
	}
	return plan, nil
}
