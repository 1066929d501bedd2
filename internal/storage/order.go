package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"notebinder/internal/apperr"
)

// Kind names one of the three ordered entity kinds.
type Kind int

const (
	KindNotebook Kind = iota + 1
	KindSection
	KindPage
)

func (k Kind) String() string {
	switch k {
	case KindNotebook:
		return "notebook"
	case KindSection:
		return "section"
	case KindPage:
		return "page"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) table() string {
	switch k {
	case KindNotebook:
		return "notebooks"
	case KindSection:
		return "sections"
	case KindPage:
		return "pages"
	}
	panic(fmt.Sprintf("storage: unknown kind %d", int(k)))
}

// SiblingGroup identifies a set of entities sharing one direct parent.
// Notebooks form a single group; sections are grouped by notebook; pages by
// (section, parent page) where a nil parent means the section root.
type SiblingGroup struct {
	Kind         Kind
	NotebookID   int64
	SectionID    int64
	ParentPageID *int64
}

// NotebookGroup is the group of all notebooks.
func NotebookGroup() SiblingGroup {
	return SiblingGroup{Kind: KindNotebook}
}

// SectionGroup is the group of sections inside one notebook.
func SectionGroup(notebookID int64) SiblingGroup {
	return SiblingGroup{Kind: KindSection, NotebookID: notebookID}
}

// PageGroup is the group of pages sharing a section and parent page.
func PageGroup(sectionID int64, parentPageID *int64) SiblingGroup {
	var parent *int64
	if parentPageID != nil {
		v := *parentPageID
		parent = &v
	}
	return SiblingGroup{Kind: KindPage, SectionID: sectionID, ParentPageID: parent}
}

// Equal compares two groups by value.
func (g SiblingGroup) Equal(o SiblingGroup) bool {
	return g.key() == o.key()
}

func (g SiblingGroup) key() string {
	switch g.Kind {
	case KindSection:
		return fmt.Sprintf("section/%d", g.NotebookID)
	case KindPage:
		if g.ParentPageID == nil {
			return fmt.Sprintf("page/%d/root", g.SectionID)
		}
		return fmt.Sprintf("page/%d/%d", g.SectionID, *g.ParentPageID)
	}
	return g.Kind.String()
}

func (g SiblingGroup) String() string {
	return g.key()
}

func (g SiblingGroup) where() (string, []any) {
	switch g.Kind {
	case KindSection:
		return "notebook_id = ?", []any{g.NotebookID}
	case KindPage:
		if g.ParentPageID == nil {
			return "section_id = ? AND parent_page_id IS NULL", []any{g.SectionID}
		}
		return "section_id = ? AND parent_page_id = ?", []any{g.SectionID, *g.ParentPageID}
	}
	return "1 = 1", nil
}

// Sibling is the (id, order_index) pair every ordering operation works on.
type Sibling struct {
	ID         int64
	OrderIndex int
}

// OrderChange assigns a new order_index to one row.
type OrderChange struct {
	ID         int64
	OrderIndex int
}

// siblingOrderBy is the SQL form of lessSibling. Every read that returns
// siblings uses it so output is deterministic before normalization.
const siblingOrderBy = "ORDER BY COALESCE(order_index, 0), id"

func lessSibling(a, b Sibling) bool {
	if a.OrderIndex != b.OrderIndex {
		return a.OrderIndex < b.OrderIndex
	}
	return a.ID < b.ID
}

// SortSiblings sorts by (order_index, id).
func SortSiblings(s []Sibling) {
	sort.Slice(s, func(i, j int) bool { return lessSibling(s[i], s[j]) })
}

// Resequence returns the changes that turn s into a contiguous 1..N sequence
// preserving (order_index, id) order. An empty result means s is normalized.
func Resequence(s []Sibling) []OrderChange {
	ordered := append([]Sibling(nil), s...)
	SortSiblings(ordered)

	var changes []OrderChange
	for i, sib := range ordered {
		if sib.OrderIndex != i+1 {
			changes = append(changes, OrderChange{ID: sib.ID, OrderIndex: i + 1})
		}
	}
	return changes
}

// LoadSiblings reads one sibling group sorted by (order_index, id).
func LoadSiblings(ctx context.Context, q DBTX, g SiblingGroup) ([]Sibling, error) {
	where, args := g.where()
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf("SELECT id, COALESCE(order_index, 0) FROM %s WHERE %s %s", g.Kind.table(), where, siblingOrderBy),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s siblings: %w", g, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var siblings []Sibling
	for rows.Next() {
		var s Sibling
		if err := rows.Scan(&s.ID, &s.OrderIndex); err != nil {
			return nil, fmt.Errorf("failed to scan sibling: %w", err)
		}
		siblings = append(siblings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return siblings, nil
}

// NextOrderIndex returns max(order_index)+1 within the group (1 for an empty group).
func NextOrderIndex(ctx context.Context, q DBTX, g SiblingGroup) (int, error) {
	where, args := g.where()
	var max int
	err := q.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(order_index), 0) FROM %s WHERE %s", g.Kind.table(), where),
		args...,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next order index for %s: %w", g, err)
	}
	return max + 1, nil
}

// ApplyOrderChanges writes order_index updates for rows of one kind.
func ApplyOrderChanges(ctx context.Context, q DBTX, kind Kind, changes []OrderChange) error {
	stmt := fmt.Sprintf("UPDATE %s SET order_index = ? WHERE id = ?", kind.table())
	for _, c := range changes {
		if _, err := q.ExecContext(ctx, stmt, c.OrderIndex, c.ID); err != nil {
			return fmt.Errorf("failed to update %s %d order: %w", kind, c.ID, err)
		}
	}
	return nil
}

// ResequenceGroup compacts one group to 1..N in place.
func ResequenceGroup(ctx context.Context, q DBTX, g SiblingGroup) error {
	siblings, err := LoadSiblings(ctx, q, g)
	if err != nil {
		return err
	}
	return ApplyOrderChanges(ctx, q, g.Kind, Resequence(siblings))
}

// resolveOrder checks a caller-supplied ordering against the current members
// of a group. Ids outside the group and repeated ids are dropped with a
// warning; members missing from ids fail with ErrUnderSpecifiedOrder.
func resolveOrder(ctx context.Context, g SiblingGroup, members []Sibling, ids []int64) ([]int64, error) {
	inGroup := make(map[int64]bool, len(members))
	for _, m := range members {
		inGroup[m.ID] = true
	}

	ordered := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !inGroup[id] {
			logger(ctx).WarnContext(ctx, "ignoring id outside sibling group", "group", g.String(), "id", id)
			continue
		}
		if seen[id] {
			logger(ctx).WarnContext(ctx, "ignoring repeated id in order", "group", g.String(), "id", id)
			continue
		}
		seen[id] = true
		ordered = append(ordered, id)
	}

	if len(ordered) != len(members) {
		return nil, underSpecified(g, members, seen)
	}
	return ordered, nil
}

func underSpecified(g SiblingGroup, members []Sibling, seen map[int64]bool) error {
	var missing []string
	for _, m := range members {
		if !seen[m.ID] {
			missing = append(missing, fmt.Sprint(m.ID))
		}
	}
	return &apperr.ValidationError{
		Field:   "ordered_ids",
		Message: fmt.Sprintf("order for %s omits ids [%s]", g, strings.Join(missing, ", ")),
		Err:     apperr.ErrUnderSpecifiedOrder,
	}
}

// positionChanges assigns 1..N by position, skipping rows already in place.
func positionChanges(members []Sibling, ordered []int64) []OrderChange {
	current := make(map[int64]int, len(members))
	for _, m := range members {
		current[m.ID] = m.OrderIndex
	}
	var changes []OrderChange
	for i, id := range ordered {
		if cur, ok := current[id]; !ok || cur != i+1 {
			changes = append(changes, OrderChange{ID: id, OrderIndex: i + 1})
		}
	}
	return changes
}

// setOrder applies a complete ordering to one group. Callers run it inside a transaction.
func setOrder(ctx context.Context, q DBTX, g SiblingGroup, ids []int64) error {
	members, err := LoadSiblings(ctx, q, g)
	if err != nil {
		return err
	}
	ordered, err := resolveOrder(ctx, g, members, ids)
	if err != nil {
		return err
	}
	return ApplyOrderChanges(ctx, q, g.Kind, positionChanges(members, ordered))
}

// moveBy shifts id by delta positions inside its group, clamped to the ends.
// It reports whether the position changed; the group is compacted either way.
func moveBy(ctx context.Context, q DBTX, g SiblingGroup, id int64, delta int) (bool, error) {
	members, err := LoadSiblings(ctx, q, g)
	if err != nil {
		return false, err
	}
	ids := make([]int64, len(members))
	from := -1
	for i, m := range members {
		ids[i] = m.ID
		if m.ID == id {
			from = i
		}
	}
	if from < 0 {
		return false, apperr.NotFound(g.Kind.String(), id)
	}

	to := from + delta
	if to < 0 {
		to = 0
	}
	if to > len(ids)-1 {
		to = len(ids) - 1
	}
	if to != from {
		ids = append(ids[:from], ids[from+1:]...)
		ids = append(ids[:to], append([]int64{id}, ids[to:]...)...)
	}
	if err := ApplyOrderChanges(ctx, q, g.Kind, positionChanges(members, ids)); err != nil {
		return false, err
	}
	return to != from, nil
}

// ListPageGroups returns every (section, parent) page group that has at least one page.
func ListPageGroups(ctx context.Context, q DBTX) ([]SiblingGroup, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT DISTINCT section_id, parent_page_id FROM pages ORDER BY section_id, parent_page_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query page groups: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var groups []SiblingGroup
	for rows.Next() {
		var section int64
		var parent sql.NullInt64
		if err := rows.Scan(&section, &parent); err != nil {
			return nil, fmt.Errorf("failed to scan page group: %w", err)
		}
		groups = append(groups, PageGroup(section, ptrFromNull(parent)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return groups, nil
}

// ListSectionGroups returns the section group of every notebook that has sections.
func ListSectionGroups(ctx context.Context, q DBTX) ([]SiblingGroup, error) {
	rows, err := q.QueryContext(ctx, "SELECT DISTINCT notebook_id FROM sections ORDER BY notebook_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query section groups: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var groups []SiblingGroup
	for rows.Next() {
		var nb int64
		if err := rows.Scan(&nb); err != nil {
			return nil, fmt.Errorf("failed to scan section group: %w", err)
		}
		groups = append(groups, SectionGroup(nb))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return groups, nil
}
