package storage

// PageTree is the adjacency list of one section's pages.
type PageTree struct {
	roots    []*Page
	children map[int64][]*Page
	byID     map[int64]*Page
}

// NewPageTree indexes pages by parent. Input order is kept within each group,
// so callers pass pages already sorted by (order_index, id). A page whose
// parent is not in the set is treated as a root.
func NewPageTree(pages []*Page) *PageTree {
	t := &PageTree{
		children: make(map[int64][]*Page),
		byID:     make(map[int64]*Page, len(pages)),
	}
	for _, p := range pages {
		t.byID[p.ID] = p
	}
	for _, p := range pages {
		if p.ParentPageID != nil {
			if _, ok := t.byID[*p.ParentPageID]; ok {
				t.children[*p.ParentPageID] = append(t.children[*p.ParentPageID], p)
				continue
			}
		}
		t.roots = append(t.roots, p)
	}
	return t
}

// Roots returns the section's root-level pages.
func (t *PageTree) Roots() []*Page { return t.roots }

// Children returns the direct sub-pages of id.
func (t *PageTree) Children(id int64) []*Page { return t.children[id] }

// Page looks up a page by id.
func (t *PageTree) Page(id int64) (*Page, bool) {
	p, ok := t.byID[id]
	return p, ok
}

// Len is the number of pages in the tree.
func (t *PageTree) Len() int { return len(t.byID) }

// Walk visits pages depth-first in display order. Returning false from fn
// skips that page's sub-pages.
func (t *PageTree) Walk(fn func(p *Page, depth int) bool) {
	var visit func(pages []*Page, depth int)
	visit = func(pages []*Page, depth int) {
		for _, p := range pages {
			if fn(p, depth) {
				visit(t.children[p.ID], depth+1)
			}
		}
	}
	visit(t.roots, 0)
}

// Descendants returns every page below id, depth-first.
func (t *PageTree) Descendants(id int64) []*Page {
	var out []*Page
	var visit func(parent int64)
	visit = func(parent int64) {
		for _, c := range t.children[parent] {
			out = append(out, c)
			visit(c.ID)
		}
	}
	visit(id)
	return out
}
