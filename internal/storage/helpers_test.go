package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

type fixture struct {
	h        *Hierarchy
	notebook *Notebook
	sections []*Section
}

// newFixture creates one notebook with the named sections.
func newFixture(t *testing.T, sections ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	h := NewHierarchy(newTestDB(t))
	nb, err := h.Notebooks.Create(ctx, "Binder")
	if err != nil {
		t.Fatalf("Notebooks.Create() error = %v", err)
	}
	f := &fixture{h: h, notebook: nb}
	for _, title := range sections {
		sec, err := h.Sections.Create(ctx, nb.ID, title)
		if err != nil {
			t.Fatalf("Sections.Create(%q) error = %v", title, err)
		}
		f.sections = append(f.sections, sec)
	}
	return f
}

func (f *fixture) page(t *testing.T, sectionID int64, parent *int64, title string) *Page {
	t.Helper()
	p, err := f.h.Pages.Create(context.Background(), sectionID, parent, title)
	if err != nil {
		t.Fatalf("Pages.Create(%q) error = %v", title, err)
	}
	return p
}

// groupState returns (ids, order indexes) of a group as stored.
func groupState(t *testing.T, db DBTX, g SiblingGroup) ([]int64, []int) {
	t.Helper()
	siblings, err := LoadSiblings(context.Background(), db, g)
	if err != nil {
		t.Fatalf("LoadSiblings(%s) error = %v", g, err)
	}
	ids := make([]int64, len(siblings))
	idx := make([]int, len(siblings))
	for i, s := range siblings {
		ids[i] = s.ID
		idx[i] = s.OrderIndex
	}
	return ids, idx
}

// assertContiguous fails unless the group's order indexes are exactly 1..N.
func assertContiguous(t *testing.T, db DBTX, g SiblingGroup) {
	t.Helper()
	_, idx := groupState(t, db, g)
	for i, v := range idx {
		if v != i+1 {
			t.Fatalf("group %s order = %v, want 1..%d", g, idx, len(idx))
		}
	}
}

func ptr(v int64) *int64 { return &v }

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
