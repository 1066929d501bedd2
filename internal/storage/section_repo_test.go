package storage

import (
	"context"
	"errors"
	"testing"

	"notebinder/internal/apperr"
)

func TestSectionRepo_Create(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B")

	if f.sections[1].OrderIndex != 2 {
		t.Errorf("second section order = %d, want 2", f.sections[1].OrderIndex)
	}
	if _, err := f.h.Sections.Create(ctx, 999, "orphan"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Create() in missing notebook error = %v, want not found", err)
	}

	list, err := f.h.Sections.ListByNotebook(ctx, f.notebook.ID)
	if err != nil {
		t.Fatalf("ListByNotebook() error = %v", err)
	}
	if len(list) != 2 || list[0].Title != "A" {
		t.Errorf("ListByNotebook() = %v", list)
	}
}

func TestSectionRepo_SetColor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A")
	id := f.sections[0].ID
	str := func(s string) *string { return &s }

	tests := []struct {
		name    string
		hex     *string
		want    *string
		wantErr bool
	}{
		{name: "set", hex: str("#FF8800"), want: str("#FF8800")},
		{name: "short form", hex: str("#abc"), want: str("#abc")},
		{name: "invalid", hex: str("orange"), wantErr: true},
		{name: "clear with empty", hex: str(""), want: nil},
		{name: "clear with nil", hex: nil, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.h.Sections.SetColor(ctx, id, tt.hex)
			if tt.wantErr {
				if !errors.Is(err, apperr.ErrValidation) {
					t.Errorf("SetColor() error = %v, want validation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetColor() error = %v", err)
			}
			sec, err := f.h.Sections.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			switch {
			case tt.want == nil && sec.ColorHex != nil:
				t.Errorf("ColorHex = %q, want nil", *sec.ColorHex)
			case tt.want != nil && (sec.ColorHex == nil || *sec.ColorHex != *tt.want):
				t.Errorf("ColorHex = %v, want %q", sec.ColorHex, *tt.want)
			}
		})
	}
}

func TestSectionRepo_DeleteCompacts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B", "C")
	f.page(t, f.sections[1].ID, nil, "p")

	if err := f.h.Sections.Delete(ctx, f.sections[1].ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	g := SectionGroup(f.notebook.ID)
	ids, _ := groupState(t, f.h.db, g)
	if !equalIDs(ids, []int64{f.sections[0].ID, f.sections[2].ID}) {
		t.Errorf("sections = %v", ids)
	}
	assertContiguous(t, f.h.db, g)

	var pages int
	if err := f.h.db.QueryRow("SELECT COUNT(*) FROM pages").Scan(&pages); err != nil {
		t.Fatalf("count error = %v", err)
	}
	if pages != 0 {
		t.Errorf("pages after section delete = %d, want 0", pages)
	}
}
