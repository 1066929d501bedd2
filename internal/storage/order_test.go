package storage

import (
	"context"
	"errors"
	"testing"

	"notebinder/internal/apperr"
)

func TestResequence(t *testing.T) {
	tests := []struct {
		name string
		in   []Sibling
		want []OrderChange
	}{
		{
			name: "already normalized",
			in:   []Sibling{{ID: 1, OrderIndex: 1}, {ID: 2, OrderIndex: 2}},
			want: nil,
		},
		{
			name: "gaps",
			in:   []Sibling{{ID: 1, OrderIndex: 2}, {ID: 2, OrderIndex: 5}, {ID: 3, OrderIndex: 9}},
			want: []OrderChange{{ID: 1, OrderIndex: 1}, {ID: 2, OrderIndex: 2}, {ID: 3, OrderIndex: 3}},
		},
		{
			name: "duplicates broken by id",
			in:   []Sibling{{ID: 7, OrderIndex: 1}, {ID: 3, OrderIndex: 1}, {ID: 5, OrderIndex: 2}},
			want: []OrderChange{{ID: 7, OrderIndex: 2}, {ID: 5, OrderIndex: 3}},
		},
		{
			name: "zeros from null order",
			in:   []Sibling{{ID: 2, OrderIndex: 0}, {ID: 1, OrderIndex: 0}},
			want: []OrderChange{{ID: 1, OrderIndex: 1}, {ID: 2, OrderIndex: 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resequence(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Resequence() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Resequence()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSiblingGroupEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b SiblingGroup
		want bool
	}{
		{"notebooks", NotebookGroup(), NotebookGroup(), true},
		{"same section root", PageGroup(1, nil), PageGroup(1, nil), true},
		{"same parent by value", PageGroup(1, ptr(4)), PageGroup(1, ptr(4)), true},
		{"root vs child", PageGroup(1, nil), PageGroup(1, ptr(4)), false},
		{"different sections", SectionGroup(1), SectionGroup(2), false},
		{"kind differs", SectionGroup(1), PageGroup(1, nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B", "C")
	a, b, c := f.sections[0].ID, f.sections[1].ID, f.sections[2].ID
	g := SectionGroup(f.notebook.ID)

	tests := []struct {
		name    string
		ids     []int64
		want    []int64
		wantErr error
	}{
		{name: "reverse", ids: []int64{c, b, a}, want: []int64{c, b, a}},
		{name: "foreign id ignored", ids: []int64{a, 999, b, c}, want: []int64{a, b, c}},
		{name: "duplicate keeps first", ids: []int64{b, a, b, c}, want: []int64{b, a, c}},
		{name: "missing member", ids: []int64{a, c}, wantErr: apperr.ErrUnderSpecifiedOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := groupState(t, f.h.db, g)
			err := f.h.SetOrder(ctx, g, tt.ids)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) || !errors.Is(err, apperr.ErrValidation) {
					t.Fatalf("SetOrder() error = %v, want %v", err, tt.wantErr)
				}
				after, _ := groupState(t, f.h.db, g)
				if !equalIDs(before, after) {
					t.Errorf("failed SetOrder() changed order from %v to %v", before, after)
				}
				return
			}
			if err != nil {
				t.Fatalf("SetOrder() error = %v", err)
			}
			got, _ := groupState(t, f.h.db, g)
			if !equalIDs(got, tt.want) {
				t.Errorf("order = %v, want %v", got, tt.want)
			}
			assertContiguous(t, f.h.db, g)
		})
	}
}

func TestNextOrderIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A")
	sec := f.sections[0].ID

	next, err := NextOrderIndex(ctx, f.h.db, PageGroup(sec, nil))
	if err != nil {
		t.Fatalf("NextOrderIndex() error = %v", err)
	}
	if next != 1 {
		t.Errorf("NextOrderIndex() on empty group = %d, want 1", next)
	}

	p := f.page(t, sec, nil, "one")
	if _, err := f.h.db.Exec("UPDATE pages SET order_index = 7 WHERE id = ?", p.ID); err != nil {
		t.Fatalf("update error = %v", err)
	}
	if next, _ = NextOrderIndex(ctx, f.h.db, PageGroup(sec, nil)); next != 8 {
		t.Errorf("NextOrderIndex() = %d, want 8", next)
	}
	// Child groups are counted separately.
	if next, _ = NextOrderIndex(ctx, f.h.db, PageGroup(sec, &p.ID)); next != 1 {
		t.Errorf("NextOrderIndex() child group = %d, want 1", next)
	}
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "A", "B", "C")
	a, b, c := f.sections[0].ID, f.sections[1].ID, f.sections[2].ID
	g := SectionGroup(f.notebook.ID)

	tests := []struct {
		name      string
		id        int64
		delta     int
		wantMoved bool
		want      []int64
	}{
		{"down one", a, 1, true, []int64{b, a, c}},
		{"clamped at bottom", c, 5, false, []int64{b, a, c}},
		{"up to top", c, -2, true, []int64{c, b, a}},
		{"clamped at top", c, -1, false, []int64{c, b, a}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			moved, err := f.h.Sections.Move(ctx, tt.id, tt.delta)
			if err != nil {
				t.Fatalf("Move() error = %v", err)
			}
			if moved != tt.wantMoved {
				t.Errorf("Move() moved = %v, want %v", moved, tt.wantMoved)
			}
			got, _ := groupState(t, f.h.db, g)
			if !equalIDs(got, tt.want) {
				t.Errorf("order = %v, want %v", got, tt.want)
			}
			assertContiguous(t, f.h.db, g)
		})
	}
}
