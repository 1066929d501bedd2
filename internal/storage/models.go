package storage

import "time"

// Notebook is a top-level binder. It owns Sections.
type Notebook struct {
	ID         int64
	Title      string
	OrderIndex int // Position among all notebooks (1..N once normalized)
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Section belongs to a Notebook and owns Pages.
type Section struct {
	ID         int64
	NotebookID int64
	Title      string
	ColorHex   *string // nil when no color is set
	OrderIndex int     // Position within its notebook
	CreatedAt  time.Time
	ModifiedAt time.Time
}

// Page belongs to a Section and optionally to a parent Page in the same section.
type Page struct {
	ID           int64
	SectionID    int64
	ParentPageID *int64 // nil for section root pages
	Title        string
	ContentHTML  string
	OrderIndex   int // Position within its (section, parent) sibling group
	CreatedAt    time.Time
	ModifiedAt   time.Time
	DeletedAt    *time.Time // Soft-delete marker; the page is read-only while set
}

// IsDeleted reports whether the page carries a soft-delete marker.
func (p *Page) IsDeleted() bool {
	return p.DeletedAt != nil
}

// Group returns the sibling group the page belongs to.
func (p *Page) Group() SiblingGroup {
	return PageGroup(p.SectionID, p.ParentPageID)
}

// Media is an immutable, content-addressed blob shared by every owner that references it.
type Media struct {
	ID               int64
	SHA256           string // Hex digest, globally unique
	MimeType         string
	Ext              string // Without leading dot
	OriginalFilename string
	SizeBytes        int64
	CreatedAt        time.Time
}

// MediaRef links a Media row to exactly one owning entity.
type MediaRef struct {
	MediaID int64
	Owner   Owner
	Role    string // Free-form tag such as "attachment" or "inline"
}

// Default media reference roles.
const (
	RoleAttachment = "attachment"
	RoleInline     = "inline"
)
