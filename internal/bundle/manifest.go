package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"notebinder/internal/apperr"
	"notebinder/internal/storage"
)

// FormatV1 tags export bundles written by this package.
const FormatV1 = "notebook-binder-v1"

// ManifestName is the archive entry holding the manifest.
const ManifestName = "binder.json"

var manifestValidate = validator.New()

// Manifest describes one exported notebook independently of its media payloads.
type Manifest struct {
	Format       string            `json:"format" validate:"required"`
	ExportedAt   string            `json:"exported_at"`
	SourceDBUUID string            `json:"source_db_uuid,omitempty"`
	Notebook     ManifestNotebook  `json:"notebook"`
	Sections     []ManifestSection `json:"sections" validate:"dive"`
	Media        []ManifestMedia   `json:"media" validate:"dive"`
	Refs         []ManifestRef     `json:"refs"`
}

// ManifestNotebook is the exported notebook row.
type ManifestNotebook struct {
	OrigID     int64  `json:"orig_id"`
	Title      string `json:"title" validate:"required"`
	OrderIndex int    `json:"order_index"`
	CreatedAt  string `json:"created_at,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty"`
}

// ManifestSection is an exported section with its pages.
type ManifestSection struct {
	OrigID     int64          `json:"orig_id"`
	Title      string         `json:"title" validate:"required"`
	ColorHex   *string        `json:"color_hex,omitempty"`
	OrderIndex int            `json:"order_index"`
	CreatedAt  string         `json:"created_at,omitempty"`
	ModifiedAt string         `json:"modified_at,omitempty"`
	Pages      []ManifestPage `json:"pages" validate:"dive"`
}

// ManifestPage is an exported page. ParentOrigID refers to another page of the same section.
type ManifestPage struct {
	OrigID       int64   `json:"orig_id"`
	ParentOrigID *int64  `json:"parent_page_orig_id"`
	Title        string  `json:"title"`
	ContentHTML  string  `json:"content_html"`
	OrderIndex   int     `json:"order_index"`
	CreatedAt    string  `json:"created_at,omitempty"`
	ModifiedAt   string  `json:"modified_at,omitempty"`
	DeletedAt    *string `json:"deleted_at,omitempty"`
}

// ManifestMedia is an exported media row.
type ManifestMedia struct {
	OrigID           int64  `json:"orig_id"`
	SHA256           string `json:"sha256" validate:"required,len=64,hexadecimal"`
	MimeType         string `json:"mime_type"`
	Ext              string `json:"ext"`
	OriginalFilename string `json:"original_filename"`
	SizeBytes        int64  `json:"size_bytes" validate:"gte=0"`
	CreatedAt        string `json:"created_at,omitempty"`
}

// ManifestRef is an exported media reference. Exactly one owner id is set.
type ManifestRef struct {
	MediaOrigID    int64  `json:"media_orig_id"`
	Role           string `json:"role"`
	PageOrigID     *int64 `json:"page_orig_id,omitempty"`
	SectionOrigID  *int64 `json:"section_orig_id,omitempty"`
	NotebookOrigID *int64 `json:"notebook_orig_id,omitempty"`
}

// HasRefs reports whether the manifest carries an explicit refs list. Bundles
// from before refs were exported decode with a nil list.
func (m *Manifest) HasRefs() bool {
	return m.Refs != nil
}

// DecodeManifest reads and checks a manifest. The format tag is checked before
// anything else so unknown bundles are rejected without further interpretation.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &apperr.IOError{Op: "read", Path: ManifestName, Err: err}
	}

	var probe struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &apperr.ValidationError{Field: ManifestName, Message: fmt.Sprintf("invalid JSON: %v", err), Err: apperr.ErrUnsupportedFormat}
	}
	if probe.Format != FormatV1 {
		return nil, &apperr.ValidationError{
			Field:   "format",
			Message: fmt.Sprintf("unsupported bundle format %q", probe.Format),
			Err:     apperr.ErrUnsupportedFormat,
		}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, apperr.NewValidation(ManifestName, "invalid manifest: %v", err)
	}
	if err := manifestValidate.Struct(&m); err != nil {
		return nil, manifestError(err)
	}
	return &m, nil
}

func manifestError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return apperr.NewValidation(verrs[0].Namespace(), "invalid manifest fields: %s", strings.Join(fields, ", "))
	}
	return apperr.NewValidation(ManifestName, "invalid manifest: %v", err)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseTime accepts RFC 3339 and SQLite datetime strings. Empty or malformed
// values yield nil so the database default applies.
func parseTime(s string) any {
	if s == "" {
		return nil
	}
	t, err := storage.ParseTimestamp(s)
	if err != nil {
		return nil
	}
	return storage.FormatTimestamp(t)
}
