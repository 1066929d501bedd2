package mediastore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"notebinder/internal/apperr"
	"notebinder/internal/contextutil"
	"notebinder/internal/storage"
)

// Store maps attachment bytes to fan-out files under root and keeps the
// matching media rows and refs.
type Store struct {
	media storage.MediaStore
	root  string
}

// New creates a Store whose files live under root.
func New(media storage.MediaStore, root string) *Store {
	return &Store{media: media, root: root}
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// AbsPath resolves a fan-out relative path against the store root.
func (s *Store) AbsPath(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

// PathFor returns the absolute file path of a media row.
func (s *Store) PathFor(m *storage.Media) string {
	return s.AbsPath(RelativePath(m.SHA256, m.Ext))
}

// IngestFile stores the file at path. originalFilename defaults to the file's base name.
func (s *Store) IngestFile(ctx context.Context, path, originalFilename string) (*storage.Media, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", &apperr.IOError{Op: "open", Path: path, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()

	if originalFilename == "" {
		originalFilename = filepath.Base(path)
	}
	return s.Ingest(ctx, f, originalFilename)
}

// Ingest stores the bytes read from r and returns the media row with its
// relative path. Identical content is stored once: a hash seen before reuses
// the existing row and file.
func (s *Store) Ingest(ctx context.Context, r io.Reader, originalFilename string) (*storage.Media, string, error) {
	log := logger(ctx)

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, "", &apperr.IOError{Op: "mkdir", Path: s.root, Err: err}
	}
	tmp, err := os.CreateTemp(s.root, ".ingest-*.tmp")
	if err != nil {
		return nil, "", &apperr.IOError{Op: "create temp", Path: s.root, Err: err}
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	h := sha256.New()
	head := &headBuffer{limit: sniffSize}
	size, err := io.CopyBuffer(io.MultiWriter(tmp, h, head), r, make([]byte, chunkSize))
	if err != nil {
		_ = tmp.Close()
		return nil, "", &apperr.IOError{Op: "read", Path: originalFilename, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return nil, "", &apperr.IOError{Op: "close", Path: tmpPath, Err: err}
	}
	hash := hex.EncodeToString(h.Sum(nil))

	existing, err := s.media.GetBySHA256(ctx, hash)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, "", err
	}

	candidate := existing
	if candidate == nil {
		mimeType, ext := DetectType(originalFilename, head.buf)
		candidate = &storage.Media{
			SHA256:           hash,
			MimeType:         mimeType,
			Ext:              ext,
			OriginalFilename: originalFilename,
			SizeBytes:        size,
		}
	}

	rel := RelativePath(candidate.SHA256, candidate.Ext)
	repaired, err := s.place(tmpPath, s.AbsPath(rel), size)
	if err != nil {
		return nil, "", err
	}
	if repaired {
		log.WarnContext(ctx, "replaced damaged media file", "sha256", hash, "path", rel)
	}

	if existing != nil {
		log.DebugContext(ctx, "reused media", "media_id", existing.ID, "sha256", hash)
		return existing, rel, nil
	}

	stored, err := s.media.Upsert(ctx, candidate)
	if err != nil {
		return nil, "", err
	}
	log.InfoContext(ctx, "ingested media", "media_id", stored.ID, "sha256", hash, "size", size, "mime_type", stored.MimeType)
	return stored, RelativePath(stored.SHA256, stored.Ext), nil
}

// place moves the spooled file to dest unless dest already holds size bytes,
// then checks that dest holds size bytes. A dest of the wrong size (truncated
// or otherwise damaged) is replaced by the spooled copy; repaired reports that.
func (s *Store) place(tmpPath, dest string, size int64) (repaired bool, err error) {
	info, err := os.Stat(dest)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return false, &apperr.IOError{Op: "stat", Path: dest, Err: err}
	case info.Size() == size:
		return false, nil
	default:
		repaired = true
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, &apperr.IOError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return false, &apperr.IOError{Op: "rename", Path: dest, Err: err}
	}

	info, err = os.Stat(dest)
	if err != nil {
		return false, &apperr.IOError{Op: "stat", Path: dest, Err: err}
	}
	if info.Size() != size {
		return false, &apperr.IOError{Op: "verify", Path: dest,
			Err: fmt.Errorf("stored size %d does not match content size %d", info.Size(), size)}
	}
	return repaired, nil
}

// AddReference links a media row to one owner. Role defaults to "attachment".
func (s *Store) AddReference(ctx context.Context, mediaID int64, owner storage.Owner, role string) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	if role == "" {
		role = storage.RoleAttachment
	}
	return s.media.AddRef(ctx, storage.MediaRef{MediaID: mediaID, Owner: owner, Role: role})
}

// RemoveReference deletes the refs from mediaID to owner. The media row stays until GarbageCollect.
func (s *Store) RemoveReference(ctx context.Context, mediaID int64, owner storage.Owner) error {
	n, err := s.media.RemoveRef(ctx, mediaID, owner)
	if err != nil {
		return err
	}
	logger(ctx).DebugContext(ctx, "removed media refs", "media_id", mediaID, "owner", owner.String(), "count", n)
	return nil
}

// GarbageCollect deletes media rows nothing refers to and their files. A row
// that gains a ref between listing and deletion is kept. File removal failures
// are logged and skipped. It returns the number of rows removed.
func (s *Store) GarbageCollect(ctx context.Context) (int, error) {
	log := logger(ctx)

	candidates, err := s.media.ListUnreferenced(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, m := range candidates {
		deleted, err := s.media.DeleteIfUnreferenced(ctx, m.ID)
		if err != nil {
			return removed, err
		}
		if !deleted {
			log.DebugContext(ctx, "media gained a reference, keeping", "media_id", m.ID)
			continue
		}
		removed++

		p := s.PathFor(m)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WarnContext(ctx, "failed to remove media file", "media_id", m.ID, "path", p, "error", err)
		}
	}

	if removed > 0 {
		log.InfoContext(ctx, "garbage collected media", "removed", removed)
	}
	return removed, nil
}

// Open returns a reader over a media row's stored bytes.
func (s *Store) Open(ctx context.Context, mediaID int64) (io.ReadCloser, *storage.Media, error) {
	m, err := s.media.GetByID(ctx, mediaID)
	if err != nil {
		return nil, nil, err
	}
	p := s.PathFor(m)
	f, err := os.Open(p)
	if err != nil {
		return nil, nil, &apperr.IOError{Op: "open", Path: p, Err: err}
	}
	return f, m, nil
}

// headBuffer keeps the first limit bytes written to it.
type headBuffer struct {
	buf   []byte
	limit int
}

func (b *headBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	return len(p), nil
}

func logger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "mediastore")
}

// WriteBlob stores bytes that are expected to hash to sha256 at their fan-out
// path. It reports whether a new file was created; an existing file is left
// untouched. A hash mismatch is an IOError and nothing is written.
func (s *Store) WriteBlob(r io.Reader, sha256Hex, ext string) (string, bool, error) {
	rel := RelativePath(sha256Hex, ext)
	dest := s.AbsPath(rel)
	if _, err := os.Stat(dest); err == nil {
		return rel, false, nil
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return "", false, &apperr.IOError{Op: "mkdir", Path: s.root, Err: err}
	}
	tmp, err := os.CreateTemp(s.root, ".blob-*.tmp")
	if err != nil {
		return "", false, &apperr.IOError{Op: "create temp", Path: s.root, Err: err}
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	h := sha256.New()
	size, err := io.CopyBuffer(io.MultiWriter(tmp, h), r, make([]byte, chunkSize))
	if err != nil {
		_ = tmp.Close()
		return "", false, &apperr.IOError{Op: "write", Path: dest, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", false, &apperr.IOError{Op: "close", Path: tmpPath, Err: err}
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, sha256Hex) {
		return "", false, &apperr.IOError{Op: "verify", Path: rel,
			Err: fmt.Errorf("content hashes to %s", got)}
	}
	if _, err := s.place(tmpPath, dest, size); err != nil {
		return "", false, err
	}
	return rel, true, nil
}
