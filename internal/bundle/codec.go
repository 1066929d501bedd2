// Package bundle writes and reads portable ZIP archives: whole-database
// backups (.bundle) and single-notebook exports (.binder).
package bundle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"notebinder/internal/apperr"
	"notebinder/internal/contextutil"
	"notebinder/internal/mediastore"
	"notebinder/internal/storage"
)

const (
	// BackupExt is the extension of whole-database backups.
	BackupExt = ".bundle"
	// ExportExt is the extension of single-notebook exports.
	ExportExt = ".binder"

	timestampLayout = "20060102-150405"
)

// Codec reads and writes bundles for one open database and its content store.
type Codec struct {
	db     *sql.DB
	dbPath string
	store  *mediastore.Store
	now    func() time.Time
}

// NewCodec creates a Codec. dbPath is the file behind db.
func NewCodec(db *sql.DB, dbPath string, store *mediastore.Store) *Codec {
	return &Codec{db: db, dbPath: dbPath, store: store, now: time.Now}
}

func (c *Codec) timestamp() string {
	return c.now().UTC().Format(timestampLayout)
}

// DBStem returns the database filename without its extension. Backups are named after it.
func DBStem(dbPath string) string {
	base := filepath.Base(dbPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// BackupOptions configures Backup.
type BackupOptions struct {
	DestDir      string
	IncludeMedia bool
}

// Backup writes <stem>-<timestamp>.bundle into DestDir holding the database
// file and, when requested, the content store tree. Writers are held off while
// the database file is copied. An existing bundle of the same name is a conflict.
func (c *Codec) Backup(ctx context.Context, opts BackupOptions) (string, error) {
	log := logger(ctx)
	if opts.DestDir == "" {
		return "", apperr.NewValidation("dest_dir", "must not be empty")
	}
	if _, err := os.Stat(c.dbPath); err != nil {
		return "", &apperr.IOError{Op: "stat", Path: c.dbPath, Err: err}
	}

	finalPath := filepath.Join(opts.DestDir, DBStem(c.dbPath)+"-"+c.timestamp()+BackupExt)
	if _, err := os.Stat(finalPath); err == nil {
		return "", &apperr.ConflictError{Path: finalPath}
	}

	mediaFiles := 0
	err := writeZipAtomic(finalPath, func(zw *zip.Writer) error {
		// Only the database copy holds the write lock.
		err := storage.WithTx(ctx, c.db, "backup", func(_ *sql.Tx) error {
			return addFile(zw, c.dbPath, filepath.Base(c.dbPath))
		})
		if err != nil {
			return err
		}
		if !opts.IncludeMedia {
			return nil
		}
		mediaDir := filepath.Join(c.store.Root(), "media")
		if info, err := os.Stat(mediaDir); err != nil || !info.IsDir() {
			return nil
		}
		n, err := addTree(zw, mediaDir, c.store.Root())
		mediaFiles = n
		return err
	})
	if err != nil {
		return "", unwrapTx(err)
	}

	log.InfoContext(ctx, "backup written", "path", finalPath, "media_files", mediaFiles)
	return finalPath, nil
}

// RestoreBackup extracts a backup bundle to targetDBPath and the content store
// next to it. It refuses to overwrite an existing database or content store.
func RestoreBackup(ctx context.Context, bundlePath, targetDBPath string) error {
	targetRoot := mediastore.RootForDB(targetDBPath)
	for _, p := range []string{targetDBPath, targetRoot} {
		if _, err := os.Stat(p); err == nil {
			return &apperr.ConflictError{Path: p}
		}
	}

	zr, err := zip.OpenReader(bundlePath)
	if err != nil {
		return &apperr.IOError{Op: "open", Path: bundlePath, Err: err}
	}
	defer func() {
		_ = zr.Close()
	}()

	var dbEntry *zip.File
	for _, f := range zr.File {
		if !strings.Contains(f.Name, "/") && !f.FileInfo().IsDir() {
			dbEntry = f
			break
		}
	}
	if dbEntry == nil {
		return apperr.NewValidation("bundle", "%s contains no database file", bundlePath)
	}

	if err := os.MkdirAll(filepath.Dir(targetDBPath), 0o755); err != nil {
		return &apperr.IOError{Op: "mkdir", Path: filepath.Dir(targetDBPath), Err: err}
	}
	if err := extractAtomic(dbEntry, targetDBPath); err != nil {
		return err
	}

	restored := 0
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, "media/") || f.FileInfo().IsDir() {
			continue
		}
		dest, err := safeEntryPath(targetRoot, f.Name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return &apperr.IOError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
		}
		if err := extractAtomic(f, dest); err != nil {
			return err
		}
		restored++
	}

	logger(ctx).InfoContext(ctx, "backup restored", "bundle", bundlePath, "db", targetDBPath, "media_files", restored)
	return nil
}

// extractAtomic writes one archive entry to dest through a temp file.
func extractAtomic(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return &apperr.IOError{Op: "open entry", Path: f.Name, Err: err}
	}
	defer func() {
		_ = rc.Close()
	}()

	tmp := dest + TempSuffix
	out, err := os.Create(tmp)
	if err != nil {
		return &apperr.IOError{Op: "create", Path: tmp, Err: err}
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return &apperr.IOError{Op: "extract", Path: f.Name, Err: err}
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return &apperr.IOError{Op: "close", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return &apperr.IOError{Op: "rename", Path: dest, Err: err}
	}
	return nil
}

// unwrapTx returns the IO error inside a rolled back read transaction so
// callers see the filesystem failure rather than the transaction wrapper.
func unwrapTx(err error) error {
	var txErr *apperr.TxError
	var ioErr *apperr.IOError
	if errors.As(err, &txErr) && errors.As(err, &ioErr) {
		return ioErr
	}
	return err
}

func logger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "bundle")
}

func sanitizeTitle(title string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 64 {
		out = strings.TrimRight(out[:64], "_")
	}
	if out == "" {
		return "binder"
	}
	return out
}

var errNoManifest = fmt.Errorf("%s missing", ManifestName)
