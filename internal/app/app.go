// Package app wires the storage, content store, bundle and retention
// components behind the handful of entry points a front end needs.
package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	ghhtml "github.com/yuin/goldmark/renderer/html"

	"notebinder/internal/apperr"
	"notebinder/internal/bundle"
	"notebinder/internal/config"
	"notebinder/internal/contextutil"
	"notebinder/internal/mediastore"
	"notebinder/internal/retention"
	"notebinder/internal/storage"
)

// App is an open notebook database with its content store.
type App struct {
	cfg *config.Config
	db  *sql.DB

	Hierarchy *storage.Hierarchy
	Media     *storage.MediaRepo
	Store     *mediastore.Store
	Codec     *bundle.Codec
	Retention *retention.Manager

	markdown goldmark.Markdown
}

// Open opens and migrates the database named by cfg and wires every component to it.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger(ctx)

	var opts []storage.Option
	if cfg.DBBusyTimeout > 0 {
		opts = append(opts, storage.WithBusyTimeout(cfg.DBBusyTimeout))
	}
	db, err := storage.New(cfg.DBPath, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := storage.MigrateContext(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	root := cfg.MediaRoot
	if root == "" {
		root = mediastore.RootForDB(cfg.DBPath)
	}
	media := storage.NewMediaRepo(db)
	store := mediastore.New(media, root)

	a := &App{
		cfg:       cfg,
		db:        db,
		Hierarchy: storage.NewHierarchy(db),
		Media:     media,
		Store:     store,
		Codec:     bundle.NewCodec(db, cfg.DBPath, store),
		Retention: retention.NewManager(),
		markdown: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
				extension.Table,
				extension.TaskList,
				extension.Strikethrough,
				extension.Linkify,
			),
			goldmark.WithRendererOptions(
				ghhtml.WithUnsafe(),
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
		),
	}
	log.InfoContext(ctx, "database opened", "path", cfg.DBPath, "media_root", root)
	return a, nil
}

// DB returns the underlying database handle.
func (a *App) DB() *sql.DB { return a.db }

// Close closes the database.
func (a *App) Close() error {
	return a.db.Close()
}

// BackupOnExit runs the shutdown backup: stale temp files in the backup
// directory are swept, a new backup is written and old backups beyond the
// configured count are pruned. Sweep and prune failures are only logged.
func (a *App) BackupOnExit(ctx context.Context) (string, error) {
	log := logger(ctx)
	dir := a.cfg.BackupDir

	if _, err := a.Retention.CleanupStaleTemp(ctx, dir, a.cfg.StaleTempMaxAge); err != nil {
		log.WarnContext(ctx, "stale temp cleanup failed", "dir", dir, "error", err)
	}

	path, err := a.Codec.Backup(ctx, bundle.BackupOptions{DestDir: dir, IncludeMedia: a.cfg.BackupIncludeMedia})
	if err != nil {
		return "", err
	}

	if _, err := a.Retention.Prune(ctx, dir, bundle.DBStem(a.cfg.DBPath), a.cfg.BackupKeep); err != nil {
		log.WarnContext(ctx, "backup prune failed", "dir", dir, "error", err)
	}
	return path, nil
}

// AttachFile stores the file at path in the content store and references it
// from the page. Trashed pages are read-only.
func (a *App) AttachFile(ctx context.Context, pageID int64, path, role string) (*storage.Media, error) {
	page, err := a.Hierarchy.Pages.Get(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if page.IsDeleted() {
		return nil, &apperr.ValidationError{Field: "page", Message: fmt.Sprintf("page %d is in the trash", pageID), Err: apperr.ErrReadOnly}
	}

	m, _, err := a.Store.IngestFile(ctx, path, "")
	if err != nil {
		return nil, err
	}
	if err := a.Store.AddReference(ctx, m.ID, storage.PageOwner(pageID), role); err != nil {
		return nil, err
	}
	return m, nil
}

// CreatePageFromMarkdown renders markdown (GitHub flavored) to HTML and
// stores it as a new page.
func (a *App) CreatePageFromMarkdown(ctx context.Context, sectionID int64, parentPageID *int64, title, markdown string) (*storage.Page, error) {
	var buf bytes.Buffer
	if err := a.markdown.Convert([]byte(markdown), &buf); err != nil {
		return nil, fmt.Errorf("convert markdown: %w", err)
	}
	return a.Hierarchy.Pages.CreateWithContent(ctx, sectionID, parentPageID, title, buf.String())
}

// CleanUnusedMedia removes media that nothing references.
func (a *App) CleanUnusedMedia(ctx context.Context) (int, error) {
	return a.Store.GarbageCollect(ctx)
}

// SaveAs writes a compacted copy of the database to newPath and copies the
// content store next to it. The App keeps using the current database.
// An existing target is a ConflictError unless overwrite is set.
func (a *App) SaveAs(ctx context.Context, newPath string, overwrite bool) error {
	log := logger(ctx)

	target, err := filepath.Abs(newPath)
	if err != nil {
		return &apperr.IOError{Op: "resolve", Path: newPath, Err: err}
	}
	current, err := filepath.Abs(a.cfg.DBPath)
	if err == nil && current == target {
		return apperr.NewValidation("path", "save as target is the open database")
	}
	targetRoot := mediastore.RootForDB(target)

	if _, err := os.Stat(target); err == nil {
		if !overwrite {
			return &apperr.ConflictError{Path: target}
		}
		for _, p := range []string{target, targetRoot} {
			if err := os.RemoveAll(p); err != nil {
				return &apperr.IOError{Op: "remove", Path: p, Err: err}
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &apperr.IOError{Op: "mkdir", Path: filepath.Dir(target), Err: err}
	}

	if _, err := a.db.ExecContext(ctx, "VACUUM INTO ?", target); err != nil {
		return &apperr.IOError{Op: "vacuum into", Path: target, Err: err}
	}

	n, err := copyTree(filepath.Join(a.Store.Root(), "media"), filepath.Join(targetRoot, "media"))
	if err != nil {
		return err
	}
	log.InfoContext(ctx, "database saved as", "path", target, "media_files", n)
	return nil
}

// copyTree copies the regular files under src to dst, skipping temp files.
// A missing src copies nothing.
func copyTree(src, dst string) (int, error) {
	n := 0
	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == src && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return &apperr.IOError{Op: "walk", Path: p, Err: err}
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return &apperr.IOError{Op: "rel", Path: p, Err: err}
		}
		if err := copyFile(p, filepath.Join(dst, rel)); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &apperr.IOError{Op: "open", Path: src, Err: err}
	}
	defer func() {
		_ = in.Close()
	}()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return &apperr.IOError{Op: "mkdir", Path: filepath.Dir(dst), Err: err}
	}
	out, err := os.Create(dst)
	if err != nil {
		return &apperr.IOError{Op: "create", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return &apperr.IOError{Op: "copy", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &apperr.IOError{Op: "close", Path: dst, Err: err}
	}
	return nil
}

func logger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "app")
}
