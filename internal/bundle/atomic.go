package bundle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"notebinder/internal/apperr"
)

// TempSuffix is appended to a bundle's final path while it is being written.
const TempSuffix = ".tmp"

// writeZipAtomic builds a ZIP archive at finalPath+TempSuffix with fill and
// renames it into place once complete. On any failure the temp file is removed
// and finalPath is never created.
func writeZipAtomic(finalPath string, fill func(zw *zip.Writer) error) error {
	tmpPath := finalPath + TempSuffix
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return &apperr.IOError{Op: "mkdir", Path: filepath.Dir(finalPath), Err: err}
	}
	// A leftover from an interrupted run must not leak into this archive.
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &apperr.IOError{Op: "remove stale temp", Path: tmpPath, Err: err}
	}

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return &apperr.IOError{Op: "create", Path: tmpPath, Err: err}
	}
	success := false
	defer func() {
		if !success {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	zw := zip.NewWriter(f)
	if err := fill(zw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return &apperr.IOError{Op: "finish archive", Path: tmpPath, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &apperr.IOError{Op: "sync", Path: tmpPath, Err: err}
	}
	if err := f.Close(); err != nil {
		return &apperr.IOError{Op: "close", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return &apperr.IOError{Op: "rename", Path: finalPath, Err: err}
	}
	success = true
	return nil
}

// addFile copies the file at src into the archive as name.
func addFile(zw *zip.Writer, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return &apperr.IOError{Op: "open", Path: src, Err: err}
	}
	defer func() {
		_ = in.Close()
	}()

	info, err := in.Stat()
	if err != nil {
		return &apperr.IOError{Op: "stat", Path: src, Err: err}
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build zip header for %s: %w", src, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return &apperr.IOError{Op: "add entry", Path: name, Err: err}
	}
	if _, err := io.Copy(w, in); err != nil {
		return &apperr.IOError{Op: "copy", Path: src, Err: err}
	}
	return nil
}

// addTree adds every regular file under dir, named relative to base with forward slashes.
// Temp files left by interrupted ingests are skipped.
func addTree(zw *zip.Writer, dir, base string) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || strings.HasSuffix(d.Name(), ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		if err := addFile(zw, p, filepath.ToSlash(rel)); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil && !apperr.IsTyped(err) && !errors.Is(err, apperr.ErrIO) {
		return n, &apperr.IOError{Op: "walk", Path: dir, Err: err}
	}
	return n, err
}

// safeEntryPath resolves a ZIP entry name below dir, rejecting names that escape it.
func safeEntryPath(dir, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", apperr.NewValidation("entry", "archive entry %q escapes the target directory", name)
	}
	return filepath.Join(dir, clean), nil
}
