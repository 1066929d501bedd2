// Package retention keeps the backup directory bounded: it lists backup
// bundles, prunes all but the newest few and sweeps temp files left behind
// by interrupted bundle writes.
package retention

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"notebinder/internal/apperr"
	"notebinder/internal/contextutil"
)

const (
	backupExt = ".bundle"
	exportExt = ".binder"
	tempExt   = ".tmp"
)

// backupSuffix matches what follows "<stem>-" in a backup name. Anchoring on
// the timestamp keeps "notes-archive-..." out of the "notes" set.
var backupSuffix = regexp.MustCompile(`^\d{8}-\d{6}` + regexp.QuoteMeta(backupExt) + `$`)

// Bundle is one backup file on disk.
type Bundle struct {
	Path    string
	ModTime time.Time
	Size    int64
}

// ListBundles returns the <stem>-<YYYYMMDD>-<HHMMSS>.bundle files in dir, newest first by
// modification time. A missing directory has no bundles.
func ListBundles(dir, stem string) ([]Bundle, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &apperr.IOError{Op: "read dir", Path: dir, Err: err}
	}

	prefix := stem + "-"
	var bundles []Bundle
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !backupSuffix.MatchString(name[len(prefix):]) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		bundles = append(bundles, Bundle{Path: filepath.Join(dir, name), ModTime: info.ModTime(), Size: info.Size()})
	}

	sort.Slice(bundles, func(i, j int) bool {
		if !bundles[i].ModTime.Equal(bundles[j].ModTime) {
			return bundles[i].ModTime.After(bundles[j].ModTime)
		}
		// Timestamped names sort chronologically.
		return bundles[i].Path > bundles[j].Path
	})
	return bundles, nil
}

// Manager applies retention to a backup directory. Removal failures are
// logged and skipped; they never fail the caller.
type Manager struct {
	now func() time.Time
}

// NewManager creates a Manager using the wall clock.
func NewManager() *Manager {
	return &Manager{now: time.Now}
}

// Prune deletes every <stem> backup bundle in dir beyond the newest keep and
// returns the removed paths. keep <= 0 disables pruning.
func (m *Manager) Prune(ctx context.Context, dir, stem string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	log := logger(ctx)

	bundles, err := ListBundles(dir, stem)
	if err != nil {
		return nil, err
	}
	if len(bundles) <= keep {
		return nil, nil
	}

	var removed []string
	for _, b := range bundles[keep:] {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WarnContext(ctx, "failed to prune backup", "path", b.Path, "error", err)
			continue
		}
		removed = append(removed, b.Path)
	}

	log.InfoContext(ctx, "pruned backups", "dir", dir, "kept", keep, "removed", len(removed))
	return removed, nil
}

// CleanupStaleTemp removes *.bundle.tmp and *.binder.tmp files in dir whose
// modification time is at least minAge old and returns how many were removed.
// Younger temp files may belong to a write in progress and are left alone.
func (m *Manager) CleanupStaleTemp(ctx context.Context, dir string, minAge time.Duration) (int, error) {
	if minAge < 0 {
		return 0, apperr.NewValidation("min_age", "must not be negative, got %s", minAge)
	}
	log := logger(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, &apperr.IOError{Op: "read dir", Path: dir, Err: err}
	}

	cutoff := m.now().Add(-minAge)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isBundleTemp(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(dir, name)
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.WarnContext(ctx, "failed to remove stale temp file", "path", p, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		log.InfoContext(ctx, "removed stale temp files", "dir", dir, "count", removed,
			"min_age", minAge.String())
	}
	return removed, nil
}

func isBundleTemp(name string) bool {
	return strings.HasSuffix(name, backupExt+tempExt) || strings.HasSuffix(name, exportExt+tempExt)
}

func logger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "retention")
}
