package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the PRAGMA user_version a fully migrated database carries.
const SchemaVersion = 4

type migration struct {
	version int
	name    string
	up      func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{1, "base tables", migrateBaseTables},
	{2, "section colors", migrateSectionColor},
	{3, "media store", migrateMediaStore},
	{4, "page tree", migratePageTree},
}

// Migrate runs database migrations to create the required tables.
// It is idempotent and can be run multiple times safely.
func Migrate(db *sql.DB) error {
	return MigrateContext(context.Background(), db)
}

// MigrateContext applies every migration newer than the database's user_version,
// each in its own transaction together with the version bump.
func MigrateContext(ctx context.Context, db *sql.DB) error {
	current, err := UserVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := WithTx(ctx, db, "migrate "+m.name, func(tx *sql.Tx) error {
			if err := m.up(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version))
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.version, m.name, err)
		}
		logger(ctx).DebugContext(ctx, "applied migration", "version", m.version, "name", m.name)
	}

	return nil
}

// UserVersion returns the database's PRAGMA user_version.
func UserVersion(ctx context.Context, q DBTX) (int, error) {
	var v int
	if err := q.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("failed to read user_version: %w", err)
	}
	return v, nil
}

func migrateBaseTables(ctx context.Context, tx *sql.Tx) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS notebooks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			order_index INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			modified_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS sections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			notebook_id INTEGER NOT NULL REFERENCES notebooks(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			color_hex TEXT,
			order_index INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			modified_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS pages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			section_id INTEGER NOT NULL REFERENCES sections(id) ON DELETE CASCADE,
			parent_page_id INTEGER REFERENCES pages(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			content_html TEXT NOT NULL DEFAULT '',
			order_index INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			modified_at TEXT NOT NULL DEFAULT (datetime('now')),
			deleted_at TEXT
		);`,
	}

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrateSectionColor(ctx context.Context, tx *sql.Tx) error {
	return addColumnIfMissing(ctx, tx, "sections", "color_hex", "TEXT")
}

func migrateMediaStore(ctx context.Context, tx *sql.Tx) error {
	if err := EnsureMediaSchema(ctx, tx); err != nil {
		return err
	}
	return ensureDatabaseUUID(ctx, tx)
}

func migratePageTree(ctx context.Context, tx *sql.Tx) error {
	if err := addColumnIfMissing(ctx, tx, "pages", "parent_page_id", "INTEGER REFERENCES pages(id) ON DELETE CASCADE"); err != nil {
		return err
	}
	if err := addColumnIfMissing(ctx, tx, "pages", "deleted_at", "TEXT"); err != nil {
		return err
	}
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_sections_notebook ON sections(notebook_id, order_index);`,
		`CREATE INDEX IF NOT EXISTS idx_pages_group ON pages(section_id, parent_page_id, order_index);`,
	}
	for _, stmt := range indexes {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// EnsureMediaSchema creates the media tables if they do not exist yet. Importing
// into a database created before the media store uses this to upgrade it in place.
func EnsureMediaSchema(ctx context.Context, q DBTX) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS db_metadata (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			uuid TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS media (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sha256 TEXT NOT NULL UNIQUE,
			mime_type TEXT NOT NULL,
			ext TEXT NOT NULL,
			original_filename TEXT,
			size_bytes INTEGER,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);`,
		`CREATE TABLE IF NOT EXISTS media_refs (
			media_id INTEGER NOT NULL REFERENCES media(id) ON DELETE CASCADE,
			page_id INTEGER REFERENCES pages(id) ON DELETE CASCADE,
			section_id INTEGER REFERENCES sections(id) ON DELETE CASCADE,
			notebook_id INTEGER REFERENCES notebooks(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			CHECK (
				(page_id IS NOT NULL AND section_id IS NULL AND notebook_id IS NULL) OR
				(page_id IS NULL AND section_id IS NOT NULL AND notebook_id IS NULL) OR
				(page_id IS NULL AND section_id IS NULL AND notebook_id IS NOT NULL)
			)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_media_refs_media ON media_refs(media_id);`,
		`CREATE INDEX IF NOT EXISTS idx_media_refs_page ON media_refs(page_id);`,
		`CREATE INDEX IF NOT EXISTS idx_media_refs_section ON media_refs(section_id);`,
		`CREATE INDEX IF NOT EXISTS idx_media_refs_notebook ON media_refs(notebook_id);`,
	}

	for _, stmt := range schema {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure media schema: %w", err)
		}
	}
	return nil
}

func addColumnIfMissing(ctx context.Context, q DBTX, table, column, decl string) error {
	ok, err := hasColumn(ctx, q, table, column)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = q.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	if err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}

func hasColumn(ctx context.Context, q DBTX, table, column string) (bool, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", table, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, fmt.Errorf("failed to scan table info: %w", err)
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// HasColumn reports whether table has the named column.
func HasColumn(ctx context.Context, q DBTX, table, column string) (bool, error) {
	return hasColumn(ctx, q, table, column)
}
