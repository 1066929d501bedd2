package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"notebinder/internal/apperr"
	"notebinder/internal/contextutil"
)

// DefaultBusyTimeout is how long a writer waits for the database lock before failing.
const DefaultBusyTimeout = 5 * time.Second

// DBTX is the statement surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type options struct {
	busyTimeout time.Duration
}

// Option configures New.
type Option func(*options)

// WithBusyTimeout sets the SQLite busy timeout used when acquiring a write transaction.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// New opens a SQLite database connection at the given path.
// Foreign keys are enabled on every pooled connection, transactions start with
// BEGIN IMMEDIATE so a second writer waits on the busy timeout instead of failing
// on lock upgrade.
func New(path string, opts ...Option) (*sql.DB, error) {
	o := options{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_busy_timeout=%d&_txlock=immediate", path, o.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// WithTx runs fn inside a transaction. Any error rolls the transaction back.
// Errors that are not already validation / not-found / conflict errors are
// wrapped in *apperr.TxError.
func WithTx(ctx context.Context, db *sql.DB, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &apperr.TxError{Op: op, Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			contextutil.LoggerFromContext(ctx).ErrorContext(ctx, "rollback failed", "op", op, "error", rbErr)
		}
		if apperr.IsTyped(err) {
			return err
		}
		return &apperr.TxError{Op: op, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &apperr.TxError{Op: op, Err: err}
	}
	return nil
}

const timestampLayout = "2006-01-02 15:04:05"

// FormatTimestamp renders t the way SQLite's datetime('now') does (UTC, second precision).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses a stored DATETIME string.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		// Try alternative format (rows written by other tools)
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

func parseNullTimestamp(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DatabaseUUID returns the identifier stored in db_metadata by migration 3.
func DatabaseUUID(ctx context.Context, q DBTX) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, "SELECT uuid FROM db_metadata WHERE id = 1").Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query database uuid: %w", err)
	}
	return id, nil
}

func ensureDatabaseUUID(ctx context.Context, q DBTX) error {
	existing, err := DatabaseUUID(ctx, q)
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}
	_, err = q.ExecContext(ctx, "INSERT OR REPLACE INTO db_metadata (id, uuid) VALUES (1, ?)", uuid.New().String())
	if err != nil {
		return fmt.Errorf("failed to store database uuid: %w", err)
	}
	return nil
}

func logger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "storage")
}
