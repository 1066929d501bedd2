package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"notebinder/internal/apperr"
)

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{
			name:    "valid path",
			path:    dbPath,
			wantErr: false,
		},
		{
			name:    "invalid path",
			path:    "/invalid/path/to/db.db",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := New(tt.path)

			if tt.wantErr {
				if err == nil {
					t.Errorf("New() expected error, got nil")
				}
				if db != nil {
					_ = db.Close()
				}
				return
			}

			if err != nil {
				t.Errorf("New() unexpected error: %v", err)
				return
			}

			if db == nil {
				t.Fatal("New() returned nil database")
			}

			// Verify connection pool settings
			if db.Stats().MaxOpenConnections != 25 {
				t.Errorf("New() MaxOpenConnections = %v, want 25", db.Stats().MaxOpenConnections)
			}

			_ = db.Close()
		})
	}
}

func TestNew_EnablesForeignKeys(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Fatalf("Failed to check foreign keys: %v", err)
	}
	if fkEnabled != 1 {
		t.Error("New() should enable foreign keys")
	}
}

func TestNew_BusyTimeout(t *testing.T) {
	db, err := New(filepath.Join(t.TempDir(), "test.db"), WithBusyTimeout(1500*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	var timeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("Failed to read busy_timeout: %v", err)
	}
	if timeout != 1500 {
		t.Errorf("busy_timeout = %d, want 1500", timeout)
	}
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	count := func() int {
		var n int
		if err := db.QueryRow("SELECT COUNT(*) FROM notebooks").Scan(&n); err != nil {
			t.Fatalf("count error = %v", err)
		}
		return n
	}
	insert := func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO notebooks (title, order_index) VALUES ('x', 1)")
		return err
	}

	tests := []struct {
		name      string
		fn        func(tx *sql.Tx) error
		wantRows  int
		wantTxErr bool
		wantIs    error
	}{
		{
			name:     "commit",
			fn:       insert,
			wantRows: 1,
		},
		{
			name: "plain error rolls back and wraps",
			fn: func(tx *sql.Tx) error {
				if err := insert(tx); err != nil {
					return err
				}
				return errors.New("boom")
			},
			wantRows:  1,
			wantTxErr: true,
			wantIs:    apperr.ErrTransaction,
		},
		{
			name: "typed error is returned as is",
			fn: func(tx *sql.Tx) error {
				if err := insert(tx); err != nil {
					return err
				}
				return apperr.NotFound("page", 7)
			},
			wantRows: 1,
			wantIs:   apperr.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithTx(ctx, db, tt.name, tt.fn)
			if tt.wantIs == nil && err != nil {
				t.Fatalf("WithTx() error = %v", err)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Fatalf("WithTx() error = %v, want %v", err, tt.wantIs)
			}
			var txErr *apperr.TxError
			if got := errors.As(err, &txErr); got != tt.wantTxErr {
				t.Errorf("WithTx() TxError = %v, want %v", got, tt.wantTxErr)
			}
			if got := count(); got != tt.wantRows {
				t.Errorf("rows after WithTx() = %d, want %d", got, tt.wantRows)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "sqlite datetime", in: "2024-03-09 14:05:06"},
		{name: "rfc3339", in: "2024-03-09T14:05:06Z"},
		{name: "garbage", in: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("ParseTimestamp() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimestamp() error = %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("ParseTimestamp() = %v, want %v", got, want)
			}
		})
	}

	if got := FormatTimestamp(want); got != "2024-03-09 14:05:06" {
		t.Errorf("FormatTimestamp() = %q", got)
	}
}

func TestDatabaseUUID(t *testing.T) {
	db := newTestDB(t)
	id, err := DatabaseUUID(context.Background(), db)
	if err != nil {
		t.Fatalf("DatabaseUUID() error = %v", err)
	}
	if len(id) != 36 {
		t.Errorf("DatabaseUUID() = %q, want a uuid", id)
	}

	// Migrating again keeps the identifier.
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	again, err := DatabaseUUID(context.Background(), db)
	if err != nil {
		t.Fatalf("DatabaseUUID() error = %v", err)
	}
	if again != id {
		t.Errorf("DatabaseUUID() changed from %q to %q", id, again)
	}
}
