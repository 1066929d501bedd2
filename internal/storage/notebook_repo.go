package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"notebinder/internal/apperr"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// NotebookRepo provides methods for notebook operations.
type NotebookRepo struct {
	db *sql.DB
}

// NewNotebookRepo creates a new NotebookRepo.
func NewNotebookRepo(db *sql.DB) *NotebookRepo {
	return &NotebookRepo{db: db}
}

const notebookColumns = "id, title, COALESCE(order_index, 0), created_at, modified_at"

func scanNotebook(s rowScanner) (*Notebook, error) {
	var nb Notebook
	var createdAt, modifiedAt string
	if err := s.Scan(&nb.ID, &nb.Title, &nb.OrderIndex, &createdAt, &modifiedAt); err != nil {
		return nil, err
	}
	var err error
	if nb.CreatedAt, err = ParseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if nb.ModifiedAt, err = ParseTimestamp(modifiedAt); err != nil {
		return nil, err
	}
	return &nb, nil
}

func getNotebook(ctx context.Context, q DBTX, id int64) (*Notebook, error) {
	nb, err := scanNotebook(q.QueryRowContext(ctx,
		"SELECT "+notebookColumns+" FROM notebooks WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("notebook", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notebook: %w", err)
	}
	return nb, nil
}

func requireTitle(title string) (string, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", apperr.NewValidation("title", "must not be empty")
	}
	return t, nil
}

// Create inserts a notebook at the end of the notebook list.
func (r *NotebookRepo) Create(ctx context.Context, title string) (*Notebook, error) {
	title, err := requireTitle(title)
	if err != nil {
		return nil, err
	}

	var nb *Notebook
	err = WithTx(ctx, r.db, "create notebook", func(tx *sql.Tx) error {
		next, err := NextOrderIndex(ctx, tx, NotebookGroup())
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"INSERT INTO notebooks (title, order_index) VALUES (?, ?)", title, next)
		if err != nil {
			return fmt.Errorf("failed to insert notebook: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get notebook id: %w", err)
		}
		nb, err = getNotebook(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return nb, nil
}

// Get returns a notebook by id.
func (r *NotebookRepo) Get(ctx context.Context, id int64) (*Notebook, error) {
	return getNotebook(ctx, r.db, id)
}

// List returns every notebook in display order.
func (r *NotebookRepo) List(ctx context.Context) ([]*Notebook, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+notebookColumns+" FROM notebooks "+siblingOrderBy)
	if err != nil {
		return nil, fmt.Errorf("failed to query notebooks: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var notebooks []*Notebook
	for rows.Next() {
		nb, err := scanNotebook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notebook: %w", err)
		}
		notebooks = append(notebooks, nb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return notebooks, nil
}

// Rename changes a notebook's title.
func (r *NotebookRepo) Rename(ctx context.Context, id int64, title string) error {
	title, err := requireTitle(title)
	if err != nil {
		return err
	}
	return WithTx(ctx, r.db, "rename notebook", func(tx *sql.Tx) error {
		return execOne(ctx, tx, "notebook", id,
			"UPDATE notebooks SET title = ?, modified_at = datetime('now') WHERE id = ?", title, id)
	})
}

// Delete removes a notebook with all of its sections, pages and media refs,
// then closes the gap it left in the notebook order.
func (r *NotebookRepo) Delete(ctx context.Context, id int64) error {
	return WithTx(ctx, r.db, "delete notebook", func(tx *sql.Tx) error {
		if err := execOne(ctx, tx, "notebook", id, "DELETE FROM notebooks WHERE id = ?", id); err != nil {
			return err
		}
		return ResequenceGroup(ctx, tx, NotebookGroup())
	})
}

// SetOrder assigns 1..N to the notebooks in the order given.
func (r *NotebookRepo) SetOrder(ctx context.Context, ids []int64) error {
	return WithTx(ctx, r.db, "order notebooks", func(tx *sql.Tx) error {
		return setOrder(ctx, tx, NotebookGroup(), ids)
	})
}

// Move shifts a notebook delta positions (negative is up), clamped to the list ends.
// It reports whether the notebook moved.
func (r *NotebookRepo) Move(ctx context.Context, id int64, delta int) (bool, error) {
	var moved bool
	err := WithTx(ctx, r.db, "move notebook", func(tx *sql.Tx) error {
		var err error
		moved, err = moveBy(ctx, tx, NotebookGroup(), id, delta)
		return err
	})
	return moved, err
}

// execOne runs a statement that must touch exactly one row; zero rows is a NotFoundError.
func execOne(ctx context.Context, q DBTX, kind string, id int64, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound(kind, id)
	}
	return nil
}
