package normalize

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notebinder/internal/apperr"
	"notebinder/internal/storage"
)

func newDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(db))
	return db
}

func exec(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err, s)
	}
}

// messy seeds gaps, duplicates and a nested page group.
func messy(t *testing.T, db *sql.DB) {
	exec(t, db,
		`INSERT INTO notebooks (id, title, order_index) VALUES (1, 'a', 5), (2, 'b', 5), (3, 'c', 9)`,
		`INSERT INTO sections (id, notebook_id, title, order_index) VALUES (10, 1, 's1', 1), (11, 1, 's2', 2), (12, 2, 't1', 4)`,
		`INSERT INTO pages (id, section_id, parent_page_id, title, order_index) VALUES
			(100, 10, NULL, 'p1', 3), (101, 10, NULL, 'p2', 3),
			(102, 10, 100, 'c1', 0), (103, 10, 100, 'c2', 7),
			(104, 11, NULL, 'q1', 1)`,
	)
}

func TestBuildPlan(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	messy(t, db)

	plan, err := BuildPlan(ctx, db)
	require.NoError(t, err)

	assert.Equal(t, []Change{{ID: 1, OrderIndex: 1}, {ID: 2, OrderIndex: 2}, {ID: 3, OrderIndex: 3}}, plan.Notebooks)
	assert.Equal(t, []Change{{ID: 12, OrderIndex: 1}}, plan.Sections)
	assert.ElementsMatch(t, []Change{
		{ID: 100, OrderIndex: 1}, {ID: 101, OrderIndex: 2},
		{ID: 102, OrderIndex: 1}, {ID: 103, OrderIndex: 2},
	}, plan.Pages)
	assert.Equal(t, "notebooks: 3 updates\nsections: 1 updates\npages: 4 updates", plan.Summary())
}

func TestApply_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	messy(t, db)

	plan, err := BuildPlan(ctx, db)
	require.NoError(t, err)
	require.False(t, plan.Empty())
	require.NoError(t, Apply(ctx, db, plan))

	again, err := BuildPlan(ctx, db)
	require.NoError(t, err)
	assert.True(t, again.Empty(), "second plan = %+v", again)
	assert.Equal(t, "notebooks: no changes\nsections: no changes\npages: no changes", again.Summary())

	// Relative order survives.
	siblings, err := storage.LoadSiblings(ctx, db, storage.PageGroup(10, nil))
	require.NoError(t, err)
	assert.Equal(t, []storage.Sibling{{ID: 100, OrderIndex: 1}, {ID: 101, OrderIndex: 2}}, siblings)
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	messy(t, db)

	var plan *Plan
	err := storage.WithTx(ctx, db, "test", func(tx *sql.Tx) error {
		var err error
		plan, err = Run(ctx, tx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 8, plan.Total())

	again, err := BuildPlan(ctx, db)
	require.NoError(t, err)
	assert.True(t, again.Empty())
}

func TestDump(t *testing.T) {
	plan := &Plan{Sections: []Change{{ID: 4, OrderIndex: 1}, {ID: 9, OrderIndex: 2}}}
	var buf bytes.Buffer
	require.NoError(t, plan.Dump(&buf))
	assert.Equal(t, "Notebooks: (none)\n"+
		"Sections changes (id -> new_order_index):\n  4 -> 1\n  9 -> 2\n"+
		"Pages: (none)\n", buf.String())
}

func TestPlanPageOrder_LegacySchema(t *testing.T) {
	ctx := context.Background()
	db, err := storage.New(filepath.Join(t.TempDir(), "legacy.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	exec(t, db,
		`CREATE TABLE pages (id INTEGER PRIMARY KEY, section_id INTEGER NOT NULL, title TEXT, order_index INTEGER)`,
		`INSERT INTO pages (id, section_id, title, order_index) VALUES (1, 1, 'a', 2), (2, 1, 'b', NULL), (3, 2, 'c', 1)`,
	)

	changes, err := PlanPageOrder(ctx, db)
	require.NoError(t, err)
	// Page 1 already sits at 2 once NULL sorts first, so only page 2 moves.
	assert.Equal(t, []Change{{ID: 2, OrderIndex: 1}}, changes)
}

func TestApply_RollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	plan := &Plan{
		Notebooks: []Change{{ID: 1, OrderIndex: 1}},
		Sections:  []Change{{ID: 2, OrderIndex: 1}},
		Pages:     []Change{{ID: 3, OrderIndex: 1}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notebooks SET order_index = ? WHERE id = ?")).
		WithArgs(1, int64(1)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sections SET order_index = ? WHERE id = ?")).
		WithArgs(1, int64(2)).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = Apply(context.Background(), db, plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTransaction), "error = %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApply_EmptyPlanSkipsTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, Apply(context.Background(), db, &Plan{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
