package alter_test

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/suurjaak/sqlitely-go/alter"
	"github.com/suurjaak/sqlitely-go/catalog"
	"github.com/suurjaak/sqlitely-go/database"
	"github.com/suurjaak/sqlitely-go/parser"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	sqlxDB, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlxDB.Close() })
	return &database.DB{DB: sqlxDB}
}

func mustParse(t *testing.T, sql string) *parser.CreateTable {
	t.Helper()
	stmt, err := parser.Parse(sql, parser.CategoryTable)
	require.NoError(t, err)
	return stmt.(*parser.CreateTable)
}

func TestDecideSimpleForAddNullableColumn(t *testing.T) {
	old := mustParse(t, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`)
	new_ := mustParse(t, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, note TEXT)`)
	plan := alter.Decide(alter.TableChange{Old: old, New: new_}, alter.Capabilities{RenameColumn: true, DropColumn: true, CascadingRename: true})
	require.Equal(t, alter.Simple, plan.Kind)
	stmts := plan.BuildSimple()
	require.Len(t, stmts, 1)
	require.Contains(t, stmts[0], "ADD COLUMN")
}

func TestDecideComplexForAddUniqueColumn(t *testing.T) {
	old := mustParse(t, `CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	new_ := mustParse(t, `CREATE TABLE t (id INTEGER PRIMARY KEY, code TEXT UNIQUE)`)
	plan := alter.Decide(alter.TableChange{Old: old, New: new_}, alter.Capabilities{RenameColumn: true, DropColumn: true, CascadingRename: true})
	require.Equal(t, alter.Complex, plan.Kind)
	require.NotEmpty(t, plan.Reasons)
}

func TestDecideComplexForDropColumnWithForeignKey(t *testing.T) {
	old := mustParse(t, `CREATE TABLE t (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parents(id))`)
	new_ := mustParse(t, `CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	plan := alter.Decide(alter.TableChange{Old: old, New: new_}, alter.Capabilities{RenameColumn: true, DropColumn: true, CascadingRename: true})
	require.Equal(t, alter.Complex, plan.Kind)
}

func TestDecideSimpleForColumnRename(t *testing.T) {
	old := mustParse(t, `CREATE TABLE t (id INTEGER PRIMARY KEY, oldname TEXT)`)
	new_ := mustParse(t, `CREATE TABLE t (id INTEGER PRIMARY KEY, newname TEXT)`)
	change := alter.TableChange{Old: old, New: new_, ColumnRenames: map[string]string{"oldname": "newname"}}
	plan := alter.Decide(change, alter.Capabilities{RenameColumn: true, DropColumn: true, CascadingRename: true})
	require.Equal(t, alter.Simple, plan.Kind)
	stmts := plan.BuildSimple()
	require.Len(t, stmts, 1)
	require.Contains(t, stmts[0], "RENAME COLUMN")
}

func TestApplyComplexRebuildsTableAndIndex(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT); CREATE INDEX idx_t_name ON t (name); INSERT INTO t (id, name) VALUES (1, 'a'), (2, 'b')`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	old := mustParse(t, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`)
	new_ := mustParse(t, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, code TEXT UNIQUE)`)
	plan := alter.Decide(alter.TableChange{Old: old, New: new_}, alter.Capabilities{RenameColumn: true, DropColumn: true, CascadingRename: true})
	require.Equal(t, alter.Complex, plan.Kind)

	require.NoError(t, alter.Apply(ctx, db, cat, plan, nil))

	var count int
	require.NoError(t, db.GetContext(ctx, &count, "SELECT COUNT(*) FROM t"))
	require.Equal(t, 2, count)

	var idxCount int
	require.NoError(t, db.GetContext(ctx, &idxCount, "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_t_name'"))
	require.Equal(t, 1, idxCount)
}

func TestApplyRenameIndex(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT); CREATE INDEX idx_old ON t (name)`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	plan := alter.DecideRename(catalog.Index, "idx_old", "idx_new", false)
	require.Equal(t, alter.RenameIndex, plan.Kind)
	require.NoError(t, alter.Apply(ctx, db, cat, plan, nil))

	var oldCount, newCount int
	require.NoError(t, db.GetContext(ctx, &oldCount, "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_old'"))
	require.NoError(t, db.GetContext(ctx, &newCount, "SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_new'"))
	require.Equal(t, 0, oldCount)
	require.Equal(t, 1, newCount)
}

func TestApplyMasterPatchRenamesView(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT); CREATE VIEW v_old AS SELECT id, name FROM t`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	plan := alter.DecideRename(catalog.View, "v_old", "v_new", true)
	require.Equal(t, alter.MasterPatch, plan.Kind)
	require.NoError(t, alter.Apply(ctx, db, cat, plan, nil))

	var oldCount, newCount int
	require.NoError(t, db.GetContext(ctx, &oldCount, "SELECT COUNT(*) FROM sqlite_master WHERE type='view' AND name='v_old'"))
	require.NoError(t, db.GetContext(ctx, &newCount, "SELECT COUNT(*) FROM sqlite_master WHERE type='view' AND name='v_new'"))
	require.Equal(t, 0, oldCount)
	require.Equal(t, 1, newCount)

	var rows int
	require.NoError(t, db.GetContext(ctx, &rows, "SELECT COUNT(*) FROM v_new"))
	require.Equal(t, 0, rows)
}
