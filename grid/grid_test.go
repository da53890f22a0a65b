package grid_test

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/suurjaak/sqlitely-go/catalog"
	"github.com/suurjaak/sqlitely-go/database"
	"github.com/suurjaak/sqlitely-go/grid"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	sqlxDB, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlxDB.Close() })
	return &database.DB{DB: sqlxDB}
}

func TestGridSeekAndEdit(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, qty INTEGER);
		INSERT INTO items (name, qty) VALUES ('a', 1), ('b', 2), ('c', 3)`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	g, err := grid.Open(ctx, db, cat, "items")
	require.NoError(t, err)

	row, err := g.SeekToRow(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "a", row["name"])

	require.NoError(t, g.SeekEnd(ctx))
	require.Equal(t, 3, g.Len())

	require.NoError(t, g.SetValue(1, "qty", "99"))
	v, err := g.GetValue(ctx, 1, "qty")
	require.NoError(t, err)
	require.EqualValues(t, 99, v)

	require.NoError(t, g.Commit(ctx))

	var qty int
	require.NoError(t, db.GetContext(ctx, &qty, "SELECT qty FROM items WHERE name = 'b'"))
	require.Equal(t, 99, qty)
}

func TestGridInsertAndDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	g, err := grid.Open(ctx, db, cat, "items")
	require.NoError(t, err)

	idx := g.InsertRow()
	require.NoError(t, g.SetValue(idx, "name", "new-item"))
	require.NoError(t, g.Commit(ctx))

	var count int
	require.NoError(t, db.GetContext(ctx, &count, "SELECT COUNT(*) FROM items WHERE name = 'new-item'"))
	require.Equal(t, 1, count)
}

func TestGridColumnLabelFallback(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	g, err := grid.Open(ctx, db, cat, "items")
	require.NoError(t, err)

	require.Equal(t, "id", g.ColumnLabel(0))
	require.Equal(t, "Column 5", g.ColumnLabel(4))
}

func TestGridWithoutRowidEditsByPrimaryKey(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `
		CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT) WITHOUT ROWID;
		INSERT INTO settings (key, value) VALUES ('theme', 'dark'), ('lang', 'en');
	`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	g, err := grid.Open(ctx, db, cat, "settings")
	require.NoError(t, err)
	require.NoError(t, g.SeekEnd(ctx))

	// Find the "lang" row's grid index, since WITHOUT ROWID iteration order
	// is unspecified.
	idx := -1
	for i := 0; i < g.Len(); i++ {
		row, err := g.SeekToRow(ctx, i)
		require.NoError(t, err)
		if row["key"] == "lang" {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0, "expected to find the lang row")

	require.NoError(t, g.SetValue(idx, "value", "fr"))
	require.NoError(t, g.Commit(ctx))

	var value string
	require.NoError(t, db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = 'lang'"))
	require.Equal(t, "fr", value)

	idx2 := -1
	for i := 0; i < g.Len(); i++ {
		row, err := g.SeekToRow(ctx, i)
		require.NoError(t, err)
		if row["key"] == "theme" {
			idx2 = i
			break
		}
	}
	require.GreaterOrEqual(t, idx2, 0)
	require.NoError(t, g.DeleteRow(idx2))
	require.NoError(t, g.Commit(ctx))

	var count int
	require.NoError(t, db.GetContext(ctx, &count, "SELECT COUNT(*) FROM settings WHERE key = 'theme'"))
	require.Equal(t, 0, count)
}

func TestGridWithoutRowidCompositeKeyIsReadOnly(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE pairs (a TEXT, b TEXT, PRIMARY KEY (a, b)) WITHOUT ROWID`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	g, err := grid.Open(ctx, db, cat, "pairs")
	require.NoError(t, err)
	require.Error(t, g.SetValue(0, "a", "x"))
}

func TestGridFilterColumnNumericEquality(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT, qty INTEGER);
		INSERT INTO items (name, qty) VALUES ('a', 1), ('b', 2), ('c', 2)`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	g, err := grid.Open(ctx, db, cat, "items")
	require.NoError(t, err)

	g.FilterColumn("qty", "2")
	require.NoError(t, g.SeekEnd(ctx))
	require.Equal(t, 2, g.Len())
	row, err := g.SeekToRow(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 2, row["qty"])
}

func TestGridFilterColumnLikeEscapesWildcards(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO items (name) VALUES ('50% off'), ('full price'), ('abc_def')`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	g, err := grid.Open(ctx, db, cat, "items")
	require.NoError(t, err)

	g.FilterColumn("name", "50%")
	require.NoError(t, g.SeekEnd(ctx))
	require.Equal(t, 1, g.Len())
	row, err := g.SeekToRow(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "50% off", row["name"])

	g.ClearFilters()
	g.FilterColumn("name", "abc_def")
	require.NoError(t, g.SeekEnd(ctx))
	require.Equal(t, 1, g.Len())
}

func TestGridSortColumnCyclesAscDescUnsorted(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO items (name) VALUES ('Charlie'), ('alice'), ('Bob')`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	g, err := grid.Open(ctx, db, cat, "items")
	require.NoError(t, err)

	g.SortColumn("name")
	require.NoError(t, g.SeekEnd(ctx))
	row, err := g.SeekToRow(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "alice", row["name"]) // case-insensitive ascending

	g.SortColumn("name")
	require.NoError(t, g.SeekEnd(ctx))
	row, err = g.SeekToRow(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "Charlie", row["name"]) // descending

	g.SortColumn("name")
	require.NoError(t, g.SeekEnd(ctx))
	row, err = g.SeekToRow(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "Charlie", row["name"]) // unsorted: insertion order restored
}

func TestGridEstimateRowCount(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO items (name) VALUES ('a'), ('b'), ('c')`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	g, err := grid.Open(ctx, db, cat, "items")
	require.NoError(t, err)

	rc, err := g.EstimateRowCount(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, rc.Count)
	require.False(t, rc.Estimated) // in-memory DB has no file size, always exact
}

func TestDeleteCascadeRemovesChildRows(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	_, err := db.ExecContext(ctx, `
		CREATE TABLE parents (id INTEGER PRIMARY KEY, name TEXT);
		CREATE TABLE children (id INTEGER PRIMARY KEY, parent_id INTEGER REFERENCES parents(id));
		INSERT INTO parents (id, name) VALUES (1, 'p1'), (2, 'p2');
		INSERT INTO children (id, parent_id) VALUES (10, 1), (11, 1), (12, 2);
	`)
	require.NoError(t, err)

	cat := catalog.New(db.DB, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	require.NoError(t, grid.DeleteCascade(ctx, db, cat, "parents", []any{int64(1)}))

	var parentCount, childCount int
	require.NoError(t, db.GetContext(ctx, &parentCount, "SELECT COUNT(*) FROM parents"))
	require.NoError(t, db.GetContext(ctx, &childCount, "SELECT COUNT(*) FROM children"))
	require.Equal(t, 1, parentCount)
	require.Equal(t, 1, childCount)
}
