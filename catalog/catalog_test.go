package catalog_test

import (
	"context"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"github.com/suurjaak/sqlitely-go/catalog"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

const schemaSQL = `
CREATE TABLE users (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT
);
CREATE TABLE orders (
	id INTEGER PRIMARY KEY,
	user_id INTEGER REFERENCES users(id),
	amount REAL
);
CREATE INDEX idx_orders_user ON orders (user_id);
CREATE VIEW v_user_orders AS SELECT u.name, o.amount FROM users u JOIN orders o ON o.user_id = u.id;
CREATE TRIGGER trg_orders_ai AFTER INSERT ON orders BEGIN
	UPDATE users SET name = name WHERE id = NEW.user_id;
END;
`

func TestPopulateAndGetCategory(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, schemaSQL)
	require.NoError(t, err)

	cat := catalog.New(db, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	tables := cat.GetCategory(catalog.Table, "")
	require.Len(t, tables, 2)

	users := cat.Get(catalog.Table, "users")
	require.NotNil(t, users)
	require.Len(t, users.Columns, 3)
}

func TestPopulateKeepsIDAcrossUnchangedReload(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, schemaSQL)
	require.NoError(t, err)

	cat := catalog.New(db, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))
	first := cat.Get(catalog.Table, "users")
	require.NotNil(t, first)

	require.NoError(t, cat.Populate(ctx, "", "", true, false))
	second := cat.Get(catalog.Table, "users")
	require.NotNil(t, second)
	require.Equal(t, first.ID, second.ID)
}

func TestGetRelatedOwnReturnsIndexesAndTriggers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, schemaSQL)
	require.NoError(t, err)

	cat := catalog.New(db, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	owned := cat.GetRelated(catalog.Table, "orders", true, false)
	var names []string
	for _, it := range owned {
		names = append(names, it.Name)
	}
	require.Contains(t, names, "idx_orders_user")
	require.Contains(t, names, "trg_orders_ai")
}

func TestGetRelatedDataClosureReachesBaseTableFromView(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, schemaSQL)
	require.NoError(t, err)

	cat := catalog.New(db, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	related := cat.GetRelated(catalog.View, "v_user_orders", false, true)
	var names []string
	for _, it := range related {
		names = append(names, it.Name)
	}
	require.Contains(t, names, "users")
	require.Contains(t, names, "orders")
}

func TestGetKeysFindsLocalAndForeign(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, schemaSQL)
	require.NoError(t, err)

	cat := catalog.New(db, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	local, foreign := cat.GetKeys("users", false)
	require.NotEmpty(t, local) // pk, plus orders.user_id referencing users
	_, fk := cat.GetKeys("orders", false)
	foreign = fk
	require.Len(t, foreign, 1)
	require.Equal(t, "users", foreign[0].ForeignTable)
}

func TestGetRowid(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, schemaSQL)
	require.NoError(t, err)

	cat := catalog.New(db, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	alias, ok := cat.GetRowid("users")
	require.True(t, ok)
	require.Equal(t, "rowid", alias)
}

func TestGetColumnDependentsFindsTrigger(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, schemaSQL)
	require.NoError(t, err)

	cat := catalog.New(db, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	deps := cat.GetColumnDependents(catalog.Table, "users", []string{"name"})
	require.NotEmpty(t, deps)
	var names []string
	for _, it := range deps {
		names = append(names, it.Name)
	}
	require.Contains(t, names, "trg_orders_ai")
}

func TestLockCascadesToRelatedView(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	_, err := db.ExecContext(ctx, schemaSQL)
	require.NoError(t, err)

	cat := catalog.New(db, nil)
	require.NoError(t, cat.Populate(ctx, "", "", true, false))

	cat.Lock(catalog.Table, "users", "rebuilding users")
	label, locked := cat.GetLock(catalog.View, "v_user_orders")
	require.True(t, locked)
	require.Equal(t, "rebuilding users", label)

	cat.Unlock(catalog.Table, "users", "rebuilding users")
	_, locked = cat.GetLock(catalog.View, "v_user_orders")
	require.False(t, locked)
}

func TestAffinity(t *testing.T) {
	require.Equal(t, "INTEGER", catalog.Affinity("INT"))
	require.Equal(t, "TEXT", catalog.Affinity("VARCHAR(30)"))
	require.Equal(t, "REAL", catalog.Affinity("DOUBLE"))
	require.Equal(t, "BLOB", catalog.Affinity(""))
	require.Equal(t, "NUMERIC", catalog.Affinity("BOOLEAN"))
}
