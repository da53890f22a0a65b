package alter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/suurjaak/sqlitely-go/catalog"
	"github.com/suurjaak/sqlitely-go/database"
	"github.com/suurjaak/sqlitely-go/parser"
)

// regeneratedSQL returns item's stored CREATE statement with its own name
// substituted for newName, the shared first step of both the rename-only
// and master-patch paths.
func regeneratedSQL(category, oldSQL, newName string) (string, error) {
	renames := parser.Renames{category: {All: newName}}
	return parser.Transform(oldSQL, renames, nil, "")
}

// BuildRename emits the DROP+CREATE pair implementing a RenameIndex,
// RenameTrigger or RenameView plan: SQLite has no `ALTER INDEX/TRIGGER/VIEW
// ... RENAME`, so the bespoke rename path drops the item and recreates it
// from its own stored SQL with the name substituted.
func (p *Plan) BuildRename(item *catalog.Item) (*Script, error) {
	sql, err := regeneratedSQL(p.RenameCategory, item.SQL0, p.RenameNew)
	if err != nil {
		return nil, fmt.Errorf("alter: regenerating %s %q as %q: %w", p.RenameCategory, p.RenameOld, p.RenameNew, err)
	}
	return &Script{Statements: []string{
		fmt.Sprintf("DROP %s IF EXISTS %s", strings.ToUpper(p.RenameCategory), parser.Quote(p.RenameOld, false)),
		sql,
	}}, nil
}

// applyRename runs a RenameIndex/RenameTrigger/RenameView/MasterPatch plan:
// a standalone schema-item rename with no other change. It is kept separate
// from Apply's table-rebuild path since it has no TableChange to lock or
// diff against.
func applyRename(ctx context.Context, db *database.DB, cat *catalog.Catalog, p *Plan, log *slog.Logger) error {
	item := cat.Get(p.RenameCategory, p.RenameOld)
	if item == nil {
		return fmt.Errorf("alter: %s %q not found", p.RenameCategory, p.RenameOld)
	}

	if label, held := cat.GetLock(p.RenameCategory, p.RenameOld); held {
		return &database.LockConflictError{Category: p.RenameCategory, Name: p.RenameOld, HeldBy: label}
	}
	lockLabel := "alter:" + p.RenameOld
	cat.Lock(p.RenameCategory, p.RenameOld, lockLabel)
	defer cat.Unlock(p.RenameCategory, p.RenameOld, lockLabel)

	log.Info("alter rename decided", "category", p.RenameCategory, "old", p.RenameOld, "new", p.RenameNew, "kind", p.Kind.String())

	if p.Kind == MasterPatch {
		return applyMasterPatch(ctx, db, log, p, item)
	}
	script, err := p.BuildRename(item)
	if err != nil {
		return err
	}
	return applyStatements(ctx, db, log, script.Statements)
}

// applyMasterPatch rewrites item's sqlite_master row directly in place of a
// DROP+CREATE, for runtimes that would force-quote RenameNew even when
// unnecessary: the window is guarded by `PRAGMA writable_schema = ON` and
// closed by bumping `PRAGMA schema_version` so the in-memory schema is
// reparsed on the next statement.
func applyMasterPatch(ctx context.Context, db *database.DB, log *slog.Logger, p *Plan, item *catalog.Item) error {
	sql, err := regeneratedSQL(p.RenameCategory, item.SQL0, p.RenameNew)
	if err != nil {
		return fmt.Errorf("alter: regenerating %s %q as %q: %w", p.RenameCategory, p.RenameOld, p.RenameNew, err)
	}

	return db.WritableSchema(ctx, func(tx *sqlx.Tx) error {
		stmt := "UPDATE sqlite_master SET name = ?, sql = ? WHERE type = ? AND name = ?"
		log.Info("alter exec", "sql", stmt, "new_name", p.RenameNew)
		if _, err := tx.ExecContext(ctx, stmt, p.RenameNew, sql, p.RenameCategory, p.RenameOld); err != nil {
			return database.WrapExecution(stmt, err)
		}

		var version int
		if err := tx.GetContext(ctx, &version, "PRAGMA schema_version"); err != nil {
			return fmt.Errorf("alter: reading schema_version: %w", err)
		}
		bump := fmt.Sprintf("PRAGMA schema_version = %d", version+1)
		if _, err := tx.ExecContext(ctx, bump); err != nil {
			return database.WrapExecution(bump, err)
		}
		return nil
	})
}
