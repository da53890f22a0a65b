package alter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/suurjaak/sqlitely-go/catalog"
	"github.com/suurjaak/sqlitely-go/database"
)

// Apply runs a decided Plan against db, logging every statement it
// executes. For a Complex plan it follows SQLite's documented
// twelve-step procedure: foreign key enforcement is suspended for the
// duration of the rebuild and a `PRAGMA foreign_key_check` is run just
// before commit, turning any violation introduced by the rebuild into an
// ErrIntegrity rather than a silently corrupted reference.
func Apply(ctx context.Context, db *database.DB, cat *catalog.Catalog, p *Plan, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	if p.RenameCategory != "" {
		return applyRename(ctx, db, cat, p, log)
	}
	if label, held := cat.GetLock(catalog.Table, p.Change.Old.Name); held {
		return &database.LockConflictError{Category: catalog.Table, Name: p.Change.Old.Name, HeldBy: label}
	}

	lockLabel := "alter:" + p.Change.Old.Name
	cat.Lock(catalog.Table, p.Change.Old.Name, lockLabel)
	defer cat.Unlock(catalog.Table, p.Change.Old.Name, lockLabel)

	log.Info("alter plan decided", "table", p.Change.Old.Name, "kind", p.Kind.String(), "reasons", p.Reasons)

	switch p.Kind {
	case Simple:
		return applyStatements(ctx, db, log, p.BuildSimple())
	case Complex:
		dependents := Related(cat, p.Change.Old.Name)
		script, err := p.BuildComplex(dependents)
		if err != nil {
			return err
		}
		return applyComplex(ctx, db, log, script)
	default:
		return fmt.Errorf("alter: unknown plan kind %v", p.Kind)
	}
}

func applyStatements(ctx context.Context, db *database.DB, log *slog.Logger, stmts []string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("alter: begin: %w", err)
	}
	for _, stmt := range stmts {
		log.Info("alter exec", "sql", stmt)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return database.WrapExecution(stmt, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("alter: commit: %w", err)
	}
	return nil
}

func applyComplex(ctx context.Context, db *database.DB, log *slog.Logger, script *Script) error {
	var wasOn int
	_ = db.GetContext(ctx, &wasOn, "PRAGMA foreign_keys")
	if wasOn == 1 {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
			return fmt.Errorf("alter: disabling foreign_keys: %w", err)
		}
		defer db.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("alter: begin: %w", err)
	}
	for _, stmt := range script.Statements {
		log.Info("alter exec", "sql", stmt, "temp_table", script.TempName)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return database.WrapExecution(stmt, err)
		}
	}

	if wasOn == 1 {
		rows, err := tx.QueryContext(ctx, "PRAGMA foreign_key_check")
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("alter: foreign_key_check: %w", err)
		}
		violated := rows.Next()
		rows.Close()
		if violated {
			_ = tx.Rollback()
			return database.WrapIntegrity("rebuild introduced foreign key violations", database.ErrIntegrity)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("alter: commit: %w", err)
	}
	return nil
}
