// Package database owns the connection to a single SQLite file: opening
// it through the pure-Go modernc.org/sqlite driver, the ambient error
// taxonomy every other package wraps its failures in, and the SQLite
// version gates the Alter Planner needs (RENAME COLUMN, cascading
// RENAME TABLE/COLUMN, and view column lists all arrived in specific
// SQLite releases).
package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Config controls how a database is opened.
type Config struct {
	Path string `long:"file" description:"path to the SQLite database file" required:"true"`

	// ForeignKeys enables `PRAGMA foreign_keys = ON`, which SQLite leaves
	// off by default for backward compatibility.
	ForeignKeys bool `long:"foreign-keys" description:"enforce foreign key constraints"`

	// ReadOnly opens the file in read-only mode (`mode=ro`), refusing any write.
	ReadOnly bool `long:"read-only" description:"open the database read-only"`
}

// DB wraps a SQLite connection with the version information the rest of
// the module needs to decide which DDL forms are available.
type DB struct {
	*sqlx.DB

	log     *slog.Logger
	path    string
	version [3]int // major, minor, patch
}

// Open opens cfg.Path and probes its SQLite version.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*DB, error) {
	if log == nil {
		log = slog.Default()
	}
	dsn := cfg.Path
	var params []string
	if cfg.ForeignKeys {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if cfg.ReadOnly {
		params = append(params, "mode=ro")
	}
	if len(params) > 0 {
		dsn = dsn + "?" + strings.Join(params, "&")
	}

	sqlxDB, err := sqlx.ConnectContext(ctx, "sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", cfg.Path, err)
	}

	db := &DB{DB: sqlxDB, log: log, path: cfg.Path}
	var v string
	if err := db.GetContext(ctx, &v, "SELECT sqlite_version()"); err != nil {
		_ = sqlxDB.Close()
		return nil, fmt.Errorf("database: probing sqlite_version: %w", err)
	}
	db.version = parseVersion(v)
	log.Info("database opened", "path", cfg.Path, "sqlite_version", v)
	return db, nil
}

func parseVersion(v string) [3]int {
	var out [3]int
	parts := strings.SplitN(v, ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, _ := strconv.Atoi(parts[i])
		out[i] = n
	}
	return out
}

// FileSize stats the underlying database file, used by the Grid Model to
// decide whether a full COUNT(*) is cheap enough to run. Returns 0 for a
// connection with no backing file (":memory:", or a DB built directly in
// a test), rather than an error, since that case should always favor an
// exact count.
func (db *DB) FileSize() int64 {
	if db.path == "" || db.path == ":memory:" {
		return 0
	}
	info, err := os.Stat(db.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (db *DB) atLeast(major, minor int) bool {
	if db.version[0] != major {
		return db.version[0] > major
	}
	return db.version[1] >= minor
}

// SupportsRenameColumn reports whether `ALTER TABLE ... RENAME COLUMN` is
// available (SQLite >= 3.25.0).
func (db *DB) SupportsRenameColumn() bool { return db.atLeast(3, 25) }

// SupportsDropColumn reports whether `ALTER TABLE ... DROP COLUMN` is
// available (SQLite >= 3.35.0).
func (db *DB) SupportsDropColumn() bool { return db.atLeast(3, 35) }

// SupportsCascadingRename reports whether renaming a table automatically
// updates references to it in triggers and views (SQLite >= 3.25.0,
// refined in 3.26.0); the Alter Planner falls back to manually rewriting
// dependents via parser.Transform when this is false.
func (db *DB) SupportsCascadingRename() bool { return db.atLeast(3, 26) }

// SupportsViewColumnNames reports whether `CREATE VIEW name(col, ...) AS`
// is accepted (SQLite >= 3.9.0).
func (db *DB) SupportsViewColumnNames() bool { return db.atLeast(3, 9) }

// WritableSchema runs fn with `PRAGMA writable_schema = ON`, restoring it
// to OFF afterward (even on error), for direct sqlite_master patches the
// Alter Planner uses when regenerating a dependent's stored SQL without a
// full table rebuild.
func (db *DB) WritableSchema(ctx context.Context, fn func(*sqlx.Tx) error) error {
	if _, err := db.ExecContext(ctx, "PRAGMA writable_schema = ON"); err != nil {
		return fmt.Errorf("database: enabling writable_schema: %w", err)
	}
	defer db.ExecContext(ctx, "PRAGMA writable_schema = OFF")

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("database: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// BumpSchemaVersion increments `PRAGMA schema_version`, forcing SQLite to
// reparse sqlite_master on the next statement. Required after any direct
// sqlite_master row patch made through WritableSchema.
func (db *DB) BumpSchemaVersion(ctx context.Context) error {
	var v int
	if err := db.GetContext(ctx, &v, "PRAGMA schema_version"); err != nil {
		return fmt.Errorf("database: reading schema_version: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA schema_version = %d", v+1)); err != nil {
		return fmt.Errorf("database: bumping schema_version: %w", err)
	}
	return nil
}
