// Package catalog mirrors sqlite_master in memory and answers dependency,
// locking and key/rowid questions about the schema it has loaded. It is the
// Schema Catalog component: the source of truth the Alter Planner, Grid
// Model and Search Compiler all consult instead of hitting sqlite_master
// directly on every call.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/suurjaak/sqlitely-go/parser"
	"github.com/suurjaak/sqlitely-go/util"
)

// Category names, re-exported for convenience.
const (
	Table   = parser.CategoryTable
	Index   = parser.CategoryIndex
	Trigger = parser.CategoryTrigger
	View    = parser.CategoryView
)

// Column mirrors one row of `PRAGMA table_info`/`PRAGMA index_info`.
type Column struct {
	CID          int            `db:"cid"`
	Name         string         `db:"name"`
	Type         string         `db:"type"`
	NotNull      bool           `db:"notnull"`
	DefaultValue sql.NullString `db:"dflt_value"`
	PK           int            `db:"pk"`
}

// Item is the catalog's view of a SchemaItem: category, name, canonical and
// raw SQL, parsed AST, and the process-local id that survives reloads as
// long as SQL0 is unchanged.
type Item struct {
	ID       int64
	Category string
	Name     string
	SQL      string // canonical, re-formatted CREATE statement
	SQL0     string // raw sqlite_master.sql
	Columns  []Column
	Meta     parser.Statement
	Count    *int64
	CountEstimated bool
}

type itemKey struct{ category, name string }

func keyOf(category, name string) itemKey {
	return itemKey{category, strings.ToLower(name)}
}

// Catalog is the in-memory mirror. Zero value is not usable; use New.
type Catalog struct {
	db  *sqlx.DB
	log *slog.Logger

	mu     sync.RWMutex
	items  map[itemKey]*Item
	idSeq  int64

	locks *lockTable
}

// New creates a Catalog bound to db. log may be nil, in which case a
// discard logger is used.
func New(db *sqlx.DB, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.New(slog.NewTextHandler(discardWriter{}, nil))
	}
	c := &Catalog{db: db, log: log, items: map[itemKey]*Item{}, locks: newLockTable()}
	return c
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type masterRow struct {
	Type string `db:"type"`
	Name string `db:"name"`
	SQL  sql.NullString `db:"sql"`
}

// Populate rebuilds or refreshes the entry set. category/name, if
// non-empty, restrict the refresh to matching items. When parse is true,
// each item's SQL is fully parsed and its canonical formatted SQL is
// stored; when false, only the column list is refreshed and the AST is
// reused from the previous image as long as SQL0 is unchanged.
func (c *Catalog) Populate(ctx context.Context, category, name string, parse, count bool) error {
	query := "SELECT type, name, sql FROM sqlite_master WHERE type IN ('table','index','trigger','view')"
	var args []any
	if category != "" {
		query += " AND type = ?"
		args = append(args, category)
	}
	if name != "" {
		query += " AND name = ?"
		args = append(args, name)
	}

	var rows []masterRow
	if err := c.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return fmt.Errorf("catalog: populate: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seen := map[itemKey]bool{}
	for _, r := range rows {
		if !r.SQL.Valid {
			continue // auto-indexes and the like carry no SQL
		}
		k := keyOf(r.Type, r.Name)
		seen[k] = true
		existing := c.items[k]

		item := &Item{Category: r.Type, Name: r.Name, SQL0: r.SQL.String}
		if existing != nil && existing.SQL0 == r.SQL.String {
			item.ID = existing.ID
			item.Meta = existing.Meta
			item.SQL = existing.SQL
		} else {
			c.idSeq++
			item.ID = c.idSeq
		}

		if parse && item.Meta == nil {
			stmt, err := parser.Parse(r.SQL.String, "")
			if err != nil {
				c.log.Warn("catalog: parse failed, keeping raw SQL", "category", r.Type, "name", r.Name, "error", err)
			} else {
				item.Meta = stmt
				formatted, genErr := parser.Generate(stmt, "  ")
				if genErr == nil {
					item.SQL = formatted
				}
			}
		}
		if item.SQL == "" {
			item.SQL = item.SQL0
		}

		if err := c.loadColumns(ctx, item); err != nil {
			c.log.Warn("catalog: loading columns failed", "category", r.Type, "name", r.Name, "error", err)
		}
		if count && r.Type == Table {
			c.loadCount(ctx, item)
		}

		c.items[k] = item
	}

	if category == "" && name == "" {
		for k := range c.items {
			if !seen[k] {
				delete(c.items, k)
			}
		}
	}
	return nil
}

func (c *Catalog) loadColumns(ctx context.Context, item *Item) error {
	var pragma string
	switch item.Category {
	case Table:
		pragma = fmt.Sprintf("PRAGMA table_info(%s)", parser.Quote(item.Name, false))
	case Index:
		pragma = fmt.Sprintf("PRAGMA index_info(%s)", parser.Quote(item.Name, false))
	default:
		return nil
	}
	var cols []Column
	if err := c.db.SelectContext(ctx, &cols, pragma); err != nil {
		return err
	}
	item.Columns = cols
	return nil
}

func (c *Catalog) loadCount(ctx context.Context, item *Item) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", parser.Quote(item.Name, false))
	if err := c.db.GetContext(ctx, &n, q); err == nil {
		item.Count = &n
	}
}

func cloneItem(it *Item) *Item {
	cp := *it
	cp.Columns = append([]Column(nil), it.Columns...)
	return &cp
}

// GetCategory returns copies of every item in category, or of the single
// named item (case-insensitive) if name is non-empty. Each copy has its own
// Columns slice; its Meta AST and Count are shared with the catalog's entry,
// not copied.
func (c *Catalog) GetCategory(category, name string) []*Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if name != "" {
		if it, ok := c.items[keyOf(category, name)]; ok {
			return []*Item{cloneItem(it)}
		}
		return nil
	}
	byName := map[string]*Item{}
	for k, it := range c.items {
		if k.category == category {
			byName[it.Name] = it
		}
	}
	var out []*Item
	for _, it := range util.CanonicalMapIter(byName) {
		out = append(out, cloneItem(it))
	}
	return out
}

// Get returns a copy of a single item (as GetCategory copies it), or nil if
// absent.
func (c *Catalog) Get(category, name string) *Item {
	items := c.GetCategory(category, name)
	if len(items) == 0 {
		return nil
	}
	return items[0]
}

// Affinity maps a declared column type to its SQLite storage affinity,
// following the rules in SQLite's "Determination Of Column Affinity"
// (substring matching on the declared type, case-insensitive).
func Affinity(declaredType string) string {
	t := strings.ToUpper(declaredType)
	switch {
	case strings.Contains(t, "INT"):
		return "INTEGER"
	case strings.Contains(t, "CHAR"), strings.Contains(t, "CLOB"), strings.Contains(t, "TEXT"):
		return "TEXT"
	case strings.Contains(t, "BLOB"), t == "":
		return "BLOB"
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"):
		return "REAL"
	default:
		return "NUMERIC"
	}
}
