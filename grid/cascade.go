package grid

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/suurjaak/sqlitely-go/catalog"
	"github.com/suurjaak/sqlitely-go/database"
)

const maxChunkParams = 1000

// DeleteCascade deletes the rows of table identified by rowidValues, plus,
// recursively, every row of every other table whose foreign key points at
// one of the rows being removed, all inside a single transaction. It does
// not require a Table to be open; it is a standalone bulk operation, since
// the cascade can span tables the caller never opened a grid on.
func DeleteCascade(ctx context.Context, db *database.DB, cat *catalog.Catalog, table string, rowidValues []any) error {
	if len(rowidValues) == 0 {
		return nil
	}
	// Foreign keys reference a table's declared primary key, not whichever
	// alias ("rowid"/"_rowid_"/"oid") happens to be free, so the cascade
	// must match child rows against the real PK column name. Only the
	// single-column PRIMARY KEY case is auto-cascaded; composite keys fall
	// back to deleting just the named table.
	matchCol := table // placeholder, replaced below
	local, _ := cat.GetKeys(table, true)
	if len(local) == 1 && len(local[0].Columns) == 1 {
		matchCol = local[0].Columns[0]
	} else if alias, ok := cat.GetRowid(table); ok {
		matchCol = alias
	} else {
		return fmt.Errorf("grid: %q has no single-column primary key or rowid alias, cannot cascade delete", table)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("grid: cascade begin: %w", err)
	}
	visited := map[string]bool{}
	if err := cascadeDeleteByColumn(ctx, tx, cat, table, matchCol, rowidValues, visited); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("grid: cascade commit: %w", err)
	}
	return nil
}

// cascadeDeleteByColumn deletes every row of table whose column matches one
// of values, first recursing into every other table whose foreign key
// references table's primary key, restricted to the rows about to be
// deleted. visited guards against infinite recursion on cyclic schemas.
func cascadeDeleteByColumn(ctx context.Context, tx *sqlx.Tx, cat *catalog.Catalog, table, column string, values []any, visited map[string]bool) error {
	if visited[strings.ToLower(table)] {
		return nil
	}
	visited[strings.ToLower(table)] = true

	local, _ := cat.GetKeys(table, false)
	for _, k := range local {
		if k.ForeignTable == "" || len(k.Columns) != 1 || len(k.ForeignColumns) != 1 {
			continue // only single-column FK cascades are auto-followed
		}
		if !strings.EqualFold(k.Columns[0], column) {
			continue
		}
		childKey := k.ForeignColumns[0]
		if ck, _ := cat.GetKeys(k.ForeignTable, true); len(ck) == 1 && len(ck[0].Columns) == 1 {
			childKey = ck[0].Columns[0]
		} else if alias, ok := cat.GetRowid(k.ForeignTable); ok {
			childKey = alias
		}
		childValues, err := selectChunked(ctx, tx, k.ForeignTable, childKey, k.ForeignColumns[0], values)
		if err != nil {
			return err
		}
		if len(childValues) == 0 {
			continue
		}
		if err := cascadeDeleteByColumn(ctx, tx, cat, k.ForeignTable, childKey, childValues, visited); err != nil {
			return err
		}
	}

	return deleteChunked(ctx, tx, table, column, values)
}

// selectChunked returns the distinct values of selectCol in childTable
// whose matchCol is one of matchValues, issuing one query per chunk of at
// most maxChunkParams bound parameters.
func selectChunked(ctx context.Context, tx *sqlx.Tx, childTable, selectCol, matchCol string, matchValues []any) ([]any, error) {
	var out []any
	for _, chunk := range chunkValues(matchValues) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		stmt := fmt.Sprintf("SELECT DISTINCT %s FROM %s WHERE %s IN (%s)",
			quoteIdent(selectCol), quoteIdent(childTable), quoteIdent(matchCol), placeholders)
		rows, err := tx.QueryContext(ctx, stmt, chunk...)
		if err != nil {
			return nil, database.WrapExecution(stmt, err)
		}
		for rows.Next() {
			var v any
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return nil, fmt.Errorf("grid: cascade scan: %w", err)
			}
			out = append(out, v)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func deleteChunked(ctx context.Context, tx *sqlx.Tx, table, column string, values []any) error {
	for _, chunk := range chunkValues(values) {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", quoteIdent(table), quoteIdent(column), placeholders)
		if _, err := tx.ExecContext(ctx, stmt, chunk...); err != nil {
			return database.WrapExecution(stmt, err)
		}
	}
	return nil
}

func chunkValues(values []any) [][]any {
	var chunks [][]any
	for len(values) > 0 {
		n := maxChunkParams
		if n > len(values) {
			n = len(values)
		}
		chunks = append(chunks, values[:n])
		values = values[n:]
	}
	return chunks
}
