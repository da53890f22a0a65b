package grid

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/suurjaak/sqlitely-go/catalog"
	"github.com/suurjaak/sqlitely-go/database"
)

// GetValue returns the current (possibly edited, possibly newly inserted)
// value of col in row index.
func (t *Table) GetValue(ctx context.Context, index int, col string) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index >= len(t.rows) {
		ni := index - len(t.rows)
		if ni < 0 || ni >= len(t.newRows) {
			return nil, fmt.Errorf("grid: row %d out of range", index)
		}
		return t.newRows[ni][col], nil
	}
	return t.effectiveRowLocked(index)[col], nil
}

// SetValue edits column col of row index, coercing value to the column's
// declared affinity. The edit is buffered; it is not written to the
// database until Commit.
func (t *Table) SetValue(index int, col string, value any) error {
	if t.readOnly {
		return fmt.Errorf("grid: %q is read-only", t.name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	coerced := coerce(value, t.affinityOf(col))
	if index >= len(t.rows) {
		ni := index - len(t.rows)
		if ni < 0 || ni >= len(t.newRows) {
			return fmt.Errorf("grid: row %d out of range", index)
		}
		t.newRows[ni][col] = coerced
		return nil
	}

	if _, ok := t.backup[index]; !ok {
		t.backup[index] = Row{}
	}
	if _, exists := t.backup[index][col]; !exists {
		t.backup[index][col] = t.rows[index][col]
	}
	if t.changed[index] == nil {
		t.changed[index] = Row{}
	}
	t.changed[index][col] = coerced
	return nil
}

func (t *Table) affinityOf(col string) string {
	for _, c := range t.columns {
		if strings.EqualFold(c.Name, col) {
			return catalog.Affinity(c.Type)
		}
	}
	return "NUMERIC"
}

// coerce applies SQLite's manifest typing rules loosely: a value destined
// for an INTEGER/REAL column is parsed from its string form when possible,
// matching what SQLite itself would store for that affinity, while TEXT
// and BLOB columns are left as-is.
func coerce(value any, affinity string) any {
	s, isString := value.(string)
	if !isString {
		return value
	}
	switch affinity {
	case "INTEGER":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case "REAL":
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return value
}

// InsertRow appends a new, uncommitted row and returns its grid index.
func (t *Table) InsertRow() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.newRows = append(t.newRows, Row{})
	return len(t.rows) + len(t.newRows) - 1
}

// DeleteRow marks a buffered row for deletion on the next Commit. Deleting
// a not-yet-committed new row simply discards it.
func (t *Table) DeleteRow(index int) error {
	if t.readOnly {
		return fmt.Errorf("grid: %q is read-only", t.name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if index >= len(t.rows) {
		ni := index - len(t.rows)
		if ni < 0 || ni >= len(t.newRows) {
			return fmt.Errorf("grid: row %d out of range", index)
		}
		t.newRows = append(t.newRows[:ni], t.newRows[ni+1:]...)
		return nil
	}
	t.deleted[index] = true
	return nil
}

// Changes summarizes the grid's uncommitted edit set, the supplemented
// analogue of GetChanges/SetChanges in a buffered-grid model: a caller can
// stash it away and restore it later via SetChanges to resume editing.
type Changes struct {
	Changed map[int]Row
	Backup  map[int]Row
	New     []Row
	Deleted map[int]bool
}

// Changes returns a deep copy of the grid's current uncommitted edits.
func (t *Table) Changes() Changes {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := Changes{Changed: map[int]Row{}, Backup: map[int]Row{}, Deleted: map[int]bool{}}
	for k, v := range t.changed {
		out.Changed[k] = cloneRow(v)
	}
	for k, v := range t.backup {
		out.Backup[k] = cloneRow(v)
	}
	for _, r := range t.newRows {
		out.New = append(out.New, cloneRow(r))
	}
	for k, v := range t.deleted {
		out.Deleted[k] = v
	}
	return out
}

// SetChanges replaces the grid's uncommitted edit set with c, discarding
// whatever was there before without touching the database.
func (t *Table) SetChanges(c Changes) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changed = map[int]Row{}
	for k, v := range c.Changed {
		t.changed[k] = cloneRow(v)
	}
	t.backup = map[int]Row{}
	for k, v := range c.Backup {
		t.backup[k] = cloneRow(v)
	}
	t.newRows = nil
	for _, r := range c.New {
		t.newRows = append(t.newRows, cloneRow(r))
	}
	t.deleted = map[int]bool{}
	for k, v := range c.Deleted {
		t.deleted[k] = v
	}
}

func cloneRow(r Row) Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ColumnLabel returns the display label for the i'th column: its name, or
// a positional fallback if the grid has fewer columns than i (the
// supplemented analogue of SQLiteGridBase's GetColLabelValue).
func (t *Table) ColumnLabel(i int) string {
	if i >= 0 && i < len(t.columns) {
		return t.columns[i].Name
	}
	return fmt.Sprintf("Column %d", i+1)
}

// Rollback discards every uncommitted edit, insert and delete, restoring
// in-memory rows to their pre-edit values.
func (t *Table) Rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for idx, backup := range t.backup {
		for col, v := range backup {
			t.rows[idx][col] = v
		}
	}
	t.changed = map[int]Row{}
	t.backup = map[int]Row{}
	t.newRows = nil
	t.deleted = map[int]bool{}
}

// Commit writes every buffered edit, insert and delete to the database in
// a single transaction, then clears the buffer's dirty state.
func (t *Table) Commit(ctx context.Context) error {
	if t.readOnly {
		return fmt.Errorf("grid: %q is read-only", t.name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("grid: begin: %w", err)
	}

	for idx, edits := range t.changed {
		if t.deleted[idx] {
			continue
		}
		if err := t.execUpdate(ctx, tx, idx, edits); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	keyCol := t.keyColumn()
	for idx := range t.deleted {
		if idx >= len(t.rowKeys) || keyCol == "" {
			continue
		}
		stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(t.name), quoteIdent(keyCol))
		if _, err := tx.ExecContext(ctx, stmt, t.rowKeys[idx]); err != nil {
			_ = tx.Rollback()
			return database.WrapExecution(stmt, err)
		}
	}
	for _, row := range t.newRows {
		if err := t.execInsert(ctx, tx, row); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("grid: commit: %w", err)
	}

	for idx, edits := range t.changed {
		if t.deleted[idx] {
			continue
		}
		for col, v := range edits {
			t.rows[idx][col] = v
		}
	}
	t.changed = map[int]Row{}
	t.backup = map[int]Row{}
	t.newRows = nil
	t.deleted = map[int]bool{}
	t.resetBufferLocked()
	return nil
}

func (t *Table) execUpdate(ctx context.Context, tx *sqlx.Tx, idx int, edits Row) error {
	keyCol := t.keyColumn()
	if keyCol == "" || idx >= len(t.rowKeys) {
		return fmt.Errorf("grid: row %d has no rowid or primary key to update against", idx)
	}
	var sets []string
	var args []any
	for col, v := range edits {
		sets = append(sets, quoteIdent(col)+" = ?")
		args = append(args, v)
	}
	args = append(args, t.rowKeys[idx])
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", quoteIdent(t.name), strings.Join(sets, ", "), quoteIdent(keyCol))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return database.WrapExecution(stmt, err)
	}
	return nil
}

func (t *Table) execInsert(ctx context.Context, tx *sqlx.Tx, row Row) error {
	var cols []string
	var placeholders []string
	var args []any
	for col, v := range row {
		cols = append(cols, quoteIdent(col))
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}
	if len(cols) == 0 {
		stmt := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quoteIdent(t.name))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return database.WrapExecution(stmt, err)
		}
		return nil
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(t.name), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return database.WrapExecution(stmt, err)
	}
	return nil
}
