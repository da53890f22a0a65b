package alter

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/suurjaak/sqlitely-go/catalog"
	"github.com/suurjaak/sqlitely-go/parser"
)

// Script is the ordered, already-quoted sequence of statements a Complex
// plan executes, annotated with the temp table name used so callers can
// log or audit the rebuild.
type Script struct {
	TempName   string
	Statements []string
}

// BuildComplex emits the create-copy-drop-rename sequence for a Complex
// plan, followed by recreation of every index/trigger rooted on the table
// (found via dependents, which the caller obtains from catalog.GetRelated
// with own=true before the table is dropped). Views are not recreated
// here: SQLite drops a view automatically only if it names the dropped
// table directly in its own definition, which callers must detect via
// catalog and recreate the same way.
func (p *Plan) BuildComplex(dependents []*catalog.Item) (*Script, error) {
	temp := "_alter_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	oldName := p.Change.Old.Name
	newTable := *p.Change.New
	newTable.Name = temp
	newTable.IfNotExists = false

	createSQL, err := parser.Generate(&newTable, "")
	if err != nil {
		return nil, fmt.Errorf("alter: generating rebuild table: %w", err)
	}

	script := &Script{TempName: temp}
	script.Statements = append(script.Statements, createSQL)
	script.Statements = append(script.Statements, p.copyDataSQL(temp)...)
	script.Statements = append(script.Statements,
		fmt.Sprintf("DROP TABLE %s", parser.Quote(oldName, false)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", parser.Quote(temp, false), parser.Quote(p.Change.New.Name, false)),
	)

	for _, dep := range dependents {
		sql, err := recreateDependentSQL(dep, oldName, p.Change.New.Name)
		if err != nil {
			return nil, fmt.Errorf("alter: recreating %s %q: %w", dep.Category, dep.Name, err)
		}
		script.Statements = append(script.Statements, sql)
	}
	return script, nil
}

// copyDataSQL emits the INSERT...SELECT statements copying data from the
// old table into the new temp table, column by column: renamed/unchanged
// columns copy their old value, dropped columns are omitted, added
// columns are left to their own DEFAULT (and therefore omitted from both
// the column list and the SELECT list).
func (p *Plan) copyDataSQL(temp string) []string {
	var destCols, srcExprs []string
	for _, op := range p.ColumnOps {
		switch op.op {
		case "unchanged", "retype":
			destCols = append(destCols, parser.Quote(op.newCol.Name, false))
			srcExprs = append(srcExprs, parser.Quote(op.oldCol.Name, false))
		case "rename":
			destCols = append(destCols, parser.Quote(op.newCol.Name, false))
			srcExprs = append(srcExprs, parser.Quote(op.oldCol.Name, false))
		case "drop", "add":
			// omitted: dropped columns have nothing to copy into, added
			// columns fall back to their DEFAULT.
		}
	}
	if len(destCols) == 0 {
		return nil
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		parser.Quote(temp, false),
		strings.Join(destCols, ", "),
		strings.Join(srcExprs, ", "),
		parser.Quote(p.Change.Old.Name, false))
	return []string{stmt}
}

// recreateDependentSQL regenerates an index or trigger's stored SQL,
// applying a table rename if the owning table's name changed.
func recreateDependentSQL(dep *catalog.Item, oldTable, newTable string) (string, error) {
	if strings.EqualFold(oldTable, newTable) {
		return dep.SQL0, nil
	}
	renames := parser.Renames{
		"table": {Map: map[string]string{strings.ToLower(oldTable): newTable}},
	}
	return parser.Transform(dep.SQL0, renames, nil, "")
}
