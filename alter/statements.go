package alter

import (
	"fmt"

	"github.com/suurjaak/sqlitely-go/parser"
)

// BuildSimple emits the ordered ALTER TABLE statements implementing a
// Simple plan. Callers must check p.Kind == Simple first; calling this on
// a Complex plan produces statements SQLite will reject.
func (p *Plan) BuildSimple() []string {
	var stmts []string
	oldName := p.Change.Old.Name

	for _, op := range p.ColumnOps {
		switch op.op {
		case "drop":
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
				parser.Quote(oldName, false), parser.Quote(op.oldName, false)))
		case "rename":
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
				parser.Quote(oldName, false), parser.Quote(op.oldName, false), parser.Quote(op.newName, false)))
		case "add":
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
				parser.Quote(oldName, false), columnDefSQL(op.newCol)))
		}
	}

	if p.NameChanged {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
			parser.Quote(oldName, false), parser.Quote(p.Change.New.Name, false)))
	}
	return stmts
}

func columnDefSQL(c *parser.Column) string {
	ct := &parser.CreateTable{Name: "_", Columns: []*parser.Column{c}}
	sql, err := parser.Generate(ct, "")
	if err != nil {
		return parser.Quote(c.Name, false) + " " + c.TypeName
	}
	// Generate produced `CREATE TABLE _ (col-def)`; strip the wrapper.
	start := indexOfByte(sql, '(')
	end := lastIndexOfByte(sql, ')')
	if start < 0 || end < 0 || end <= start {
		return parser.Quote(c.Name, false) + " " + c.TypeName
	}
	return sql[start+1 : end]
}

func indexOfByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

func lastIndexOfByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}
