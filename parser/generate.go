package parser

import (
	"fmt"
	"strings"
)

// Generator turns a Statement back into SQL text. With a non-empty Indent
// it produces an indented multi-line form with column-list alignment; with
// an empty Indent it produces a compact single-line form with no
// linefeeds or padding at all.
type Generator struct {
	Indent string
}

// Generate returns the SQL for stmt, or an error if stmt is of an
// unsupported concrete type.
func (g *Generator) Generate(stmt Statement) (string, error) {
	switch s := stmt.(type) {
	case *CreateTable:
		return g.generateCreateTable(s), nil
	case *CreateIndex:
		return g.generateCreateIndex(s), nil
	case *CreateTrigger:
		return g.generateCreateTrigger(s), nil
	case *CreateView:
		return g.generateCreateView(s), nil
	case *CreateVirtualTable:
		return g.generateCreateVirtualTable(s), nil
	default:
		return "", fmt.Errorf("parser: cannot generate SQL for %T", stmt)
	}
}

// Generate is a package-level convenience wrapping Generator with the given
// indent ("" disables all linefeeds/padding). Unlike Generator.Generate, it
// reattaches any leading/trailing comment Parse split off the original
// statement, so Parse -> Generate round-trips preserve them.
func Generate(stmt Statement, indent string) (string, error) {
	g := &Generator{Indent: indent}
	body, err := g.Generate(stmt)
	if err != nil {
		return "", err
	}
	return attachMargin(stmt, body), nil
}

func attachMargin(stmt Statement, body string) string {
	out := body
	if leading := stmt.LeadingComment(); leading != "" {
		out = leading + "\n" + out
	}
	if trailing := stmt.TrailingComment(); trailing != "" {
		out = out + "\n" + trailing
	}
	return out
}

func (g *Generator) compact() bool { return g.Indent == "" }

func qualified(schema, name string) string {
	if schema == "" {
		return Quote(name, false)
	}
	return Quote(schema, false) + "." + Quote(name, false)
}

func (g *Generator) generateCreateTable(t *CreateTable) string {
	var head strings.Builder
	head.WriteString("CREATE ")
	if t.Temporary {
		head.WriteString("TEMP ")
	}
	head.WriteString("TABLE ")
	if t.IfNotExists {
		head.WriteString("IF NOT EXISTS ")
	}
	head.WriteString(qualified(t.Schema, t.Name))

	lines := g.columnLines(t)
	body := g.joinLines(lines)

	var sb strings.Builder
	sb.WriteString(head.String())
	if g.compact() {
		sb.WriteString(" (")
		sb.WriteString(body)
		sb.WriteString(")")
	} else {
		sb.WriteString(" (\n")
		sb.WriteString(body)
		sb.WriteString("\n)")
	}
	if t.WithoutRowid {
		sb.WriteString(" WITHOUT ROWID")
	}
	return sb.String()
}

// columnEntry is one pre-formatted (name, type, rest) triple, used for the
// post-processing alignment pass: every entry in a statement's column list
// is padded to the widest name/type/constraint-start column.
type columnEntry struct {
	name, typ, rest string
}

func (g *Generator) columnLines(t *CreateTable) []columnEntry {
	var entries []columnEntry
	for _, c := range t.Columns {
		entries = append(entries, columnEntry{name: Quote(c.Name, false), typ: c.TypeName, rest: columnConstraintsSQL(c)})
	}
	for _, c := range t.Constraints {
		entries = append(entries, columnEntry{name: "", typ: "", rest: tableConstraintSQL(c)})
	}
	return entries
}

// joinLines renders entries with alignment padding (non-compact mode) or
// tight single-line joining (compact mode). Commas are attached to the
// preceding line; there is never a dangling comma before the closing paren.
func (g *Generator) joinLines(entries []columnEntry) string {
	if g.compact() {
		var parts []string
		for _, e := range entries {
			parts = append(parts, strings.TrimSpace(strings.Join(nonEmpty(e.name, e.typ, e.rest), " ")))
		}
		return strings.Join(parts, ", ")
	}

	nameWidth, typeWidth := 0, 0
	for _, e := range entries {
		if e.name == "" {
			continue // table constraints don't participate in column alignment
		}
		if len(e.name) > nameWidth {
			nameWidth = len(e.name)
		}
		if len(e.typ) > typeWidth {
			typeWidth = len(e.typ)
		}
	}

	var lines []string
	for i, e := range entries {
		var line string
		if e.name == "" {
			line = g.Indent + e.rest
		} else {
			line = g.Indent + padRight(e.name, nameWidth)
			if e.typ != "" || e.rest != "" {
				line += " " + padRight(e.typ, typeWidth)
			}
			if e.rest != "" {
				line = strings.TrimRight(line, " ") + " " + e.rest
			} else {
				line = strings.TrimRight(line, " ")
			}
		}
		if i < len(entries)-1 {
			line += ","
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func nonEmpty(parts ...string) []string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func columnConstraintsSQL(c *Column) string {
	var parts []string
	if c.PK != nil {
		s := "PRIMARY KEY"
		if c.PK.Direction != "" {
			s += " " + c.PK.Direction
		}
		if c.PK.Conflict != "" {
			s += " ON CONFLICT " + c.PK.Conflict
		}
		if c.PK.Autoincrement {
			s += " AUTOINCREMENT"
		}
		parts = append(parts, s)
	}
	if c.NotNull != nil {
		s := "NOT NULL"
		if c.NotNull.Conflict != "" {
			s += " ON CONFLICT " + c.NotNull.Conflict
		}
		parts = append(parts, s)
	}
	if c.Unique != nil {
		s := "UNIQUE"
		if c.Unique.Conflict != "" {
			s += " ON CONFLICT " + c.Unique.Conflict
		}
		parts = append(parts, s)
	}
	if c.HasDefault {
		parts = append(parts, "DEFAULT "+c.Default)
	}
	if c.Collate != "" {
		parts = append(parts, "COLLATE "+c.Collate)
	}
	if c.Check != "" {
		parts = append(parts, "CHECK ("+c.Check+")")
	}
	if c.FK != nil {
		parts = append(parts, foreignKeySQL(c.FK))
	}
	return strings.Join(parts, " ")
}

func foreignKeySQL(fk *ForeignKey) string {
	s := "REFERENCES " + Quote(fk.Table, false)
	if len(fk.Key) > 0 {
		s += " (" + joinQuoted(fk.Key) + ")"
	}
	if fk.OnDelete != "" {
		s += " ON DELETE " + fk.OnDelete
	}
	if fk.OnUpdate != "" {
		s += " ON UPDATE " + fk.OnUpdate
	}
	if fk.Match != "" {
		s += " MATCH " + fk.Match
	}
	if fk.Defer.Set {
		if fk.Defer.Not {
			s += " NOT"
		}
		s += " DEFERRABLE"
		if fk.Defer.Initially != "" {
			s += " INITIALLY " + fk.Defer.Initially
		}
	}
	return s
}

func joinQuoted(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Quote(n, false)
	}
	return strings.Join(out, ", ")
}

func tableConstraintSQL(c *TableConstraint) string {
	var head string
	if c.Name != "" {
		head = "CONSTRAINT " + Quote(c.Name, false) + " "
	}
	switch c.Type {
	case "PRIMARY KEY", "UNIQUE":
		cols := make([]string, len(c.Columns))
		for i, cc := range c.Columns {
			cols[i] = Quote(cc.Name, false)
			if cc.Direction != "" {
				cols[i] += " " + cc.Direction
			}
		}
		s := head + c.Type + " (" + strings.Join(cols, ", ") + ")"
		if c.Conflict != "" {
			s += " ON CONFLICT " + c.Conflict
		}
		return s
	case "CHECK":
		return head + "CHECK (" + c.Check + ")"
	case "FOREIGN KEY":
		cols := make([]string, len(c.Columns))
		for i, cc := range c.Columns {
			cols[i] = Quote(cc.Name, false)
		}
		s := head + "FOREIGN KEY (" + strings.Join(cols, ", ") + ") " + foreignKeySQL(c.FK)
		return s
	}
	return head
}

func (g *Generator) generateCreateIndex(c *CreateIndex) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if c.Unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	if c.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(qualified(c.Schema, c.Name))
	sb.WriteString(" ON ")
	sb.WriteString(Quote(c.Table, false))
	sb.WriteString(" (")
	cols := make([]string, len(c.Columns))
	for i, ic := range c.Columns {
		s := ic.Name
		if s == "" {
			s = ic.Expr
		} else {
			s = Quote(s, false)
		}
		if ic.Collate != "" {
			s += " COLLATE " + ic.Collate
		}
		if ic.Direction != "" {
			s += " " + ic.Direction
		}
		cols[i] = s
	}
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(")")
	if c.Where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(c.Where)
	}
	return sb.String()
}

func (g *Generator) generateCreateTrigger(t *CreateTrigger) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if t.Temporary {
		sb.WriteString("TEMP ")
	}
	sb.WriteString("TRIGGER ")
	if t.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(qualified(t.Schema, t.Name))
	sb.WriteString(" ")
	if t.Upon != "" {
		sb.WriteString(t.Upon)
		sb.WriteString(" ")
	}
	sb.WriteString(t.Action)
	if t.Action == "UPDATE" && len(t.Columns) > 0 {
		sb.WriteString(" OF ")
		sb.WriteString(strings.Join(quoteAll(t.Columns), ", "))
	}
	sb.WriteString(" ON ")
	sb.WriteString(Quote(t.Table, false))
	if t.ForEachRow {
		sb.WriteString(" FOR EACH ROW")
	}
	if t.When != "" {
		sb.WriteString(" WHEN ")
		sb.WriteString(t.When)
	}
	sb.WriteString(" BEGIN ")
	sb.WriteString(t.Body)
	if !strings.HasSuffix(strings.TrimSpace(t.Body), ";") {
		sb.WriteString(";")
	}
	sb.WriteString(" END")
	return sb.String()
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Quote(n, false)
	}
	return out
}

func (g *Generator) generateCreateView(v *CreateView) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if v.Temporary {
		sb.WriteString("TEMP ")
	}
	sb.WriteString("VIEW ")
	if v.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(qualified(v.Schema, v.Name))
	if len(v.Columns) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(quoteAll(v.Columns), ", "))
		sb.WriteString(")")
	}
	sb.WriteString(" AS ")
	sb.WriteString(v.Select)
	return sb.String()
}

func (g *Generator) generateCreateVirtualTable(c *CreateVirtualTable) string {
	var sb strings.Builder
	sb.WriteString("CREATE VIRTUAL TABLE ")
	if c.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(qualified(c.Schema, c.Name))
	sb.WriteString(" USING ")
	sb.WriteString(c.Module)
	if len(c.Arguments) > 0 {
		sb.WriteString("(")
		sb.WriteString(strings.Join(c.Arguments, ", "))
		sb.WriteString(")")
	}
	return sb.String()
}
