package parser

import "strings"

func (p *Parser) parseCreateTable(temporary bool) (*CreateTable, error) {
	ifNotExists := p.parseIfNotExists()
	schema, name, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	ct := &CreateTable{Name: name, Schema: schema, Temporary: temporary, IfNotExists: ifNotExists}

	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		if p.startsTableConstraint() {
			cons, err := p.parseTableConstraint()
			if err != nil {
				return nil, err
			}
			ct.Constraints = append(ct.Constraints, cons)
		} else {
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			ct.Columns = append(ct.Columns, col)
		}
		if p.eatPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if p.eatKeyword("WITHOUT") {
		if err := p.expectKeyword("ROWID"); err != nil {
			return nil, err
		}
		ct.WithoutRowid = true
	}
	return ct, nil
}

func (p *Parser) startsTableConstraint() bool {
	save := p.mark()
	defer p.reset(save)
	p.eatKeyword("CONSTRAINT")
	return p.isKeyword("PRIMARY") || p.isKeyword("UNIQUE") ||
		p.isKeyword("FOREIGN") || p.isKeyword("CHECK")
}

func (p *Parser) parseTableConstraint() (*TableConstraint, error) {
	cons := &TableConstraint{}
	if p.eatKeyword("CONSTRAINT") {
		n, err := p.name()
		if err != nil {
			return nil, err
		}
		cons.Name = n
	}
	switch {
	case p.eatKeyword("PRIMARY"):
		if err := p.expectKeyword("KEY"); err != nil {
			return nil, err
		}
		cons.Type = "PRIMARY KEY"
		cols, err := p.parseIndexedColumnList()
		if err != nil {
			return nil, err
		}
		cons.Columns = cols
		cons.Conflict = p.parseOnConflict()
	case p.eatKeyword("UNIQUE"):
		cons.Type = "UNIQUE"
		cols, err := p.parseIndexedColumnList()
		if err != nil {
			return nil, err
		}
		cons.Columns = cols
		cons.Conflict = p.parseOnConflict()
	case p.eatKeyword("CHECK"):
		cons.Type = "CHECK"
		expr, err := p.captureBalanced()
		if err != nil {
			return nil, err
		}
		cons.Check = expr
	case p.eatKeyword("FOREIGN"):
		if err := p.expectKeyword("KEY"); err != nil {
			return nil, err
		}
		cons.Type = "FOREIGN KEY"
		names, err := p.parseColumnNameList()
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			cons.Columns = append(cons.Columns, ConstraintColumn{Name: n})
		}
		fk, err := p.parseForeignKeyClause()
		if err != nil {
			return nil, err
		}
		cons.FK = fk
		cons.Table = fk.Table
	default:
		return nil, newParseError(p.sql, p.peek().Pos, "expected table constraint, got %q", p.peek().Text)
	}
	return cons, nil
}

func (p *Parser) parseColumnNameList() ([]string, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var out []string
	for {
		n, err := p.name()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		if p.eatPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parser) parseIndexedColumnList() ([]ConstraintColumn, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var out []ConstraintColumn
	for {
		n, err := p.name()
		if err != nil {
			return nil, err
		}
		dir := ""
		if p.eatKeyword("ASC") {
			dir = "ASC"
		} else if p.eatKeyword("DESC") {
			dir = "DESC"
		}
		out = append(out, ConstraintColumn{Name: n, Direction: dir})
		if p.eatPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Parser) parseOnConflict() string {
	if !p.eatKeyword("ON") {
		return ""
	}
	_ = p.expectKeyword("CONFLICT")
	t := p.advance()
	return identText(t)
}

func (p *Parser) parseForeignKeyClause() (*ForeignKey, error) {
	fk := &ForeignKey{}
	if err := p.expectKeyword("REFERENCES"); err != nil {
		return nil, err
	}
	table, err := p.name()
	if err != nil {
		return nil, err
	}
	fk.Table = table
	if p.peek().Kind == Punct && p.peek().Text == "(" {
		cols, err := p.parseColumnNameList()
		if err != nil {
			return nil, err
		}
		fk.Key = cols
	}
	for {
		switch {
		case p.eatKeyword("ON"):
			action := ""
			if p.eatKeyword("DELETE") {
				action = "DELETE"
			} else if p.eatKeyword("UPDATE") {
				action = "UPDATE"
			} else {
				return nil, newParseError(p.sql, p.peek().Pos, "expected DELETE or UPDATE after ON")
			}
			resolution := p.parseFKAction()
			if action == "DELETE" {
				fk.OnDelete = resolution
			} else {
				fk.OnUpdate = resolution
			}
		case p.eatKeyword("MATCH"):
			t := p.advance()
			fk.Match = identText(t)
		case p.isKeyword("DEFERRABLE") || (p.isKeyword("NOT") && p.peekAt(1).Kind == Ident && identText(p.peekAt(1)) == "DEFERRABLE"):
			d, err := p.parseDeferClause()
			if err != nil {
				return nil, err
			}
			fk.Defer = d
		default:
			return fk, nil
		}
	}
}

func (p *Parser) parseFKAction() string {
	switch {
	case p.eatKeyword("SET"):
		if p.eatKeyword("NULL") {
			return "SET NULL"
		}
		p.eatKeyword("DEFAULT")
		return "SET DEFAULT"
	case p.eatKeyword("CASCADE"):
		return "CASCADE"
	case p.eatKeyword("RESTRICT"):
		return "RESTRICT"
	case p.eatKeyword("NO"):
		p.eatKeyword("ACTION")
		return "NO ACTION"
	}
	return ""
}

func (p *Parser) parseDeferClause() (DeferClause, error) {
	d := DeferClause{Set: true}
	if p.eatKeyword("NOT") {
		d.Not = true
	}
	if err := p.expectKeyword("DEFERRABLE"); err != nil {
		return d, err
	}
	if p.eatKeyword("INITIALLY") {
		if p.eatKeyword("DEFERRED") {
			d.Initially = "DEFERRED"
		} else if p.eatKeyword("IMMEDIATE") {
			d.Initially = "IMMEDIATE"
		}
	}
	return d, nil
}

func (p *Parser) parseColumnDef() (*Column, error) {
	name, err := p.name()
	if err != nil {
		return nil, err
	}
	col := &Column{Name: name}
	// Optional type name: a run of identifiers optionally followed by
	// (n[,n]) precision/scale, e.g. VARCHAR(255), DECIMAL(10, 2).
	var typeParts []string
	for p.peek().Kind == Ident && !p.isColumnConstraintKeyword() {
		typeParts = append(typeParts, p.advance().Text)
	}
	if p.peek().Kind == Punct && p.peek().Text == "(" && len(typeParts) > 0 {
		args, err := p.captureBalanced()
		if err != nil {
			return nil, err
		}
		typeParts = append(typeParts, "("+args+")")
	}
	col.TypeName = strings.Join(typeParts, " ")

	for {
		p.eatKeyword("CONSTRAINT")
		switch {
		case p.eatKeyword("PRIMARY"):
			if err := p.expectKeyword("KEY"); err != nil {
				return nil, err
			}
			pk := &PKClause{}
			if p.eatKeyword("ASC") {
				pk.Direction = "ASC"
			} else if p.eatKeyword("DESC") {
				pk.Direction = "DESC"
			}
			pk.Conflict = p.parseOnConflict()
			if p.eatKeyword("AUTOINCREMENT") {
				pk.Autoincrement = true
			}
			col.PK = pk
		case p.eatKeyword("NOT"):
			if err := p.expectKeyword("NULL"); err != nil {
				return nil, err
			}
			col.NotNull = &ConflictClause{Conflict: p.parseOnConflict()}
		case p.eatKeyword("NULL"):
			col.NotNull = nil
		case p.eatKeyword("UNIQUE"):
			col.Unique = &ConflictClause{Conflict: p.parseOnConflict()}
		case p.eatKeyword("DEFAULT"):
			col.HasDefault = true
			if p.peek().Kind == Punct && p.peek().Text == "(" {
				expr, err := p.captureBalanced()
				if err != nil {
					return nil, err
				}
				col.Default = "(" + expr + ")"
			} else {
				col.Default = p.captureUntilKeywords("COLLATE", "REFERENCES", "CONSTRAINT",
					"NOT", "NULL", "UNIQUE", "PRIMARY", "CHECK", "GENERATED")
			}
		case p.eatKeyword("COLLATE"):
			n, err := p.name()
			if err != nil {
				return nil, err
			}
			col.Collate = n
		case p.eatKeyword("CHECK"):
			expr, err := p.captureBalanced()
			if err != nil {
				return nil, err
			}
			col.Check = expr
		case p.isKeyword("REFERENCES"):
			fk, err := p.parseForeignKeyClause()
			if err != nil {
				return nil, err
			}
			col.FK = fk
		default:
			return col, nil
		}
	}
}

var columnConstraintKeywords = map[string]bool{
	"CONSTRAINT": true, "PRIMARY": true, "NOT": true, "NULL": true,
	"UNIQUE": true, "DEFAULT": true, "COLLATE": true, "CHECK": true,
	"REFERENCES": true, "GENERATED": true, "AS": true,
}

func (p *Parser) isColumnConstraintKeyword() bool {
	return columnConstraintKeywords[identText(p.peek())]
}

func (p *Parser) parseCreateIndex() (*CreateIndex, error) {
	ci := &CreateIndex{}
	if p.eatKeyword("UNIQUE") {
		ci.Unique = true
	}
	if err := p.expectKeyword("INDEX"); err != nil {
		return nil, err
	}
	ci.IfNotExists = p.parseIfNotExists()
	schema, name, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	ci.Schema, ci.Name = schema, name
	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.name()
	if err != nil {
		return nil, err
	}
	ci.Table = table

	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseIndexColumn()
		if err != nil {
			return nil, err
		}
		ci.Columns = append(ci.Columns, col)
		if p.eatPunct(",") {
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if p.eatKeyword("WHERE") {
		ci.Where = p.restOfStatement()
		p.pos = len(p.toks) - 1
	}
	return ci, nil
}

func (p *Parser) parseIndexColumn() (IndexColumn, error) {
	ic := IndexColumn{}
	// A bare column name vs. an expression: try name, else capture raw
	// expression text up to COLLATE/ASC/DESC/,/).
	save := p.mark()
	if n, err := p.name(); err == nil && (p.peek().Kind == Punct && (p.peek().Text == "," || p.peek().Text == ")") ||
		p.isKeyword("COLLATE") || p.isKeyword("ASC") || p.isKeyword("DESC")) {
		ic.Name = n
	} else {
		p.reset(save)
		ic.Expr = p.captureUntilKeywords("COLLATE", "ASC", "DESC")
	}
	if p.eatKeyword("COLLATE") {
		n, err := p.name()
		if err != nil {
			return ic, err
		}
		ic.Collate = n
	}
	if p.eatKeyword("ASC") {
		ic.Direction = "ASC"
	} else if p.eatKeyword("DESC") {
		ic.Direction = "DESC"
	}
	return ic, nil
}

func (p *Parser) parseCreateTrigger(temporary bool) (*CreateTrigger, error) {
	ct := &CreateTrigger{Temporary: temporary, tableRefs: map[string]bool{}}
	ct.IfNotExists = p.parseIfNotExists()
	schema, name, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	ct.Schema, ct.Name = schema, name

	switch {
	case p.eatKeyword("BEFORE"):
		ct.Upon = "BEFORE"
	case p.eatKeyword("AFTER"):
		ct.Upon = "AFTER"
	case p.eatKeyword("INSTEAD"):
		if err := p.expectKeyword("OF"); err != nil {
			return nil, err
		}
		ct.Upon = "INSTEAD OF"
	}

	switch {
	case p.eatKeyword("DELETE"):
		ct.Action = "DELETE"
	case p.eatKeyword("INSERT"):
		ct.Action = "INSERT"
	case p.eatKeyword("UPDATE"):
		ct.Action = "UPDATE"
		if p.eatKeyword("OF") {
			cols, err := p.parseUnparenColumnNameList()
			if err != nil {
				return nil, err
			}
			ct.Columns = cols
		}
	default:
		return nil, newParseError(p.sql, p.peek().Pos, "expected DELETE, INSERT or UPDATE")
	}

	if err := p.expectKeyword("ON"); err != nil {
		return nil, err
	}
	table, err := p.name()
	if err != nil {
		return nil, err
	}
	ct.Table = table

	if p.eatKeyword("FOR") {
		if err := p.expectKeyword("EACH"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("ROW"); err != nil {
			return nil, err
		}
		ct.ForEachRow = true
	}
	if p.eatKeyword("WHEN") {
		ct.When = p.captureUntilKeywords("BEGIN")
	}
	if err := p.expectKeyword("BEGIN"); err != nil {
		return nil, err
	}
	body, refs := p.captureTriggerBody()
	ct.Body = body
	ct.tableRefs = refs
	return ct, nil
}

// parseUnparenColumnNameList parses `a, b, c` (no surrounding parens), as
// used by `UPDATE OF col, col2`.
func (p *Parser) parseUnparenColumnNameList() ([]string, error) {
	var out []string
	for {
		n, err := p.name()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		if p.eatPunct(",") {
			continue
		}
		break
	}
	return out, nil
}

// captureTriggerBody reads raw text until the matching END keyword,
// tracking nested BEGIN/END pairs, and collects a best-effort set of
// referenced table names (any identifier following FROM/INTO/UPDATE/JOIN),
// excluding the bare pseudo-tables OLD and NEW.
func (p *Parser) captureTriggerBody() (string, map[string]bool) {
	start := p.peek().Pos
	depth := 1
	refs := map[string]bool{}
	for depth > 0 {
		t := p.peek()
		if t.Kind == EOF {
			break
		}
		if t.Kind == Ident {
			switch identText(t) {
			case "BEGIN":
				depth++
			case "END":
				depth--
				if depth == 0 {
					end := t.Pos
					p.advance()
					return strings.TrimSpace(p.sql[start:end]), refs
				}
			case "FROM", "INTO", "JOIN":
				if nt := p.peekAt(1); nt.Kind == Ident {
					name := nt.Text
					if strings.ToUpper(name) != "OLD" && strings.ToUpper(name) != "NEW" {
						refs[name] = true
					}
				}
			case "UPDATE":
				if nt := p.peekAt(1); nt.Kind == Ident && strings.ToUpper(nt.Text) != "OR" {
					refs[nt.Text] = true
				}
			}
		}
		p.advance()
	}
	return strings.TrimSpace(p.sql[start:p.peek().Pos]), refs
}

func (p *Parser) parseCreateView(temporary bool) (*CreateView, error) {
	cv := &CreateView{Temporary: temporary, tableRefs: map[string]bool{}}
	cv.IfNotExists = p.parseIfNotExists()
	schema, name, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	cv.Schema, cv.Name = schema, name
	if p.peek().Kind == Punct && p.peek().Text == "(" {
		cols, err := p.parseColumnNameList()
		if err != nil {
			return nil, err
		}
		cv.Columns = cols
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	start := p.peek().Pos
	refs := map[string]bool{}
	for p.peek().Kind != EOF {
		t := p.peek()
		if t.Kind == Ident {
			switch identText(t) {
			case "FROM", "JOIN", "INTO":
				if nt := p.peekAt(1); nt.Kind == Ident {
					refs[nt.Text] = true
				}
			}
		}
		p.advance()
	}
	cv.Select = strings.TrimSpace(strings.TrimRight(p.sql[start:], " \t\r\n;"))
	cv.tableRefs = refs
	return cv, nil
}

func (p *Parser) parseCreateVirtualTable() (*CreateVirtualTable, error) {
	cvt := &CreateVirtualTable{}
	cvt.IfNotExists = p.parseIfNotExists()
	schema, name, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	cvt.Schema, cvt.Name = schema, name
	if err := p.expectKeyword("USING"); err != nil {
		return nil, err
	}
	mod, err := p.name()
	if err != nil {
		return nil, err
	}
	cvt.Module = mod
	if p.peek().Kind == Punct && p.peek().Text == "(" {
		args, err := p.captureBalanced()
		if err != nil {
			return nil, err
		}
		cvt.Arguments = splitTopLevelArgs(args)
	}
	return cvt, nil
}

// splitTopLevelArgs splits a raw argument list on commas that are not
// nested inside parentheses.
func splitTopLevelArgs(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out
}
