// Package alter is the Alter Planner: given a table's current definition
// and the definition a caller wants it to have, it decides whether the
// change can be expressed as a handful of `ALTER TABLE` statements or
// requires the full create-copy-drop-rename rebuild SQLite needs for
// anything its own ALTER TABLE can't do directly, and emits the SQL
// either way.
package alter

import (
	"strings"

	"github.com/suurjaak/sqlitely-go/catalog"
	"github.com/suurjaak/sqlitely-go/parser"
)

// Capabilities gates which simple ALTER forms are available, mirroring
// database.DB's SQLite-version probes as plain flags so that Decide does
// not need a live database.DB to plan a change.
type Capabilities struct {
	RenameColumn     bool
	DropColumn       bool
	CascadingRename  bool
}

// TableChange describes the edit a caller wants applied to Old, producing
// New. ColumnRenames maps an old column's lowercased name to its new name
// for columns that are being renamed rather than dropped-and-re-added;
// without an entry there, a name present only in Old is a drop and a name
// present only in New is an add.
type TableChange struct {
	Old, New      *parser.CreateTable
	ColumnRenames map[string]string
}

// Kind distinguishes the planner's strategies: Simple/Complex rebuild a
// table's own definition; RenameIndex/RenameTrigger/RenameView are the
// bespoke drop-and-recreate path for renaming a standalone schema item with
// no other change; MasterPatch is the direct sqlite_master rewrite used
// instead of RenameIndex/RenameTrigger/RenameView when the runtime would
// force-quote the new name even though it doesn't need quoting.
type Kind int

const (
	Simple Kind = iota
	Complex
	RenameIndex
	RenameTrigger
	RenameView
	MasterPatch
)

func (k Kind) String() string {
	switch k {
	case Simple:
		return "simple"
	case Complex:
		return "complex"
	case RenameIndex:
		return "rename-index"
	case RenameTrigger:
		return "rename-trigger"
	case RenameView:
		return "rename-view"
	case MasterPatch:
		return "master-patch"
	default:
		return "unknown"
	}
}

// columnOp is one atomic column-level change discovered by diffing
// Old against New.
type columnOp struct {
	op         string // "add", "drop", "rename", "retype", "unchanged"
	oldCol     *parser.Column
	newCol     *parser.Column
	oldName    string
	newName    string
}

// Plan is the result of Decide (or DecideRename): the chosen strategy plus
// enough context for Build to emit SQL for it.
type Plan struct {
	Kind    Kind
	Reasons []string // why Complex was chosen; empty for Simple
	Change  TableChange
	ColumnOps []columnOp
	NameChanged bool

	// Rename-only plans (RenameIndex, RenameTrigger, RenameView,
	// MasterPatch): the schema item being renamed, identified independently
	// of TableChange since it isn't a table rebuild.
	RenameCategory string
	RenameOld      string
	RenameNew      string
}

// DecideRename plans the bespoke rename-only path for a standalone index,
// trigger, or view (category must be catalog.Index/Trigger/View): SQLite has
// no `ALTER INDEX/TRIGGER/VIEW ... RENAME`, so the item is dropped and
// recreated from its own stored SQL with the name substituted. When
// forceQuoted is true — the runtime would force-quote newName even though it
// doesn't need quoting, a known quirk of some SQLite builds — the plan is
// routed to MasterPatch, which rewrites the item's sqlite_master row
// directly instead of emitting DROP+CREATE.
func DecideRename(category, oldName, newName string, forceQuoted bool) *Plan {
	p := &Plan{RenameCategory: category, RenameOld: oldName, RenameNew: newName}
	if forceQuoted {
		p.Kind = MasterPatch
		return p
	}
	switch category {
	case catalog.Index:
		p.Kind = RenameIndex
	case catalog.Trigger:
		p.Kind = RenameTrigger
	case catalog.View:
		p.Kind = RenameView
	}
	return p
}

// Decide diffs change.Old against change.New and picks Simple or Complex.
func Decide(change TableChange, caps Capabilities) *Plan {
	p := &Plan{Change: change}
	p.ColumnOps = diffColumns(change)
	p.NameChanged = !strings.EqualFold(change.Old.Name, change.New.Name)

	if p.NameChanged && !caps.CascadingRename {
		p.Reasons = append(p.Reasons, "renaming table requires cascading rename support to keep dependents valid")
	}
	if !sameTableConstraints(change.Old, change.New) {
		p.Reasons = append(p.Reasons, "table-level constraints changed")
	}
	if change.Old.WithoutRowid != change.New.WithoutRowid {
		p.Reasons = append(p.Reasons, "WITHOUT ROWID changed")
	}

	for _, op := range p.ColumnOps {
		switch op.op {
		case "add":
			if reason := whyAddIsComplex(op.newCol); reason != "" {
				p.Reasons = append(p.Reasons, reason)
			}
		case "drop":
			if !caps.DropColumn {
				p.Reasons = append(p.Reasons, "DROP COLUMN not supported by this SQLite version")
			} else if reason := whyDropIsComplex(change.Old, op.oldCol); reason != "" {
				p.Reasons = append(p.Reasons, reason)
			}
		case "rename":
			if !caps.RenameColumn {
				p.Reasons = append(p.Reasons, "RENAME COLUMN not supported by this SQLite version")
			}
		case "retype":
			p.Reasons = append(p.Reasons, "column \""+op.oldName+"\" changed type or constraints")
		}
	}

	if len(p.Reasons) == 0 {
		p.Kind = Simple
	} else {
		p.Kind = Complex
	}
	return p
}

func diffColumns(change TableChange) []columnOp {
	oldByName := map[string]*parser.Column{}
	for _, c := range change.Old.Columns {
		oldByName[lower(c.Name)] = c
	}
	newByName := map[string]*parser.Column{}
	for _, c := range change.New.Columns {
		newByName[lower(c.Name)] = c
	}

	var ops []columnOp
	handledOld := map[string]bool{}
	handledNew := map[string]bool{}

	for oldLower, newName := range change.ColumnRenames {
		oc, ok1 := oldByName[oldLower]
		nc, ok2 := newByName[lower(newName)]
		if !ok1 || !ok2 {
			continue
		}
		handledOld[oldLower] = true
		handledNew[lower(newName)] = true
		op := "rename"
		if !sameColumnDef(oc, nc, true) {
			op = "retype"
		}
		ops = append(ops, columnOp{op: op, oldCol: oc, newCol: nc, oldName: oc.Name, newName: nc.Name})
	}

	for _, c := range change.Old.Columns {
		k := lower(c.Name)
		if handledOld[k] {
			continue
		}
		if nc, ok := newByName[k]; ok {
			handledNew[k] = true
			op := "unchanged"
			if !sameColumnDef(c, nc, false) {
				op = "retype"
			}
			ops = append(ops, columnOp{op: op, oldCol: c, newCol: nc, oldName: c.Name, newName: nc.Name})
		} else {
			ops = append(ops, columnOp{op: "drop", oldCol: c, oldName: c.Name})
		}
	}
	for _, c := range change.New.Columns {
		k := lower(c.Name)
		if handledNew[k] {
			continue
		}
		ops = append(ops, columnOp{op: "add", newCol: c, newName: c.Name})
	}
	return ops
}

func lower(s string) string { return strings.ToLower(s) }

// sameColumnDef reports whether two column definitions are equivalent
// apart from name. Names are never compared, whatever ignoreName says; the
// parameter only marks at call sites whether a rename is being compared.
func sameColumnDef(a, b *parser.Column, ignoreName bool) bool {
	_ = ignoreName
	if !strings.EqualFold(strings.TrimSpace(a.TypeName), strings.TrimSpace(b.TypeName)) {
		return false
	}
	if (a.PK == nil) != (b.PK == nil) {
		return false
	}
	if (a.NotNull == nil) != (b.NotNull == nil) {
		return false
	}
	if (a.Unique == nil) != (b.Unique == nil) {
		return false
	}
	if a.HasDefault != b.HasDefault || strings.TrimSpace(a.Default) != strings.TrimSpace(b.Default) {
		return false
	}
	if !strings.EqualFold(a.Collate, b.Collate) {
		return false
	}
	if strings.TrimSpace(a.Check) != strings.TrimSpace(b.Check) {
		return false
	}
	if (a.FK == nil) != (b.FK == nil) {
		return false
	}
	return true
}

func sameTableConstraints(a, b *parser.CreateTable) bool {
	if len(a.Constraints) != len(b.Constraints) {
		return false
	}
	for i := range a.Constraints {
		ca, cb := a.Constraints[i], b.Constraints[i]
		if ca.Type != cb.Type || len(ca.Columns) != len(cb.Columns) {
			return false
		}
		for j := range ca.Columns {
			if !strings.EqualFold(ca.Columns[j].Name, cb.Columns[j].Name) {
				return false
			}
		}
	}
	return true
}

// whyAddIsComplex reports why a column can't be added with a simple
// `ALTER TABLE ... ADD COLUMN`, or "" if it can: SQLite refuses ADD COLUMN
// for a PRIMARY KEY or UNIQUE column, and requires a constant (or NULL)
// default whenever the column is NOT NULL.
func whyAddIsComplex(c *parser.Column) string {
	if c.PK != nil {
		return "added column \"" + c.Name + "\" is a PRIMARY KEY"
	}
	if c.Unique != nil {
		return "added column \"" + c.Name + "\" has a UNIQUE constraint"
	}
	if c.NotNull != nil && !c.HasDefault {
		return "added column \"" + c.Name + "\" is NOT NULL without a default"
	}
	if c.HasDefault && looksLikeExpression(c.Default) {
		return "added column \"" + c.Name + "\" has a non-constant default"
	}
	return ""
}

func looksLikeExpression(def string) bool {
	d := strings.ToUpper(strings.TrimSpace(def))
	if d == "NULL" || d == "" {
		return false
	}
	if strings.Contains(d, "(") {
		return true
	}
	if strings.Contains(d, "CURRENT_TIME") || strings.Contains(d, "CURRENT_DATE") {
		return true
	}
	return false
}

// whyDropIsComplex reports why a column can't be dropped with a simple
// `ALTER TABLE ... DROP COLUMN`, or "" if it can.
func whyDropIsComplex(t *parser.CreateTable, c *parser.Column) string {
	if c.PK != nil {
		return "dropped column \"" + c.Name + "\" is part of the PRIMARY KEY"
	}
	if c.Unique != nil {
		return "dropped column \"" + c.Name + "\" has a UNIQUE constraint"
	}
	if c.FK != nil {
		return "dropped column \"" + c.Name + "\" has a FOREIGN KEY"
	}
	for _, tc := range t.Constraints {
		for _, cc := range tc.Columns {
			if strings.EqualFold(cc.Name, c.Name) {
				return "dropped column \"" + c.Name + "\" is referenced by a table constraint"
			}
		}
	}
	return ""
}

// Related returns the table's owned indexes and triggers, which any
// Complex rebuild must recreate after the table itself is rebuilt.
func Related(cat *catalog.Catalog, tableName string) []*catalog.Item {
	return cat.GetRelated(catalog.Table, tableName, true, false)
}
