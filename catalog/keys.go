package catalog

import "github.com/suurjaak/sqlitely-go/parser"

// Key describes one key tuple: the columns it spans (in the table the Key
// belongs to) and, for a foreign key, the table and columns it points at.
// A Key with no ForeignTable is a bare primary key.
type Key struct {
	Columns        []string
	ForeignTable   string
	ForeignColumns []string
}

// GetKeys returns table's local keys (its own primary key, plus, unless
// pksOnly, every column tuple that some other table's foreign key points
// at) and its foreign keys (the FKs table itself declares, pointing out at
// other tables).
func (c *Catalog) GetKeys(table string, pksOnly bool) (local, foreign []Key) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it := c.items[keyOf(Table, table)]
	if it == nil {
		return nil, nil
	}
	ct, _ := it.Meta.(*parser.CreateTable)
	if ct == nil {
		return nil, nil
	}

	if pk := tablePrimaryKey(ct); len(pk) > 0 {
		local = append(local, Key{Columns: pk})
	}

	for _, col := range ct.Columns {
		if col.FK != nil {
			foreign = append(foreign, Key{Columns: []string{col.Name}, ForeignTable: col.FK.Table, ForeignColumns: col.FK.Key})
		}
	}
	for _, tc := range ct.Constraints {
		if tc.Type == "FOREIGN KEY" && tc.FK != nil {
			cols := make([]string, len(tc.Columns))
			for i, cc := range tc.Columns {
				cols[i] = cc.Name
			}
			foreign = append(foreign, Key{Columns: cols, ForeignTable: tc.FK.Table, ForeignColumns: tc.FK.Key})
		}
	}

	if !pksOnly {
		for _, other := range c.items {
			if other.Category != Table || equalFold(other.Name, table) {
				continue
			}
			oct, _ := other.Meta.(*parser.CreateTable)
			if oct == nil {
				continue
			}
			for _, k := range collectForeignKeysInto(oct, table) {
				local = append(local, k)
			}
		}
	}
	return local, foreign
}

func collectForeignKeysInto(oct *parser.CreateTable, targetTable string) []Key {
	var out []Key
	for _, col := range oct.Columns {
		if col.FK != nil && equalFold(col.FK.Table, targetTable) {
			out = append(out, Key{Columns: col.FK.Key, ForeignTable: oct.Name, ForeignColumns: []string{col.Name}})
		}
	}
	for _, tc := range oct.Constraints {
		if tc.Type == "FOREIGN KEY" && tc.FK != nil && equalFold(tc.FK.Table, targetTable) {
			cols := make([]string, len(tc.Columns))
			for i, cc := range tc.Columns {
				cols[i] = cc.Name
			}
			out = append(out, Key{Columns: tc.FK.Key, ForeignTable: oct.Name, ForeignColumns: cols})
		}
	}
	return out
}

func tablePrimaryKey(ct *parser.CreateTable) []string {
	for _, col := range ct.Columns {
		if col.PK != nil {
			return []string{col.Name}
		}
	}
	for _, tc := range ct.Constraints {
		if tc.Type == "PRIMARY KEY" {
			cols := make([]string, len(tc.Columns))
			for i, cc := range tc.Columns {
				cols[i] = cc.Name
			}
			return cols
		}
	}
	return nil
}

// GetRowid returns the column name usable as a rowid alias for table
// ("rowid", "_rowid_" or "oid", whichever of those is not itself shadowed
// by a user-declared column), or "" if the table is declared WITHOUT
// ROWID, in which case none of the three aliases work.
func (c *Catalog) GetRowid(table string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it := c.items[keyOf(Table, table)]
	if it == nil {
		return "", false
	}
	ct, _ := it.Meta.(*parser.CreateTable)
	if ct == nil || ct.WithoutRowid {
		return "", false
	}
	used := map[string]bool{}
	for _, col := range ct.Columns {
		used[keyOf("", col.Name).name] = true
	}
	for _, alias := range []string{"rowid", "_rowid_", "oid"} {
		if !used[alias] {
			return alias, true
		}
	}
	return "", false
}
