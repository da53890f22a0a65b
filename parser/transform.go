package parser

import "strings"

// Rename describes how to rename the items of one category. Either All is
// set (every name of this category held in the statement's own fields is
// renamed to All — its own name and, for "table", FK targets and an index's
// or trigger's table — matching spec's `{category: newname}` form; names
// inside a trigger body or view SELECT are left unchanged) or Map holds a
// selective lowercased-old -> new mapping, matching `{category: {old: new}}`.
type Rename struct {
	All string
	Map map[string]string
}

func (r Rename) lookup(oldName string) (string, bool) {
	if r.All != "" {
		return r.All, true
	}
	if r.Map != nil {
		if nn, ok := r.Map[strings.ToLower(oldName)]; ok {
			return nn, true
		}
	}
	return "", false
}

// Renames is keyed by category: "table", "index", "trigger", "view", and
// the pseudo-category "schema" which rewrites only the top-level schema
// qualifier, never occurrences elsewhere.
type Renames map[string]Rename

// Transform parses sql, applies renames and flags, and regenerates SQL. On
// any failure the caller should keep the original string; Transform never
// returns a partial result alongside an error.
func Transform(sql string, renames Renames, flags map[string]bool, indent string) (string, error) {
	stmt, err := Parse(sql, "")
	if err != nil {
		return "", err
	}
	applyRenames(stmt, renames)
	applyFlags(stmt, flags)
	return Generate(stmt, indent)
}

func applyFlags(stmt Statement, flags map[string]bool) {
	if len(flags) == 0 {
		return
	}
	set := func(want string, set func(bool)) {
		if v, ok := flags[want]; ok {
			set(v)
		}
	}
	switch s := stmt.(type) {
	case *CreateTable:
		set("exists", func(v bool) { s.IfNotExists = v })
		set("temporary", func(v bool) { s.Temporary = v })
		set("without", func(v bool) { s.WithoutRowid = v })
	case *CreateIndex:
		set("exists", func(v bool) { s.IfNotExists = v })
		set("unique", func(v bool) { s.Unique = v })
	case *CreateTrigger:
		set("exists", func(v bool) { s.IfNotExists = v })
		set("temporary", func(v bool) { s.Temporary = v })
	case *CreateView:
		set("exists", func(v bool) { s.IfNotExists = v })
		set("temporary", func(v bool) { s.Temporary = v })
	case *CreateVirtualTable:
		set("exists", func(v bool) { s.IfNotExists = v })
	}
}

func applyRenames(stmt Statement, renames Renames) {
	if len(renames) == 0 {
		return
	}
	if sr, ok := renames["schema"]; ok {
		renameSchema(stmt, sr)
	}

	switch s := stmt.(type) {
	case *CreateTable:
		oldName := s.Name
		if nn, ok := lookupFor(renames, "table", oldName); ok {
			s.Name = nn
		}
		for _, c := range s.Columns {
			if c.FK != nil {
				if nn, ok := lookupFor(renames, "table", c.FK.Table); ok {
					c.FK.Table = nn
				}
			}
		}
		for _, c := range s.Constraints {
			if c.FK != nil {
				if nn, ok := lookupFor(renames, "table", c.FK.Table); ok {
					c.FK.Table = nn
					c.Table = nn
				}
			}
		}
	case *CreateIndex:
		if nn, ok := lookupFor(renames, "index", s.Name); ok {
			s.Name = nn
		}
		if nn, ok := lookupFor(renames, "table", s.Table); ok {
			s.Table = nn
		}
	case *CreateTrigger:
		if nn, ok := lookupFor(renames, "trigger", s.Name); ok {
			s.Name = nn
		}
		oldTable := s.Table
		if nn, ok := lookupFor(renames, "table", oldTable); ok {
			s.Table = nn
			s.Body = renameIdentifiersExceptOldNew(s.Body, oldTable, nn)
		}
		if r, ok := renames["view"]; ok {
			s.Body = renameAllTableRefs(s.Body, r)
		}
		if r, ok := renames["table"]; ok {
			s.Body = renameAllTableRefs(s.Body, r)
		}
	case *CreateView:
		oldName := s.Name
		if nn, ok := lookupFor(renames, "view", oldName); ok {
			s.Name = nn
		}
		if r, ok := renames["table"]; ok {
			s.Select = renameAllTableRefs(s.Select, r)
		}
		if r, ok := renames["view"]; ok {
			s.Select = renameAllTableRefs(s.Select, r)
		}
	case *CreateVirtualTable:
		if nn, ok := lookupFor(renames, "table", s.Name); ok {
			s.Name = nn
		}
	}
}

func lookupFor(renames Renames, category, name string) (string, bool) {
	r, ok := renames[category]
	if !ok {
		return "", false
	}
	return r.lookup(name)
}

func renameSchema(stmt Statement, r Rename) {
	nn, ok := r.lookup("")
	if !ok || nn == "" {
		return
	}
	switch s := stmt.(type) {
	case *CreateTable:
		s.Schema = nn
	case *CreateIndex:
		s.Schema = nn
	case *CreateTrigger:
		s.Schema = nn
	case *CreateView:
		s.Schema = nn
	case *CreateVirtualTable:
		s.Schema = nn
	}
}

// renameIdentifiersExceptOldNew replaces bare identifiers matching oldName
// (case-insensitive) with newName in text, never touching the trigger
// pseudo-tables OLD and NEW even if oldName happens to collide with them.
func renameIdentifiersExceptOldNew(text, oldName, newName string) string {
	if strings.EqualFold(oldName, "OLD") || strings.EqualFold(oldName, "NEW") {
		return text
	}
	return renameIdentifiers(text, map[string]string{strings.ToLower(oldName): newName})
}

// renameAllTableRefs applies a selective (Map) rename to every identifier
// occurrence in text, skipping OLD/NEW. A blanket (All) rename leaves text
// unchanged.
func renameAllTableRefs(text string, r Rename) string {
	if r.All != "" {
		// Blanket rename only makes sense against a known old name; callers
		// that want this should use the selective Map form instead.
		return text
	}
	mapping := map[string]string{}
	for k, v := range r.Map {
		if strings.EqualFold(k, "OLD") || strings.EqualFold(k, "NEW") {
			continue
		}
		mapping[k] = v
	}
	return renameIdentifiers(text, mapping)
}

// renameIdentifiers tokenizes text and replaces any Ident token whose
// lowercased text is a key of mapping, skipping OLD/NEW pseudo-tables.
func renameIdentifiers(text string, mapping map[string]string) string {
	if len(mapping) == 0 {
		return text
	}
	tz := NewTokenizer(text)
	var sb strings.Builder
	last := 0
	for {
		t := tz.Next()
		if t.Kind == EOF {
			sb.WriteString(text[last:])
			break
		}
		if t.Kind == Ident {
			lower := strings.ToLower(t.Text)
			if lower == "old" || lower == "new" {
				continue
			}
			if nn, ok := mapping[lower]; ok {
				sb.WriteString(text[last:t.Pos])
				sb.WriteString(nn)
				last = t.Pos + len(t.Text)
			}
		}
	}
	return sb.String()
}
