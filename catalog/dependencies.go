package catalog

import "github.com/suurjaak/sqlitely-go/parser"

// edge direction: Owns records a strict containment relationship (a table
// owns its indexes and the triggers defined on it; a view owns the
// triggers defined on it). Refs records a data dependency extracted from
// the statement's own Tables() (a view's FROM/JOIN targets, a trigger's
// body references, a table's foreign keys) and is always followed in both
// directions when walking the data-dependency closure, since "what uses
// me" and "what I use" are both needed to decide what must be locked
// together during a rebuild.
type edgeKind int

const (
	edgeOwns edgeKind = iota
	edgeRefs
)

type edge struct {
	from, to itemKey
	kind     edgeKind
}

func (c *Catalog) buildEdges() []edge {
	var edges []edge
	for k, it := range c.items {
		switch it.Category {
		case Index:
			if it.Meta != nil {
				for t := range it.Meta.Tables() {
					edges = append(edges, edge{from: keyOf(Table, t), to: k, kind: edgeOwns})
				}
			}
		case Trigger:
			tg, _ := it.Meta.(*parser.CreateTrigger)
			if tg != nil {
				owner := keyOf(Table, tg.Table)
				if c.items[owner] == nil {
					owner = keyOf(View, tg.Table)
				}
				edges = append(edges, edge{from: owner, to: k, kind: edgeOwns})
			}
			if it.Meta != nil {
				for t := range it.Meta.Tables() {
					if tg != nil && equalFold(t, tg.Table) {
						continue
					}
					edges = append(edges, edge{from: k, to: keyOf(Table, t), kind: edgeRefs})
					edges = append(edges, edge{from: k, to: keyOf(View, t), kind: edgeRefs})
				}
			}
		case View:
			if it.Meta != nil {
				for t := range it.Meta.Tables() {
					edges = append(edges, edge{from: k, to: keyOf(Table, t), kind: edgeRefs})
					edges = append(edges, edge{from: k, to: keyOf(View, t), kind: edgeRefs})
				}
			}
		case Table:
			ct, _ := it.Meta.(*parser.CreateTable)
			if ct != nil {
				for t := range ct.Tables() {
					if equalFold(t, ct.Name) {
						continue
					}
					edges = append(edges, edge{from: k, to: keyOf(Table, t), kind: edgeRefs})
				}
			}
		}
	}
	return edges
}

func equalFold(a, b string) bool {
	return keyOf("", a) == keyOf("", b)
}

// GetRelated returns the items related to category/name. With own true it
// returns the direct ownership set: the item's owner (if any) plus the
// items it owns (a table's indexes and triggers, a view's triggers). With
// own false it returns the transitive closure of data dependencies (refs
// edges, followed in both directions); data is kept as a distinct named
// parameter for parity with catalog.Populate's parse/count flags but does
// not change the traversal: the same closure is returned whether data is
// true or false.
func (c *Catalog) GetRelated(category, name string, own, data bool) []*Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := keyOf(category, name)
	if _, ok := c.items[start]; !ok {
		return nil
	}
	edges := c.buildEdges()

	if own {
		var out []*Item
		seen := map[itemKey]bool{}
		add := func(k itemKey) {
			if seen[k] {
				return
			}
			if it, ok := c.items[k]; ok {
				seen[k] = true
				out = append(out, cloneItem(it))
			}
		}
		for _, e := range edges {
			if e.kind != edgeOwns {
				continue
			}
			if e.from == start {
				add(e.to)
			}
			if e.to == start {
				add(e.from)
			}
		}
		return out
	}

	visited := map[itemKey]bool{start: true}
	queue := []itemKey{start}
	var out []*Item
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for _, e := range edges {
			if e.kind != edgeRefs {
				continue
			}
			var other itemKey
			switch {
			case e.from == k:
				other = e.to
			case e.to == k:
				other = e.from
			default:
				continue
			}
			if visited[other] {
				continue
			}
			if _, ok := c.items[other]; !ok {
				continue
			}
			visited[other] = true
			queue = append(queue, other)
			out = append(out, cloneItem(c.items[other]))
		}
	}
	return out
}

// GetColumnDependents returns the triggers and views whose body text
// references any of the given columns of table, found by substituting each
// column name with a unique placeholder identifier and checking whether
// the dependent's stored text actually changes. A trigger with an `UPDATE
// OF col, ...` column list is reported only when every one of its listed
// columns is present in the input set, matching how SQLite itself decides
// whether such a trigger fires for a given UPDATE.
func (c *Catalog) GetColumnDependents(category, name string, columns []string) []*Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(columns) == 0 {
		return nil
	}
	mapping := map[string]string{}
	for i, col := range columns {
		mapping[keyOf("", col).name] = placeholderName(i)
	}

	var out []*Item
	for _, it := range c.items {
		switch it.Category {
		case Trigger:
			tg, _ := it.Meta.(*parser.CreateTrigger)
			if tg == nil || !hasTable(tg.Tables(), name) {
				continue
			}
			if equalFold(tg.Table, name) && len(tg.Columns) > 0 {
				if !everyColumnIn(tg.Columns, columns) {
					continue
				}
				out = append(out, cloneItem(it))
				continue
			}
			if replaceIdentifiers(tg.Body, mapping) != tg.Body || replaceIdentifiers(tg.When, mapping) != tg.When {
				out = append(out, cloneItem(it))
			}
		case View:
			vw, _ := it.Meta.(*parser.CreateView)
			if vw == nil {
				continue
			}
			if !hasTable(vw.Tables(), name) {
				continue
			}
			if replaceIdentifiers(vw.Select, mapping) != vw.Select {
				out = append(out, cloneItem(it))
			}
		}
	}
	return out
}

func hasTable(tables map[string]bool, name string) bool {
	for t := range tables {
		if equalFold(t, name) {
			return true
		}
	}
	return false
}

func lowerOf(s string) string { return keyOf("", s).name }

func everyColumnIn(list, set []string) bool {
	have := map[string]bool{}
	for _, c := range set {
		have[keyOf("", c).name] = true
	}
	for _, c := range list {
		if !have[keyOf("", c).name] {
			return false
		}
	}
	return true
}

func placeholderName(i int) string {
	const digits = "0123456789abcdef"
	b := []byte{'_', '_', 'c', 'o', 'l', digits[i%16], '_', '_'}
	return string(b)
}

// replaceIdentifiers is catalog's own tokenize-and-replace pass, distinct
// from parser's internal renaming so that column-level (not
// table/view/index/trigger) renaming stays out of the public rename API.
func replaceIdentifiers(text string, mapping map[string]string) string {
	if text == "" || len(mapping) == 0 {
		return text
	}
	tz := parser.NewTokenizer(text)
	out := make([]byte, 0, len(text))
	last := 0
	for {
		t := tz.Next()
		if t.Kind == parser.EOF {
			out = append(out, text[last:]...)
			break
		}
		if t.Kind == parser.Ident {
			lower := keyOf("", t.Text).name
			if lower == "old" || lower == "new" {
				continue
			}
			if nn, ok := mapping[lower]; ok {
				out = append(out, text[last:t.Pos]...)
				out = append(out, nn...)
				last = t.Pos + len(t.Text)
			}
		}
	}
	return string(out)
}
