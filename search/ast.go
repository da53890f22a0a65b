// Package search is the Search Compiler: a Google-style query grammar
// ("word", "word OR word", "(grouped words)", quoted phrases, wildcards,
// -negation, and global table:/view:/column:/date: keywords) compiled
// into a parameterized SQL WHERE clause.
package search

import "strings"

// nodeKind distinguishes the AST shapes the compiler produces.
type nodeKind int

const (
	nodeWord nodeKind = iota
	nodePhrase
	nodeGroup // AND- or OR-joined children
	nodeKeyword
)

type node struct {
	kind     nodeKind
	text     string // word/phrase text, or keyword value
	key      string // keyword name ("table", "-column", ...)
	negated  bool
	isOr     bool // for nodeGroup: OR-joined rather than AND-joined
	children []*node
}

// Item describes the table or view a query is compiled against: its name,
// its category ("table" or "view", matched against table:/view: keywords),
// and the columns eligible for free-text and date matching.
type Item struct {
	Name    string
	Type    string
	Columns []Column
}

// Column is the subset of catalog.Column the compiler needs: its name,
// declared type (for date: keyword matching against DATE/DATETIME
// columns) and whether it is part of the primary key (used to order
// results when compiling a full-table query).
type Column struct {
	Name string
	Type string
	PK   int
}

func lowerKey(s string) string { return strings.ToLower(s) }
