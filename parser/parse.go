package parser

import (
	"strings"
)

// Parser parses a single SQL statement into a Statement. It is not
// goroutine-safe; Parse constructs a new Parser for every call.
type Parser struct {
	sql     string
	tz      *Tokenizer
	toks    []Token // lookahead buffer, comments filtered out of it
	pos     int
	comments []string // comment text encountered, in source order
}

// Parse parses sql (a single statement, the trailing `;` optional) and
// returns its AST. category, if non-empty, asserts the statement's
// top-level category ("table", "index", "trigger", "view") and is
// otherwise ignored. Malformed input never returns a partial Statement.
//
// Any comment block immediately before or after the statement's own text is
// split off first via SplitMarginComments and stashed on the returned
// Statement (LeadingComment/TrailingComment), so Generate can restore it.
func Parse(sql string, category string) (Statement, error) {
	body, margin := SplitMarginComments(sql)
	p := newParser(body)
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if category != "" && categoryOf(stmt) != category {
		return nil, newParseError(body, 0, "expected category %q, got %q", category, categoryOf(stmt))
	}
	margin.Leading = strings.TrimSpace(margin.Leading)
	margin.Trailing = strings.TrimSpace(margin.Trailing)
	setMargin(stmt, margin)
	return stmt, nil
}

func setMargin(stmt Statement, margin MarginComments) {
	switch s := stmt.(type) {
	case *CreateTable:
		s.margin = margin
	case *CreateIndex:
		s.margin = margin
	case *CreateTrigger:
		s.margin = margin
	case *CreateView:
		s.margin = margin
	case *CreateVirtualTable:
		s.margin = margin
	}
}

func categoryOf(s Statement) string {
	switch s.(type) {
	case *CreateTable, *CreateVirtualTable:
		return CategoryTable
	case *CreateIndex:
		return CategoryIndex
	case *CreateTrigger:
		return CategoryTrigger
	case *CreateView:
		return CategoryView
	}
	return ""
}

func newParser(sql string) *Parser {
	p := &Parser{sql: sql, tz: NewTokenizer(sql)}
	p.fill()
	return p
}

// fill tokenizes the entire input up front; DDL statements are short enough
// that this is simpler and safer than incremental lookahead, and it lets us
// do trivial backtracking (save/restore pos) during parsing.
func (p *Parser) fill() {
	for {
		t := p.tz.Next()
		if t.Kind == BlockComment || t.Kind == LineComment {
			p.comments = append(p.comments, t.Text)
			continue
		}
		p.toks = append(p.toks, t)
		if t.Kind == EOF {
			break
		}
	}
}

func (p *Parser) peek() Token  { return p.toks[p.pos] }
func (p *Parser) peekAt(n int) Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}
func (p *Parser) advance() Token { t := p.toks[p.pos]; if p.pos < len(p.toks)-1 { p.pos++ }; return t }
func (p *Parser) mark() int      { return p.pos }
func (p *Parser) reset(m int)    { p.pos = m }

// identText returns the token's text, uppercased, for Ident tokens; used to
// match reserved words case-insensitively.
func identText(t Token) string { return strings.ToUpper(t.Text) }

func (p *Parser) isKeyword(kw string) bool {
	t := p.peek()
	return t.Kind == Ident && identText(t) == kw
}

func (p *Parser) eatKeyword(kw string) bool {
	if p.isKeyword(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.eatKeyword(kw) {
		return newParseError(p.sql, p.peek().Pos, "expected %q, got %q", kw, p.peek().Text)
	}
	return nil
}

func (p *Parser) eatPunct(s string) bool {
	t := p.peek()
	if t.Kind == Punct && t.Text == s {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectPunct(s string) error {
	if !p.eatPunct(s) {
		return newParseError(p.sql, p.peek().Pos, "expected %q, got %q", s, p.peek().Text)
	}
	return nil
}

// name parses a single (possibly quoted) identifier and returns its
// unquoted value.
func (p *Parser) name() (string, error) {
	t := p.peek()
	if t.Kind != Ident && t.Kind != QuotedIdent && t.Kind != StringLit {
		return "", newParseError(p.sql, t.Pos, "expected identifier, got %q", t.Text)
	}
	p.advance()
	if t.Kind == Ident {
		return t.Text, nil
	}
	return t.Value, nil
}

// qualifiedName parses `[schema.]name` and returns (schema, name).
func (p *Parser) qualifiedName() (schema, name string, err error) {
	first, err := p.name()
	if err != nil {
		return "", "", err
	}
	if p.eatPunct(".") {
		second, err := p.name()
		if err != nil {
			return "", "", err
		}
		return first, second, nil
	}
	return "", first, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	if !p.eatKeyword("CREATE") {
		return nil, newParseError(p.sql, p.peek().Pos, "expected CREATE, got %q", p.peek().Text)
	}
	temporary := p.eatKeyword("TEMP") || p.eatKeyword("TEMPORARY")

	switch {
	case p.eatKeyword("TABLE"):
		return p.parseCreateTable(temporary)
	case p.isKeyword("UNIQUE") || p.isKeyword("INDEX"):
		if temporary {
			return nil, newParseError(p.sql, p.peek().Pos, "TEMP is not valid before INDEX")
		}
		return p.parseCreateIndex()
	case p.eatKeyword("TRIGGER"):
		return p.parseCreateTrigger(temporary)
	case p.eatKeyword("VIEW"):
		return p.parseCreateView(temporary)
	case p.eatKeyword("VIRTUAL"):
		if temporary {
			return nil, newParseError(p.sql, p.peek().Pos, "TEMP is not valid before VIRTUAL TABLE")
		}
		if err := p.expectKeyword("TABLE"); err != nil {
			return nil, err
		}
		return p.parseCreateVirtualTable()
	default:
		return nil, newParseError(p.sql, p.peek().Pos, "unsupported CREATE statement: %q", p.peek().Text)
	}
}

func (p *Parser) parseIfNotExists() bool {
	if p.eatKeyword("IF") {
		_ = p.expectKeyword("NOT")
		_ = p.expectKeyword("EXISTS")
		return true
	}
	return false
}

// restOfStatement returns the raw remaining source text up to (but not
// including) a trailing `;`, trimmed. Used to capture opaque blobs like
// trigger bodies, view SELECTs, CHECK expressions and WHERE clauses that
// spec.md compares only for structural equality ignoring whitespace.
func (p *Parser) restOfStatement() string {
	start := p.peek().Pos
	text := p.sql[start:]
	text = strings.TrimRight(text, " \t\r\n;")
	return strings.TrimSpace(text)
}

// captureBalanced reads tokens until the parens opened by the next `(` are
// closed again, returning the raw source text between (and including) the
// parens' contents, not including the parens themselves. Assumes the next
// token is `(`.
func (p *Parser) captureBalanced() (string, error) {
	if err := p.expectPunct("("); err != nil {
		return "", err
	}
	start := p.peek().Pos
	depth := 1
	for depth > 0 {
		t := p.peek()
		if t.Kind == EOF {
			return "", newParseError(p.sql, t.Pos, "unterminated parenthesis")
		}
		if t.Kind == Punct && t.Text == "(" {
			depth++
		} else if t.Kind == Punct && t.Text == ")" {
			depth--
			if depth == 0 {
				end := t.Pos
				p.advance()
				return strings.TrimSpace(p.sql[start:end]), nil
			}
		}
		p.advance()
	}
	return "", nil
}

// captureUntilKeywords reads raw text up to (not including) the next
// occurrence of any of the given top-level keywords, or EOF. Used to grab
// expressions like DEFAULT/CHECK bodies without parsing them.
func (p *Parser) captureUntilKeywords(kws ...string) string {
	start := p.peek().Pos
	depth := 0
	for {
		t := p.peek()
		if t.Kind == EOF {
			break
		}
		if t.Kind == Punct && t.Text == "(" {
			depth++
		} else if t.Kind == Punct && t.Text == ")" {
			if depth == 0 {
				break
			}
			depth--
		} else if t.Kind == Punct && t.Text == "," && depth == 0 {
			break
		} else if depth == 0 && t.Kind == Ident {
			for _, kw := range kws {
				if identText(t) == kw {
					goto done
				}
			}
		}
		p.advance()
	}
done:
	return strings.TrimSpace(p.sql[start:p.peek().Pos])
}
