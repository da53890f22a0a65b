package parser

import "fmt"

// ParseError is returned for malformed SQL. The parser never returns a
// partial AST alongside an error.
type ParseError struct {
	SQL string
	Pos int
	Msg string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at %s: %s", Position(e.SQL, e.Pos), e.Msg)
}

func newParseError(sql string, pos int, format string, args ...any) *ParseError {
	return &ParseError{SQL: sql, Pos: pos, Msg: fmt.Sprintf(format, args...)}
}
