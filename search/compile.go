package search

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/suurjaak/sqlitely-go/parser"
)

const escapeChar = `\`

// Result is everything Compile produces: a boolean SQL expression ready to
// drop into a WHERE clause (empty if the query matched nothing explicit),
// its named parameters, every non-negated plain word and quoted phrase
// encountered (for highlighting), and the keyword map ("table", "view", "column",
// "date", each possibly negated with a "-" prefix).
type Result struct {
	SQL      string
	Params   map[string]any
	Words    []string
	Keywords map[string][]string
	// Skip is true when item is non-nil and a table:/view: keyword
	// excludes it from the search entirely.
	Skip bool
}

// Compile parses query and compiles it into a Result. item, if non-nil,
// scopes the free-text and date matching to that table/view's columns and
// applies its table:/view:/column: keyword filters; with item nil, Compile
// only extracts keywords and reports the word/phrase list, producing no
// column-matching SQL (there is no column set to match against).
func Compile(query string, item *Item) (Result, error) {
	nodes := Parse(query)

	keywords := map[string][]string{}
	collectKeywords(nodes, keywords)

	res := Result{Params: map[string]any{}, Keywords: keywords}

	if item != nil && skipItem(keywords, item) {
		res.Skip = true
		return res, nil
	}

	var parts []string
	for _, n := range nodes {
		if sql := compileNode(n, item, res.Params, keywords, &res.Words, true); sql != "" {
			parts = append(parts, sql)
		}
	}
	wordSQL := strings.Join(parts, " AND ")

	kwSQL := compileKeywordsSQL(keywords, res.Params, item)

	switch {
	case wordSQL != "" && kwSQL != "":
		res.SQL = wordSQL + " AND " + kwSQL
	case wordSQL != "":
		res.SQL = wordSQL
	default:
		res.SQL = kwSQL
	}
	return res, nil
}

func matchKeyword(values []string, name string) bool {
	lower := strings.ToLower(name)
	for _, v := range values {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// skipItem reports whether item should be excluded entirely because of a
// table:/view: keyword that names (or explicitly excludes) a different
// item, mirroring the reference's skip_item logic.
func skipItem(keywords map[string][]string, item *Item) bool {
	for kw, values := range keywords {
		positive := item.Type == kw && !matchKeyword(values, item.Name)
		negative := "-"+item.Type == kw && matchKeyword(values, item.Name)
		if positive || negative {
			return true
		}
	}
	return false
}

func collectKeywords(nodes []*node, keywords map[string][]string) {
	for _, n := range nodes {
		switch n.kind {
		case nodeKeyword:
			keywords[n.key] = append(keywords[n.key], n.text)
		case nodeGroup:
			collectKeywords(n.children, keywords)
		}
	}
}

// compileNode mirrors the reference's recursive _makeSQL: words/phrases
// become OR-joined LIKE clauses over the eligible columns, groups join
// their children with AND or OR per isOr and wrap in NOT when negated,
// keywords contribute nothing here (they were already harvested by
// collectKeywords). collect is false inside a negated subtree, since a
// negated word should not be highlighted as a "found" word.
func compileNode(n *node, item *Item, params map[string]any, keywords map[string][]string, words *[]string, collect bool) string {
	switch n.kind {
	case nodeKeyword:
		return ""
	case nodeWord, nodePhrase:
		if collect && !n.negated {
			*words = append(*words, n.text)
		}
		sql := compileWordSQL(n, item, params, keywords)
		if n.negated {
			if sql == "" {
				return ""
			}
			return "NOT " + sql
		}
		return sql
	case nodeGroup:
		childCollect := collect && !n.negated
		var parts []string
		for _, c := range n.children {
			if s := compileNode(c, item, params, keywords, words, childCollect); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) == 0 {
			return ""
		}
		glue := " AND "
		if n.isOr {
			glue = " OR "
		}
		joined := strings.Join(parts, glue)
		if len(parts) > 1 {
			joined = "(" + joined + ")"
		}
		if n.negated {
			joined = "NOT " + joined
		}
		return joined
	}
	return ""
}

func compileWordSQL(n *node, item *Item, params map[string]any, keywords map[string][]string) string {
	if item == nil {
		return ""
	}
	wildcards := "*"
	if n.kind == nodePhrase {
		wildcards = ""
	}
	safe := escapeLike(n.text, wildcards)

	var clauses []string
	idx := len(params)
	for _, col := range item.Columns {
		if cols, ok := keywords["column"]; ok && len(cols) > 0 && !matchKeyword(cols, col.Name) {
			continue
		}
		if cols, ok := keywords["-column"]; ok && matchKeyword(cols, col.Name) {
			continue
		}
		clause := fmt.Sprintf("%s LIKE :column_like%d", parser.Quote(col.Name, true), idx)
		if len(safe) > len(n.text) {
			clause += " ESCAPE '" + escapeChar + "'"
		}
		clauses = append(clauses, clause)
	}
	if len(clauses) == 0 {
		return "1 = 0"
	}
	params[fmt.Sprintf("column_like%d", idx)] = "%" + safe + "%"
	if len(item.Columns) > 1 {
		return "(" + strings.Join(clauses, " OR ") + ")"
	}
	return clauses[0]
}

// escapeLike escapes SQLite's LIKE special characters (_ and %) in s, then
// replaces each rune in wildcards with an actual SQL wildcard %: a plain
// word's "*" becomes a real wildcard, while a quoted phrase gets none.
func escapeLike(s, wildcards string) string {
	s = strings.ReplaceAll(s, "%", escapeChar+"%")
	s = strings.ReplaceAll(s, "_", escapeChar+"_")
	for _, c := range wildcards {
		s = strings.ReplaceAll(s, string(c), "%")
	}
	return s
}

func compileKeywordsSQL(keywords map[string][]string, params map[string]any, item *Item) string {
	dateKeys := make([]string, 0, len(keywords))
	for keyword := range keywords {
		if strings.HasSuffix(keyword, "date") {
			dateKeys = append(dateKeys, keyword)
		}
	}
	sort.Strings(dateKeys)

	var result []string
	for _, keyword := range dateKeys {
		values := keywords[keyword]
		var orParts []string
		for _, v := range values {
			if sql := dateKeywordSQL(v, item, params); sql != "" {
				orParts = append(orParts, sql)
			}
		}
		if len(orParts) == 0 {
			continue
		}
		joined := strings.Join(orParts, " OR ")
		negated := strings.HasPrefix(keyword, "-")
		if negated {
			joined = "NOT (" + joined + ")"
		} else if len(orParts) > 1 {
			joined = "(" + joined + ")"
		}
		result = append(result, joined)
	}
	return strings.Join(result, " AND ")
}

func dateColumns(item *Item, keywords map[string][]string) []Column {
	var out []Column
	if item == nil {
		return out
	}
	for _, c := range item.Columns {
		if c.Type != "DATE" && c.Type != "DATETIME" {
			continue
		}
		if cols, ok := keywords["column"]; ok && len(cols) > 0 && !matchKeyword(cols, c.Name) {
			continue
		}
		if cols, ok := keywords["-column"]; ok && matchKeyword(cols, c.Name) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// dateKeywordSQL compiles one `date:` keyword value: either a single
// partial date ("2002", "2002-12") matched via STRFTIME, or a ".."-joined
// range matched via direct comparison, against every eligible date column.
func dateKeywordSQL(value string, item *Item, params map[string]any) string {
	cols := dateColumns(item, nil)
	if len(cols) == 0 {
		return "1 = 0"
	}
	if !strings.Contains(value, "..") {
		format, literal, ok := strftimeFormat(value)
		if !ok {
			return ""
		}
		param := fmt.Sprintf("timestamp_%d", len(params))
		params[param] = literal
		var parts []string
		for _, c := range cols {
			parts = append(parts, fmt.Sprintf("STRFTIME('%s', %s) = :%s", format, parser.Quote(c.Name, true), param))
		}
		joined := strings.Join(parts, " OR ")
		if len(parts) > 1 {
			joined = "(" + joined + ")"
		}
		return joined
	}

	bounds := strings.SplitN(value, "..", 2)
	var clauses []string
	for i, raw := range bounds {
		if raw == "" {
			continue
		}
		d, ok := clampDate(raw, i == 1)
		if !ok {
			continue
		}
		op := ">="
		if i == 1 {
			op = "<="
		}
		param := fmt.Sprintf("timestamp_%d", len(params))
		params[param] = d.Format("2006-01-02")
		var parts []string
		for _, c := range cols {
			parts = append(parts, fmt.Sprintf("%s %s :%s", parser.Quote(c.Name, true), op, param))
		}
		joined := strings.Join(parts, " OR ")
		if len(parts) > 1 {
			joined = "(" + joined + ")"
		}
		clauses = append(clauses, joined)
	}
	return strings.Join(clauses, " AND ")
}

// strftimeFormat turns a partial date like "2002", "2002-12" or
// "2002-12-24" into an STRFTIME format string and the literal value to
// compare it against.
func strftimeFormat(value string) (format, literal string, ok bool) {
	parts := strings.SplitN(value, "-", 3)
	var format_, literal_ strings.Builder
	any := false
	codes := []string{"%Y", "%m", "%d"}
	for i, p := range parts {
		if i >= 3 || p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			continue
		}
		any = true
		if format_.Len() > 0 {
			format_.WriteByte('-')
			literal_.WriteByte('-')
		}
		format_.WriteString(codes[i])
		if i == 0 {
			literal_.WriteString(fmt.Sprintf("%04d", n))
		} else {
			literal_.WriteString(fmt.Sprintf("%02d", n))
		}
	}
	if !any {
		return "", "", false
	}
	return format_.String(), literal_.String(), true
}

// clampDate parses a partial date into a full calendar date, clamping
// out-of-range months/days and defaulting the day to the 1st (lower bound)
// or the month's last day (upper bound) when omitted, matching the
// reference implementation's range-fill behavior.
func clampDate(value string, upper bool) (time.Time, bool) {
	parts := strings.SplitN(value, "-", 3)
	if len(parts) == 0 || parts[0] == "" {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, false
	}
	if year < 1 {
		year = 1
	}
	if year > 9999 {
		year = 9999
	}
	month := 1
	if upper {
		month = 12
	}
	if len(parts) > 1 && parts[1] != "" {
		if m, err := strconv.Atoi(parts[1]); err == nil {
			month = clampInt(m, 1, 12)
		}
	}
	dayMax := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	day := 1
	if upper {
		day = dayMax
	}
	if len(parts) > 2 && parts[2] != "" {
		if d, err := strconv.Atoi(parts[2]); err == nil {
			day = clampInt(d, 1, dayMax)
		}
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
