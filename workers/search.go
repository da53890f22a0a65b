package workers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/suurjaak/sqlitely-go/catalog"
	"github.com/suurjaak/sqlitely-go/database"
	"github.com/suurjaak/sqlitely-go/grid"
	"github.com/suurjaak/sqlitely-go/search"
	"github.com/suurjaak/sqlitely-go/util"
)

// SearchResultsChunk caps how many matches accumulate before a chunk is
// emitted.
const SearchResultsChunk = 100

// MaxSearchTableRows caps how many row matches a single table contributes,
// so one enormous table can't starve the rest of the search.
const MaxSearchTableRows = 1000

// SearchRequest names what to search: Query is the search-query text;
// Table, if non-empty, restricts the row search to the one table of that
// name, or is the literal "meta" to search CREATE SQL text instead of row
// data. Rows of views are not searched.
type SearchRequest struct {
	Query string
	Table string
}

// SearchMatch is one matched row or CREATE-SQL item. Row is nil for a
// "meta" match.
type SearchMatch struct {
	Table string
	Row   grid.Row
}

// SearchResult is one chunk of a search's results.
type SearchResult struct {
	Matches []SearchMatch
	Done    bool
	Count   int
	Error   error
}

// SearchWorker searches a catalog's CREATE SQL text and table rows on
// demand, emitting matches in chunks as it goes.
type SearchWorker struct {
	*Worker[SearchRequest, SearchResult]
}

// NewSearchWorker starts a search worker bound to db/cat.
func NewSearchWorker(db *database.DB, cat *catalog.Catalog, log *slog.Logger, m *Metrics, callback func(SearchResult)) *SearchWorker {
	if log == nil {
		log = slog.Default()
	}
	process := func(ctx context.Context, req SearchRequest, emit func(SearchResult)) {
		runSearch(ctx, db, cat, log, req, emit)
	}
	return &SearchWorker{Worker: New(log, m, process, callback)}
}

func runSearch(ctx context.Context, db *database.DB, cat *catalog.Catalog, log *slog.Logger, req SearchRequest, emit func(SearchResult)) {
	var batch []SearchMatch
	count := 0
	flush := func(done bool) {
		if len(batch) == 0 && !done {
			return
		}
		emit(SearchResult{Matches: batch, Done: done, Count: count})
		batch = nil
	}

	if req.Table == "" || req.Table == "meta" {
		res, err := search.Compile(req.Query, nil)
		if err == nil && len(res.Words) > 0 {
			for _, category := range []string{catalog.Table, catalog.View, catalog.Index, catalog.Trigger} {
				for _, item := range cat.GetCategory(category, "") {
					if ctx.Err() != nil {
						break
					}
					if !matchAllWords(item.SQL0, res.Words) {
						continue
					}
					count++
					batch = append(batch, SearchMatch{Table: item.Name})
					if len(batch) >= SearchResultsChunk {
						flush(false)
					}
				}
			}
		}
		if req.Table == "meta" {
			flush(true)
			return
		}
		flush(false)
	}

	for _, table := range cat.GetCategory(catalog.Table, "") {
		if ctx.Err() != nil {
			break
		}
		if req.Table != "" && !strings.EqualFold(table.Name, req.Table) {
			continue
		}
		item := &search.Item{Name: table.Name, Type: "table", Columns: toSearchColumns(table.Columns)}
		res, err := search.Compile(req.Query, item)
		if err != nil {
			log.Warn("search compile failed", "table", table.Name, "error", err)
			continue
		}
		if res.Skip || res.SQL == "" {
			continue
		}
		rows, err := searchTableRows(ctx, db, table.Name, res)
		if err != nil {
			log.Warn("search query failed", "table", table.Name, "error", err)
			continue
		}
		for _, row := range rows {
			count++
			batch = append(batch, SearchMatch{Table: table.Name, Row: row})
			if len(batch) >= SearchResultsChunk {
				flush(false)
			}
			if ctx.Err() != nil {
				break
			}
		}
	}
	flush(true)
}

func matchAllWords(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if !strings.Contains(lower, strings.ToLower(w)) {
			return false
		}
	}
	return true
}

func toSearchColumns(cols []catalog.Column) []search.Column {
	return util.TransformSlice(cols, func(c catalog.Column) search.Column {
		return search.Column{Name: c.Name, Type: c.Type, PK: c.PK}
	})
}

func searchTableRows(ctx context.Context, db *database.DB, table string, res search.Result) ([]grid.Row, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT %d", quoteSearchIdent(table), res.SQL, MaxSearchTableRows)
	rows, err := db.NamedQueryContext(ctx, query, res.Params)
	if err != nil {
		return nil, database.WrapExecution(query, err)
	}
	defer rows.Close()
	var out []grid.Row
	for rows.Next() {
		m := grid.Row{}
		if err := rows.MapScan(m); err != nil {
			return nil, fmt.Errorf("workers: scanning search row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func quoteSearchIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
