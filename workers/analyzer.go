package workers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// AnalyzerRequest names the database file to analyze.
type AnalyzerRequest struct {
	Path string
	// Analyzer is the path to the sqlite3_analyzer (or sqlite3_analyzer.exe)
	// executable; it is a stand-alone SQLite tool that prints a SQL script
	// defining and populating a "space_used" table describing per-object
	// storage use.
	Analyzer string
}

// TableStat is one table's (or, nested under Indexes, one index's)
// reported on-disk size in bytes.
type TableStat struct {
	Name      string
	Size      int64
	SizeTotal int64 // table size plus its indexes' sizes; 0 for an index entry
	Indexes   []TableStat
}

// AnalyzerResult carries the parsed space_used statistics, or Error if the
// external tool could not be run or produced unusable output.
type AnalyzerResult struct {
	Path     string
	FileSize int64
	Tables   []TableStat
	Indexes  []TableStat
	Error    error
}

// AnalyzerWorker invokes the external sqlite3_analyzer tool against a
// database file and parses its reported per-table/per-index storage use.
// Grounded on AnalyzerThread, which pipes the tool's stdout (a SQL script)
// into a scratch in-memory database and queries the resulting space_used
// table — reimplemented here the same way via modernc.org/sqlite, rather
// than hand-parsing the tool's textual report.
type AnalyzerWorker struct {
	*Worker[AnalyzerRequest, AnalyzerResult]
}

func NewAnalyzerWorker(log *slog.Logger, m *Metrics, callback func(AnalyzerResult)) *AnalyzerWorker {
	if log == nil {
		log = slog.Default()
	}
	process := func(ctx context.Context, req AnalyzerRequest, emit func(AnalyzerResult)) {
		runAnalyzer(ctx, log, req, emit)
	}
	return &AnalyzerWorker{Worker: New(log, m, process, callback)}
}

func runAnalyzer(ctx context.Context, log *slog.Logger, req AnalyzerRequest, emit func(AnalyzerResult)) {
	info, err := os.Stat(req.Path)
	if err != nil {
		emit(AnalyzerResult{Path: req.Path, Error: fmt.Errorf("workers: %s does not exist", req.Path)})
		return
	}
	filesize := info.Size()

	analyzer := req.Analyzer
	if analyzer == "" {
		analyzer = "sqlite3_analyzer"
	}
	log.Info("invoking external analyzer command", "command", analyzer, "path", req.Path)
	cmd := exec.CommandContext(ctx, analyzer, req.Path)
	output, err := cmd.Output()
	if err != nil {
		emit(AnalyzerResult{Path: req.Path, FileSize: filesize, Error: fmt.Errorf("workers: running %s: %w", analyzer, err)})
		return
	}
	script := strings.TrimSpace(string(output))
	if !strings.HasPrefix(script, "/**") {
		firstLine := script
		if i := strings.IndexByte(script, '\n'); i >= 0 {
			firstLine = script[:i]
		}
		emit(AnalyzerResult{Path: req.Path, FileSize: filesize, Error: fmt.Errorf("workers: %s: %s", analyzer, strings.TrimSpace(firstLine))})
		return
	}

	data, err := parseSpaceUsed(ctx, script, filesize)
	if err != nil {
		emit(AnalyzerResult{Path: req.Path, FileSize: filesize, Error: err})
		return
	}
	log.Info("finished statistics analysis", "path", req.Path, "filesize", humanize.Bytes(uint64(filesize)))
	data.Path = req.Path
	emit(data)
}

// parseSpaceUsed runs the analyzer's generated script against a scratch
// in-memory database, then reads back and regroups its space_used rows by
// table/index, matching AnalyzerThread's own tablemap construction.
func parseSpaceUsed(ctx context.Context, script string, filesize int64) (AnalyzerResult, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", ":memory:")
	if err != nil {
		return AnalyzerResult{}, fmt.Errorf("workers: opening scratch database: %w", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, script); err != nil {
		return AnalyzerResult{}, fmt.Errorf("workers: running analyzer output: %w", err)
	}

	type row struct {
		Name           string `db:"name"`
		TblName        string `db:"tblname"`
		IsIndex        bool   `db:"is_index"`
		CompressedSize int64  `db:"compressed_size"`
	}
	var rows []row
	query := `SELECT name, tblname, is_index, compressed_size FROM space_used
	          WHERE name NOT LIKE 'sqlite_%' ORDER BY compressed_size DESC`
	if err := db.SelectContext(ctx, &rows, query); err != nil {
		return AnalyzerResult{}, fmt.Errorf("workers: reading space_used: %w", err)
	}
	if len(rows) == 0 {
		return AnalyzerResult{}, fmt.Errorf("workers: database is empty")
	}

	tables := map[string]*TableStat{}
	var order []string
	for _, r := range rows {
		if r.IsIndex {
			continue
		}
		tables[r.Name] = &TableStat{Name: r.Name, Size: r.CompressedSize}
		order = append(order, r.Name)
	}
	var indexes []TableStat
	for _, r := range rows {
		if !r.IsIndex {
			continue
		}
		idx := TableStat{Name: r.Name, Size: r.CompressedSize}
		indexes = append(indexes, idx)
		t, ok := tables[r.TblName]
		if !ok {
			t = &TableStat{Name: r.TblName}
			tables[r.TblName] = t
			order = append(order, r.TblName)
		}
		t.Indexes = append(t.Indexes, idx)
	}
	for _, t := range tables {
		var indexSize int64
		for _, idx := range t.Indexes {
			indexSize += idx.Size
		}
		t.SizeTotal = t.Size + indexSize
	}
	sort.Strings(order)
	seen := map[string]bool{}
	var out []TableStat
	for _, name := range order {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, *tables[name])
	}
	return AnalyzerResult{FileSize: filesize, Tables: out, Indexes: indexes}, nil
}
