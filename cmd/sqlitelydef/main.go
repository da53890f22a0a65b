package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suurjaak/sqlitely-go/alter"
	"github.com/suurjaak/sqlitely-go/catalog"
	"github.com/suurjaak/sqlitely-go/database"
	"github.com/suurjaak/sqlitely-go/parser"
	"github.com/suurjaak/sqlitely-go/util"
	"github.com/suurjaak/sqlitely-go/workers"
)

var version = "dev"

type options struct {
	File     string `short:"f" long:"file" description:"Read the table's desired CREATE TABLE from this file, rather than stdin" value-name:"filename"`
	DryRun   bool   `long:"dry-run" description:"Print the DDL the alter planner would run, without applying it"`
	Export   bool   `long:"export" description:"Dump the current schema to stdout and exit"`

	Search      string `long:"search" description:"Run a search query against the database and print matches" value-name:"query"`
	SearchTable string `long:"search-table" description:"Restrict --search to one table/view, or \"meta\" for CREATE SQL text" value-name:"name"`
	Checksum    bool   `long:"checksum" description:"Print MD5/SHA-1 digests of the database file"`
	Analyzer    string `long:"analyze" description:"Path to the sqlite3_analyzer binary; run it and print per-table/per-index size stats" value-name:"path"`
	ScanFolder  string `long:"scan-folder" description:"Walk this folder for SQLite database files and print their paths" value-name:"folder"`
	Detect      bool   `long:"detect" description:"Look for SQLite database files under common system locations"`

	MetricsAddr string `long:"metrics-addr" description:"Serve Prometheus metrics on this address (e.g. :8080) and block" value-name:"addr"`

	Version bool `long:"version" description:"Show version"`
	Help    bool `long:"help" description:"Show this help"`
}

func parseOptions(args []string) (*options, string) {
	var opts options
	p := flags.NewParser(&opts, flags.None)
	p.Usage = "[option...] db_name"
	rest, err := p.ParseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if opts.Help {
		p.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}
	dbName := ""
	if len(rest) > 0 {
		dbName = rest[0]
	}
	return &opts, dbName
}

func main() {
	util.InitSlog()
	log := slog.Default()
	opts, dbName := parseOptions(os.Args[1:])

	if opts.MetricsAddr != "" {
		serveMetrics(opts.MetricsAddr, log)
		return
	}

	if dbName == "" {
		fmt.Fprintln(os.Stderr, "No database is specified!")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: dbName, ForeignKeys: true}, log)
	if err != nil {
		log.Error("opening database failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	cat := catalog.New(db.DB, log)
	if err := cat.Populate(ctx, "", "", true, false); err != nil {
		log.Error("reading schema failed", "error", err)
		os.Exit(1)
	}

	var runErr error
	switch {
	case opts.Export:
		runErr = runExport(cat)
	case opts.Search != "":
		runErr = runSearch(ctx, db, cat, log, opts.Search, opts.SearchTable)
	case opts.Checksum:
		runErr = runChecksum(ctx, log, dbName)
	case opts.Analyzer != "":
		runErr = runAnalyze(ctx, log, dbName, opts.Analyzer)
	case opts.ScanFolder != "":
		runErr = runScan(ctx, log, opts.ScanFolder)
	case opts.Detect:
		runErr = runDetect(ctx, log)
	case opts.File != "" || opts.DryRun:
		runErr = runAlter(ctx, db, cat, log, opts)
	default:
		fmt.Fprintln(os.Stderr, "No operation requested; see --help.")
		os.Exit(1)
	}
	if runErr != nil {
		log.Error("operation failed", "error", runErr)
		os.Exit(1)
	}
}

func runExport(cat *catalog.Catalog) error {
	for _, category := range []string{catalog.Table, catalog.Index, catalog.Trigger, catalog.View} {
		for _, item := range cat.GetCategory(category, "") {
			fmt.Printf("%s;\n\n", item.SQL)
		}
	}
	return nil
}

// runAlter reads the desired CREATE TABLE for a single table (from --file or
// stdin), decides a Simple or Complex migration plan against the live
// catalog, and either prints the plan (--dry-run) or applies it.
func runAlter(ctx context.Context, db *database.DB, cat *catalog.Catalog, log *slog.Logger, opts *options) error {
	var src []byte
	var err error
	if opts.File != "" {
		src, err = os.ReadFile(opts.File)
	} else {
		src, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading desired schema: %w", err)
	}

	stmt, err := parser.Parse(string(src), catalog.Table)
	if err != nil {
		return database.WrapParse(opts.File, err)
	}
	newTable, ok := stmt.(*parser.CreateTable)
	if !ok {
		return fmt.Errorf("desired schema must be a single CREATE TABLE statement")
	}

	existing := cat.Get(catalog.Table, newTable.Name)
	if existing == nil {
		return fmt.Errorf("table %q does not exist; CREATE TABLE is not a migration", newTable.Name)
	}
	oldTable, ok := existing.Meta.(*parser.CreateTable)
	if !ok {
		return fmt.Errorf("%q is not a table", newTable.Name)
	}

	caps := alter.Capabilities{
		RenameColumn:     db.SupportsRenameColumn(),
		DropColumn:       db.SupportsDropColumn(),
		CascadingRename:  db.SupportsCascadingRename(),
	}
	change := alter.TableChange{Old: oldTable, New: newTable}
	plan := alter.Decide(change, caps)

	var stmts []string
	if plan.Kind == alter.Simple {
		stmts = plan.BuildSimple()
	} else {
		script, err := plan.BuildComplex(alter.Related(cat, oldTable.Name))
		if err != nil {
			return err
		}
		stmts = script.Statements
	}

	fmt.Printf("-- %s migration (%s)\n", plan.Kind, strings.Join(plan.Reasons, "; "))
	for _, s := range stmts {
		fmt.Printf("%s;\n", s)
	}
	if opts.DryRun {
		return nil
	}
	return alter.Apply(ctx, db, cat, plan, log)
}

func runSearch(ctx context.Context, db *database.DB, cat *catalog.Catalog, log *slog.Logger, query, table string) error {
	done := make(chan error, 1)
	w := workers.NewSearchWorker(db, cat, log, nil, func(r workers.SearchResult) {
		if r.Error != nil {
			done <- r.Error
			return
		}
		for _, m := range r.Matches {
			if m.Row == nil {
				fmt.Printf("%s: matches CREATE SQL\n", m.Table)
			} else {
				fmt.Printf("%s: %v\n", m.Table, m.Row)
			}
		}
		if r.Done {
			done <- nil
		}
	})
	defer w.Stop()
	w.Submit(workers.SearchRequest{Query: query, Table: table})
	return <-done
}

func runChecksum(ctx context.Context, log *slog.Logger, path string) error {
	done := make(chan error, 1)
	w := workers.NewChecksumWorker(log, nil, func(r workers.ChecksumResult) {
		if r.Error != nil {
			done <- r.Error
			return
		}
		fmt.Printf("md5:  %s\nsha1: %s\n", r.MD5, r.SHA1)
		done <- nil
	})
	defer w.Stop()
	w.Submit(workers.ChecksumRequest{Path: path})
	return <-done
}

func runAnalyze(ctx context.Context, log *slog.Logger, path, analyzerPath string) error {
	done := make(chan error, 1)
	w := workers.NewAnalyzerWorker(log, nil, func(r workers.AnalyzerResult) {
		if r.Error != nil {
			done <- r.Error
			return
		}
		fmt.Printf("file size: %d bytes\n", r.FileSize)
		for _, t := range r.Tables {
			fmt.Printf("table %-30s %10d bytes (%d with indexes)\n", t.Name, t.Size, t.SizeTotal)
		}
		done <- nil
	})
	defer w.Stop()
	w.Submit(workers.AnalyzerRequest{Path: path, Analyzer: analyzerPath})
	return <-done
}

func runScan(ctx context.Context, log *slog.Logger, folder string) error {
	done := make(chan error, 1)
	w := workers.NewFolderScanWorker(log, nil, func(r workers.FolderScanResult) {
		for _, f := range r.Filenames {
			fmt.Println(f)
		}
		if r.Done {
			done <- r.Error
		}
	})
	defer w.Stop()
	w.Submit(workers.FolderScanRequest{Folder: folder})
	return <-done
}

func runDetect(ctx context.Context, log *slog.Logger) error {
	done := make(chan error, 1)
	w := workers.NewDetectWorker(log, nil, func(r workers.DetectResult) {
		for _, f := range r.Filenames {
			fmt.Println(f)
		}
		if r.Done {
			done <- r.Error
		}
	})
	defer w.Stop()
	w.Submit(workers.DetectRequest{})
	return <-done
}

// serveMetrics starts a chi mux exposing Prometheus metrics and a liveness
// endpoint, blocking until the process is killed. It owns its own worker
// metrics registry since no database operation is running concurrently in
// this mode.
func serveMetrics(addr string, log *slog.Logger) {
	reg := workers.NewRegistry()
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	log.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server failed", "error", err)
		os.Exit(1)
	}
}
