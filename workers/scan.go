package workers

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

var sqliteHeader = []byte("SQLite format 3\x00")

// isSQLiteFile reports whether path looks like a SQLite database file: its
// extension matches one of extensions (case-insensitive; if extensions is
// empty, any extension passes) and its first 16 bytes are the SQLite
// magic header. An empty file is never considered a match, mirroring the
// reference's is_sqlite_file default of empty=False.
func isSQLiteFile(path string, extensions []string) bool {
	if len(extensions) > 0 {
		ext := strings.ToLower(filepath.Ext(path))
		ok := false
		for _, e := range extensions {
			if ext == strings.ToLower(e) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	buf := make([]byte, len(sqliteHeader))
	n, _ := f.Read(buf)
	return n == len(sqliteHeader) && bytes.Equal(buf, sqliteHeader)
}

// FolderScanRequest names the folder to scan for SQLite database files.
type FolderScanRequest struct {
	Folder     string
	Extensions []string // e.g. []string{".db", ".sqlite"}; empty matches any extension
}

// FolderScanResult is one chunk of paths found under a scanned folder, or
// the terminal Done chunk with the total count.
type FolderScanResult struct {
	Folder    string
	Filenames []string
	Done      bool
	Count     int
	Error     error
}

// FolderScanWorker walks a single folder tree looking for SQLite database
// files, posting newly found paths back as it goes. Grounded on
// find_databases/ImportFolderThread.
type FolderScanWorker struct {
	*Worker[FolderScanRequest, FolderScanResult]
}

func NewFolderScanWorker(log *slog.Logger, m *Metrics, callback func(FolderScanResult)) *FolderScanWorker {
	if log == nil {
		log = slog.Default()
	}
	process := func(ctx context.Context, req FolderScanRequest, emit func(FolderScanResult)) {
		runFolderScan(ctx, log, req, emit)
	}
	return &FolderScanWorker{Worker: New(log, m, process, callback)}
}

func runFolderScan(ctx context.Context, log *slog.Logger, req FolderScanRequest, emit func(FolderScanResult)) {
	log.Info("scanning folder for SQLite databases", "folder", req.Folder)
	count := 0
	err := filepath.WalkDir(req.Folder, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || d.IsDir() {
			return nil
		}
		if isSQLiteFile(path, req.Extensions) {
			count++
			emit(FolderScanResult{Folder: req.Folder, Filenames: []string{path}})
		}
		return nil
	})
	if err != nil && err != ctx.Err() {
		emit(FolderScanResult{Folder: req.Folder, Error: err, Done: true, Count: count})
		return
	}
	emit(FolderScanResult{Folder: req.Folder, Done: true, Count: count})
}

// DetectRequest carries nothing: a detect job always scans the same fixed
// set of likely system locations.
type DetectRequest struct{}

// DetectResult is one chunk of newly found paths, or the terminal Done
// chunk.
type DetectResult struct {
	Filenames []string
	Done      bool
	Count     int
	Error     error
}

// DetectWorker looks for SQLite database files under a handful of likely
// system locations (the user's home directory, /home and /Users where they
// exist, and the current working directory), walking each root
// concurrently via errgroup. Grounded on
// detect_databases/DetectDatabaseThread.
type DetectWorker struct {
	*Worker[DetectRequest, DetectResult]
}

func NewDetectWorker(log *slog.Logger, m *Metrics, callback func(DetectResult)) *DetectWorker {
	if log == nil {
		log = slog.Default()
	}
	process := func(ctx context.Context, req DetectRequest, emit func(DetectResult)) {
		runDetect(ctx, log, emit)
	}
	return &DetectWorker{Worker: New(log, m, process, callback)}
}

func detectSearchRoots() []string {
	var roots []string
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		roots = append(roots, home)
	}
	for _, extra := range []string{"/home", "/Users"} {
		if info, err := os.Stat(extra); err == nil && info.IsDir() {
			roots = append(roots, extra)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd)
	}
	return roots
}

func runDetect(ctx context.Context, log *slog.Logger, emit func(DetectResult)) {
	roots := detectSearchRoots()
	log.Info("detecting SQLite databases under system locations", "roots", roots)

	seen := map[string]bool{}
	total := 0

	// Walkers only send paths; emit runs here, on the worker's goroutine.
	found := make(chan string)
	var err error
	group, gctx := errgroup.WithContext(ctx)
	for _, root := range roots {
		root := root
		group.Go(func() error {
			return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if err != nil || d.IsDir() {
					return nil
				}
				if !isSQLiteFile(path, nil) {
					return nil
				}
				select {
				case found <- path:
				case <-gctx.Done():
					return gctx.Err()
				}
				return nil
			})
		})
	}
	go func() {
		err = group.Wait()
		close(found)
	}()
	for path := range found {
		total++
		if !seen[path] {
			seen[path] = true
			emit(DetectResult{Filenames: []string{path}})
		}
	}
	if err != nil && err != ctx.Err() {
		emit(DetectResult{Error: err, Done: true, Count: total})
		return
	}
	emit(DetectResult{Done: true, Count: total})
}
