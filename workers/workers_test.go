package workers_test

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/suurjaak/sqlitely-go/workers"
)

func TestWorkerSubmitAndCallback(t *testing.T) {
	results := make(chan int, 4)
	w := workers.New[int, int](nil, nil,
		func(ctx context.Context, req int, emit func(int)) { emit(req * 2) },
		func(res int) { results <- res })
	defer w.Stop()

	w.Submit(21)
	select {
	case r := <-results:
		require.Equal(t, 42, r)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for worker result")
	}
}

func TestWorkerSubmitReplacesInFlightJob(t *testing.T) {
	started := make(chan struct{}, 4)
	results := make(chan string, 4)
	w := workers.New[string, string](nil, nil,
		func(ctx context.Context, req string, emit func(string)) {
			started <- struct{}{}
			select {
			case <-ctx.Done():
				return // cancelled by a newer Submit
			case <-time.After(200 * time.Millisecond):
			}
			emit(req)
		},
		func(res string) { results <- res })
	defer w.Stop()

	w.Submit("first")
	<-started
	w.Submit("second")

	select {
	case r := <-results:
		require.Equal(t, "second", r)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second job's result")
	}
}

func TestChecksumWorkerMatchesKnownDigests(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	wantMD5 := md5.Sum(content)
	wantSHA1 := sha1.Sum(content)

	results := make(chan workers.ChecksumResult, 1)
	w := workers.NewChecksumWorker(nil, nil, func(r workers.ChecksumResult) { results <- r })
	defer w.Stop()

	w.Submit(workers.ChecksumRequest{Path: path})
	select {
	case r := <-results:
		require.NoError(t, r.Error)
		require.Equal(t, hex.EncodeToString(wantMD5[:]), r.MD5)
		require.Equal(t, hex.EncodeToString(wantSHA1[:]), r.SHA1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for checksum result")
	}
}

func TestChecksumWorkerReportsErrorForMissingFile(t *testing.T) {
	results := make(chan workers.ChecksumResult, 1)
	w := workers.NewChecksumWorker(nil, nil, func(r workers.ChecksumResult) { results <- r })
	defer w.Stop()

	w.Submit(workers.ChecksumRequest{Path: filepath.Join(t.TempDir(), "missing.db")})
	select {
	case r := <-results:
		require.Error(t, r.Error)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for checksum error result")
	}
}

func writeFakeSQLiteFile(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write(append([]byte("SQLite format 3\x00"), make([]byte, 100)...))
	require.NoError(t, err)
}

func TestFolderScanWorkerFindsSQLiteFiles(t *testing.T) {
	dir := t.TempDir()
	writeFakeSQLiteFile(t, filepath.Join(dir, "app.db"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a database"), 0o600))
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeFakeSQLiteFile(t, filepath.Join(sub, "other.sqlite"))

	var found []string
	done := make(chan workers.FolderScanResult, 8)
	w := workers.NewFolderScanWorker(nil, nil, func(r workers.FolderScanResult) {
		found = append(found, r.Filenames...)
		if r.Done {
			done <- r
		}
	})
	defer w.Stop()

	w.Submit(workers.FolderScanRequest{Folder: dir})
	select {
	case r := <-done:
		require.NoError(t, r.Error)
		require.Equal(t, 2, r.Count)
		require.Len(t, found, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for folder scan to finish")
	}
}

func TestMetricsRegistryTracksJobsAndCancellation(t *testing.T) {
	reg := workers.NewRegistry()
	m := reg.NewMetrics("test")

	release := make(chan struct{})
	w := workers.New[int, int](nil, m,
		func(ctx context.Context, req int, emit func(int)) {
			select {
			case <-release:
			case <-ctx.Done():
			}
		},
		func(int) {})
	defer w.Stop()

	w.Submit(1)
	time.Sleep(20 * time.Millisecond) // let the job actually start
	w.StopWork()
	close(release)

	mf, err := reg.Gatherer().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mf)
}
