package workers

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// checksumBlockSize matches the reference implementation's BLOCKSIZE: read
// and hash the file in 1 MiB chunks rather than all at once, so a stop
// request can take effect between blocks on a very large database.
const checksumBlockSize = 1 << 20

// ChecksumRequest names the database file to checksum.
type ChecksumRequest struct {
	Path string
}

// ChecksumResult carries the computed digests, or Error if the file could
// not be read.
type ChecksumResult struct {
	Path  string
	MD5   string
	SHA1  string
	Error error
}

// ChecksumWorker computes MD5 and SHA-1 digests of a database file,
// streaming it in fixed-size blocks instead of reading it whole.
type ChecksumWorker struct {
	*Worker[ChecksumRequest, ChecksumResult]
}

func NewChecksumWorker(log *slog.Logger, m *Metrics, callback func(ChecksumResult)) *ChecksumWorker {
	if log == nil {
		log = slog.Default()
	}
	process := func(ctx context.Context, req ChecksumRequest, emit func(ChecksumResult)) {
		runChecksum(ctx, log, req, emit)
	}
	return &ChecksumWorker{Worker: New(log, m, process, callback)}
}

func runChecksum(ctx context.Context, log *slog.Logger, req ChecksumRequest, emit func(ChecksumResult)) {
	f, err := os.Open(req.Path)
	if err != nil {
		emit(ChecksumResult{Path: req.Path, Error: fmt.Errorf("workers: opening %s: %w", req.Path, err)})
		return
	}
	defer f.Close()

	md5h, sha1h := md5.New(), sha1.New()
	buf := make([]byte, checksumBlockSize)
	for {
		if ctx.Err() != nil {
			emit(ChecksumResult{Path: req.Path, Error: ctx.Err()})
			return
		}
		n, err := f.Read(buf)
		if n > 0 {
			md5h.Write(buf[:n])
			sha1h.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			emit(ChecksumResult{Path: req.Path, Error: fmt.Errorf("workers: reading %s: %w", req.Path, err)})
			return
		}
	}
	log.Info("finished checksum calculation", "path", req.Path)
	emit(ChecksumResult{Path: req.Path, MD5: hex.EncodeToString(md5h.Sum(nil)), SHA1: hex.EncodeToString(sha1h.Sum(nil))})
}
