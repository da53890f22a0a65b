// Package workers runs the module's long-running background jobs —
// searching, database detection, folder scanning, statistics analysis and
// checksumming — off the caller's goroutine, posting results back in
// chunks through a callback.
package workers

import (
	"context"
	"log/slog"
	"sync"
)

// Worker runs a single background goroutine processing submitted work one
// item at a time, invoking callback with each result. It is the Go
// analogue of the reference implementation's WorkerThread base class:
// Submit cancels and replaces any pending or in-flight job, StopWork cancels
// the current job without shutting the goroutine down, and Stop shuts it
// down entirely. Unlike the reference's threading.Thread plus Queue.Queue
// pair, cancellation here is a context rather than a polled flag, so
// process implementations can pass ctx straight through to any blocking
// call (a query, a subprocess wait, a file read).
type Worker[Req any, Res any] struct {
	log      *slog.Logger
	metrics  *Metrics
	process  func(ctx context.Context, req Req, emit func(Res))
	callback func(Res)

	mu     sync.Mutex
	cancel context.CancelFunc
	queue  chan Req
	done   chan struct{}
}

// New starts a worker goroutine. process does the actual work for one
// submitted request, calling emit zero or more times with result chunks;
// callback receives every emitted chunk on the worker's own goroutine, so
// callers that touch shared state from it must synchronize themselves.
func New[Req any, Res any](log *slog.Logger, m *Metrics, process func(ctx context.Context, req Req, emit func(Res)), callback func(Res)) *Worker[Req, Res] {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker[Req, Res]{
		log: log, metrics: m, process: process, callback: callback,
		queue: make(chan Req, 1),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker[Req, Res]) run() {
	for {
		select {
		case req := <-w.queue:
			w.runJob(req)
		case <-w.done:
			return
		}
	}
}

func (w *Worker[Req, Res]) runJob(req Req) {
	ctx, cancel := context.WithCancel(context.Background())
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
	if w.metrics != nil {
		w.metrics.JobsStarted.Inc()
		w.metrics.QueueDepth.Set(0)
	}
	defer cancel()
	w.process(ctx, req, w.callback)
	w.mu.Lock()
	w.cancel = nil
	w.mu.Unlock()
}

// Submit stops whatever is currently queued or running and starts req.
func (w *Worker[Req, Res]) Submit(req Req) {
	w.StopWork()
	select {
	case <-w.queue:
	default:
	}
	select {
	case w.queue <- req:
		if w.metrics != nil {
			w.metrics.QueueDepth.Set(1)
		}
	default:
	}
}

// StopWork cancels the currently running job, if any, leaving the worker's
// goroutine ready to accept further Submit calls.
func (w *Worker[Req, Res]) StopWork() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		if w.metrics != nil {
			w.metrics.JobsCancelled.Inc()
		}
		w.cancel = nil
	}
}

// Stop cancels any running job and shuts the worker down for good.
func (w *Worker[Req, Res]) Stop() {
	w.StopWork()
	close(w.done)
}
