package remote

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// syncRequest is one queued synchronization pass.
type syncRequest struct {
	userID   string
	moduleID string
}

// Worker runs synchronization passes off the caller's path. Enqueue
// never blocks; a full queue drops the request, which is safe because
// the next completion event or a manual sync covers the same files.
type Worker struct {
	syncer  *Syncer
	log     *slog.Logger
	queue   chan syncRequest
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) WorkerOption {
	return func(w *Worker) { w.queue = make(chan syncRequest, n) }
}

// WithSyncTimeout bounds each synchronization pass.
func WithSyncTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) { w.timeout = d }
}

// NewWorker starts a background worker over the syncer.
func NewWorker(syncer *Syncer, log *slog.Logger, opts ...WorkerOption) *Worker {
	w := &Worker{
		syncer:  syncer,
		log:     log,
		queue:   make(chan syncRequest, 16),
		timeout: 2 * time.Minute,
		done:    make(chan struct{}),
	}
	if w.log == nil {
		w.log = slog.Default()
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Enqueue schedules a synchronization pass for (user, module). It
// returns immediately; if the queue is full the request is dropped with
// a warning.
func (w *Worker) Enqueue(userID, moduleID string) {
	select {
	case w.queue <- syncRequest{userID: userID, moduleID: moduleID}:
	default:
		w.log.Warn("sync queue full, dropping request",
			"user", userID, "module", moduleID)
	}
}

// Close stops accepting requests and waits for the queued passes to
// drain.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.queue) })
	<-w.done
}

func (w *Worker) run() {
	defer close(w.done)
	for req := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		res := w.syncer.SyncUser(ctx, req.userID, req.moduleID)
		cancel()
		if !res.OK() && res.Skipped == "" {
			w.log.Warn("background sync incomplete",
				"user", req.userID, "module", req.moduleID,
				"failed", res.Failed)
		}
	}
}
