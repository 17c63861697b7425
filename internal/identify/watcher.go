package identify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agrovision/cropscan/internal/domain"
)

// StatusFunc performs one status query.
type StatusFunc func(ctx context.Context, taskID string) (domain.Task, error)

// Update is one observation delivered to the watch callback. Err is set
// for transport failures, which do not stop the watch.
type Update struct {
	Task domain.Task
	Err  error
}

// Watcher observes tasks at a fixed interval until they reach a terminal
// state. Each Watch is an independent instance owning its own cancellation;
// watchers share nothing but the query function.
type Watcher struct {
	status   StatusFunc
	interval time.Duration
}

func NewWatcher(status StatusFunc, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Watcher{status: status, interval: interval}
}

// Watch is a handle on one running poll loop.
type Watch struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stopped bool
}

// Stop cancels the watch. No update is delivered after Stop returns, even
// for a query already in flight; its result is dropped.
func (w *Watch) Stop() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()
}

// Done is closed when the loop has exited, whether by terminal state or
// cancellation.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// emit delivers u unless the watch was stopped. terminal marks the watch
// stopped after delivery so nothing can follow a terminal update.
func (w *Watch) emit(onUpdate func(Update), u Update, terminal bool) bool {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return false
	}
	if terminal {
		w.stopped = true
	}
	w.mu.Unlock()

	onUpdate(u)
	return true
}

// Watch queries taskID immediately and then at the configured interval,
// invoking onUpdate on every observed status change and exactly once for
// the terminal state. Transport failures are reported through onUpdate and
// polling continues; a session declared expired ends the watch, since no
// further query can succeed. A task that never terminates is the caller's
// problem to time out, via ctx or Stop.
func (wr *Watcher) Watch(ctx context.Context, taskID string, onUpdate func(Update)) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		defer cancel()

		last, alive := wr.query(ctx, taskID, onUpdate, w, domain.TaskStatus(""), true)
		if !alive {
			return
		}

		ticker := time.NewTicker(wr.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			last, alive = wr.query(ctx, taskID, onUpdate, w, last, false)
			if !alive {
				return
			}
		}
	}()

	return w
}

// query performs one poll. It returns the last observed status and whether
// the loop should keep going.
func (wr *Watcher) query(
	ctx context.Context,
	taskID string,
	onUpdate func(Update),
	w *Watch,
	last domain.TaskStatus,
	first bool,
) (domain.TaskStatus, bool) {
	task, err := wr.status(ctx, taskID)
	if ctx.Err() != nil {
		return last, false
	}
	if err != nil {
		// An expired session ends the watch; further polls could only
		// fail the same way. The error keeps its re-login flag.
		if domain.NeedsRelogin(err) {
			w.emit(onUpdate, Update{Err: err}, true)
			return last, false
		}

		perr := domain.NewError(domain.KindPollingTransport, "poll task "+taskID, err)
		if !w.emit(onUpdate, Update{Err: perr}, false) {
			return last, false
		}
		return last, true
	}

	// Backend transitions are monotonic; a status behind the last one
	// observed is a stale read and is skipped.
	if !first && task.Status.Before(last) {
		slog.Debug("stale status observation skipped",
			slog.String("task_id", taskID),
			slog.String("status", string(task.Status)),
		)
		return last, true
	}

	terminal := task.Status.Terminal()
	if first || task.Status != last || terminal && !last.Terminal() {
		if !w.emit(onUpdate, Update{Task: task}, terminal) {
			return last, false
		}
	}

	return task.Status, !terminal
}
