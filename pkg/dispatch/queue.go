// Package dispatch runs callbacks for one entity strictly in order on a
// dedicated goroutine.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/tevino/abool"
	"go.uber.org/zap"
)

// DefaultSlowThreshold is how long a callback may run before it is logged
// as slow.
const DefaultSlowThreshold = 100 * time.Millisecond

type item struct {
	run  func()
	drop func()
}

// Queue executes posted functions one at a time, in posting order, on its
// own goroutine. Different queues run concurrently.
type Queue struct {
	name   string
	logger *zap.SugaredLogger
	slow   time.Duration

	mu       sync.Mutex
	cond     *sync.Cond
	items    deque.Deque
	closed   *abool.AtomicBool
	draining bool
	done     chan struct{}

	// running is set by the worker while a function is executing.
	running bool
}

// NewQueue starts a queue. name is used only for logging.
func NewQueue(name string, logger *zap.SugaredLogger) *Queue {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	q := &Queue{
		name:   name,
		logger: logger,
		slow:   DefaultSlowThreshold,
		closed: abool.New(),
		done:   make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for q.items.Len() == 0 && !q.closed.IsSet() {
			q.cond.Wait()
		}
		if q.items.Len() == 0 || (q.closed.IsSet() && !q.draining) {
			q.mu.Unlock()
			return
		}
		next := q.items.PopFront().(item)
		q.running = true
		q.mu.Unlock()

		q.invoke(next.run)

		q.mu.Lock()
		q.running = false
		q.mu.Unlock()
	}
}

func (q *Queue) invoke(fn func()) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorw("callback panicked",
				"queue", q.name,
				"panic", r,
			)
		}
		if elapsed := time.Since(start); elapsed > q.slow {
			q.logger.Warnw("slow callback",
				"queue", q.name,
				"duration_ms", elapsed.Milliseconds(),
			)
		}
	}()
	fn()
}

// Post schedules fn. It returns false once the queue is closed.
func (q *Queue) Post(fn func()) bool {
	return q.push(item{run: fn})
}

// PostOrDrop schedules fn like Post. If the queue is already closed, or is
// closed before fn starts, drop runs instead. drop runs on the goroutine
// that posted or on the one that called Close.
func (q *Queue) PostOrDrop(fn, drop func()) bool {
	if q.push(item{run: fn, drop: drop}) {
		return true
	}
	if drop != nil {
		drop()
	}
	return false
}

func (q *Queue) push(it item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed.IsSet() {
		return false
	}
	q.items.PushBack(it)
	q.cond.Signal()
	return true
}

// Close stops the queue and drops everything not yet started. No function
// posted to this queue starts after Close returns. When no function is
// executing, Close also waits for the worker goroutine to exit; when one
// is, Close returns at once, which lets a queued function close its own
// queue, and the worker exits as soon as that function returns.
func (q *Queue) Close() {
	q.mu.Lock()
	var dropped []item
	if q.closed.SetToIf(false, true) {
		for q.items.Len() > 0 {
			dropped = append(dropped, q.items.PopFront().(item))
		}
		if len(dropped) > 0 {
			q.logger.Debugw("dropping pending callbacks",
				"queue", q.name,
				"count", len(dropped),
			)
		}
		q.cond.Broadcast()
	}
	busy := q.running
	q.mu.Unlock()

	for _, it := range dropped {
		if it.drop != nil {
			it.drop()
		}
	}
	if !busy {
		<-q.done
	}
}

// Drain stops accepting new functions but lets everything already posted
// run. Like Close, it waits for the worker to exit only when no function
// is executing at the time of the call.
func (q *Queue) Drain() {
	q.mu.Lock()
	if q.closed.SetToIf(false, true) {
		q.draining = true
		q.cond.Broadcast()
	}
	busy := q.running
	q.mu.Unlock()

	if !busy {
		<-q.done
	}
}

func (q *Queue) Closed() bool {
	return q.closed.IsSet()
}

// Done is closed once the worker goroutine has exited.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}

// Sync waits until every function posted before the call has run. It
// returns ctx.Err() on timeout and ErrClosed if the queue closes first.
// A function running on q that calls Sync waits until ctx is done.
func (q *Queue) Sync(ctx context.Context) error {
	marker := make(chan struct{})
	if !q.Post(func() { close(marker) }) {
		return ErrClosed
	}
	select {
	case <-marker:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
