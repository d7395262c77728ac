package warm

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"github.com/roach88/knhk/internal/beat"
	"github.com/roach88/knhk/internal/engine"
)

var (
	// ErrClosed is returned by Park after Close.
	ErrClosed = errors.New("warm queue closed")

	// ErrFull is returned by Park when the queue is at capacity.
	ErrFull = errors.New("warm queue full")
)

// DefaultCapacity bounds a queue created without WithCapacity.
const DefaultCapacity = 4096

// Handler processes one parked delta off the hot path.
type Handler func(ctx context.Context, p engine.ParkedDelta) error

// Queue is a FIFO of parked deltas. It implements engine.OverflowSink:
// Park never blocks.
type Queue struct {
	mu     sync.Mutex
	items  []engine.ParkedDelta
	closed bool
	signal chan struct{} // buffered, size 1

	capacity int
	pending  *xsync.MapOf[uint64, int] // epoch -> parked deltas not yet handled
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity bounds the number of queued deltas.
func WithCapacity(n int) Option {
	return func(q *Queue) { q.capacity = n }
}

// WithRate paces Drain to at most r deltas per second with the given burst.
func WithRate(r rate.Limit, burst int) Option {
	return func(q *Queue) { q.limiter = rate.NewLimiter(r, burst) }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// NewQueue creates an empty queue. Without WithRate, Drain is unpaced.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		items:    make([]engine.ParkedDelta, 0, 64),
		signal:   make(chan struct{}, 1),
		capacity: DefaultCapacity,
		pending:  xsync.NewMapOf[uint64, int](),
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

// Park appends p to the queue.
func (q *Queue) Park(_ context.Context, p engine.ParkedDelta) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if len(q.items) >= q.capacity {
		return ErrFull
	}
	q.items = append(q.items, p)
	q.pending.Compute(beat.EpochOf(p.Cycle), func(n int, _ bool) (int, bool) {
		return n + 1, false
	})

	// Coalesce: one buffered signal is enough to wake the drainer.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return nil
}

// TryDequeue removes the front delta without blocking.
func (q *Queue) TryDequeue() (engine.ParkedDelta, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return engine.ParkedDelta{}, false
	}
	p := q.items[0]
	q.items[0] = engine.ParkedDelta{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return p, true
}

// Wait returns a channel that signals when deltas may be available. It is
// closed by Close.
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued deltas.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns how many deltas parked during epoch are not yet handled.
func (q *Queue) Pending(epoch uint64) int {
	n, _ := q.pending.Load(epoch)
	return n
}

// Close stops accepting deltas and wakes the drainer. Queued deltas can
// still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// done marks one delta of epoch as handled.
func (q *Queue) done(epoch uint64) {
	q.pending.Compute(epoch, func(n int, _ bool) (int, bool) {
		return n - 1, n <= 1
	})
}

// Drain hands queued deltas to h, paced by the queue's rate limit, until
// ctx is done or the queue is closed and empty. Handler errors are logged;
// retrying is the handler's business.
func (q *Queue) Drain(ctx context.Context, h Handler) error {
	for {
		p, ok := q.TryDequeue()
		if !ok {
			if q.isClosed() {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.Wait():
			}
			continue
		}

		if err := q.limiter.Wait(ctx); err != nil {
			// Put it back at the front so a later drain sees it.
			q.requeue(p)
			return err
		}
		if err := h(ctx, p); err != nil {
			q.logger.Warn("warm handler failed",
				"domain", p.Domain,
				"cycle", p.Cycle,
				"cause", p.Cause.String(),
				"error", err)
		}
		q.done(beat.EpochOf(p.Cycle))
	}
}

func (q *Queue) requeue(p engine.ParkedDelta) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]engine.ParkedDelta{p}, q.items...)
}

// Flush hands every delta queued at the time of the call to h, in order,
// without pacing. Deltas h parks again stay queued for the next call.
// Returns the number handled.
func (q *Queue) Flush(ctx context.Context, h Handler) int {
	n := q.Len()
	for i := 0; i < n; i++ {
		p, ok := q.TryDequeue()
		if !ok {
			return i
		}
		if err := h(ctx, p); err != nil {
			q.logger.Warn("warm handler failed",
				"domain", p.Domain,
				"cycle", p.Cycle,
				"cause", p.Cause.String(),
				"error", err)
		}
		q.done(beat.EpochOf(p.Cycle))
	}
	return n
}
