// Package queue runs the engine's maintenance goroutine: a single worker
// that applies queued housekeeping ops in order and runs an optional idle
// task on a fixed interval. It never touches the audio goroutine.
package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// DefaultStopTimeout bounds how long Close waits for the worker to exit.
const DefaultStopTimeout = 500 * time.Millisecond

var (
	// ErrClosed is returned when enqueuing on a stopped queue.
	ErrClosed = errors.New("queue closed")
	// ErrNotStarted is returned when enqueuing before Start.
	ErrNotStarted = errors.New("queue not started")
	// ErrStopTimeout is returned when the worker did not exit in time.
	ErrStopTimeout = errors.New("queue worker did not stop in time")
)

// Op is a maintenance operation. It receives a context that is canceled on
// shutdown. It returns an error only for failures worth reporting.
type Op interface {
	Apply(ctx context.Context) error
}

// Func is a helper to adapt functions into Op.
type Func func(ctx context.Context) error

func (f Func) Apply(ctx context.Context) error { return f(ctx) }

// Option configures a Queue.
type Option func(*Queue)

// WithIdle runs fn every interval on the worker goroutine.
func WithIdle(interval time.Duration, fn func(ctx context.Context)) Option {
	return func(q *Queue) {
		q.interval = interval
		q.idle = fn
	}
}

// WithErrorHandler receives errors returned by ops.
func WithErrorHandler(fn func(error)) Option {
	return func(q *Queue) { q.onError = fn }
}

// Queue serializes maintenance ops onto one goroutine.
type Queue struct {
	ch      chan Op
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool

	interval time.Duration
	idle     func(ctx context.Context)
	onError  func(error)
}

// New creates a queue with a fixed buffer.
func New(buffer int, opts ...Option) *Queue {
	if buffer <= 0 {
		buffer = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		ch:     make(chan Op, buffer),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Start begins the worker goroutine. Safe to call multiple times.
func (q *Queue) Start() {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	go q.run()
}

func (q *Queue) run() {
	defer close(q.done)

	var tick <-chan time.Time
	if q.idle != nil && q.interval > 0 {
		t := time.NewTicker(q.interval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-q.ctx.Done():
			return
		case op := <-q.ch:
			if op == nil {
				continue
			}
			q.apply(op)
		case <-tick:
			q.idle(q.ctx)
		}
	}
}

func (q *Queue) apply(op Op) {
	if err := op.Apply(q.ctx); err != nil && q.onError != nil {
		q.onError(err)
	}
}

// Enqueue adds an operation to the queue.
func (q *Queue) Enqueue(op Op) error {
	if q == nil || q.ch == nil {
		return ErrNotStarted
	}
	if !q.started.Load() {
		return ErrNotStarted
	}
	// With buffer room select would pick at random once closed.
	if q.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case q.ch <- op:
		return nil
	case <-q.ctx.Done():
		return ErrClosed
	}
}

// RunSync enqueues fn and waits for it to complete, returning its error.
func (q *Queue) RunSync(ctx context.Context, fn Func) error {
	done := make(chan error, 1)
	if err := q.Enqueue(Func(func(opCtx context.Context) error {
		err := fn(opCtx)
		done <- err
		return err
	})); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrClosed
	}
}

// CloseTimeout stops the worker and waits at most d for it to exit. Ops
// still queued are dropped. A worker stuck in an op is abandoned and
// ErrStopTimeout is returned.
func (q *Queue) CloseTimeout(d time.Duration) error {
	if q == nil {
		return nil
	}
	q.cancel()
	if !q.started.Load() {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Close stops the worker with DefaultStopTimeout.
func (q *Queue) Close() error { return q.CloseTimeout(DefaultStopTimeout) }
