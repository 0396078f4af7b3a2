package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueue_Enqueue_And_Close(t *testing.T) {
	q := New(8)
	q.Start()
	defer q.Close()

	var count int64
	for i := 0; i < 10; i++ {
		if err := q.Enqueue(Func(func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	if err := q.RunSync(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("run sync: %v", err)
	}

	if c := atomic.LoadInt64(&count); c != 10 {
		t.Fatalf("want 10 ops applied, got %d", c)
	}
}

func TestQueue_EnqueueBeforeStart(t *testing.T) {
	q := New(1)
	if err := q.Enqueue(Func(func(context.Context) error { return nil })); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("want ErrNotStarted, got %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close unstarted: %v", err)
	}
}

func TestQueue_IdleTicks(t *testing.T) {
	var ticks int64
	q := New(1, WithIdle(time.Millisecond, func(context.Context) { atomic.AddInt64(&ticks, 1) }))
	q.Start()
	time.Sleep(30 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if atomic.LoadInt64(&ticks) == 0 {
		t.Fatal("idle task never ran")
	}
}

func TestQueue_ErrorsReported(t *testing.T) {
	boom := errors.New("boom")
	got := make(chan error, 1)
	q := New(1, WithErrorHandler(func(err error) { got <- err }))
	q.Start()
	defer q.Close()

	if err := q.RunSync(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("run sync: want boom, got %v", err)
	}
	select {
	case err := <-got:
		if !errors.Is(err, boom) {
			t.Fatalf("handler got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("error handler not called")
	}
}

func TestQueue_CloseTimeoutIsBounded(t *testing.T) {
	q := New(1)
	q.Start()
	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	_ = q.Enqueue(Func(func(context.Context) error {
		close(started)
		<-release // ignores ctx on purpose
		return nil
	}))
	<-started

	begin := time.Now()
	err := q.CloseTimeout(20 * time.Millisecond)
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("want ErrStopTimeout, got %v", err)
	}
	if waited := time.Since(begin); waited > 500*time.Millisecond {
		t.Fatalf("close waited %v, want bounded", waited)
	}
	if err := q.Enqueue(Func(func(context.Context) error { return nil })); !errors.Is(err, ErrClosed) {
		t.Fatalf("enqueue after close: want ErrClosed, got %v", err)
	}
}

func TestQueue_EnqueueAfterCloseWithRoom(t *testing.T) {
	q := New(8)
	q.Start()
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := q.Enqueue(Func(func(context.Context) error { return nil })); !errors.Is(err, ErrClosed) {
			t.Fatalf("enqueue %d after close: want ErrClosed, got %v", i, err)
		}
	}
	if err := q.RunSync(context.Background(), func(context.Context) error { return nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("RunSync after close: want ErrClosed, got %v", err)
	}
}
