package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestEnqueueRunsJobs(t *testing.T) {
	d := NewDispatcher(8, time.Second, nil)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 5; i++ {
		ok := d.Enqueue("job", func(ctx context.Context) error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
		if !ok {
			t.Fatal("Enqueue returned false with room in the buffer")
		}
	}
	d.Close()

	if ran != 5 {
		t.Errorf("ran = %d, want 5", ran)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	d := NewDispatcher(1, time.Second, nil)

	// Occupy the worker, then overfill the buffer.
	d.Enqueue("blocker", func(ctx context.Context) error {
		<-block
		return nil
	})

	dropped := 0
	for i := 0; i < 4; i++ {
		if !d.Enqueue("overflow", func(ctx context.Context) error { return nil }) {
			dropped++
		}
	}
	close(block)
	d.Close()

	if dropped == 0 {
		t.Error("expected at least one dropped job")
	}
	if d.Dropped() != int64(dropped) {
		t.Errorf("Dropped() = %d, want %d", d.Dropped(), dropped)
	}
}

func TestJobErrorsAreSwallowed(t *testing.T) {
	d := NewDispatcher(4, time.Second, nil)
	done := false
	d.Enqueue("failing", func(ctx context.Context) error {
		return errors.New("remote unavailable")
	})
	d.Enqueue("after", func(ctx context.Context) error {
		done = true
		return nil
	})
	d.Close()

	if !done {
		t.Error("job after a failing job did not run")
	}
}

func TestJobGetsDeadline(t *testing.T) {
	d := NewDispatcher(1, 50*time.Millisecond, nil)
	var hadDeadline bool
	d.Enqueue("deadline", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	})
	d.Close()

	if !hadDeadline {
		t.Error("job context has no deadline")
	}
}
