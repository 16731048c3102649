// Package notify runs fire-and-forget remote calls. Anything enqueued here is
// advisory: failures are logged and swallowed, a full queue drops the job, and
// nothing is retried. Must-complete operations never go through this package.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type job struct {
	name string
	fn   func(context.Context) error
}

type Dispatcher struct {
	jobs    chan job
	timeout time.Duration
	log     *slog.Logger
	dropped atomic.Int64
	wg      sync.WaitGroup
}

func NewDispatcher(buffer int, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		jobs:    make(chan job, buffer),
		timeout: timeout,
		log:     log,
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// Enqueue hands off a best-effort job. It never blocks: when the buffer is
// full the job is dropped and counted. Must not be called after Close.
func (d *Dispatcher) Enqueue(name string, fn func(context.Context) error) bool {
	select {
	case d.jobs <- job{name: name, fn: fn}:
		return true
	default:
		d.dropped.Add(1)
		if d.log != nil {
			d.log.Warn("advisory job dropped, queue full", "job", name)
		}
		return false
	}
}

// Dropped returns how many jobs were discarded due to a full queue.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Close stops accepting work and waits for queued jobs to finish.
func (d *Dispatcher) Close() {
	close(d.jobs)
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := j.fn(ctx); err != nil && d.log != nil {
			d.log.Warn("advisory job failed", "job", j.name, "err", err)
		}
		cancel()
	}
}
