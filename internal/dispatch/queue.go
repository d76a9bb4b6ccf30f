// Package dispatch runs store writes off the input path. Tasks run one at
// a time in submission order, so a client's append always reaches the
// store before a later undo of the same stroke.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"
)

// ErrClosed is returned by Wait after Close.
var ErrClosed = errors.New("dispatch: queue closed")

const DefaultCapacity = 256

// Task is a unit of fire-and-forget work.
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
	done chan struct{}
}

// Queue is a FIFO with a single worker.
type Queue struct {
	jobs    chan job
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	onError func(name string, err error)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type Options struct {
	Capacity int
	// Timeout bounds each task. Zero means no per-task deadline.
	Timeout time.Duration
	// OnError observes failed tasks after they are logged.
	OnError func(name string, err error)
}

func New(ctx context.Context, opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	cctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		jobs:    make(chan job, opts.Capacity),
		ctx:     cctx,
		cancel:  cancel,
		timeout: opts.Timeout,
		onError: opts.OnError,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Go enqueues fn without blocking. It reports false when the queue is
// closed or full; the task is dropped and logged.
func (q *Queue) Go(name string, fn Task) bool {
	return q.submit(job{name: name, fn: fn})
}

// Wait blocks until every task submitted before it has run.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	if !q.submit(job{name: "barrier", done: done}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) submit(j job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		glog.Warningf("[dispatch] dropping %s: queue closed", j.name)
		return false
	}
	select {
	case q.jobs <- j:
		return true
	default:
		glog.Warningf("[dispatch] dropping %s: queue full", j.name)
		return false
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for j := range q.jobs {
		if j.fn != nil {
			q.exec(j)
		}
		if j.done != nil {
			close(j.done)
		}
	}
}

func (q *Queue) exec(j job) {
	ctx := q.ctx
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("[dispatch] %s panicked: %v", j.name, r)
		}
	}()
	if err := j.fn(ctx); err != nil {
		glog.Warningf("[dispatch] %s failed: %v", j.name, err)
		if q.onError != nil {
			q.onError(j.name, err)
		}
		return
	}
	glog.V(2).Infof("[dispatch] %s done", j.name)
}

// Close stops accepting tasks, runs what is queued and waits for the worker.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
	q.cancel()
}
