// Package ratelimit implements the Rate Limiter (spec §4.D): a token
// bucket over a FIFO queue gating calls into the Helper Client, with
// max-concurrency, a minimum dispatch interval, and per-tab cancellation
// of not-yet-started work.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamcore",
		Subsystem: "ratelimit",
		Name:      "queue_depth",
		Help:      "Number of pending helper invocations awaiting dispatch.",
	})
	dispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamcore",
		Subsystem: "ratelimit",
		Name:      "dispatched_total",
		Help:      "Total helper invocations dispatched.",
	})
	canceled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streamcore",
		Subsystem: "ratelimit",
		Name:      "canceled_total",
		Help:      "Total queued invocations dropped without running due to tab cancellation.",
	})
)

// Config holds the limiter's tuning knobs (spec §4.D defaults).
type Config struct {
	MaxConcurrent int
	MinInterval   time.Duration
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 2, MinInterval: 500 * time.Millisecond}
}

// Result is what a Future resolves to.
type Result[T any] struct {
	Value T
	Err   error
}

// Future is resolved exactly once, either with the result of the enqueued
// function or with a cancellation error.
type Future[T any] struct {
	ch chan Result[T]
}

// Wait blocks until the Future resolves or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	select {
	case r := <-f.ch:
		return r.Value, r.Err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// ErrCanceled is returned by a Future whose task was dropped by CancelTab
// before it started running.
var ErrCanceled = &canceledError{}

type canceledError struct{}

func (*canceledError) Error() string { return "ratelimit: task canceled before dispatch" }

type task struct {
	tabID       int64
	canceled    bool
	run         func()
	resolveDrop func()
}

// Limiter is the process-wide token-bucket FIFO queue (spec §4.D).
type Limiter struct {
	mu      sync.Mutex
	queue   []*task
	signal  chan struct{}
	sem     chan struct{}
	pacer   *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
	stop    chan struct{}
	stopped bool
}

// New creates a Limiter and starts its dispatch loop.
func New(cfg Config) *Limiter {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		signal: make(chan struct{}, 1),
		sem:    make(chan struct{}, cfg.MaxConcurrent),
		pacer:  rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
	}
	go l.dispatchLoop()
	return l
}

// Enqueue implements spec §4.D's enqueue(fn) → Future<T>. fn runs once the
// bucket permits; requests are started in enqueue order (ordering
// guarantee), though completion order is unconstrained. tabID tags the task
// for CancelTab.
func Enqueue[T any](l *Limiter, tabID int64, fn func(ctx context.Context) (T, error)) *Future[T] {
	fut := &Future[T]{ch: make(chan Result[T], 1)}

	t := &task{tabID: tabID}
	t.run = func() {
		defer func() { <-l.sem }()
		dispatched.Inc()
		v, err := fn(context.Background())
		fut.ch <- Result[T]{Value: v, Err: err}
	}
	t.resolveDrop = func() {
		var zero T
		fut.ch <- Result[T]{Value: zero, Err: ErrCanceled}
	}

	l.mu.Lock()
	l.queue = append(l.queue, t)
	queueDepth.Set(float64(len(l.queue)))
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}

	return fut
}

// CancelTab implements spec §4.D's cancellation rule: pending invocations
// tagged with tabID that have not yet started are dropped without running.
func (l *Limiter) CancelTab(tabID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	remaining := l.queue[:0]
	for _, t := range l.queue {
		if t.tabID == tabID {
			t.canceled = true
			canceled.Inc()
			t.resolveDrop()
			continue
		}
		remaining = append(remaining, t)
	}
	l.queue = remaining
	queueDepth.Set(float64(len(l.queue)))
}

// Stop halts the dispatch loop. Queued tasks are dropped without running.
func (l *Limiter) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	l.mu.Unlock()
	close(l.stop)
	l.cancel()
}

func (l *Limiter) dispatchLoop() {
	for {
		l.mu.Lock()
		empty := len(l.queue) == 0
		l.mu.Unlock()
		if empty {
			select {
			case <-l.signal:
				continue
			case <-l.stop:
				return
			}
		}

		if err := l.pacer.Wait(l.ctx); err != nil {
			return
		}

		select {
		case l.sem <- struct{}{}:
		case <-l.stop:
			return
		}

		// Pop only once a slot is held, so a task stays in the queue (and
		// reachable by CancelTab) until the moment it starts.
		t := l.popNext()
		if t == nil {
			<-l.sem
			continue
		}
		go t.run()
	}
}

// popNext removes and returns the head of the FIFO queue, skipping
// already-canceled entries. Returns nil if the queue is empty.
func (l *Limiter) popNext() *task {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) > 0 {
		t := l.queue[0]
		l.queue = l.queue[1:]
		queueDepth.Set(float64(len(l.queue)))
		if t.canceled {
			continue
		}
		return t
	}
	return nil
}
