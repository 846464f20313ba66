package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
)

// Scheduler defers continuations to a later turn, like a next-tick queue.
//
// Implementations must run tasks in FIFO order, must never run a task
// synchronously from within Schedule, and must be safe to call from any
// goroutine. Tasks run one at a time, on a single goroutine.
type Scheduler interface {
	Schedule(fn func())
}

// Loop is the event loop surface used by [NewLoopScheduler]. It is
// satisfied by *eventloop.Loop from github.com/joeycumines/go-eventloop.
type Loop interface {
	// Submit submits a task to the external queue for execution on the loop.
	Submit(func()) error

	// SubmitInternal submits a task to the internal priority queue.
	// These tasks are processed before external tasks.
	SubmitInternal(func()) error
}

// LoopScheduler schedules continuations on an event loop's internal queue.
type LoopScheduler struct {
	loop    Loop
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter
	dropped atomic.Uint64
}

// droppedLogRates limits how often dropped tasks are logged, as every
// continuation of every stream on a terminated loop is dropped.
var droppedLogRates = map[time.Duration]int{
	time.Second: 1,
	time.Minute: 10,
}

var (
	_ Scheduler = (*LoopScheduler)(nil)
	_ Scheduler = (*Queue)(nil)
)

// NewLoop constructs an event loop for use with [NewLoopScheduler].
//
// The loop's fast path is disabled, as it runs tasks submitted from the
// loop goroutine inline, which a [Scheduler] must never do.
func NewLoop(opts ...eventloop.LoopOption) (*eventloop.Loop, error) {
	opts = append(opts[:len(opts):len(opts)], eventloop.WithFastPathMode(eventloop.FastPathDisabled))
	return eventloop.New(opts...)
}

// NewLoopScheduler returns a [Scheduler] backed by loop. Tasks submitted
// after the loop has terminated are dropped, and logged at error level,
// subject to rate limiting.
//
// The loop must queue every submitted task, including those submitted from
// the loop goroutine. An *eventloop.Loop must therefore be constructed with
// its fast path disabled, e.g. using [NewLoop].
func NewLoopScheduler(loop Loop, logger *logiface.Logger[logiface.Event]) *LoopScheduler {
	if loop == nil {
		panic("stream: loop must not be nil")
	}
	return &LoopScheduler{
		loop:    loop,
		logger:  logger,
		limiter: catrate.NewLimiter(droppedLogRates),
	}
}

// Schedule implements [Scheduler].
func (x *LoopScheduler) Schedule(fn func()) {
	if err := x.loop.SubmitInternal(fn); err != nil {
		n := x.dropped.Add(1)
		if _, ok := x.limiter.Allow(err.Error()); ok {
			x.logger.Err().
				Err(err).
				Int(`dropped`, int(n)).
				Log(`stream: dropped scheduled task`)
		}
	}
}

// Dropped returns the number of tasks dropped because the loop rejected
// them.
func (x *LoopScheduler) Dropped() uint64 { return x.dropped.Load() }

// Submit runs fn on the loop's external queue. It is intended for entering
// the loop from other goroutines, e.g. to construct streams.
func (x *LoopScheduler) Submit(fn func()) error {
	return x.loop.Submit(fn)
}

// Queue is a manually driven [Scheduler], for deterministic tests and for
// hosting streams on a dedicated goroutine (see [Queue.Run]).
//
// The zero value is ready to use.
type Queue struct {
	tasks     []func()
	wake      chan struct{}
	scheduled uint64
	mu        sync.Mutex
}

// Schedule implements [Scheduler].
func (x *Queue) Schedule(fn func()) {
	if fn == nil {
		panic("stream: nil task")
	}
	x.mu.Lock()
	x.tasks = append(x.tasks, fn)
	x.scheduled++
	wake := x.wake
	x.mu.Unlock()
	if wake != nil {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

// Step runs the oldest pending task, returning false if there was none.
func (x *Queue) Step() bool {
	x.mu.Lock()
	if len(x.tasks) == 0 {
		x.mu.Unlock()
		return false
	}
	fn := x.tasks[0]
	x.tasks[0] = nil
	x.tasks = x.tasks[1:]
	if len(x.tasks) == 0 {
		x.tasks = nil
	}
	x.mu.Unlock()
	fn()
	return true
}

// Drain runs tasks until none are pending, including tasks scheduled by the
// tasks it runs. It returns the number of tasks run.
func (x *Queue) Drain() (n int) {
	for x.Step() {
		n++
	}
	return n
}

// Len returns the number of pending tasks.
func (x *Queue) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.tasks)
}

// Scheduled returns the total number of tasks ever scheduled.
func (x *Queue) Scheduled() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.scheduled
}

// Run runs tasks as they are scheduled, until ctx is done. Only one Run may
// be active at a time, and Step or Drain must not be called concurrently
// with it.
func (x *Queue) Run(ctx context.Context) error {
	x.mu.Lock()
	if x.wake != nil {
		x.mu.Unlock()
		panic("stream: queue already running")
	}
	wake := make(chan struct{}, 1)
	x.wake = wake
	x.mu.Unlock()

	defer func() {
		x.mu.Lock()
		x.wake = nil
		x.mu.Unlock()
	}()

	for {
		x.Drain()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}
