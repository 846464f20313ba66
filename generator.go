package stream

import (
	"context"
	"iter"
)

// GeneratorFunc is the body of a generator stage. It ranges over in, and
// calls yield with each output, stopping if yield returns false. ctx is
// canceled when the stage is destroyed.
//
// Returning nil ends the output. Returning before in is exhausted discards
// any further input. Returning an error, or panicking, destroys the stage.
type GeneratorFunc[In, Out any] func(ctx context.Context, in iter.Seq[In], yield func(Out) bool) error

// NewGenerator constructs a [Transform] that runs fn on its own goroutine,
// started on the first input (or end of input).
//
// Each input chunk is acknowledged once fn pulls it, and each call to yield
// blocks until the output buffer has room, which is how backpressure reaches
// fn. All stream state is touched only from scheduled continuations.
func NewGenerator[In, Out any](fn GeneratorFunc[In, Out], opts ...Option) *Transform[In, Out] {
	if fn == nil {
		panic("stream: generator function must not be nil")
	}
	g := &generator[In, Out]{
		fn:     fn,
		in:     make(chan In, 1),
		resume: make(chan bool, 1),
	}
	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.x = NewTransform[In, Out](g, opts...)
	g.x.base.beforeDestroy(g.cancel)
	return g.x
}

type generator[In, Out any] struct {
	ctx     context.Context
	fn      GeneratorFunc[In, Out]
	x       *Transform[In, Out]
	cancel  context.CancelFunc
	in      chan In
	resume  chan bool
	pending func(error)
	flushed func(error)
	started bool
	exited  bool
	waiting bool
}

func (g *generator[In, Out]) Transform(chunk In, _ func(Out) bool, cb func(error)) {
	if g.exited {
		cb(nil)
		return
	}
	g.start()
	g.pending = cb
	// the previous chunk was pulled before its callback, so this never blocks
	g.in <- chunk
}

func (g *generator[In, Out]) Flush(_ func(Out) bool, cb func(error)) {
	if g.exited {
		cb(nil)
		return
	}
	g.start()
	g.flushed = cb
	close(g.in)
}

func (g *generator[In, Out]) outputWanted() {
	if g.waiting {
		g.waiting = false
		g.resume <- true
	}
}

func (g *generator[In, Out]) start() {
	if g.started {
		return
	}
	g.started = true
	go g.run()
}

func (g *generator[In, Out]) run() {
	err := g.call()
	g.x.base.sched.Schedule(func() { g.exit(err) })
}

func (g *generator[In, Out]) call() (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v}
		}
	}()
	return g.fn(g.ctx, g.input, g.yield)
}

// input is the iterator passed to fn, run on the generator goroutine.
func (g *generator[In, Out]) input(yield func(In) bool) {
	for {
		select {
		case <-g.ctx.Done():
			return
		case chunk, ok := <-g.in:
			if !ok {
				return
			}
			g.x.base.sched.Schedule(g.ack)
			if !yield(chunk) {
				return
			}
		}
	}
}

func (g *generator[In, Out]) ack() {
	if cb := g.pending; cb != nil {
		g.pending = nil
		cb(nil)
	}
}

// yield is passed to fn, run on the generator goroutine.
func (g *generator[In, Out]) yield(v Out) bool {
	if g.ctx.Err() != nil {
		return false
	}
	g.x.base.sched.Schedule(func() { g.push(v) })
	select {
	case ok := <-g.resume:
		return ok
	case <-g.ctx.Done():
		return false
	}
}

func (g *generator[In, Out]) push(v Out) {
	r := g.x.Readable
	if r.destroyed {
		g.resume <- false
		return
	}
	if r.Push(v) {
		g.resume <- true
		return
	}
	g.waiting = true
}

func (g *generator[In, Out]) exit(err error) {
	g.exited = true
	g.cancel()
	x := g.x
	if x.base.destroyed {
		return
	}
	if err != nil {
		x.base.logger.Debug().
			Err(err).
			Log(`stream: generator failed`)
		x.Destroy(err)
		return
	}
	x.Readable.PushEnd()
	g.ack()
	if cb := g.flushed; cb != nil {
		g.flushed = nil
		cb(nil)
	}
}
