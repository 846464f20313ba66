package stream

// Transformer is the hook of a [Transform]. Transform is called with each
// input chunk, in order, one at a time. It may push zero or more output
// chunks, and must call cb exactly once, synchronously or later.
type Transformer[In, Out any] interface {
	Transform(chunk In, push func(Out) bool, cb func(err error))
}

// TransformFunc adapts a function to a [Transformer].
type TransformFunc[In, Out any] func(chunk In, push func(Out) bool, cb func(err error))

// Transform implements [Transformer].
func (f TransformFunc[In, Out]) Transform(chunk In, push func(Out) bool, cb func(err error)) {
	f(chunk, push, cb)
}

// Flusher is an optional [Transformer] capability. Flush is called once
// after the last input chunk has been transformed, before the output side
// is ended.
type Flusher[Out any] interface {
	Flush(push func(Out) bool, cb func(err error))
}

// Transform is a duplex stream, where chunks written to the [Writable] side
// are transformed, and pushed to the [Readable] side.
//
// Both sides share destroy state: an error on either destroys both, and
// 'error' and 'close' are emitted once. Write backpressure couples to the
// readable side, as the transform callback is withheld while the output
// buffer is full.
type Transform[In, Out any] struct {
	*Readable[Out]
	*Writable[In]
	base    *streamBase
	t       Transformer[In, Out]
	pending func(error)
}

var (
	_ ReadableStream[string] = (*Transform[[]byte, string])(nil)
	_ WritableStream[[]byte] = (*Transform[[]byte, string])(nil)
)

// NewTransform constructs a [Transform] using t. It panics if the options
// are invalid, e.g. [WithScheduler] was not provided.
func NewTransform[In, Out any](t Transformer[In, Out], opts ...Option) *Transform[In, Out] {
	if t == nil {
		panic("stream: transformer must not be nil")
	}
	cfg := mustResolveOptions(opts)
	base := newStreamBase(cfg)
	if cfg.destroy == nil {
		if d, ok := t.(Destroyer); ok {
			base.destroyHook = d.Destroy
		}
	}

	x := &Transform[In, Out]{base: base, t: t}
	x.Readable = newReadable[Out](base, cfg, SourceFunc[Out](x.read))
	x.Readable.sync = false
	x.Writable = newWritable[In](base, cfg, SinkFunc[In](x.write))
	if x.Writable.final == nil {
		x.Writable.final = x.flush
	} else {
		x.Writable.OnPrefinish(func() { x.flush(nil) })
	}
	return x
}

func (x *Transform[In, Out]) write(chunk In, callback func(error)) {
	r := x.Readable
	length := r.queue.Size()
	var called bool
	x.t.Transform(chunk, r.Push, func(err error) {
		if called {
			x.base.logger.Warning().
				Err(err).
				Log(`stream: transform callback called multiple times`)
			return
		}
		called = true
		switch {
		case err != nil:
			callback(err)
		case r.ended:
			x.base.sched.Schedule(func() { callback(nil) })
		case x.Writable.ended || length == r.queue.Size() || r.queue.Size() < r.hwm:
			callback(nil)
		default:
			x.pending = callback
		}
	})
}

// outputWaiter is implemented by transformers that push asynchronously,
// and need to know when the output buffer is read from.
type outputWaiter interface {
	outputWanted()
}

func (x *Transform[In, Out]) read(*Readable[Out], int) {
	if cb := x.pending; cb != nil {
		x.pending = nil
		cb(nil)
	}
	if v, ok := x.t.(outputWaiter); ok {
		v.outputWanted()
	}
}

// flush runs the Flusher, if any, then ends the readable side. If cb is nil,
// a flush error destroys the stream.
func (x *Transform[In, Out]) flush(cb func(error)) {
	done := func(err error) {
		switch {
		case cb != nil:
			cb(err)
		case err != nil:
			x.base.Destroy(err)
		}
	}
	f, ok := x.t.(Flusher[Out])
	if !ok || x.base.destroyed {
		x.Readable.PushEnd()
		done(nil)
		return
	}
	var called bool
	f.Flush(x.Readable.Push, func(err error) {
		if called {
			x.base.logger.Warning().
				Err(err).
				Log(`stream: flush callback called multiple times`)
			return
		}
		called = true
		if err != nil {
			done(err)
			return
		}
		x.Readable.PushEnd()
		done(nil)
	})
}

// Destroy implements [Stream], destroying both sides.
func (x *Transform[In, Out]) Destroy(err error) { x.base.Destroy(err) }

// Destroyed reports whether the stream has been destroyed.
func (x *Transform[In, Out]) Destroyed() bool { return x.base.Destroyed() }

// Closed reports whether the 'close' event has been emitted.
func (x *Transform[In, Out]) Closed() bool { return x.base.Closed() }

// Errored returns the error recorded for the stream, if any.
func (x *Transform[In, Out]) Errored() error { return x.base.Errored() }

// OnError registers fn for the 'error' event.
func (x *Transform[In, Out]) OnError(fn func(err error)) ListenerID { return x.base.OnError(fn) }

// OnClose registers fn for the 'close' event.
func (x *Transform[In, Out]) OnClose(fn func()) ListenerID { return x.base.OnClose(fn) }

// Off removes the listener registered as id, reporting whether it was found.
func (x *Transform[In, Out]) Off(id ListenerID) bool { return x.base.Off(id) }

// ListenerCount returns the number of listeners registered for event.
func (x *Transform[In, Out]) ListenerCount(event Event) int { return x.base.ListenerCount(event) }

func (x *Transform[In, Out]) core() *streamBase { return x.base }

// NewPassThrough constructs a [Transform] that forwards every chunk
// unchanged.
func NewPassThrough[T any](opts ...Option) *Transform[T, T] {
	return NewTransform[T, T](TransformFunc[T, T](func(chunk T, push func(T) bool, cb func(error)) {
		push(chunk)
		cb(nil)
	}), opts...)
}

// NewMap constructs a [Transform] that maps each chunk with fn. An error
// from fn destroys the stream.
func NewMap[In, Out any](fn func(In) (Out, error), opts ...Option) *Transform[In, Out] {
	if fn == nil {
		panic("stream: map function must not be nil")
	}
	return NewTransform[In, Out](TransformFunc[In, Out](func(chunk In, push func(Out) bool, cb func(error)) {
		out, err := fn(chunk)
		if err != nil {
			cb(err)
			return
		}
		push(out)
		cb(nil)
	}), opts...)
}

// NewFilter constructs a [Transform] that forwards only the chunks for
// which keep returns true.
func NewFilter[T any](keep func(T) bool, opts ...Option) *Transform[T, T] {
	if keep == nil {
		panic("stream: filter function must not be nil")
	}
	return NewTransform[T, T](TransformFunc[T, T](func(chunk T, push func(T) bool, cb func(error)) {
		if keep(chunk) {
			push(chunk)
		}
		cb(nil)
	}), opts...)
}
