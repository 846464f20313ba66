package stream

import (
	"reflect"

	"github.com/joeycumines/go-stream/internal/chunkqueue"
)

// Sink is the consumer hook of a [Writable].
//
// Write must call cb exactly once, synchronously or later. It is not called
// again until cb has been called.
type Sink[T any] interface {
	Write(chunk T, cb func(err error))
}

// SinkFunc adapts a function to a [Sink].
type SinkFunc[T any] func(chunk T, cb func(err error))

// Write implements [Sink].
func (f SinkFunc[T]) Write(chunk T, cb func(err error)) { f(chunk, cb) }

// BatchSink is an optional [Sink] capability, used to flush more than one
// buffered chunk at once, e.g. on Uncork.
type BatchSink[T any] interface {
	Sink[T]
	Writev(chunks []T, cb func(err error))
}

// Finalizer is an optional [Sink] capability, called once all writes have
// completed, before 'finish'. Final must call cb exactly once.
type Finalizer interface {
	Final(cb func(err error))
}

// WritableStream is implemented by streams with a writable side, i.e.
// [*Writable] and [*Transform].
type WritableStream[T any] interface {
	Stream
	Write(chunk T, cb func(err error)) bool
	End(cb func(err error))
	EndWith(chunk T, cb func(err error))
	Cork()
	Uncork()
	OnDrain(fn func()) ListenerID
	OnFinish(fn func()) ListenerID
	NeedDrain() bool
	writableSide() *Writable[T]
}

type writeReq[T any] struct {
	chunk T
	cb    func(error)
}

// reqCodec measures buffered write requests by their chunk.
type reqCodec[T any] struct {
	chunk chunkqueue.Codec[T]
}

func (c reqCodec[T]) Size(req writeReq[T]) int { return c.chunk.Size(req.chunk) }

func (reqCodec[T]) Splittable() bool { return false }

func (reqCodec[T]) Split(writeReq[T], int) (writeReq[T], writeReq[T]) {
	panic("stream: write requests cannot be split")
}

func (reqCodec[T]) Join([]writeReq[T], int) writeReq[T] {
	panic("stream: write requests cannot be joined")
}

// Writable is the consumer side of a stream. It forwards writes to its
// [Sink] one at a time, buffering the rest, and signals backpressure via
// the return value of Write and the 'drain' event.
//
// A Writable must only be used from its scheduler's goroutine.
type Writable[T any] struct {
	*streamBase
	sink        Sink[T]
	batch       BatchSink[T]
	final       func(cb func(error))
	codec       chunkqueue.Codec[T]
	buffered    *chunkqueue.Queue[writeReq[T]]
	writecb     func(error)
	onFinished  []func(error)
	onDrain     listeners[func()]
	onFinish    listeners[func()]
	onPrefinish listeners[func()]
	hwm         int
	writelen    int
	corked      int
	pendingcb   int

	objectMode       bool
	ending           bool
	ended            bool
	finished         bool
	finalCalled      bool
	prefinished      bool
	needDrain        bool
	writing          bool
	sync             bool
	bufferProcessing bool
}

var (
	_ WritableStream[[]byte] = (*Writable[[]byte])(nil)
	_ writeHalf              = (*Writable[[]byte])(nil)
)

// NewWritable constructs a [Writable] that forwards to sink. It panics if
// the options are invalid, e.g. [WithScheduler] was not provided.
func NewWritable[T any](sink Sink[T], opts ...Option) *Writable[T] {
	if sink == nil {
		panic("stream: sink must not be nil")
	}
	cfg := mustResolveOptions(opts)
	base := newStreamBase(cfg)
	if cfg.destroy == nil {
		if d, ok := sink.(Destroyer); ok {
			base.destroyHook = d.Destroy
		}
	}
	w := newWritable(base, cfg, sink)
	if w.final == nil {
		if f, ok := sink.(Finalizer); ok {
			w.final = f.Final
		}
	}
	return w
}

func newWritable[T any](base *streamBase, cfg *streamOptions, sink Sink[T]) *Writable[T] {
	codec, objectMode := codecFor[T](cfg.objectMode)
	w := &Writable[T]{
		streamBase: base,
		sink:       sink,
		final:      cfg.final,
		codec:      codec,
		buffered:   chunkqueue.New[writeReq[T]](reqCodec[T]{chunk: codec}),
		hwm:        cfg.writableHighWaterMark(objectMode),
		objectMode: objectMode,
		sync:       true,
	}
	if b, ok := sink.(BatchSink[T]); ok {
		w.batch = b
	}
	base.w = w
	return w
}

func (w *Writable[T]) writableSide() *Writable[T] { return w }

func (w *Writable[T]) inputType() reflect.Type { return reflect.TypeFor[T]() }

func nop(error) {}

// Write forwards chunk to the sink, or buffers it. It returns false once
// the buffered length reached the high water mark, in which case the caller
// should wait for 'drain' before writing more. cb may be nil.
//
// Writing after End, or after Destroy, fails: cb receives an [*OpError] on
// a later turn, and the stream is destroyed.
func (w *Writable[T]) Write(chunk T, cb func(err error)) bool {
	ok, _ := w.write(chunk, cb)
	return ok
}

func (w *Writable[T]) write(chunk T, cb func(error)) (bool, error) {
	if cb == nil {
		cb = nop
	}
	var err error
	switch {
	case w.ending:
		err = opError(`write`, ErrWriteAfterEnd)
	case w.destroyed:
		err = opError(`write`, ErrDestroyed)
	}
	if err != nil {
		w.sched.Schedule(func() { cb(err) })
		w.fail(err)
		return false, err
	}
	w.pendingcb++
	return w.writeOrBuffer(chunk, cb), nil
}

func (w *Writable[T]) writeOrBuffer(chunk T, cb func(error)) bool {
	size := w.codec.Size(chunk)
	ret := w.Length()+size < w.hwm
	if !ret {
		w.needDrain = true
	}
	if w.writing || w.corked > 0 || w.errored != nil {
		w.buffered.Push(writeReq[T]{chunk: chunk, cb: cb})
	} else {
		w.doWrite(size, cb, func(onwrite func(error)) { w.sink.Write(chunk, onwrite) })
	}
	return ret && w.errored == nil && !w.destroyed
}

// doWrite starts a single sink operation, of the given size, completing cb.
func (w *Writable[T]) doWrite(size int, cb func(error), call func(onwrite func(error))) {
	w.writelen = size
	w.writecb = cb
	w.writing = true
	w.sync = true
	if w.destroyed {
		w.onwrite(opError(`write`, ErrDestroyed))
	} else {
		call(w.onwriteOnce())
	}
	w.sync = false
}

func (w *Writable[T]) onwriteOnce() func(error) {
	var called bool
	return func(err error) {
		if called {
			w.fail(ErrMultipleCallback)
			return
		}
		called = true
		w.onwrite(err)
	}
}

func (w *Writable[T]) onwrite(err error) {
	sync := w.sync
	cb := w.writecb
	w.writing = false
	w.writecb = nil
	w.writelen = 0

	if err != nil {
		if w.destroyed {
			w.recordLate(err)
		} else if w.errored == nil {
			w.errored = err
		}
		if sync {
			w.sched.Schedule(func() { w.onwriteError(err, cb) })
		} else {
			w.onwriteError(err, cb)
		}
		return
	}

	if w.buffered.Len() > 0 {
		w.clearBuffer()
	}
	if sync {
		w.sched.Schedule(func() { w.afterWrite(cb) })
	} else {
		w.afterWrite(cb)
	}
}

func (w *Writable[T]) onwriteError(err error, cb func(error)) {
	w.pendingcb--
	cb(err)
	w.errorBuffer()
	w.errorOrDestroy(err)
}

func (w *Writable[T]) afterWrite(cb func(error)) {
	if !w.ending && !w.destroyed && w.Length() == 0 && w.needDrain {
		w.needDrain = false
		emit0(&w.onDrain)
	}
	w.pendingcb--
	cb(nil)
	if w.destroyed {
		w.errorBuffer()
	}
	w.finishMaybe(false)
}

// errorBuffer fails every buffered write and pending End callback.
func (w *Writable[T]) errorBuffer() {
	if w.writing {
		return
	}
	for {
		req, ok := w.buffered.Shift()
		if !ok {
			break
		}
		req.cb(w.erroredOr(`write`))
	}
	fins := w.onFinished
	w.onFinished = nil
	for _, fn := range fins {
		fn(w.erroredOr(`end`))
	}
}

func (w *Writable[T]) erroredOr(op string) error {
	if w.errored != nil {
		return w.errored
	}
	return opError(op, ErrDestroyed)
}

func (w *Writable[T]) clearBuffer() {
	if w.corked > 0 || w.bufferProcessing || w.destroyed {
		return
	}
	n := w.buffered.Len()
	if n == 0 {
		return
	}
	w.bufferProcessing = true
	if n > 1 && w.batch != nil {
		w.pendingcb -= n - 1
		size := w.buffered.Size()
		reqs := w.buffered.Slice()
		w.buffered.Clear()
		chunks := make([]T, len(reqs))
		for i, req := range reqs {
			chunks[i] = req.chunk
		}
		cb := func(err error) {
			for _, req := range reqs {
				req.cb(err)
			}
		}
		w.doWrite(size, cb, func(onwrite func(error)) { w.batch.Writev(chunks, onwrite) })
	} else {
		for !w.writing {
			req, ok := w.buffered.Shift()
			if !ok {
				break
			}
			w.doWrite(w.codec.Size(req.chunk), req.cb, func(onwrite func(error)) { w.sink.Write(req.chunk, onwrite) })
		}
	}
	w.bufferProcessing = false
}

// Cork buffers all subsequent writes until a matching Uncork. Calls nest.
func (w *Writable[T]) Cork() { w.corked++ }

// Uncork reverses one Cork. When the last Cork is reversed, buffered writes
// are flushed, as a single batch if the sink is a [BatchSink].
func (w *Writable[T]) Uncork() {
	if w.corked > 0 {
		w.corked--
		if !w.writing {
			w.clearBuffer()
		}
	}
}

// End signals that no more data will be written. 'finish' is emitted once
// all writes have completed. cb, which may be nil, is called on finish, or
// with the error that prevented it.
func (w *Writable[T]) End(cb func(err error)) {
	var zero T
	w.end(zero, false, cb)
}

// EndWith writes a final chunk, then calls End.
func (w *Writable[T]) EndWith(chunk T, cb func(err error)) {
	w.end(chunk, true, cb)
}

func (w *Writable[T]) end(chunk T, hasChunk bool, cb func(error)) {
	var err error
	if hasChunk {
		_, err = w.write(chunk, nil)
	}
	if w.corked > 0 {
		w.corked = 1
		w.Uncork()
	}

	switch {
	case err != nil:
	case w.finished:
		err = opError(`end`, ErrAlreadyFinished)
	case w.destroyed:
		err = opError(`end`, ErrDestroyed)
	case w.errored == nil && !w.ending:
		w.ending = true
		w.finishMaybe(true)
		w.ended = true
	case w.errored != nil:
		err = w.errored
	}

	if cb != nil {
		if err == nil && w.destroyed && !w.finished {
			// failed synchronously, e.g. by the final hook
			err = w.erroredOr(`end`)
		}
		if err != nil || w.finished {
			w.sched.Schedule(func() { cb(err) })
		} else {
			w.onFinished = append(w.onFinished, cb)
		}
	}
}

func (w *Writable[T]) endWritable() { w.End(nil) }

func (w *Writable[T]) needFinish() bool {
	return w.ending &&
		!w.destroyed &&
		w.Length() == 0 &&
		w.errored == nil &&
		w.buffered.Len() == 0 &&
		!w.finished &&
		!w.writing &&
		!w.errorEmitted &&
		!w.closeEmitted
}

func (w *Writable[T]) prefinish() {
	if w.prefinished || w.finalCalled {
		return
	}
	if w.final != nil && !w.destroyed {
		w.finalCalled = true
		w.callFinal()
		return
	}
	w.prefinished = true
	emit0(&w.onPrefinish)
}

func (w *Writable[T]) callFinal() {
	var called bool
	onFinal := func(err error) {
		if called {
			if err == nil {
				err = ErrMultipleCallback
			}
			w.fail(err)
			return
		}
		called = true
		w.pendingcb--
		if err != nil {
			fins := w.onFinished
			w.onFinished = nil
			for _, fn := range fins {
				fn(err)
			}
			w.errorOrDestroy(err)
			return
		}
		if w.needFinish() {
			w.prefinished = true
			emit0(&w.onPrefinish)
			w.pendingcb++
			w.sched.Schedule(w.finish)
		}
	}
	w.sync = true
	w.pendingcb++
	w.final(onFinal)
	w.sync = false
}

func (w *Writable[T]) finishMaybe(sync bool) {
	if !w.needFinish() {
		return
	}
	w.prefinish()
	if w.pendingcb != 0 {
		return
	}
	if sync {
		w.pendingcb++
		w.sched.Schedule(func() {
			if w.needFinish() {
				w.finish()
			} else {
				w.pendingcb--
			}
		})
	} else if w.needFinish() {
		w.pendingcb++
		w.finish()
	}
}

func (w *Writable[T]) finish() {
	w.pendingcb--
	w.finished = true
	w.logger.Debug().Log(`stream: finish`)

	fins := w.onFinished
	w.onFinished = nil
	for _, fn := range fins {
		fn(nil)
	}
	emit0(&w.onFinish)

	if w.autoDestroy && (w.r == nil || w.r.readableEndEmitted()) {
		w.Destroy(nil)
	}
}

func (w *Writable[T]) destroyWritable() {
	reqs := w.buffered.Slice()
	w.buffered.Clear()
	fins := w.onFinished
	w.onFinished = nil
	if len(reqs) == 0 && len(fins) == 0 {
		return
	}
	w.sched.Schedule(func() {
		for _, req := range reqs {
			req.cb(w.erroredOr(`write`))
		}
		for _, fn := range fins {
			fn(w.erroredOr(`end`))
		}
	})
}

// OnDrain subscribes to 'drain', emitted once the buffer has emptied after
// Write returned false.
func (w *Writable[T]) OnDrain(fn func()) ListenerID {
	id := w.newID()
	w.onDrain.add(id, fn, false)
	return id
}

// OnFinish subscribes to 'finish', emitted once after End, when all writes
// have completed.
func (w *Writable[T]) OnFinish(fn func()) ListenerID {
	return w.addFinish(fn, false)
}

func (w *Writable[T]) addFinish(fn func(), once bool) ListenerID {
	id := w.newID()
	w.onFinish.add(id, fn, once)
	return id
}

// OnPrefinish subscribes to 'prefinish', emitted before 'finish', once the
// final hook (if any) has completed.
func (w *Writable[T]) OnPrefinish(fn func()) ListenerID {
	id := w.newID()
	w.onPrefinish.add(id, fn, false)
	return id
}

func (w *Writable[T]) offWritable(id ListenerID) bool {
	return w.onDrain.remove(id) || w.onFinish.remove(id) || w.onPrefinish.remove(id)
}

func (w *Writable[T]) writableListenerCount(event Event) int {
	switch event {
	case EventDrain:
		return w.onDrain.len()
	case EventFinish:
		return w.onFinish.len()
	case EventPrefinish:
		return w.onPrefinish.len()
	default:
		return 0
	}
}

func (w *Writable[T]) writableFinished() bool { return w.finished }

// writableActive reports whether it is still possible to write.
func (w *Writable[T]) writableActive() bool {
	return !w.destroyed && w.errored == nil && !w.ending && !w.ended
}

// IsWritable reports whether it is still possible to write to the stream.
func (w *Writable[T]) IsWritable() bool { return w.writableActive() }

// Ended reports whether End has been called.
func (w *Writable[T]) Ended() bool { return w.ending }

// Finished reports whether 'finish' has been emitted.
func (w *Writable[T]) Finished() bool { return w.finished }

// NeedDrain reports whether a write returned false, and 'drain' is pending.
func (w *Writable[T]) NeedDrain() bool { return w.needDrain }

// Corked returns the cork nesting count.
func (w *Writable[T]) Corked() int { return w.corked }

// Length returns the buffered size, including any write in flight.
func (w *Writable[T]) Length() int { return w.buffered.Size() + w.writelen }

// HighWaterMark returns the backpressure threshold.
func (w *Writable[T]) HighWaterMark() int { return w.hwm }

// ObjectMode reports whether each chunk counts as a single unit.
func (w *Writable[T]) ObjectMode() bool { return w.objectMode }

// FlowState returns a snapshot of the writable state.
func (w *Writable[T]) FlowState() FlowState {
	return FlowState{
		HighWaterMark: w.hwm,
		Length:        w.Length(),
		Buffered:      w.buffered.Len(),
		Corked:        w.corked,
		ObjectMode:    w.objectMode,
		Ended:         w.ending,
		Finished:      w.finished,
		Destroyed:     w.destroyed,
		Closed:        w.closed,
		NeedDrain:     w.needDrain,
		Writing:       w.writing,
		Sync:          w.sync,
	}
}
