package stream

import (
	"reflect"

	"github.com/joeycumines/go-stream/internal/chunkqueue"
)

// maxHighWaterMark is the largest high water mark ReadN may raise to.
const maxHighWaterMark = 1 << 30

// Source is the producer hook of a [Readable].
//
// Read is called when the readable wants more data. It should call Push zero
// or more times, synchronously or later, and PushEnd once no more data will
// be produced. Read is not called again until a Push (or PushEnd) has been
// made in response to the previous call.
type Source[T any] interface {
	Read(r *Readable[T], size int)
}

// SourceFunc adapts a function to a [Source].
type SourceFunc[T any] func(r *Readable[T], size int)

// Read implements [Source].
func (f SourceFunc[T]) Read(r *Readable[T], size int) { f(r, size) }

// ReadableStream is implemented by streams with a readable side, i.e.
// [*Readable] and [*Transform].
type ReadableStream[T any] interface {
	Stream
	OnData(fn func(chunk T)) ListenerID
	OnEnd(fn func()) ListenerID
	OnReadable(fn func()) ListenerID
	Pause()
	Resume()
	IsPaused() bool
	Pipe(dst WritableStream[T], opts ...PipeOption) WritableStream[T]
	Unpipe(dst WritableStream[T]) bool
	readableSide() *Readable[T]
}

// Readable is the producer side of a stream. It buffers chunks pushed by
// its [Source], and delivers them either on demand, via Read, or as 'data'
// events, while in flowing mode.
//
// A Readable must only be used from its scheduler's goroutine.
type Readable[T any] struct {
	*streamBase
	src        Source[T]
	queue      *chunkqueue.Queue[T]
	codec      chunkqueue.Codec[T]
	pipes      []*pipeState[T]
	awaitDrain map[*Writable[T]]struct{}
	onData     listeners[func(T)]
	onReadable listeners[func()]
	onEnd      listeners[func()]
	onPause    listeners[func()]
	onResume   listeners[func()]
	hwm        int
	flowing    triState
	paused     triState

	objectMode        bool
	ended             bool
	endEmitted        bool
	reading           bool
	sync              bool
	needReadable      bool
	emittedReadable   bool
	readableListening bool
	resumeScheduled   bool
	readingMore       bool
	dataEmitted       bool
}

var (
	_ ReadableStream[[]byte] = (*Readable[[]byte])(nil)
	_ readHalf               = (*Readable[[]byte])(nil)
)

// NewReadable constructs a [Readable] that pulls from src. It panics if the
// options are invalid, e.g. [WithScheduler] was not provided.
func NewReadable[T any](src Source[T], opts ...Option) *Readable[T] {
	if src == nil {
		panic("stream: source must not be nil")
	}
	cfg := mustResolveOptions(opts)
	base := newStreamBase(cfg)
	if cfg.destroy == nil {
		if d, ok := src.(Destroyer); ok {
			base.destroyHook = d.Destroy
		}
	}
	return newReadable(base, cfg, src)
}

func newReadable[T any](base *streamBase, cfg *streamOptions, src Source[T]) *Readable[T] {
	codec, objectMode := codecFor[T](cfg.objectMode)
	r := &Readable[T]{
		streamBase: base,
		src:        src,
		queue:      chunkqueue.New(codec),
		codec:      codec,
		hwm:        cfg.readableHighWaterMark(objectMode),
		objectMode: objectMode,
		sync:       true,
	}
	base.r = r
	return r
}

// codecFor selects byte mode for []byte and string chunks, unless object
// mode was requested.
func codecFor[T any](objectMode bool) (chunkqueue.Codec[T], bool) {
	if !objectMode {
		var zero T
		switch any(zero).(type) {
		case []byte:
			return any(chunkqueue.Bytes{}).(chunkqueue.Codec[T]), false
		case string:
			return any(chunkqueue.String{}).(chunkqueue.Codec[T]), false
		}
	}
	return chunkqueue.Objects[T]{}, true
}

func (r *Readable[T]) readableSide() *Readable[T] { return r }

func (r *Readable[T]) outputType() reflect.Type { return reflect.TypeFor[T]() }

// Push adds chunk to the tail of the buffer, returning false once the buffer
// reached the high water mark. Pushing after PushEnd destroys the stream
// with [ErrPushAfterEOF]. Pushing to a destroyed stream has no effect.
func (r *Readable[T]) Push(chunk T) bool {
	return r.addChunk(chunk, false)
}

// PushEnd signals that no more chunks will be pushed. 'end' is emitted once
// the buffer has been consumed.
func (r *Readable[T]) PushEnd() bool {
	if r.destroyed {
		return false
	}
	r.reading = false
	r.onEOF()
	return false
}

// Unshift returns chunk to the head of the buffer, e.g. after over-reading.
func (r *Readable[T]) Unshift(chunk T) bool {
	return r.addChunk(chunk, true)
}

func (r *Readable[T]) addChunk(chunk T, front bool) bool {
	if !r.objectMode && r.codec.Size(chunk) == 0 {
		if !front {
			r.reading = false
			r.maybeReadMore()
		}
		return r.canPushMore()
	}
	if front {
		if r.endEmitted {
			r.fail(opError(`unshift`, ErrUnshiftAfterEnd))
			return false
		}
	} else if r.ended {
		r.fail(opError(`push`, ErrPushAfterEOF))
		return false
	}
	if r.destroyed || r.errored != nil {
		r.logger.Debug().
			Bool(`front`, front).
			Log(`stream: chunk discarded after destroy`)
		if r.destroyed {
			op := `push`
			if front {
				op = `unshift`
			}
			r.recordLate(opError(op, ErrDestroyed))
		}
		return false
	}
	if !front {
		r.reading = false
	}
	r.add(chunk, front)
	return r.canPushMore()
}

func (r *Readable[T]) canPushMore() bool {
	return !r.ended && (r.queue.Size() < r.hwm || r.queue.Size() == 0)
}

func (r *Readable[T]) add(chunk T, front bool) {
	if r.flowing.isOn() && r.queue.Len() == 0 && !r.sync && r.onData.len() > 0 {
		clear(r.awaitDrain)
		r.dataEmitted = true
		emit1(&r.onData, chunk)
	} else {
		if front {
			r.queue.Unshift(chunk)
		} else {
			r.queue.Push(chunk)
		}
		if r.needReadable {
			r.emitReadable()
		}
	}
	r.maybeReadMore()
}

func (r *Readable[T]) onEOF() {
	if r.ended {
		return
	}
	r.ended = true
	if r.sync {
		r.emitReadable()
		return
	}
	r.needReadable = false
	r.emittedReadable = true
	r.emitReadableNow()
}

// Read returns buffered data: the head chunk while flowing, otherwise the
// whole buffer, joined for byte streams. In object mode, it returns a single
// chunk. The boolean result is false if no data was available.
//
// Read triggers the source when the buffer is below the high water mark.
func (r *Readable[T]) Read() (T, bool) {
	return r.read(0, false)
}

// ReadN reads exactly n bytes, or returns false if fewer are buffered,
// unless the stream has ended, in which case the remainder is returned.
// ReadN(0) only triggers a refill. In object mode, n is ignored and a single
// chunk is returned.
//
// Raises the high water mark if n exceeds it. Values above 1 GiB destroy the
// stream with a [*RangeError].
func (r *Readable[T]) ReadN(n int) (T, bool) {
	return r.read(max(n, 0), true)
}

func (r *Readable[T]) read(n int, hasN bool) (ret T, ok bool) {
	if hasN && n > r.hwm {
		if n > maxHighWaterMark {
			r.fail(&RangeError{Message: `read size exceeds maximum high water mark`})
			return ret, false
		}
		r.hwm = nextPowerOfTwo(n)
	}
	if !hasN || n != 0 {
		r.emittedReadable = false
	}
	nOrig, hasNOrig := n, hasN

	if hasN && n == 0 && r.needReadable && (r.aboveHighWaterMark() || r.ended) {
		if r.queue.Size() == 0 && r.ended {
			r.endReadable()
		} else {
			r.emitReadable()
		}
		return ret, false
	}

	n = r.howMuchToRead(n, hasN)

	if n == 0 && r.ended {
		if r.queue.Size() == 0 {
			r.endReadable()
		}
		return ret, false
	}

	doRead := r.needReadable
	if r.queue.Size() == 0 || r.queue.Size()-n < r.hwm {
		doRead = true
	}
	if r.ended || r.reading || r.destroyed || r.errored != nil {
		doRead = false
	} else if doRead {
		r.reading = true
		r.sync = true
		if r.queue.Size() == 0 {
			r.needReadable = true
		}
		r.src.Read(r, r.hwm)
		r.sync = false
		if !r.reading {
			n = r.howMuchToRead(nOrig, hasNOrig)
		}
	}

	if n > 0 {
		ret, ok = r.queue.Concat(n)
	}
	if !ok {
		r.needReadable = r.queue.Size() <= r.hwm
		n = 0
	} else {
		clear(r.awaitDrain)
	}

	if r.queue.Size() == 0 {
		if !r.ended {
			r.needReadable = true
		}
		if (!hasNOrig || nOrig != n) && r.ended {
			r.endReadable()
		}
	}

	if ok && !r.errorEmitted && !r.closeEmitted {
		r.dataEmitted = true
		emit1(&r.onData, ret)
	}
	return ret, ok
}

func (r *Readable[T]) aboveHighWaterMark() bool {
	if r.hwm != 0 {
		return r.queue.Size() >= r.hwm
	}
	return r.queue.Size() > 0
}

func (r *Readable[T]) howMuchToRead(n int, hasN bool) int {
	length := r.queue.Size()
	if (hasN && n <= 0) || (length == 0 && r.ended) {
		return 0
	}
	if r.objectMode {
		return 1
	}
	if !hasN {
		if r.flowing.isOn() && length > 0 {
			head, _ := r.queue.Peek()
			return r.codec.Size(head)
		}
		return length
	}
	if n <= length {
		return n
	}
	if r.ended {
		return length
	}
	return 0
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (r *Readable[T]) emitReadable() {
	r.needReadable = false
	if !r.emittedReadable {
		r.emittedReadable = true
		r.sched.Schedule(r.emitReadableNow)
	}
}

func (r *Readable[T]) emitReadableNow() {
	if !r.destroyed && r.errored == nil && (r.queue.Size() > 0 || r.ended) {
		emit0(&r.onReadable)
		r.emittedReadable = false
	}
	r.needReadable = !r.flowing.isOn() && !r.ended && r.queue.Size() <= r.hwm
	r.flow()
}

// maybeReadMore refills the buffer up to the high water mark, on a later
// turn, while the source produces synchronously.
func (r *Readable[T]) maybeReadMore() {
	if r.readingMore {
		return
	}
	r.readingMore = true
	r.sched.Schedule(func() {
		for !r.reading && !r.ended && (r.queue.Size() < r.hwm || (r.flowing.isOn() && r.queue.Size() == 0)) {
			size := r.queue.Size()
			r.read(0, true)
			if size == r.queue.Size() {
				break
			}
		}
		r.readingMore = false
	})
}

func (r *Readable[T]) flow() {
	for r.flowing.isOn() {
		if _, ok := r.read(0, false); !ok {
			return
		}
	}
}

// Pause stops 'data' events. Buffered and subsequently pushed chunks remain
// available via Read.
func (r *Readable[T]) Pause() {
	if r.flowing != off {
		r.flowing = off
		emit0(&r.onPause)
	}
	r.paused = on
}

// Resume switches to flowing mode. The flow restart happens on a later turn,
// and repeated calls before it collapse into a single restart.
func (r *Readable[T]) Resume() {
	if !r.flowing.isOn() {
		if r.readableListening {
			r.flowing = off
		} else {
			r.flowing = on
		}
		r.scheduleResume()
	}
	r.paused = off
}

func (r *Readable[T]) scheduleResume() {
	if r.resumeScheduled {
		return
	}
	r.resumeScheduled = true
	r.sched.Schedule(func() {
		if !r.reading {
			r.read(0, true)
		}
		r.resumeScheduled = false
		emit0(&r.onResume)
		r.flow()
		if r.flowing.isOn() && !r.reading {
			r.read(0, true)
		}
	})
}

// IsPaused reports whether Pause was called, without a subsequent Resume.
func (r *Readable[T]) IsPaused() bool {
	return r.paused == on || r.flowing == off
}

// Flowing returns the current consumption mode.
func (r *Readable[T]) Flowing() FlowMode { return flowModeOf(r.flowing) }

// ResumeScheduled reports whether a flow restart is pending.
func (r *Readable[T]) ResumeScheduled() bool { return r.resumeScheduled }

// OnData subscribes to chunks. Subscribing calls Resume, unless the stream
// was explicitly paused.
func (r *Readable[T]) OnData(fn func(chunk T)) ListenerID {
	id := r.newID()
	r.onData.add(id, fn, false)
	r.readableListening = r.onReadable.len() > 0
	if r.flowing != off {
		r.Resume()
	}
	return id
}

// OnReadable subscribes to 'readable', emitted when data is available to
// Read, or the end of stream was reached. Subscribing switches the stream
// to paused mode, taking precedence over 'data' listeners.
func (r *Readable[T]) OnReadable(fn func()) ListenerID {
	id := r.newID()
	r.onReadable.add(id, fn, false)
	if !r.endEmitted && !r.readableListening {
		r.readableListening = true
		r.needReadable = true
		r.flowing = off
		r.emittedReadable = false
		if r.queue.Size() > 0 {
			r.emitReadable()
		} else if !r.reading {
			r.sched.Schedule(func() { r.read(0, true) })
		}
	}
	return id
}

// OnEnd subscribes to 'end', emitted once after PushEnd, when the buffer
// has been fully consumed.
func (r *Readable[T]) OnEnd(fn func()) ListenerID {
	return r.addEnd(fn, false)
}

func (r *Readable[T]) addEnd(fn func(), once bool) ListenerID {
	id := r.newID()
	r.onEnd.add(id, fn, once)
	return id
}

// OnPause registers fn for the 'pause' event, emitted when flowing stops.
func (r *Readable[T]) OnPause(fn func()) ListenerID {
	id := r.newID()
	r.onPause.add(id, fn, false)
	return id
}

// OnResume registers fn for the 'resume' event, emitted when flowing starts.
func (r *Readable[T]) OnResume(fn func()) ListenerID {
	id := r.newID()
	r.onResume.add(id, fn, false)
	return id
}

func (r *Readable[T]) offReadable(id ListenerID) bool {
	switch {
	case r.onData.remove(id):
		if r.onData.len() == 0 {
			r.readableListening = r.onReadable.len() > 0
		}
		return true
	case r.onReadable.remove(id):
		r.sched.Schedule(r.updateReadableListening)
		return true
	case r.onEnd.remove(id), r.onPause.remove(id), r.onResume.remove(id):
		return true
	default:
		return false
	}
}

func (r *Readable[T]) updateReadableListening() {
	r.readableListening = r.onReadable.len() > 0
	switch {
	case r.resumeScheduled && r.paused == off:
		r.flowing = on
	case r.onData.len() > 0:
		r.Resume()
	case !r.readableListening:
		r.flowing = unset
	}
}

func (r *Readable[T]) readableListenerCount(event Event) int {
	switch event {
	case EventData:
		return r.onData.len()
	case EventReadable:
		return r.onReadable.len()
	case EventEnd:
		return r.onEnd.len()
	case EventPause:
		return r.onPause.len()
	case EventResume:
		return r.onResume.len()
	default:
		return 0
	}
}

func (r *Readable[T]) endReadable() {
	if r.endEmitted {
		return
	}
	r.ended = true
	r.sched.Schedule(r.endReadableNow)
}

func (r *Readable[T]) endReadableNow() {
	if r.errored != nil || r.closeEmitted || r.endEmitted || r.queue.Size() != 0 {
		return
	}
	r.endEmitted = true
	r.logger.Debug().Log(`stream: end`)
	emit0(&r.onEnd)

	if w := r.w; w != nil && w.writableActive() && !r.allowHalf {
		r.sched.Schedule(w.endWritable)
	} else if r.autoDestroy && (w == nil || w.writableFinished()) {
		r.Destroy(nil)
	}
}

func (r *Readable[T]) destroyReadable() {
	r.queue.Clear()
}

func (r *Readable[T]) readableEndEmitted() bool { return r.endEmitted }

// readableActive reports whether the stream is still readable, i.e. not
// destroyed, errored or ended.
func (r *Readable[T]) readableActive() bool {
	return !r.destroyed && r.errored == nil && !r.endEmitted
}

// IsReadable reports whether it is still possible to read from the stream.
func (r *Readable[T]) IsReadable() bool { return r.readableActive() }

// Ended reports whether 'end' has been emitted.
func (r *Readable[T]) Ended() bool { return r.endEmitted }

// Length returns the buffered size, in bytes or chunks.
func (r *Readable[T]) Length() int { return r.queue.Size() }

// HighWaterMark returns the current backpressure threshold.
func (r *Readable[T]) HighWaterMark() int { return r.hwm }

// ObjectMode reports whether each chunk counts as a single unit.
func (r *Readable[T]) ObjectMode() bool { return r.objectMode }

// FlowState returns a snapshot of the readable state.
func (r *Readable[T]) FlowState() FlowState {
	return FlowState{
		Mode:            flowModeOf(r.flowing),
		HighWaterMark:   r.hwm,
		Length:          r.queue.Size(),
		Buffered:        r.queue.Len(),
		ObjectMode:      r.objectMode,
		Ended:           r.ended,
		EndEmitted:      r.endEmitted,
		Destroyed:       r.destroyed,
		Closed:          r.closed,
		ResumeScheduled: r.resumeScheduled,
		Reading:         r.reading,
		Sync:            r.sync,
	}
}
