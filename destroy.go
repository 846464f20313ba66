package stream

import (
	"github.com/joeycumines/logiface"
)

// Stream is the lifecycle surface common to every stream.
type Stream interface {
	// Destroy tears the stream down. Idempotent. State changes take effect
	// immediately, while the destroy hook, 'error' (if err is non-nil) and
	// 'close' always happen on later scheduler turns.
	Destroy(err error)

	// Destroyed reports whether Destroy has been called.
	Destroyed() bool

	// Closed reports whether the destroy hook has completed.
	Closed() bool

	// Errored returns the error the stream failed with, if any.
	Errored() error

	OnError(fn func(err error)) ListenerID
	OnClose(fn func()) ListenerID

	// Off removes a listener registered with any On method, returning
	// false if it was not registered.
	Off(id ListenerID) bool

	// ListenerCount returns the number of listeners for event.
	ListenerCount(event Event) int

	core() *streamBase
}

// Destroyer is an optional capability of a [Source], [Sink] or
// [Transformer], used as the teardown hook when [WithDestroy] is not
// provided. Destroy is called at most once, on a later turn than the
// stream's Destroy, and must call cb exactly once.
type Destroyer interface {
	Destroy(err error, cb func(err error))
}

// readHalf is the view of a readable side needed by shared lifecycle code.
type readHalf interface {
	readableEndEmitted() bool
	readableActive() bool
	destroyReadable()
	offReadable(id ListenerID) bool
	readableListenerCount(event Event) int
	addEnd(fn func(), once bool) ListenerID
}

// writeHalf is the view of a writable side needed by shared lifecycle code.
type writeHalf interface {
	writableFinished() bool
	writableActive() bool
	destroyWritable()
	endWritable()
	offWritable(id ListenerID) bool
	writableListenerCount(event Event) int
	addFinish(fn func(), once bool) ListenerID
}

// streamBase is the destroy state and terminal events shared by both halves
// of a stream.
//
// All fields are accessed exclusively on the scheduler goroutine.
type streamBase struct {
	emitter
	sched        Scheduler
	logger       *logiface.Logger[logiface.Event]
	destroyHook  func(err error, cb func(error))
	unhandled    func(err error)
	errored      error
	r            readHalf
	w            writeHalf
	name         string
	onError      listeners[func(error)]
	onClose      listeners[func()]
	destroyed    bool
	closed       bool
	closeEmitted bool
	errorEmitted bool
	// errored was recorded after destroy, and is never emitted
	erroredLate  bool
	autoDestroy  bool
	emitClose    bool
	allowHalf    bool
}

func newStreamBase(cfg *streamOptions) *streamBase {
	b := &streamBase{
		sched:       cfg.scheduler,
		logger:      cfg.logger,
		destroyHook: cfg.destroy,
		unhandled:   cfg.unhandled,
		name:        cfg.name,
		autoDestroy: cfg.autoDestroy,
		emitClose:   cfg.emitClose,
		allowHalf:   cfg.allowHalfOpen,
	}
	if cfg.name != `` {
		b.logger = cfg.logger.Clone().Str(`stream`, cfg.name).Logger()
	}
	return b
}

func (b *streamBase) core() *streamBase { return b }

func (b *streamBase) Destroyed() bool { return b.destroyed }

func (b *streamBase) Closed() bool { return b.closed }

func (b *streamBase) Errored() error { return b.errored }

func (b *streamBase) OnError(fn func(err error)) ListenerID {
	id := b.newID()
	b.onError.add(id, fn, false)
	return id
}

func (b *streamBase) OnClose(fn func()) ListenerID {
	id := b.newID()
	b.onClose.add(id, fn, false)
	return id
}

func (b *streamBase) Off(id ListenerID) bool {
	switch {
	case b.onError.remove(id), b.onClose.remove(id):
		return true
	case b.r != nil && b.r.offReadable(id):
		return true
	case b.w != nil && b.w.offWritable(id):
		return true
	default:
		return false
	}
}

func (b *streamBase) ListenerCount(event Event) int {
	switch event {
	case EventError:
		return b.onError.len()
	case EventClose:
		return b.onClose.len()
	}
	n := 0
	if b.r != nil {
		n += b.r.readableListenerCount(event)
	}
	if b.w != nil {
		n += b.w.writableListenerCount(event)
	}
	return n
}

// Destroy implements [Stream].
func (b *streamBase) Destroy(err error) {
	if b.destroyed {
		return
	}
	b.destroyed = true
	if err != nil && b.errored == nil {
		b.errored = err
	}

	b.logger.Debug().
		Err(err).
		Log(`stream: destroy`)

	if b.r != nil {
		b.r.destroyReadable()
	}
	if b.w != nil {
		b.w.destroyWritable()
	}

	b.sched.Schedule(func() { b.runDestroyHook(err) })
}

// beforeDestroy arranges for fn to be called ahead of the destroy hook.
func (b *streamBase) beforeDestroy(fn func()) {
	hook := b.destroyHook
	b.destroyHook = func(err error, cb func(error)) {
		fn()
		if hook == nil {
			cb(err)
			return
		}
		hook(err, cb)
	}
}

func (b *streamBase) runDestroyHook(err error) {
	var called bool
	onDestroy := func(hookErr error) {
		if called {
			b.logger.Warning().
				Err(hookErr).
				Log(`stream: destroy callback called multiple times`)
			return
		}
		called = true
		if hookErr != nil && (b.errored == nil || b.erroredLate) {
			b.errored = hookErr
			b.erroredLate = false
		}
		b.closed = true
		b.sched.Schedule(b.emitErrorClose)
	}
	if b.destroyHook == nil {
		onDestroy(err)
		return
	}
	b.destroyHook(err, onDestroy)
}

func (b *streamBase) emitErrorClose() {
	if b.errored != nil && !b.erroredLate {
		b.emitError(b.errored)
	}
	b.emitCloseEvent()
}

func (b *streamBase) emitCloseEvent() {
	if b.closeEmitted {
		return
	}
	b.closeEmitted = true
	if b.emitClose {
		emit0(&b.onClose)
	}
}

// emitError emits 'error' at most once over the lifetime of the stream.
func (b *streamBase) emitError(err error) {
	if b.errorEmitted {
		return
	}
	b.errorEmitted = true
	if b.onError.len() == 0 {
		b.raiseUnhandled(err)
		return
	}
	emit1(&b.onError, err)
}

// raiseUnhandled surfaces an error that no listener observed.
func (b *streamBase) raiseUnhandled(err error) {
	u := &UnhandledError{Err: err, Stream: b.name}
	if b.unhandled != nil {
		b.unhandled(u)
		return
	}
	b.logger.Crit().
		Err(err).
		Log(`stream: unhandled error`)
	panic(u)
}

// errorOrDestroy destroys the stream with err when autoDestroy is enabled,
// otherwise it records err and emits it on a later turn.
func (b *streamBase) errorOrDestroy(err error) {
	if b.destroyed {
		return
	}
	if b.autoDestroy {
		b.Destroy(err)
		return
	}
	if err == nil {
		return
	}
	if b.errored == nil {
		b.errored = err
	}
	b.sched.Schedule(func() { b.emitError(err) })
}

// closeErr returns the error a close should be reported with, excluding
// one recorded by [streamBase.recordLate].
func (b *streamBase) closeErr() error {
	if b.erroredLate {
		return nil
	}
	return b.errored
}

// recordLate records err as the errored value, if there is none, for a
// violation detected after destroy. It is not emitted.
func (b *streamBase) recordLate(err error) {
	if b.errored == nil {
		b.errored = err
		b.erroredLate = true
	}
}

// fail handles protocol violations, which are always fatal.
func (b *streamBase) fail(err error) {
	b.logger.Debug().
		Err(err).
		Log(`stream: protocol violation`)
	b.Destroy(err)
}

// willEmitClose reports whether 'close' is still expected, without any
// further action by the caller.
func (b *streamBase) willEmitClose() bool {
	return b.emitClose && !b.closeEmitted && (b.autoDestroy || b.destroyed)
}
