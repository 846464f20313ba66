package stream

// FinishedOption configures [Finished].
type FinishedOption interface {
	applyFinishedOption(*finishedOptions)
}

type finishedOptions struct {
	skipReadable bool
	skipWritable bool
}

type finishedOptionImpl struct {
	fn func(*finishedOptions)
}

func (o *finishedOptionImpl) applyFinishedOption(opts *finishedOptions) { o.fn(opts) }

// FinishedReadable configures whether [Finished] waits for the readable
// side to end. Enabled by default, for streams with a readable side.
func FinishedReadable(enabled bool) FinishedOption {
	return &finishedOptionImpl{fn: func(opts *finishedOptions) { opts.skipReadable = !enabled }}
}

// FinishedWritable configures whether [Finished] waits for the writable
// side to finish. Enabled by default, for streams with a writable side.
func FinishedWritable(enabled bool) FinishedOption {
	return &finishedOptionImpl{fn: func(opts *finishedOptions) { opts.skipWritable = !enabled }}
}

// Finished calls cb exactly once, when s is no longer readable or writable:
// with nil once the readable side emitted 'end' and the writable side
// emitted 'finish', with the error if s errors, or with [ErrPrematureClose]
// if s closes first. A stream that already completed is reported on a later
// turn.
//
// The returned cleanup function removes the listeners Finished installed.
// It is called automatically before cb.
func Finished(s Stream, cb func(err error), opts ...FinishedOption) (cleanup func()) {
	var cfg finishedOptions
	for _, opt := range opts {
		if opt != nil {
			opt.applyFinishedOption(&cfg)
		}
	}

	b := s.core()
	readable := !cfg.skipReadable && b.r != nil
	writable := !cfg.skipWritable && b.w != nil
	willEmitClose := b.willEmitClose() && readable == (b.r != nil) && writable == (b.w != nil)

	var (
		ids       []ListenerID
		done      bool
		rFinished = b.r != nil && b.r.readableEndEmitted()
		wFinished = b.w != nil && b.w.writableFinished()
	)
	cleanup = func() {
		for _, id := range ids {
			b.Off(id)
		}
		ids = nil
	}
	call := func(err error) {
		if done {
			return
		}
		done = true
		cleanup()
		cb(err)
	}

	onClose := func() {
		if err := b.closeErr(); err != nil {
			call(err)
			return
		}
		if readable && !rFinished && !b.r.readableEndEmitted() {
			call(ErrPrematureClose)
			return
		}
		if writable && !wFinished && !b.w.writableFinished() {
			call(ErrPrematureClose)
			return
		}
		call(nil)
	}

	if readable {
		ids = append(ids, b.r.addEnd(func() {
			rFinished = true
			if b.destroyed {
				willEmitClose = false
			}
			if willEmitClose && (b.w == nil || !b.w.writableActive() || writable) {
				return
			}
			if !writable || wFinished {
				call(nil)
			}
		}, false))
	}
	if writable {
		ids = append(ids, b.w.addFinish(func() {
			wFinished = true
			if b.destroyed {
				willEmitClose = false
			}
			if willEmitClose && (b.r == nil || !b.r.readableActive() || readable) {
				return
			}
			if !readable || rFinished {
				call(nil)
			}
		}, false))
	}
	ids = append(ids, b.OnError(call), b.OnClose(onClose))

	switch {
	case b.closeEmitted:
		b.sched.Schedule(onClose)
	case b.errorEmitted && !willEmitClose:
		b.sched.Schedule(func() { call(b.errored) })
	case (!readable || rFinished) && (!writable || wFinished) && !willEmitClose:
		b.sched.Schedule(func() { call(nil) })
	}

	return cleanup
}
