package stream

import (
	"errors"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultHighWaterMark is the default high water mark for byte streams.
	DefaultHighWaterMark = 64 * 1024

	// DefaultObjectHighWaterMark is the default high water mark, in chunks,
	// for object mode streams.
	DefaultObjectHighWaterMark = 16
)

// streamOptions holds configuration shared by every stream constructor.
// Fields are ordered for optimal struct alignment.
type streamOptions struct {
	scheduler     Scheduler
	logger        *logiface.Logger[logiface.Event]
	destroy       func(err error, cb func(error))
	final         func(cb func(error))
	unhandled     func(err error)
	name          string
	highWaterMark int
	readableHWM   int
	writableHWM   int
	objectMode    bool
	autoDestroy   bool
	emitClose     bool
	allowHalfOpen bool
}

// Option configures a stream. Options are applied during construction.
type Option interface {
	applyOption(*streamOptions) error
}

// streamOptionImpl implements [Option] via a closure.
type streamOptionImpl struct {
	fn func(*streamOptions) error
}

func (o *streamOptionImpl) applyOption(opts *streamOptions) error {
	return o.fn(opts)
}

// WithScheduler configures the scheduler used for deferred continuations.
// Required.
func WithScheduler(scheduler Scheduler) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		if scheduler == nil {
			return errors.New("stream: scheduler must not be nil")
		}
		opts.scheduler = scheduler
		return nil
	}}
}

// WithHighWaterMark configures the backpressure threshold of every side of
// the stream, in bytes, or in chunks for object mode.
func WithHighWaterMark(n int) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		if n < 0 {
			return errors.New("stream: high water mark must not be negative")
		}
		opts.highWaterMark = n
		return nil
	}}
}

// WithReadableHighWaterMark overrides the high water mark of the readable
// side only. Takes precedence over [WithHighWaterMark].
func WithReadableHighWaterMark(n int) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		if n < 0 {
			return errors.New("stream: readable high water mark must not be negative")
		}
		opts.readableHWM = n
		return nil
	}}
}

// WithWritableHighWaterMark overrides the high water mark of the writable
// side only. Takes precedence over [WithHighWaterMark].
func WithWritableHighWaterMark(n int) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		if n < 0 {
			return errors.New("stream: writable high water mark must not be negative")
		}
		opts.writableHWM = n
		return nil
	}}
}

// WithObjectMode forces object mode, where every chunk counts as one unit,
// even for []byte and string chunks. Other chunk types are always in object
// mode.
func WithObjectMode(enabled bool) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		opts.objectMode = enabled
		return nil
	}}
}

// WithAutoDestroy configures whether the stream destroys itself after
// ending or finishing. Enabled by default.
func WithAutoDestroy(enabled bool) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		opts.autoDestroy = enabled
		return nil
	}}
}

// WithEmitClose configures whether 'close' is emitted after destroy.
// Enabled by default.
func WithEmitClose(enabled bool) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		opts.emitClose = enabled
		return nil
	}}
}

// WithAllowHalfOpen configures whether a duplex stream keeps its writable
// side open after the readable side ends. Enabled by default.
func WithAllowHalfOpen(enabled bool) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		opts.allowHalfOpen = enabled
		return nil
	}}
}

// WithDestroy configures the teardown hook, invoked at most once, after
// destroy. The hook must call cb exactly once. Overrides any [Destroyer]
// implemented by the source or sink.
func WithDestroy(fn func(err error, cb func(error))) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		if fn == nil {
			return errors.New("stream: destroy hook must not be nil")
		}
		opts.destroy = fn
		return nil
	}}
}

// WithFinal configures the hook invoked once all writes have completed,
// before 'finish'. Overrides any [Finalizer] implemented by the sink.
func WithFinal(fn func(cb func(error))) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		if fn == nil {
			return errors.New("stream: final hook must not be nil")
		}
		opts.final = fn
		return nil
	}}
}

// WithLogger configures structured logging. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithName configures a name, attached to log events and unhandled errors.
func WithName(name string) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		opts.name = name
		return nil
	}}
}

// WithUnhandledError configures the handler for 'error' events emitted with
// no listener attached. The default handler logs the error then panics with
// an [*UnhandledError].
func WithUnhandledError(handler func(err error)) Option {
	return &streamOptionImpl{fn: func(opts *streamOptions) error {
		if handler == nil {
			return errors.New("stream: unhandled error handler must not be nil")
		}
		opts.unhandled = handler
		return nil
	}}
}

// resolveOptions applies the given options to a default [streamOptions].
func resolveOptions(opts []Option) (*streamOptions, error) {
	cfg := &streamOptions{
		highWaterMark: -1,
		readableHWM:   -1,
		writableHWM:   -1,
		autoDestroy:   true,
		emitClose:     true,
		allowHalfOpen: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyOption(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.scheduler == nil {
		return nil, errors.New("stream: scheduler must be provided via WithScheduler")
	}
	return cfg, nil
}

// mustResolveOptions is [resolveOptions] for constructors, which panic on
// invalid configuration.
func mustResolveOptions(opts []Option) *streamOptions {
	cfg, err := resolveOptions(opts)
	if err != nil {
		panic(err)
	}
	return cfg
}

// readableHighWaterMark resolves the readable side threshold.
func (x *streamOptions) readableHighWaterMark(objectMode bool) int {
	return x.sideHighWaterMark(x.readableHWM, objectMode)
}

// writableHighWaterMark resolves the writable side threshold.
func (x *streamOptions) writableHighWaterMark(objectMode bool) int {
	return x.sideHighWaterMark(x.writableHWM, objectMode)
}

func (x *streamOptions) sideHighWaterMark(side int, objectMode bool) int {
	switch {
	case side >= 0:
		return side
	case x.highWaterMark >= 0:
		return x.highWaterMark
	case objectMode:
		return DefaultObjectHighWaterMark
	default:
		return DefaultHighWaterMark
	}
}
