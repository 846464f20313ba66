package stream

import (
	"slices"
)

// PipeOption configures [Readable.Pipe].
type PipeOption interface {
	applyPipeOption(*pipeOptions)
}

type pipeOptions struct {
	noEnd bool
}

type pipeOptionImpl struct {
	fn func(*pipeOptions)
}

func (o *pipeOptionImpl) applyPipeOption(opts *pipeOptions) { o.fn(opts) }

// WithoutEnd keeps the destination open when the source ends.
func WithoutEnd() PipeOption {
	return &pipeOptionImpl{fn: func(opts *pipeOptions) { opts.noEnd = true }}
}

// pipeState tracks the listeners installed by a single Pipe call.
type pipeState[T any] struct {
	src      *Readable[T]
	dest     *Writable[T]
	destBase *streamBase
	srcIDs   []ListenerID
	destIDs  []ListenerID
	drainID  ListenerID
	cleaned  bool
}

// Pipe forwards every chunk to dst, in flowing mode, pausing whenever dst
// signals backpressure, until dst drains. dst is ended when the source
// ends, unless [WithoutEnd] is given. Returns dst.
//
// The pipe is removed when dst closes, finishes or errors. An error on dst
// with no other listener is unhandled.
func (r *Readable[T]) Pipe(dst WritableStream[T], opts ...PipeOption) WritableStream[T] {
	var cfg pipeOptions
	for _, opt := range opts {
		if opt != nil {
			opt.applyPipeOption(&cfg)
		}
	}

	p := &pipeState[T]{
		src:      r,
		dest:     dst.writableSide(),
		destBase: dst.core(),
	}
	r.pipes = append(r.pipes, p)

	unpipe := func() { r.Unpipe(dst) }
	onEnd := unpipe
	if !cfg.noEnd {
		onEnd = func() { dst.End(nil) }
	}
	if r.endEmitted {
		r.sched.Schedule(onEnd)
	} else {
		p.srcIDs = append(p.srcIDs, r.addEnd(onEnd, true))
	}

	var closeID, finishID ListenerID
	closeID = p.destBase.newID()
	p.destBase.onClose.add(closeID, func() {
		p.dest.onFinish.remove(finishID)
		unpipe()
	}, true)
	finishID = p.dest.addFinish(func() {
		p.destBase.onClose.remove(closeID)
		unpipe()
	}, true)

	var errorID ListenerID
	errorID = p.destBase.newID()
	p.destBase.onError.prepend(errorID, func(err error) {
		unpipe()
		p.destBase.onError.remove(errorID)
		if p.destBase.onError.len() == 0 {
			p.destBase.raiseUnhandled(err)
		}
	})
	p.destIDs = append(p.destIDs, closeID, finishID, errorID)

	p.srcIDs = append(p.srcIDs, r.OnClose(unpipe))

	p.srcIDs = append(p.srcIDs, r.OnData(func(chunk T) {
		if !dst.Write(chunk, nil) {
			p.pause()
		}
	}))

	if p.dest.needDrain {
		p.pause()
	} else if !r.flowing.isOn() {
		r.Resume()
	}
	return dst
}

func (p *pipeState[T]) pause() {
	r := p.src
	if !p.cleaned {
		if r.awaitDrain == nil {
			r.awaitDrain = make(map[*Writable[T]]struct{})
		}
		if len(r.pipes) == 1 && r.pipes[0] == p {
			clear(r.awaitDrain)
			r.awaitDrain[p.dest] = struct{}{}
		} else if slices.Contains(r.pipes, p) {
			r.awaitDrain[p.dest] = struct{}{}
		}
		r.Pause()
	}
	if p.drainID == 0 {
		p.drainID = p.dest.OnDrain(p.onDrain)
	}
}

func (p *pipeState[T]) onDrain() {
	r := p.src
	delete(r.awaitDrain, p.dest)
	if len(r.awaitDrain) == 0 && r.onData.len() > 0 {
		r.Resume()
	}
}

func (p *pipeState[T]) cleanup() {
	for _, id := range p.destIDs {
		p.destBase.Off(id)
	}
	for _, id := range p.srcIDs {
		p.src.Off(id)
	}
	p.cleaned = true
	if p.drainID != 0 {
		p.dest.Off(p.drainID)
		if len(p.src.awaitDrain) > 0 && p.dest.needDrain {
			p.onDrain()
		}
	}
}

// Unpipe removes a pipe to dst, returning false if there was none. The
// source is paused if no pipes remain.
func (r *Readable[T]) Unpipe(dst WritableStream[T]) bool {
	w := dst.writableSide()
	i := slices.IndexFunc(r.pipes, func(p *pipeState[T]) bool { return p.dest == w })
	if i < 0 {
		return false
	}
	p := r.pipes[i]
	r.pipes = slices.Delete(r.pipes, i, i+1)
	if len(r.pipes) == 0 {
		r.Pause()
	}
	p.cleanup()
	return true
}

// UnpipeAll removes every pipe, and pauses the source.
func (r *Readable[T]) UnpipeAll() {
	if len(r.pipes) == 0 {
		return
	}
	pipes := r.pipes
	r.pipes = nil
	r.Pause()
	for _, p := range pipes {
		p.cleanup()
	}
}

// Pipes returns the number of active pipes.
func (r *Readable[T]) Pipes() int { return len(r.pipes) }
