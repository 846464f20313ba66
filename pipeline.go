package stream

import (
	"errors"
	"fmt"
	"reflect"
)

// readableStage is implemented by every stream with a readable side,
// independent of the chunk type.
type readableStage interface {
	Stream
	outputType() reflect.Type
	pipeTo(dst Stream) error
}

// writableStage is implemented by every stream with a writable side,
// independent of the chunk type.
type writableStage interface {
	Stream
	inputType() reflect.Type
}

func (r *Readable[T]) pipeTo(dst Stream) error {
	w, ok := dst.(WritableStream[T])
	if !ok {
		return &TypeError{Message: fmt.Sprintf(`cannot pipe %v chunks to %T`, r.outputType(), dst)}
	}
	r.Pipe(w)
	return nil
}

// Pipeline pipes each stream into the next, and returns the last stream.
//
// The first stream must be readable, the last writable, and every stream in
// between both, with matching chunk types, else a [*TypeError] is returned
// and nothing is connected.
//
// callback is called exactly once: with nil once every stream completed, or
// with the first error of any stream, in which case every stream that has
// not completed is destroyed with that error. Either way, the callback is
// not called until the streams that will close have closed.
//
// Listeners installed by Pipeline are removed once it settles, except the
// 'error' listener of a last stream that is not readable, which remains to
// absorb late errors.
func Pipeline(callback func(err error), streams ...Stream) (Stream, error) {
	if callback == nil {
		return nil, &TypeError{Message: `pipeline callback must not be nil`}
	}
	if len(streams) < 2 {
		return nil, &TypeError{Message: `pipeline requires at least two streams`}
	}
	for i, s := range streams {
		if s == nil {
			return nil, &TypeError{Message: fmt.Sprintf(`pipeline stream %d is nil`, i)}
		}
	}
	last := len(streams) - 1
	for i, s := range streams {
		if i < last {
			src, ok := s.(readableStage)
			if !ok {
				return nil, &TypeError{Message: fmt.Sprintf(`pipeline stream %d (%T) is not readable`, i, s)}
			}
			dst, ok := streams[i+1].(writableStage)
			if !ok {
				return nil, &TypeError{Message: fmt.Sprintf(`pipeline stream %d (%T) is not writable`, i+1, streams[i+1])}
			}
			if src.outputType() != dst.inputType() {
				return nil, &TypeError{Message: fmt.Sprintf(
					`pipeline stream %d produces %v, but stream %d accepts %v`,
					i, src.outputType(), i+1, dst.inputType(),
				)}
			}
		}
	}

	p := &pipeline{callback: callback, stages: make([]*pipelineStage, len(streams))}
	for i, s := range streams {
		p.stages[i] = p.track(s, i < last, i > 0, i == last)
	}
	for i := range last {
		if err := streams[i].(readableStage).pipeTo(streams[i+1]); err != nil {
			// unreachable, types were validated above
			panic(err)
		}
	}
	return streams[last], nil
}

type pipeline struct {
	callback func(error)
	err      error
	stages   []*pipelineStage
	settled  bool
}

// pipelineStage tracks a single stream, and the listeners installed on it.
type pipelineStage struct {
	s         Stream
	b         *streamBase
	ids       []ListenerID
	errorID   ListenerID
	reading   bool
	writing   bool
	waitClose bool
	keepError bool
	ended     bool
	finished  bool
	closed    bool
	complete  bool
}

func (p *pipeline) track(s Stream, reading, writing, isLast bool) *pipelineStage {
	b := s.core()
	st := &pipelineStage{
		s:       s,
		b:       b,
		reading: reading,
		writing: writing,
		// wait for close only if every side of the stream is tracked
		waitClose: b.willEmitClose() && reading == (b.r != nil) && writing == (b.w != nil),
		keepError: isLast && b.r == nil,
	}

	st.errorID = b.OnError(func(err error) { p.fail(err) })
	st.ids = append(st.ids, st.errorID, b.OnClose(func() {
		st.closed = true
		if !st.complete && ((st.reading && !st.ended) || (st.writing && !st.finished)) {
			if err := b.closeErr(); err != nil {
				p.fail(err)
			} else {
				p.fail(ErrPrematureClose)
			}
		}
		p.check(st)
	}))
	if reading {
		st.ids = append(st.ids, b.r.addEnd(func() {
			st.ended = true
			p.check(st)
		}, false))
	}
	if writing {
		st.ids = append(st.ids, b.w.addFinish(func() {
			st.finished = true
			p.check(st)
		}, false))
	}

	// already complete streams are checked on a later turn, as events will
	// not be repeated
	if (reading && b.r.readableEndEmitted()) || (writing && b.w.writableFinished()) || b.closeEmitted {
		st.ended = reading && b.r.readableEndEmitted()
		st.finished = writing && b.w.writableFinished()
		st.closed = b.closeEmitted
		b.sched.Schedule(func() { p.check(st) })
	}
	return st
}

// fail records err, preferring the first error that is not a premature
// close, and destroys every incomplete stream.
func (p *pipeline) fail(err error) {
	if err == nil || p.settled {
		return
	}
	first := p.err == nil
	if first || (errors.Is(p.err, ErrPrematureClose) && !errors.Is(err, ErrPrematureClose)) {
		p.err = err
	}
	if first {
		for _, st := range p.stages {
			if !st.complete {
				st.s.Destroy(err)
			}
		}
	}
	p.checkAll()
}

func (p *pipeline) check(st *pipelineStage) {
	if !st.complete && (!st.reading || st.ended) && (!st.writing || st.finished) && (!st.waitClose || st.closed) {
		st.complete = true
	}
	p.checkAll()
}

// terminal reports whether the stage will emit nothing further that the
// pipeline waits on.
func (st *pipelineStage) terminal() bool {
	switch {
	case st.complete, st.closed:
		return true
	case st.b.destroyed:
		return !st.b.emitClose
	default:
		return false
	}
}

func (p *pipeline) checkAll() {
	if p.settled {
		return
	}
	for _, st := range p.stages {
		if p.err == nil && !st.complete {
			return
		}
		if p.err != nil && !st.terminal() {
			return
		}
	}
	p.settled = true
	for _, st := range p.stages {
		st.cleanup(p.err == nil)
	}
	err := p.err
	p.stages[0].b.sched.Schedule(func() { p.callback(err) })
}

func (st *pipelineStage) cleanup(success bool) {
	keepError := st.keepError || (!success && !st.closed)
	for _, id := range st.ids {
		if keepError && id == st.errorID {
			continue
		}
		st.b.Off(id)
	}
}
