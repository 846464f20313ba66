package stream

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	eventloop "github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// newTestLoop creates a new event loop, starts it, and registers cleanup.
func newTestLoop(t testing.TB) *eventloop.Loop {
	t.Helper()
	loop, err := NewLoop()
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

// runOnLoop runs fn on the loop, via a new LoopScheduler, and waits for
// done to be closed.
func runOnLoop(t testing.TB, fn func(s *LoopScheduler, done func())) {
	t.Helper()
	s := NewLoopScheduler(newTestLoop(t), nil)
	ch := make(chan struct{})
	if err := s.Submit(func() { fn(s, func() { close(ch) }) }); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the loop")
	}
}

// newTestLogger returns a debug level logger writing JSON lines to buf.
func newTestLogger() (*logiface.Logger[logiface.Event], *bytes.Buffer) {
	var buf bytes.Buffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(&buf),
			stumpy.WithTimeField(``),
		),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
	return logger, &buf
}

// eventLog records events in order.
type eventLog struct {
	events []string
}

func (x *eventLog) add(event string) { x.events = append(x.events, event) }

func (x *eventLog) fn(event string) func() { return func() { x.add(event) } }

func (x *eventLog) errFn(event string) func(error) {
	return func(err error) { x.add(fmt.Sprintf("%s:%v", event, err)) }
}

// sliceSource pushes its chunks one per read, then ends.
type sliceSource[T any] struct {
	chunks []T
	reads  int
}

func (x *sliceSource[T]) Read(r *Readable[T], _ int) {
	x.reads++
	if len(x.chunks) == 0 {
		r.PushEnd()
		return
	}
	chunk := x.chunks[0]
	x.chunks = x.chunks[1:]
	r.Push(chunk)
}

// manualSource records read requests, leaving pushes to the test.
type manualSource[T any] struct {
	reads int
}

func (x *manualSource[T]) Read(*Readable[T], int) { x.reads++ }

// recordingSink records chunks, completing each write synchronously, or
// holding the callback if async is set.
type recordingSink[T any] struct {
	chunks  []T
	batches [][]T
	pending []func(error)
	err     error
	async   bool
}

func (x *recordingSink[T]) Write(chunk T, cb func(error)) {
	x.chunks = append(x.chunks, chunk)
	x.complete(cb)
}

func (x *recordingSink[T]) complete(cb func(error)) {
	if x.async {
		x.pending = append(x.pending, cb)
		return
	}
	cb(x.err)
}

// release completes the oldest held write.
func (x *recordingSink[T]) release() {
	cb := x.pending[0]
	x.pending = x.pending[1:]
	cb(x.err)
}

// batchSink is a recordingSink that also implements BatchSink.
type batchSink[T any] struct {
	recordingSink[T]
}

func (x *batchSink[T]) Writev(chunks []T, cb func(error)) {
	x.batches = append(x.batches, chunks)
	x.chunks = append(x.chunks, chunks...)
	x.complete(cb)
}
