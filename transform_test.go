package stream

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform_Backpressure(t *testing.T) {
	q := new(Queue)
	x := NewTransform[int, int](TransformFunc[int, int](func(v int, push func(int) bool, cb func(error)) {
		push(v * 2)
		cb(nil)
	}), WithScheduler(q), WithHighWaterMark(1))
	var log eventLog
	x.OnDrain(log.fn("drain"))

	assert.False(t, x.Write(1, nil))
	assert.False(t, x.Write(3, nil))
	q.Drain()
	assert.Equal(t, 2, x.Writable.Length(), "transform callback withheld while the output is full")
	assert.Equal(t, 1, x.Readable.Length())

	v, ok := x.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Empty(t, log.events)

	v, ok = x.Read()
	require.True(t, ok)
	assert.Equal(t, 6, v)
	assert.Equal(t, []string{"drain"}, log.events)
	assert.Zero(t, x.Writable.Length())
}

type joinTransformer struct {
	parts []string
}

func (x *joinTransformer) Transform(chunk string, _ func(string) bool, cb func(error)) {
	x.parts = append(x.parts, chunk)
	cb(nil)
}

func (x *joinTransformer) Flush(push func(string) bool, cb func(error)) {
	push(strings.Join(x.parts, "+"))
	cb(nil)
}

func TestTransform_Flush(t *testing.T) {
	q := new(Queue)
	x := NewTransform[string, string](new(joinTransformer), WithScheduler(q), WithObjectMode(true))
	var (
		log    eventLog
		chunks []string
	)
	x.OnFinish(log.fn("finish"))
	x.OnEnd(log.fn("end"))
	x.OnClose(log.fn("close"))
	Collect[string](x, func(c []string, err error) {
		chunks = c
		log.errFn("collect")(err)
	})

	x.Write("a", nil)
	x.Write("b", nil)
	x.End(nil)
	q.Drain()

	assert.Equal(t, []string{"a+b"}, chunks)
	assert.Contains(t, log.events, "finish")
	assert.Equal(t, []string{"end", "collect:<nil>"}, log.events[:2])
	assert.Equal(t, "close", log.events[len(log.events)-1])
	assert.True(t, x.Destroyed())
}

func TestTransform_FlushError(t *testing.T) {
	q := new(Queue)
	boom := errors.New("boom")
	x := NewTransform[string, string](flushErrTransformer{err: boom}, WithScheduler(q))
	var log eventLog
	x.OnFinish(log.fn("finish"))
	x.OnError(log.errFn("error"))
	x.End(nil)
	q.Drain()
	assert.Equal(t, []string{"error:boom"}, log.events)
}

type flushErrTransformer struct {
	err error
}

func (flushErrTransformer) Transform(chunk string, push func(string) bool, cb func(error)) {
	push(chunk)
	cb(nil)
}

func (x flushErrTransformer) Flush(_ func(string) bool, cb func(error)) { cb(x.err) }

func TestTransform_Error(t *testing.T) {
	q := new(Queue)
	boom := errors.New("boom")
	x := NewMap(func(s string) (string, error) {
		if s == "bad" {
			return "", boom
		}
		return s, nil
	}, WithScheduler(q))
	var log eventLog
	x.OnError(log.errFn("error"))
	x.OnClose(log.fn("close"))

	x.Write("bad", log.errFn("write"))
	q.Drain()
	assert.Equal(t, []string{"write:boom", "error:boom", "close"}, log.events)
	assert.True(t, x.Destroyed())
	assert.False(t, x.Readable.IsReadable())
	assert.False(t, x.Writable.IsWritable())
}

func TestTransform_MultipleCallbackLogged(t *testing.T) {
	q := new(Queue)
	logger, buf := newTestLogger()
	x := NewTransform[string, string](TransformFunc[string, string](func(chunk string, push func(string) bool, cb func(error)) {
		push(chunk)
		cb(nil)
		cb(nil)
	}), WithScheduler(q), WithLogger(logger))
	x.Write("a", nil)
	q.Drain()
	assert.Contains(t, buf.String(), `stream: transform callback called multiple times`)
	assert.False(t, x.Destroyed())
}

func TestTransform_AllowHalfOpenDisabled(t *testing.T) {
	q := new(Queue)
	x := NewPassThrough[string](WithScheduler(q), WithAllowHalfOpen(false))
	var log eventLog
	x.OnFinish(log.fn("finish"))
	x.OnClose(log.fn("close"))
	x.OnData(func(string) {})
	x.Readable.PushEnd()
	q.Drain()
	assert.Equal(t, []string{"finish", "close"}, log.events, "readable end ends the writable side")
}

func TestTransform_Destroy(t *testing.T) {
	q := new(Queue)
	x := NewPassThrough[string](WithScheduler(q))
	var log eventLog
	x.OnError(log.errFn("error"))
	x.OnClose(log.fn("close"))
	boom := errors.New("boom")
	x.Destroy(boom)
	x.Destroy(boom)
	assert.True(t, x.Destroyed())
	assert.Same(t, boom, x.Errored())
	q.Drain()
	assert.Equal(t, []string{"error:boom", "close"}, log.events, "one error and one close for both sides")
	assert.True(t, x.Closed())
}

func TestNewFilter(t *testing.T) {
	q := new(Queue)
	x := NewFilter(func(v int) bool { return v%2 == 0 }, WithScheduler(q))
	var (
		got  []int
		done bool
	)
	Collect[int](x, func(c []int, err error) {
		require.NoError(t, err)
		got = c
		done = true
	})
	for i := range 6 {
		x.Write(i, nil)
	}
	x.End(nil)
	q.Drain()
	require.True(t, done)
	assert.Equal(t, []int{0, 2, 4}, got)
}

func TestTransform_Constructors(t *testing.T) {
	assert.Panics(t, func() { NewTransform[int, int](nil, WithScheduler(new(Queue))) })
	assert.Panics(t, func() { NewMap[int, int](nil, WithScheduler(new(Queue))) })
	assert.Panics(t, func() { NewFilter[int](nil, WithScheduler(new(Queue))) })
}
