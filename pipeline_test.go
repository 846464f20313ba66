package stream

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upper(s string) (string, error) { return strings.ToUpper(s), nil }

// destroyRecorder returns a destroy hook that records the error it was
// called with.
func destroyRecorder(log *eventLog, name string) Option {
	return WithDestroy(func(err error, cb func(error)) {
		log.add(name + ":" + errString(err))
		cb(err)
	})
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

func TestPipeline_Success(t *testing.T) {
	q := new(Queue)
	src := FromSeq(slices.Values([]string{"foo", "bar"}), WithScheduler(q))
	mid := NewMap(upper, WithScheduler(q))
	sink := new(recordingSink[string])
	dst := NewWritable[string](sink, WithScheduler(q))

	var log eventLog
	dst.OnClose(log.fn("close"))
	last, err := Pipeline(log.errFn("callback"), src, mid, dst)
	require.NoError(t, err)
	assert.Same(t, dst, last)

	q.Drain()
	assert.Equal(t, "FOOBAR", strings.Join(sink.chunks, ""))
	assert.Equal(t, []string{"close", "callback:<nil>"}, log.events)
	assert.True(t, src.Closed())
	assert.True(t, mid.Closed())

	assert.Zero(t, src.ListenerCount(EventError))
	assert.Zero(t, src.ListenerCount(EventClose))
	assert.Zero(t, mid.ListenerCount(EventError))
	assert.Zero(t, mid.ListenerCount(EventFinish))
	assert.Equal(t, 1, dst.ListenerCount(EventError), "the last stream keeps its error listener")
}

func TestPipeline_TransformError(t *testing.T) {
	q := new(Queue)
	boom := errors.New("boom")
	var log eventLog
	src := NewReadable[string](new(manualSource[string]), WithScheduler(q), destroyRecorder(&log, "readable"))
	mid := NewMap(func(string) (string, error) { return "", boom }, WithScheduler(q))
	dst := NewWritable[string](new(recordingSink[string]), WithScheduler(q), destroyRecorder(&log, "writable"))
	require.True(t, src.Push("x"))

	calls := 0
	var got error
	_, err := Pipeline(func(err error) {
		calls++
		got = err
	}, src, mid, dst)
	require.NoError(t, err)

	q.Drain()
	assert.Equal(t, 1, calls)
	assert.Same(t, boom, got)
	assert.ElementsMatch(t, []string{"readable:boom", "writable:boom"}, log.events)
	assert.Same(t, boom, src.Errored())
	assert.Same(t, boom, dst.Errored())
	assert.True(t, src.Closed())
	assert.True(t, dst.Closed())
}

func TestPipeline_PrematureClose(t *testing.T) {
	q := new(Queue)
	src := NewReadable[string](new(manualSource[string]), WithScheduler(q))
	mid := NewPassThrough[string](WithScheduler(q))
	dst := NewWritable[string](new(recordingSink[string]), WithScheduler(q))

	var log eventLog
	_, err := Pipeline(log.errFn("callback"), src, mid, dst)
	require.NoError(t, err)
	q.Drain()

	mid.Destroy(nil)
	q.Drain()
	assert.Equal(t, []string{"callback:premature close"}, log.events)
	assert.ErrorIs(t, src.Errored(), ErrPrematureClose)
	assert.ErrorIs(t, dst.Errored(), ErrPrematureClose)
	assert.Zero(t, src.ListenerCount(EventError))
}

func TestPipeline_SourceError(t *testing.T) {
	q := new(Queue)
	boom := errors.New("boom")
	src := NewReadable[string](new(manualSource[string]), WithScheduler(q))
	dst := NewWritable[string](new(recordingSink[string]), WithScheduler(q))

	var log eventLog
	_, err := Pipeline(log.errFn("callback"), src, dst)
	require.NoError(t, err)
	src.Destroy(boom)
	q.Drain()
	assert.Equal(t, []string{"callback:boom"}, log.events)
	assert.Same(t, boom, dst.Errored())
}

func TestPipeline_Validation(t *testing.T) {
	q := new(Queue)
	newSrc := func() *Readable[string] {
		return NewReadable[string](new(manualSource[string]), WithScheduler(q))
	}
	newDst := func() *Writable[string] {
		return NewWritable[string](new(recordingSink[string]), WithScheduler(q))
	}
	cb := func(error) { t.Error("unexpected callback") }

	for _, tc := range [...]struct {
		name    string
		cb      func(error)
		streams []Stream
		err     string
	}{
		{
			name:    "nil callback",
			streams: []Stream{newSrc(), newDst()},
			err:     "stream: pipeline callback must not be nil",
		},
		{
			name:    "single stream",
			cb:      cb,
			streams: []Stream{newSrc()},
			err:     "stream: pipeline requires at least two streams",
		},
		{
			name:    "nil stream",
			cb:      cb,
			streams: []Stream{newSrc(), nil},
			err:     "stream: pipeline stream 1 is nil",
		},
		{
			name:    "writable first",
			cb:      cb,
			streams: []Stream{newDst(), newDst()},
			err:     "stream: pipeline stream 0 (*stream.Writable[string]) is not readable",
		},
		{
			name:    "readable last",
			cb:      cb,
			streams: []Stream{newSrc(), newSrc()},
			err:     "stream: pipeline stream 1 (*stream.Readable[string]) is not writable",
		},
		{
			name:    "type mismatch",
			cb:      cb,
			streams: []Stream{newSrc(), NewMap(func(v int) (int, error) { return v, nil }, WithScheduler(q))},
			err:     "stream: pipeline stream 0 produces string, but stream 1 accepts int",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			last, err := Pipeline(tc.cb, tc.streams...)
			assert.Nil(t, last)
			var typeErr *TypeError
			require.ErrorAs(t, err, &typeErr)
			assert.EqualError(t, err, tc.err)
			for _, s := range tc.streams {
				if s != nil {
					assert.Zero(t, s.ListenerCount(EventError), "nothing connected")
				}
			}
		})
	}
}
