package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinished_Writable(t *testing.T) {
	q := new(Queue)
	w := NewWritable[string](new(recordingSink[string]), WithScheduler(q))
	var log eventLog
	w.OnFinish(log.fn("finish"))
	w.OnClose(log.fn("close"))
	Finished(w, log.errFn("cb"))
	w.End(nil)
	q.Drain()
	assert.Equal(t, []string{"finish", "close", "cb:<nil>"}, log.events)
}

func TestFinished_Duplex(t *testing.T) {
	q := new(Queue)
	x := NewPassThrough[string](WithScheduler(q))
	var log eventLog
	x.OnClose(log.fn("close"))
	Finished(x, log.errFn("cb"))
	x.Resume()
	x.EndWith("a", nil)
	q.Drain()
	assert.Equal(t, []string{"close", "cb:<nil>"}, log.events)
}

func TestFinished_WritableSideOnly(t *testing.T) {
	q := new(Queue)
	x := NewPassThrough[string](WithScheduler(q))
	var log eventLog
	x.OnFinish(log.fn("finish"))
	Finished(x, log.errFn("cb"), FinishedReadable(false))
	x.End(nil)
	q.Drain()
	assert.Equal(t, []string{"finish", "cb:<nil>"}, log.events)
	assert.False(t, x.Readable.Ended(), "nothing consumed the readable side")
}

func TestFinished_PrematureClose(t *testing.T) {
	q := new(Queue)
	r := NewReadable[string](new(manualSource[string]), WithScheduler(q))
	var got error
	calls := 0
	Finished(r, func(err error) {
		calls++
		got = err
	})
	r.Destroy(nil)
	q.Drain()
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, got, ErrPrematureClose)
}

func TestFinished_PrematureCloseAfterLatePush(t *testing.T) {
	q := new(Queue)
	r := NewReadable[string](new(manualSource[string]), WithScheduler(q))
	var got error
	calls := 0
	Finished(r, func(err error) {
		calls++
		got = err
	})
	r.Destroy(nil)
	r.Push("x")
	q.Drain()
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, got, ErrPrematureClose)
	assert.ErrorIs(t, r.Errored(), ErrDestroyed)
}

func TestFinished_Error(t *testing.T) {
	q := new(Queue)
	boom := errors.New("boom")
	r := NewReadable[string](new(manualSource[string]), WithScheduler(q))
	var log eventLog
	Finished(r, log.errFn("cb"))
	r.Destroy(boom)
	q.Drain()
	assert.Equal(t, []string{"cb:boom"}, log.events)
}

func TestFinished_AlreadyClosed(t *testing.T) {
	q := new(Queue)
	w := NewWritable[string](new(recordingSink[string]), WithScheduler(q))
	w.End(nil)
	q.Drain()
	require.True(t, w.Closed())

	var log eventLog
	Finished(w, log.errFn("cb"))
	assert.Empty(t, log.events, "reported on a later turn")
	q.Drain()
	assert.Equal(t, []string{"cb:<nil>"}, log.events)
}

func TestFinished_AlreadyEnded(t *testing.T) {
	q := new(Queue)
	r := NewReadable[string](&sliceSource[string]{}, WithScheduler(q), WithAutoDestroy(false))
	r.Resume()
	q.Drain()
	require.True(t, r.Ended())
	require.False(t, r.Destroyed())

	var log eventLog
	Finished(r, log.errFn("cb"))
	assert.Empty(t, log.events)
	q.Drain()
	assert.Equal(t, []string{"cb:<nil>"}, log.events)
}

func TestFinished_Cleanup(t *testing.T) {
	q := new(Queue)
	r := NewReadable[string](new(manualSource[string]), WithScheduler(q))
	cleanup := Finished(r, func(error) { t.Error("unexpected callback") })
	assert.Equal(t, 1, r.ListenerCount(EventEnd))
	assert.Equal(t, 1, r.ListenerCount(EventError))
	assert.Equal(t, 1, r.ListenerCount(EventClose))
	cleanup()
	assert.Zero(t, r.ListenerCount(EventEnd))
	assert.Zero(t, r.ListenerCount(EventError))
	assert.Zero(t, r.ListenerCount(EventClose))
	r.PushEnd()
	r.Resume()
	q.Drain()
	assert.True(t, r.Closed())
}
