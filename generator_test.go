package stream

import (
	"context"
	"errors"
	"iter"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runGenerator pipes input through a generator on a real loop, and returns
// what was collected from its output.
func runGenerator(t *testing.T, input []int, fn GeneratorFunc[int, int], opts ...Option) (out []int, err error) {
	t.Helper()
	runOnLoop(t, func(s *LoopScheduler, done func()) {
		opts := append([]Option{WithScheduler(s)}, opts...)
		g := NewGenerator(fn, opts...)
		FromSeq(slices.Values(input), opts...).Pipe(g)
		Collect(g, func(chunks []int, e error) {
			out, err = chunks, e
			done()
		})
	})
	return out, err
}

func TestGenerator_Map(t *testing.T) {
	out, err := runGenerator(t, []int{1, 2, 3, 4}, func(ctx context.Context, in iter.Seq[int], yield func(int) bool) error {
		for v := range in {
			if !yield(v * 2) {
				return ctx.Err()
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6, 8}, out)
}

func TestGenerator_Expand(t *testing.T) {
	out, err := runGenerator(t, []int{3, 1}, func(_ context.Context, in iter.Seq[int], yield func(int) bool) error {
		for v := range in {
			for i := range v {
				if !yield(i) {
					return nil
				}
			}
		}
		yield(-1)
		return nil
	}, WithHighWaterMark(1))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 0, -1}, out)
}

func TestGenerator_EarlyReturn(t *testing.T) {
	out, err := runGenerator(t, []int{1, 2, 3, 4, 5}, func(_ context.Context, in iter.Seq[int], yield func(int) bool) error {
		var n int
		for v := range in {
			if !yield(v) {
				return nil
			}
			if n++; n == 2 {
				return nil
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, out)
}

func TestGenerator_Error(t *testing.T) {
	boom := errors.New("boom")
	out, err := runGenerator(t, []int{1, 2, 3}, func(_ context.Context, in iter.Seq[int], yield func(int) bool) error {
		for v := range in {
			if v == 2 {
				return boom
			}
			yield(v)
		}
		return nil
	})
	assert.Same(t, boom, err)
	assert.Equal(t, []int{1}, out)
}

func TestGenerator_Panic(t *testing.T) {
	_, err := runGenerator(t, []int{1}, func(context.Context, iter.Seq[int], func(int) bool) error {
		panic("kaboom")
	})
	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
}

func TestGenerator_DestroyCancels(t *testing.T) {
	result := make(chan error, 1)
	var (
		sched *LoopScheduler
		g     *Transform[int, int]
	)
	runOnLoop(t, func(s *LoopScheduler, done func()) {
		sched = s
		g = NewGenerator[int, int](func(ctx context.Context, _ iter.Seq[int], yield func(int) bool) error {
			for i := 0; ; i++ {
				if !yield(i) {
					result <- ctx.Err()
					return ctx.Err()
				}
			}
		}, WithScheduler(s), WithHighWaterMark(2))
		g.End(nil)
		done()
	})

	onLoop := func(fn func()) {
		ch := make(chan struct{})
		require.NoError(t, sched.Submit(func() {
			defer close(ch)
			fn()
		}))
		<-ch
	}
	require.Eventually(t, func() bool {
		var n int
		onLoop(func() { n = g.Readable.Length() })
		return n == 2
	}, 5*time.Second, time.Millisecond, "the generator fills the output buffer")

	onLoop(func() { g.Destroy(nil) })
	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("generator was not canceled")
	}
}

func TestGenerator_NilFunction(t *testing.T) {
	assert.PanicsWithValue(t, "stream: generator function must not be nil", func() {
		NewGenerator[int, int](nil, WithScheduler(new(Queue)))
	})
}
