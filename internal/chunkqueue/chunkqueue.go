// Package chunkqueue provides the FIFO buffer backing readable and writable
// streams.
//
// All types in this package assume single-threaded access on the scheduler
// goroutine. No mutexes or atomic operations are used.
package chunkqueue

// compactThreshold is the number of consumed head slots tolerated before the
// backing array is compacted.
const compactThreshold = 1024

// Codec describes how chunks of type T are measured, split and joined.
type Codec[T any] interface {
	// Size returns the length of the chunk, in units counted against the
	// high water mark.
	Size(chunk T) int

	// Splittable reports whether Split and Join are supported. Codecs that
	// return false treat every chunk as indivisible.
	Splittable() bool

	// Split returns the first n units of chunk, and the remainder.
	// It is only called with 0 < n < Size(chunk).
	Split(chunk T, n int) (head, tail T)

	// Join concatenates parts, whose sizes sum to size, into a single chunk.
	Join(parts []T, size int) T
}

// Queue is an ordered buffer of chunks, with size accounting.
//
// The zero value is not usable, see [New].
type Queue[T any] struct {
	codec Codec[T]
	buf   []T
	head  int
	size  int
}

// New returns an empty queue using the given codec.
func New[T any](codec Codec[T]) *Queue[T] {
	if codec == nil {
		panic("chunkqueue: nil codec")
	}
	return &Queue[T]{codec: codec}
}

// Codec returns the codec the queue was constructed with.
func (q *Queue[T]) Codec() Codec[T] { return q.codec }

// Len returns the number of buffered chunks.
func (q *Queue[T]) Len() int { return len(q.buf) - q.head }

// Size returns the sum of the sizes of all buffered chunks.
func (q *Queue[T]) Size() int { return q.size }

// Push appends chunk to the tail of the queue.
func (q *Queue[T]) Push(chunk T) {
	q.buf = append(q.buf, chunk)
	q.size += q.codec.Size(chunk)
}

// Unshift inserts chunk at the head of the queue.
func (q *Queue[T]) Unshift(chunk T) {
	q.size += q.codec.Size(chunk)
	if q.head > 0 {
		q.head--
		q.buf[q.head] = chunk
		return
	}
	var zero T
	q.buf = append(q.buf, zero)
	copy(q.buf[1:], q.buf)
	q.buf[0] = chunk
}

// Peek returns the head chunk without removing it.
func (q *Queue[T]) Peek() (chunk T, ok bool) {
	if q.Len() == 0 {
		return chunk, false
	}
	return q.buf[q.head], true
}

// Shift removes and returns the head chunk. If the queue is empty, the zero
// value and false are returned.
func (q *Queue[T]) Shift() (chunk T, ok bool) {
	if q.Len() == 0 {
		return chunk, false
	}
	chunk = q.buf[q.head]
	q.release(1)
	q.size -= q.codec.Size(chunk)
	return chunk, true
}

// Concat removes and returns up to n units from the head of the queue, as a
// single chunk. If the final chunk spans the boundary, it is split, and the
// remainder stays at the head. A non-splittable codec always returns the head
// chunk, regardless of n.
func (q *Queue[T]) Concat(n int) (chunk T, ok bool) {
	count := q.Len()
	if count == 0 || n <= 0 {
		return chunk, false
	}
	if !q.codec.Splittable() {
		return q.Shift()
	}

	if n >= q.size {
		if count == 1 {
			return q.Shift()
		}
		parts := q.buf[q.head:]
		chunk = q.codec.Join(parts, q.size)
		q.Clear()
		return chunk, true
	}

	head := q.buf[q.head]
	if headSize := q.codec.Size(head); n < headSize {
		chunk, q.buf[q.head] = q.codec.Split(head, n)
		q.size -= n
		return chunk, true
	} else if n == headSize {
		return q.Shift()
	}

	var (
		parts  []T
		remain = n
		i      = q.head
	)
	for remain > 0 {
		c := q.buf[i]
		s := q.codec.Size(c)
		if s <= remain {
			parts = append(parts, c)
			remain -= s
			i++
			continue
		}
		var tail T
		c, tail = q.codec.Split(c, remain)
		parts = append(parts, c)
		q.buf[i] = tail
		remain = 0
	}
	q.release(i - q.head)
	q.size -= n
	return q.codec.Join(parts, n), true
}

// Clear empties the queue and resets its size.
func (q *Queue[T]) Clear() {
	clear(q.buf)
	q.buf = nil
	q.head = 0
	q.size = 0
}

// Slice returns a copy of the buffered chunks, head first.
func (q *Queue[T]) Slice() []T {
	if q.Len() == 0 {
		return nil
	}
	return append([]T(nil), q.buf[q.head:]...)
}

// release drops n chunks from the head, releasing references from the
// backing array.
func (q *Queue[T]) release(n int) {
	clear(q.buf[q.head : q.head+n])
	q.head += n
	switch {
	case q.head == len(q.buf):
		q.buf = q.buf[:0]
		q.head = 0
	case q.head >= compactThreshold && q.head*2 >= len(q.buf):
		m := copy(q.buf, q.buf[q.head:])
		clear(q.buf[m:])
		q.buf = q.buf[:m]
		q.head = 0
	}
}
