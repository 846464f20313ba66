package chunkqueue

import "strings"

type (
	// Bytes measures []byte chunks by length. Split slices without copying,
	// Join allocates a single buffer.
	Bytes struct{}

	// String measures string chunks by length in bytes.
	String struct{}

	// Objects treats every chunk as a single indivisible unit.
	Objects[T any] struct{}
)

var (
	_ Codec[[]byte] = Bytes{}
	_ Codec[string] = String{}
	_ Codec[any]    = Objects[any]{}
)

func (Bytes) Size(chunk []byte) int { return len(chunk) }

func (Bytes) Splittable() bool { return true }

func (Bytes) Split(chunk []byte, n int) ([]byte, []byte) {
	return chunk[:n:n], chunk[n:]
}

func (Bytes) Join(parts [][]byte, size int) []byte {
	b := make([]byte, 0, size)
	for _, p := range parts {
		b = append(b, p...)
	}
	return b
}

func (String) Size(chunk string) int { return len(chunk) }

func (String) Splittable() bool { return true }

func (String) Split(chunk string, n int) (string, string) {
	return chunk[:n], chunk[n:]
}

func (String) Join(parts []string, size int) string {
	var b strings.Builder
	b.Grow(size)
	for _, p := range parts {
		b.WriteString(p)
	}
	return b.String()
}

func (Objects[T]) Size(T) int { return 1 }

func (Objects[T]) Splittable() bool { return false }

func (Objects[T]) Split(chunk T, _ int) (T, T) {
	panic("chunkqueue: object chunks cannot be split")
}

func (Objects[T]) Join(parts []T, _ int) T {
	panic("chunkqueue: object chunks cannot be joined")
}
