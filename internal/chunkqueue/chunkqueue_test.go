package chunkqueue

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

func TestQueue_ShiftFIFO(t *testing.T) {
	q := New[string](String{})
	for _, s := range []string{"a", "bb", "ccc"} {
		q.Push(s)
	}
	if q.Len() != 3 || q.Size() != 6 {
		t.Fatalf("got len=%d size=%d, want 3 6", q.Len(), q.Size())
	}
	var got []string
	for {
		s, ok := q.Shift()
		if !ok {
			break
		}
		got = append(got, s)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "bb" || got[2] != "ccc" {
		t.Fatalf("got %v", got)
	}
	if q.Size() != 0 {
		t.Fatalf("size %d after drain", q.Size())
	}
}

func TestQueue_ShiftEmpty(t *testing.T) {
	q := New[[]byte](Bytes{})
	if v, ok := q.Shift(); ok || v != nil {
		t.Fatalf("got (%v, %v), want (nil, false)", v, ok)
	}
	if _, ok := q.Peek(); ok {
		t.Fatal("peek on empty queue")
	}
}

func TestQueue_Unshift(t *testing.T) {
	q := New[string](String{})
	q.Push("b")
	q.Unshift("a")
	if s, _ := q.Shift(); s != "a" {
		t.Fatalf("got %q", s)
	}
	// head slot reuse
	q.Unshift("x")
	if q.Len() != 2 || q.Size() != 2 {
		t.Fatalf("got len=%d size=%d", q.Len(), q.Size())
	}
	if s := q.Slice(); len(s) != 2 || s[0] != "x" || s[1] != "b" {
		t.Fatalf("got %v", s)
	}
}

func TestQueue_ConcatSplitsLastChunk(t *testing.T) {
	q := New[[]byte](Bytes{})
	q.Push([]byte("abc"))
	q.Push([]byte("def"))
	q.Push([]byte("ghi"))

	b, ok := q.Concat(4)
	if !ok || string(b) != "abcd" {
		t.Fatalf("got (%q, %v)", b, ok)
	}
	if q.Size() != 5 || q.Len() != 2 {
		t.Fatalf("got size=%d len=%d", q.Size(), q.Len())
	}
	b, _ = q.Concat(1)
	if string(b) != "e" {
		t.Fatalf("got %q", b)
	}
	b, _ = q.Concat(100)
	if string(b) != "fghi" {
		t.Fatalf("got %q", b)
	}
	if q.Size() != 0 || q.Len() != 0 {
		t.Fatalf("got size=%d len=%d", q.Size(), q.Len())
	}
}

func TestQueue_ConcatSplitDoesNotAliasRemainder(t *testing.T) {
	q := New[[]byte](Bytes{})
	q.Push([]byte("abcdef"))
	head, _ := q.Concat(3)
	head = append(head, 'X')
	rest, _ := q.Concat(3)
	if string(rest) != "def" || string(head) != "abcX" {
		t.Fatalf("got head=%q rest=%q", head, rest)
	}
}

func TestQueue_ConcatObjects(t *testing.T) {
	q := New[int](Objects[int]{})
	q.Push(1)
	q.Push(2)
	v, ok := q.Concat(2)
	if !ok || v != 1 || q.Size() != 1 {
		t.Fatalf("got (%v, %v) size=%d", v, ok, q.Size())
	}
}

func TestQueue_Clear(t *testing.T) {
	q := New[string](String{})
	q.Push("abc")
	q.Push("d")
	q.Clear()
	if q.Len() != 0 || q.Size() != 0 {
		t.Fatalf("got len=%d size=%d", q.Len(), q.Size())
	}
	q.Push("z")
	if s, _ := q.Shift(); s != "z" {
		t.Fatalf("got %q", s)
	}
}

func TestQueue_Compaction(t *testing.T) {
	q := New[int](Objects[int]{})
	for i := range compactThreshold * 3 {
		q.Push(i)
	}
	for i := range compactThreshold * 2 {
		v, ok := q.Shift()
		if !ok || v != i {
			t.Fatalf("shift %d: got (%v, %v)", i, v, ok)
		}
	}
	if q.head >= compactThreshold*2 {
		t.Fatalf("head not compacted: %d", q.head)
	}
	if v, _ := q.Peek(); v != compactThreshold*2 {
		t.Fatalf("got %d", v)
	}
}

func TestQueue_SizeInvariant(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := New[[]byte](Bytes{})
		var model []byte
		steps := rapid.IntRange(1, 50).Draw(t, "steps")
		for range steps {
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				b := rapid.SliceOfN(rapid.Byte(), 1, 8).Draw(t, "push")
				q.Push(b)
				model = append(model, b...)
			case 1:
				b := rapid.SliceOfN(rapid.Byte(), 1, 8).Draw(t, "unshift")
				q.Unshift(b)
				model = append(append([]byte(nil), b...), model...)
			case 2:
				b, ok := q.Shift()
				if ok != (len(model) > 0) {
					t.Fatalf("shift ok=%v with model len %d", ok, len(model))
				}
				if !bytes.Equal(b, model[:len(b)]) {
					t.Fatalf("shift got %x want prefix of %x", b, model)
				}
				model = model[len(b):]
			case 3:
				n := rapid.IntRange(1, 20).Draw(t, "n")
				b, ok := q.Concat(n)
				if ok != (len(model) > 0) {
					t.Fatalf("concat ok=%v with model len %d", ok, len(model))
				}
				want := min(n, len(model))
				if !bytes.Equal(b, model[:want]) {
					t.Fatalf("concat(%d) got %x want %x", n, b, model[:want])
				}
				model = model[want:]
			}
			if q.Size() != len(model) {
				t.Fatalf("size %d, model %d", q.Size(), len(model))
			}
		}
	})
}

func TestString_Join(t *testing.T) {
	parts := []string{"ab", "", "cde", "f"}
	if s := (String{}).Join(parts, 6); s != "abcdef" {
		t.Fatalf("got %q", s)
	}
	if s := (String{}).Join(nil, 0); s != "" {
		t.Fatalf("got %q", s)
	}
	if n := testing.AllocsPerRun(100, func() { _ = (String{}).Join(parts, 6) }); n > 1 {
		t.Fatalf("got %v allocs, want at most 1", n)
	}
}
