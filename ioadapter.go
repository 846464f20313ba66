package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"net"
)

// FromSeq constructs a [Readable] that pulls chunks from seq, on demand,
// ending once seq is exhausted. The iterator is stopped if the stream is
// destroyed first.
func FromSeq[T any](seq iter.Seq[T], opts ...Option) *Readable[T] {
	if seq == nil {
		panic("stream: sequence must not be nil")
	}
	s := new(seqSource[T])
	s.next, s.stop = iter.Pull(seq)
	r := NewReadable[T](s, opts...)
	r.beforeDestroy(s.stop)
	return r
}

type seqSource[T any] struct {
	next func() (T, bool)
	stop func()
}

func (s *seqSource[T]) Read(r *Readable[T], _ int) {
	for {
		v, ok := s.next()
		if !ok {
			s.stop()
			r.PushEnd()
			return
		}
		if !r.Push(v) {
			return
		}
	}
}

// FromReader constructs a byte [Readable] that reads from rd. Each read is
// performed on a worker goroutine, one at a time, and sized by the high
// water mark. [io.EOF] ends the stream, while any other error destroys it.
//
// If rd implements [io.Closer], it is closed when the stream is destroyed,
// which also happens once it ends, unless auto destroy is disabled.
func FromReader(rd io.Reader, opts ...Option) *Readable[[]byte] {
	if rd == nil {
		panic("stream: reader must not be nil")
	}
	s := &readerSource{
		rd:   rd,
		want: make(chan int, 1),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.r = NewReadable[[]byte](s, opts...)
	if _, ok := rd.(io.Closer); ok && s.r.destroyHook == nil {
		s.r.destroyHook = s.close
	}
	s.r.beforeDestroy(s.cancel)
	return s.r
}

type readerSource struct {
	ctx     context.Context
	rd      io.Reader
	r       *Readable[[]byte]
	cancel  context.CancelFunc
	want    chan int
	started bool
}

func (s *readerSource) Read(_ *Readable[[]byte], size int) {
	if size <= 0 {
		size = DefaultHighWaterMark
	}
	if !s.started {
		s.started = true
		go s.worker()
	}
	select {
	case s.want <- size:
	default:
		// a read is already in flight
	}
}

func (s *readerSource) worker() {
	for {
		var size int
		select {
		case <-s.ctx.Done():
			return
		case size = <-s.want:
		}
		buf := make([]byte, size)
		n, err := s.rd.Read(buf)
		s.r.sched.Schedule(func() { s.deliver(buf[:n], err) })
		if err != nil {
			return
		}
	}
}

func (s *readerSource) deliver(chunk []byte, err error) {
	r := s.r
	if r.destroyed {
		return
	}
	if len(chunk) != 0 || err == nil {
		// an empty push still completes the pending read
		r.Push(chunk)
	}
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		r.PushEnd()
	default:
		r.Destroy(err)
	}
}

func (s *readerSource) close(err error, cb func(error)) {
	if cerr := s.rd.(io.Closer).Close(); err == nil {
		err = cerr
	}
	cb(err)
}

// ToWriter constructs a byte [Writable] that writes to wr. Writes are
// performed on a worker goroutine, one at a time, and a short write fails
// with [io.ErrShortWrite]. Corked writes are flushed as a single vectored
// write.
//
// If wr has a Flush() error method, e.g. [bufio.Writer], it is called
// before 'finish'. wr is never closed.
func ToWriter(wr io.Writer, opts ...Option) *Writable[[]byte] {
	if wr == nil {
		panic("stream: writer must not be nil")
	}
	s := &writerSink{
		wr:   wr,
		jobs: make(chan writerJob, 1),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.w = NewWritable[[]byte](s, opts...)
	s.w.beforeDestroy(s.cancel)
	return s.w
}

type writerJob struct {
	fn func() error
	cb func(error)
	op string
}

type writerSink struct {
	ctx     context.Context
	wr      io.Writer
	w       *Writable[[]byte]
	cancel  context.CancelFunc
	jobs    chan writerJob
	started bool
}

var _ BatchSink[[]byte] = (*writerSink)(nil)

func (s *writerSink) Write(chunk []byte, cb func(error)) {
	s.submit(`write`, func() error {
		n, err := s.wr.Write(chunk)
		if err == nil && n < len(chunk) {
			err = io.ErrShortWrite
		}
		return err
	}, cb)
}

func (s *writerSink) Writev(chunks [][]byte, cb func(error)) {
	var size int64
	for _, chunk := range chunks {
		size += int64(len(chunk))
	}
	s.submit(`write`, func() error {
		bufs := net.Buffers(chunks)
		n, err := bufs.WriteTo(s.wr)
		if err == nil && n < size {
			err = io.ErrShortWrite
		}
		return err
	}, cb)
}

func (s *writerSink) Final(cb func(error)) {
	f, ok := s.wr.(interface{ Flush() error })
	if !ok {
		cb(nil)
		return
	}
	s.submit(`final`, f.Flush, cb)
}

// submit runs fn on the worker goroutine, and calls cb with the result on
// a later turn. Only one job is outstanding at a time. Once the stream is
// destroyed, jobs that have not started fail with [ErrDestroyed].
func (s *writerSink) submit(op string, fn func() error, cb func(error)) {
	job := writerJob{op: op, fn: fn, cb: cb}
	if s.ctx.Err() != nil {
		s.w.sched.Schedule(job.cancel)
		return
	}
	if !s.started {
		s.started = true
		go s.worker()
	}
	s.jobs <- job
}

func (s *writerSink) worker() {
	for {
		var job writerJob
		select {
		case <-s.ctx.Done():
			select {
			case job = <-s.jobs:
				s.w.sched.Schedule(job.cancel)
			default:
			}
			return
		case job = <-s.jobs:
		}
		err := job.fn()
		s.w.sched.Schedule(func() { job.cb(err) })
	}
}

func (j writerJob) cancel() { j.cb(opError(j.op, ErrDestroyed)) }

// Collect consumes r in flowing mode, and calls cb once it ends with every
// chunk, or with the chunks received so far and the error, if it fails.
func Collect[T any](r ReadableStream[T], cb func(chunks []T, err error)) {
	var chunks []T
	id := r.OnData(func(chunk T) { chunks = append(chunks, chunk) })
	Finished(r, func(err error) {
		r.Off(id)
		cb(chunks, err)
	}, FinishedWritable(false))
}
