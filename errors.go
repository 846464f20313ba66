package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrWriteAfterEnd is returned when writing to a [Writable] after End.
	ErrWriteAfterEnd = errors.New("write after end")

	// ErrDestroyed indicates an operation on a destroyed stream.
	ErrDestroyed = errors.New("stream destroyed")

	// ErrPushAfterEOF indicates a push after the end of stream was signalled.
	ErrPushAfterEOF = errors.New("push after end of stream")

	// ErrUnshiftAfterEnd indicates an unshift after the 'end' event.
	ErrUnshiftAfterEnd = errors.New("unshift after end event")

	// ErrMultipleCallback indicates a hook invoked its callback more than once.
	ErrMultipleCallback = errors.New("callback called multiple times")

	// ErrPrematureClose indicates a stream closed before it ended or finished.
	ErrPrematureClose = errors.New("premature close")

	// ErrAlreadyFinished indicates End was called on a finished stream.
	ErrAlreadyFinished = errors.New("stream already finished")
)

// OpError associates an error with the stream operation that produced it.
type OpError struct {
	Err error
	// Op is the operation, e.g. "write", "end" or "push".
	Op string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("stream: %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// TypeError indicates a value was not of the expected type, e.g. a pipeline
// stage that cannot be connected to its neighbour.
type TypeError struct {
	Cause   error
	Message string
}

func (e *TypeError) Error() string {
	if e.Message == "" {
		return "stream: type error"
	}
	return "stream: " + e.Message
}

func (e *TypeError) Unwrap() error { return e.Cause }

// RangeError indicates a numeric argument was out of range.
type RangeError struct {
	Cause   error
	Message string
}

func (e *RangeError) Error() string {
	if e.Message == "" {
		return "stream: range error"
	}
	return "stream: " + e.Message
}

func (e *RangeError) Unwrap() error { return e.Cause }

// UnhandledError is passed to the unhandled error handler when a stream
// emits 'error' with no listener attached.
type UnhandledError struct {
	Err error
	// Stream is the stream name, see [WithName].
	Stream string
}

func (e *UnhandledError) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("stream: unhandled error: %v", e.Err)
	}
	return fmt.Sprintf("stream: unhandled error on %s: %v", e.Stream, e.Err)
}

func (e *UnhandledError) Unwrap() error { return e.Err }

// PanicError wraps a value recovered from a panic in a goroutine-backed
// stage.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("stream: panic: %v", e.Value)
}

// Unwrap returns the panic value if it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func opError(op string, err error) error {
	return &OpError{Op: op, Err: err}
}
