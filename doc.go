// Package stream implements backpressure-aware streams: [Readable]
// producers, [Writable] consumers, [Transform] stages, and [Pipeline]
// composition with error propagation.
//
// Streams are cooperatively scheduled. Every continuation (deferred events,
// hook invocations, completion callbacks) runs on a [Scheduler], typically
// a [LoopScheduler] backed by github.com/joeycumines/go-eventloop, or a
// [Queue] driven by hand. Streams are not safe for concurrent use: all
// methods must be called from the scheduler's goroutine. Goroutine-backed
// stages, i.e. [NewGenerator], [FromReader] and [ToWriter], only touch stream
// state from scheduled continuations.
//
// # Chunks
//
// The chunk type parameter determines how buffered data is measured. Byte
// streams ([]byte or string chunks) measure length in bytes, and coalesce
// buffered chunks on read, while all other types are in object mode, where
// every chunk counts as one. [WithObjectMode] forces object mode for byte
// chunks.
//
// # Backpressure
//
// [Writable.Write] returns false once the buffered length reaches the high
// water mark, and 'drain' is emitted once the buffer has emptied. A
// [Readable] stops calling its [Source] once its buffer reaches the high
// water mark. [Readable.Pipe] and [Pipeline] connect the two, pausing the
// source until the destination drains.
//
// # Errors
//
// Errors are delivered as 'error' events, at most once per stream, followed
// by 'close'. An 'error' with no listener is passed to the handler given by
// [WithUnhandledError], or else logged and raised as a panic with an
// [*UnhandledError].
package stream
