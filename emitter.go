package stream

import (
	"slices"
)

// ListenerID identifies a registered listener, for removal via Off.
// Functions cannot be compared for equality, so each registration is
// assigned a unique ID instead.
type ListenerID uint64

// Event names a stream event, for [Stream.ListenerCount].
type Event string

const (
	EventData      Event = "data"
	EventReadable  Event = "readable"
	EventEnd       Event = "end"
	EventPause     Event = "pause"
	EventResume    Event = "resume"
	EventError     Event = "error"
	EventClose     Event = "close"
	EventDrain     Event = "drain"
	EventFinish    Event = "finish"
	EventPrefinish Event = "prefinish"
)

// listenerEntry pairs a listener with its unique ID for removal.
type listenerEntry[F any] struct { //nolint:govet // betteralign:ignore
	id   ListenerID
	fn   F
	once bool // if true, remove before first dispatch
}

// listeners is an ordered set of listeners for a single event.
//
// Dispatch iterates a snapshot, so listeners added during dispatch are not
// called until the next dispatch, and listeners removed during dispatch are
// still called if they were in the snapshot.
type listeners[F any] struct {
	entries []listenerEntry[F]
}

func (x *listeners[F]) add(id ListenerID, fn F, once bool) {
	x.entries = append(x.entries, listenerEntry[F]{id: id, fn: fn, once: once})
}

func (x *listeners[F]) prepend(id ListenerID, fn F) {
	x.entries = slices.Insert(x.entries, 0, listenerEntry[F]{id: id, fn: fn})
}

func (x *listeners[F]) remove(id ListenerID) bool {
	for i, e := range x.entries {
		if e.id == id {
			x.entries = slices.Delete(x.entries, i, i+1)
			return true
		}
	}
	return false
}

func (x *listeners[F]) len() int { return len(x.entries) }

// snapshot returns the listeners to dispatch to, removing once listeners.
func (x *listeners[F]) snapshot() []listenerEntry[F] {
	if len(x.entries) == 0 {
		return nil
	}
	snapshot := slices.Clone(x.entries)
	x.entries = slices.DeleteFunc(x.entries, func(e listenerEntry[F]) bool { return e.once })
	return snapshot
}

func emit0(x *listeners[func()]) {
	for _, e := range x.snapshot() {
		e.fn()
	}
}

func emit1[A any](x *listeners[func(A)], a A) {
	for _, e := range x.snapshot() {
		e.fn(a)
	}
}

// emitter allocates listener IDs. It is embedded by the shared stream state
// so that IDs are unique across every event of a stream, including both
// halves of a duplex.
type emitter struct {
	nextID ListenerID
}

func (x *emitter) newID() ListenerID {
	x.nextID++
	return x.nextID
}
