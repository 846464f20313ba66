package stream

// triState models a boolean that may also be unset.
type triState int8

const (
	unset triState = iota
	off
	on
)

func (x triState) isOn() bool { return x == on }

// FlowMode is the consumption mode of a [Readable].
type FlowMode int8

const (
	// FlowUnset means no consumer has chosen a mode yet.
	FlowUnset FlowMode = iota
	// FlowPaused means the consumer must call Read explicitly.
	FlowPaused
	// FlowFlowing means chunks are delivered via 'data' events.
	FlowFlowing
)

// String returns a human-readable representation of the mode.
func (m FlowMode) String() string {
	switch m {
	case FlowUnset:
		return "unset"
	case FlowPaused:
		return "paused"
	case FlowFlowing:
		return "flowing"
	default:
		return "unknown"
	}
}

func flowModeOf(x triState) FlowMode {
	switch x {
	case off:
		return FlowPaused
	case on:
		return FlowFlowing
	default:
		return FlowUnset
	}
}

// FlowState is a point in time snapshot of the state of one side of a
// stream. Fields that do not apply to the side are left zero.
type FlowState struct {
	// Mode is the readable consumption mode.
	Mode FlowMode

	// HighWaterMark is the backpressure threshold.
	HighWaterMark int

	// Length is the buffered size: queued chunks, plus the in-flight write
	// for a writable.
	Length int

	// Buffered is the number of queued chunks.
	Buffered int

	// Corked is the writable cork nesting count.
	Corked int

	ObjectMode bool

	// Ended is set once end of stream was signalled (readable) or End was
	// called (writable). Monotonic.
	Ended bool

	// EndEmitted is set once 'end' was emitted. Readable only.
	EndEmitted bool

	// Finished is set once 'finish' was emitted. Writable only.
	Finished bool

	// Destroyed is set by Destroy. Monotonic.
	Destroyed bool

	// Closed is set once the destroy hook has completed.
	Closed bool

	NeedDrain       bool
	ResumeScheduled bool
	Reading         bool
	Writing         bool
	Sync            bool
}
