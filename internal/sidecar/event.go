package sidecar

import (
	"fmt"
	"strconv"
)

// EventKind identifies a variant of the sidecar event stream.
type EventKind int

const (
	EventStdout EventKind = iota
	EventStderr
	EventError
	EventTerminated
)

func (k EventKind) String() string {
	switch k {
	case EventStdout:
		return "stdout"
	case EventStderr:
		return "stderr"
	case EventError:
		return "error"
	case EventTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Event is one item of the stream produced by a Spawner. Data carries output
// chunks, Err carries spawn/runtime errors, and Code/Signal describe
// termination (nil when the platform did not report them).
type Event struct {
	Kind   EventKind
	Data   []byte
	Err    string
	Code   *int
	Signal *int
}

func Stdout(b []byte) Event   { return Event{Kind: EventStdout, Data: b} }
func Stderr(b []byte) Event   { return Event{Kind: EventStderr, Data: b} }
func Failure(err error) Event { return Event{Kind: EventError, Err: err.Error()} }

// Terminated builds a termination event. Pass nil for unknown values.
func Terminated(code, signal *int) Event {
	return Event{Kind: EventTerminated, Code: code, Signal: signal}
}

// IntPtr is a helper for building termination events.
func IntPtr(v int) *int { return &v }

func optString(v *int) string {
	if v == nil {
		return "none"
	}
	return strconv.Itoa(*v)
}

func (e Event) String() string {
	switch e.Kind {
	case EventStdout, EventStderr:
		return fmt.Sprintf("%s(%q)", e.Kind, e.Data)
	case EventError:
		return fmt.Sprintf("error(%s)", e.Err)
	case EventTerminated:
		return fmt.Sprintf("terminated(code=%s signal=%s)", optString(e.Code), optString(e.Signal))
	default:
		return e.Kind.String()
	}
}
