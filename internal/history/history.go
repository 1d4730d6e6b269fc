package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of sidecar lifecycle event.
type EventType string

const (
	EventSpawn       EventType = "spawn"
	EventSpawnFailed EventType = "spawn_failed"
	EventTerminated  EventType = "terminated"
	EventKill        EventType = "kill"
	EventSweep       EventType = "sweep"
)

// Event represents a lifecycle event exported to external systems.
// ExitCode is -1 when unknown; Signal is 0 when the process was not signalled.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	ExitCode   int       `json:"exit_code"`
	Signal     int       `json:"signal"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Recorder forwards events to a sink with a bounded send time, logging failures.
// A nil *Recorder drops events.
type Recorder struct {
	sink    Sink
	log     *slog.Logger
	timeout time.Duration
}

func NewRecorder(sink Sink, log *slog.Logger, timeout time.Duration) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Recorder{sink: sink, log: log, timeout: timeout}
}

// Record stamps OccurredAt when missing and sends e to the sink.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || r.sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.sink.Send(ctx, e); err != nil {
		r.log.Warn("history send failed", "type", e.Type, "error", err)
	}
}

func (r *Recorder) Close() error {
	if r == nil || r.sink == nil {
		return nil
	}
	return r.sink.Close()
}
