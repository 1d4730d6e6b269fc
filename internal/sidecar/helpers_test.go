package sidecar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/geenii/geenii-shell/internal/history"
)

// fakeChild records kill calls.
type fakeChild struct {
	pid   int
	kills atomic.Int32
}

func (c *fakeChild) Kill() error { c.kills.Add(1); return nil }
func (c *fakeChild) PID() int    { return c.pid }

// fakeSpawner hands out fakeChild handles and keeps the event channels so
// tests can drive the relay.
type fakeSpawner struct {
	mu       sync.Mutex
	calls    atomic.Int32
	delay    time.Duration
	err      error
	children []*fakeChild
	streams  []chan Event
}

func (f *fakeSpawner) Spawn(_ context.Context, name string) (<-chan Event, Child, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	ch := make(chan Event, 16)
	c := &fakeChild{pid: 1000 + int(n)}
	f.mu.Lock()
	f.children = append(f.children, c)
	f.streams = append(f.streams, ch)
	f.mu.Unlock()
	return ch, c, nil
}

func (f *fakeSpawner) stream(i int) chan Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

func (f *fakeSpawner) child(i int) *fakeChild {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.children[i]
}

// fakeSweeper records swept binary names.
type fakeSweeper struct {
	mu     sync.Mutex
	names  []string
	result error
}

func (f *fakeSweeper) Sweep(_ context.Context, binary string) error {
	f.mu.Lock()
	f.names = append(f.names, binary)
	f.mu.Unlock()
	return f.result
}

func (f *fakeSweeper) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.names...)
}

// fakeRecorder collects lifecycle event types.
type fakeRecorder struct {
	mu     sync.Mutex
	events []history.Event
}

func (r *fakeRecorder) Record(_ context.Context, e history.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *fakeRecorder) types() []history.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]history.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// logLine is a flattened slog record.
type logLine struct {
	Level slog.Level
	Msg   string
	Attrs map[string]string
}

// captureHandler keeps every record it handles, in order.
type captureHandler struct {
	mu    *sync.Mutex
	lines *[]logLine
	attrs []slog.Attr
}

func newCapture() (*slog.Logger, func() []logLine) {
	h := &captureHandler{mu: &sync.Mutex{}, lines: &[]logLine{}}
	get := func() []logLine {
		h.mu.Lock()
		defer h.mu.Unlock()
		return append([]logLine(nil), (*h.lines)...)
	}
	return slog.New(h), get
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	l := logLine{Level: r.Level, Msg: r.Message, Attrs: map[string]string{}}
	for _, a := range h.attrs {
		l.Attrs[a.Key] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		l.Attrs[a.Key] = a.Value.String()
		return true
	})
	h.mu.Lock()
	*h.lines = append(*h.lines, l)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{mu: h.mu, lines: h.lines, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func filterMsg(lines []logLine, prefix string) []logLine {
	var out []logLine
	for _, l := range lines {
		if len(l.Msg) >= len(prefix) && l.Msg[:len(prefix)] == prefix {
			out = append(out, l)
		}
	}
	return out
}

func waitUntil(timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fn()
}

var errBoom = errors.New("boom")

func describe(lines []logLine) string {
	s := ""
	for _, l := range lines {
		s += fmt.Sprintf("%s %s %v\n", l.Level, l.Msg, l.Attrs)
	}
	return s
}
