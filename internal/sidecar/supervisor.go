package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/geenii/geenii-shell/internal/history"
	"github.com/geenii/geenii-shell/internal/metrics"
)

// DefaultGracePeriod is how long Shutdown waits after killing the owned child.
const DefaultGracePeriod = 3 * time.Second

// sweepTimeout bounds the orphan sweep command.
const sweepTimeout = 10 * time.Second

// Recorder receives lifecycle events; *history.Recorder satisfies it.
type Recorder interface {
	Record(ctx context.Context, e history.Event)
}

// Status is a point-in-time view of the supervisor.
type Status struct {
	Name    string `json:"name"`
	Binary  string `json:"binary"`
	Started bool   `json:"started"`
	Running bool   `json:"running"`
	PID     int    `json:"pid"`
}

// Supervisor starts the sidecar at most once per State and tears it down on
// application exit.
type Supervisor struct {
	state       *State
	name        string
	goos        string
	spawner     Spawner
	sweeper     Sweeper
	log         *slog.Logger
	grace       time.Duration
	clearOnExit bool
	pidFile     string
	stdout      io.Writer
	stderr      io.Writer
	recorder    Recorder
}

type Option func(*Supervisor)

func WithName(name string) Option            { return func(s *Supervisor) { s.name = name } }
func WithGOOS(goos string) Option            { return func(s *Supervisor) { s.goos = goos } }
func WithSpawner(sp Spawner) Option          { return func(s *Supervisor) { s.spawner = sp } }
func WithSweeper(sw Sweeper) Option          { return func(s *Supervisor) { s.sweeper = sw } }
func WithLogger(l *slog.Logger) Option       { return func(s *Supervisor) { s.log = l } }
func WithGracePeriod(d time.Duration) Option { return func(s *Supervisor) { s.grace = d } }
func WithPIDFile(path string) Option         { return func(s *Supervisor) { s.pidFile = path } }
func WithRecorder(r Recorder) Option         { return func(s *Supervisor) { s.recorder = r } }

// WithClearOnExit makes the relay empty the slot when the child it watches
// terminates, instead of leaving the dead handle for Shutdown.
func WithClearOnExit(v bool) Option { return func(s *Supervisor) { s.clearOnExit = v } }

// WithOutput tees raw sidecar output chunks to the given writers (either may be nil).
func WithOutput(stdout, stderr io.Writer) Option {
	return func(s *Supervisor) { s.stdout, s.stderr = stdout, stderr }
}

func New(state *State, opts ...Option) *Supervisor {
	s := &Supervisor{
		state: state,
		name:  DefaultName,
		goos:  runtime.GOOS,
		grace: DefaultGracePeriod,
	}
	for _, o := range opts {
		o(s)
	}
	if s.state == nil {
		s.state = NewState()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.spawner == nil {
		s.spawner = &ExecSpawner{GOOS: s.goos}
	}
	if s.sweeper == nil {
		s.sweeper = CommandSweeper{GOOS: s.goos}
	}
	if s.grace < 0 {
		s.grace = 0
	}
	s.log = s.log.With("sidecar", s.name)
	return s
}

// State returns the shared state this supervisor operates on.
func (s *Supervisor) State() *State { return s.state }

// Binary is the platform executable name used by the orphan sweep.
func (s *Supervisor) Binary() string { return BinaryName(s.name, s.goos) }

func (s *Supervisor) Status() Status {
	st := Status{Name: s.name, Binary: s.Binary(), Started: s.state.Started()}
	if c := s.state.Peek(); c != nil {
		st.Running = true
		st.PID = c.PID()
	}
	return st
}

// ErrNotRunning is returned by Usage when the slot is empty.
var ErrNotRunning = errors.New("sidecar not running")

// Usage samples CPU and memory of the owned sidecar and publishes the sample
// to the usage gauges.
func (s *Supervisor) Usage() (*metrics.Usage, error) {
	c := s.state.Peek()
	if c == nil || c.PID() == 0 {
		return nil, ErrNotRunning
	}
	u, err := metrics.SampleUsage(c.PID())
	if err != nil {
		return nil, fmt.Errorf("sample sidecar %s: %w", s.name, err)
	}
	metrics.ObserveUsage(s.name, u)
	return u, nil
}

// RequestStart spawns the sidecar unless a start was already attempted.
// It is safe for concurrent use; exactly one caller performs the spawn and
// every other caller returns nil immediately. A failed spawn is returned to
// that caller only and is not retried: the started flag stays set.
func (s *Supervisor) RequestStart(ctx context.Context) error {
	if !s.state.markStarted() {
		return nil
	}

	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	if s.state.child != nil {
		return nil
	}

	events, child, err := s.spawner.Spawn(ctx, s.name)
	if err != nil {
		metrics.IncSpawnFailure(s.name)
		s.record(ctx, history.Event{Type: history.EventSpawnFailed, ExitCode: -1, Detail: err.Error()})
		return fmt.Errorf("start sidecar %s: %w", s.name, err)
	}
	token := s.state.storeLocked(child)
	pid := child.PID()
	s.writePIDFile(pid)
	metrics.IncSpawn(s.name)
	s.record(ctx, history.Event{Type: history.EventSpawn, PID: pid, ExitCode: -1})

	// The relay is intentionally unsupervised: it ends when the stream closes.
	go s.relay(token, pid, events)

	s.log.Info("sidecar started", "pid", pid)
	return nil
}

// relay drains events in arrival order until a termination event or the end
// of the stream. token identifies the spawn for clear-on-exit.
func (s *Supervisor) relay(token uint64, pid int, events <-chan Event) {
	for ev := range events {
		metrics.IncRelayEvent(s.name, ev.Kind.String())
		switch ev.Kind {
		case EventStdout:
			s.log.Info("sidecar stdout", "pid", pid, "output", trimOutput(ev.Data))
			tee(s.stdout, ev.Data)
		case EventStderr:
			s.log.Error("sidecar stderr", "pid", pid, "output", trimOutput(ev.Data))
			tee(s.stderr, ev.Data)
		case EventError:
			s.log.Error("sidecar error", "pid", pid, "error", ev.Err)
		case EventTerminated:
			s.log.Warn("sidecar terminated", "pid", pid, "code", optString(ev.Code), "signal", optString(ev.Signal))
			e := history.Event{Type: history.EventTerminated, PID: pid, ExitCode: -1}
			if ev.Code != nil {
				e.ExitCode = *ev.Code
			}
			if ev.Signal != nil {
				e.Signal = *ev.Signal
			}
			s.record(context.Background(), e)
			if s.clearOnExit && s.state.clearIf(token) {
				metrics.SetRunning(s.name, false)
				s.log.Debug("cleared exited sidecar from slot", "pid", pid)
			}
			return
		default:
			s.log.Debug("sidecar event ignored", "event", ev.String())
		}
	}
}

// Shutdown terminates the owned sidecar, if any, and then sweeps for
// instances by executable name. It may be called any number of times; only
// the call that takes the handle kills it, and every call sweeps.
// The kill result is not checked and the sweep result is never returned.
// Shutdown also closes the start gate, so a start request that arrives
// afterwards is a no-op instead of spawning past the sweep.
func (s *Supervisor) Shutdown(reason string) {
	s.state.markStarted()
	if child := s.state.Take(); child != nil {
		pid := child.PID()
		s.log.Info("stopping sidecar", "pid", pid, "reason", reason)
		_ = child.Kill()
		metrics.IncKill(s.name)
		metrics.SetRunning(s.name, false)
		s.record(context.Background(), history.Event{Type: history.EventKill, PID: pid, ExitCode: -1, Detail: reason})
		s.removePIDFile()
		if s.grace > 0 {
			time.Sleep(s.grace)
		}
		s.log.Info("sidecar stopped", "pid", pid)
	}
	s.sweep()
}

func (s *Supervisor) sweep() {
	binary := s.Binary()
	name, args := SweepCommand(s.goos, binary)
	command := name + " " + strings.Join(args, " ")
	s.log.Info("killing any remaining sidecar processes", "binary", binary)

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	result := "ok"
	if err := s.sweeper.Sweep(ctx, binary); err != nil {
		// no matching process is the common case
		result = "no_match"
		s.log.Debug("orphan sweep finished without kill", "command", command, "error", err)
	}
	metrics.IncSweep(s.name, result)
	s.record(ctx, history.Event{Type: history.EventSweep, ExitCode: -1, Detail: command + ": " + result})
}

func (s *Supervisor) record(ctx context.Context, e history.Event) {
	if s.recorder == nil {
		return
	}
	e.Name = s.name
	s.recorder.Record(ctx, e)
}

func (s *Supervisor) writePIDFile(pid int) {
	if s.pidFile == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(s.pidFile), 0o750)
	if err := os.WriteFile(s.pidFile, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		s.log.Warn("write pid file", "path", s.pidFile, "error", err)
	}
}

// removePIDFile best-effort
func (s *Supervisor) removePIDFile() {
	if s.pidFile == "" {
		return
	}
	_ = os.Remove(s.pidFile)
}

func trimOutput(b []byte) string {
	return strings.TrimRight(string(b), "\r\n")
}

func tee(w io.Writer, b []byte) {
	if w != nil {
		_, _ = w.Write(b)
	}
}
