package sidecar

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when the sidecar executable cannot be located.
	ErrNotFound = errors.New("sidecar executable not found")
	// ErrSpawn is returned when the OS refuses to start the sidecar.
	ErrSpawn = errors.New("failed to spawn sidecar")
)

// Spawner starts the named sidecar with no arguments. The returned channel
// yields output and lifecycle events and is closed after the child exits.
type Spawner interface {
	Spawn(ctx context.Context, name string) (<-chan Event, Child, error)
}

// ExecSpawner spawns the sidecar with os/exec.
//
// The executable is looked up as Dir/<binary> when Dir is set; otherwise next
// to the running executable, then in its binaries/ subdirectory, then on PATH.
type ExecSpawner struct {
	Dir  string
	Env  []string // nil inherits the parent environment
	GOOS string   // defaults to runtime.GOOS
}

func (s *ExecSpawner) goos() string {
	if s.GOOS != "" {
		return s.GOOS
	}
	return runtime.GOOS
}

// Resolve returns the absolute path of the sidecar executable for name.
func (s *ExecSpawner) Resolve(name string) (string, error) {
	binary := BinaryName(name, s.goos())
	var candidates []string
	if s.Dir != "" {
		candidates = append(candidates, filepath.Join(s.Dir, binary))
	} else if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		candidates = append(candidates, filepath.Join(dir, binary), filepath.Join(dir, "binaries", binary))
	}
	for _, c := range candidates {
		if fi, err := os.Stat(c); err == nil && fi.Mode().IsRegular() {
			return c, nil
		}
	}
	if s.Dir == "" {
		if p, err := exec.LookPath(binary); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, binary)
}

func (s *ExecSpawner) Spawn(ctx context.Context, name string) (<-chan Event, Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	path, err := s.Resolve(name)
	if err != nil {
		return nil, nil, err
	}
	// not CommandContext: the sidecar outlives the request that started it
	// #nosec G204 -- path comes from the bundled sidecar lookup
	cmd := exec.Command(path)
	cmd.Dir = filepath.Dir(path)
	cmd.Env = s.Env
	configureSysProcAttr(cmd)

	events := &eventStream{out: make(chan Event, 64)}
	cmd.Stdout = streamWriter{kind: EventStdout, stream: events}
	cmd.Stderr = streamWriter{kind: EventStderr, stream: events}
	// a descendant holding the output pipes must not block Wait forever
	cmd.WaitDelay = pipeDrainDelay
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrSpawn, path, err)
	}

	go func() {
		err := cmd.Wait()
		var ee *exec.ExitError
		if err != nil && !errors.As(err, &ee) {
			events.emit(Failure(err))
		}
		events.emit(exitEvent(cmd.ProcessState))
		events.close()
	}()
	return events.out, &execChild{cmd: cmd}, nil
}

// pipeDrainDelay bounds how long Wait keeps copying output after the sidecar
// itself has exited.
const pipeDrainDelay = 2 * time.Second

// eventStream serializes sends from the exec copy goroutines and the waiter.
// Nothing is delivered after close.
type eventStream struct {
	mu     sync.Mutex
	closed bool
	out    chan Event
}

func (s *eventStream) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.out <- ev
	}
}

func (s *eventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

// streamWriter turns each write from the exec copy loop into one chunk event.
type streamWriter struct {
	kind   EventKind
	stream *eventStream
}

func (w streamWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.stream.emit(Event{Kind: w.kind, Data: append([]byte(nil), p...)})
	}
	return len(p), nil
}

func exitEvent(ps *os.ProcessState) Event {
	if ps == nil {
		return Terminated(nil, nil)
	}
	var code *int
	if ps.Exited() {
		code = IntPtr(ps.ExitCode())
	}
	return Terminated(code, exitSignal(ps))
}

type execChild struct {
	cmd *exec.Cmd
}

func (c *execChild) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return killGroup(c.cmd.Process)
}

func (c *execChild) PID() int {
	if c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}
