//go:build !windows

package sidecar

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// forkingSidecar backgrounds a worker, records its pid and then replaces the
// shell with a long sleep, the way a bootloader hands off to its server.
const forkingSidecar = "sleep 30 &\necho $! > gc.pid\necho ready\nexec sleep 30\n"

func readPID(t *testing.T, path string) int {
	t.Helper()
	var pid int
	ok := waitUntil(3*time.Second, func() bool {
		b, err := os.ReadFile(path)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(b)))
		return err == nil && pid > 0
	})
	if !ok {
		t.Fatalf("no pid recorded in %s", path)
	}
	return pid
}

// processGone reports whether pid no longer runs. A killed descendant that
// init has not reaped yet still shows up as a zombie on Linux.
func processGone(pid int) bool {
	if err := syscall.Kill(pid, 0); err != nil {
		return true
	}
	if runtime.GOOS != "linux" {
		return false
	}
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	// state follows the parenthesized command name
	s := string(b)
	i := strings.LastIndexByte(s, ')')
	return i >= 0 && i+2 < len(s) && s[i+2] == 'Z'
}

func killOnCleanup(t *testing.T, pid int) {
	t.Cleanup(func() { _ = syscall.Kill(pid, syscall.SIGKILL) })
}

func TestExecSpawner_KillTakesProcessGroup(t *testing.T) {
	dir := t.TempDir()
	writeSidecar(t, dir, forkingSidecar)

	events, child, err := (&ExecSpawner{Dir: dir, Env: []string{"PATH=" + os.Getenv("PATH")}}).Spawn(context.Background(), DefaultName)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	worker := readPID(t, filepath.Join(dir, "gc.pid"))
	killOnCleanup(t, worker)

	if err := child.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	got := drain(t, events, 5*time.Second)
	last := got[len(got)-1]
	if last.Kind != EventTerminated || last.Signal == nil || *last.Signal != 9 {
		t.Fatalf("expected SIGKILL termination, got %v", last)
	}
	if !waitUntil(3*time.Second, func() bool { return processGone(worker) }) {
		t.Fatalf("forked worker %d survived Kill", worker)
	}
}

func TestExecSpawner_DetachedDescendantDoesNotBlockExit(t *testing.T) {
	dir := t.TempDir()
	writeSidecar(t, dir, "sleep 30 &\necho $! > gc.pid\nexit 0\n")

	events, _, err := (&ExecSpawner{Dir: dir, Env: []string{"PATH=" + os.Getenv("PATH")}}).Spawn(context.Background(), DefaultName)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	killOnCleanup(t, readPID(t, filepath.Join(dir, "gc.pid")))

	got := drain(t, events, pipeDrainDelay+5*time.Second)
	last := got[len(got)-1]
	if last.Kind != EventTerminated || last.Code == nil || *last.Code != 0 {
		t.Fatalf("expected clean exit, got %v", last)
	}
	var waitErr bool
	for _, ev := range got {
		if ev.Kind == EventError && ev.Err == exec.ErrWaitDelay.Error() {
			waitErr = true
		}
	}
	if !waitErr {
		t.Fatalf("expected a wait delay error, got %v", got)
	}
}

func TestSupervisor_ShutdownKillsForkedWorkers(t *testing.T) {
	dir := t.TempDir()
	writeSidecar(t, dir, forkingSidecar)

	log, lines := newCapture()
	sw := &fakeSweeper{}
	s := New(NewState(),
		WithSpawner(&ExecSpawner{Dir: dir, Env: []string{"PATH=" + os.Getenv("PATH")}}),
		WithSweeper(sw),
		WithLogger(log),
		WithGracePeriod(100*time.Millisecond),
	)
	if err := s.RequestStart(context.Background()); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if !waitUntil(3*time.Second, func() bool { return len(filterMsg(lines(), "sidecar stdout")) == 1 }) {
		t.Fatalf("stdout not relayed:\n%s", describe(lines()))
	}
	worker := readPID(t, filepath.Join(dir, "gc.pid"))
	killOnCleanup(t, worker)

	s.Shutdown("exit-requested")

	if !waitUntil(3*time.Second, func() bool { return processGone(worker) }) {
		t.Fatalf("forked worker %d alive after shutdown", worker)
	}
	if !waitUntil(3*time.Second, func() bool { return len(filterMsg(lines(), "sidecar terminated")) == 1 }) {
		t.Fatalf("termination not relayed:\n%s", describe(lines()))
	}
	if term := filterMsg(lines(), "sidecar terminated")[0]; term.Attrs["signal"] != "9" {
		t.Fatalf("expected signal 9, got %v", term.Attrs)
	}
}
