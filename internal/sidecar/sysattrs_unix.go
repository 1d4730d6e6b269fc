//go:build !windows

package sidecar

import (
	"os"
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the sidecar in its own process group so
// terminal signals aimed at the shell do not reach it directly.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killGroup sends SIGKILL to the sidecar's whole process group so workers it
// forked die with it. Falls back to the leader alone if the group is gone.
func killGroup(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return p.Kill()
}

// exitSignal returns the terminating signal number, or nil when the process
// exited normally.
func exitSignal(ps *os.ProcessState) *int {
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return nil
	}
	return IntPtr(int(ws.Signal()))
}
