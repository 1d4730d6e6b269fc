//go:build windows

package sidecar

import (
	"os"
	"os/exec"
	"syscall"
)

// Windows creation flags
const (
	CREATE_NEW_PROCESS_GROUP = 0x00000200
	CREATE_NO_WINDOW         = 0x08000000
)

// configureSysProcAttr starts the sidecar in a new process group without a
// console window of its own.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: CREATE_NEW_PROCESS_GROUP | CREATE_NO_WINDOW,
		HideWindow:    true,
	}
}

// killGroup terminates the leader; descendants are left to the sweep.
func killGroup(p *os.Process) error { return p.Kill() }

// Windows has no signals; termination is reported by exit code only.
func exitSignal(*os.ProcessState) *int { return nil }
