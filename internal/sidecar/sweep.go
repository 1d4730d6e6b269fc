package sidecar

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
)

// DefaultName is the base name of the bundled sidecar executable.
const DefaultName = "geenii-srv"

// BinaryName returns the platform executable name for base on goos.
func BinaryName(base, goos string) string {
	if goos == "windows" && !strings.HasSuffix(strings.ToLower(base), ".exe") {
		return base + ".exe"
	}
	return base
}

// SweepCommand returns the OS command that force-kills every process
// matching binary by name on goos.
func SweepCommand(goos, binary string) (string, []string) {
	if goos == "windows" {
		return "taskkill", []string{"/F", "/IM", binary}
	}
	return "pkill", []string{"-f", binary}
}

// Sweeper kills sidecar instances by executable name.
type Sweeper interface {
	Sweep(ctx context.Context, binary string) error
}

// CommandSweeper runs SweepCommand for the host platform and discards its output.
type CommandSweeper struct {
	GOOS string // defaults to runtime.GOOS
}

func (c CommandSweeper) Sweep(ctx context.Context, binary string) error {
	goos := c.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	name, args := SweepCommand(goos, binary)
	// #nosec G204 -- fixed command, binary comes from configuration
	cmd := exec.CommandContext(ctx, name, args...)
	_, err := cmd.Output()
	return err
}
