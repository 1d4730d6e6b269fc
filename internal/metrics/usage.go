package metrics

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a point-in-time resource sample of one process.
type Usage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

var (
	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "geenii",
			Subsystem: "sidecar",
			Name:      "cpu_percent",
			Help:      "CPU usage of the sidecar at the last sample.",
		}, []string{"name"},
	)
	memoryRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "geenii",
			Subsystem: "sidecar",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the sidecar at the last sample.",
		}, []string{"name"},
	)
)

// SampleUsage reads CPU and memory figures for pid.
func SampleUsage(pid int) (*Usage, error) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}

	cpu, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("Failed to get CPU percent", "pid", pid, "error", err)
		cpu = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}
	threads, err := proc.NumThreads()
	if err != nil {
		slog.Debug("Failed to get thread count", "pid", pid, "error", err)
		threads = 0
	}

	u := &Usage{
		PID:        int32(pid),
		CPUPercent: cpu,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		NumThreads: threads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			u.NumFDs = fds
		}
	}
	return u, nil
}

// ObserveUsage publishes a sample to the usage gauges.
func ObserveUsage(name string, u *Usage) {
	if !regOK.Load() || u == nil {
		return
	}
	cpuPercent.WithLabelValues(name).Set(u.CPUPercent)
	memoryRSS.WithLabelValues(name).Set(float64(u.MemoryRSS))
}
