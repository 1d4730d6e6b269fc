package client

import "time"

// Status mirrors the control API's GET /status response.
type Status struct {
	Name    string `json:"name"`
	Binary  string `json:"binary"`
	Started bool   `json:"started"`
	Running bool   `json:"running"`
	PID     int    `json:"pid"`
}

// Usage mirrors the control API's GET /usage response.
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

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	OK bool `json:"ok"`
}
