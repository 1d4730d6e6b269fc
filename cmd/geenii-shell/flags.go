package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	SidecarDir  string
	Listen      string
	GracePeriod time.Duration
	ClearOnExit bool
	LogLevel    string
	NoAutoStart bool
}

// APIFlags select the control API a client command talks to.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
}
