// Package geenii is the embedding API for the geenii-shell sidecar host.
package geenii

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/geenii/geenii-shell/internal/app"
	cfg "github.com/geenii/geenii-shell/internal/config"
	"github.com/geenii/geenii-shell/internal/metrics"
	"github.com/geenii/geenii-shell/internal/sidecar"
)

// Re-export core types for external consumers.

type Config = cfg.Config

type Status = sidecar.Status

type Usage = metrics.Usage

type RunEvent = app.RunEvent

const (
	EventSetup         = app.EventSetup
	EventExitRequested = app.EventExitRequested
	EventExit          = app.EventExit
)

// DefaultSidecarName is the executable the shell supervises unless configured otherwise.
const DefaultSidecarName = sidecar.DefaultName

// Shell is a thin facade over internal/app.App.
type Shell struct{ inner *app.App }

func New(c *Config) (*Shell, error) { return NewWithLogger(c, slog.Default()) }

func NewWithLogger(c *Config, log *slog.Logger) (*Shell, error) {
	a, err := app.New(c, log)
	if err != nil {
		return nil, err
	}
	return &Shell{inner: a}, nil
}

func (s *Shell) StartServer(ctx context.Context) error         { return s.inner.StartServer(ctx) }
func (s *Shell) Status() Status                                { return s.inner.Status() }
func (s *Shell) Handle(ctx context.Context, ev RunEvent) error { return s.inner.Handle(ctx, ev) }
func (s *Shell) Run(ctx context.Context) error                 { return s.inner.Run(ctx) }
func (s *Shell) Close() error                                  { return s.inner.Close() }
func (s *Shell) Shutdown(reason string)                        { s.inner.Supervisor().Shutdown(reason) }
func (s *Shell) APIAddr() string                               { return s.inner.APIAddr() }
func (s *Shell) Usage() (*Usage, error)                        { return s.inner.Usage() }

func LoadConfig(path string) (*Config, error) { return cfg.LoadConfig(path) }

func DefaultConfig() *Config { return cfg.Default() }

// BinaryName returns the platform executable name of the default sidecar.
func BinaryName(goos string) string { return sidecar.BinaryName(sidecar.DefaultName, goos) }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
