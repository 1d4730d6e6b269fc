// Package app hosts the sidecar supervisor inside an application lifecycle:
// setup starts the sidecar, exit-requested and exit both tear it down.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/geenii/geenii-shell/internal/config"
	"github.com/geenii/geenii-shell/internal/history"
	"github.com/geenii/geenii-shell/internal/history/factory"
	"github.com/geenii/geenii-shell/internal/metrics"
	"github.com/geenii/geenii-shell/internal/server"
	"github.com/geenii/geenii-shell/internal/sidecar"
)

// RunEvent is a lifecycle notification delivered by the host.
type RunEvent int

const (
	EventSetup RunEvent = iota
	EventExitRequested
	EventExit
)

func (e RunEvent) String() string {
	switch e {
	case EventSetup:
		return "setup"
	case EventExitRequested:
		return "exit_requested"
	case EventExit:
		return "exit"
	default:
		return fmt.Sprintf("RunEvent(%d)", int(e))
	}
}

const serverCloseTimeout = 5 * time.Second

// App wires configuration, logging, history and the control API around a
// single sidecar Supervisor.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	sup      *sidecar.Supervisor
	recorder *history.Recorder
	closers  []io.Closer

	mu          sync.Mutex
	api         *http.Server
	apiAddr     string
	metricsSrv  *http.Server
	metricsAddr string
	setupOnce   sync.Once
	setupErr    error
}

// New builds an App from cfg. extra options are applied to the supervisor
// after the ones derived from cfg.
func New(cfg *config.Config, log *slog.Logger, extra ...sidecar.Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}

	envList, err := cfg.Sidecar.MergedEnv()
	if err != nil {
		return nil, err
	}
	outW, errW, err := cfg.Log.SidecarWriters(cfg.Sidecar.Name)
	if err != nil {
		return nil, err
	}
	if outW != nil {
		a.closers = append(a.closers, outW, errW)
	}

	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("open history sink: %w", err)
		}
		a.recorder = history.NewRecorder(sink, log.With("component", "history"), cfg.History.Timeout)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("failed to register metrics", "error", err)
	}

	opts := []sidecar.Option{
		sidecar.WithName(cfg.Sidecar.Name),
		sidecar.WithLogger(log),
		sidecar.WithGracePeriod(cfg.Sidecar.GracePeriod),
		sidecar.WithClearOnExit(cfg.Sidecar.ClearOnExit),
		sidecar.WithPIDFile(cfg.Sidecar.PIDFile),
		sidecar.WithSpawner(&sidecar.ExecSpawner{Dir: cfg.Sidecar.Dir, Env: envList}),
	}
	if outW != nil {
		opts = append(opts, sidecar.WithOutput(outW, errW))
	}
	if a.recorder != nil {
		opts = append(opts, sidecar.WithRecorder(a.recorder))
	}
	opts = append(opts, extra...)
	a.sup = sidecar.New(sidecar.NewState(), opts...)
	return a, nil
}

// Supervisor exposes the underlying supervisor.
func (a *App) Supervisor() *sidecar.Supervisor { return a.sup }

// StartServer is the UI command surface: it requests the sidecar start and
// reports only a spawn failure.
func (a *App) StartServer(ctx context.Context) error {
	return a.sup.RequestStart(ctx)
}

func (a *App) Status() sidecar.Status { return a.sup.Status() }

func (a *App) Usage() (*metrics.Usage, error) { return a.sup.Usage() }

// APIAddr returns the bound control API address, or "" when disabled.
func (a *App) APIAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apiAddr
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (a *App) MetricsAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metricsAddr
}

// Setup binds the configured listeners and fires the sidecar start request
// without waiting for it. A start failure is logged, never returned; a
// listen failure is returned and skips the start. If a shutdown wins the
// race against that start, the start is a no-op.
// Only the first call has any effect.
func (a *App) Setup(ctx context.Context) error {
	a.setupOnce.Do(func() {
		a.setupErr = a.listen()
		if a.setupErr != nil || !a.cfg.Sidecar.AutoStart {
			return
		}
		go func() {
			if err := a.StartServer(ctx); err != nil {
				a.log.Error("Failed to start server", "error", err)
			}
		}()
	})
	return a.setupErr
}

// Handle dispatches a lifecycle event. Exit-requested and exit each run a
// full shutdown; the second one finds an empty slot and only sweeps.
func (a *App) Handle(ctx context.Context, ev RunEvent) error {
	a.log.Debug("lifecycle event", "event", ev.String())
	switch ev {
	case EventSetup:
		return a.Setup(ctx)
	case EventExitRequested, EventExit:
		a.sup.Shutdown(ev.String())
		return nil
	default:
		return fmt.Errorf("unknown run event %d", int(ev))
	}
}

// Run performs setup, blocks until ctx is done or SIGINT/SIGTERM arrives,
// then dispatches exit-requested followed by exit and releases resources.
func (a *App) Run(ctx context.Context) error {
	if err := a.Handle(ctx, EventSetup); err != nil {
		a.shutdown(ctx)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		a.log.Info("context done, shutting down")
	case sig := <-sigCh:
		a.log.Info("signal received, shutting down", "signal", sig.String())
	}
	a.shutdown(ctx)
	return nil
}

func (a *App) shutdown(ctx context.Context) {
	_ = a.Handle(ctx, EventExitRequested)
	a.closeServers()
	_ = a.Handle(ctx, EventExit)
	if err := a.Close(); err != nil {
		a.log.Warn("close resources", "error", err)
	}
}

// Close stops listeners and releases the history sink and sidecar log files.
// It does not stop the sidecar.
func (a *App) Close() error {
	a.closeServers()
	var errs []error
	if err := a.recorder.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) listen() error {
	if a.cfg.API.Enabled {
		router := server.NewRouter(a, a.cfg.API.BasePath).WithMetrics(metrics.Handler())
		srv := server.NewServer(a.cfg.API.Listen, router)
		addr, err := a.serve(srv, "control api")
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.api, a.apiAddr = srv, addr
		a.mu.Unlock()
	}
	if a.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{
			Addr:              a.cfg.Metrics.Listen,
			Handler:           mux,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		addr, err := a.serve(srv, "metrics")
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.metricsSrv, a.metricsAddr = srv, addr
		a.mu.Unlock()
	}
	return nil
}

// serve binds srv.Addr synchronously so listen errors surface from Setup,
// then serves in the background.
func (a *App) serve(srv *http.Server, what string) (string, error) {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return "", fmt.Errorf("listen %s on %s: %w", what, srv.Addr, err)
	}
	addr := ln.Addr().String()
	a.log.Info("listening", "component", what, "addr", addr)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server error", "component", what, "error", err)
		}
	}()
	return addr, nil
}

func (a *App) closeServers() {
	a.mu.Lock()
	api, ms := a.api, a.metricsSrv
	a.api, a.metricsSrv = nil, nil
	a.apiAddr, a.metricsAddr = "", ""
	a.mu.Unlock()
	for _, srv := range []*http.Server{api, ms} {
		if srv == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), serverCloseTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
		cancel()
	}
}

func (a *App) closeAll() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
