package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/spf13/viper"

	"github.com/geenii/geenii-shell/internal/app"
	"github.com/geenii/geenii-shell/internal/config"
	"github.com/geenii/geenii-shell/internal/logger"
	"github.com/geenii/geenii-shell/internal/sidecar"
	"github.com/geenii/geenii-shell/pkg/client"
)

// command holds the logic behind each cobra command.
type command struct {
	v      *viper.Viper
	global *GlobalFlags
}

func (c command) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.v, c.global.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

func (c command) newLogger(cfg *config.Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	log, closer, err := logger.New(cfg.Log, console)
	if err != nil {
		return nil, nil, fmt.Errorf("setup logger: %w", err)
	}
	slog.SetDefault(log)
	return log, closer, nil
}

// Run hosts the sidecar until ctx is done or the process is signalled.
func (c command) Run(ctx context.Context, console io.Writer) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	log, closer, err := c.newLogger(cfg, console)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	a, err := app.New(cfg, log)
	if err != nil {
		return err
	}
	log.Info("starting geenii-shell", "version", version, "sidecar", cfg.Sidecar.Name)
	return a.Run(ctx)
}

// Start asks a running shell to launch its sidecar.
func (c command) Start(ctx context.Context, f APIFlags, out io.Writer) error {
	cl, err := c.client(f)
	if err != nil {
		return err
	}
	if err := cl.StartServer(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "ok")
	return nil
}

// Status prints the sidecar status reported by a running shell.
func (c command) Status(ctx context.Context, f APIFlags, out io.Writer) error {
	cl, err := c.client(f)
	if err != nil {
		return err
	}
	st, err := cl.Status(ctx)
	if err != nil {
		return err
	}
	state := "stopped"
	if st.Running {
		state = fmt.Sprintf("running pid=%d", st.PID)
		if u, err := cl.Usage(ctx); err == nil {
			state += fmt.Sprintf(" cpu=%.1f%% rss=%.1fMB", u.CPUPercent, u.MemoryMB)
		}
	} else if !st.Started {
		state = "not started"
	}
	_, _ = fmt.Fprintf(out, "%s (%s): %s\n", st.Name, st.Binary, state)
	return nil
}

// Sweep runs the orphan sweep once. A sweep that matches nothing is not an
// error.
func (c command) Sweep(out io.Writer) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	log, closer, err := c.newLogger(cfg, out)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	sup := sidecar.New(nil, sidecar.WithName(cfg.Sidecar.Name), sidecar.WithLogger(log))
	sup.Shutdown("sweep command")
	_, _ = fmt.Fprintln(out, "swept", sup.Binary())
	return nil
}

func (c command) client(f APIFlags) (*client.Client, error) {
	base := f.APIUrl
	if base == "" {
		cfg, err := c.loadConfig()
		if err != nil {
			return nil, err
		}
		base = apiURL(cfg.API)
	}
	return client.New(client.Config{BaseURL: base, Timeout: f.APITimeout}), nil
}

// apiURL turns the listen address into a dialable URL.
func apiURL(api config.APIConfig) string {
	host, port, err := net.SplitHostPort(api.Listen)
	if err != nil {
		return "http://" + api.Listen + api.BasePath
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + strings.TrimRight(api.BasePath, "/")
}
