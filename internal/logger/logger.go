package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

// FileConfig describes a rotated log file. Rotation parameters follow
// lumberjack semantics.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config describes the application log and where raw sidecar output goes.
type Config struct {
	Level      string     `mapstructure:"level"`  // debug, info, warn, error
	Format     string     `mapstructure:"format"` // text or json
	Color      bool       `mapstructure:"color"`
	TimeStamps bool       `mapstructure:"timestamps"`
	File       FileConfig `mapstructure:"file"`
	// SidecarDir, when set, receives <name>.stdout.log and <name>.stderr.log
	// with the sidecar's raw output.
	SidecarDir string `mapstructure:"sidecar_dir"`
}

// ParseLevel maps a level name to slog.Level. Unknown names default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the application logger. Records go to console and, when
// File.Path is set, also to a rotated file. The returned closer releases the
// file and is never nil.
func New(cfg Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	if console == nil {
		console = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if !cfg.TimeStamps {
		opts.ReplaceAttr = dropTime
	}

	var handlers []slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		if cfg.Color {
			handlers = append(handlers, NewColorTextHandler(console, opts, cfg.TimeStamps))
		} else {
			handlers = append(handlers, slog.NewTextHandler(console, opts))
		}
	case "json":
		handlers = append(handlers, slog.NewJSONHandler(console, opts))
	default:
		return nil, nopCloser{}, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	if w := cfg.File.Writer(); w != nil {
		// files always get timestamps and no color codes
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level}))
		closer = w
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(fanout(handlers)), closer, nil
}

// Writer returns a lumberjack writer for the file, or nil when Path is empty.
func (c FileConfig) Writer() io.WriteCloser {
	if c.Path == "" {
		return nil
	}
	_ = os.MkdirAll(filepath.Dir(c.Path), 0o750)
	return c.lumberjack(c.Path)
}

func (c FileConfig) lumberjack(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.Compress,
	}
}

// SidecarWriters returns io.WriteClosers for the sidecar's stdout and stderr,
// Dir/<name>.stdout.log and Dir/<name>.stderr.log. Both are nil when
// SidecarDir is empty. Rotation follows the File block.
func (c Config) SidecarWriters(name string) (io.WriteCloser, io.WriteCloser, error) {
	if c.SidecarDir == "" {
		return nil, nil, nil
	}
	if err := os.MkdirAll(c.SidecarDir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("create sidecar log dir: %w", err)
	}
	outW := c.File.lumberjack(filepath.Join(c.SidecarDir, name+".stdout.log"))
	errW := c.File.lumberjack(filepath.Join(c.SidecarDir, name+".stderr.log"))
	return outW, errW, nil
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
