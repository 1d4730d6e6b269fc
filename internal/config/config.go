package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/geenii/geenii-shell/internal/env"
	"github.com/geenii/geenii-shell/internal/logger"
)

// EnvPrefix is the prefix of environment overrides, e.g. GEENII_SIDECAR_DIR.
const EnvPrefix = "GEENII"

// Config represents the top-level TOML structure.
//
//	[sidecar]
//	name = "geenii-srv"
//	grace_period = "3s"
//
//	[log]
//	level = "info"
//
//	[api]
//	listen = "127.0.0.1:8786"
type Config struct {
	Sidecar SidecarConfig `mapstructure:"sidecar"`
	Log     logger.Config `mapstructure:"log"`
	API     APIConfig     `mapstructure:"api"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	History HistoryConfig `mapstructure:"history"`
}

type SidecarConfig struct {
	Name        string        `mapstructure:"name"`
	Dir         string        `mapstructure:"dir"` // empty: next to the executable, then PATH
	AutoStart   bool          `mapstructure:"auto_start"`
	GracePeriod time.Duration `mapstructure:"grace_period"`
	ClearOnExit bool          `mapstructure:"clear_on_exit"`
	PIDFile     string        `mapstructure:"pid_file"`
	Env         []string      `mapstructure:"env"`
	EnvFiles    []string      `mapstructure:"env_files"`
	UseOSEnv    bool          `mapstructure:"use_os_env"`
}

type APIConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the metrics listener
}

type HistoryConfig struct {
	DSN     string        `mapstructure:"dsn"` // empty disables history
	Timeout time.Duration `mapstructure:"timeout"`
}

// SetDefaults registers every key with its default so environment
// overrides are visible to Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("sidecar.name", "geenii-srv")
	v.SetDefault("sidecar.dir", "")
	v.SetDefault("sidecar.auto_start", true)
	v.SetDefault("sidecar.grace_period", "3s")
	v.SetDefault("sidecar.clear_on_exit", false)
	v.SetDefault("sidecar.pid_file", "")
	v.SetDefault("sidecar.env", []string{})
	v.SetDefault("sidecar.env_files", []string{})
	v.SetDefault("sidecar.use_os_env", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", true)
	v.SetDefault("log.timestamps", true)
	v.SetDefault("log.sidecar_dir", "")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen", "127.0.0.1:8786")
	v.SetDefault("api.base_path", "")

	v.SetDefault("metrics.listen", "")

	v.SetDefault("history.dsn", "")
	v.SetDefault("history.timeout", "2s")
}

// NewViper returns a viper instance with defaults and GEENII_ environment
// overrides applied. Callers may bind flags before passing it to Load.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional TOML file at path into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadConfig loads path (may be empty) with defaults and environment overrides.
func LoadConfig(path string) (*Config, error) {
	return Load(NewViper(), path)
}

// Default returns the configuration used when no file or overrides exist.
func Default() *Config {
	c, err := LoadConfig("")
	if err != nil {
		// defaults are static and always valid
		panic(err)
	}
	return c
}

func (c *Config) Validate() error {
	var errs []error
	name := strings.TrimSpace(c.Sidecar.Name)
	if name == "" {
		errs = append(errs, errors.New("sidecar.name is required"))
	}
	if strings.ContainsAny(name, `/\`) {
		errs = append(errs, fmt.Errorf("sidecar.name %q must be a bare executable name", name))
	}
	if c.Sidecar.GracePeriod < 0 {
		errs = append(errs, fmt.Errorf("sidecar.grace_period must not be negative, got %s", c.Sidecar.GracePeriod))
	}
	if c.API.Enabled && c.API.Listen == "" {
		errs = append(errs, errors.New("api.listen is required when api.enabled"))
	}
	if c.API.BasePath != "" && !strings.HasPrefix(c.API.BasePath, "/") {
		errs = append(errs, fmt.Errorf("api.base_path %q must start with /", c.API.BasePath))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// MergedEnv composes the sidecar environment: OS env when use_os_env, then
// env_files in order, then the env list.
func (s SidecarConfig) MergedEnv() ([]string, error) {
	e := env.New(s.UseOSEnv)
	for _, p := range s.EnvFiles {
		if err := e.LoadFile(p); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return e.Merge(s.Env), nil
}
