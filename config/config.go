// Package config provides configuration types, defaults and loading for the
// wasm-space host.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm-space/errors"
)

// EnvPrefix prefixes environment overrides, e.g. WASMSPACE_LOG_LEVEL.
const EnvPrefix = "WASMSPACE"

// DefaultPath is the project-local config file.
const DefaultPath = ".wasm-space/config.yaml"

// Config holds all configuration options.
type Config struct {
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	State      StateConfig      `mapstructure:"state" yaml:"state"`
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Registry   RegistryConfig   `mapstructure:"registry" yaml:"registry"`
	FileSystem FileSystemConfig `mapstructure:"filesystem" yaml:"filesystem"`
	Guest      GuestConfig      `mapstructure:"guest" yaml:"guest"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry" yaml:"telemetry"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Encoding string `mapstructure:"encoding" yaml:"encoding"` // "console" or "json"
}

// StateConfig locates persistent host state.
type StateConfig struct {
	// Dir holds the sqlite database and directory-backed volumes.
	// Empty keeps everything in memory.
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Journal bool   `mapstructure:"journal" yaml:"journal"`
}

// StoreConfig selects the artifact backend.
type StoreConfig struct {
	Backend  string        `mapstructure:"backend" yaml:"backend"` // "memory" or "sqlite"
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// RegistryConfig tunes the record table.
type RegistryConfig struct {
	Shards int `mapstructure:"shards" yaml:"shards"`
}

// FileSystemConfig selects where FileSystem resources keep their files.
type FileSystemConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // "memory" or "dir"
}

// GuestConfig bounds WebAssembly guests.
type GuestConfig struct {
	MemoryPages uint32        `mapstructure:"memory_pages" yaml:"memory_pages"`
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	CacheDir    string        `mapstructure:"cache_dir" yaml:"cache_dir"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	MetricsAddr string  `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	Tracing     bool    `mapstructure:"tracing" yaml:"tracing"`
	Exporter    string  `mapstructure:"exporter" yaml:"exporter"` // "none" or "stdout"
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
		State: StateConfig{
			Dir:     ".wasm-space",
			Journal: true,
		},
		Store: StoreConfig{
			Backend:  "sqlite",
			CacheTTL: 5 * time.Minute,
		},
		Registry: RegistryConfig{
			Shards: 32,
		},
		FileSystem: FileSystemConfig{
			Backend: "dir",
		},
		Guest: GuestConfig{
			MemoryPages: 256,
			CallTimeout: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			MetricsAddr: "127.0.0.1:9464",
			Exporter:    "none",
			SampleRate:  1.0,
		},
	}
}

// InMemory returns defaults with every backend kept in process memory.
func InMemory() Config {
	cfg := Defaults()
	cfg.State.Dir = ""
	cfg.State.Journal = false
	cfg.Store.Backend = "memory"
	cfg.FileSystem.Backend = "memory"
	return cfg
}

// SetDefaults registers Defaults on v so env and file values overlay them.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("state.dir", d.State.Dir)
	v.SetDefault("state.journal", d.State.Journal)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.cache_ttl", d.Store.CacheTTL)
	v.SetDefault("registry.shards", d.Registry.Shards)
	v.SetDefault("filesystem.backend", d.FileSystem.Backend)
	v.SetDefault("guest.memory_pages", d.Guest.MemoryPages)
	v.SetDefault("guest.call_timeout", d.Guest.CallTimeout)
	v.SetDefault("guest.cache_dir", d.Guest.CacheDir)
	v.SetDefault("telemetry.metrics_addr", d.Telemetry.MetricsAddr)
	v.SetDefault("telemetry.tracing", d.Telemetry.Tracing)
	v.SetDefault("telemetry.exporter", d.Telemetry.Exporter)
	v.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)
}

// New returns a viper instance with defaults and env overrides wired.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")
	return v
}

// Load reads configuration. An explicit path must exist; otherwise
// DefaultPath is used when present and defaults apply when it is not.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config "+path)
		}
	} else if _, err := os.Stat(DefaultPath); err == nil {
		v.SetConfigFile(DefaultPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "read config "+DefaultPath)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates the current state of v.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "decode config")
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks option values.
func Validate(cfg Config) error {
	invalid := func(format string, args ...any) error {
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf(format, args...))
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return invalid("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Encoding {
	case "console", "json":
	default:
		return invalid("log.encoding: must be console or json, got %q", cfg.Log.Encoding)
	}
	switch cfg.Store.Backend {
	case "memory":
	case "sqlite":
		if cfg.State.Dir == "" {
			return invalid("store.backend: sqlite needs state.dir")
		}
	default:
		return invalid("store.backend: must be memory or sqlite, got %q", cfg.Store.Backend)
	}
	switch cfg.FileSystem.Backend {
	case "memory":
	case "dir":
		if cfg.State.Dir == "" {
			return invalid("filesystem.backend: dir needs state.dir")
		}
	default:
		return invalid("filesystem.backend: must be memory or dir, got %q", cfg.FileSystem.Backend)
	}
	if cfg.State.Journal && cfg.State.Dir == "" {
		return invalid("state.journal: needs state.dir")
	}
	if cfg.Store.CacheTTL < 0 {
		return invalid("store.cache_ttl: must not be negative")
	}
	if cfg.Registry.Shards <= 0 {
		return invalid("registry.shards: must be positive")
	}
	if cfg.Guest.MemoryPages == 0 || cfg.Guest.MemoryPages > 65536 {
		return invalid("guest.memory_pages: must be in 1..65536")
	}
	if cfg.Guest.CallTimeout < 0 {
		return invalid("guest.call_timeout: must not be negative")
	}
	switch cfg.Telemetry.Exporter {
	case "none", "stdout":
	default:
		return invalid("telemetry.exporter: must be none or stdout, got %q", cfg.Telemetry.Exporter)
	}
	if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
		return invalid("telemetry.sample_rate: must be in [0, 1]")
	}
	return nil
}

// StorePath returns the sqlite database path.
func (c Config) StorePath() string {
	return filepath.Join(c.State.Dir, "state.db")
}

// VolumeRoot returns the root of directory-backed volumes.
func (c Config) VolumeRoot() string {
	return filepath.Join(c.State.Dir, "volumes")
}

// Watch calls fn with the reloaded configuration whenever the config file
// changes. Invalid edits are reported through onError and otherwise ignored.
func Watch(v *viper.Viper, fn func(Config), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		fn(cfg)
	})
	v.WatchConfig()
}

// WriteDefault writes Defaults to path as YAML, creating parent directories.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "encode defaults")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindStore, err, "create config dir")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindStore, err, "write config")
	}
	return nil
}
