package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr        = ":8080"
	defaultDBPath            = "ngnshed.db"
	defaultLogLevel          = "info"
	defaultReqBufferSize     = 64 * 1024
	defaultEngineCapacity    = 100
	defaultEngineIdleTimeout = 500 * time.Millisecond
	defaultPollRate          = 50
	defaultPollBurst         = 1

	defaultConfigFile = "ngnshed.yaml"

	// BuiltinEngineType is the engine type served in-process by the echo backend.
	BuiltinEngineType = "echo"

	envConfig         = "NGNSHED_CONFIG"
	envListenAddr     = "NGNSHED_LISTEN_ADDR"
	envDBPath         = "NGNSHED_DB_PATH"
	envLogLevel       = "NGNSHED_LOG_LEVEL"
	envReqBufferSize  = "NGNSHED_REQ_BUFFER_SIZE"
	envEngineCapacity = "NGNSHED_ENGINE_CAPACITY"
	envEngineIdle     = "NGNSHED_ENGINE_IDLE"
	envPollRate       = "NGNSHED_POLL_RATE"
)

// Config holds application configuration.
type Config struct {
	ListenAddr string       `yaml:"listen_addr"`
	DBPath     string       `yaml:"db_path"`
	LogLevel   string       `yaml:"log_level"`
	Shed       ShedConfig   `yaml:"shed"`
	Engine     EngineConfig `yaml:"engine"`

	// Remotes registers engine types served by external workers.
	Remotes []RemoteConfig `yaml:"remotes"`
}

// ShedConfig configures the per-connection sheds.
type ShedConfig struct {
	// RequestBufferSize is the buffer size hint handed to engine initializers.
	RequestBufferSize int `yaml:"request_buffer_size"`
}

// EngineConfig configures engine runners.
type EngineConfig struct {
	Capacity    int           `yaml:"capacity"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	PollRate    float64       `yaml:"poll_rate"`
	PollBurst   int           `yaml:"poll_burst"`
}

// RemoteConfig binds an engine type to a worker reachable on a stream socket.
type RemoteConfig struct {
	EngineType     string `yaml:"engine_type"`
	Network        string `yaml:"network"` // tcp, unix or vsock
	Address        string `yaml:"address"` // <cid>:<port> for vsock
	MaxConcurrency int    `yaml:"max_concurrency"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   defaultLogLevel,
		Shed: ShedConfig{
			RequestBufferSize: defaultReqBufferSize,
		},
		Engine: EngineConfig{
			Capacity:    defaultEngineCapacity,
			IdleTimeout: defaultEngineIdleTimeout,
			PollRate:    defaultPollRate,
			PollBurst:   defaultPollBurst,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file (the
// explicit path, NGNSHED_CONFIG, or ./ngnshed.yaml if present), then
// NGNSHED_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if file := discoverConfigFile(path); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", file, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func discoverConfigFile(path string) string {
	if path != "" {
		return path
	}
	if v := os.Getenv(envConfig); v != "" {
		return v
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(envReqBufferSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envReqBufferSize, err)
		}
		cfg.Shed.RequestBufferSize = n
	}
	if v := os.Getenv(envEngineCapacity); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envEngineCapacity, err)
		}
		cfg.Engine.Capacity = n
	}
	if v := os.Getenv(envEngineIdle); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", envEngineIdle, err)
		}
		cfg.Engine.IdleTimeout = d
	}
	if v := os.Getenv(envPollRate); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", envPollRate, err)
		}
		cfg.Engine.PollRate = f
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.Shed.RequestBufferSize < 0 {
		errs = append(errs, fmt.Errorf("shed.request_buffer_size must not be negative, got %d", c.Shed.RequestBufferSize))
	}
	if c.Engine.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("engine.capacity must be positive, got %d", c.Engine.Capacity))
	}
	if c.Engine.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("engine.idle_timeout must be positive, got %s", c.Engine.IdleTimeout))
	}
	if c.Engine.PollRate <= 0 {
		errs = append(errs, fmt.Errorf("engine.poll_rate must be positive, got %g", c.Engine.PollRate))
	}
	if c.Engine.PollBurst <= 0 {
		errs = append(errs, fmt.Errorf("engine.poll_burst must be positive, got %d", c.Engine.PollBurst))
	}
	seen := map[string]bool{BuiltinEngineType: true}
	for i, r := range c.Remotes {
		switch {
		case r.EngineType == "":
			errs = append(errs, fmt.Errorf("remotes[%d].engine_type is required", i))
		case seen[r.EngineType]:
			errs = append(errs, fmt.Errorf("remotes[%d].engine_type %q is already registered", i, r.EngineType))
		}
		seen[r.EngineType] = true
		switch r.Network {
		case "tcp", "unix", "vsock":
		default:
			errs = append(errs, fmt.Errorf("remotes[%d].network must be tcp, unix or vsock, got %q", i, r.Network))
		}
		if r.Address == "" {
			errs = append(errs, fmt.Errorf("remotes[%d].address is required", i))
		}
		if r.MaxConcurrency < 0 {
			errs = append(errs, fmt.Errorf("remotes[%d].max_concurrency must not be negative, got %d", i, r.MaxConcurrency))
		}
	}
	return errors.Join(errs...)
}

// Level returns the configured log level.
func (c *Config) Level() slog.Level {
	return ParseLogLevel(c.LogLevel)
}

// ParseLogLevel maps level names, including the trace and warning aliases
// used by connection logs, to slog levels. Unknown names mean info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
