package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Queue backends.
const (
	QueueBackendFile   = "file"
	QueueBackendBadger = "badger"
)

// Config holds duelsync client settings.
type Config struct {
	PlayerID       string        `yaml:"player_id"`
	APIBaseURL     string        `yaml:"api_base_url"`
	RealtimeURL    string        `yaml:"realtime_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	LogLevel       string        `yaml:"log_level"`

	Queue     QueueConfig     `yaml:"queue"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	NATS      NATSConfig      `yaml:"nats"`
}

type QueueConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type ReconnectConfig struct {
	Enabled        bool          `yaml:"enabled"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		APIBaseURL:     "http://localhost:8000",
		RealtimeURL:    "ws://localhost:8000",
		RequestTimeout: 10 * time.Second,
		ProbeTimeout:   5 * time.Second,
		ProbeInterval:  15 * time.Second,
		LogLevel:       "info",
		Queue: QueueConfig{
			Backend: QueueBackendFile,
			Path:    "offline_queue.json",
		},
		Reconnect: ReconnectConfig{
			Enabled:        false,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:       false,
			URL:           "nats://localhost:4222",
			SubjectPrefix: "duelsync",
		},
	}
}

// Load reads the YAML file at path (when it exists) over the defaults,
// then applies DUELSYNC_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.PlayerID = getEnv("DUELSYNC_PLAYER_ID", c.PlayerID)
	c.APIBaseURL = getEnv("DUELSYNC_API_BASE_URL", c.APIBaseURL)
	c.RealtimeURL = getEnv("DUELSYNC_REALTIME_URL", c.RealtimeURL)
	c.RequestTimeout = getEnvAsDuration("DUELSYNC_REQUEST_TIMEOUT", c.RequestTimeout)
	c.ProbeTimeout = getEnvAsDuration("DUELSYNC_PROBE_TIMEOUT", c.ProbeTimeout)
	c.ProbeInterval = getEnvAsDuration("DUELSYNC_PROBE_INTERVAL", c.ProbeInterval)
	c.LogLevel = getEnv("DUELSYNC_LOG_LEVEL", c.LogLevel)
	c.Queue.Backend = getEnv("DUELSYNC_QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.Path = getEnv("DUELSYNC_QUEUE_PATH", c.Queue.Path)
	c.Reconnect.Enabled = getEnvAsBool("DUELSYNC_RECONNECT_ENABLED", c.Reconnect.Enabled)
	c.NATS.Enabled = getEnvAsBool("DUELSYNC_NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = getEnv("DUELSYNC_NATS_URL", c.NATS.URL)
}

// Validate rejects settings the client cannot run with.
func (c Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("api_base_url is required")
	}
	if c.RealtimeURL == "" {
		return errors.New("realtime_url is required")
	}
	if c.Queue.Backend != QueueBackendFile && c.Queue.Backend != QueueBackendBadger {
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Queue.Path == "" {
		return errors.New("queue.path is required")
	}
	if c.ProbeTimeout <= 0 || c.ProbeTimeout > 5*time.Second {
		return fmt.Errorf("probe_timeout must be in (0, 5s], got %s", c.ProbeTimeout)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
