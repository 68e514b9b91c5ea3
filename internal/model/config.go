package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// APIConfig holds the backend endpoints and HTTP client settings.
type APIConfig struct {
	// BaseURL is the REST root, including the /api prefix.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// SocketURL is the websocket push endpoint. Derived from BaseURL
	// when empty.
	SocketURL string `mapstructure:"socket_url" yaml:"socket_url"`

	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// MaxRetries bounds retries of rate-limited (429) requests.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
}

// RealtimeConfig controls the push connection's reconnect behavior.
type RealtimeConfig struct {
	InitialBackoffMs int     `mapstructure:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxBackoffMs     int     `mapstructure:"max_backoff_ms" yaml:"max_backoff_ms"`
	MaxRetries       int     `mapstructure:"max_retries" yaml:"max_retries"`
	Jitter           float64 `mapstructure:"jitter" yaml:"jitter"`

	// ResyncIntervalSec is how often full snapshots are re-fetched while
	// the push connection is down. Zero uses 60 seconds.
	ResyncIntervalSec int `mapstructure:"resync_interval_sec" yaml:"resync_interval_sec"`
}

// TicketsConfig holds ticket routing preferences.
type TicketsConfig struct {
	// ExclusiveRouting sends a self-assigned ticket to raised-by-me
	// only instead of both collections.
	ExclusiveRouting bool `mapstructure:"exclusive_routing" yaml:"exclusive_routing"`
}

// CacheConfig controls the on-disk snapshot cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	API      APIConfig         `mapstructure:"api" yaml:"api"`
	Realtime RealtimeConfig    `mapstructure:"realtime" yaml:"realtime"`
	Tickets  TicketsConfig     `mapstructure:"tickets" yaml:"tickets"`
	Policies map[string]string `mapstructure:"policies" yaml:"policies"`
	Cache    CacheConfig       `mapstructure:"cache" yaml:"cache"`
	Log      LogConfig         `mapstructure:"log" yaml:"log"`
	Display  DisplayConfig     `mapstructure:"display" yaml:"display"`
}

// envPrefix scopes environment overrides, e.g. TICKETDESK_API_BASE_URL.
const envPrefix = "TICKETDESK"

const defaultBaseURL = "http://localhost:5000/api"

// configDir returns ~/.config/ticketdesk, or "." if home is unknown.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ticketdesk")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/ticketdesk/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	policies := make(map[string]string)
	for op, p := range DefaultPolicies() {
		policies[string(op)] = string(p)
	}
	return &AppConfig{
		API: APIConfig{
			BaseURL:    defaultBaseURL,
			TimeoutSec: 30,
			MaxRetries: 3,
		},
		Realtime: RealtimeConfig{
			InitialBackoffMs:  1000,
			MaxBackoffMs:      30000,
			MaxRetries:        8,
			Jitter:            0.2,
			ResyncIntervalSec: 60,
		},
		Policies: policies,
		Cache: CacheConfig{
			Enabled: true,
			Path:    filepath.Join(configDir(), "cache.db"),
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(configDir(), "ticketdesk.log"),
		},
		Display: DisplayConfig{
			Theme: "default",
		},
	}
}

// setDefaults mirrors defaultAppConfig into v so that environment
// overrides resolve for keys missing from the file.
func setDefaults(v *viper.Viper, d *AppConfig) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.socket_url", "")
	v.SetDefault("api.timeout_sec", d.API.TimeoutSec)
	v.SetDefault("api.max_retries", d.API.MaxRetries)
	v.SetDefault("realtime.initial_backoff_ms", d.Realtime.InitialBackoffMs)
	v.SetDefault("realtime.max_backoff_ms", d.Realtime.MaxBackoffMs)
	v.SetDefault("realtime.max_retries", d.Realtime.MaxRetries)
	v.SetDefault("realtime.jitter", d.Realtime.Jitter)
	v.SetDefault("realtime.resync_interval_sec", d.Realtime.ResyncIntervalSec)
	v.SetDefault("tickets.exclusive_routing", false)
	v.SetDefault("policies", d.Policies)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("display.theme", d.Display.Theme)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A .env file in the working directory is loaded first so its variables
// take part in environment overrides. If the config file does not exist,
// defaults (plus environment overrides) are returned.
func LoadConfig(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, defaultAppConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if _, err := cfg.WritePolicies(); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("api", cfg.API)
	v.Set("realtime", cfg.Realtime)
	v.Set("tickets", cfg.Tickets)
	v.Set("policies", cfg.Policies)
	v.Set("cache", cfg.Cache)
	v.Set("log", cfg.Log)
	v.Set("display", cfg.Display)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

// WritePolicies converts the configured policy strings, layered over
// DefaultPolicies.
func (c *AppConfig) WritePolicies() (Policies, error) {
	out := DefaultPolicies()
	for op, raw := range c.Policies {
		p, err := ParseWritePolicy(raw)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", op, err)
		}
		out[Operation(op)] = p
	}
	return out, nil
}

// SocketEndpoint returns the push endpoint, deriving ws(s)://host from the
// REST base URL when none is configured.
func (c *APIConfig) SocketEndpoint() string {
	if c.SocketURL != "" {
		return c.SocketURL
	}
	u := strings.TrimSuffix(strings.TrimRight(c.BaseURL, "/"), "/api")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// Timeout returns the HTTP client timeout.
func (c *APIConfig) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}
