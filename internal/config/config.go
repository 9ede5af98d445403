// Package config loads tsync's configuration.
//
// Precedence, highest first: TSYNC_* environment variables, the TOML
// config file, built-in defaults. Nested keys map to environment names by
// upper-casing and replacing dots, so api.base_url becomes TSYNC_API_BASE_URL.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/mschirtzinger/tasksync/internal/realtime"
	"github.com/mschirtzinger/tasksync/internal/syncmgr"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TSYNC"

// DefaultPath is where the config file lives unless --config says otherwise.
const DefaultPath = "~/.config/tsync/config.toml"

// Config represents the application configuration.
type Config struct {
	API      APIConfig      `toml:"api" mapstructure:"api" yaml:"api"`
	Store    StoreConfig    `toml:"store" mapstructure:"store" yaml:"store"`
	Sync     SyncConfig     `toml:"sync" mapstructure:"sync" yaml:"sync"`
	Realtime RealtimeConfig `toml:"realtime" mapstructure:"realtime" yaml:"realtime"`
	Query    QueryConfig    `toml:"query" mapstructure:"query" yaml:"query"`
	Log      LogConfig      `toml:"log" mapstructure:"log" yaml:"log"`
	Network  NetworkConfig  `toml:"network" mapstructure:"network" yaml:"network"`
}

// APIConfig holds task service settings.
type APIConfig struct {
	BaseURL string        `toml:"base_url" mapstructure:"base_url" yaml:"base_url"`
	Token   string        `toml:"token" mapstructure:"token" yaml:"-"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout" yaml:"timeout"`
}

// StoreConfig holds local cache settings.
type StoreConfig struct {
	Path string `toml:"path" mapstructure:"path" yaml:"path"`
}

// SyncConfig holds action queue settings.
type SyncConfig struct {
	MaxRetries     int           `toml:"max_retries" mapstructure:"max_retries" yaml:"max_retries"`
	DrainDelay     time.Duration `toml:"drain_delay" mapstructure:"drain_delay" yaml:"drain_delay"`
	CountInterval  time.Duration `toml:"count_interval" mapstructure:"count_interval" yaml:"count_interval"`
	DeadLetterFile string        `toml:"dead_letter_file" mapstructure:"dead_letter_file" yaml:"dead_letter_file"`
}

// RealtimeConfig holds push channel settings.
type RealtimeConfig struct {
	Enabled          bool          `toml:"enabled" mapstructure:"enabled" yaml:"enabled"`
	URL              string        `toml:"url" mapstructure:"url" yaml:"url"`
	HandshakeTimeout time.Duration `toml:"handshake_timeout" mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	BackoffBase      time.Duration `toml:"backoff_base" mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax       time.Duration `toml:"backoff_max" mapstructure:"backoff_max" yaml:"backoff_max"`
	MaxAttempts      int           `toml:"max_attempts" mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryInterval    time.Duration `toml:"retry_interval" mapstructure:"retry_interval" yaml:"retry_interval"`
	HubAddr          string        `toml:"hub_addr" mapstructure:"hub_addr" yaml:"hub_addr"`
}

// QueryConfig holds read path settings.
type QueryConfig struct {
	FreshFor time.Duration `toml:"fresh_for" mapstructure:"fresh_for" yaml:"fresh_for"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// File, when set, receives logs through a rotating writer
	File       string `toml:"file" mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress" yaml:"compress"`

	// Verbose sends component logs to the terminal when no file is set
	Verbose bool `toml:"verbose" mapstructure:"verbose" yaml:"verbose"`

	// Notifications prints user-facing notices
	Notifications bool `toml:"notifications" mapstructure:"notifications" yaml:"notifications"`
}

// NetworkConfig holds connectivity settings.
type NetworkConfig struct {
	// MarkerFile is watched as the host connectivity signal: present means
	// online. Empty assumes online.
	MarkerFile string `toml:"marker_file" mapstructure:"marker_file" yaml:"marker_file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://127.0.0.1:8080",
			Timeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path: "~/.local/share/tsync/cache.db",
		},
		Sync: SyncConfig{
			MaxRetries:     syncmgr.DefaultMaxRetries,
			DrainDelay:     3 * time.Second,
			CountInterval:  5 * time.Second,
			DeadLetterFile: "~/.local/share/tsync/dead-letters.yaml",
		},
		Realtime: RealtimeConfig{
			Enabled:     false,
			URL:         "ws://127.0.0.1:8090/ws",
			BackoffBase: time.Second,
			BackoffMax:  30 * time.Second,
			MaxAttempts: 3,
			HubAddr:     "127.0.0.1:8090",
		},
		Query: QueryConfig{
			FreshFor: 5 * time.Minute,
		},
		Log: LogConfig{
			MaxSizeMB:     10,
			MaxBackups:    3,
			MaxAgeDays:    28,
			Compress:      true,
			Notifications: true,
		},
	}
}

// Loader reads the configuration through viper and can watch the file.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a loader for the file at path. An empty path uses
// DefaultPath.
func NewLoader(path string) (*Loader, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	resolved, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(resolved)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	return &Loader{v: v, path: resolved}, nil
}

// Path returns the resolved config file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the file if it exists and returns the validated result.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config %s: %w", l.path, err)
			}
		}
	}
	return l.decode()
}

// Watch calls fn with the new configuration after every change to the
// file. Invalid edits are reported to onErr and otherwise ignored.
func (l *Loader) Watch(fn func(*Config), onErr func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			if onErr != nil {
				onErr(fmt.Errorf("config change in %s rejected: %w", e.Name, err))
			}
			return
		}
		fn(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is a convenience for NewLoader(path).Load().
func Load(path string) (*Config, error) {
	l, err := NewLoader(path)
	if err != nil {
		return nil, err
	}
	return l.Load()
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.token", d.API.Token)
	v.SetDefault("api.timeout", d.API.Timeout)

	v.SetDefault("store.path", d.Store.Path)

	v.SetDefault("sync.max_retries", d.Sync.MaxRetries)
	v.SetDefault("sync.drain_delay", d.Sync.DrainDelay)
	v.SetDefault("sync.count_interval", d.Sync.CountInterval)
	v.SetDefault("sync.dead_letter_file", d.Sync.DeadLetterFile)

	v.SetDefault("realtime.enabled", d.Realtime.Enabled)
	v.SetDefault("realtime.url", d.Realtime.URL)
	v.SetDefault("realtime.handshake_timeout", d.Realtime.HandshakeTimeout)
	v.SetDefault("realtime.backoff_base", d.Realtime.BackoffBase)
	v.SetDefault("realtime.backoff_max", d.Realtime.BackoffMax)
	v.SetDefault("realtime.max_attempts", d.Realtime.MaxAttempts)
	v.SetDefault("realtime.retry_interval", d.Realtime.RetryInterval)
	v.SetDefault("realtime.hub_addr", d.Realtime.HubAddr)

	v.SetDefault("query.fresh_for", d.Query.FreshFor)

	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("log.verbose", d.Log.Verbose)
	v.SetDefault("log.notifications", d.Log.Notifications)

	v.SetDefault("network.marker_file", d.Network.MarkerFile)
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Store.Path, &c.Sync.DeadLetterFile, &c.Log.File, &c.Network.MarkerFile} {
		if strings.TrimSpace(*p) == "" {
			continue
		}
		expanded, err := ExpandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := checkURL("api.base_url", c.API.BaseURL, "http", "https"); err != nil {
		return err
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive")
	}

	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path must be specified")
	}

	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync.max_retries must be positive")
	}
	if c.Sync.DrainDelay < 0 {
		return fmt.Errorf("sync.drain_delay cannot be negative")
	}
	if c.Sync.CountInterval <= 0 {
		return fmt.Errorf("sync.count_interval must be positive")
	}

	if c.Realtime.Enabled {
		if err := checkURL("realtime.url", c.Realtime.URL, "ws", "wss", "http", "https"); err != nil {
			return err
		}
	}
	if c.Realtime.BackoffBase <= 0 {
		return fmt.Errorf("realtime.backoff_base must be positive")
	}
	if c.Realtime.BackoffMax < c.Realtime.BackoffBase {
		return fmt.Errorf("realtime.backoff_max must be at least realtime.backoff_base")
	}
	if c.Realtime.MaxAttempts <= 0 {
		return fmt.Errorf("realtime.max_attempts must be positive")
	}
	if c.Realtime.HandshakeTimeout < 0 || c.Realtime.RetryInterval < 0 {
		return fmt.Errorf("realtime timeouts cannot be negative")
	}

	if c.Query.FreshFor <= 0 {
		return fmt.Errorf("query.fresh_for must be positive")
	}

	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log rotation limits cannot be negative")
	}

	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s must be specified", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s must be a %s URL with a host (got %q)", key, strings.Join(schemes, "/"), raw)
}

// SyncManager returns the sync manager settings.
func (c SyncConfig) SyncManager() *syncmgr.Config {
	cfg := syncmgr.DefaultConfig()
	cfg.MaxRetries = c.MaxRetries
	cfg.DrainDelay = c.DrainDelay
	cfg.CountInterval = c.CountInterval
	if c.DeadLetterFile != "" {
		cfg.DeadLetter = syncmgr.NewFileSink(c.DeadLetterFile)
	}
	return cfg
}

// Channel returns the real-time channel settings. The token comes from
// the API section.
func (c RealtimeConfig) Channel(token string) *realtime.Config {
	cfg := realtime.DefaultConfig()
	cfg.Disabled = !c.Enabled
	cfg.URL = c.URL
	cfg.Token = token
	cfg.HandshakeTimeout = c.HandshakeTimeout
	cfg.BackoffBase = c.BackoffBase
	cfg.BackoffMax = c.BackoffMax
	cfg.MaxAttempts = c.MaxAttempts
	cfg.RetryInterval = c.RetryInterval
	return cfg
}

// Encode renders c as TOML.
func Encode(c *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Write saves c to path atomically, creating parent directories.
// An existing file is only replaced when overwrite is set.
func Write(path string, c *Config, overwrite bool) error {
	resolved, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(resolved); err == nil {
			return fmt.Errorf("config file already exists: %s", resolved)
		}
	}

	data, err := Encode(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := resolved + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, resolved); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// ExpandPath resolves a leading ~ and makes path absolute.
func ExpandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
