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

// EnvPrefix is prepended to every environment override, e.g.
// PORTALBELL_USER_TOKEN for user.token.
const EnvPrefix = "PORTALBELL"

// ServerConfig locates the portal backend.
type ServerConfig struct {
	// BaseURL is the REST root, e.g. http://localhost:8080/api.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// WSURL is the raw WebSocket endpoint carrying STOMP frames.
	WSURL string `mapstructure:"ws_url" yaml:"ws_url"`
}

// UserConfig identifies the portal account.
type UserConfig struct {
	Username string `mapstructure:"username" yaml:"username"`

	// Token is the Bearer credential. When empty the keyring is consulted.
	Token string `mapstructure:"token" yaml:"token"`
}

// StompConfig holds the push subscription settings.
type StompConfig struct {
	UserDestination      string `mapstructure:"user_destination" yaml:"user_destination"`
	BroadcastDestination string `mapstructure:"broadcast_destination" yaml:"broadcast_destination"`
	HeartbeatMS          int    `mapstructure:"heartbeat_ms" yaml:"heartbeat_ms"`
}

// ReconnectConfig controls the delay between transport reconnect attempts.
type ReconnectConfig struct {
	// Strategy is "fixed" or "exponential".
	Strategy    string `mapstructure:"strategy" yaml:"strategy"`
	DelaySec    int    `mapstructure:"delay_sec" yaml:"delay_sec"`
	MaxDelaySec int    `mapstructure:"max_delay_sec" yaml:"max_delay_sec"`
}

// SyncConfig controls periodic REST resynchronization.
type SyncConfig struct {
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// CacheConfig locates the last-known-state cache. An empty path disables it.
type CacheConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	User      UserConfig      `mapstructure:"user" yaml:"user"`
	Stomp     StompConfig     `mapstructure:"stomp" yaml:"stomp"`
	Reconnect ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

// HeartbeatInterval returns the STOMP heartbeat period.
func (c *AppConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.Stomp.HeartbeatMS) * time.Millisecond
}

// PollInterval returns the REST resync period.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Sync.PollIntervalSec) * time.Second
}

// ConfigDir returns ~/.config/portalbell.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "portalbell")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/portalbell/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.base_url", "http://localhost:8080/api")
	v.SetDefault("server.ws_url", "ws://localhost:8080/ws/websocket")
	v.SetDefault("user.username", "")
	v.SetDefault("user.token", "")
	v.SetDefault("stomp.user_destination", "/user/queue/notifications")
	v.SetDefault("stomp.broadcast_destination", "/topic/notifications")
	v.SetDefault("stomp.heartbeat_ms", 4000)
	v.SetDefault("reconnect.strategy", "fixed")
	v.SetDefault("reconnect.delay_sec", 5)
	v.SetDefault("reconnect.max_delay_sec", 60)
	v.SetDefault("sync.poll_interval_sec", 60)
	v.SetDefault("cache.path", filepath.Join(ConfigDir(), "cache.db"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", filepath.Join(ConfigDir(), "portalbell.log"))
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// A .env file in the working directory is loaded first, and PORTALBELL_*
// environment variables override file values. A missing file is not an
// error: defaults and environment apply.
func LoadConfig(path string) (*AppConfig, error) {
	// .env is optional.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Stomp.HeartbeatMS < 0 {
		cfg.Stomp.HeartbeatMS = 0
	}
	if cfg.Reconnect.DelaySec <= 0 {
		cfg.Reconnect.DelaySec = 5
	}
	if cfg.Sync.PollIntervalSec <= 0 {
		cfg.Sync.PollIntervalSec = 60
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. The token is never written;
// it belongs in the keyring.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	user := cfg.User
	user.Token = ""

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("user", user)
	v.Set("stomp", cfg.Stomp)
	v.Set("reconnect", cfg.Reconnect)
	v.Set("sync", cfg.Sync)
	v.Set("cache", cfg.Cache)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
