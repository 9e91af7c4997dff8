package malja

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/tfkr-ae/malja/offline"
)

const (
	configName = "config"
	envPrefix  = "MALJA"
)

// RetryConfig bounds the exponential backoff of RegisterWithRetry
type RetryConfig struct {
	Initial    time.Duration `mapstructure:"initial"`     // First retry interval
	Max        time.Duration `mapstructure:"max"`         // Upper bound of a single interval
	MaxElapsed time.Duration `mapstructure:"max_elapsed"` // Total time before giving up, 0 retries until the context is done
	Attempt    time.Duration `mapstructure:"attempt"`     // Bound of a single install attempt, 0 leaves it unbounded
}

// ScopeRule is one regex rule, Match is either "host" or "url"
type ScopeRule struct {
	Pattern string `mapstructure:"pattern"`
	Match   string `mapstructure:"match"`
}

// ScopeConfig lists the include and exclude rules of the proxy scope
type ScopeConfig struct {
	Include []ScopeRule `mapstructure:"include"`
	Exclude []ScopeRule `mapstructure:"exclude"`
}

// Config is the malja configuration, read from config.yaml in the config dir and overridden by MALJA_* variables
type Config struct {
	viper            *viper.Viper
	ConfigDir        string      `mapstructure:"config_dir"`
	ListenAddress    string      `mapstructure:"listen_address"`
	ListenPort       string      `mapstructure:"listen_port"`
	Origin           string      `mapstructure:"origin"`
	CacheName        string      `mapstructure:"cache_name"`
	OfflinePath      string      `mapstructure:"offline_path"`
	DatabaseName     string      `mapstructure:"database_name"`
	PruneStaleCaches bool        `mapstructure:"prune_stale_caches"`
	ScriptPath       string      `mapstructure:"script_path"`
	LogLevel         string      `mapstructure:"log_level"`
	InstallRetry     RetryConfig `mapstructure:"install_retry"`
	Scope            ScopeConfig `mapstructure:"scope"`
}

var defaults = map[string]any{
	"listen_address":            "127.0.0.1",
	"listen_port":               "8080",
	"origin":                    "http://127.0.0.1:8000",
	"cache_name":                offline.DefaultCacheName,
	"offline_path":              offline.DefaultOfflinePath,
	"database_name":             "malja.db",
	"prune_stale_caches":        false,
	"script_path":               "",
	"log_level":                 "info",
	"install_retry.initial":     "500ms",
	"install_retry.max":         "30s",
	"install_retry.max_elapsed": "5m",
	"install_retry.attempt":     "30s",
	"scope.include":             []ScopeRule{},
	"scope.exclude":             []ScopeRule{},
}

// DefaultConfig returns the defaults without reading or writing a config file
func DefaultConfig() *Config {
	return &Config{
		ListenAddress: "127.0.0.1",
		ListenPort:    "8080",
		Origin:        "http://127.0.0.1:8000",
		CacheName:     offline.DefaultCacheName,
		OfflinePath:   offline.DefaultOfflinePath,
		DatabaseName:  "malja.db",
		LogLevel:      "info",
		InstallRetry: RetryConfig{
			Initial:    500 * time.Millisecond,
			Max:        30 * time.Second,
			MaxElapsed: 5 * time.Minute,
			Attempt:    30 * time.Second,
		},
	}
}

// LoadConfig reads config.yaml from configDir, creating the directory and a default file if they do not exist
func LoadConfig(configDir string) (*Config, error) {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("creating config dir %s : %w", configDir, err)
	}

	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file : %w", err)
		}
		if err := v.SafeWriteConfig(); err != nil {
			return nil, fmt.Errorf("writing config file : %w", err)
		}
	}

	cfg := &Config{viper: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config to struct : %w", err)
	}
	cfg.ConfigDir = configDir
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the origin and the offline path
func (cfg *Config) Validate() error {
	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return fmt.Errorf("parsing origin %q : %w", cfg.Origin, err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" || origin.Host == "" {
		return fmt.Errorf("origin %q must be an absolute http(s) URL", cfg.Origin)
	}
	if !strings.HasPrefix(cfg.OfflinePath, "/") {
		return fmt.Errorf("offline path %q must start with /", cfg.OfflinePath)
	}
	return nil
}

// Set updates key and writes the config file
func (cfg *Config) Set(key string, value any) error {
	if cfg.viper == nil {
		return errors.New("config was not loaded from a config dir")
	}
	cfg.viper.Set(key, value)
	if err := cfg.viper.WriteConfig(); err != nil {
		return fmt.Errorf("failed to save configuration : %w", err)
	}
	if err := cfg.viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshalling config to struct : %w", err)
	}
	return nil
}

// OriginURL returns the parsed origin
func (cfg *Config) OriginURL() (*url.URL, error) {
	return url.Parse(cfg.Origin)
}

// Worker returns the offline worker for the configured cache name and offline path
func (cfg *Config) Worker() *offline.Worker {
	return offline.NewWorker(cfg.CacheName, cfg.OfflinePath)
}

// DatabasePath returns the path of the SQLite database
func (cfg *Config) DatabasePath() string {
	if filepath.IsAbs(cfg.DatabaseName) || cfg.ConfigDir == "" {
		return cfg.DatabaseName
	}
	return filepath.Join(cfg.ConfigDir, cfg.DatabaseName)
}

// ListenAddr returns the host:port the proxy listens on
func (cfg *Config) ListenAddr() string {
	return net.JoinHostPort(cfg.ListenAddress, cfg.ListenPort)
}

// SlogLevel returns the slog level for log_level, unknown values fall back to info
func (cfg *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
