// Package config loads gymsync daemon configuration from defaults, an
// optional config file and GYMSYNC_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the daemon configuration.
type Config struct {
	RemoteBaseURL  string        // base URL of the remote data store API
	DataDir        string        // directory for the local SQLite store
	ListenAddr     string        // localhost address for the UI-facing API
	RequestTimeout time.Duration // per remote request; expiry counts as a network error
	ProbeInterval  time.Duration // connectivity reachability probe interval
	SyncInterval   time.Duration // background drain timer
	MaxRetries     int           // bounded retries for 5xx responses before surfacing
	LogLevel       string
}

// Load reads configuration. path may be empty, in which case only
// defaults and environment overrides apply.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("remote_base_url", "http://localhost:8080/api/data")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("listen_addr", "127.0.0.1:8090")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("probe_interval", "15s")
	v.SetDefault("sync_interval", "30s")
	v.SetDefault("max_retries", 5)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("GYMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		RemoteBaseURL:  v.GetString("remote_base_url"),
		DataDir:        v.GetString("data_dir"),
		ListenAddr:     v.GetString("listen_addr"),
		RequestTimeout: v.GetDuration("request_timeout"),
		ProbeInterval:  v.GetDuration("probe_interval"),
		SyncInterval:   v.GetDuration("sync_interval"),
		MaxRetries:     v.GetInt("max_retries"),
		LogLevel:       v.GetString("log_level"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("remote_base_url must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.ProbeInterval < 5*time.Second || c.ProbeInterval > 30*time.Second {
		return fmt.Errorf("probe_interval must be between 5s and 30s")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync_interval must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be at least 1")
	}
	return nil
}
