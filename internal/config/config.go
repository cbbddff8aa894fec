// Package config loads scheduler configuration from a YAML file with sane
// defaults for every knob.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full scheduler configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Store    StoreConfig    `mapstructure:"store"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Backoff  BackoffConfig  `mapstructure:"backoff"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Health   HealthConfig   `mapstructure:"health"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
}

type NATSConfig struct {
	URLs           []string      `mapstructure:"urls"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type WorkersConfig struct {
	Count         int `mapstructure:"count"`
	RatePerMinute int `mapstructure:"rate_per_minute"`
}

type BackoffConfig struct {
	Base time.Duration `mapstructure:"base"`
	Max  time.Duration `mapstructure:"max"`
}

type DispatchConfig struct {
	// TargetPattern builds the tenant base URL from the project id,
	// e.g. "https://%s.apps.example.com".
	TargetPattern string `mapstructure:"target_pattern"`
}

type HealthConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	RetentionSweep time.Duration `mapstructure:"retention_sweep"`
	RetentionAge   time.Duration `mapstructure:"retention_age"`
}

// Load reads config.yaml from dir and applies defaults.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault("app.name", "cronwell")
	v.SetDefault("nats.urls", []string{"nats://127.0.0.1:4222"})
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("store.path", "cronwell.db")
	v.SetDefault("poller.interval", time.Minute)
	v.SetDefault("workers.count", 8)
	v.SetDefault("workers.rate_per_minute", 300)
	v.SetDefault("backoff.base", 30*time.Second)
	v.SetDefault("backoff.max", 10*time.Minute)
	v.SetDefault("dispatch.target_pattern", "http://%s.apps.internal")
	v.SetDefault("health.interval", 15*time.Second)
	v.SetDefault("health.metrics_addr", ":9090")
	v.SetDefault("health.retention_sweep", 24*time.Hour)
	v.SetDefault("health.retention_age", 30*24*time.Hour)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}
