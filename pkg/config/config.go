// Package config loads SDK configuration from an optional config file and
// SHULESYNC_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is everything a dashboard session needs to come up.
type Config struct {
	// BaseURL is the platform API root, e.g. https://api.school.example.
	// The push channel is derived from it by swapping the scheme.
	BaseURL string `mapstructure:"base_url"`

	// PageSize is the fixed page length of projected views.
	PageSize int `mapstructure:"page_size"`

	// RequestTimeout bounds every remote call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// HistoryLimit caps the recent-activity history.
	HistoryLimit int `mapstructure:"history_limit"`

	// StoragePath is the local state file (token, activity history). Empty
	// keeps state in memory only.
	StoragePath string `mapstructure:"storage_path"`
}

// PushURL derives the WebSocket endpoint from BaseURL.
func (c Config) PushURL() string {
	url := c.BaseURL
	url = strings.Replace(url, "https://", "wss://", 1)
	url = strings.Replace(url, "http://", "ws://", 1)
	return url
}

// Load reads configuration. path may name a config file (yaml, toml, json by
// extension); an empty path uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()

	// defaults also register the keys so env-only values survive Unmarshal
	v.SetDefault("base_url", "")
	v.SetDefault("page_size", 5)
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("history_limit", 10)
	v.SetDefault("storage_path", "")

	v.SetEnvPrefix("shulesync")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required (SHULESYNC_BASE_URL)")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &cfg, nil
}
