// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct {
	expander *TemplateExpander
}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{expander: NewTemplateExpander()}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return l.Parse(data)
}

// Parse parses HJSON configuration data.
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with templates expanded and default values
// applied. Relative store paths resolve against the config file's directory.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	cfg, err = l.expander.ExpandConfig(cfg, NewTemplateContext(dir))
	if err != nil {
		return nil, fmt.Errorf("expand config: %w", err)
	}

	applyDefaults(cfg)
	if cfg.Store.Backend != "memory" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(dir, cfg.Store.Path)
	}
	return cfg, nil
}

// Default returns a configuration with every default applied and no file
// behind it.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// FindConfig searches for a config file in the current directory.
// It looks for casesync.hjson first, then casesync.json.
func (l *Loader) FindConfig() (string, error) {
	candidates := []string{
		"casesync.hjson",
		"casesync.json",
	}

	for _, name := range candidates {
		path := filepath.Join(".", name)
		if _, err := os.Stat(path); err == nil {
			abs, err := filepath.Abs(path)
			if err != nil {
				return path, nil
			}
			return abs, nil
		}
	}

	return "", fmt.Errorf("config file not found (looked for casesync.hjson, casesync.json)")
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7420
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}

	// Backend defaults
	if cfg.Backend.Timeout == "" {
		cfg.Backend.Timeout = "30s"
	}
	if cfg.Backend.Retries == 0 {
		cfg.Backend.Retries = 2
	}

	// Store defaults
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "file"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "data"
	}

	// Title sync defaults
	if cfg.Titles.Debounce == "" {
		cfg.Titles.Debounce = "800ms"
	}
	if cfg.Titles.MaxWait == "" {
		cfg.Titles.MaxWait = "3s"
	}

	// Eviction defaults
	if cfg.Eviction.Interval == "" {
		cfg.Eviction.Interval = "5m"
	}
	if cfg.Eviction.MaxAge == "" {
		cfg.Eviction.MaxAge = "7d"
	}
	if cfg.Eviction.MaxConversations == 0 {
		cfg.Eviction.MaxConversations = 50
	}
	if cfg.Eviction.MaxMessages == 0 {
		cfg.Eviction.MaxMessages = 200
	}

	// Conflict defaults
	if cfg.Conflicts.AutoMergeThreshold == 0 {
		cfg.Conflicts.AutoMergeThreshold = 0.7
	}
	if cfg.Conflicts.SimilarityThreshold == 0 {
		cfg.Conflicts.SimilarityThreshold = 0.8
	}
	if cfg.Conflicts.BackupsPerCase == 0 {
		cfg.Conflicts.BackupsPerCase = 5
	}

	// Recovery defaults
	if cfg.Recovery.Concurrency == 0 {
		cfg.Recovery.Concurrency = 4
	}
	if cfg.Recovery.RatePerSecond == 0 {
		cfg.Recovery.RatePerSecond = 10
	}

	// Events defaults
	if cfg.Events.History.MaxEvents == 0 {
		cfg.Events.History.MaxEvents = 10000
	}
	if cfg.Events.History.MaxAge == "" {
		cfg.Events.History.MaxAge = "1h"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
