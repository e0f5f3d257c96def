// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Load_ValidConfig(t *testing.T) {
	configContent := `{
		server: {
			port: 8080
			host: "127.0.0.1"
		}
		backend: {
			base_url: "https://cases.example.com/api"
			timeout: "10s"
		}
		store: {
			backend: "badger"
			path: "/var/lib/casesync"
		}
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, "https://cases.example.com/api", cfg.Backend.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Backend.TimeoutDuration())
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, "/var/lib/casesync", cfg.Store.Path)
}

func TestLoader_Load_HJSONFeatures(t *testing.T) {
	// Test HJSON-specific features: comments, unquoted keys, trailing commas
	configContent := `{
		// This is a comment
		backend: {
			base_url: https://cases.example.com
		}

		# Hash comment
		titles: {
			debounce: 500ms,
			max_wait: 2s,
		}

		conflicts: {
			auto_merge_threshold: 0.75
		}
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "https://cases.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Titles.DebounceDuration())
	assert.Equal(t, 2*time.Second, cfg.Titles.MaxWaitDuration())
	assert.InDelta(t, 0.75, cfg.Conflicts.AutoMergeThreshold, 0.0001)
}

func TestLoader_Load_AllSections(t *testing.T) {
	configContent := `{
		server: { port: 9000, host: "0.0.0.0" }
		backend: {
			base_url: "http://localhost:8081"
			token: "secret"
			timeout: "5s"
			retries: 4
		}
		store: { backend: "sqlite", path: "/tmp/casesync.db", watch: false }
		titles: { debounce: "1s", max_wait: "5s" }
		eviction: {
			interval: "10m"
			max_age: "14d"
			max_conversations: 20
			max_messages: 100
		}
		conflicts: {
			auto_merge_threshold: 0.8
			similarity_threshold: 0.9
			backups_per_case: 3
		}
		recovery: { concurrency: 8, rate_per_second: 25 }
		events: {
			history: { max_events: 500, max_age: "30m" }
		}
		logging: { level: "debug", format: "text" }
		strict: true
	}`

	cfg := loadFromString(t, configContent)

	assert.Equal(t, "secret", cfg.Backend.Token)
	assert.Equal(t, 4, cfg.Backend.Retries)
	assert.False(t, cfg.Store.IsWatching())
	assert.Equal(t, 10*time.Minute, cfg.Eviction.IntervalDuration())
	assert.Equal(t, 14*24*time.Hour, cfg.Eviction.MaxAgeDuration())
	assert.Equal(t, 20, cfg.Eviction.MaxConversations)
	assert.Equal(t, 100, cfg.Eviction.MaxMessages)
	assert.InDelta(t, 0.9, cfg.Conflicts.SimilarityThreshold, 0.0001)
	assert.Equal(t, 3, cfg.Conflicts.BackupsPerCase)
	assert.Equal(t, 8, cfg.Recovery.Concurrency)
	assert.InDelta(t, 25.0, cfg.Recovery.RatePerSecond, 0.0001)
	assert.Equal(t, 500, cfg.Events.History.MaxEvents)
	assert.Equal(t, 30*time.Minute, cfg.Events.History.MaxAgeDuration())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.True(t, cfg.Strict)
}

func TestLoader_Load_Defaults(t *testing.T) {
	configContent := `{
		backend: { base_url: "https://cases.example.com" }
	}`

	loader := NewLoader()
	path := writeTestConfig(t, configContent)
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)

	// Check defaults are applied
	assert.Equal(t, 7420, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "30s", cfg.Backend.Timeout)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data"), cfg.Store.Path)
	assert.True(t, cfg.Store.IsWatching())
	assert.Equal(t, "800ms", cfg.Titles.Debounce)
	assert.Equal(t, "3s", cfg.Titles.MaxWait)
	assert.Equal(t, "7d", cfg.Eviction.MaxAge)
	assert.Equal(t, 50, cfg.Eviction.MaxConversations)
	assert.Equal(t, 200, cfg.Eviction.MaxMessages)
	assert.InDelta(t, 0.7, cfg.Conflicts.AutoMergeThreshold, 0.0001)
	assert.InDelta(t, 0.8, cfg.Conflicts.SimilarityThreshold, 0.0001)
	assert.Equal(t, 4, cfg.Recovery.Concurrency)
	assert.Equal(t, 10000, cfg.Events.History.MaxEvents)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.NoError(t, NewValidator().Validate(cfg))
}

func TestLoader_LoadWithDefaults_ExpandsTemplates(t *testing.T) {
	t.Setenv("CASESYNC_TEST_TOKEN", "tok-123")
	configContent := `{
		backend: {
			base_url: "https://cases.example.com"
			token: '{{env "CASESYNC_TEST_TOKEN"}}'
		}
		store: { path: "{{.ConfigDir}}/state" }
	}`

	path := writeTestConfig(t, configContent)
	cfg, err := NewLoader().LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "tok-123", cfg.Backend.Token)
	dir, _ := filepath.Abs(filepath.Dir(path))
	assert.Equal(t, filepath.Join(dir, "state"), cfg.Store.Path)
}

func TestLoader_LoadWithDefaults_MemoryStoreKeepsEmptyPath(t *testing.T) {
	path := writeTestConfig(t, `{ store: { backend: "memory", path: "" } }`)
	cfg, err := NewLoader().LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "data", cfg.Store.Path)
	assert.False(t, cfg.Store.IsWatching())
}

func TestLoader_Load_FileNotFound(t *testing.T) {
	loader := NewLoader()
	_, err := loader.Load(context.Background(), "/nonexistent/path/config.hjson")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestLoader_Load_InvalidHJSON(t *testing.T) {
	configContent := `{
		server: { port: 1 }
		invalid json here {{{
	}`

	loader := NewLoader()
	path := writeTestConfig(t, configContent)
	_, err := loader.Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoader_Load_ConfigPaths(t *testing.T) {
	dir := t.TempDir()

	hjsonPath := filepath.Join(dir, "casesync.hjson")
	require.NoError(t, os.WriteFile(hjsonPath, []byte(`{server: {port: 1111}}`), 0644))

	jsonPath := filepath.Join(dir, "casesync.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"server": {"port": 2222}}`), 0644))

	loader := NewLoader()

	cfg, err := loader.Load(context.Background(), hjsonPath)
	require.NoError(t, err)
	assert.Equal(t, 1111, cfg.Server.Port)

	// Can also load JSON
	cfg, err = loader.Load(context.Background(), jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 2222, cfg.Server.Port)
}

func TestLoader_FindConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	loader := NewLoader()

	// No config file exists
	_, err := loader.FindConfig()
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "casesync.hjson"), []byte(`{}`), 0644))
	path, err := loader.FindConfig()
	require.NoError(t, err)
	assert.Contains(t, path, "casesync.hjson")

	// Remove hjson, create json - json should be found
	require.NoError(t, os.Remove(filepath.Join(dir, "casesync.hjson")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "casesync.json"), []byte(`{}`), 0644))
	path, err = loader.FindConfig()
	require.NoError(t, err)
	assert.Contains(t, path, "casesync.json")
}

func TestStoreConfig_IsWatching_Defaults(t *testing.T) {
	assert.True(t, StoreConfig{}.IsWatching())
	assert.True(t, StoreConfig{Backend: "file"}.IsWatching())
	assert.False(t, StoreConfig{Backend: "badger"}.IsWatching())
	assert.False(t, StoreConfig{Backend: "file", Watch: boolPtr(false)}.IsWatching())
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		def      string
		expected string
	}{
		{"500ms", "100ms", "500ms"},
		{"1m", "100ms", "1m"},
		{"", "100ms", "100ms"},
		{"invalid", "100ms", "100ms"},
		{"1h30m", "100ms", "1h30m"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			defDur := mustParseDuration(tt.def)
			result := ParseDuration(tt.input, defDur)
			assert.Equal(t, mustParseDuration(tt.expected), result)
		})
	}
}

func TestEvictionConfig_MaxAgeDuration(t *testing.T) {
	assert.Equal(t, 3*24*time.Hour, EvictionConfig{MaxAge: "3d"}.MaxAgeDuration())
	assert.Equal(t, 12*time.Hour, EvictionConfig{MaxAge: "12h"}.MaxAgeDuration())
	assert.Equal(t, 7*24*time.Hour, EvictionConfig{}.MaxAgeDuration())
	assert.Equal(t, 7*24*time.Hour, EvictionConfig{MaxAge: "soon"}.MaxAgeDuration())
}

// Helper functions

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	path := writeTestConfig(t, content)
	loader := NewLoader()
	cfg, err := loader.Load(context.Background(), path)
	require.NoError(t, err)
	return cfg
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "casesync.hjson")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func boolPtr(b bool) *bool {
	return &b
}

func mustParseDuration(s string) time.Duration {
	dur, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return dur
}
