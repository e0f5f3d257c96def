// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Backend.BaseURL = "https://cases.example.com"
	return cfg
}

func TestValidator_Validate_ValidConfig(t *testing.T) {
	validator := NewValidator()
	err := validator.Validate(validConfig())
	assert.NoError(t, err)
}

func TestValidator_Validate_BackendConfig(t *testing.T) {
	tests := []struct {
		name        string
		baseURL     string
		errContains string
	}{
		{name: "missing", baseURL: "", errContains: "backend.base_url: is required"},
		{name: "relative", baseURL: "/api", errContains: "backend.base_url"},
		{name: "wrong scheme", baseURL: "ftp://cases.example.com", errContains: "backend.base_url"},
	}

	validator := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Backend.BaseURL = tt.baseURL
			err := validator.Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidator_Validate_ServerConfig(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{"valid port", 8080, false},
		{"zero port picks a free one", 0, false},
		{"negative port", -1, true},
		{"port too high", 70000, true},
	}

	validator := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Server.Port = tt.port
			err := validator.Validate(cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "server.port")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_Validate_StoreConfig(t *testing.T) {
	validator := NewValidator()

	for _, backend := range []string{"file", "badger", "sqlite", "memory"} {
		cfg := validConfig()
		cfg.Store.Backend = backend
		assert.NoError(t, validator.Validate(cfg), backend)
	}

	cfg := validConfig()
	cfg.Store.Backend = "redis"
	err := validator.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")

	cfg = validConfig()
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = ""
	err = validator.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.path")

	cfg = validConfig()
	cfg.Store.Backend = "badger"
	cfg.Store.Watch = boolPtr(true)
	err = validator.Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.watch")
}

func TestValidator_Validate_LoggingConfig(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"valid debug", "debug", "json", false},
		{"valid warn text", "warn", "text", false},
		{"invalid level", "trace", "json", true},
		{"invalid format", "info", "xml", true},
	}

	validator := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Logging = LoggingConfig{Level: tt.level, Format: tt.format}
			err := validator.Validate(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidator_Validate_DurationFormats(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad timeout", func(c *Config) { c.Backend.Timeout = "soon" }, "backend.timeout"},
		{"bad debounce", func(c *Config) { c.Titles.Debounce = "1x" }, "titles.debounce"},
		{"negative interval", func(c *Config) { c.Eviction.Interval = "-5m" }, "eviction.interval"},
		{"bad max age", func(c *Config) { c.Eviction.MaxAge = "week" }, "eviction.max_age"},
		{"bad history age", func(c *Config) { c.Events.History.MaxAge = "forever" }, "events.history.max_age"},
		{"max wait below debounce", func(c *Config) {
			c.Titles.Debounce = "2s"
			c.Titles.MaxWait = "1s"
		}, "titles.max_wait"},
	}

	validator := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validator.Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	cfg := validConfig()
	cfg.Eviction.MaxAge = "30d"
	assert.NoError(t, validator.Validate(cfg))
}

func TestValidator_Validate_Limits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"threshold above one", func(c *Config) { c.Conflicts.AutoMergeThreshold = 1.5 }, "conflicts.auto_merge_threshold"},
		{"negative similarity", func(c *Config) { c.Conflicts.SimilarityThreshold = -0.1 }, "conflicts.similarity_threshold"},
		{"negative conversations", func(c *Config) { c.Eviction.MaxConversations = -1 }, "eviction.max_conversations"},
		{"negative concurrency", func(c *Config) { c.Recovery.Concurrency = -2 }, "recovery.concurrency"},
		{"negative rate", func(c *Config) { c.Recovery.RatePerSecond = -1 }, "recovery.rate_per_second"},
	}

	validator := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validator.Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidator_Validate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Backend.BaseURL = ""
	cfg.Logging.Level = "loud"
	cfg.Store.Backend = "tape"

	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Errors, 3)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Errors: []FieldError{
			{Field: "backend.base_url", Message: "is required"},
			{Field: "store.backend", Message: "is invalid"},
		},
	}

	errStr := err.Error()
	assert.Contains(t, errStr, "backend.base_url")
	assert.Contains(t, errStr, "store.backend")
}

func TestValidationError_IsEmpty(t *testing.T) {
	err := &ValidationError{}
	assert.True(t, err.IsEmpty())

	err.Errors = append(err.Errors, FieldError{Field: "test", Message: "error"})
	assert.False(t, err.IsEmpty())
}
