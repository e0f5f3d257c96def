// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles HJSON configuration loading and template expansion.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for casesync.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Backend   BackendConfig   `json:"backend"`
	Store     StoreConfig     `json:"store"`
	Titles    TitlesConfig    `json:"titles"`
	Eviction  EvictionConfig  `json:"eviction"`
	Conflicts ConflictsConfig `json:"conflicts"`
	Recovery  RecoveryConfig  `json:"recovery"`
	Events    EventsConfig    `json:"events"`
	Logging   LoggingConfig   `json:"logging"`

	// Strict turns architecture violations into panics. Meant for tests and
	// development builds.
	Strict bool `json:"strict"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	TLSCert string `json:"tls_cert"` // Path to TLS certificate file (enables HTTPS if both cert and key set)
	TLSKey  string `json:"tls_key"`  // Path to TLS private key file
}

// Addr returns the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BackendConfig points at the case service.
type BackendConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`   // Bearer token; supports {{env "NAME"}}
	Timeout string `json:"timeout"` // Per-request timeout (e.g., "30s")
	Retries int    `json:"retries"` // Transport-level retries for idempotent requests
}

// TimeoutDuration returns the parsed request timeout.
func (b BackendConfig) TimeoutDuration() time.Duration {
	return ParseDuration(b.Timeout, 30*time.Second)
}

// StoreConfig selects the local persistence backend.
type StoreConfig struct {
	Backend string `json:"backend"` // file, badger, sqlite or memory
	Path    string `json:"path"`
	// Watch reports writes made to a file store by other processes.
	Watch *bool `json:"watch"`
}

// IsWatching returns whether external writes to the store are watched.
// Defaults to true for the file backend.
func (s StoreConfig) IsWatching() bool {
	if s.Watch != nil {
		return *s.Watch
	}
	return s.Backend == "" || s.Backend == "file"
}

// TitlesConfig configures title sync debouncing.
type TitlesConfig struct {
	Debounce string `json:"debounce"`
	MaxWait  string `json:"max_wait"`
}

// DebounceDuration returns the parsed quiet period before a title is sent.
func (t TitlesConfig) DebounceDuration() time.Duration {
	return ParseDuration(t.Debounce, 800*time.Millisecond)
}

// MaxWaitDuration returns the longest a title edit may wait before it is sent.
func (t TitlesConfig) MaxWaitDuration() time.Duration {
	return ParseDuration(t.MaxWait, 3*time.Second)
}

// EvictionConfig bounds how much conversation data is kept locally.
type EvictionConfig struct {
	Interval         string `json:"interval"`
	MaxAge           string `json:"max_age"` // supports days, e.g. "7d"
	MaxConversations int    `json:"max_conversations"`
	MaxMessages      int    `json:"max_messages"`
}

// IntervalDuration returns the time between eviction passes.
func (e EvictionConfig) IntervalDuration() time.Duration {
	return ParseDuration(e.Interval, 5*time.Minute)
}

// MaxAgeDuration returns the parsed max age.
func (e EvictionConfig) MaxAgeDuration() time.Duration {
	d, err := parseDurationWithDays(e.MaxAge)
	if err != nil || e.MaxAge == "" {
		return 7 * 24 * time.Hour
	}
	return d
}

// ConflictsConfig tunes conflict detection and automatic resolution.
type ConflictsConfig struct {
	AutoMergeThreshold  float64 `json:"auto_merge_threshold"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	BackupsPerCase      int     `json:"backups_per_case"`
}

// RecoveryConfig paces history fetches during recovery.
type RecoveryConfig struct {
	Concurrency   int     `json:"concurrency"`
	RatePerSecond float64 `json:"rate_per_second"`
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	History EventHistoryConfig `json:"history"`
}

// EventHistoryConfig bounds the retained event history.
type EventHistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// MaxAgeDuration returns the parsed history retention.
func (h EventHistoryConfig) MaxAgeDuration() time.Duration {
	return ParseDuration(h.MaxAge, time.Hour)
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// ParseDuration parses a duration string, returning a default if empty.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// parseDurationWithDays parses a duration string that may include days (e.g., "7d").
func parseDurationWithDays(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}
