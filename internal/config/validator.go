// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateServer(cfg, errs)
	v.validateBackend(cfg, errs)
	v.validateStore(cfg, errs)
	v.validateLogging(cfg, errs)
	v.validateDurations(cfg, errs)
	v.validateLimits(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs.Add("server.port", "must be between 0 and 65535")
	}
}

func (v *Validator) validateBackend(cfg *Config, errs *ValidationError) {
	if cfg.Backend.BaseURL == "" {
		errs.Add("backend.base_url", "is required")
		return
	}
	u, err := url.Parse(cfg.Backend.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs.Add("backend.base_url", fmt.Sprintf("invalid URL '%s', must be an absolute http or https URL", cfg.Backend.BaseURL))
	}
	if cfg.Backend.Retries < 0 {
		errs.Add("backend.retries", "must not be negative")
	}
}

func (v *Validator) validateStore(cfg *Config, errs *ValidationError) {
	switch cfg.Store.Backend {
	case "", "file", "badger", "sqlite":
		if cfg.Store.Path == "" && cfg.Store.Backend != "" {
			errs.Add("store.path", fmt.Sprintf("is required for the %s backend", cfg.Store.Backend))
		}
	case "memory":
	default:
		errs.Add("store.backend", fmt.Sprintf("invalid backend '%s', must be one of: file, badger, sqlite, memory", cfg.Store.Backend))
	}
	if cfg.Store.Watch != nil && *cfg.Store.Watch && cfg.Store.Backend != "" && cfg.Store.Backend != "file" {
		errs.Add("store.watch", "is only supported by the file backend")
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.Level != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[cfg.Logging.Level] {
			errs.Add("logging.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
		}
	}

	if cfg.Logging.Format != "" {
		validFormats := map[string]bool{
			"json": true,
			"text": true,
		}
		if !validFormats[cfg.Logging.Format] {
			errs.Add("logging.format", fmt.Sprintf("invalid format '%s', must be one of: json, text", cfg.Logging.Format))
		}
	}
}

func (v *Validator) validateDurations(cfg *Config, errs *ValidationError) {
	durations := []struct {
		field string
		value string
	}{
		{"backend.timeout", cfg.Backend.Timeout},
		{"titles.debounce", cfg.Titles.Debounce},
		{"titles.max_wait", cfg.Titles.MaxWait},
		{"eviction.interval", cfg.Eviction.Interval},
		{"events.history.max_age", cfg.Events.History.MaxAge},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			errs.Add(d.field, fmt.Sprintf("invalid duration format: %s", err))
			continue
		}
		if parsed < 0 {
			errs.Add(d.field, "must not be negative")
		}
	}

	if cfg.Eviction.MaxAge != "" {
		if _, err := parseDurationWithDays(cfg.Eviction.MaxAge); err != nil {
			errs.Add("eviction.max_age", fmt.Sprintf("invalid duration format: %s", err))
		}
	}

	if cfg.Titles.Debounce != "" && cfg.Titles.MaxWait != "" {
		debounce := ParseDuration(cfg.Titles.Debounce, 0)
		maxWait := ParseDuration(cfg.Titles.MaxWait, 0)
		if maxWait > 0 && maxWait < debounce {
			errs.Add("titles.max_wait", "must not be shorter than titles.debounce")
		}
	}
}

func (v *Validator) validateLimits(cfg *Config, errs *ValidationError) {
	thresholds := []struct {
		field string
		value float64
	}{
		{"conflicts.auto_merge_threshold", cfg.Conflicts.AutoMergeThreshold},
		{"conflicts.similarity_threshold", cfg.Conflicts.SimilarityThreshold},
	}
	for _, th := range thresholds {
		if th.value < 0 || th.value > 1 {
			errs.Add(th.field, "must be between 0 and 1")
		}
	}

	if cfg.Eviction.MaxConversations < 0 {
		errs.Add("eviction.max_conversations", "must not be negative")
	}
	if cfg.Eviction.MaxMessages < 0 {
		errs.Add("eviction.max_messages", "must not be negative")
	}
	if cfg.Conflicts.BackupsPerCase < 0 {
		errs.Add("conflicts.backups_per_case", "must not be negative")
	}
	if cfg.Recovery.Concurrency < 0 {
		errs.Add("recovery.concurrency", "must not be negative")
	}
	if cfg.Recovery.RatePerSecond < 0 {
		errs.Add("recovery.rate_per_second", "must not be negative")
	}
	if cfg.Events.History.MaxEvents < 0 {
		errs.Add("events.history.max_events", "must not be negative")
	}
}
