// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sort"
	"sync"
	"time"
)

// HistoryConfig bounds event retention.
type HistoryConfig struct {
	MaxEvents int
	MaxAge    time.Duration
}

// History retains recent events for late subscribers and the API.
type History struct {
	mu        sync.RWMutex
	events    []Event
	maxEvents int
	maxAge    time.Duration
}

// NewHistory creates an event history. Zero values fall back to 10000 events
// and one hour.
func NewHistory(cfg HistoryConfig) *History {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = 10000
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	return &History{maxEvents: cfg.MaxEvents, maxAge: cfg.MaxAge}
}

// Add appends an event, dropping the oldest beyond MaxEvents.
func (h *History) Add(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	if len(h.events) > h.maxEvents {
		h.events = h.events[len(h.events)-h.maxEvents:]
	}
}

// Query returns matching events, oldest first. A Limit keeps the newest.
func (h *History) Query(filter Filter) []Event {
	h.mu.RLock()
	result := make([]Event, 0)
	for _, e := range h.events {
		if matchesFilter(e, filter) {
			result = append(result, e)
		}
	}
	h.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[len(result)-filter.Limit:]
	}
	return result
}

func matchesFilter(e Event, f Filter) bool {
	if len(f.Types) > 0 {
		matched := false
		for _, p := range f.Types {
			if Match(e.Type, p) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.CaseID != "" && e.CaseID != f.CaseID {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Prune drops events older than MaxAge.
func (h *History) Prune() {
	h.mu.Lock()
	defer h.mu.Unlock()
	cutoff := time.Now().Add(-h.maxAge)
	kept := h.events[:0]
	for _, e := range h.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	h.events = kept
}

// Len returns the number of retained events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events)
}
