// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package eviction bounds the memory held by cached conversations.
package eviction

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wingedpig/casesync/internal/cases"
	"github.com/wingedpig/casesync/internal/events"
	"github.com/wingedpig/casesync/internal/ident"
	"github.com/wingedpig/casesync/internal/idmap"
	"github.com/wingedpig/casesync/internal/pending"
)

const (
	DefaultInterval         = 5 * time.Minute
	DefaultMaxAge           = 7 * 24 * time.Hour
	DefaultMaxConversations = 50
	DefaultMaxMessages      = 200
)

// Config configures a Manager. Zero limits take the defaults.
type Config struct {
	State    *cases.State
	Pending  *pending.Manager
	Mappings *idmap.Manager
	// Active returns the case the user is looking at.
	Active func() string

	Interval         time.Duration
	MaxAge           time.Duration
	MaxConversations int
	MaxMessages      int

	Bus    events.Bus
	Logger *slog.Logger
	Now    func() time.Time
}

// Result describes one eviction pass.
type Result struct {
	Evicted   []string       `json:"evicted,omitempty"`
	Trimmed   map[string]int `json:"trimmed,omitempty"`
	Protected []string       `json:"protected,omitempty"`
	Retained  int            `json:"retained"`
}

// Manager drops stale conversations on a timer. It never touches the
// network: evicted conversations are fetched again when the case is opened.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// beforeEvict, when set, runs just before a candidate is removed.
	beforeEvict func(caseID string)
}

// NewManager creates an eviction manager.
func NewManager(cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.MaxConversations <= 0 {
		cfg.MaxConversations = DefaultMaxConversations
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Start runs RunOnce every interval until Stop is called or ctx ends.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
}

// Stop halts the timer and waits for a running pass to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// protected returns the cases eviction must leave alone: the active case,
// pinned cases, provisional cases, cases with unfinished or failed
// operations, and the mapped counterpart of each.
func (m *Manager) protected() map[string]bool {
	keep := make(map[string]bool)
	add := func(id string) {
		if id == "" {
			return
		}
		keep[id] = true
		if m.cfg.Mappings == nil {
			return
		}
		if c, ok := m.cfg.Mappings.ConfirmedID(id); ok {
			keep[c] = true
		}
		if p, ok := m.cfg.Mappings.ProvisionalID(id); ok {
			keep[p] = true
		}
	}
	if m.cfg.Active != nil {
		add(m.cfg.Active())
	}
	for _, id := range m.cfg.State.Pinned() {
		add(id)
	}
	for _, id := range m.cfg.State.ConversationIDs() {
		if ident.IsProvisional(id) {
			add(id)
		}
	}
	if m.cfg.Pending != nil {
		for _, op := range m.cfg.Pending.All() {
			if op.Status != pending.StatusCompleted {
				add(op.CaseID)
			}
		}
	}
	return keep
}

// stillEvictable re-checks a candidate while the state lock is held, so a
// message submitted after protected ran keeps its case. It must not call
// back into the state.
func (m *Manager) stillEvictable(id string, items []cases.ConversationItem) bool {
	for _, it := range items {
		if ident.IsProvisional(it.ID) {
			return false
		}
	}
	if m.cfg.Pending == nil {
		return true
	}
	ids := []string{id}
	if m.cfg.Mappings != nil {
		if p, ok := m.cfg.Mappings.ProvisionalID(id); ok {
			ids = append(ids, p)
		}
	}
	return !m.cfg.Pending.Unfinished(ids...)
}

type candidate struct {
	id   string
	last time.Time
	size int
}

// RunOnce performs one eviction pass.
func (m *Manager) RunOnce(ctx context.Context) Result {
	now := m.cfg.Now()
	keep := m.protected()
	res := Result{Trimmed: make(map[string]int)}

	var candidates []candidate
	for _, id := range m.cfg.State.ConversationIDs() {
		if keep[id] {
			res.Protected = append(res.Protected, id)
			continue
		}
		items := m.cfg.State.Conversation(id)
		candidates = append(candidates, candidate{id: id, last: lastActivity(items), size: len(items)})
	}

	// Newest first, so everything past MaxConversations is the oldest.
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].last.Equal(candidates[j].last) {
			return candidates[i].last.After(candidates[j].last)
		}
		return candidates[i].id < candidates[j].id
	})

	budget := m.cfg.MaxConversations - len(res.Protected)
	if budget < 0 {
		budget = 0
	}
	retained := 0
	for _, c := range candidates {
		tooOld := now.Sub(c.last) > m.cfg.MaxAge
		if tooOld || retained >= budget {
			if m.beforeEvict != nil {
				m.beforeEvict(c.id)
			}
			removed, err := m.cfg.State.DeleteConversationIf(ctx, c.id, func(items []cases.ConversationItem) bool {
				return m.stillEvictable(c.id, items)
			})
			if err != nil {
				m.logger.Error("failed to evict conversation", "case", c.id, "error", err)
				continue
			}
			if removed {
				res.Evicted = append(res.Evicted, c.id)
				continue
			}
			// Became busy during the pass.
			res.Protected = append(res.Protected, c.id)
			continue
		}
		retained++
		if c.size > m.cfg.MaxMessages {
			if n, err := m.trim(ctx, c.id); err != nil {
				m.logger.Error("failed to trim conversation", "case", c.id, "error", err)
			} else if n > 0 {
				res.Trimmed[c.id] = n
			}
		}
	}
	res.Retained = retained + len(res.Protected)

	if len(res.Evicted) > 0 || len(res.Trimmed) > 0 {
		m.logger.Info("eviction pass", "evicted", len(res.Evicted), "trimmed", len(res.Trimmed), "protected", len(res.Protected))
		events.Emit(ctx, m.cfg.Bus, events.EvictionCompleted, "", map[string]interface{}{
			"evicted": res.Evicted,
			"trimmed": len(res.Trimmed),
		})
	}
	return res
}

// trim keeps the newest MaxMessages items of caseID, plus any slot still
// waiting for the server.
func (m *Manager) trim(ctx context.Context, caseID string) (int, error) {
	dropped := 0
	_, err := m.cfg.State.UpdateConversation(ctx, caseID, func(items []cases.ConversationItem) ([]cases.ConversationItem, bool) {
		drop := len(items) - m.cfg.MaxMessages
		if drop <= 0 {
			return nil, false
		}
		kept := make([]cases.ConversationItem, 0, m.cfg.MaxMessages)
		for i, it := range items {
			if i >= drop || ident.IsProvisional(it.ID) {
				kept = append(kept, it)
			}
		}
		dropped = len(items) - len(kept)
		return kept, dropped > 0
	})
	if err != nil {
		return 0, err
	}
	return dropped, nil
}

// lastActivity is the newest item timestamp. Empty conversations report the
// zero time and are evicted first.
func lastActivity(items []cases.ConversationItem) time.Time {
	var last time.Time
	for _, it := range items {
		if it.Timestamp.After(last) {
			last = it.Timestamp
		}
	}
	return last
}
