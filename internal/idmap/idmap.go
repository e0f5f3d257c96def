// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package idmap maintains the bidirectional table between provisional and
// confirmed identifiers.
package idmap

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wingedpig/casesync/internal/apperr"
	"github.com/wingedpig/casesync/internal/ident"
	"github.com/wingedpig/casesync/internal/store"
)

type persisted struct {
	ProvisionalToConfirmed map[string]string `json:"provisional_to_confirmed"`
	ConfirmedToProvisional map[string]string `json:"confirmed_to_provisional"`
}

// Manager holds the mapping table. It owns the id_mappings store key.
type Manager struct {
	mu            sync.RWMutex
	store         store.Store
	logger        *slog.Logger
	toConfirmed   map[string]string
	toProvisional map[string]string
}

// NewManager creates an empty table backed by st.
func NewManager(st store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		store:         st,
		logger:        logger,
		toConfirmed:   make(map[string]string),
		toProvisional: make(map[string]string),
	}
}

// Load reads the persisted table. Entries with the wrong shape, or whose
// two directions disagree, are dropped and logged.
func (m *Manager) Load(ctx context.Context) error {
	var p persisted
	if _, err := store.GetJSON(ctx, m.store, store.KeyIDMappings, &p); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.toConfirmed = make(map[string]string)
	m.toProvisional = make(map[string]string)
	for prov, conf := range p.ProvisionalToConfirmed {
		if !ident.IsProvisional(prov) || !ident.IsConfirmed(conf) {
			m.logger.Warn("dropping malformed id mapping", "provisional", prov, "confirmed", conf)
			continue
		}
		if back, ok := p.ConfirmedToProvisional[conf]; ok && back != prov {
			m.logger.Warn("dropping inconsistent id mapping", "provisional", prov, "confirmed", conf, "reverse", back)
			continue
		}
		if _, dup := m.toProvisional[conf]; dup {
			m.logger.Warn("dropping duplicate id mapping", "provisional", prov, "confirmed", conf)
			continue
		}
		m.toConfirmed[prov] = conf
		m.toProvisional[conf] = prov
	}
	return nil
}

// AddMapping records that provisional was confirmed as confirmed. Passing
// ids of the wrong shape, or remapping either side to a different partner,
// is an architecture violation. Adding an identical pair again is a no-op.
func (m *Manager) AddMapping(ctx context.Context, provisional, confirmed string) error {
	const op = "idmap.AddMapping"
	if !ident.IsProvisional(provisional) {
		return apperr.Architecture(op, "first argument %q is not a provisional id", provisional)
	}
	if !ident.IsConfirmed(confirmed) {
		return apperr.Architecture(op, "second argument %q is not a confirmed id", confirmed)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.toConfirmed[provisional]; ok {
		if cur == confirmed {
			return nil
		}
		return apperr.Architecture(op, "%s is already mapped to %s", provisional, cur)
	}
	if cur, ok := m.toProvisional[confirmed]; ok {
		return apperr.Architecture(op, "%s is already mapped from %s", confirmed, cur)
	}
	m.toConfirmed[provisional] = confirmed
	m.toProvisional[confirmed] = provisional
	m.logger.Debug("id mapped", "provisional", provisional, "confirmed", confirmed)
	return m.saveLocked(ctx)
}

// ConfirmedID returns the confirmed id for provisional.
func (m *Manager) ConfirmedID(provisional string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.toConfirmed[provisional]
	return c, ok
}

// ProvisionalID returns the provisional id confirmed as confirmed.
func (m *Manager) ProvisionalID(confirmed string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.toProvisional[confirmed]
	return p, ok
}

// Resolve returns the confirmed id for a mapped provisional id and id
// unchanged otherwise.
func (m *Manager) Resolve(id string) string {
	if c, ok := m.ConfirmedID(id); ok {
		return c
	}
	return id
}

// RemoveMapping forgets provisional and its partner.
func (m *Manager) RemoveMapping(ctx context.Context, provisional string) error {
	if !ident.IsProvisional(provisional) {
		return apperr.Architecture("idmap.RemoveMapping", "%q is not a provisional id", provisional)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	conf, ok := m.toConfirmed[provisional]
	if !ok {
		return nil
	}
	delete(m.toConfirmed, provisional)
	delete(m.toProvisional, conf)
	return m.saveLocked(ctx)
}

// All returns a copy of the provisional to confirmed direction.
func (m *Manager) All() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.toConfirmed))
	for k, v := range m.toConfirmed {
		out[k] = v
	}
	return out
}

// Len returns the number of mappings.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.toConfirmed)
}

// Persist rewrites the table to the store.
func (m *Manager) Persist(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveLocked(ctx)
}

func (m *Manager) saveLocked(ctx context.Context) error {
	return store.PutJSON(ctx, m.store, store.KeyIDMappings, persisted{
		ProvisionalToConfirmed: m.toConfirmed,
		ConfirmedToProvisional: m.toProvisional,
	})
}
