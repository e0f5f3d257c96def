// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package pending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wingedpig/casesync/internal/events"
	"github.com/wingedpig/casesync/internal/store"
)

var (
	// ErrNotFound is returned for an unknown operation id.
	ErrNotFound = errors.New("operation not found")
	// ErrNotRetryable is returned when no retry handler is registered for
	// the operation's type.
	ErrNotRetryable = errors.New("operation type is not retryable")
	// ErrNotFailed is returned when retrying an operation that has not failed.
	ErrNotFailed = errors.New("only failed operations can be retried")
)

const defaultCompletedRetention = 10 * time.Minute

// ReasonInterrupted marks operations that were in flight when the process
// stopped.
const ReasonInterrupted = "interrupted before the server replied"

// Config configures a Manager.
type Config struct {
	Store  store.Store
	Bus    events.Bus
	Logger *slog.Logger
	// CompletedRetention bounds how long completed operations are kept.
	CompletedRetention time.Duration
}

// Manager is the pending-operations table. It owns the pending_operations
// store key and writes the whole table after every change.
type Manager struct {
	mu        sync.RWMutex
	ops       map[string]*Operation
	handlers  map[Type]Handler
	store     store.Store
	bus       events.Bus
	logger    *slog.Logger
	retention time.Duration
}

// NewManager creates an empty table.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	retention := cfg.CompletedRetention
	if retention <= 0 {
		retention = defaultCompletedRetention
	}
	return &Manager{
		ops:       make(map[string]*Operation),
		handlers:  make(map[Type]Handler),
		store:     cfg.Store,
		bus:       cfg.Bus,
		logger:    logger,
		retention: retention,
	}
}

// Register installs the behavior for an operation type.
func (m *Manager) Register(t Type, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[t] = h
}

// Load replaces the table with the persisted one. Operations still pending
// when the table was written did not survive the process and are marked
// failed so the user can retry them.
func (m *Manager) Load(ctx context.Context) error {
	var list []Operation
	if _, err := store.GetJSON(ctx, m.store, store.KeyPendingOperations, &list); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops = make(map[string]*Operation, len(list))
	interrupted := 0
	for i := range list {
		op := list[i]
		if op.ID == "" || op.Type == "" {
			m.logger.Warn("dropping malformed pending operation", "id", op.ID, "type", op.Type)
			continue
		}
		if op.Status == StatusPending {
			op.Status = StatusFailed
			op.Reason = ReasonInterrupted
			op.UpdatedAt = time.Now()
			interrupted++
		}
		m.ops[op.ID] = &op
	}
	if interrupted > 0 {
		m.logger.Info("marked interrupted operations failed", "count", interrupted)
		return m.saveLocked(ctx)
	}
	return nil
}

// Add registers op. An empty status is treated as pending.
func (m *Manager) Add(ctx context.Context, op Operation) error {
	if op.ID == "" || op.Type == "" {
		return fmt.Errorf("operation requires an id and a type")
	}
	if op.Status == "" {
		op.Status = StatusPending
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now()
	}
	if op.UpdatedAt.IsZero() {
		op.UpdatedAt = op.CreatedAt
	}

	m.mu.Lock()
	if _, exists := m.ops[op.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("operation %s already exists", op.ID)
	}
	m.ops[op.ID] = &op
	err := m.saveLocked(ctx)
	m.mu.Unlock()

	m.emit(ctx, events.OperationAdded, op)
	return err
}

// Complete marks id completed. Completing an already completed operation
// is a no-op.
func (m *Manager) Complete(ctx context.Context, id string) error {
	m.mu.Lock()
	op, ok := m.ops[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if op.Status == StatusCompleted {
		m.mu.Unlock()
		return nil
	}
	now := time.Now()
	op.Status = StatusCompleted
	op.Reason = ""
	op.UpdatedAt = now
	snapshot := *op
	m.pruneLocked(now)
	err := m.saveLocked(ctx)
	m.mu.Unlock()

	m.emit(ctx, events.OperationCompleted, snapshot)
	return err
}

// Fail marks id failed with reason. The record is kept for retry or
// dismissal.
func (m *Manager) Fail(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	op, ok := m.ops[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	op.Status = StatusFailed
	op.Reason = reason
	op.UpdatedAt = time.Now()
	snapshot := *op
	err := m.saveLocked(ctx)
	m.mu.Unlock()

	m.logger.Info("operation failed", "id", id, "type", snapshot.Type, "case", snapshot.CaseID, "reason", reason)
	m.emit(ctx, events.OperationFailed, snapshot)
	return err
}

// Retry re-runs the registered retry behavior for a failed operation. On
// success the operation is completed; on failure it stays failed with the
// new reason and the handler's error is returned.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.Lock()
	op, ok := m.ops[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if op.Status != StatusFailed {
		m.mu.Unlock()
		return ErrNotFailed
	}
	h := m.handlers[op.Type]
	if h.Retry == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotRetryable, op.Type)
	}
	op.Status = StatusPending
	op.Attempts++
	op.UpdatedAt = time.Now()
	snapshot := *op
	if err := m.saveLocked(ctx); err != nil {
		m.logger.Warn("persist pending operations failed", "error", err)
	}
	m.mu.Unlock()

	m.logger.Debug("retrying operation", "id", id, "type", snapshot.Type, "attempt", snapshot.Attempts)
	if err := h.Retry(ctx, snapshot); err != nil {
		if ferr := m.Fail(ctx, id, err.Error()); ferr != nil && !errors.Is(ferr, ErrNotFound) {
			m.logger.Warn("record retry failure", "id", id, "error", ferr)
		}
		return err
	}
	if err := m.Complete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// Rollback runs the registered rollback for id. The record itself is left
// in place.
func (m *Manager) Rollback(ctx context.Context, id string) error {
	m.mu.RLock()
	op, ok := m.ops[id]
	if !ok {
		m.mu.RUnlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	snapshot := *op
	h := m.handlers[op.Type]
	m.mu.RUnlock()

	if h.Rollback == nil {
		return nil
	}
	if err := h.Rollback(ctx, snapshot); err != nil {
		return fmt.Errorf("rollback %s %s: %w", snapshot.Type, id, err)
	}
	m.emit(ctx, events.OperationRolledBack, snapshot)
	return nil
}

// Remove deletes id. In-flight calls issued for it are not aborted.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	op, ok := m.ops[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	snapshot := *op
	delete(m.ops, id)
	err := m.saveLocked(ctx)
	m.mu.Unlock()

	m.emit(ctx, events.OperationRemoved, snapshot)
	return err
}

// Rebind moves every operation on case from to case to. It is used once a
// provisional case has been confirmed.
func (m *Manager) Rebind(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for _, op := range m.ops {
		if op.CaseID == from {
			op.CaseID = to
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return m.saveLocked(ctx)
}

// Get returns a copy of id.
func (m *Manager) Get(id string) (Operation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// ByStatus returns the operations in status, oldest first.
func (m *Manager) ByStatus(status Status) []Operation {
	return m.filter(func(op *Operation) bool { return op.Status == status })
}

// ForCase returns the operations on caseID, oldest first.
func (m *Manager) ForCase(caseID string) []Operation {
	return m.filter(func(op *Operation) bool { return op.CaseID == caseID })
}

// All returns every operation, oldest first.
func (m *Manager) All() []Operation {
	return m.filter(func(*Operation) bool { return true })
}

// Unfinished reports whether any of ids has a pending or failed operation.
func (m *Manager) Unfinished(ids ...string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, op := range m.ops {
		if op.Status == StatusCompleted {
			continue
		}
		for _, id := range ids {
			if op.CaseID == id {
				return true
			}
		}
	}
	return false
}

// Persist rewrites the table to the store.
func (m *Manager) Persist(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveLocked(ctx)
}

func (m *Manager) filter(keep func(*Operation) bool) []Operation {
	m.mu.RLock()
	out := make([]Operation, 0, len(m.ops))
	for _, op := range m.ops {
		if keep(op) {
			out = append(out, *op)
		}
	}
	m.mu.RUnlock()
	sortOps(out)
	return out
}

func (m *Manager) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.retention)
	for id, op := range m.ops {
		if op.Status == StatusCompleted && op.UpdatedAt.Before(cutoff) {
			delete(m.ops, id)
		}
	}
}

func (m *Manager) saveLocked(ctx context.Context) error {
	list := make([]Operation, 0, len(m.ops))
	for _, op := range m.ops {
		list = append(list, *op)
	}
	sortOps(list)
	return store.PutJSON(ctx, m.store, store.KeyPendingOperations, list)
}

func (m *Manager) emit(ctx context.Context, eventType string, op Operation) {
	payload := map[string]interface{}{
		"id":       op.ID,
		"type":     string(op.Type),
		"status":   string(op.Status),
		"attempts": op.Attempts,
	}
	if op.Reason != "" {
		payload["reason"] = op.Reason
	}
	events.Emit(ctx, m.bus, eventType, op.CaseID, payload)
}

func sortOps(list []Operation) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
