// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package recovery detects loss of the local store and rebuilds case and
// conversation state from the backend.
//
// Recovery replays the server's truth. Provisional cases and messages that
// never reached the server are not reconstructed.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/wingedpig/casesync/internal/backend"
	"github.com/wingedpig/casesync/internal/cases"
	"github.com/wingedpig/casesync/internal/events"
	"github.com/wingedpig/casesync/internal/ident"
	"github.com/wingedpig/casesync/internal/idmap"
	"github.com/wingedpig/casesync/internal/pending"
	"github.com/wingedpig/casesync/internal/store"
)

const (
	defaultConcurrency   = 4
	defaultRatePerSecond = 10
)

// Marker is the liveness record written after every successful session
// start or recovery.
type Marker struct {
	SessionID string    `json:"session_id"`
	WrittenAt time.Time `json:"written_at"`
}

// Result summarizes a recovery run.
type Result struct {
	Success                bool          `json:"success"`
	RecoveredCases         int           `json:"recovered_cases"`
	RecoveredConversations int           `json:"recovered_conversations"`
	DroppedOperations      int           `json:"dropped_operations"`
	Errors                 []string      `json:"errors,omitempty"`
	Duration               time.Duration `json:"duration"`
}

// Config configures a Manager.
type Config struct {
	Store     store.Store
	Backend   backend.Backend
	State     *cases.State
	Pending   *pending.Manager
	Mappings  *idmap.Manager
	Bus       events.Bus
	Logger    *slog.Logger
	SessionID string
	// Concurrency bounds parallel history fetches.
	Concurrency int
	// RatePerSecond paces history fetches.
	RatePerSecond float64
}

// Manager owns the liveness store key and runs recoveries.
type Manager struct {
	store       store.Store
	backend     backend.Backend
	state       *cases.State
	pending     *pending.Manager
	mappings    *idmap.Manager
	bus         events.Bus
	logger      *slog.Logger
	session     string
	concurrency int
	limiter     *rate.Limiter

	group      singleflight.Group
	inProgress atomic.Bool
	marked     atomic.Bool
}

// NewManager creates a recovery manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = defaultConcurrency
	}
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = defaultRatePerSecond
	}
	return &Manager{
		store:       cfg.Store,
		backend:     cfg.Backend,
		state:       cfg.State,
		pending:     cfg.Pending,
		mappings:    cfg.Mappings,
		bus:         cfg.Bus,
		logger:      logger,
		session:     cfg.SessionID,
		concurrency: conc,
		limiter:     rate.NewLimiter(rate.Limit(rps), conc),
	}
}

// IsRecoveryInProgress reports whether a recovery is running.
func (m *Manager) IsRecoveryInProgress() bool {
	return m.inProgress.Load()
}

// DetectStoreLoss reports whether the persisted store was lost: the
// liveness marker is missing or unreadable. A marker written by another
// session is not a loss.
func (m *Manager) DetectStoreLoss(ctx context.Context) (bool, error) {
	data, err := m.store.Get(ctx, store.KeyLiveness)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if m.marked.Load() {
				m.logger.Warn("liveness marker written by this session has vanished")
			} else {
				m.logger.Info("no liveness marker found")
			}
			return true, nil
		}
		return false, fmt.Errorf("read liveness marker: %w", err)
	}
	var mk Marker
	if err := json.Unmarshal(data, &mk); err != nil || mk.SessionID == "" {
		m.logger.Warn("liveness marker unreadable", "bytes", len(data), "error", err)
		return true, nil
	}
	if mk.SessionID != m.session {
		m.logger.Debug("liveness marker from another session", "session", mk.SessionID, "written_at", mk.WrittenAt)
	}
	return false, nil
}

// MarkAlive writes the liveness marker for this session.
func (m *Manager) MarkAlive(ctx context.Context) error {
	if err := store.PutJSON(ctx, m.store, store.KeyLiveness, Marker{SessionID: m.session, WrittenAt: time.Now()}); err != nil {
		return err
	}
	m.marked.Store(true)
	return nil
}

// RecoverFromBackend rebuilds the conversation and title maps from the
// backend. Concurrent callers share one run and its result.
func (m *Manager) RecoverFromBackend(ctx context.Context) Result {
	v, _, _ := m.group.Do("recover", func() (interface{}, error) {
		return m.recover(ctx), nil
	})
	return v.(Result)
}

func (m *Manager) recover(ctx context.Context) Result {
	m.inProgress.Store(true)
	defer m.inProgress.Store(false)

	start := time.Now()
	events.Emit(ctx, m.bus, events.RecoveryStarted, "", nil)
	m.logger.Info("recovering state from backend")

	list, err := backend.ListAll(ctx, m.backend)
	if err != nil {
		res := Result{Errors: []string{fmt.Sprintf("list cases: %v", err)}, Duration: time.Since(start)}
		m.fail(ctx, res)
		return res
	}

	var (
		mu            sync.Mutex
		conversations = make(map[string][]cases.ConversationItem, len(list))
		titles        = make(map[string]string, len(list))
		errs          []string
	)
	g := new(errgroup.Group)
	g.SetLimit(m.concurrency)
	for _, c := range list {
		if !ident.IsConfirmed(c.ID) {
			m.logger.Warn("backend listed a non-confirmed case id", "case", c.ID)
			continue
		}
		titles[c.ID] = c.Title
		g.Go(func() error {
			if err := m.limiter.Wait(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Sprintf("history %s: %v", c.ID, err))
				mu.Unlock()
				return nil
			}
			history, err := m.backend.FetchHistory(ctx, c.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Sprintf("history %s: %v", c.ID, err))
				return nil
			}
			conversations[c.ID] = backend.ToItems(history)
			return nil
		})
	}
	g.Wait()

	res := Result{
		RecoveredCases:         len(titles),
		RecoveredConversations: len(conversations),
		Errors:                 errs,
	}
	if err := m.state.ReplaceFromBackend(ctx, conversations, titles); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("write state: %v", err))
	}
	res.DroppedOperations = m.dropUnsentOperations(ctx, &res)
	if m.mappings != nil {
		if err := m.mappings.Persist(ctx); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("write id mappings: %v", err))
		}
	}

	res.Success = len(res.Errors) == 0
	res.Duration = time.Since(start)
	if !res.Success {
		m.fail(ctx, res)
		return res
	}
	if err := m.MarkAlive(ctx); err != nil {
		res.Success = false
		res.Errors = append(res.Errors, fmt.Sprintf("write liveness marker: %v", err))
		m.fail(ctx, res)
		return res
	}

	m.logger.Info("recovery completed",
		"cases", res.RecoveredCases, "conversations", res.RecoveredConversations,
		"dropped_operations", res.DroppedOperations, "duration", res.Duration)
	events.Emit(ctx, m.bus, events.RecoveryCompleted, "", map[string]interface{}{
		"recovered_cases":         res.RecoveredCases,
		"recovered_conversations": res.RecoveredConversations,
		"dropped_operations":      res.DroppedOperations,
	})
	return res
}

// dropUnsentOperations removes operations on provisional cases the server
// never confirmed and moves operations on confirmed ones to the confirmed id.
func (m *Manager) dropUnsentOperations(ctx context.Context, res *Result) int {
	if m.pending == nil {
		return 0
	}
	dropped := 0
	for _, op := range m.pending.All() {
		if !ident.IsProvisional(op.CaseID) {
			continue
		}
		if m.mappings != nil {
			if c, ok := m.mappings.ConfirmedID(op.CaseID); ok {
				if err := m.pending.Rebind(ctx, op.CaseID, c); err != nil {
					res.Errors = append(res.Errors, fmt.Sprintf("rebind %s: %v", op.ID, err))
				}
				continue
			}
		}
		if err := m.pending.Remove(ctx, op.ID); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("drop %s: %v", op.ID, err))
			continue
		}
		m.logger.Info("dropped operation that never reached the server", "id", op.ID, "type", op.Type, "case", op.CaseID)
		dropped++
	}
	if err := m.pending.Persist(ctx); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("write pending operations: %v", err))
	}
	return dropped
}

func (m *Manager) fail(ctx context.Context, res Result) {
	m.logger.Error("recovery failed", "errors", res.Errors)
	events.Emit(ctx, m.bus, events.RecoveryFailed, "", map[string]interface{}{
		"errors": res.Errors,
	})
}
