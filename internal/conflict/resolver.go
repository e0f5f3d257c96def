// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wingedpig/casesync/internal/events"
)

const (
	defaultAutoMergeThreshold  = 0.7
	defaultSimilarityThreshold = 0.8
)

// Mappings resolves provisional ids to confirmed ones.
type Mappings interface {
	ConfirmedID(provisional string) (string, bool)
}

// Config configures a Resolver.
type Config struct {
	// AutoMergeThreshold is the minimum strategy confidence for an automatic
	// resolution.
	AutoMergeThreshold float64
	// SimilarityThreshold is the similarity below which snapshots are a
	// data_sync conflict.
	SimilarityThreshold float64
	Mappings            Mappings
	Backups             *BackupStore
	Bus                 events.Bus
	Logger              *slog.Logger
}

// Resolver detects conflicts and tracks the ones waiting for a user.
type Resolver struct {
	mu                  sync.Mutex
	strategies          map[Type]Strategy
	awaiting            map[string]*Handle
	threshold           float64
	similarityThreshold float64
	mappings            Mappings
	backups             *BackupStore
	bus                 events.Bus
	logger              *slog.Logger
}

// NewResolver creates a resolver with the built-in strategies registered.
// concurrent_operations has no strategy and always escalates.
func NewResolver(cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	threshold := cfg.AutoMergeThreshold
	if threshold <= 0 {
		threshold = defaultAutoMergeThreshold
	}
	sim := cfg.SimilarityThreshold
	if sim <= 0 {
		sim = defaultSimilarityThreshold
	}
	return &Resolver{
		strategies:          defaultStrategies(),
		awaiting:            make(map[string]*Handle),
		threshold:           threshold,
		similarityThreshold: sim,
		mappings:            cfg.Mappings,
		backups:             cfg.Backups,
		bus:                 cfg.Bus,
		logger:              logger,
	}
}

// Register installs or replaces the strategy for t. A nil strategy removes it.
func (r *Resolver) Register(t Type, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == nil {
		delete(r.strategies, t)
		return
	}
	r.strategies[t] = s
}

// Resolve runs the strategy for c. The returned handle is already resolved
// when the strategy was confident; otherwise it waits for Choose or Cancel.
func (r *Resolver) Resolve(ctx context.Context, c *Conflict) *Handle {
	h := &Handle{conflict: c, resolver: r, state: StateDetected, done: make(chan struct{})}
	events.Emit(ctx, r.bus, events.ConflictDetected, c.Remote.CaseID, map[string]interface{}{
		"conflict_id": c.ID,
		"type":        string(c.Type),
		"severity":    string(c.Severity),
		"similarity":  c.Similarity,
	})

	r.mu.Lock()
	strategy := r.strategies[c.Type]
	r.mu.Unlock()

	if strategy != nil {
		res, err := runStrategy(strategy, c.clone())
		switch {
		case err != nil:
			r.logger.Warn("merge strategy failed", "conflict", c.ID, "type", c.Type, "error", err)
		default:
			h.merged = &res
			if res.Confidence >= r.threshold && len(res.Unresolved) == 0 {
				if err := h.finish(ctx, Resolution{
					Choice:    ChoiceAcceptMerged,
					Snapshot:  res.Merged,
					Auto:      true,
					Decisions: res.Decisions,
				}, StateAutoResolved); err != nil {
					r.logger.Warn("auto resolution failed", "conflict", c.ID, "error", err)
				} else {
					return h
				}
			}
		}
	}

	h.mu.Lock()
	h.state = StateAwaitingUser
	h.mu.Unlock()
	r.mu.Lock()
	r.awaiting[c.ID] = h
	r.mu.Unlock()

	payload := map[string]interface{}{"conflict_id": c.ID, "type": string(c.Type)}
	if h.merged != nil {
		payload["confidence"] = h.merged.Confidence
		payload["unresolved"] = h.merged.Unresolved
	}
	events.Emit(ctx, r.bus, events.ConflictAwaiting, c.Remote.CaseID, payload)
	r.logger.Info("conflict awaiting user", "conflict", c.ID, "type", c.Type)
	return h
}

func runStrategy(s Strategy, c *Conflict) (res MergeResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("strategy panic: %v", p)
		}
	}()
	return s.Merge(c)
}

// Awaiting returns the handles waiting for a user choice, oldest first.
func (r *Resolver) Awaiting() []*Handle {
	r.mu.Lock()
	out := make([]*Handle, 0, len(r.awaiting))
	for _, h := range r.awaiting {
		out = append(out, h)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].conflict.ID < out[j].conflict.ID })
	return out
}

// Handle returns the awaiting handle for conflict id.
func (r *Resolver) Handle(id string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.awaiting[id]
	return h, ok
}

// Backups returns the backup store, which may be nil.
func (r *Resolver) Backups() *BackupStore { return r.backups }

// Handle is a conflict's pending or final resolution.
type Handle struct {
	conflict *Conflict
	resolver *Resolver

	mu         sync.Mutex
	state      State
	merged     *MergeResult
	resolution Resolution
	done       chan struct{}
}

// Conflict returns the conflict being resolved.
func (h *Handle) Conflict() *Conflict { return h.conflict }

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Merged returns the strategy's proposal, if one was produced.
func (h *Handle) Merged() (MergeResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.merged == nil {
		return MergeResult{}, false
	}
	return *h.merged, true
}

// Done is closed once the conflict is resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the conflict is resolved or ctx ends.
func (h *Handle) Wait(ctx context.Context) (Resolution, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.resolution, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// Choose resolves an escalated conflict with the user's decision.
func (h *Handle) Choose(ctx context.Context, uc UserChoice) error {
	res := Resolution{Choice: uc.Choice}
	c := h.conflict
	switch uc.Choice {
	case ChoiceKeepLocal:
		res.Snapshot = c.Local.clone()
	case ChoiceAcceptRemote:
		res.Snapshot = c.Remote.clone()
	case ChoiceAcceptMerged:
		merged, ok := h.Merged()
		if !ok {
			return ErrNoMergedResult
		}
		res.Snapshot = merged.Merged.clone()
		res.Decisions = merged.Decisions
	case ChoiceRestoreBackup:
		if h.resolver.backups == nil {
			return ErrBackupNotFound
		}
		bk, ok := h.resolver.backups.Get(uc.Backup)
		if !ok {
			return fmt.Errorf("%w: %s", ErrBackupNotFound, uc.Backup)
		}
		res.Snapshot = bk.Snapshot
		res.Snapshot.CaseID = c.Remote.CaseID
	case ChoiceManualEdit:
		if uc.Edited == nil {
			return fmt.Errorf("%w: manual_edit requires a snapshot", ErrInvalidChoice)
		}
		res.Snapshot = uc.Edited.clone()
		res.Snapshot.CaseID = c.Remote.CaseID
	default:
		return fmt.Errorf("%w: %q", ErrInvalidChoice, uc.Choice)
	}
	return h.finish(ctx, res, StateResolved)
}

// Cancel resolves the conflict as keep_local.
func (h *Handle) Cancel(ctx context.Context) error {
	res := Resolution{Choice: ChoiceKeepLocal, Snapshot: h.conflict.Local.clone(), Cancelled: true}
	return h.finish(ctx, res, StateResolved)
}

func (h *Handle) finish(ctx context.Context, res Resolution, state State) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateResolved || h.state == StateAutoResolved {
		return ErrAlreadyResolved
	}

	c := h.conflict
	r := h.resolver
	res.ConflictID = c.ID
	res.CaseID = c.Remote.CaseID
	res.ResolvedAt = time.Now()
	if res.Choice != ChoiceKeepLocal && r.backups != nil {
		local := c.Local.clone()
		local.CaseID = c.Remote.CaseID
		bk, err := r.backups.Save(ctx, "conflict-"+c.ID, local)
		if err != nil {
			return fmt.Errorf("backup local snapshot: %w", err)
		}
		res.BackupName = bk.Name
	}

	h.state = state
	h.resolution = res
	close(h.done)

	r.mu.Lock()
	delete(r.awaiting, c.ID)
	r.mu.Unlock()

	events.Emit(ctx, r.bus, events.ConflictResolved, res.CaseID, map[string]interface{}{
		"conflict_id": c.ID,
		"choice":      string(res.Choice),
		"auto":        res.Auto,
		"cancelled":   res.Cancelled,
	})
	r.logger.Info("conflict resolved", "conflict", c.ID, "choice", res.Choice, "auto", res.Auto)
	return nil
}
