// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package engine is the orchestrator the UI layer talks to. It applies every
// user action optimistically, tracks it as a pending operation, reconciles
// provisional ids with the ones the backend assigns and routes divergence
// through the conflict resolver.
//
// Listener callbacks may run on any goroutine. The engine mutex is never
// held while a callback runs, while a backend call is outstanding or while
// a conflict waits for a user choice.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wingedpig/casesync/internal/apperr"
	"github.com/wingedpig/casesync/internal/backend"
	"github.com/wingedpig/casesync/internal/cases"
	"github.com/wingedpig/casesync/internal/conflict"
	"github.com/wingedpig/casesync/internal/events"
	"github.com/wingedpig/casesync/internal/eviction"
	"github.com/wingedpig/casesync/internal/idmap"
	"github.com/wingedpig/casesync/internal/integrity"
	"github.com/wingedpig/casesync/internal/pending"
	"github.com/wingedpig/casesync/internal/recovery"
	"github.com/wingedpig/casesync/internal/store"
	"github.com/wingedpig/casesync/internal/watcher"
)

var (
	// ErrSubmitInProgress rejects a second submission on a case whose first
	// one is still outstanding.
	ErrSubmitInProgress = errors.New("a message is already being submitted for this case")
	ErrCaseDeleted      = errors.New("case was deleted")
	ErrCaseNotConfirmed = errors.New("case has not been confirmed by the server")
	ErrConflictNotFound = errors.New("conflict not found")
	ErrClosed           = errors.New("engine is closed")
	// ErrRecovering rejects user changes while local state is being
	// rebuilt from the backend.
	ErrRecovering = errors.New("recovery in progress")
)

const (
	DefaultTitleDebounce   = 800 * time.Millisecond
	DefaultTitleMaxWait    = 3 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	defaultCaseTitle       = "New case"
)

// Listener receives notifications for the UI layer. Nil fields are skipped.
type Listener struct {
	// OnChange reports that the case list or a conversation changed. An
	// empty caseID means the whole list.
	OnChange func(caseID string)
	// OnConflict hands over a conflict that needs a user decision. The UI
	// completes it with ResolveConflict.
	OnConflict func(h *conflict.Handle)
	// OnAuthRequired asks the user to sign in again.
	OnAuthRequired func(err apperr.UserError)
	// OnError reports a failed operation with a recovery hint.
	OnError func(err apperr.UserError)
}

// Config configures an Engine.
type Config struct {
	Store   store.Store
	Backend backend.Backend
	Bus     events.Bus
	Logger  *slog.Logger

	Listener  Listener
	SessionID string

	TitleDebounce time.Duration
	TitleMaxWait  time.Duration

	Eviction  eviction.Config
	Conflicts conflict.Config
	Recovery  recovery.Config

	// BackupsPerCase bounds the conflict backups kept per case.
	BackupsPerCase int
	// WatchStore watches a file store for writes by other processes.
	WatchStore bool
	// Strict panics on architecture violations instead of logging them.
	Strict bool

	ShutdownTimeout time.Duration
}

// creation tracks an in-flight create_case so submissions on the
// provisional case can wait for its confirmed id.
type creation struct {
	done      chan struct{}
	confirmed string
	err       error
}

// Engine orchestrates the sync components. Construct it with New and call
// Start before use.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	store    store.Store
	backend  backend.Backend
	bus      events.Bus
	listener Listener
	session  string

	state     *cases.State
	pending   *pending.Manager
	mappings  *idmap.Manager
	validator *integrity.Validator
	backups   *conflict.BackupStore
	resolver  *conflict.Resolver
	recovery  *recovery.Manager
	evictor   *eviction.Manager
	titles    *watcher.Debouncer
	storeW    *watcher.StoreWatcher

	ctx    context.Context
	cancel context.CancelFunc
	work   tracker

	// gate is read-held by user changes and write-held by recovery.
	gate sync.RWMutex

	mu         sync.Mutex
	active     string
	submitting map[string]bool
	creations  map[string]*creation
	deleted    map[string]bool
	remote     map[string]cases.Case
	titleEdits map[string]time.Time
	subs       []events.SubscriptionID
	started    bool
	closed     bool
}

// New builds an engine and its components. Nothing is read from the store
// until Start.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("engine requires a store")
	}
	if cfg.Backend == nil {
		return nil, errors.New("engine requires a backend")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = ulid.Make().String()
	}
	if cfg.TitleDebounce <= 0 {
		cfg.TitleDebounce = DefaultTitleDebounce
	}
	if cfg.TitleMaxWait <= 0 {
		cfg.TitleMaxWait = DefaultTitleMaxWait
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:        cfg,
		logger:     logger,
		store:      cfg.Store,
		backend:    cfg.Backend,
		bus:        cfg.Bus,
		listener:   cfg.Listener,
		session:    cfg.SessionID,
		ctx:        ctx,
		cancel:     cancel,
		submitting: make(map[string]bool),
		creations:  make(map[string]*creation),
		deleted:    make(map[string]bool),
		remote:     make(map[string]cases.Case),
		titleEdits: make(map[string]time.Time),
	}
	e.work.init()

	e.state = cases.NewState(cfg.Store, logger.With("component", "cases"))
	e.mappings = idmap.NewManager(cfg.Store, logger.With("component", "idmap"))
	e.pending = pending.NewManager(pending.Config{
		Store:  cfg.Store,
		Bus:    cfg.Bus,
		Logger: logger.With("component", "pending"),
	})
	e.validator = integrity.NewValidator(integrity.Config{
		Mappings:    e.mappings,
		Logger:      logger.With("component", "integrity"),
		OnViolation: e.onViolation,
	})
	e.backups = conflict.NewBackupStore(cfg.Store, cfg.BackupsPerCase)

	cc := cfg.Conflicts
	cc.Mappings = e.mappings
	cc.Backups = e.backups
	cc.Bus = cfg.Bus
	cc.Logger = logger.With("component", "conflict")
	e.resolver = conflict.NewResolver(cc)

	rc := cfg.Recovery
	rc.Store = cfg.Store
	rc.Backend = cfg.Backend
	rc.State = e.state
	rc.Pending = e.pending
	rc.Mappings = e.mappings
	rc.Bus = cfg.Bus
	rc.Logger = logger.With("component", "recovery")
	rc.SessionID = cfg.SessionID
	e.recovery = recovery.NewManager(rc)

	ec := cfg.Eviction
	ec.State = e.state
	ec.Pending = e.pending
	ec.Mappings = e.mappings
	ec.Active = e.ActiveCase
	ec.Bus = cfg.Bus
	ec.Logger = logger.With("component", "eviction")
	e.evictor = eviction.NewManager(ec)

	e.titles = watcher.NewDebouncer(cfg.TitleDebounce, cfg.TitleMaxWait)
	e.registerHandlers()
	return e, nil
}

// Start loads persisted state, recovers from the backend if the store was
// lost, repairs integrity violations and starts background work.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	if err := e.Load(ctx); err != nil {
		return err
	}

	lost, err := e.recovery.DetectStoreLoss(ctx)
	if err != nil {
		return err
	}
	if lost {
		e.gate.Lock()
		res := e.recovery.RecoverFromBackend(ctx)
		e.gate.Unlock()
		if !res.Success {
			e.logger.Warn("startup recovery incomplete", "errors", res.Errors)
		}
	} else if err := e.recovery.MarkAlive(ctx); err != nil {
		return err
	}

	e.repair(ctx, "startup")

	if e.bus != nil {
		for _, pattern := range []string{events.StoreChanged, events.StoreRemoved} {
			id, err := e.bus.SubscribeAsync(pattern, e.onStoreEvent, 64)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", pattern, err)
			}
			e.subs = append(e.subs, id)
		}
	}
	if fs, ok := e.store.(*store.FileStore); ok && e.cfg.WatchStore && e.bus != nil {
		w, err := watcher.NewStoreWatcher(fs, e.bus, 0, e.logger.With("component", "watcher"))
		if err != nil {
			return err
		}
		e.storeW = w
	}

	if _, err := e.RefreshCases(ctx); err != nil {
		e.logger.Warn("initial case refresh failed", "error", err)
	}
	e.evictor.Start(e.ctx)
	e.logger.Info("engine started", "session", e.session, "cases", len(e.state.Titles()),
		"pending", len(e.pending.All()), "mappings", e.mappings.Len())
	return nil
}

// Load reads persisted state without contacting the backend or repairing
// anything. Start calls it; offline audits call it alone.
func (e *Engine) Load(ctx context.Context) error {
	loaders := []struct {
		name string
		load func(context.Context) error
	}{
		{"cases", e.state.Load},
		{"id mappings", e.mappings.Load},
		{"pending operations", e.pending.Load},
		{"conflict backups", e.backups.Load},
	}
	for _, l := range loaders {
		if err := l.load(ctx); err != nil {
			return fmt.Errorf("load %s: %w", l.name, err)
		}
	}
	return nil
}

// Close flushes pending title edits, cancels conflicts still waiting for a
// user (they resolve as keep_local) and waits for background work.
func (e *Engine) Close() error {
	e.titles.FlushAll()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()

	e.titles.Stop()
	for _, h := range e.resolver.Awaiting() {
		if err := h.Cancel(context.Background()); err != nil && !errors.Is(err, conflict.ErrAlreadyResolved) {
			e.logger.Warn("cancel conflict", "conflict", h.Conflict().ID, "error", err)
		}
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	if err := e.work.wait(waitCtx); err != nil {
		e.logger.Warn("background work still running at shutdown, cancelling")
	}
	cancelWait()
	e.cancel()
	e.work.wait(context.Background())

	e.evictor.Stop()
	if e.storeW != nil {
		e.storeW.Close()
	}
	if e.bus != nil {
		for _, id := range subs {
			e.bus.Unsubscribe(id)
		}
	}
	return nil
}

// WaitIdle blocks until no background operation is running.
func (e *Engine) WaitIdle(ctx context.Context) error {
	return e.work.wait(ctx)
}

// FlushTitles sends every debounced title edit now.
func (e *Engine) FlushTitles() int {
	return e.titles.FlushAll()
}

// SetActiveCase records the case the user is looking at. It is never
// evicted, and a confirmed case whose conversation was evicted is fetched
// again.
func (e *Engine) SetActiveCase(caseID string) {
	id := e.mappings.Resolve(caseID)
	e.mu.Lock()
	e.active = id
	e.mu.Unlock()
	if id != "" && !e.state.HasConversation(id) && isConfirmed(id) {
		e.goAsync(func(ctx context.Context) {
			if err := e.SyncCase(ctx, id); err != nil {
				e.logger.Debug("sync of active case failed", "case", id, "error", err)
			}
		})
	}
}

// ActiveCase returns the case the user is looking at.
func (e *Engine) ActiveCase() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Evict runs one eviction pass now.
func (e *Engine) Evict(ctx context.Context) eviction.Result {
	res := e.evictor.RunOnce(ctx)
	if len(res.Evicted) > 0 || len(res.Trimmed) > 0 {
		e.changed("")
	}
	return res
}

// Recover rebuilds local state from the backend and refreshes the case list.
func (e *Engine) Recover(ctx context.Context) recovery.Result {
	e.gate.Lock()
	defer e.gate.Unlock()
	res := e.recovery.RecoverFromBackend(ctx)
	e.afterRecovery(ctx)
	return res
}

// RecoveryInProgress reports whether a recovery is rebuilding local state.
// User changes are refused with ErrRecovering meanwhile.
func (e *Engine) RecoveryInProgress() bool {
	if e.recovery.IsRecoveryInProgress() {
		return true
	}
	if !e.gate.TryRLock() {
		return true
	}
	e.gate.RUnlock()
	return false
}

// admit lets a user change start. The caller runs done once the change
// has been applied locally.
func (e *Engine) admit() (done func(), err error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	if !e.gate.TryRLock() {
		return nil, ErrRecovering
	}
	return e.gate.RUnlock, nil
}

func (e *Engine) afterRecovery(ctx context.Context) {
	e.mu.Lock()
	e.remote = make(map[string]cases.Case)
	for id, cr := range e.creations {
		if _, ok := e.mappings.ConfirmedID(id); !ok && isClosed(cr.done) {
			delete(e.creations, id)
		}
	}
	e.mu.Unlock()
	if _, err := e.RefreshCases(ctx); err != nil {
		e.logger.Warn("refresh after recovery failed", "error", err)
	}
	e.changed("")
}

// goAsync runs fn in the background unless the engine is closing.
func (e *Engine) goAsync(fn func(ctx context.Context)) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.work.add()
	e.mu.Unlock()
	go func() {
		defer e.work.done()
		fn(e.ctx)
	}()
	return true
}

func (e *Engine) changed(caseID string) {
	if e.listener.OnChange != nil {
		e.listener.OnChange(caseID)
	}
}

func (e *Engine) onViolation(v integrity.Violation) {
	events.Emit(context.Background(), e.bus, events.IntegrityViolation, "", map[string]interface{}{
		"kind":        string(v.Kind),
		"context":     v.Context,
		"id":          v.ID,
		"counterpart": v.Counterpart,
	})
}

// tracker counts background operations and signals when none are left.
type tracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func (t *tracker) init() {
	t.idle = make(chan struct{})
	close(t.idle)
}

func (t *tracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.idle = make(chan struct{})
	}
	t.n++
}

func (t *tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
}

func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	ch := t.idle
	t.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
