// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrBusClosed is returned when operating on a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// ErrSubscriptionNotFound is returned when unsubscribing with an unknown ID.
var ErrSubscriptionNotFound = errors.New("subscription not found")

// MemoryBusConfig configures the memory event bus.
type MemoryBusConfig struct {
	Session string // stamped on events that do not carry one
	History HistoryConfig
	Logger  *slog.Logger
}

// MemoryBus is an in-memory Bus.
type MemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[SubscriptionID]*subscription
	history       *History
	session       string
	logger        *slog.Logger
	closed        atomic.Bool
	wg            sync.WaitGroup
	stopPruner    chan struct{}
}

type subscription struct {
	id      SubscriptionID
	pattern string
	handler Handler
	async   bool
	ch      chan Event
	stopCh  chan struct{}
}

// NewMemoryBus creates a bus and starts its history pruner.
func NewMemoryBus(cfg MemoryBusConfig) *MemoryBus {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	bus := &MemoryBus{
		subscriptions: make(map[SubscriptionID]*subscription),
		history:       NewHistory(cfg.History),
		session:       cfg.Session,
		logger:        logger,
		stopPruner:    make(chan struct{}),
	}

	interval := bus.history.maxAge / 10
	if interval < time.Minute {
		interval = time.Minute
	}
	bus.wg.Add(1)
	go func() {
		defer bus.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-bus.stopPruner:
				return
			case <-ticker.C:
				bus.history.Prune()
			}
		}
	}()
	return bus
}

// Publish records the event and delivers it to matching subscribers.
// Synchronous handlers run before Publish returns.
func (bus *MemoryBus) Publish(ctx context.Context, event Event) error {
	if bus.closed.Load() {
		return ErrBusClosed
	}
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Session == "" {
		event.Session = bus.session
	}
	bus.history.Add(event)

	bus.mu.RLock()
	subs := make([]*subscription, 0, len(bus.subscriptions))
	for _, sub := range bus.subscriptions {
		subs = append(subs, sub)
	}
	bus.mu.RUnlock()

	for _, sub := range subs {
		if !Match(event.Type, sub.pattern) {
			continue
		}
		if sub.async {
			select {
			case sub.ch <- event:
			default:
				bus.logger.Warn("event dropped, subscriber buffer full", "type", event.Type, "subscription", sub.id)
			}
			continue
		}
		bus.deliver(ctx, sub.handler, event)
	}
	return nil
}

func (bus *MemoryBus) deliver(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			bus.logger.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	if err := handler(ctx, event); err != nil {
		bus.logger.Debug("event handler error", "type", event.Type, "error", err)
	}
}

// Subscribe registers a synchronous handler.
func (bus *MemoryBus) Subscribe(pattern string, handler Handler) (SubscriptionID, error) {
	return bus.subscribe(pattern, handler, false, 0)
}

// SubscribeAsync registers a handler fed through a buffered channel. Events
// are dropped when the buffer is full.
func (bus *MemoryBus) SubscribeAsync(pattern string, handler Handler, bufferSize int) (SubscriptionID, error) {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return bus.subscribe(pattern, handler, true, bufferSize)
}

func (bus *MemoryBus) subscribe(pattern string, handler Handler, async bool, bufferSize int) (SubscriptionID, error) {
	if bus.closed.Load() {
		return "", ErrBusClosed
	}
	if err := validatePattern(pattern); err != nil {
		return "", err
	}
	sub := &subscription{
		id:      SubscriptionID(ulid.Make().String()),
		pattern: pattern,
		handler: handler,
		async:   async,
	}
	if async {
		sub.ch = make(chan Event, bufferSize)
		sub.stopCh = make(chan struct{})
		bus.wg.Add(1)
		go func() {
			defer bus.wg.Done()
			for {
				select {
				case <-sub.stopCh:
					return
				case event := <-sub.ch:
					bus.deliver(context.Background(), handler, event)
				}
			}
		}()
	}

	bus.mu.Lock()
	bus.subscriptions[sub.id] = sub
	bus.mu.Unlock()
	return sub.id, nil
}

// Unsubscribe removes a subscription.
func (bus *MemoryBus) Unsubscribe(id SubscriptionID) error {
	bus.mu.Lock()
	sub, ok := bus.subscriptions[id]
	if !ok {
		bus.mu.Unlock()
		return ErrSubscriptionNotFound
	}
	delete(bus.subscriptions, id)
	bus.mu.Unlock()

	if sub.async {
		close(sub.stopCh)
	}
	return nil
}

// History returns retained events matching filter.
func (bus *MemoryBus) History(filter Filter) ([]Event, error) {
	return bus.history.Query(filter), nil
}

// Close stops async subscribers and the pruner.
func (bus *MemoryBus) Close() error {
	if bus.closed.Swap(true) {
		return nil
	}
	close(bus.stopPruner)

	bus.mu.Lock()
	for _, sub := range bus.subscriptions {
		if sub.async {
			close(sub.stopCh)
		}
	}
	bus.subscriptions = make(map[SubscriptionID]*subscription)
	bus.mu.Unlock()

	bus.wg.Wait()
	return nil
}

// Emit publishes through bus when it is non-nil. Components use it so a nil
// bus means "no observers".
func Emit(ctx context.Context, bus Bus, eventType, caseID string, payload map[string]interface{}) {
	if bus == nil {
		return
	}
	_ = bus.Publish(ctx, Event{Type: eventType, CaseID: caseID, Payload: payload})
}
