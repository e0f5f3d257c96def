// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher notices changes made to the file store by other processes
// and coalesces bursty calls.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/wingedpig/casesync/internal/events"
	"github.com/wingedpig/casesync/internal/store"
)

// StoreWatcher watches a FileStore directory and publishes store.changed
// when another process rewrites a key and store.removed when a key file
// disappears. Writes made through the watched store are ignored.
type StoreWatcher struct {
	mu        sync.Mutex
	store     *store.FileStore
	bus       events.Bus
	logger    *slog.Logger
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	closed    bool
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewStoreWatcher starts watching fs. Events for one key are coalesced over
// the debounce period.
func NewStoreWatcher(fs *store.FileStore, bus events.Bus, debounce time.Duration, logger *slog.Logger) (*StoreWatcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(fs.Dir()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", fs.Dir(), err)
	}

	w := &StoreWatcher{
		store:     fs,
		bus:       bus,
		logger:    logger,
		watcher:   fsw,
		debouncer: NewDebouncer(debounce, 0),
		closeCh:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.processEvents()
	return w, nil
}

// Close stops the watcher and drops pending notifications.
func (w *StoreWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *StoreWatcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("store watcher error", "error", err)
		}
	}
}

func (w *StoreWatcher) handleEvent(ev fsnotify.Event) {
	// Chmod carries no content change.
	if ev.Op == fsnotify.Chmod {
		return
	}
	key, ok := w.store.KeyForPath(ev.Name)
	if !ok {
		return
	}
	w.debouncer.Debounce(key, func() { w.settle(key) })
}

// settle runs once a key's burst of events is over and decides what, if
// anything, happened to it.
func (w *StoreWatcher) settle(key string) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	if _, err := os.Stat(w.store.PathFor(key)); os.IsNotExist(err) {
		w.logger.Info("store key removed externally", "key", key)
		events.Emit(context.Background(), w.bus, events.StoreRemoved, "", map[string]interface{}{"key": key})
		return
	}
	if w.store.IsOwnWrite(key) {
		return
	}
	w.logger.Info("store key changed externally", "key", key)
	events.Emit(context.Background(), w.bus, events.StoreChanged, "", map[string]interface{}{"key": key})
}
