// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package store provides the local persisted key/value store.
//
// The store holds a handful of independent logical keys. Each key is owned by
// exactly one component, so no operation ever needs a multi-key transaction.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("key not found")

// Logical keys. Each is written by a single owner.
const (
	KeyConversations     = "conversations"      // cases.State
	KeyTitles            = "titles"             // cases.State
	KeyTitleSources      = "title_sources"      // cases.State
	KeyProvisionalCases  = "provisional_cases"  // cases.State
	KeyPinnedCases       = "pinned_cases"       // cases.State
	KeyPendingOperations = "pending_operations" // pending.Manager
	KeyIDMappings        = "id_mappings"        // idmap.Manager
	KeyLiveness          = "liveness"           // recovery.Manager
	KeyConflictBackups   = "conflict_backups"   // conflict.BackupStore
)

// AllKeys lists every logical key in a stable order.
var AllKeys = []string{
	KeyConversations,
	KeyTitles,
	KeyTitleSources,
	KeyProvisionalCases,
	KeyPinnedCases,
	KeyPendingOperations,
	KeyIDMappings,
	KeyLiveness,
	KeyConflictBackups,
}

// Store is a flat key/value store.
type Store interface {
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put replaces the value for key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys lists the keys that currently hold a value.
	Keys(ctx context.Context) ([]string, error)

	// Close releases resources.
	Close() error
}

// GetJSON decodes the value at key into v. It reports false, with a nil
// error, when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it at key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Config selects and configures a backend.
type Config struct {
	Backend string // "file", "badger", "sqlite" or "memory"
	Path    string
	Logger  *slog.Logger
}

// Open opens the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		if cfg.Path == "" {
			return nil, errors.New("store path is required for the file backend")
		}
		return NewFileStore(cfg.Path)
	case "badger":
		return OpenBadger(BadgerConfig{Path: cfg.Path, SyncWrites: true, Logger: cfg.Logger})
	case "sqlite":
		if cfg.Path == "" {
			return nil, errors.New("store path is required for the sqlite backend")
		}
		return OpenSQLite(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Wipe deletes every logical key. It simulates the host clearing local
// storage out from under a running client.
func Wipe(ctx context.Context, s Store) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}
