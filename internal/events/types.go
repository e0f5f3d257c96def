// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the in-process event bus the sync engine uses to
// tell the UI layer (and its own components) what changed.
package events

import (
	"context"
	"time"
)

// Event is an immutable record of something the engine did.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Session   string                 `json:"session"`
	CaseID    string                 `json:"case_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Handler processes a delivered event.
type Handler func(ctx context.Context, event Event) error

// SubscriptionID identifies a subscription.
type SubscriptionID string

// Filter selects events from history.
type Filter struct {
	Types  []string // patterns, see Match
	CaseID string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Bus is the pub/sub interface consumed by the engine and the API layer.
type Bus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(pattern string, handler Handler) (SubscriptionID, error)
	SubscribeAsync(pattern string, handler Handler, bufferSize int) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	History(filter Filter) ([]Event, error)
	Close() error
}

// Event types.
const (
	CaseCreated     = "case.created"     // provisional case fabricated
	CaseReconciled  = "case.reconciled"  // provisional id mapped to confirmed id
	CaseRenamed     = "case.renamed"     // local title changed
	CaseTitleSynced = "case.title_synced"
	CaseDeleted     = "case.deleted"
	CasesRefreshed  = "cases.refreshed"

	MessageSubmitted = "message.submitted"
	MessageConfirmed = "message.confirmed"
	MessageFailed    = "message.failed"

	OperationAdded      = "operation.added"
	OperationCompleted  = "operation.completed"
	OperationFailed     = "operation.failed"
	OperationRemoved    = "operation.removed"
	OperationRolledBack = "operation.rolled_back"

	ConflictDetected = "conflict.detected"
	ConflictAwaiting = "conflict.awaiting"
	ConflictResolved = "conflict.resolved"

	IntegrityViolation = "integrity.violation"

	StoreChanged      = "store.changed" // a key was rewritten by another context
	StoreRemoved      = "store.removed" // a key vanished from under us
	RecoveryStarted   = "recovery.started"
	RecoveryCompleted = "recovery.completed"
	RecoveryFailed    = "recovery.failed"

	EvictionCompleted = "eviction.completed"

	AuthRequired = "auth.required"
)
