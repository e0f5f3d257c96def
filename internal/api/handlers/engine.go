// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"io"

	"github.com/wingedpig/casesync/internal/backend"
	"github.com/wingedpig/casesync/internal/cases"
	"github.com/wingedpig/casesync/internal/conflict"
	"github.com/wingedpig/casesync/internal/eviction"
	"github.com/wingedpig/casesync/internal/integrity"
	"github.com/wingedpig/casesync/internal/pending"
	"github.com/wingedpig/casesync/internal/recovery"
)

// Engine is the part of the sync engine the HTTP handlers drive.
// *engine.Engine implements it.
type Engine interface {
	Cases() []cases.Case
	Case(caseID string) (cases.Case, bool)
	CreateCase(ctx context.Context, title string) (cases.Case, error)
	RenameCase(ctx context.Context, caseID, title string) error
	DeleteCase(ctx context.Context, caseID string) error
	RefreshCases(ctx context.Context) ([]cases.Case, error)
	PinCase(ctx context.Context, caseID string) error
	UnpinCase(ctx context.Context, caseID string) error
	IsPinned(caseID string) bool
	SetActiveCase(caseID string)
	ActiveCase() string

	Conversation(caseID string) []cases.ConversationItem
	SubmitMessage(ctx context.Context, caseID, text string) (string, error)
	SyncCase(ctx context.Context, caseID string) error
	UploadDocument(ctx context.Context, caseID, name string, content io.Reader) (backend.Document, error)

	Operations() []pending.Operation
	Operation(id string) (pending.Operation, bool)
	PendingFor(caseID string) []pending.Operation
	Retry(ctx context.Context, opID string) error
	Dismiss(ctx context.Context, opID string) error

	Conflicts() []*conflict.Handle
	ResolveConflict(ctx context.Context, conflictID string, uc conflict.UserChoice) error
	Backups(caseID string) []conflict.Backup

	Recover(ctx context.Context) recovery.Result
	RecoveryInProgress() bool
	Evict(ctx context.Context) eviction.Result
	CheckIntegrity() []integrity.Violation
}
