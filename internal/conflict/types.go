// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package conflict detects divergence between the local and remote view of
// a case and drives it to a resolution.
//
// A conflict moves from detected to either auto_resolved, when a merge
// strategy is confident enough, or awaiting_user. An awaiting conflict is
// represented by a Handle that stays open until the orchestrator calls
// Choose or Cancel on it.
package conflict

import (
	"errors"
	"time"

	"github.com/wingedpig/casesync/internal/cases"
)

// Type classifies a conflict.
type Type string

const (
	TypeIDReconciliation     Type = "id_reconciliation"
	TypeConcurrentOperations Type = "concurrent_operations"
	TypeCrossTab             Type = "cross_tab"
	TypeDataSync             Type = "data_sync"
)

// Severity ranks a conflict for display.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// State is the lifecycle state of a conflict.
type State string

const (
	StateDetected     State = "detected"
	StateAutoResolved State = "auto_resolved"
	StateAwaitingUser State = "awaiting_user"
	StateResolved     State = "resolved"
)

// Choice is a user decision for an escalated conflict.
type Choice string

const (
	ChoiceKeepLocal     Choice = "keep_local"
	ChoiceAcceptRemote  Choice = "accept_remote"
	ChoiceAcceptMerged  Choice = "accept_merged"
	ChoiceRestoreBackup Choice = "restore_backup"
	ChoiceManualEdit    Choice = "manual_edit"
)

// Choices lists every decision offered for an escalated conflict.
var Choices = []Choice{ChoiceKeepLocal, ChoiceAcceptRemote, ChoiceAcceptMerged, ChoiceRestoreBackup, ChoiceManualEdit}

var (
	ErrAlreadyResolved = errors.New("conflict already resolved")
	ErrNoMergedResult  = errors.New("no merged result available")
	ErrInvalidChoice   = errors.New("invalid conflict choice")
	ErrBackupNotFound  = errors.New("backup not found")
)

// Snapshot is one side's view of a case.
type Snapshot struct {
	CaseID        string                   `json:"case_id"`
	Title         string                   `json:"title"`
	TitleEditedAt time.Time                `json:"title_edited_at,omitempty"`
	Status        string                   `json:"status,omitempty"`
	UpdatedAt     time.Time                `json:"updated_at"`
	Items         []cases.ConversationItem `json:"items,omitempty"`
	PendingOps    []string                 `json:"pending_ops,omitempty"`
	Origin        string                   `json:"origin,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Items != nil {
		out.Items = make([]cases.ConversationItem, len(s.Items))
		copy(out.Items, s.Items)
	}
	if s.PendingOps != nil {
		out.PendingOps = append([]string(nil), s.PendingOps...)
	}
	return out
}

// Conflict is a detected divergence.
type Conflict struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	Severity     Severity  `json:"severity"`
	Similarity   float64   `json:"similarity"`
	OperationIDs []string  `json:"operation_ids,omitempty"`
	Local        Snapshot  `json:"local"`
	Remote       Snapshot  `json:"remote"`
	DetectedAt   time.Time `json:"detected_at"`
}

func (c *Conflict) clone() *Conflict {
	out := *c
	out.OperationIDs = append([]string(nil), c.OperationIDs...)
	out.Local = c.Local.clone()
	out.Remote = c.Remote.clone()
	return &out
}

// Side names the winner of a field decision.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// FieldDecision records which side a merge took for one field.
type FieldDecision struct {
	Field  string `json:"field"`
	Winner Side   `json:"winner"`
	Reason string `json:"reason"`
}

// MergeResult is a strategy's proposal.
type MergeResult struct {
	Merged     Snapshot        `json:"merged"`
	Confidence float64         `json:"confidence"`
	Decisions  []FieldDecision `json:"decisions"`
	Unresolved []string        `json:"unresolved,omitempty"`
}

// UserChoice is the orchestrator's answer for an escalated conflict.
type UserChoice struct {
	Choice Choice    `json:"choice"`
	Backup string    `json:"backup,omitempty"`   // restore_backup
	Edited *Snapshot `json:"snapshot,omitempty"` // manual_edit
}

// Resolution is the final outcome of a conflict. Snapshot is the state the
// caller should apply.
type Resolution struct {
	ConflictID string          `json:"conflict_id"`
	CaseID     string          `json:"case_id"`
	Choice     Choice          `json:"choice"`
	Snapshot   Snapshot        `json:"snapshot"`
	Auto       bool            `json:"auto"`
	Cancelled  bool            `json:"cancelled"`
	BackupName string          `json:"backup_name,omitempty"`
	Decisions  []FieldDecision `json:"decisions,omitempty"`
	ResolvedAt time.Time       `json:"resolved_at"`
}
