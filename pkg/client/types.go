// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"encoding/json"
	"time"
)

// Case is a support case as the casesync server reports it.
//
// A case created through the API starts provisional: its ID carries the
// "opt_" prefix until the backend confirms it, after which the server
// reports the backend-assigned ID. Either ID can be used in requests.
type Case struct {
	// ID is the confirmed backend ID, or the provisional ID while the
	// create is in flight.
	ID string `json:"id"`

	// Title is the case title, including unsynced local edits.
	Title string `json:"title"`

	// Status is the backend case status (e.g., "open").
	Status string `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Provisional is true until the backend has confirmed the case.
	Provisional bool `json:"provisional"`

	// Pinned cases are never evicted from local storage.
	Pinned bool `json:"pinned"`

	// Active marks the case the user is looking at.
	Active bool `json:"active"`
}

// ConversationItem is one entry in a case conversation. Exactly one of
// Question or Response is set.
type ConversationItem struct {
	ID        string    `json:"id"`
	Question  *string   `json:"question,omitempty"`
	Response  *string   `json:"response,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Optimistic items have not been confirmed by the backend yet.
	Optimistic bool `json:"optimistic"`

	// Loading marks a reply slot still waiting for the backend.
	Loading bool `json:"loading"`

	// Failed marks a reply slot whose submission failed.
	Failed bool `json:"failed"`
}

// Text returns the question or response text.
func (i ConversationItem) Text() string {
	if i.Question != nil {
		return *i.Question
	}
	if i.Response != nil {
		return *i.Response
	}
	return ""
}

// Submission is returned when a message is accepted for delivery.
type Submission struct {
	OperationID string `json:"operation_id"`
	CaseID      string `json:"case_id"`
}

// Document is an uploaded case attachment.
type Document struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"case_id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Operation status constants.
const (
	OperationPending   = "pending"
	OperationCompleted = "completed"
	OperationFailed    = "failed"
)

// Operation is a tracked write that has not been confirmed, or has failed.
type Operation struct {
	ID string `json:"id"`

	// Type is one of "create_case", "submit_query" or "update_title".
	Type string `json:"type"`

	// Status is one of the Operation* constants.
	Status string `json:"status"`

	CaseID    string          `json:"case_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`

	// Error describes a failed operation for display. It is only present
	// from API version 2026-10-15 on.
	Error *UserError `json:"error,omitempty"`
}

// UserError is a failure classified for display.
type UserError struct {
	// Kind is the failure class: "network", "auth", "validation",
	// "not_found", "conflict", "architecture" or "internal".
	Kind    string `json:"kind"`
	Op      string `json:"op"`
	CaseID  string `json:"case_id,omitempty"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

// Snapshot is one side of a conflict.
type Snapshot struct {
	CaseID        string             `json:"case_id"`
	Title         string             `json:"title"`
	TitleEditedAt time.Time          `json:"title_edited_at,omitempty"`
	Status        string             `json:"status,omitempty"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Items         []ConversationItem `json:"items,omitempty"`
	PendingOps    []string           `json:"pending_ops,omitempty"`
	Origin        string             `json:"origin,omitempty"`
}

// MergeResult is the server's proposed merge for a conflict.
type MergeResult struct {
	Merged     Snapshot        `json:"merged"`
	Confidence float64         `json:"confidence"`
	Decisions  []FieldDecision `json:"decisions"`
	Unresolved []string        `json:"unresolved,omitempty"`
}

// FieldDecision records how one field was merged.
type FieldDecision struct {
	Field string `json:"field"`

	// Winner is "local" or "remote".
	Winner string `json:"winner"`
	Reason string `json:"reason"`
}

// Backup is a local snapshot saved before a resolution replaced it.
type Backup struct {
	Name      string    `json:"name"`
	CaseID    string    `json:"case_id"`
	Snapshot  Snapshot  `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}

// Conflict is a divergence between local and remote state that waits for
// a decision.
type Conflict struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Severity     string       `json:"severity"`
	Similarity   float64      `json:"similarity"`
	OperationIDs []string     `json:"operation_ids,omitempty"`
	Local        Snapshot     `json:"local"`
	Remote       Snapshot     `json:"remote"`
	DetectedAt   time.Time    `json:"detected_at"`
	State        string       `json:"state"`
	Merged       *MergeResult `json:"merged,omitempty"`
	Choices      []string     `json:"choices"`
	Backups      []Backup     `json:"backups,omitempty"`
}

// Resolution choices.
const (
	ChoiceKeepLocal     = "keep_local"
	ChoiceAcceptRemote  = "accept_remote"
	ChoiceAcceptMerged  = "accept_merged"
	ChoiceRestoreBackup = "restore_backup"
	ChoiceManualEdit    = "manual_edit"
)

// Resolution is the answer to an escalated conflict.
type Resolution struct {
	Choice string `json:"choice"`

	// Backup names the backup for ChoiceRestoreBackup.
	Backup string `json:"backup,omitempty"`

	// Snapshot is the edited state for ChoiceManualEdit.
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// RecoveryResult reports a rebuild of local state from the backend.
type RecoveryResult struct {
	Success                bool          `json:"success"`
	RecoveredCases         int           `json:"recovered_cases"`
	RecoveredConversations int           `json:"recovered_conversations"`
	DroppedOperations      int           `json:"dropped_operations"`
	Errors                 []string      `json:"errors,omitempty"`
	Duration               time.Duration `json:"duration"`
}

// EvictionResult reports one eviction pass.
type EvictionResult struct {
	Evicted   []string       `json:"evicted,omitempty"`
	Trimmed   map[string]int `json:"trimmed,omitempty"`
	Protected []string       `json:"protected,omitempty"`
	Retained  int            `json:"retained"`
}

// Violation is an integrity problem found in local storage.
type Violation struct {
	Kind        string `json:"kind"`
	Context     string `json:"context"`
	ID          string `json:"id"`
	Counterpart string `json:"counterpart,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// IntegrityReport is the result of an integrity audit.
type IntegrityReport struct {
	OK         bool        `json:"ok"`
	Violations []Violation `json:"violations"`
}

// Event is an entry in the server's event log.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Session   string                 `json:"session"`
	CaseID    string                 `json:"case_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}
