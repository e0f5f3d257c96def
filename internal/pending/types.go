// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pending tracks optimistic mutations until the backend confirms
// or rejects them.
//
// An Operation is plain data: a type tag plus a JSON payload. The retry and
// rollback behavior for each type lives in a Handler registered with the
// Manager, so an operation reloaded after a restart is as retryable as one
// created in this process.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Type tags an operation.
type Type string

const (
	TypeCreateCase  Type = "create_case"
	TypeSubmitQuery Type = "submit_query"
	TypeUpdateTitle Type = "update_title"
)

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Operation is one tracked optimistic mutation.
type Operation struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Status    Status          `json:"status"`
	CaseID    string          `json:"case_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// New builds a pending operation of type t for caseID with payload encoded
// as JSON.
func New(t Type, caseID string, payload any) (Operation, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Operation{}, fmt.Errorf("encode %s payload: %w", t, err)
		}
		raw = data
	}
	now := time.Now()
	return Operation{
		ID:        ulid.Make().String(),
		Type:      t,
		Status:    StatusPending,
		CaseID:    caseID,
		Payload:   raw,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Decode unmarshals the payload into v.
func (op Operation) Decode(v any) error {
	if len(op.Payload) == 0 {
		return fmt.Errorf("operation %s has no payload", op.ID)
	}
	if err := json.Unmarshal(op.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", op.Type, err)
	}
	return nil
}

// CreateCasePayload is the payload of a create_case operation.
type CreateCasePayload struct {
	ProvisionalID string `json:"provisional_id"`
	Title         string `json:"title"`
}

// SubmitQueryPayload is the payload of a submit_query operation.
type SubmitQueryPayload struct {
	Question     string `json:"question"`
	UserItemID   string `json:"user_item_id"`
	ReplyItemID  string `json:"reply_item_id"`
	TargetCaseID string `json:"target_case_id,omitempty"`
}

// UpdateTitlePayload is the payload of an update_title operation.
type UpdateTitlePayload struct {
	Title string `json:"title"`
}

// Handler reconstructs behavior for one operation type. Either function
// may be nil: a nil Rollback is a no-op and a nil Retry makes the type
// non-retryable.
type Handler struct {
	Retry    func(ctx context.Context, op Operation) error
	Rollback func(ctx context.Context, op Operation) error
}
