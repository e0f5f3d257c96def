// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package cases holds the case and conversation model and the local state
// that owns the conversation, title, title-source, provisional-case and
// pinned-case store keys.
package cases

import (
	"time"

	"github.com/wingedpig/casesync/internal/ident"
)

// Case statuses reported by the backend. Provisional cases are always open.
const (
	StatusOpen     = "open"
	StatusResolved = "resolved"
	StatusArchived = "archived"
)

// Case is a server-owned investigation thread, or its provisional stand-in.
type Case struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityID returns the case id.
func (c Case) EntityID() string { return c.ID }

// SortTime is UpdatedAt, falling back to CreatedAt.
func (c Case) SortTime() time.Time {
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

// IsProvisional reports whether the case has not been confirmed yet.
func (c Case) IsProvisional() bool { return ident.IsProvisional(c.ID) }

// ConversationItem is one slot of a conversation. A user slot carries a
// Question; an assistant slot carries a Response once it has arrived.
type ConversationItem struct {
	ID         string    `json:"id"`
	Question   *string   `json:"question,omitempty"`
	Response   *string   `json:"response,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Optimistic bool      `json:"optimistic"`
	Loading    bool      `json:"loading"`
	Failed     bool      `json:"failed"`
}

// EntityID returns the item id.
func (i ConversationItem) EntityID() string { return i.ID }

// SortTime returns the item timestamp.
func (i ConversationItem) SortTime() time.Time { return i.Timestamp }

// IsOptimistic reports the item's optimistic flag. It must agree with the
// shape of ID.
func (i ConversationItem) IsOptimistic() bool { return i.Optimistic }

// Text returns whichever of Question or Response is set.
func (i ConversationItem) Text() string {
	switch {
	case i.Question != nil:
		return *i.Question
	case i.Response != nil:
		return *i.Response
	default:
		return ""
	}
}

// Role is "user" for question slots and "assistant" otherwise.
func (i ConversationItem) Role() string {
	if i.Question != nil {
		return "user"
	}
	return "assistant"
}

// TitleSource records who last set a title.
type TitleSource string

const (
	TitleFromUser   TitleSource = "user"
	TitleFromServer TitleSource = "server"
)

// Str returns a pointer to s.
func Str(s string) *string { return &s }
