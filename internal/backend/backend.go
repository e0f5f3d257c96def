// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package backend defines the remote service the engine reconciles against,
// with an HTTP client and an in-memory fake.
package backend

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wingedpig/casesync/internal/cases"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one server-side message in a case's history.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SubmitResult is the server's reply to a submitted message: the stored user
// message and the assistant's answer.
type SubmitResult struct {
	CaseID string  `json:"case_id"`
	User   Message `json:"user"`
	Reply  Message `json:"reply"`
}

// Page is one page of a case listing.
type Page struct {
	Cases      []cases.Case `json:"cases"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

// Document is an uploaded file attached to a case.
type Document struct {
	ID         string    `json:"id"`
	CaseID     string    `json:"case_id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Backend is the remote service. Every call may fail; errors carry an
// HTTP-style status where one applies. All calls except SubmitMessage are
// safe to repeat.
type Backend interface {
	CreateCase(ctx context.Context, title string) (cases.Case, error)
	SubmitMessage(ctx context.Context, caseID, content string) (SubmitResult, error)
	FetchHistory(ctx context.Context, caseID string) ([]Message, error)
	RenameCase(ctx context.Context, caseID, title string) (cases.Case, error)
	DeleteCase(ctx context.Context, caseID string) error
	ListCases(ctx context.Context, cursor string) (Page, error)
	UploadDocument(ctx context.Context, caseID, name string, content io.Reader) (Document, error)
}

// maxPages bounds ListAll against a server that never stops paging.
const maxPages = 1000

// ListAll follows the listing cursor until the last page.
func ListAll(ctx context.Context, b Backend) ([]cases.Case, error) {
	var all []cases.Case
	cursor := ""
	for i := 0; i < maxPages; i++ {
		page, err := b.ListCases(ctx, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Cases...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
	return nil, fmt.Errorf("case listing exceeded %d pages", maxPages)
}

// ToItem converts a server message into a confirmed conversation slot.
func ToItem(m Message) cases.ConversationItem {
	it := cases.ConversationItem{ID: m.ID, Timestamp: m.CreatedAt}
	if m.Role == RoleUser {
		it.Question = cases.Str(m.Content)
	} else {
		it.Response = cases.Str(m.Content)
	}
	return it
}

// ToItems converts a history into conversation slots, preserving order.
func ToItems(msgs []Message) []cases.ConversationItem {
	out := make([]cases.ConversationItem, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ToItem(m))
	}
	return out
}
