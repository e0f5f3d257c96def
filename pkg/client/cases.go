// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
)

// CaseClient provides access to cases and their conversations.
//
// Access this client through [Client.Cases]:
//
//	cases, err := client.Cases.List(ctx)
type CaseClient struct {
	c *Client
}

func casePath(id string, rest ...string) string {
	p := "/api/v1/cases/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

// List returns every case the server knows, provisional ones included.
func (s *CaseClient) List(ctx context.Context) ([]Case, error) {
	data, err := s.c.get(ctx, "/api/v1/cases")
	if err != nil {
		return nil, err
	}
	return decode[[]Case](data, "cases")
}

// Refresh pulls the case list from the backend and returns the result.
func (s *CaseClient) Refresh(ctx context.Context) ([]Case, error) {
	data, err := s.c.post(ctx, "/api/v1/cases/refresh")
	if err != nil {
		return nil, err
	}
	return decode[[]Case](data, "cases")
}

// Get returns one case. Provisional and confirmed IDs both work.
func (s *CaseClient) Get(ctx context.Context, id string) (*Case, error) {
	data, err := s.c.get(ctx, casePath(id))
	if err != nil {
		return nil, err
	}
	return decodePtr[Case](data, "case")
}

// Create makes a new case. The returned case is provisional; the backend
// call completes in the background.
func (s *CaseClient) Create(ctx context.Context, title string) (*Case, error) {
	data, err := s.c.postJSON(ctx, "/api/v1/cases", map[string]string{"title": title})
	if err != nil {
		return nil, err
	}
	return decodePtr[Case](data, "case")
}

// Rename changes a case title.
func (s *CaseClient) Rename(ctx context.Context, id, title string) (*Case, error) {
	data, err := s.c.patchJSON(ctx, casePath(id), map[string]string{"title": title})
	if err != nil {
		return nil, err
	}
	return decodePtr[Case](data, "case")
}

// Delete removes a case locally and on the backend.
func (s *CaseClient) Delete(ctx context.Context, id string) error {
	_, err := s.c.delete(ctx, casePath(id))
	return err
}

// Pin protects a case from eviction.
func (s *CaseClient) Pin(ctx context.Context, id string) error {
	_, err := s.c.post(ctx, casePath(id, "pin"))
	return err
}

// Unpin removes eviction protection from a case.
func (s *CaseClient) Unpin(ctx context.Context, id string) error {
	_, err := s.c.delete(ctx, casePath(id, "pin"))
	return err
}

// Activate marks the case the user is looking at.
func (s *CaseClient) Activate(ctx context.Context, id string) error {
	_, err := s.c.post(ctx, casePath(id, "activate"))
	return err
}

// Conversation returns the local conversation of a case.
func (s *CaseClient) Conversation(ctx context.Context, id string) ([]ConversationItem, error) {
	data, err := s.c.get(ctx, casePath(id, "conversation"))
	if err != nil {
		return nil, err
	}
	return decode[[]ConversationItem](data, "conversation")
}

// Sync fetches the conversation from the backend, reconciles it with local
// state, and returns the result.
func (s *CaseClient) Sync(ctx context.Context, id string) ([]ConversationItem, error) {
	data, err := s.c.post(ctx, casePath(id, "sync"))
	if err != nil {
		return nil, err
	}
	return decode[[]ConversationItem](data, "conversation")
}

// Submit sends a message. It returns once the message is shown locally;
// track delivery through the returned operation ID.
func (s *CaseClient) Submit(ctx context.Context, id, text string) (*Submission, error) {
	data, err := s.c.postJSON(ctx, casePath(id, "messages"), map[string]string{"text": text})
	if err != nil {
		return nil, err
	}
	return decodePtr[Submission](data, "submission")
}

// Upload attaches a document to a case.
func (s *CaseClient) Upload(ctx context.Context, id, name string, content io.Reader) (*Document, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	data, err := s.c.doContent(ctx, "POST", casePath(id, "documents"), &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	return decodePtr[Document](data, "document")
}

// Pending returns the unfinished operations on a case.
func (s *CaseClient) Pending(ctx context.Context, id string) ([]Operation, error) {
	data, err := s.c.get(ctx, casePath(id, "pending"))
	if err != nil {
		return nil, err
	}
	return decode[[]Operation](data, "operations")
}

// Backups returns the conflict backups kept for a case, newest first.
func (s *CaseClient) Backups(ctx context.Context, id string) ([]Backup, error) {
	data, err := s.c.get(ctx, casePath(id, "backups"))
	if err != nil {
		return nil, err
	}
	return decode[[]Backup](data, "backups")
}

func decode[T any](data json.RawMessage, what string) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to parse %s: %w", what, err)
	}
	return v, nil
}

func decodePtr[T any](data json.RawMessage, what string) (*T, error) {
	v, err := decode[T](data, what)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
