// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/wingedpig/casesync/internal/apperr"
	"github.com/wingedpig/casesync/internal/backend"
	"github.com/wingedpig/casesync/internal/cases"
	"github.com/wingedpig/casesync/internal/conflict"
	"github.com/wingedpig/casesync/internal/events"
	"github.com/wingedpig/casesync/internal/ident"
	"github.com/wingedpig/casesync/internal/integrity"
	"github.com/wingedpig/casesync/internal/pending"
)

func isConfirmed(id string) bool { return ident.IsConfirmed(id) }

// CreateCase fabricates a provisional case, shows it immediately and asks
// the backend for the real one in the background.
func (e *Engine) CreateCase(ctx context.Context, title string) (cases.Case, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = defaultCaseTitle
	}
	done, err := e.admit()
	if err != nil {
		return cases.Case{}, err
	}
	defer done()

	now := time.Now()
	c := cases.Case{
		ID:        ident.Generate(ident.KindCase),
		Title:     title,
		Status:    cases.StatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.state.AddProvisionalCase(ctx, c); err != nil {
		return cases.Case{}, err
	}
	op, err := pending.New(pending.TypeCreateCase, c.ID, pending.CreateCasePayload{ProvisionalID: c.ID, Title: title})
	if err != nil {
		return cases.Case{}, err
	}
	if err := e.pending.Add(ctx, op); err != nil {
		return cases.Case{}, err
	}

	e.mu.Lock()
	e.creations[c.ID] = &creation{done: make(chan struct{})}
	e.titleEdits[c.ID] = now
	e.mu.Unlock()

	e.logger.Info("case created", "case", c.ID, "operation", op.ID)
	events.Emit(ctx, e.bus, events.CaseCreated, c.ID, map[string]interface{}{
		"title":        title,
		"operation_id": op.ID,
	})
	e.changed("")

	e.goAsync(func(ctx context.Context) {
		if err := e.performCreate(ctx, c.ID); err != nil {
			e.finishCreation(c.ID, "", err)
			e.fail(ctx, op.ID, err)
			return
		}
		e.complete(ctx, op.ID)
	})
	return c, nil
}

// performCreate sends a provisional case to the backend and reconciles the
// reply. It is shared by the first attempt and by retries.
func (e *Engine) performCreate(ctx context.Context, id string) error {
	if c, ok := e.mappings.ConfirmedID(id); ok {
		e.finishCreation(id, c, nil)
		return nil
	}
	e.mu.Lock()
	deleted := e.deleted[id]
	delete(e.deleted, id)
	e.mu.Unlock()
	if deleted {
		e.finishCreation(id, "", ErrCaseDeleted)
		return nil
	}
	title, _, ok := e.state.Title(id)
	if !ok {
		e.finishCreation(id, "", ErrCaseDeleted)
		return nil
	}

	sentAt := time.Now()
	remote, err := e.backend.CreateCase(ctx, title)
	if err != nil {
		return err
	}
	if !ident.IsConfirmed(remote.ID) {
		return apperr.Architecture("engine.CreateCase", "backend returned non-confirmed id %q", remote.ID)
	}
	return e.reconcile(ctx, id, remote, sentAt)
}

// reconcile moves everything held under a provisional id to the id the
// backend assigned and runs id_reconciliation detection on the title.
func (e *Engine) reconcile(ctx context.Context, id string, remote cases.Case, sentAt time.Time) error {
	e.mu.Lock()
	deleted := e.deleted[id]
	if deleted {
		delete(e.deleted, id)
	}
	e.mu.Unlock()
	if deleted {
		// The user deleted the case while it was being created.
		if err := e.backend.DeleteCase(ctx, remote.ID); err != nil && !apperr.Is(err, apperr.KindNotFound) {
			e.logger.Warn("delete server copy of deleted case", "case", remote.ID, "error", err)
		}
		e.finishCreation(id, "", ErrCaseDeleted)
		return nil
	}

	localTitle, _, _ := e.state.Title(id)
	if err := e.mappings.AddMapping(ctx, id, remote.ID); err != nil {
		return err
	}
	if err := e.state.Rekey(ctx, id, remote.ID); err != nil {
		return err
	}
	if err := e.pending.Rebind(ctx, id, remote.ID); err != nil {
		return err
	}

	e.mu.Lock()
	if e.active == id {
		e.active = remote.ID
	}
	if e.submitting[id] {
		delete(e.submitting, id)
		e.submitting[remote.ID] = true
	}
	edited, hasEdit := e.titleEdits[id]
	delete(e.titleEdits, id)
	if hasEdit {
		e.titleEdits[remote.ID] = edited
	}
	e.remote[remote.ID] = remote
	e.mu.Unlock()

	e.logger.Info("case reconciled", "provisional", id, "confirmed", remote.ID)
	local := conflict.Snapshot{CaseID: id, Title: localTitle, Status: cases.StatusOpen, UpdatedAt: sentAt}
	if hasEdit && edited.After(sentAt) {
		local.TitleEditedAt = edited
	}
	server := conflict.Snapshot{CaseID: remote.ID, Title: remote.Title, Status: remote.Status, UpdatedAt: sentAt}
	if c := e.resolver.Detect(local, server); c != nil {
		e.handleConflict(ctx, c)
	} else if err := e.state.MarkTitleSynced(ctx, remote.ID, remote.Title); err != nil {
		e.logger.Warn("mark title synced", "case", remote.ID, "error", err)
	}
	// Edits made while the case was provisional could not be sent yet.
	if _, src, ok := e.state.Title(remote.ID); ok && src == cases.TitleFromUser {
		e.titles.Debounce(remote.ID, func() { e.syncTitle(remote.ID) })
	}

	events.Emit(ctx, e.bus, events.CaseReconciled, remote.ID, map[string]interface{}{
		"provisional_id": id,
		"confirmed_id":   remote.ID,
	})
	e.finishCreation(id, remote.ID, nil)
	e.changed("")
	return nil
}

func (e *Engine) beginCreation(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cr := e.creations[id]; cr == nil || isClosed(cr.done) {
		e.creations[id] = &creation{done: make(chan struct{})}
	}
}

func (e *Engine) finishCreation(id, confirmed string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cr := e.creations[id]
	if cr == nil || isClosed(cr.done) {
		return
	}
	cr.confirmed = confirmed
	cr.err = err
	close(cr.done)
	if err == nil {
		delete(e.creations, id)
	}
}

// awaitConfirmed returns the confirmed id for caseID, waiting for an
// in-flight creation if there is one.
func (e *Engine) awaitConfirmed(ctx context.Context, caseID string) (string, error) {
	if ident.IsConfirmed(caseID) {
		return caseID, nil
	}
	if c, ok := e.mappings.ConfirmedID(caseID); ok {
		return c, nil
	}
	e.mu.Lock()
	cr := e.creations[caseID]
	deleted := e.deleted[caseID]
	e.mu.Unlock()
	if deleted {
		return "", ErrCaseDeleted
	}
	if cr == nil {
		if _, ok := e.state.ProvisionalCase(caseID); !ok {
			return "", ErrCaseDeleted
		}
		return "", fmt.Errorf("%w: %s", ErrCaseNotConfirmed, caseID)
	}
	select {
	case <-cr.done:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if cr.err != nil {
		return "", fmt.Errorf("create case %s: %w", caseID, cr.err)
	}
	if cr.confirmed == "" {
		return "", fmt.Errorf("%w: %s", ErrCaseNotConfirmed, caseID)
	}
	return cr.confirmed, nil
}

// RenameCase changes a title locally at once. The backend is told after
// the edits settle.
func (e *Engine) RenameCase(ctx context.Context, caseID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperr.New(apperr.KindValidation, "engine.RenameCase", "title is empty")
	}
	done, err := e.admit()
	if err != nil {
		return err
	}
	defer done()
	id := e.mappings.Resolve(caseID)
	if err := e.state.SetTitle(ctx, id, title, cases.TitleFromUser); err != nil {
		return err
	}
	e.mu.Lock()
	e.titleEdits[id] = time.Now()
	e.mu.Unlock()

	events.Emit(ctx, e.bus, events.CaseRenamed, id, map[string]interface{}{"title": title})
	e.changed("")
	e.titles.Debounce(id, func() { e.syncTitle(id) })
	return nil
}

// syncTitle tracks and sends the current local title of caseID. Cases
// still waiting for their confirmed id are picked up by reconciliation.
func (e *Engine) syncTitle(caseID string) {
	id := e.mappings.Resolve(caseID)
	if !ident.IsConfirmed(id) {
		return
	}
	title, src, ok := e.state.Title(id)
	if !ok || src != cases.TitleFromUser {
		return
	}
	op, err := pending.New(pending.TypeUpdateTitle, id, pending.UpdateTitlePayload{Title: title})
	if err != nil {
		e.logger.Error("build title operation", "case", id, "error", err)
		return
	}
	if err := e.pending.Add(e.ctx, op); err != nil {
		e.logger.Error("track title operation", "case", id, "error", err)
		return
	}
	e.goAsync(func(ctx context.Context) {
		if err := e.performTitleSync(ctx, op); err != nil {
			e.fail(ctx, op.ID, err)
			return
		}
		e.complete(ctx, op.ID)
	})
}

func (e *Engine) performTitleSync(ctx context.Context, op pending.Operation) error {
	id := e.mappings.Resolve(op.CaseID)
	title, _, ok := e.state.Title(id)
	if !ok {
		// Deleted since; nothing to send.
		return nil
	}
	updated, err := e.backend.RenameCase(ctx, id, title)
	if err != nil {
		return err
	}
	if err := e.state.MarkTitleSynced(ctx, id, title); err != nil {
		return err
	}
	e.mu.Lock()
	e.remote[id] = updated
	e.mu.Unlock()
	events.Emit(ctx, e.bus, events.CaseTitleSynced, id, map[string]interface{}{"title": title})
	return nil
}

// DeleteCase removes a case. A provisional case is dropped locally and, if
// its creation is in flight, the server copy is deleted once it exists. A
// confirmed case is removed locally first and restored if the backend
// refuses.
func (e *Engine) DeleteCase(ctx context.Context, caseID string) error {
	done, err := e.admit()
	if err != nil {
		return err
	}
	defer done()
	id := e.mappings.Resolve(caseID)
	if ident.IsProvisional(id) {
		return e.deleteProvisional(ctx, id)
	}
	if !ident.IsConfirmed(id) {
		return apperr.Architecture("engine.DeleteCase", "invalid case id %q", caseID)
	}

	snapshot := e.snapshotCase(id)
	if err := e.state.RemoveCase(ctx, id); err != nil {
		return err
	}
	e.titles.Cancel(id)
	e.mu.Lock()
	prev, hadRemote := e.remote[id]
	delete(e.remote, id)
	if e.active == id {
		e.active = ""
	}
	e.mu.Unlock()
	e.changed("")

	if err := e.backend.DeleteCase(ctx, id); err != nil && !apperr.Is(err, apperr.KindNotFound) {
		e.restoreCase(ctx, snapshot)
		if hadRemote {
			e.mu.Lock()
			e.remote[id] = prev
			e.mu.Unlock()
		}
		e.changed("")
		return fmt.Errorf("delete case %s: %w", id, err)
	}

	// The id mapping stays: late references to the provisional id must
	// still resolve to the deleted case.
	e.dropOperations(ctx, id)
	e.logger.Info("case deleted", "case", id)
	events.Emit(ctx, e.bus, events.CaseDeleted, id, nil)
	return nil
}

func (e *Engine) deleteProvisional(ctx context.Context, id string) error {
	e.mu.Lock()
	if cr := e.creations[id]; cr != nil && !isClosed(cr.done) {
		e.deleted[id] = true
	}
	if e.active == id {
		e.active = ""
	}
	delete(e.titleEdits, id)
	e.mu.Unlock()

	if err := e.state.RemoveCase(ctx, id); err != nil {
		return err
	}
	e.titles.Cancel(id)
	e.dropOperations(ctx, id)
	e.logger.Info("provisional case deleted", "case", id)
	events.Emit(ctx, e.bus, events.CaseDeleted, id, map[string]interface{}{"provisional": true})
	e.changed("")
	return nil
}

// dropOperations removes every operation on id without rolling it back.
func (e *Engine) dropOperations(ctx context.Context, id string) {
	for _, op := range e.pending.ForCase(id) {
		if err := e.pending.Remove(ctx, op.ID); err != nil && !errors.Is(err, pending.ErrNotFound) {
			e.logger.Warn("remove operation of deleted case", "operation", op.ID, "error", err)
		}
	}
}

type caseSnapshot struct {
	id       string
	title    string
	source   cases.TitleSource
	hasTitle bool
	items    []cases.ConversationItem
	hasItems bool
	pinned   bool
}

func (e *Engine) snapshotCase(id string) caseSnapshot {
	s := caseSnapshot{id: id, pinned: e.state.IsPinned(id)}
	s.title, s.source, s.hasTitle = e.state.Title(id)
	if e.state.HasConversation(id) {
		s.items = e.state.Conversation(id)
		s.hasItems = true
	}
	return s
}

func (e *Engine) restoreCase(ctx context.Context, s caseSnapshot) {
	if s.hasTitle {
		if err := e.state.SetTitle(ctx, s.id, s.title, s.source); err != nil {
			e.logger.Warn("restore title", "case", s.id, "error", err)
		}
	}
	if s.hasItems {
		if err := e.state.SetConversation(ctx, s.id, s.items); err != nil {
			e.logger.Warn("restore conversation", "case", s.id, "error", err)
		}
	}
	if s.pinned {
		if err := e.state.Pin(ctx, s.id); err != nil {
			e.logger.Warn("restore pin", "case", s.id, "error", err)
		}
	}
}

// UploadDocument attaches a document to a case, waiting for the case's
// confirmed id if it is still being created.
func (e *Engine) UploadDocument(ctx context.Context, caseID, name string, content io.Reader) (backend.Document, error) {
	if e.RecoveryInProgress() {
		return backend.Document{}, ErrRecovering
	}
	id, err := e.awaitConfirmed(ctx, e.mappings.Resolve(caseID))
	if err != nil {
		return backend.Document{}, err
	}
	doc, err := e.backend.UploadDocument(ctx, id, name, content)
	if err != nil {
		if apperr.Is(err, apperr.KindAuth) {
			e.authRequired(apperr.ToUser("upload_document", id, err))
		}
		return backend.Document{}, err
	}
	return doc, nil
}

// RefreshCases fetches the case list, merges server titles the user has not
// overridden and returns the merged list.
func (e *Engine) RefreshCases(ctx context.Context) ([]cases.Case, error) {
	list, err := backend.ListAll(ctx, e.backend)
	if err != nil {
		if apperr.Is(err, apperr.KindAuth) {
			e.authRequired(apperr.ToUser("refresh_cases", "", err))
		}
		return nil, err
	}
	list = integrity.SanitizeConfirmed(e.validator, list, "refresh")

	fresh := make(map[string]cases.Case, len(list))
	for _, c := range list {
		fresh[c.ID] = c
		if _, err := e.state.MergeServerTitle(ctx, c.ID, c.Title); err != nil {
			e.logger.Warn("merge server title", "case", c.ID, "error", err)
		}
	}
	e.mu.Lock()
	e.remote = fresh
	e.mu.Unlock()

	// A provisional case whose confirmed counterpart is now listed was
	// reconciled by an earlier session.
	for _, p := range e.state.ProvisionalCases() {
		if c, ok := e.mappings.ConfirmedID(p.ID); ok {
			if _, listed := fresh[c]; listed {
				if err := e.state.Rekey(ctx, p.ID, c); err != nil {
					e.logger.Warn("rekey reconciled case", "case", p.ID, "error", err)
				}
			}
		}
	}

	events.Emit(ctx, e.bus, events.CasesRefreshed, "", map[string]interface{}{"count": len(fresh)})
	e.changed("")
	return e.Cases(), nil
}

// Cases returns confirmed and provisional cases in one list, newest first.
// A provisional case is hidden once its confirmed counterpart is present.
func (e *Engine) Cases() []cases.Case {
	titles := e.state.Titles()
	e.mu.Lock()
	confirmed := make([]cases.Case, 0, len(e.remote))
	for _, c := range e.remote {
		if t, ok := titles[c.ID]; ok {
			c.Title = t
		}
		confirmed = append(confirmed, c)
	}
	e.mu.Unlock()

	res := integrity.Merge(e.validator, confirmed, e.state.ProvisionalCases(), "cases")
	return res.Entities
}

// Case returns one case by either of its ids.
func (e *Engine) Case(caseID string) (cases.Case, bool) {
	id := e.mappings.Resolve(caseID)
	if ident.IsProvisional(id) {
		c, ok := e.state.ProvisionalCase(id)
		if ok {
			if t, _, has := e.state.Title(id); has {
				c.Title = t
			}
		}
		return c, ok
	}
	e.mu.Lock()
	c, ok := e.remote[id]
	e.mu.Unlock()
	if !ok {
		return cases.Case{}, false
	}
	if t, _, has := e.state.Title(id); has {
		c.Title = t
	}
	return c, true
}

// PinCase protects a case's conversation from eviction.
func (e *Engine) PinCase(ctx context.Context, caseID string) error {
	id := e.mappings.Resolve(caseID)
	if ident.Of(id) == ident.ProvenanceNone {
		return apperr.Architecture("engine.PinCase", "invalid case id %q", caseID)
	}
	return e.state.Pin(ctx, id)
}

// UnpinCase lifts the eviction protection.
func (e *Engine) UnpinCase(ctx context.Context, caseID string) error {
	return e.state.Unpin(ctx, e.mappings.Resolve(caseID))
}

// IsPinned reports whether a case is protected from eviction.
func (e *Engine) IsPinned(caseID string) bool {
	return e.state.IsPinned(e.mappings.Resolve(caseID))
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
