// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"sort"
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

// SubmitMessage appends the question and a loading reply slot to the case
// at once and sends the question in the background. It returns the id of
// the tracking operation.
func (e *Engine) SubmitMessage(ctx context.Context, caseID, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.New(apperr.KindValidation, "engine.SubmitMessage", "message is empty")
	}
	id := e.mappings.Resolve(caseID)
	if ident.Of(id) == ident.ProvenanceNone {
		return "", apperr.Architecture("engine.SubmitMessage", "invalid case id %q", caseID)
	}
	if ident.IsProvisional(id) {
		if _, ok := e.state.ProvisionalCase(id); !ok {
			return "", ErrCaseDeleted
		}
	}
	done, err := e.admit()
	if err != nil {
		return "", err
	}
	defer done()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrClosed
	}
	if e.deleted[id] {
		e.mu.Unlock()
		return "", ErrCaseDeleted
	}
	if e.submittingLocked(id) {
		e.mu.Unlock()
		return "", ErrSubmitInProgress
	}
	e.submitting[id] = true
	e.mu.Unlock()

	now := time.Now()
	user := cases.ConversationItem{
		ID:         ident.Generate(ident.KindMessage),
		Question:   cases.Str(text),
		Timestamp:  now,
		Optimistic: true,
	}
	reply := cases.ConversationItem{
		ID:         ident.Generate(ident.KindMessage),
		Timestamp:  now.Add(time.Millisecond),
		Optimistic: true,
		Loading:    true,
	}
	op, err := pending.New(pending.TypeSubmitQuery, id, pending.SubmitQueryPayload{
		Question:     text,
		UserItemID:   user.ID,
		ReplyItemID:  reply.ID,
		TargetCaseID: id,
	})
	if err != nil {
		e.clearSubmitting(id)
		return "", err
	}
	if err := e.state.AppendItems(ctx, id, user, reply); err != nil {
		e.clearSubmitting(id)
		return "", err
	}
	if err := e.pending.Add(ctx, op); err != nil {
		e.clearSubmitting(id)
		return "", err
	}

	events.Emit(ctx, e.bus, events.MessageSubmitted, id, map[string]interface{}{
		"operation_id": op.ID,
		"item_id":      user.ID,
	})
	e.changed(id)

	started := e.goAsync(func(ctx context.Context) {
		err := e.performSubmit(ctx, op.ID)
		e.clearSubmitting(id)
		if err != nil {
			e.markSlots(ctx, op.ID, slotFailed)
			e.fail(ctx, op.ID, err)
			return
		}
		e.complete(ctx, op.ID)
	})
	if !started {
		e.clearSubmitting(id)
		return op.ID, ErrClosed
	}
	return op.ID, nil
}

// submittingLocked reports whether id or its counterpart has a submission
// in flight. e.mu must be held.
func (e *Engine) submittingLocked(id string) bool {
	if e.submitting[id] {
		return true
	}
	if c, ok := e.mappings.ConfirmedID(id); ok && e.submitting[c] {
		return true
	}
	if p, ok := e.mappings.ProvisionalID(id); ok && e.submitting[p] {
		return true
	}
	return false
}

func (e *Engine) clearSubmitting(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.submitting, id)
	if c, ok := e.mappings.ConfirmedID(id); ok {
		delete(e.submitting, c)
	}
	if p, ok := e.mappings.ProvisionalID(id); ok {
		delete(e.submitting, p)
	}
}

// performSubmit sends the question of a submit_query operation and swaps
// its provisional slots for the server's messages.
func (e *Engine) performSubmit(ctx context.Context, opID string) error {
	op, ok := e.pending.Get(opID)
	if !ok {
		return nil
	}
	var p pending.SubmitQueryPayload
	if err := op.Decode(&p); err != nil {
		return err
	}
	target, err := e.awaitConfirmed(ctx, e.mappings.Resolve(op.CaseID))
	if err != nil {
		return err
	}

	res, err := e.backend.SubmitMessage(ctx, target, p.Question)
	if err != nil {
		return err
	}

	swaps := []slotSwap{
		{slot: p.UserItemID, item: backend.ToItem(res.User)},
		{slot: p.ReplyItemID, item: backend.ToItem(res.Reply)},
	}
	_, err = e.state.UpdateConversation(ctx, target, func(cur []cases.ConversationItem) ([]cases.ConversationItem, bool) {
		if cur == nil {
			// Evicted or deleted meanwhile; the next sync fetches it.
			return nil, false
		}
		return swapSlots(cur, swaps), true
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	if c, ok := e.remote[target]; ok && res.Reply.CreatedAt.After(c.UpdatedAt) {
		c.UpdatedAt = res.Reply.CreatedAt
		e.remote[target] = c
	}
	e.mu.Unlock()

	events.Emit(ctx, e.bus, events.MessageConfirmed, target, map[string]interface{}{
		"operation_id": op.ID,
		"user_id":      res.User.ID,
		"reply_id":     res.Reply.ID,
	})
	e.changed(target)
	return nil
}

type slotSwap struct {
	slot string
	item cases.ConversationItem
}

// swapSlots replaces provisional slots with their confirmed items. A
// confirmed item a sync already brought in is not added twice, and one
// whose slot is gone is appended.
func swapSlots(items []cases.ConversationItem, swaps []slotSwap) []cases.ConversationItem {
	present := make(map[string]bool, len(items))
	for _, it := range items {
		present[it.ID] = true
	}
	bySlot := make(map[string]cases.ConversationItem, len(swaps))
	for _, sw := range swaps {
		bySlot[sw.slot] = sw.item
	}
	out := make([]cases.ConversationItem, 0, len(items)+len(swaps))
	for _, it := range items {
		conf, isSlot := bySlot[it.ID]
		if !isSlot {
			out = append(out, it)
			continue
		}
		if !present[conf.ID] {
			out = append(out, conf)
			present[conf.ID] = true
		}
	}
	for _, sw := range swaps {
		if !present[sw.item.ID] {
			out = append(out, sw.item)
			present[sw.item.ID] = true
		}
	}
	return out
}

type slotState int

const (
	slotLoading slotState = iota
	slotFailed
)

// markSlots flags the provisional slots of a submit_query operation.
func (e *Engine) markSlots(ctx context.Context, opID string, st slotState) {
	op, ok := e.pending.Get(opID)
	if !ok || op.Type != pending.TypeSubmitQuery {
		return
	}
	var p pending.SubmitQueryPayload
	if err := op.Decode(&p); err != nil {
		return
	}
	caseID := e.mappings.Resolve(op.CaseID)
	for _, slot := range []string{p.UserItemID, p.ReplyItemID} {
		isReply := slot == p.ReplyItemID
		_, err := e.state.UpdateItem(ctx, caseID, slot, func(it *cases.ConversationItem) {
			if !it.Optimistic {
				return
			}
			switch st {
			case slotFailed:
				it.Failed = true
				it.Loading = false
			case slotLoading:
				it.Failed = false
				it.Loading = isReply
			}
		})
		if err != nil {
			e.logger.Warn("update submission slot", "case", caseID, "item", slot, "error", err)
		}
	}
	e.changed(caseID)
}

// Conversation returns the items of a case in display order. Slots that
// duplicate a confirmed message are hidden.
func (e *Engine) Conversation(caseID string) []cases.ConversationItem {
	id := e.mappings.Resolve(caseID)
	items := e.state.Conversation(id)
	if len(items) == 0 {
		return items
	}

	var confirmed, provisional []cases.ConversationItem
	for _, it := range items {
		if ident.IsProvisional(it.ID) {
			provisional = append(provisional, it)
		} else {
			confirmed = append(confirmed, it)
		}
	}
	res := integrity.Merge(e.validator, confirmed, provisional, "conversation/"+id)
	keep := make(map[string]bool, len(res.Entities))
	for _, it := range res.Entities {
		keep[it.ID] = true
	}
	out := make([]cases.ConversationItem, 0, len(keep))
	for _, it := range items {
		if keep[it.ID] {
			out = append(out, it)
			delete(keep, it.ID)
		}
	}
	return out
}

// SyncCase fetches the history of a confirmed case and reconciles it with
// the local conversation. Divergence goes through the conflict resolver.
func (e *Engine) SyncCase(ctx context.Context, caseID string) error {
	id := e.mappings.Resolve(caseID)
	if !ident.IsConfirmed(id) {
		return ErrCaseNotConfirmed
	}
	history, err := e.backend.FetchHistory(ctx, id)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindNotFound:
			e.logger.Info("case no longer exists on the server", "case", id)
			if err := e.state.RemoveCase(ctx, id); err != nil {
				return err
			}
			e.mu.Lock()
			delete(e.remote, id)
			e.mu.Unlock()
			e.changed("")
		case apperr.KindAuth:
			e.authRequired(apperr.ToUser("sync_case", id, err))
		}
		return err
	}
	remoteItems := integrity.SanitizeConfirmed(e.validator, backend.ToItems(history), "history/"+id)

	if !e.state.HasConversation(id) {
		if err := e.state.SetConversation(ctx, id, remoteItems); err != nil {
			return err
		}
		e.changed(id)
		return nil
	}

	local := e.localSnapshot(id)
	remote := e.remoteSnapshot(id, remoteItems)
	c := e.resolver.Detect(local, remote)
	if c == nil {
		// Merge against the items as they are now: a submission may have
		// been confirmed while the fetch was in flight.
		kept := 0
		_, err := e.state.UpdateConversation(ctx, id, func(cur []cases.ConversationItem) ([]cases.ConversationItem, bool) {
			var merged []cases.ConversationItem
			merged, kept = quietMerge(remoteItems, cur)
			return merged, true
		})
		if err != nil {
			return err
		}
		if kept > 0 {
			e.logger.Debug("kept confirmed messages missing from fetched history", "case", id, "count", kept)
		}
		e.changed(id)
		return nil
	}
	e.handleConflict(ctx, c)
	return nil
}

func (e *Engine) localSnapshot(id string) conflict.Snapshot {
	title, _, _ := e.state.Title(id)
	e.mu.Lock()
	edited := e.titleEdits[id]
	status := e.remote[id].Status
	e.mu.Unlock()
	snap := conflict.Snapshot{
		CaseID:        id,
		Title:         title,
		TitleEditedAt: edited,
		Status:        status,
		Items:         e.state.Conversation(id),
		Origin:        e.session,
	}
	for _, op := range e.pendingFor(id) {
		if op.Status == pending.StatusPending {
			snap.PendingOps = append(snap.PendingOps, op.ID)
		}
	}
	for _, it := range snap.Items {
		if it.Timestamp.After(snap.UpdatedAt) {
			snap.UpdatedAt = it.Timestamp
		}
	}
	return snap
}

func (e *Engine) remoteSnapshot(id string, items []cases.ConversationItem) conflict.Snapshot {
	e.mu.Lock()
	rc, known := e.remote[id]
	e.mu.Unlock()
	snap := conflict.Snapshot{CaseID: id, Items: items, Origin: e.session}
	if known {
		snap.Title = rc.Title
		snap.Status = rc.Status
	} else {
		snap.Title, _, _ = e.state.Title(id)
	}
	for _, it := range items {
		if it.Timestamp.After(snap.UpdatedAt) {
			snap.UpdatedAt = it.Timestamp
		}
	}
	return snap
}

// quietMerge keeps the server's items and adds the local items the
// history does not have yet: optimistic slots, and confirmed messages that
// arrived after the history was read. It returns how many of the latter
// were kept.
func quietMerge(remote, local []cases.ConversationItem) ([]cases.ConversationItem, int) {
	seen := make(map[string]bool, len(remote))
	for _, it := range remote {
		seen[it.ID] = true
	}
	out := append([]cases.ConversationItem{}, remote...)
	kept := 0
	for _, it := range local {
		if seen[it.ID] {
			continue
		}
		switch {
		case ident.IsProvisional(it.ID):
			if !it.Optimistic {
				continue
			}
		case ident.IsConfirmed(it.ID):
			// Confirmed after the history was read.
			kept++
		default:
			continue
		}
		out = append(out, it)
	}
	if kept > 0 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	}
	return out, kept
}
