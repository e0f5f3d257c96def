// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"reflect"

	"github.com/wingedpig/casesync/internal/cases"
	"github.com/wingedpig/casesync/internal/conflict"
	"github.com/wingedpig/casesync/internal/events"
	"github.com/wingedpig/casesync/internal/ident"
	"github.com/wingedpig/casesync/internal/store"
)

// externalOrigin marks snapshots read back from a store another process
// wrote to.
const externalOrigin = "external"

// onStoreEvent reacts to writes and deletions made to the store by another
// process.
func (e *Engine) onStoreEvent(ctx context.Context, ev events.Event) error {
	key, _ := ev.Payload["key"].(string)
	if e.isClosed() || key == "" {
		return nil
	}
	switch ev.Type {
	case events.StoreChanged:
		e.onExternalWrite(ctx, key)
	case events.StoreRemoved:
		e.onExternalRemove(ctx, key)
	}
	return nil
}

func (e *Engine) onExternalWrite(ctx context.Context, key string) {
	logger := e.logger.With("key", key)
	switch key {
	case store.KeyConversations:
		var external map[string][]cases.ConversationItem
		if ok, err := store.GetJSON(ctx, e.store, key, &external); err != nil || !ok {
			logger.Warn("read external conversations", "error", err)
			return
		}
		for id, items := range external {
			if !e.state.HasConversation(id) || ident.Of(id) == ident.ProvenanceNone {
				continue
			}
			local := e.localSnapshot(id)
			if reflect.DeepEqual(local.Items, items) {
				continue
			}
			remote := local
			remote.Items = items
			remote.PendingOps = nil
			remote.Origin = externalOrigin
			e.detectCrossTab(ctx, local, remote)
		}
	case store.KeyTitles:
		var external map[string]string
		if ok, err := store.GetJSON(ctx, e.store, key, &external); err != nil || !ok {
			logger.Warn("read external titles", "error", err)
			return
		}
		for id, title := range external {
			cur, _, ok := e.state.Title(id)
			if !ok || cur == title {
				continue
			}
			local := e.localSnapshot(id)
			remote := local
			remote.Items = nil
			local.Items = nil
			remote.Title = title
			remote.TitleEditedAt = local.TitleEditedAt
			remote.PendingOps = nil
			remote.Origin = externalOrigin
			e.detectCrossTab(ctx, local, remote)
		}
	default:
		// The other keys have one writer; put ours back.
		logger.Info("store key rewritten externally, restoring")
		e.restoreKey(ctx, key)
	}
}

func (e *Engine) detectCrossTab(ctx context.Context, local, remote conflict.Snapshot) {
	if c := e.resolver.Detect(local, remote); c != nil {
		e.handleConflict(ctx, c)
	}
}

func (e *Engine) onExternalRemove(ctx context.Context, key string) {
	lost, err := e.recovery.DetectStoreLoss(ctx)
	if err != nil {
		e.logger.Warn("store loss check failed", "key", key, "error", err)
		return
	}
	if lost {
		e.logger.Warn("local store lost, recovering from backend", "key", key)
		res := e.Recover(ctx)
		if !res.Success {
			e.logger.Error("recovery after store loss incomplete", "errors", res.Errors)
		}
		return
	}
	e.logger.Info("store key removed externally, restoring", "key", key)
	e.restoreKey(ctx, key)
}

func (e *Engine) restoreKey(ctx context.Context, key string) {
	var err error
	switch key {
	case store.KeyConversations, store.KeyTitles, store.KeyTitleSources, store.KeyProvisionalCases, store.KeyPinnedCases:
		err = e.state.Persist(ctx)
	case store.KeyPendingOperations:
		err = e.pending.Persist(ctx)
	case store.KeyIDMappings:
		err = e.mappings.Persist(ctx)
	case store.KeyLiveness:
		err = e.recovery.MarkAlive(ctx)
	case store.KeyConflictBackups:
		err = e.backups.Persist(ctx)
	}
	if err != nil {
		e.logger.Warn("restore store key", "key", key, "error", err)
	}
}
