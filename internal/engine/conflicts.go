// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/wingedpig/casesync/internal/cases"
	"github.com/wingedpig/casesync/internal/conflict"
	"github.com/wingedpig/casesync/internal/ident"
)

// handleConflict routes a detected conflict. An automatic resolution is
// applied at once; an escalated one is handed to the listener and applied
// in the background once the user chooses.
func (e *Engine) handleConflict(ctx context.Context, c *conflict.Conflict) {
	h := e.resolver.Resolve(ctx, c)
	if h.State() == conflict.StateAutoResolved {
		res, err := h.Wait(ctx)
		if err != nil {
			e.logger.Warn("read automatic resolution", "conflict", c.ID, "error", err)
			return
		}
		e.applyResolution(ctx, c, res)
		return
	}

	if e.listener.OnConflict != nil {
		e.listener.OnConflict(h)
	}
	e.goAsync(func(ctx context.Context) {
		res, err := h.Wait(ctx)
		if err != nil {
			// Shutting down; Close cancels the handle as keep_local.
			return
		}
		e.applyResolution(ctx, c, res)
	})
}

// applyResolution writes a resolved snapshot back into local state.
func (e *Engine) applyResolution(ctx context.Context, c *conflict.Conflict, res conflict.Resolution) {
	id := res.CaseID
	if id == "" || ident.IsProvisional(id) {
		id = e.mappings.Resolve(c.Remote.CaseID)
	}
	logger := e.logger.With("conflict", c.ID, "case", id, "choice", res.Choice)

	if res.Choice == conflict.ChoiceKeepLocal {
		if c.Type == conflict.TypeCrossTab {
			// Our view stays; overwrite what the other context wrote.
			if err := e.state.Persist(ctx); err != nil {
				logger.Warn("rewrite local state", "error", err)
			}
		}
		logger.Info("conflict resolved, keeping local state", "cancelled", res.Cancelled)
		e.changed(id)
		return
	}

	snap := res.Snapshot
	if cur, _, _ := e.state.Title(id); snap.Title != "" && snap.Title != cur {
		if snap.Title == c.Remote.Title && c.Type != conflict.TypeCrossTab {
			if err := e.state.SetTitle(ctx, id, snap.Title, cases.TitleFromServer); err != nil {
				logger.Warn("apply title", "error", err)
			}
		} else {
			if err := e.state.SetTitle(ctx, id, snap.Title, cases.TitleFromUser); err != nil {
				logger.Warn("apply title", "error", err)
			}
			e.titles.Debounce(id, func() { e.syncTitle(id) })
		}
	}
	if len(snap.Items) > 0 || len(c.Local.Items) > 0 || len(c.Remote.Items) > 0 {
		if err := e.state.SetConversation(ctx, id, snap.Items); err != nil {
			logger.Warn("apply conversation", "error", err)
		}
	}
	if snap.Status != "" {
		e.mu.Lock()
		if rc, ok := e.remote[id]; ok {
			rc.Status = snap.Status
			e.remote[id] = rc
		}
		e.mu.Unlock()
	}
	logger.Info("conflict resolved", "auto", res.Auto, "backup", res.BackupName)
	e.changed(id)
}

// Conflicts returns the conflicts waiting for a user decision.
func (e *Engine) Conflicts() []*conflict.Handle {
	return e.resolver.Awaiting()
}

// ResolveConflict completes an escalated conflict with the user's choice.
// The resolution is applied in the background.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, uc conflict.UserChoice) error {
	h, ok := e.resolver.Handle(conflictID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, conflictID)
	}
	return h.Choose(ctx, uc)
}

// Backups lists the conflict backups kept for a case.
func (e *Engine) Backups(caseID string) []conflict.Backup {
	return e.backups.List(e.mappings.Resolve(caseID))
}
