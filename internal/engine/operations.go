// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/wingedpig/casesync/internal/apperr"
	"github.com/wingedpig/casesync/internal/events"
	"github.com/wingedpig/casesync/internal/ident"
	"github.com/wingedpig/casesync/internal/integrity"
	"github.com/wingedpig/casesync/internal/pending"
)

// registerHandlers installs the retry and rollback behavior for every
// operation type. Everything a handler needs is read from the operation
// payload, so operations loaded after a restart are as retryable as new
// ones.
func (e *Engine) registerHandlers() {
	e.pending.Register(pending.TypeCreateCase, pending.Handler{
		Retry: func(ctx context.Context, op pending.Operation) error {
			var p pending.CreateCasePayload
			if err := op.Decode(&p); err != nil {
				return err
			}
			if c, ok := e.mappings.ConfirmedID(p.ProvisionalID); ok {
				e.logger.Debug("create already reconciled", "case", p.ProvisionalID, "confirmed", c)
				return nil
			}
			e.beginCreation(p.ProvisionalID)
			if err := e.performCreate(ctx, p.ProvisionalID); err != nil {
				e.finishCreation(p.ProvisionalID, "", err)
				return err
			}
			return nil
		},
		Rollback: func(ctx context.Context, op pending.Operation) error {
			var p pending.CreateCasePayload
			if err := op.Decode(&p); err != nil {
				return err
			}
			if _, ok := e.mappings.ConfirmedID(p.ProvisionalID); ok {
				return nil
			}
			e.finishCreation(p.ProvisionalID, "", ErrCaseDeleted)
			e.mu.Lock()
			delete(e.creations, p.ProvisionalID)
			delete(e.titleEdits, p.ProvisionalID)
			if e.active == p.ProvisionalID {
				e.active = ""
			}
			e.mu.Unlock()
			e.titles.Cancel(p.ProvisionalID)
			return e.state.RemoveCase(ctx, p.ProvisionalID)
		},
	})

	e.pending.Register(pending.TypeSubmitQuery, pending.Handler{
		Retry: func(ctx context.Context, op pending.Operation) error {
			id := e.mappings.Resolve(op.CaseID)
			e.mu.Lock()
			if e.submittingLocked(id) {
				e.mu.Unlock()
				return ErrSubmitInProgress
			}
			e.submitting[id] = true
			e.mu.Unlock()
			defer e.clearSubmitting(id)

			e.markSlots(ctx, op.ID, slotLoading)
			if err := e.performSubmit(ctx, op.ID); err != nil {
				e.markSlots(ctx, op.ID, slotFailed)
				return err
			}
			return nil
		},
		Rollback: func(ctx context.Context, op pending.Operation) error {
			var p pending.SubmitQueryPayload
			if err := op.Decode(&p); err != nil {
				return err
			}
			id := e.mappings.Resolve(op.CaseID)
			if _, err := e.state.RemoveItems(ctx, id, p.UserItemID, p.ReplyItemID); err != nil {
				return err
			}
			e.changed(id)
			return nil
		},
	})

	// Title edits are not reverted.
	e.pending.Register(pending.TypeUpdateTitle, pending.Handler{
		Retry: func(ctx context.Context, op pending.Operation) error {
			return e.performTitleSync(ctx, op)
		},
	})
}

func (e *Engine) complete(ctx context.Context, opID string) {
	if err := e.pending.Complete(ctx, opID); err != nil && !errors.Is(err, pending.ErrNotFound) {
		e.logger.Warn("complete operation", "operation", opID, "error", err)
	}
}

// fail records a failed first attempt and reports it.
func (e *Engine) fail(ctx context.Context, opID string, err error) {
	op, ok := e.pending.Get(opID)
	if !ok {
		// Dismissed or dropped while in flight.
		return
	}
	if ferr := e.pending.Fail(ctx, opID, err.Error()); ferr != nil && !errors.Is(ferr, pending.ErrNotFound) {
		e.logger.Warn("record operation failure", "operation", opID, "error", ferr)
	}
	e.report(ctx, op, err)
}

// report routes a failure by kind. Auth failures roll back what can be
// rolled back without losing typed input and ask for a new login. Everything
// else leaves the failed operation in place for a retry.
func (e *Engine) report(ctx context.Context, op pending.Operation, err error) {
	caseID := e.mappings.Resolve(op.CaseID)
	ue := apperr.ToUser(string(op.Type), caseID, err)
	kind := apperr.KindOf(err)
	e.logger.Warn("operation failed", "operation", op.ID, "type", op.Type, "case", caseID, "kind", kind, "error", err)

	if kind == apperr.KindArchitecture && e.cfg.Strict {
		panic(err)
	}
	if op.Type == pending.TypeSubmitQuery {
		events.Emit(ctx, e.bus, events.MessageFailed, caseID, map[string]interface{}{
			"operation_id": op.ID,
			"kind":         string(kind),
			"reason":       err.Error(),
		})
	}
	if kind == apperr.KindAuth {
		e.authRollback(ctx, op)
		e.authRequired(ue)
		return
	}
	if e.listener.OnError != nil {
		e.listener.OnError(ue)
	}
}

// authRollback undoes a create_case whose provisional case nobody else
// depends on. Submissions keep their typed text as failed slots.
func (e *Engine) authRollback(ctx context.Context, op pending.Operation) {
	if op.Type != pending.TypeCreateCase {
		return
	}
	for _, other := range e.pending.ForCase(op.CaseID) {
		if other.ID != op.ID {
			e.logger.Info("keeping provisional case with dependent operations", "case", op.CaseID)
			return
		}
	}
	if err := e.pending.Rollback(ctx, op.ID); err != nil {
		e.logger.Warn("roll back create", "operation", op.ID, "error", err)
		return
	}
	if err := e.pending.Remove(ctx, op.ID); err != nil && !errors.Is(err, pending.ErrNotFound) {
		e.logger.Warn("remove rolled back create", "operation", op.ID, "error", err)
	}
	e.changed("")
}

func (e *Engine) authRequired(ue apperr.UserError) {
	events.Emit(context.Background(), e.bus, events.AuthRequired, ue.CaseID, map[string]interface{}{
		"op":      ue.Op,
		"message": ue.Message,
	})
	if e.listener.OnAuthRequired != nil {
		e.listener.OnAuthRequired(ue)
	}
}

// Retry replays a failed operation now. The replay runs on the calling
// goroutine.
func (e *Engine) Retry(ctx context.Context, opID string) error {
	done, err := e.admit()
	if err != nil {
		return err
	}
	defer done()
	op, ok := e.pending.Get(opID)
	if !ok {
		return fmt.Errorf("%w: %s", pending.ErrNotFound, opID)
	}
	e.logger.Info("retrying operation", "operation", opID, "type", op.Type, "attempt", op.Attempts+1)
	err = e.pending.Retry(ctx, opID)
	switch {
	case err == nil:
		e.changed(e.mappings.Resolve(op.CaseID))
		return nil
	case errors.Is(err, pending.ErrNotFailed), errors.Is(err, pending.ErrNotRetryable), errors.Is(err, pending.ErrNotFound):
		return err
	}
	if cur, ok := e.pending.Get(opID); ok {
		op = cur
	}
	e.report(ctx, op, err)
	return err
}

// Dismiss gives up on an operation: its optimistic effects are rolled back
// and the record removed. Dismissing a create_case also dismisses the
// operations queued on the provisional case.
func (e *Engine) Dismiss(ctx context.Context, opID string) error {
	done, err := e.admit()
	if err != nil {
		return err
	}
	defer done()
	op, ok := e.pending.Get(opID)
	if !ok {
		return fmt.Errorf("%w: %s", pending.ErrNotFound, opID)
	}
	if op.Type == pending.TypeCreateCase && ident.IsProvisional(op.CaseID) {
		for _, dep := range e.pending.ForCase(op.CaseID) {
			if dep.ID != op.ID {
				e.dismissOne(ctx, dep)
			}
		}
	}
	e.dismissOne(ctx, op)
	e.changed("")
	return nil
}

func (e *Engine) dismissOne(ctx context.Context, op pending.Operation) {
	if err := e.pending.Rollback(ctx, op.ID); err != nil {
		e.logger.Warn("roll back dismissed operation", "operation", op.ID, "error", err)
	}
	if err := e.pending.Remove(ctx, op.ID); err != nil && !errors.Is(err, pending.ErrNotFound) {
		e.logger.Warn("remove dismissed operation", "operation", op.ID, "error", err)
	}
	e.logger.Info("operation dismissed", "operation", op.ID, "type", op.Type, "case", op.CaseID)
}

// PendingFor returns the unfinished operations on a case under either of
// its ids.
func (e *Engine) PendingFor(caseID string) []pending.Operation {
	var out []pending.Operation
	for _, op := range e.pendingFor(caseID) {
		if op.Status != pending.StatusCompleted {
			out = append(out, op)
		}
	}
	return out
}

func (e *Engine) pendingFor(caseID string) []pending.Operation {
	id := e.mappings.Resolve(caseID)
	ops := e.pending.ForCase(id)
	if p, ok := e.mappings.ProvisionalID(id); ok {
		ops = append(ops, e.pending.ForCase(p)...)
	}
	return ops
}

// Operations returns every tracked operation, oldest first.
func (e *Engine) Operations() []pending.Operation {
	return e.pending.All()
}

// Operation returns one tracked operation.
func (e *Engine) Operation(id string) (pending.Operation, bool) {
	return e.pending.Get(id)
}

// CheckIntegrity audits every persisted key space and returns the
// violations found. Nothing is repaired.
func (e *Engine) CheckIntegrity() []integrity.Violation {
	return e.validator.Audit(e.keySpaces(), "audit")
}

func (e *Engine) keySpaces() integrity.KeySpaces {
	ops := e.pending.All()
	subjects := make([]string, 0, len(ops))
	for _, op := range ops {
		subjects = append(subjects, op.CaseID)
	}
	titles := e.state.Titles()
	titleIDs := make([]string, 0, len(titles))
	for id := range titles {
		titleIDs = append(titleIDs, id)
	}
	provisional := e.state.ProvisionalCases()
	provIDs := make([]string, 0, len(provisional))
	for _, c := range provisional {
		provIDs = append(provIDs, c.ID)
	}
	return integrity.KeySpaces{
		Conversations:    e.state.ConversationIDs(),
		Titles:           titleIDs,
		TitleSources:     e.state.TitleSourceIDs(),
		PendingSubjects:  subjects,
		ProvisionalCases: provIDs,
	}
}

// repair validates the key spaces and folds provisional entries whose
// confirmed counterpart is already present into it.
func (e *Engine) repair(ctx context.Context, label string) {
	if e.validator.ValidateIntegrity(e.keySpaces(), label) {
		return
	}
	for prov, conf := range e.mappings.All() {
		if err := e.state.Rekey(ctx, prov, conf); err != nil {
			e.logger.Warn("repair dual representation", "provisional", prov, "confirmed", conf, "error", err)
		}
		if err := e.pending.Rebind(ctx, prov, conf); err != nil {
			e.logger.Warn("rebind operations", "provisional", prov, "confirmed", conf, "error", err)
		}
	}
}
