// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/casesync/internal/apperr"
	"github.com/wingedpig/casesync/internal/pending"
)

// OperationHandler handles pending operation API requests.
type OperationHandler struct {
	eng Engine
}

// NewOperationHandler creates a new operation handler.
func NewOperationHandler(eng Engine) *OperationHandler {
	return &OperationHandler{eng: eng}
}

// OperationView is a pending operation with its user-facing error.
type OperationView struct {
	pending.Operation
	Error *apperr.UserError `json:"error,omitempty"`
}

func operationView(op pending.Operation) OperationView {
	v := OperationView{Operation: op}
	if op.Status == pending.StatusFailed && op.Reason != "" {
		ue := apperr.ToUser(string(op.Type), op.CaseID, errors.New(op.Reason))
		v.Error = &ue
	}
	return v
}

func operationViews(ops []pending.Operation) []OperationView {
	out := make([]OperationView, 0, len(ops))
	for _, op := range ops {
		out = append(out, operationView(op))
	}
	return out
}

// List returns every tracked operation. ?status= filters by status.
func (h *OperationHandler) List(w http.ResponseWriter, r *http.Request) {
	ops := h.eng.Operations()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := ops[:0:0]
		for _, op := range ops {
			if string(op.Status) == status {
				filtered = append(filtered, op)
			}
		}
		ops = filtered
	}
	WriteVersioned(w, r, http.StatusOK, "operations.list", operationViews(ops))
}

// Get returns one operation.
func (h *OperationHandler) Get(w http.ResponseWriter, r *http.Request) {
	op, ok := h.eng.Operation(mux.Vars(r)["id"])
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "operation not found")
		return
	}
	WriteVersioned(w, r, http.StatusOK, "operations.get", operationView(op))
}

// Retry replays a failed operation and waits for the outcome.
func (h *OperationHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.eng.Retry(r.Context(), id); err != nil {
		WriteEngineError(w, "retry", err)
		return
	}
	op, ok := h.eng.Operation(id)
	if !ok {
		WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(pending.StatusCompleted)})
		return
	}
	WriteVersioned(w, r, http.StatusOK, "operations.get", operationView(op))
}

// Dismiss rolls back an operation's optimistic effects and forgets it.
func (h *OperationHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.eng.Dismiss(r.Context(), id); err != nil {
		WriteEngineError(w, "dismiss", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "dismissed"})
}
