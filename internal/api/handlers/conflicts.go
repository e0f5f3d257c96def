// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wingedpig/casesync/internal/conflict"
)

// ConflictHandler handles conflict API requests.
type ConflictHandler struct {
	eng Engine
}

// NewConflictHandler creates a new conflict handler.
func NewConflictHandler(eng Engine) *ConflictHandler {
	return &ConflictHandler{eng: eng}
}

// ConflictView is a conflict waiting for a user decision.
type ConflictView struct {
	*conflict.Conflict
	State   conflict.State        `json:"state"`
	Merged  *conflict.MergeResult `json:"merged,omitempty"`
	Choices []conflict.Choice     `json:"choices"`
	Backups []conflict.Backup     `json:"backups,omitempty"`
}

func (h *ConflictHandler) view(hd *conflict.Handle) ConflictView {
	c := hd.Conflict()
	v := ConflictView{
		Conflict: c,
		State:    hd.State(),
		Choices:  conflict.Choices,
		Backups:  h.eng.Backups(c.Remote.CaseID),
	}
	if m, ok := hd.Merged(); ok {
		v.Merged = &m
	}
	return v
}

// List returns the conflicts awaiting a decision.
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	handles := h.eng.Conflicts()
	out := make([]ConflictView, 0, len(handles))
	for _, hd := range handles {
		out = append(out, h.view(hd))
	}
	WriteJSON(w, http.StatusOK, out)
}

// Get returns one awaiting conflict.
func (h *ConflictHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, hd := range h.eng.Conflicts() {
		if hd.Conflict().ID == id {
			WriteJSON(w, http.StatusOK, h.view(hd))
			return
		}
	}
	WriteError(w, http.StatusNotFound, ErrNotFound, "conflict not found")
}

// Resolve completes a conflict with the user's choice.
func (h *ConflictHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var uc conflict.UserChoice
	if err := decodeBody(r, &uc); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.eng.ResolveConflict(r.Context(), id, uc); err != nil {
		WriteEngineError(w, "resolve_conflict", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "choice": string(uc.Choice)})
}
