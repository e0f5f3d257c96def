// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/gorilla/mux"

	"github.com/wingedpig/casesync/internal/cases"
	"github.com/wingedpig/casesync/internal/conflict"
	"github.com/wingedpig/casesync/internal/pending"
)

// maxUploadSize bounds document uploads.
const maxUploadSize = 32 << 20

// CaseHandler handles case and conversation API requests.
type CaseHandler struct {
	eng Engine
}

// NewCaseHandler creates a new case handler.
func NewCaseHandler(eng Engine) *CaseHandler {
	return &CaseHandler{eng: eng}
}

// CaseView is a case as the UI shows it.
type CaseView struct {
	cases.Case
	Provisional bool `json:"provisional"`
	Pinned      bool `json:"pinned"`
	Active      bool `json:"active"`
}

func (h *CaseHandler) view(c cases.Case) CaseView {
	return CaseView{
		Case:        c,
		Provisional: c.IsProvisional(),
		Pinned:      h.eng.IsPinned(c.ID),
		Active:      h.eng.ActiveCase() == c.ID,
	}
}

func (h *CaseHandler) views(list []cases.Case) []CaseView {
	out := make([]CaseView, 0, len(list))
	for _, c := range list {
		out = append(out, h.view(c))
	}
	return out
}

type titleRequest struct {
	Title string `json:"title"`
}

type messageRequest struct {
	Text string `json:"text"`
}

// List returns every case, confirmed and provisional, newest first.
func (h *CaseHandler) List(w http.ResponseWriter, r *http.Request) {
	WriteVersioned(w, r, http.StatusOK, "cases.list", h.views(h.eng.Cases()))
}

// Refresh pulls the case list from the backend.
func (h *CaseHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	list, err := h.eng.RefreshCases(r.Context())
	if err != nil {
		WriteEngineError(w, "refresh_cases", err)
		return
	}
	WriteVersioned(w, r, http.StatusOK, "cases.list", h.views(list))
}

// Create makes a provisional case. The backend call runs in the background.
func (h *CaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	// An empty body creates an untitled case.
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}
	c, err := h.eng.CreateCase(r.Context(), req.Title)
	if err != nil {
		WriteEngineError(w, string(pending.TypeCreateCase), err)
		return
	}
	WriteVersioned(w, r, http.StatusAccepted, "cases.get", h.view(c))
}

// Get returns one case by either of its ids.
func (h *CaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	c, ok := h.eng.Case(mux.Vars(r)["id"])
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "case not found")
		return
	}
	WriteVersioned(w, r, http.StatusOK, "cases.get", h.view(c))
}

// Rename changes a case title. The server copy is updated after a quiet
// period.
func (h *CaseHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req titleRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.eng.RenameCase(r.Context(), id, req.Title); err != nil {
		WriteEngineError(w, string(pending.TypeUpdateTitle), err)
		return
	}
	c, ok := h.eng.Case(id)
	if !ok {
		WriteError(w, http.StatusNotFound, ErrNotFound, "case not found")
		return
	}
	WriteVersioned(w, r, http.StatusOK, "cases.get", h.view(c))
}

// Delete removes a case locally and on the server.
func (h *CaseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.eng.DeleteCase(r.Context(), id); err != nil {
		WriteEngineError(w, "delete_case", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

// Pin protects a case from eviction.
func (h *CaseHandler) Pin(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.eng.PinCase(r.Context(), id); err != nil {
		WriteEngineError(w, "pin_case", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "pinned": true})
}

// Unpin lifts eviction protection.
func (h *CaseHandler) Unpin(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.eng.UnpinCase(r.Context(), id); err != nil {
		WriteEngineError(w, "unpin_case", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"id": id, "pinned": false})
}

// Activate marks the case the user is looking at.
func (h *CaseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.eng.SetActiveCase(id)
	WriteJSON(w, http.StatusOK, map[string]string{"active": id})
}

// Conversation returns the conversation of a case.
func (h *CaseHandler) Conversation(w http.ResponseWriter, r *http.Request) {
	items := h.eng.Conversation(mux.Vars(r)["id"])
	if items == nil {
		items = []cases.ConversationItem{}
	}
	WriteVersioned(w, r, http.StatusOK, "conversation.get", items)
}

// Submit sends a message. The reply arrives asynchronously; the response
// names the pending operation tracking it.
func (h *CaseHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "invalid request body: "+err.Error())
		return
	}
	opID, err := h.eng.SubmitMessage(r.Context(), id, req.Text)
	if err != nil {
		WriteEngineError(w, string(pending.TypeSubmitQuery), err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"operation_id": opID, "case_id": id})
}

// Sync fetches the case history from the backend and merges it.
func (h *CaseHandler) Sync(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.eng.SyncCase(r.Context(), id); err != nil {
		WriteEngineError(w, "sync_case", err)
		return
	}
	h.Conversation(w, r)
}

// Upload attaches a document. Uploads to a provisional case wait for its
// confirmation.
func (h *CaseHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, ErrBadRequest, "missing file: "+err.Error())
		return
	}
	defer file.Close()

	doc, err := h.eng.UploadDocument(r.Context(), id, filepath.Base(header.Filename), file)
	if err != nil {
		WriteEngineError(w, "upload_document", err)
		return
	}
	WriteJSON(w, http.StatusCreated, doc)
}

// Pending lists the unfinished operations on a case.
func (h *CaseHandler) Pending(w http.ResponseWriter, r *http.Request) {
	WriteVersioned(w, r, http.StatusOK, "operations.list", operationViews(h.eng.PendingFor(mux.Vars(r)["id"])))
}

// Backups lists the conflict backups kept for a case.
func (h *CaseHandler) Backups(w http.ResponseWriter, r *http.Request) {
	list := h.eng.Backups(mux.Vars(r)["id"])
	if list == nil {
		list = []conflict.Backup{}
	}
	WriteJSON(w, http.StatusOK, list)
}
