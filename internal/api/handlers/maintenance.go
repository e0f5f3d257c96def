// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/wingedpig/casesync/internal/integrity"
)

// MaintenanceHandler exposes recovery, eviction and integrity checks.
type MaintenanceHandler struct {
	eng Engine
}

// NewMaintenanceHandler creates a new maintenance handler.
func NewMaintenanceHandler(eng Engine) *MaintenanceHandler {
	return &MaintenanceHandler{eng: eng}
}

// Recover rebuilds local state from the backend.
func (h *MaintenanceHandler) Recover(w http.ResponseWriter, r *http.Request) {
	res := h.eng.Recover(r.Context())
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	WriteJSON(w, status, res)
}

// RecoveryStatus reports whether a recovery is running. Changes made
// meanwhile are refused with 503.
func (h *MaintenanceHandler) RecoveryStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]bool{"in_progress": h.eng.RecoveryInProgress()})
}

// Evict runs one eviction pass now.
func (h *MaintenanceHandler) Evict(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.eng.Evict(r.Context()))
}

// Integrity audits the local store without repairing it.
func (h *MaintenanceHandler) Integrity(w http.ResponseWriter, r *http.Request) {
	violations := h.eng.CheckIntegrity()
	if violations == nil {
		violations = []integrity.Violation{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ok":         len(violations) == 0,
		"violations": violations,
	})
}

// Health reports that the server is up.
func (h *MaintenanceHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
