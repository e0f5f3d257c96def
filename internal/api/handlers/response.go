// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/wingedpig/casesync/internal/api/version"
	"github.com/wingedpig/casesync/internal/apperr"
	"github.com/wingedpig/casesync/internal/conflict"
	"github.com/wingedpig/casesync/internal/engine"
	"github.com/wingedpig/casesync/internal/pending"
)

// Response is the standard API response wrapper.
type Response struct {
	Data  interface{} `json:"data,omitempty"`
	Error *ErrorInfo  `json:"error,omitempty"`
	Meta  *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MetaInfo contains response metadata.
type MetaInfo struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// Common error codes
const (
	ErrNotFound      = "NOT_FOUND"
	ErrBadRequest    = "BAD_REQUEST"
	ErrInternalError = "INTERNAL_ERROR"
	ErrConflict      = "CONFLICT"
	ErrUnauthorized  = "UNAUTHORIZED"
	ErrUnavailable   = "UNAVAILABLE"
	ErrBackendError  = "BACKEND_ERROR"
	ErrInvalidID     = "INVALID_ID"
)

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	resp := Response{
		Data: data,
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteVersioned writes a JSON response shaped for the API version the
// request asked for.
func WriteVersioned(w http.ResponseWriter, r *http.Request, status int, endpoint string, data interface{}) {
	v := version.FromContext(r.Context())
	resp := Response{
		Data: version.Transform(v, endpoint, data),
		Meta: &MetaInfo{Timestamp: time.Now(), Version: v},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorWithDetails(w, status, code, message, nil)
}

// WriteErrorWithDetails writes an error response with details.
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	resp := Response{
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
			Details: details,
		},
		Meta: &MetaInfo{Timestamp: time.Now()},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// WriteEngineError maps an engine error onto a status and error code. The
// user-facing hint travels in the details.
func WriteEngineError(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	ue := apperr.ToUser(op, "", err)
	WriteErrorWithDetails(w, status, code, err.Error(), map[string]interface{}{
		"kind": string(ue.Kind),
		"hint": ue.Hint,
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrSubmitInProgress),
		errors.Is(err, pending.ErrNotFailed),
		errors.Is(err, pending.ErrNotRetryable),
		errors.Is(err, conflict.ErrAlreadyResolved):
		return http.StatusConflict, ErrConflict
	case errors.Is(err, engine.ErrCaseDeleted),
		errors.Is(err, engine.ErrConflictNotFound),
		errors.Is(err, pending.ErrNotFound):
		return http.StatusNotFound, ErrNotFound
	case errors.Is(err, conflict.ErrInvalidChoice),
		errors.Is(err, conflict.ErrNoMergedResult),
		errors.Is(err, conflict.ErrBackupNotFound):
		return http.StatusBadRequest, ErrBadRequest
	case errors.Is(err, engine.ErrClosed), errors.Is(err, engine.ErrRecovering):
		return http.StatusServiceUnavailable, ErrUnavailable
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest, ErrBadRequest
	case apperr.KindArchitecture:
		return http.StatusBadRequest, ErrInvalidID
	case apperr.KindAuth:
		return http.StatusUnauthorized, ErrUnauthorized
	case apperr.KindNetwork:
		return http.StatusBadGateway, ErrBackendError
	case apperr.KindNotFound:
		return http.StatusNotFound, ErrNotFound
	case apperr.KindConflict:
		return http.StatusConflict, ErrConflict
	}
	return http.StatusInternalServerError, ErrInternalError
}

// decodeBody reads a JSON request body into v.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
