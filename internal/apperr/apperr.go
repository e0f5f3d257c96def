// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package apperr defines the error taxonomy shared by the sync engine.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies an error by how the engine must react to it.
type Kind string

const (
	// KindAuth is terminal for the operation and asks the user to log in again.
	KindAuth Kind = "auth"
	// KindNetwork is retryable and never rolls back optimistic state on its own.
	KindNetwork Kind = "network"
	// KindArchitecture is a programming error: an id of the wrong shape was
	// passed where the other shape was expected.
	KindArchitecture Kind = "architecture"
	// KindValidation covers requests the backend rejected as malformed.
	KindValidation Kind = "validation"
	// KindConflict is a routed decision, not a failure.
	KindConflict Kind = "conflict"
	KindNotFound Kind = "not_found"
	KindInternal Kind = "internal"
)

// Error is a classified error.
type Error struct {
	Kind    Kind
	Op      string
	Status  int // HTTP-style status when the error came from the backend
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Architecture reports an identifier-shape violation.
func Architecture(op, format string, args ...any) *Error {
	return &Error{Kind: KindArchitecture, Op: op, Message: fmt.Sprintf(format, args...)}
}

// FromStatus maps an HTTP-style status to a Kind.
func FromStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return KindNetwork
	case status >= 500:
		return KindNetwork
	case status >= 400:
		return KindValidation
	default:
		return KindInternal
	}
}

// KindOf classifies any error. Unclassified transport and context errors are
// treated as network failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return FromStatus(sc.StatusCode())
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindNetwork
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the user should be offered a retry for err.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindInternal, KindConflict:
		return true
	default:
		return false
	}
}

// UserError is the user-facing rendition of a failure.
type UserError struct {
	Kind    Kind   `json:"kind"`
	Op      string `json:"op"`
	CaseID  string `json:"case_id,omitempty"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

// ToUser converts err into a message with a recovery hint.
func ToUser(op, caseID string, err error) UserError {
	kind := KindOf(err)
	ue := UserError{Kind: kind, Op: op, CaseID: caseID, Message: err.Error()}
	switch kind {
	case KindAuth:
		ue.Hint = "Your session has expired. Sign in again to continue."
	case KindNetwork:
		ue.Hint = "The server could not be reached. Retry when you are back online."
	case KindValidation:
		ue.Hint = "The server rejected the request. Edit it and try again."
	case KindNotFound:
		ue.Hint = "The case no longer exists on the server. Refresh the case list."
	case KindConflict:
		ue.Hint = "The case changed elsewhere. Review the conflict before continuing."
	case KindArchitecture:
		ue.Hint = "An internal consistency check failed. The affected entry was dropped."
	default:
		ue.Hint = "Something went wrong. Retry or dismiss the operation."
	}
	return ue
}
