// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ident generates and classifies entity identifiers.
//
// Provisional identifiers are fabricated on the client before the backend has
// assigned identity. They always carry ProvisionalPrefix, so provenance is a
// pure function of an identifier's shape. Every other package asks this one
// instead of inspecting prefixes itself.
package ident

import (
	"strings"

	"github.com/google/uuid"
)

// ProvisionalPrefix marks identifiers minted on the client.
const ProvisionalPrefix = "opt_"

// Kind names the entity a provisional identifier stands in for.
type Kind string

const (
	KindCase    Kind = "case"
	KindMessage Kind = "msg"
)

// Provenance classifies an identifier by its shape.
type Provenance string

const (
	ProvenanceNone        Provenance = ""
	ProvenanceProvisional Provenance = "provisional"
	ProvenanceConfirmed   Provenance = "confirmed"
)

// Generate returns a new provisional identifier for the given kind.
func Generate(kind Kind) string {
	if kind == "" {
		kind = "x"
	}
	return ProvisionalPrefix + string(kind) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsProvisional reports whether id was minted by Generate.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix) && len(id) > len(ProvisionalPrefix)
}

// IsConfirmed reports whether id is a server-assigned identifier.
// The empty string is neither provisional nor confirmed.
func IsConfirmed(id string) bool {
	if id == "" || strings.TrimSpace(id) != id {
		return false
	}
	return !strings.HasPrefix(id, ProvisionalPrefix)
}

// Of returns the provenance of id.
func Of(id string) Provenance {
	switch {
	case IsProvisional(id):
		return ProvenanceProvisional
	case IsConfirmed(id):
		return ProvenanceConfirmed
	default:
		return ProvenanceNone
	}
}

// KindOf returns the kind embedded in a provisional identifier, or "" for
// anything else.
func KindOf(id string) Kind {
	if !IsProvisional(id) {
		return ""
	}
	rest := strings.TrimPrefix(id, ProvisionalPrefix)
	if i := strings.IndexByte(rest, '_'); i > 0 {
		return Kind(rest[:i])
	}
	return ""
}
