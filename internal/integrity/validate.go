// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package integrity

import (
	"github.com/wingedpig/casesync/internal/ident"
)

// KeySpaces is a snapshot of the id-keyed collections the engine persists.
type KeySpaces struct {
	Conversations    []string
	Titles           []string
	TitleSources     []string
	PendingSubjects  []string
	ProvisionalCases []string
}

// Audit returns every violation found in state without logging it.
func (v *Validator) Audit(state KeySpaces, context string) []Violation {
	var out []Violation
	spaces := []struct {
		name string
		ids  []string
	}{
		{"conversations", state.Conversations},
		{"titles", state.Titles},
		{"title_sources", state.TitleSources},
		{"pending_operations", state.PendingSubjects},
	}
	for _, sp := range spaces {
		out = append(out, v.auditSpace(sp.ids, context+"/"+sp.name)...)
	}

	ctx := context + "/provisional_cases"
	for _, id := range state.ProvisionalCases {
		if !ident.IsProvisional(id) {
			out = append(out, Violation{
				Kind: Contamination, Context: ctx, ID: id,
				Detail: "confirmed id in provisional case list",
			})
		}
	}
	return out
}

func (v *Validator) auditSpace(ids []string, context string) []Violation {
	var out []Violation
	present := make(map[string]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	for _, id := range ids {
		switch ident.Of(id) {
		case ident.ProvenanceNone:
			out = append(out, Violation{Kind: ShapeMismatch, Context: context, ID: id, Detail: "key has no valid id shape"})
		case ident.ProvenanceProvisional:
			if c, ok := v.confirmedFor(id); ok && present[c] {
				out = append(out, Violation{
					Kind: DualRepresentation, Context: context, ID: id, Counterpart: c,
					Detail: "both provisional and confirmed keys present",
				})
			}
		}
	}
	return out
}

// ValidateIntegrity logs every violation in state and reports whether there
// were none. It never fails the caller.
func (v *Validator) ValidateIntegrity(state KeySpaces, context string) bool {
	violations := v.Audit(state, context)
	v.report(violations...)
	return len(violations) == 0
}
