// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package integrity keeps provisional and confirmed entities from being
// mixed. Every collection the engine exposes or persists passes through
// the sanitize and merge functions here.
package integrity

import (
	"log/slog"
	"sort"
	"time"

	"github.com/wingedpig/casesync/internal/ident"
)

// Entity is anything identified by a provisional or confirmed id.
type Entity interface {
	EntityID() string
	SortTime() time.Time
}

// flagged is implemented by entities that carry an explicit optimistic flag.
// The flag must agree with the id shape.
type flagged interface {
	IsOptimistic() bool
}

// Mappings resolves a provisional id to its confirmed counterpart.
type Mappings interface {
	ConfirmedID(provisional string) (string, bool)
}

// ViolationKind classifies an integrity violation.
type ViolationKind string

const (
	// Contamination is an entry of the wrong provenance in a single-provenance
	// collection.
	Contamination ViolationKind = "contamination"
	// Collision is a provisional-list entry whose id equals a confirmed id.
	Collision ViolationKind = "collision"
	// Superseded is a provisional entry whose mapped confirmed entry is present.
	Superseded ViolationKind = "superseded"
	// DualRepresentation is a key space holding both ids of one entity.
	DualRepresentation ViolationKind = "dual_representation"
	// ShapeMismatch is an entry whose flags disagree with its id, or whose id
	// has no valid shape at all.
	ShapeMismatch ViolationKind = "shape_mismatch"
	// Duplicate is the same id appearing twice in one list.
	Duplicate ViolationKind = "duplicate"
)

// Violation describes one dropped or inconsistent entry.
type Violation struct {
	Kind        ViolationKind `json:"kind"`
	Context     string        `json:"context"`
	ID          string        `json:"id"`
	Counterpart string        `json:"counterpart,omitempty"`
	Detail      string        `json:"detail,omitempty"`
}

// Config configures a Validator.
type Config struct {
	Mappings Mappings
	Logger   *slog.Logger
	// OnViolation, if set, is called for every violation found.
	OnViolation func(Violation)
}

// Validator applies the provenance policy.
type Validator struct {
	mappings    Mappings
	logger      *slog.Logger
	onViolation func(Violation)
}

// NewValidator creates a validator.
func NewValidator(cfg Config) *Validator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Validator{mappings: cfg.Mappings, logger: logger, onViolation: cfg.OnViolation}
}

func (v *Validator) report(violations ...Violation) {
	for _, vi := range violations {
		v.logger.Warn("integrity violation",
			"kind", vi.Kind, "context", vi.Context, "id", vi.ID,
			"counterpart", vi.Counterpart, "detail", vi.Detail)
		if v.onViolation != nil {
			v.onViolation(vi)
		}
	}
}

func (v *Validator) confirmedFor(id string) (string, bool) {
	if v.mappings == nil {
		return "", false
	}
	return v.mappings.ConfirmedID(id)
}

// SanitizeConfirmed returns the confirmed-shaped entries of list. Anything
// else is logged as contamination and dropped.
func SanitizeConfirmed[T Entity](v *Validator, list []T, context string) []T {
	out, violations := sanitize(list, ident.ProvenanceConfirmed, context)
	v.report(violations...)
	return out
}

// SanitizeProvisional is the mirror of SanitizeConfirmed.
func SanitizeProvisional[T Entity](v *Validator, list []T, context string) []T {
	out, violations := sanitize(list, ident.ProvenanceProvisional, context)
	v.report(violations...)
	return out
}

func sanitize[T Entity](list []T, want ident.Provenance, context string) ([]T, []Violation) {
	out := make([]T, 0, len(list))
	var violations []Violation
	seen := make(map[string]bool, len(list))
	for _, e := range list {
		id := e.EntityID()
		got := ident.Of(id)
		if got != want {
			kind := Contamination
			if got == ident.ProvenanceNone {
				kind = ShapeMismatch
			}
			violations = append(violations, Violation{
				Kind: kind, Context: context, ID: id,
				Detail: "expected " + string(want) + " id",
			})
			continue
		}
		if f, ok := any(e).(flagged); ok && f.IsOptimistic() != (got == ident.ProvenanceProvisional) {
			violations = append(violations, Violation{
				Kind: ShapeMismatch, Context: context, ID: id,
				Detail: "optimistic flag disagrees with id shape",
			})
			continue
		}
		if seen[id] {
			violations = append(violations, Violation{Kind: Duplicate, Context: context, ID: id})
			continue
		}
		seen[id] = true
		out = append(out, e)
	}
	return out, violations
}

// MergeResult is the outcome of Merge.
type MergeResult[T Entity] struct {
	Entities        []T
	RealCount       int
	OptimisticCount int
	Violations      []Violation
}

// Merge combines confirmed and provisional entries into one list. Confirmed
// entries always win. A provisional entry survives only when no confirmed
// entry for the same logical entity is present, judged through the id
// mappings. Entries are ordered by SortTime descending, then by id.
func Merge[T Entity](v *Validator, confirmed, provisional []T, context string) MergeResult[T] {
	var res MergeResult[T]

	conf, violations := sanitize(confirmed, ident.ProvenanceConfirmed, context)
	res.Violations = append(res.Violations, violations...)

	byID := make(map[string]T, len(conf)+len(provisional))
	for _, e := range conf {
		byID[e.EntityID()] = e
	}

	// Literal collisions are detected before shape filtering so they are
	// reported as collisions rather than contamination.
	candidates := make([]T, 0, len(provisional))
	for _, e := range provisional {
		id := e.EntityID()
		if _, clash := byID[id]; clash {
			res.Violations = append(res.Violations, Violation{
				Kind: Collision, Context: context, ID: id, Counterpart: id,
				Detail: "provisional entry collides with confirmed entry",
			})
			continue
		}
		candidates = append(candidates, e)
	}
	prov, violations := sanitize(candidates, ident.ProvenanceProvisional, context)
	res.Violations = append(res.Violations, violations...)

	optimistic := 0
	for _, e := range prov {
		id := e.EntityID()
		if c, ok := v.confirmedFor(id); ok {
			if _, present := byID[c]; present {
				res.Violations = append(res.Violations, Violation{
					Kind: Superseded, Context: context, ID: id, Counterpart: c,
					Detail: "confirmed entry already present",
				})
				continue
			}
		}
		byID[id] = e
		optimistic++
	}

	res.Entities = make([]T, 0, len(byID))
	for _, e := range byID {
		res.Entities = append(res.Entities, e)
	}
	SortByRecency(res.Entities)
	res.RealCount = len(res.Entities) - optimistic
	res.OptimisticCount = optimistic

	v.report(res.Violations...)
	return res
}

// SortByRecency orders entities by SortTime descending, breaking ties by id.
func SortByRecency[T Entity](list []T) {
	sort.SliceStable(list, func(i, j int) bool {
		ti, tj := list[i].SortTime(), list[j].SortTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return list[i].EntityID() < list[j].EntityID()
	})
}
