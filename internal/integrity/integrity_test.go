// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package integrity

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/casesync/internal/cases"
	"github.com/wingedpig/casesync/internal/ident"
	"github.com/wingedpig/casesync/internal/idmap"
	"github.com/wingedpig/casesync/internal/store"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

func newValidator(t *testing.T) (*Validator, *idmap.Manager, *[]Violation) {
	t.Helper()
	m := idmap.NewManager(store.NewMemoryStore(), nil)
	var seen []Violation
	v := NewValidator(Config{Mappings: m, OnViolation: func(vi Violation) { seen = append(seen, vi) }})
	return v, m, &seen
}

func ids[T Entity](list []T) []string {
	out := make([]string, len(list))
	for i, e := range list {
		out[i] = e.EntityID()
	}
	return out
}

func TestSanitize(t *testing.T) {
	v, _, seen := newValidator(t)
	p := ident.Generate(ident.KindCase)
	list := []cases.Case{
		{ID: "case_1"},
		{ID: p},
		{ID: ""},
		{ID: "case_1"},
	}

	conf := SanitizeConfirmed(v, list, "cases")
	assert.Equal(t, []string{"case_1"}, ids(conf))
	require.Len(t, *seen, 3)
	assert.Equal(t, Contamination, (*seen)[0].Kind)
	assert.Equal(t, ShapeMismatch, (*seen)[1].Kind)
	assert.Equal(t, Duplicate, (*seen)[2].Kind)

	*seen = nil
	prov := SanitizeProvisional(v, list, "cases")
	assert.Equal(t, []string{p}, ids(prov))
	assert.Len(t, *seen, 3)
}

func TestSanitize_OptimisticFlagMustMatchShape(t *testing.T) {
	v, _, seen := newValidator(t)
	items := []cases.ConversationItem{
		{ID: "msg_1", Optimistic: true},
		{ID: "msg_2"},
	}
	out := SanitizeConfirmed(v, items, "conversation")
	assert.Equal(t, []string{"msg_2"}, ids(out))
	require.Len(t, *seen, 1)
	assert.Equal(t, ShapeMismatch, (*seen)[0].Kind)
}

func TestMerge_ConfirmedWinsAndOrdering(t *testing.T) {
	ctx := context.Background()
	v, m, _ := newValidator(t)

	reconciled := ident.Generate(ident.KindCase)
	fresh := ident.Generate(ident.KindCase)
	require.NoError(t, m.AddMapping(ctx, reconciled, "case_123"))

	confirmed := []cases.Case{
		{ID: "case_123", CreatedAt: at(0), UpdatedAt: at(5)},
		{ID: "case_050", CreatedAt: at(1)},
	}
	provisional := []cases.Case{
		{ID: reconciled, CreatedAt: at(10)},
		{ID: fresh, CreatedAt: at(3)},
	}

	res := Merge(v, confirmed, provisional, "cases")
	assert.Equal(t, []string{"case_123", fresh, "case_050"}, ids(res.Entities))
	assert.Equal(t, 2, res.RealCount)
	assert.Equal(t, 1, res.OptimisticCount)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, Superseded, res.Violations[0].Kind)
	assert.Equal(t, reconciled, res.Violations[0].ID)
	assert.Equal(t, "case_123", res.Violations[0].Counterpart)
}

func TestMerge_LiteralCollision(t *testing.T) {
	v, _, _ := newValidator(t)

	confirmed := []cases.Case{{ID: "case_1", Title: "server"}}
	provisional := []cases.Case{{ID: "case_1", Title: "local"}}

	res := Merge(v, confirmed, provisional, "cases")
	require.Len(t, res.Entities, 1)
	assert.Equal(t, "server", res.Entities[0].Title)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, Collision, res.Violations[0].Kind)
}

func TestMerge_Idempotent(t *testing.T) {
	ctx := context.Background()
	v, m, _ := newValidator(t)

	mapped := ident.Generate(ident.KindCase)
	require.NoError(t, m.AddMapping(ctx, mapped, "case_2"))
	confirmed := []cases.Case{
		{ID: "case_1", CreatedAt: at(1)},
		{ID: "case_2", CreatedAt: at(2)},
		{ID: ident.Generate(ident.KindCase), CreatedAt: at(3)}, // contamination
	}
	provisional := []cases.Case{
		{ID: mapped, CreatedAt: at(4)},
		{ID: ident.Generate(ident.KindCase), CreatedAt: at(5)},
		{ID: ident.Generate(ident.KindCase), CreatedAt: at(5)},
	}

	first := Merge(v, confirmed, provisional, "cases")
	second := Merge(v, first.Entities, first.Entities, "cases")

	a, b := ids(first.Entities), ids(second.Entities)
	sort.Strings(a)
	sort.Strings(b)
	assert.Equal(t, a, b)
	assert.Equal(t, ids(first.Entities), ids(second.Entities), "ordering is stable too")
	assert.Equal(t, first.RealCount, second.RealCount)
	assert.Equal(t, first.OptimisticCount, second.OptimisticCount)
}

func TestMerge_NoMappings(t *testing.T) {
	v := NewValidator(Config{})
	p := ident.Generate(ident.KindCase)
	res := Merge(v, []cases.Case{{ID: "case_1"}}, []cases.Case{{ID: p}}, "cases")
	assert.Len(t, res.Entities, 2)
	assert.Empty(t, res.Violations)
}

func TestSortByRecency_FallsBackToCreatedAt(t *testing.T) {
	list := []cases.Case{
		{ID: "b", CreatedAt: at(1)},
		{ID: "a", CreatedAt: at(1)},
		{ID: "c", CreatedAt: at(0), UpdatedAt: at(9)},
	}
	SortByRecency(list)
	assert.Equal(t, []string{"c", "a", "b"}, ids(list))
}

func TestValidateIntegrity(t *testing.T) {
	ctx := context.Background()
	v, m, seen := newValidator(t)

	p := ident.Generate(ident.KindCase)
	other := ident.Generate(ident.KindCase)
	require.NoError(t, m.AddMapping(ctx, p, "case_9"))

	clean := KeySpaces{
		Conversations:    []string{"case_1", other},
		Titles:           []string{"case_1", other},
		PendingSubjects:  []string{other},
		ProvisionalCases: []string{other},
	}
	assert.True(t, v.ValidateIntegrity(clean, "test"))
	assert.Empty(t, *seen)

	dirty := KeySpaces{
		Conversations:    []string{p, "case_9"},
		Titles:           []string{""},
		PendingSubjects:  []string{p, "case_9"},
		ProvisionalCases: []string{"case_9"},
	}
	assert.False(t, v.ValidateIntegrity(dirty, "test"))

	kinds := map[ViolationKind]int{}
	for _, vi := range *seen {
		kinds[vi.Kind]++
	}
	assert.Equal(t, 2, kinds[DualRepresentation])
	assert.Equal(t, 1, kinds[ShapeMismatch])
	assert.Equal(t, 1, kinds[Contamination])
}
