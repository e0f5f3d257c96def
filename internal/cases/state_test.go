// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cases

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/casesync/internal/apperr"
	"github.com/wingedpig/casesync/internal/ident"
	"github.com/wingedpig/casesync/internal/store"
)

func newState(t *testing.T) (*State, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewState(st, nil), st
}

func TestState_ProvisionalCaseLifecycle(t *testing.T) {
	ctx := context.Background()
	s, st := newState(t)

	id := ident.Generate(ident.KindCase)
	require.NoError(t, s.AddProvisionalCase(ctx, Case{ID: id, Title: "Login outage", Status: StatusOpen, CreatedAt: time.Now()}))

	assert.True(t, s.HasConversation(id))
	assert.Empty(t, s.Conversation(id))
	title, src, ok := s.Title(id)
	require.True(t, ok)
	assert.Equal(t, "Login outage", title)
	assert.Equal(t, TitleFromUser, src)

	// A reload sees the same state.
	reloaded := NewState(st, nil)
	require.NoError(t, reloaded.Load(ctx))
	list := reloaded.ProvisionalCases()
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	require.NoError(t, s.RemoveCase(ctx, id))
	assert.False(t, s.HasConversation(id))
	assert.Empty(t, s.ProvisionalCases())
	_, _, ok = s.Title(id)
	assert.False(t, ok)
}

func TestState_AddProvisionalCaseRejectsConfirmed(t *testing.T) {
	s, _ := newState(t)
	err := s.AddProvisionalCase(context.Background(), Case{ID: "case_123"})
	assert.True(t, apperr.Is(err, apperr.KindArchitecture))
}

func TestState_ItemMutations(t *testing.T) {
	ctx := context.Background()
	s, _ := newState(t)

	q := ConversationItem{ID: ident.Generate(ident.KindMessage), Question: Str("why?"), Timestamp: time.Now(), Optimistic: true}
	a := ConversationItem{ID: ident.Generate(ident.KindMessage), Timestamp: time.Now(), Optimistic: true, Loading: true}
	require.NoError(t, s.AppendItems(ctx, "case_1", q, a))

	found, err := s.UpdateItem(ctx, "case_1", a.ID, func(it *ConversationItem) {
		it.ID = "msg_2"
		it.Response = Str("because")
		it.Optimistic = false
		it.Loading = false
	})
	require.NoError(t, err)
	assert.True(t, found)

	items := s.Conversation("case_1")
	require.Len(t, items, 2)
	assert.Equal(t, "msg_2", items[1].ID)
	assert.Equal(t, "because", items[1].Text())
	assert.Equal(t, "assistant", items[1].Role())
	assert.Equal(t, "user", items[0].Role())

	found, err = s.UpdateItem(ctx, "case_1", "missing", func(*ConversationItem) {})
	require.NoError(t, err)
	assert.False(t, found)

	n, err := s.RemoveItems(ctx, "case_1", q.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, s.Conversation("case_1"), 1)

	// Returned slices are copies.
	items = s.Conversation("case_1")
	items[0].ID = "mutated"
	assert.Equal(t, "msg_2", s.Conversation("case_1")[0].ID)
}

func TestState_RejectsEmptyCaseID(t *testing.T) {
	s, _ := newState(t)
	err := s.AppendItems(context.Background(), "", ConversationItem{ID: "m"})
	assert.True(t, apperr.Is(err, apperr.KindArchitecture))
}

func TestState_Rekey(t *testing.T) {
	ctx := context.Background()
	s, _ := newState(t)

	p := ident.Generate(ident.KindCase)
	require.NoError(t, s.AddProvisionalCase(ctx, Case{ID: p, Title: "Draft", CreatedAt: time.Now()}))
	require.NoError(t, s.AppendItems(ctx, p, ConversationItem{ID: "m1", Question: Str("hi")}))
	require.NoError(t, s.Pin(ctx, p))

	require.NoError(t, s.Rekey(ctx, p, "case_123"))

	assert.False(t, s.HasConversation(p))
	assert.Len(t, s.Conversation("case_123"), 1)
	title, src, ok := s.Title("case_123")
	require.True(t, ok)
	assert.Equal(t, "Draft", title)
	assert.Equal(t, TitleFromUser, src)
	assert.True(t, s.IsPinned("case_123"))
	assert.False(t, s.IsPinned(p))
	assert.Empty(t, s.ProvisionalCases())

	err := s.Rekey(ctx, "case_123", p)
	assert.True(t, apperr.Is(err, apperr.KindArchitecture))
}

func TestState_ServerTitlesDoNotOverrideUserTitles(t *testing.T) {
	ctx := context.Background()
	s, _ := newState(t)

	changed, err := s.MergeServerTitle(ctx, "case_1", "Server title")
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, s.SetTitle(ctx, "case_1", "Mine", TitleFromUser))
	changed, err = s.MergeServerTitle(ctx, "case_1", "Server title")
	require.NoError(t, err)
	assert.False(t, changed)
	title, _, _ := s.Title("case_1")
	assert.Equal(t, "Mine", title)

	require.NoError(t, s.MarkTitleSynced(ctx, "case_1", "Mine"))
	_, src, _ := s.Title("case_1")
	assert.Equal(t, TitleFromServer, src)

	changed, err = s.MergeServerTitle(ctx, "case_1", "Renamed elsewhere")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestState_ReplaceFromBackend(t *testing.T) {
	ctx := context.Background()
	s, st := newState(t)

	p := ident.Generate(ident.KindCase)
	require.NoError(t, s.AddProvisionalCase(ctx, Case{ID: p, Title: "Never sent"}))
	require.NoError(t, s.Pin(ctx, "case_1"))
	require.NoError(t, s.Pin(ctx, "case_gone"))

	require.NoError(t, s.ReplaceFromBackend(ctx,
		map[string][]ConversationItem{"case_1": {{ID: "m1", Question: Str("q")}}},
		map[string]string{"case_1": "Recovered"},
	))

	assert.Empty(t, s.ProvisionalCases())
	assert.False(t, s.HasConversation(p))
	assert.Equal(t, []string{"case_1"}, s.ConversationIDs())
	assert.Equal(t, []string{"case_1"}, s.Pinned())
	_, src, _ := s.Title("case_1")
	assert.Equal(t, TitleFromServer, src)

	var titles map[string]string
	ok, err := store.GetJSON(ctx, st, store.KeyTitles, &titles)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"case_1": "Recovered"}, titles)
}

func TestState_LoadDropsConfirmedFromProvisionalList(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, store.PutJSON(ctx, st, store.KeyProvisionalCases, []Case{
		{ID: "case_1"},
		{ID: "opt_case_abc"},
	}))

	s := NewState(st, nil)
	require.NoError(t, s.Load(ctx))
	list := s.ProvisionalCases()
	require.Len(t, list, 1)
	assert.Equal(t, "opt_case_abc", list[0].ID)
}

func TestCase_SortTime(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Case{CreatedAt: created}
	assert.Equal(t, created, c.SortTime())
	c.UpdatedAt = created.Add(time.Hour)
	assert.Equal(t, created.Add(time.Hour), c.SortTime())
}
