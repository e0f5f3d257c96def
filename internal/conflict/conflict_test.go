// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package conflict

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/casesync/internal/cases"
	"github.com/wingedpig/casesync/internal/events"
	"github.com/wingedpig/casesync/internal/ident"
	"github.com/wingedpig/casesync/internal/idmap"
	"github.com/wingedpig/casesync/internal/store"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func q(id, text string, ts time.Time) cases.ConversationItem {
	return cases.ConversationItem{ID: id, Question: cases.Str(text), Timestamp: ts}
}

func a(id, text string, ts time.Time) cases.ConversationItem {
	return cases.ConversationItem{ID: id, Response: cases.Str(text), Timestamp: ts}
}

type fixture struct {
	resolver *Resolver
	mappings *idmap.Manager
	backups  *BackupStore
	bus      *events.MemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	bus := events.NewMemoryBus(events.MemoryBusConfig{})
	t.Cleanup(func() { bus.Close() })
	f := &fixture{
		mappings: idmap.NewManager(st, nil),
		backups:  NewBackupStore(st, 0),
		bus:      bus,
	}
	f.resolver = NewResolver(Config{Mappings: f.mappings, Backups: f.backups, Bus: bus})
	return f
}

func remoteSnapshot() Snapshot {
	return Snapshot{
		CaseID:    "case_1",
		Title:     "Checkout errors",
		Status:    cases.StatusOpen,
		UpdatedAt: t0,
		Items: []cases.ConversationItem{
			q("m1", "what broke?", t0.Add(-2*time.Minute)),
			a("m2", "the payment gateway", t0.Add(-time.Minute)),
		},
	}
}

func TestDetect_Equivalent(t *testing.T) {
	f := newFixture(t)
	local := remoteSnapshot()
	// Different ids for the same content are not a divergence.
	local.Items[0].ID = "opt_msg_x"
	assert.Nil(t, f.resolver.Detect(local, remoteSnapshot()))
}

func TestDetect_DifferentEntities(t *testing.T) {
	f := newFixture(t)
	local := remoteSnapshot()
	local.CaseID = "case_2"
	local.Title = "other"
	assert.Nil(t, f.resolver.Detect(local, remoteSnapshot()))

	unmapped := remoteSnapshot()
	unmapped.CaseID = ident.Generate(ident.KindCase)
	unmapped.Title = "other"
	assert.Nil(t, f.resolver.Detect(unmapped, remoteSnapshot()))
}

func TestDetect_Types(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := ident.Generate(ident.KindCase)
	require.NoError(t, f.mappings.AddMapping(ctx, p, "case_1"))

	t.Run("id_reconciliation", func(t *testing.T) {
		local := remoteSnapshot()
		local.CaseID = p
		local.Title = "Checkout errors (draft)"
		c := f.resolver.Detect(local, remoteSnapshot())
		require.NotNil(t, c)
		assert.Equal(t, TypeIDReconciliation, c.Type)
	})

	t.Run("concurrent_operations", func(t *testing.T) {
		local := remoteSnapshot()
		local.Title = "Renamed"
		local.PendingOps = []string{"op1", "op2"}
		c := f.resolver.Detect(local, remoteSnapshot())
		require.NotNil(t, c)
		assert.Equal(t, TypeConcurrentOperations, c.Type)
		assert.Equal(t, SeverityHigh, c.Severity)
		assert.Equal(t, []string{"op1", "op2"}, c.OperationIDs)
	})

	t.Run("cross_tab", func(t *testing.T) {
		local := remoteSnapshot()
		local.Title = "Renamed in this tab"
		local.Origin = "tab-a"
		remote := remoteSnapshot()
		remote.Origin = "tab-b"
		c := f.resolver.Detect(local, remote)
		require.NotNil(t, c)
		assert.Equal(t, TypeCrossTab, c.Type)
	})

	t.Run("data_sync", func(t *testing.T) {
		local := remoteSnapshot()
		local.Title = "Something else"
		local.Items = []cases.ConversationItem{q("m9", "unrelated", t0)}
		c := f.resolver.Detect(local, remoteSnapshot())
		require.NotNil(t, c)
		assert.Equal(t, TypeDataSync, c.Type)
		assert.Less(t, c.Similarity, 0.8)
	})

	t.Run("small drift is not a conflict", func(t *testing.T) {
		remote := remoteSnapshot()
		for i := 0; i < 10; i++ {
			remote.Items = append(remote.Items, q("r"+string(rune('a'+i)), "msg"+string(rune('a'+i)), t0))
		}
		local := remote.clone()
		local.Items = local.Items[:len(local.Items)-1]
		assert.Nil(t, f.resolver.Detect(local, remote))
	})
}

func TestSimilarity(t *testing.T) {
	s := remoteSnapshot()
	assert.Equal(t, 1.0, Similarity(s, s))
	assert.Equal(t, 1.0, Similarity(Snapshot{}, Snapshot{}))

	other := s.clone()
	other.Title = "x"
	other.Items = nil
	other.Status = ""
	assert.Equal(t, 0.0, Similarity(s, other))

	loading := s.clone()
	loading.Items = append(loading.Items, cases.ConversationItem{ID: "opt_msg_1", Loading: true, Optimistic: true})
	assert.Equal(t, 1.0, Similarity(s, loading))
}

func TestMergeFields(t *testing.T) {
	remote := remoteSnapshot()
	remote.Status = cases.StatusResolved

	local := remoteSnapshot()
	local.CaseID = "opt_case_local"
	local.Title = "My title"
	local.TitleEditedAt = t0.Add(time.Minute)
	local.Items = append(local.Items,
		q("opt_msg_new", "typed later", t0.Add(2*time.Minute)),
		q("opt_msg_old", "lost before snapshot", t0.Add(-time.Hour)),
	)

	res := MergeFields(local, remote)
	assert.Equal(t, "case_1", res.Merged.CaseID)
	assert.Equal(t, cases.StatusResolved, res.Merged.Status)
	assert.Equal(t, "My title", res.Merged.Title)
	require.Len(t, res.Merged.Items, 3)
	assert.Equal(t, "opt_msg_new", res.Merged.Items[2].ID)
	assert.Equal(t, []string{"items/opt_msg_old"}, res.Unresolved)

	decided := map[string]Side{}
	for _, d := range res.Decisions {
		decided[d.Field] = d.Winner
		assert.NotEmpty(t, d.Reason)
	}
	assert.Equal(t, SideRemote, decided["status"])
	assert.Equal(t, SideLocal, decided["title"])
	assert.Equal(t, SideLocal, decided["items/opt_msg_new"])

	// A title edited before the server snapshot loses.
	local.TitleEditedAt = t0.Add(-time.Minute)
	res = MergeFields(local, remote)
	assert.Equal(t, "Checkout errors", res.Merged.Title)

	// Inputs are not mutated.
	assert.Len(t, remote.Items, 2)
}

func TestResolve_AutoResolved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := ident.Generate(ident.KindCase)
	require.NoError(t, f.mappings.AddMapping(ctx, p, "case_1"))

	local := remoteSnapshot()
	local.CaseID = p
	local.Items = append(local.Items, q("opt_msg_1", "follow-up", t0.Add(time.Minute)))

	c := f.resolver.Detect(local, remoteSnapshot())
	require.NotNil(t, c)
	h := f.resolver.Resolve(ctx, c)

	assert.Equal(t, StateAutoResolved, h.State())
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, res.Auto)
	assert.Equal(t, ChoiceAcceptMerged, res.Choice)
	assert.Equal(t, "case_1", res.Snapshot.CaseID)
	assert.Len(t, res.Snapshot.Items, 3)
	assert.NotEmpty(t, res.BackupName)

	bk, ok := f.backups.Get(res.BackupName)
	require.True(t, ok)
	assert.Len(t, bk.Snapshot.Items, 3)
	assert.Empty(t, f.resolver.Awaiting())
}

func TestResolve_EscalatesWithoutStrategy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	local := remoteSnapshot()
	local.Title = "Renamed"
	local.PendingOps = []string{"op1", "op2"}
	c := f.resolver.Detect(local, remoteSnapshot())
	require.NotNil(t, c)

	h := f.resolver.Resolve(ctx, c)
	assert.Equal(t, StateAwaitingUser, h.State())
	_, ok := h.Merged()
	assert.False(t, ok)
	assert.Equal(t, ErrNoMergedResult, h.Choose(ctx, UserChoice{Choice: ChoiceAcceptMerged}))

	got, ok := f.resolver.Handle(c.ID)
	require.True(t, ok)
	assert.Same(t, h, got)

	// Wait suspends until a choice arrives.
	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := h.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	go func() {
		time.Sleep(10 * time.Millisecond)
		h.Choose(ctx, UserChoice{Choice: ChoiceAcceptRemote})
	}()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, ChoiceAcceptRemote, res.Choice)
	assert.Equal(t, "Checkout errors", res.Snapshot.Title)
	assert.Equal(t, StateResolved, h.State())
	assert.Empty(t, f.resolver.Awaiting())

	assert.ErrorIs(t, h.Choose(ctx, UserChoice{Choice: ChoiceKeepLocal}), ErrAlreadyResolved)
}

func TestResolve_LowConfidenceEscalates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	local := remoteSnapshot()
	local.Title = "Mine"
	local.TitleEditedAt = t0.Add(time.Minute)
	local.Origin = "tab-a"
	remote := remoteSnapshot()
	remote.Origin = "tab-b"

	c := f.resolver.Detect(local, remote)
	require.NotNil(t, c)
	h := f.resolver.Resolve(ctx, c)
	assert.Equal(t, StateAwaitingUser, h.State())

	merged, ok := h.Merged()
	require.True(t, ok)
	assert.Less(t, merged.Confidence, 0.7)

	require.NoError(t, h.Choose(ctx, UserChoice{Choice: ChoiceAcceptMerged}))
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Mine", res.Snapshot.Title)
}

func TestResolve_FailingStrategyEscalatesWithoutMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.resolver.Register(TypeDataSync, StrategyFunc(func(c *Conflict) (MergeResult, error) {
		c.Local.Title = "scribbled"
		c.Local.Items[0].ID = "scribbled"
		return MergeResult{}, errors.New("cannot merge")
	}))
	f.resolver.Register(TypeCrossTab, StrategyFunc(func(c *Conflict) (MergeResult, error) {
		panic("boom")
	}))

	local := remoteSnapshot()
	local.Title = "Totally different"
	local.Items = []cases.ConversationItem{q("x", "y", t0)}
	c := f.resolver.Detect(local, remoteSnapshot())
	require.NotNil(t, c)
	require.Equal(t, TypeDataSync, c.Type)

	h := f.resolver.Resolve(ctx, c)
	assert.Equal(t, StateAwaitingUser, h.State())
	assert.Equal(t, "Totally different", c.Local.Title)
	assert.Equal(t, "x", c.Local.Items[0].ID)

	require.NoError(t, h.Cancel(ctx))
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, ChoiceKeepLocal, res.Choice)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "Totally different", res.Snapshot.Title)
	assert.Empty(t, res.BackupName, "keeping local needs no backup")

	panicky := remoteSnapshot()
	panicky.Title = "tab edit"
	panicky.Origin = "a"
	remote := remoteSnapshot()
	remote.Origin = "b"
	c = f.resolver.Detect(panicky, remote)
	require.NotNil(t, c)
	assert.Equal(t, StateAwaitingUser, f.resolver.Resolve(ctx, c).State())
}

func TestHandle_RestoreBackupAndManualEdit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	saved := remoteSnapshot()
	saved.Title = "From backup"
	_, err := f.backups.Save(ctx, "before-import", saved)
	require.NoError(t, err)

	newHandle := func() *Handle {
		local := remoteSnapshot()
		local.Title = "Local"
		local.PendingOps = []string{"a", "b"}
		c := f.resolver.Detect(local, remoteSnapshot())
		require.NotNil(t, c)
		return f.resolver.Resolve(ctx, c)
	}

	h := newHandle()
	assert.ErrorIs(t, h.Choose(ctx, UserChoice{Choice: ChoiceRestoreBackup, Backup: "missing"}), ErrBackupNotFound)
	require.NoError(t, h.Choose(ctx, UserChoice{Choice: ChoiceRestoreBackup, Backup: "before-import"}))
	res, _ := h.Wait(ctx)
	assert.Equal(t, "From backup", res.Snapshot.Title)
	assert.NotEmpty(t, res.BackupName)

	h = newHandle()
	assert.ErrorIs(t, h.Choose(ctx, UserChoice{Choice: ChoiceManualEdit}), ErrInvalidChoice)
	assert.ErrorIs(t, h.Choose(ctx, UserChoice{Choice: "shrug"}), ErrInvalidChoice)
	edited := remoteSnapshot()
	edited.Title = "Hand edited"
	require.NoError(t, h.Choose(ctx, UserChoice{Choice: ChoiceManualEdit, Edited: &edited}))
	res, _ = h.Wait(ctx)
	assert.Equal(t, "Hand edited", res.Snapshot.Title)
	assert.Equal(t, "case_1", res.Snapshot.CaseID)

	history, err := f.bus.History(events.Filter{Types: []string{"conflict.*"}})
	require.NoError(t, err)
	assert.NotEmpty(t, history)
}

func TestBackupStore_RetentionAndPersistence(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	b := NewBackupStore(st, 2)

	for _, name := range []string{"one", "two", "three"} {
		_, err := b.Save(ctx, name, Snapshot{CaseID: "case_1", Title: name})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	_, err := b.Save(ctx, "other", Snapshot{CaseID: "case_2"})
	require.NoError(t, err)

	list := b.List("case_1")
	require.Len(t, list, 2)
	assert.Equal(t, "three", list[0].Name)
	assert.Equal(t, "two", list[1].Name)

	reloaded := NewBackupStore(st, 2)
	require.NoError(t, reloaded.Load(ctx))
	_, ok := reloaded.Get("other")
	assert.True(t, ok)

	require.NoError(t, reloaded.Delete(ctx, "other"))
	_, ok = reloaded.Get("other")
	assert.False(t, ok)
}
