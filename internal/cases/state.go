// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package cases

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/wingedpig/casesync/internal/apperr"
	"github.com/wingedpig/casesync/internal/ident"
	"github.com/wingedpig/casesync/internal/store"
)

// State is the local view of cases and conversations. Every mutation is
// written through to the store key it touches.
type State struct {
	mu     sync.RWMutex
	store  store.Store
	logger *slog.Logger

	conversations map[string][]ConversationItem
	titles        map[string]string
	titleSources  map[string]TitleSource
	provisional   map[string]Case
	pinned        map[string]bool
}

// NewState creates an empty state backed by st. Call Load to read the
// persisted keys.
func NewState(st store.Store, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &State{store: st, logger: logger}
	s.reset()
	return s
}

func (s *State) reset() {
	s.conversations = make(map[string][]ConversationItem)
	s.titles = make(map[string]string)
	s.titleSources = make(map[string]TitleSource)
	s.provisional = make(map[string]Case)
	s.pinned = make(map[string]bool)
}

// Load replaces the in-memory state with the persisted keys. Missing keys
// load as empty.
func (s *State) Load(ctx context.Context) error {
	var (
		conversations map[string][]ConversationItem
		titles        map[string]string
		sources       map[string]TitleSource
		provisional   []Case
		pinned        []string
	)
	loads := []struct {
		key string
		v   any
	}{
		{store.KeyConversations, &conversations},
		{store.KeyTitles, &titles},
		{store.KeyTitleSources, &sources},
		{store.KeyProvisionalCases, &provisional},
		{store.KeyPinnedCases, &pinned},
	}
	for _, l := range loads {
		if _, err := store.GetJSON(ctx, s.store, l.key, l.v); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	for id, items := range conversations {
		s.conversations[id] = items
	}
	for id, t := range titles {
		s.titles[id] = t
	}
	for id, src := range sources {
		s.titleSources[id] = src
	}
	for _, c := range provisional {
		if !ident.IsProvisional(c.ID) {
			s.logger.Warn("dropping confirmed case from provisional list", "case", c.ID)
			continue
		}
		s.provisional[c.ID] = c
	}
	for _, id := range pinned {
		s.pinned[id] = true
	}
	return nil
}

// Persist rewrites every key the state owns.
func (s *State) Persist(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, key := range []string{
		store.KeyConversations,
		store.KeyTitles,
		store.KeyTitleSources,
		store.KeyProvisionalCases,
		store.KeyPinnedCases,
	} {
		if err := s.saveLocked(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *State) saveLocked(ctx context.Context, key string) error {
	var v any
	switch key {
	case store.KeyConversations:
		v = s.conversations
	case store.KeyTitles:
		v = s.titles
	case store.KeyTitleSources:
		v = s.titleSources
	case store.KeyProvisionalCases:
		list := make([]Case, 0, len(s.provisional))
		for _, c := range s.provisional {
			list = append(list, c)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		v = list
	case store.KeyPinnedCases:
		v = sortedKeys(s.pinned)
	default:
		return fmt.Errorf("state does not own key %s", key)
	}
	return store.PutJSON(ctx, s.store, key, v)
}

// Conversation returns a copy of the items stored for caseID.
func (s *State) Conversation(caseID string) []ConversationItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneItems(s.conversations[caseID])
}

// HasConversation reports whether caseID has a conversation entry.
func (s *State) HasConversation(caseID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[caseID]
	return ok
}

// ConversationIDs returns the conversation keys in sorted order.
func (s *State) ConversationIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.conversations)
}

// SetConversation replaces the items for caseID.
func (s *State) SetConversation(ctx context.Context, caseID string, items []ConversationItem) error {
	if ident.Of(caseID) == ident.ProvenanceNone {
		return apperr.Architecture("cases.SetConversation", "invalid case id %q", caseID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[caseID] = cloneItems(items)
	return s.saveLocked(ctx, store.KeyConversations)
}

// AppendItems adds items to the end of caseID's conversation, creating it
// if needed.
func (s *State) AppendItems(ctx context.Context, caseID string, items ...ConversationItem) error {
	if ident.Of(caseID) == ident.ProvenanceNone {
		return apperr.Architecture("cases.AppendItems", "invalid case id %q", caseID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[caseID] = append(s.conversations[caseID], items...)
	return s.saveLocked(ctx, store.KeyConversations)
}

// UpdateItem applies fn to the item itemID in caseID's conversation. It
// reports false when no such item exists.
func (s *State) UpdateItem(ctx context.Context, caseID, itemID string, fn func(*ConversationItem)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.conversations[caseID]
	for i := range items {
		if items[i].ID == itemID {
			fn(&items[i])
			return true, s.saveLocked(ctx, store.KeyConversations)
		}
	}
	return false, nil
}

// RemoveItems drops the listed items from caseID's conversation and returns
// how many were removed.
func (s *State) RemoveItems(ctx context.Context, caseID string, ids ...string) (int, error) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.conversations[caseID]
	if !ok {
		return 0, nil
	}
	kept := items[:0]
	for _, it := range items {
		if !drop[it.ID] {
			kept = append(kept, it)
		}
	}
	removed := len(items) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	s.conversations[caseID] = kept
	return removed, s.saveLocked(ctx, store.KeyConversations)
}

// UpdateConversation replaces caseID's conversation with what fn returns.
// fn runs under the state lock and gets a copy of the current items (nil
// when there is no conversation); returning false leaves it untouched.
func (s *State) UpdateConversation(ctx context.Context, caseID string, fn func([]ConversationItem) ([]ConversationItem, bool)) (bool, error) {
	if ident.Of(caseID) == ident.ProvenanceNone {
		return false, apperr.Architecture("cases.UpdateConversation", "invalid case id %q", caseID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := fn(cloneItems(s.conversations[caseID]))
	if !ok {
		return false, nil
	}
	s.conversations[caseID] = cloneItems(items)
	return true, s.saveLocked(ctx, store.KeyConversations)
}

// DeleteConversation removes caseID's conversation.
func (s *State) DeleteConversation(ctx context.Context, caseID string) error {
	_, err := s.DeleteConversationIf(ctx, caseID, nil)
	return err
}

// DeleteConversationIf removes caseID's conversation when allow, called
// under the state lock with the current items, agrees. A nil allow always
// agrees. It reports whether the conversation was removed.
func (s *State) DeleteConversationIf(ctx context.Context, caseID string, allow func([]ConversationItem) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, ok := s.conversations[caseID]
	if !ok {
		return false, nil
	}
	if allow != nil && !allow(items) {
		return false, nil
	}
	delete(s.conversations, caseID)
	return true, s.saveLocked(ctx, store.KeyConversations)
}

// Title returns the local title for caseID and who set it.
func (s *State) Title(caseID string) (string, TitleSource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.titles[caseID]
	return t, s.titleSources[caseID], ok
}

// Titles returns a copy of the title map.
func (s *State) Titles() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.titles))
	for k, v := range s.titles {
		out[k] = v
	}
	return out
}

// TitleSourceIDs returns the keys of the title-source map.
func (s *State) TitleSourceIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.titleSources)
}

// SetTitle records a title for caseID.
func (s *State) SetTitle(ctx context.Context, caseID, title string, src TitleSource) error {
	if ident.Of(caseID) == ident.ProvenanceNone {
		return apperr.Architecture("cases.SetTitle", "invalid case id %q", caseID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles[caseID] = title
	s.titleSources[caseID] = src
	if err := s.saveLocked(ctx, store.KeyTitles); err != nil {
		return err
	}
	return s.saveLocked(ctx, store.KeyTitleSources)
}

// MergeServerTitle stores a title reported by the backend unless the user
// has set one locally. It reports whether the local title changed.
func (s *State) MergeServerTitle(ctx context.Context, caseID, title string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.titleSources[caseID] == TitleFromUser {
		return false, nil
	}
	if cur, ok := s.titles[caseID]; ok && cur == title && s.titleSources[caseID] == TitleFromServer {
		return false, nil
	}
	s.titles[caseID] = title
	s.titleSources[caseID] = TitleFromServer
	if err := s.saveLocked(ctx, store.KeyTitles); err != nil {
		return false, err
	}
	return true, s.saveLocked(ctx, store.KeyTitleSources)
}

// MarkTitleSynced flips a user title to server provenance once the backend
// has accepted it.
func (s *State) MarkTitleSynced(ctx context.Context, caseID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.titles[caseID] != title {
		return nil
	}
	s.titleSources[caseID] = TitleFromServer
	return s.saveLocked(ctx, store.KeyTitleSources)
}

// ProvisionalCases returns the provisional cases, newest first.
func (s *State) ProvisionalCases() []Case {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]Case, 0, len(s.provisional))
	for _, c := range s.provisional {
		if t, ok := s.titles[c.ID]; ok {
			c.Title = t
		}
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].SortTime().Equal(list[j].SortTime()) {
			return list[i].SortTime().After(list[j].SortTime())
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// ProvisionalCase returns the provisional case with id.
func (s *State) ProvisionalCase(id string) (Case, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.provisional[id]
	return c, ok
}

// AddProvisionalCase records a fabricated case with an empty conversation
// shell and its title.
func (s *State) AddProvisionalCase(ctx context.Context, c Case) error {
	if !ident.IsProvisional(c.ID) {
		return apperr.Architecture("cases.AddProvisionalCase", "case id %q is not provisional", c.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.provisional[c.ID] = c
	if _, ok := s.conversations[c.ID]; !ok {
		s.conversations[c.ID] = []ConversationItem{}
	}
	s.titles[c.ID] = c.Title
	s.titleSources[c.ID] = TitleFromUser
	for _, key := range []string{store.KeyProvisionalCases, store.KeyConversations, store.KeyTitles, store.KeyTitleSources} {
		if err := s.saveLocked(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// RemoveCase drops everything the state holds for id: provisional entry,
// conversation, title and pin.
func (s *State) RemoveCase(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.provisional, id)
	delete(s.conversations, id)
	delete(s.titles, id)
	delete(s.titleSources, id)
	delete(s.pinned, id)
	for _, key := range []string{store.KeyProvisionalCases, store.KeyConversations, store.KeyTitles, store.KeyTitleSources, store.KeyPinnedCases} {
		if err := s.saveLocked(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Rekey moves everything held under a provisional id to its confirmed id.
// Items already stored under the confirmed id are kept ahead of the moved
// ones.
func (s *State) Rekey(ctx context.Context, provisional, confirmed string) error {
	if !ident.IsProvisional(provisional) {
		return apperr.Architecture("cases.Rekey", "source id %q is not provisional", provisional)
	}
	if !ident.IsConfirmed(confirmed) {
		return apperr.Architecture("cases.Rekey", "target id %q is not confirmed", confirmed)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if items, ok := s.conversations[provisional]; ok {
		existing := s.conversations[confirmed]
		seen := make(map[string]bool, len(existing))
		for _, it := range existing {
			seen[it.ID] = true
		}
		merged := append([]ConversationItem{}, existing...)
		for _, it := range items {
			if !seen[it.ID] {
				merged = append(merged, it)
			}
		}
		s.conversations[confirmed] = merged
		delete(s.conversations, provisional)
	}
	if t, ok := s.titles[provisional]; ok {
		if _, exists := s.titles[confirmed]; !exists || s.titleSources[provisional] == TitleFromUser {
			s.titles[confirmed] = t
			s.titleSources[confirmed] = s.titleSources[provisional]
		}
		delete(s.titles, provisional)
		delete(s.titleSources, provisional)
	}
	if s.pinned[provisional] {
		s.pinned[confirmed] = true
		delete(s.pinned, provisional)
	}
	delete(s.provisional, provisional)

	for _, key := range []string{store.KeyProvisionalCases, store.KeyConversations, store.KeyTitles, store.KeyTitleSources, store.KeyPinnedCases} {
		if err := s.saveLocked(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Pin protects caseID from eviction.
func (s *State) Pin(ctx context.Context, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pinned[caseID] = true
	return s.saveLocked(ctx, store.KeyPinnedCases)
}

// Unpin removes the eviction protection for caseID.
func (s *State) Unpin(ctx context.Context, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pinned, caseID)
	return s.saveLocked(ctx, store.KeyPinnedCases)
}

// IsPinned reports whether caseID is pinned.
func (s *State) IsPinned(caseID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pinned[caseID]
}

// Pinned returns the pinned case ids.
func (s *State) Pinned() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.pinned)
}

// ReplaceFromBackend discards local conversations, titles and provisional
// cases and installs the given backend data. Pins survive for cases the
// backend still knows about.
func (s *State) ReplaceFromBackend(ctx context.Context, conversations map[string][]ConversationItem, titles map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pinned := s.pinned
	s.reset()
	for id, items := range conversations {
		s.conversations[id] = cloneItems(items)
	}
	for id, t := range titles {
		s.titles[id] = t
		s.titleSources[id] = TitleFromServer
	}
	for id := range pinned {
		if _, ok := s.titles[id]; ok {
			s.pinned[id] = true
		}
	}
	for _, key := range []string{store.KeyConversations, store.KeyTitles, store.KeyTitleSources, store.KeyProvisionalCases, store.KeyPinnedCases} {
		if err := s.saveLocked(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func cloneItems(items []ConversationItem) []ConversationItem {
	if items == nil {
		return nil
	}
	out := make([]ConversationItem, len(items))
	copy(out, items)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
