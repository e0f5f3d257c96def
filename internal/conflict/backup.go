// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package conflict

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wingedpig/casesync/internal/store"
)

const defaultBackupsPerCase = 5

// Backup is a named copy of a local snapshot taken before a resolution
// replaced it.
type Backup struct {
	Name      string    `json:"name"`
	CaseID    string    `json:"case_id"`
	Snapshot  Snapshot  `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}

// BackupStore keeps named backups under the conflict_backups key. Only the
// newest backups per case are retained.
type BackupStore struct {
	mu         sync.RWMutex
	store      store.Store
	backups    map[string]Backup
	maxPerCase int
}

// NewBackupStore creates a backup store. maxPerCase <= 0 uses the default.
func NewBackupStore(st store.Store, maxPerCase int) *BackupStore {
	if maxPerCase <= 0 {
		maxPerCase = defaultBackupsPerCase
	}
	return &BackupStore{store: st, backups: make(map[string]Backup), maxPerCase: maxPerCase}
}

// Load reads the persisted backups.
func (b *BackupStore) Load(ctx context.Context) error {
	var list []Backup
	if _, err := store.GetJSON(ctx, b.store, store.KeyConflictBackups, &list); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backups = make(map[string]Backup, len(list))
	for _, bk := range list {
		b.backups[bk.Name] = bk
	}
	return nil
}

// Save stores snap under name, replacing any backup with the same name.
func (b *BackupStore) Save(ctx context.Context, name string, snap Snapshot) (Backup, error) {
	bk := Backup{Name: name, CaseID: snap.CaseID, Snapshot: snap.clone(), CreatedAt: time.Now()}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.backups[name] = bk

	list := b.listLocked(snap.CaseID)
	for _, old := range list[min(len(list), b.maxPerCase):] {
		delete(b.backups, old.Name)
	}
	return bk, b.saveLocked(ctx)
}

// Get returns the backup called name.
func (b *BackupStore) Get(name string) (Backup, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bk, ok := b.backups[name]
	if !ok {
		return Backup{}, false
	}
	bk.Snapshot = bk.Snapshot.clone()
	return bk, true
}

// List returns the backups for caseID, newest first.
func (b *BackupStore) List(caseID string) []Backup {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.listLocked(caseID)
}

// Delete removes the backup called name.
func (b *BackupStore) Delete(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.backups[name]; !ok {
		return nil
	}
	delete(b.backups, name)
	return b.saveLocked(ctx)
}

// Persist rewrites the backups key.
func (b *BackupStore) Persist(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.saveLocked(ctx)
}

func (b *BackupStore) listLocked(caseID string) []Backup {
	var out []Backup
	for _, bk := range b.backups {
		if bk.CaseID == caseID {
			out = append(out, bk)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name > out[j].Name
	})
	return out
}

func (b *BackupStore) saveLocked(ctx context.Context) error {
	list := make([]Backup, 0, len(b.backups))
	for _, bk := range b.backups {
		list = append(list, bk)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return store.PutJSON(ctx, b.store, store.KeyConflictBackups, list)
}
