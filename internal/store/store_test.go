// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	fs, err := NewFileStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)

	bs, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)

	ss, err := OpenSQLite(filepath.Join(t.TempDir(), "db", "store.db"))
	require.NoError(t, err)

	all := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fs,
		"badger": bs,
		"sqlite": ss,
	}
	t.Cleanup(func() {
		for _, s := range all {
			s.Close()
		}
	})
	return all
}

func TestStore_Backends(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, KeyTitles)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, KeyTitles, []byte(`{"case_1":"Outage"}`)))
			got, err := s.Get(ctx, KeyTitles)
			require.NoError(t, err)
			assert.Equal(t, `{"case_1":"Outage"}`, string(got))

			// Overwrite
			require.NoError(t, s.Put(ctx, KeyTitles, []byte(`{}`)))
			got, err = s.Get(ctx, KeyTitles)
			require.NoError(t, err)
			assert.Equal(t, `{}`, string(got))

			require.NoError(t, s.Put(ctx, KeyLiveness, []byte(`{}`)))
			keys, err := s.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{KeyLiveness, KeyTitles}, keys)

			require.NoError(t, s.Delete(ctx, KeyTitles))
			require.NoError(t, s.Delete(ctx, KeyTitles), "deleting a missing key is not an error")
			_, err = s.Get(ctx, KeyTitles)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_Wipe(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range AllKeys {
				require.NoError(t, s.Put(ctx, k, []byte(`1`)))
			}
			require.NoError(t, Wipe(ctx, s))
			keys, err := s.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestGetJSON(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var m map[string]string
	found, err := GetJSON(ctx, s, KeyTitles, &m)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, PutJSON(ctx, s, KeyTitles, map[string]string{"case_1": "A"}))
	found, err = GetJSON(ctx, s, KeyTitles, &m)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "A", m["case_1"])

	require.NoError(t, s.Put(ctx, KeyTitles, []byte("{not json")))
	_, err = GetJSON(ctx, s, KeyTitles, &m)
	assert.Error(t, err)
}

func TestFileStore_IsOwnWrite(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, fs.Put(ctx, KeyTitles, []byte(`{"a":"1"}`)))
	assert.True(t, fs.IsOwnWrite(KeyTitles))

	// Another process rewrites the file.
	require.NoError(t, os.WriteFile(fs.PathFor(KeyTitles), []byte(`{"a":"2"}`), 0o644))
	assert.False(t, fs.IsOwnWrite(KeyTitles))

	assert.False(t, fs.IsOwnWrite(KeyLiveness))
}

func TestFileStore_KeyForPath(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	key, ok := fs.KeyForPath(filepath.Join(dir, "titles.json"))
	assert.True(t, ok)
	assert.Equal(t, "titles", key)

	_, ok = fs.KeyForPath(filepath.Join(dir, ".titles.tmp-123"))
	assert.False(t, ok)

	_, ok = fs.KeyForPath(filepath.Join(dir, "sub", "titles.json"))
	assert.False(t, ok)
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(Config{Backend: "file"})
	assert.Error(t, err)

	_, err = Open(Config{Backend: "etcd"})
	assert.Error(t, err)
}
