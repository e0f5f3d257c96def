// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package idmap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/casesync/internal/apperr"
	"github.com/wingedpig/casesync/internal/ident"
	"github.com/wingedpig/casesync/internal/store"
)

func TestManager_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemoryStore(), nil)

	p := ident.Generate(ident.KindCase)
	require.NoError(t, m.AddMapping(ctx, p, "case_123"))

	c, ok := m.ConfirmedID(p)
	require.True(t, ok)
	assert.Equal(t, "case_123", c)

	back, ok := m.ProvisionalID("case_123")
	require.True(t, ok)
	assert.Equal(t, p, back)
	assert.Equal(t, "case_123", m.Resolve(p))
	assert.Equal(t, "case_999", m.Resolve("case_999"))

	require.NoError(t, m.RemoveMapping(ctx, p))
	_, ok = m.ConfirmedID(p)
	assert.False(t, ok)
	_, ok = m.ProvisionalID("case_123")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestManager_RoundTripMany(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemoryStore(), nil)

	pairs := map[string]string{}
	for i := 0; i < 50; i++ {
		p := ident.Generate(ident.KindCase)
		c := "case_" + p[len(p)-8:]
		pairs[p] = c
		require.NoError(t, m.AddMapping(ctx, p, c))
	}
	for p, c := range pairs {
		got, ok := m.ConfirmedID(p)
		require.True(t, ok)
		assert.Equal(t, c, got)
		back, ok := m.ProvisionalID(c)
		require.True(t, ok)
		assert.Equal(t, p, back)
	}
}

func TestManager_ShapeViolations(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemoryStore(), nil)
	p := ident.Generate(ident.KindCase)

	tests := []struct {
		name        string
		provisional string
		confirmed   string
	}{
		{"confirmed as first", "case_1", "case_2"},
		{"provisional as second", p, ident.Generate(ident.KindCase)},
		{"swapped", "case_1", p},
		{"empty confirmed", p, ""},
		{"empty provisional", "", "case_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.AddMapping(ctx, tt.provisional, tt.confirmed)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindArchitecture))
		})
	}
	assert.Equal(t, 0, m.Len())

	assert.True(t, apperr.Is(m.RemoveMapping(ctx, "case_1"), apperr.KindArchitecture))
}

func TestManager_Uniqueness(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemoryStore(), nil)
	p1 := ident.Generate(ident.KindCase)
	p2 := ident.Generate(ident.KindCase)

	require.NoError(t, m.AddMapping(ctx, p1, "case_1"))
	require.NoError(t, m.AddMapping(ctx, p1, "case_1"), "identical pair is a no-op")

	err := m.AddMapping(ctx, p1, "case_2")
	assert.True(t, apperr.Is(err, apperr.KindArchitecture))

	err = m.AddMapping(ctx, p2, "case_1")
	assert.True(t, apperr.Is(err, apperr.KindArchitecture))
	assert.Equal(t, 1, m.Len())
}

func TestManager_PersistAndLoad(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := NewManager(st, nil)

	p := ident.Generate(ident.KindCase)
	require.NoError(t, m.AddMapping(ctx, p, "case_123"))

	reloaded := NewManager(st, nil)
	require.NoError(t, reloaded.Load(ctx))
	c, ok := reloaded.ConfirmedID(p)
	require.True(t, ok)
	assert.Equal(t, "case_123", c)
}

func TestManager_LoadDropsMalformed(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	good := ident.Generate(ident.KindCase)
	require.NoError(t, store.PutJSON(ctx, st, store.KeyIDMappings, persisted{
		ProvisionalToConfirmed: map[string]string{
			good:      "case_1",
			"case_2":  "case_3",
			"opt_x_y": "opt_case_z",
		},
		ConfirmedToProvisional: map[string]string{"case_1": good},
	}))

	m := NewManager(st, nil)
	require.NoError(t, m.Load(ctx))
	assert.Equal(t, map[string]string{good: "case_1"}, m.All())
}

func TestManager_LoadMissingKey(t *testing.T) {
	m := NewManager(store.NewMemoryStore(), nil)
	require.NoError(t, m.Load(context.Background()))
	assert.Equal(t, 0, m.Len())
}
