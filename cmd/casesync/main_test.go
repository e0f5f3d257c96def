// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/casesync/internal/api"
	"github.com/wingedpig/casesync/internal/backend"
	"github.com/wingedpig/casesync/internal/config"
	"github.com/wingedpig/casesync/internal/engine"
	"github.com/wingedpig/casesync/internal/events"
	"github.com/wingedpig/casesync/internal/recovery"
	"github.com/wingedpig/casesync/internal/store"
	"github.com/wingedpig/casesync/pkg/client"
)

type harness struct {
	eng  *engine.Engine
	fake *backend.Fake
}

// startServer runs a real engine behind the API and points --api at it.
func startServer(t *testing.T) *harness {
	t.Helper()
	bus := events.NewMemoryBus(events.MemoryBusConfig{History: events.HistoryConfig{MaxEvents: 100}})
	fake := backend.NewFake()
	eng, err := engine.New(engine.Config{
		Store:         store.NewMemoryStore(),
		Backend:       fake,
		Bus:           bus,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		TitleDebounce: 10 * time.Millisecond,
		TitleMaxWait:  100 * time.Millisecond,
		Recovery:      recovery.Config{RatePerSecond: 1000},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	srv := httptest.NewServer(api.NewRouter(api.Dependencies{
		Engine: eng,
		Bus:    bus,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}))
	t.Cleanup(func() {
		srv.Close()
		eng.Close()
		bus.Close()
	})

	prevAPI, prevJSON := apiURL, jsonOutput
	apiURL = srv.URL
	t.Cleanup(func() { apiURL, jsonOutput = prevAPI, prevJSON })
	return &harness{eng: eng, fake: fake}
}

func (h *harness) idle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.eng.WaitIdle(ctx))
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCasesCommands(t *testing.T) {
	h := startServer(t)
	jsonOutput = false

	out, err := run(t, "cases", "create", "Printer on fire")
	require.NoError(t, err)
	assert.Contains(t, out, "Created case opt_case_")
	h.idle(t)

	out, err = run(t, "cases", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "case_1")
	assert.Contains(t, out, "Printer on fire")

	out, err = run(t, "cases", "send", "case_1", "it is still burning")
	require.NoError(t, err)
	assert.Contains(t, out, "Sent (operation")
	h.idle(t)

	out, err = run(t, "cases", "show", "case_1")
	require.NoError(t, err)
	assert.Contains(t, out, "it is still burning")
	assert.Contains(t, out, "echo: it is still burning")

	_, err = run(t, "cases", "pin", "case_1")
	require.NoError(t, err)
	out, err = run(t, "cases", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "*")

	_, err = run(t, "cases", "show", "case_404")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

func TestCasesUpload(t *testing.T) {
	h := startServer(t)
	jsonOutput = true

	_, err := run(t, "cases", "create", "Docs")
	require.NoError(t, err)
	h.idle(t)

	path := filepath.Join(t.TempDir(), "trace.log")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0644))

	out, err := run(t, "cases", "upload", "case_1", path)
	require.NoError(t, err)
	var doc client.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "trace.log", doc.Name)
	assert.Equal(t, int64(10), doc.Size)
}

func TestOpsCommands(t *testing.T) {
	h := startServer(t)
	jsonOutput = false

	_, err := run(t, "cases", "create", "Flaky")
	require.NoError(t, err)
	h.idle(t)

	h.fake.FailNext(backend.MethodSubmitMessage, backend.StatusError(http.StatusServiceUnavailable, "down"))
	_, err = run(t, "cases", "send", "case_1", "hello")
	require.NoError(t, err)
	h.idle(t)

	jsonOutput = true
	out, err := run(t, "ops", "list", "--status", "failed")
	require.NoError(t, err)
	var ops []client.Operation
	require.NoError(t, json.Unmarshal([]byte(out), &ops))
	require.Len(t, ops, 1)
	require.NotNil(t, ops[0].Error)
	assert.Equal(t, "network", ops[0].Error.Kind)

	jsonOutput = false
	out, err = run(t, "ops", "retry", ops[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")

	// A second retry is refused and reported.
	_, err = run(t, "ops", "retry", ops[0].ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 retries failed")
}

func TestMaintenanceCommands(t *testing.T) {
	startServer(t)
	jsonOutput = false

	out, err := run(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "No integrity violations")

	out, err = run(t, "evict")
	require.NoError(t, err)
	assert.Contains(t, out, "Evicted 0 conversations")

	out, err = run(t, "recover")
	require.NoError(t, err)
	assert.Contains(t, out, "Recovered 0 cases")

	out, err = run(t, "conflicts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No conflicts")

	out, err = run(t, "events", "--type", "recovery.*")
	require.NoError(t, err)
	assert.Contains(t, out, "recovery.")
}

func TestInitWritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "casesync.hjson")

	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })

	out, err := run(t, "init", "--store", "sqlite", "--backend", "https://cases.example.com", "--port", "7500")
	require.NoError(t, err)
	assert.Contains(t, out, "Created "+path)

	cfg, err := config.NewLoader().LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, config.NewValidator().Validate(cfg))
	assert.Equal(t, 7500, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, filepath.Join(dir, "casesync.db"), cfg.Store.Path)
	assert.Equal(t, "https://cases.example.com", cfg.Backend.BaseURL)

	// Refuses to overwrite without --force.
	_, err = run(t, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestCheckLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "casesync.hjson")
	require.NoError(t, os.WriteFile(path, []byte(generateConfig("https://cases.example.com", "file", 7420)), 0644))

	// A conversation keyed by something that is not a case id.
	fs, err := store.NewFileStore(filepath.Join(dir, "data"))
	require.NoError(t, err)
	require.NoError(t, store.PutJSON(context.Background(), fs, store.KeyConversations, map[string]interface{}{
		"not-a-case": []interface{}{},
	}))
	require.NoError(t, fs.Close())

	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })
	jsonOutput = true
	t.Cleanup(func() { jsonOutput = false })

	out, err := run(t, "check", "--local")
	require.Error(t, err)
	var report client.IntegrityReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.False(t, report.OK)
	require.NotEmpty(t, report.Violations)
	assert.Equal(t, "shape_mismatch", report.Violations[0].Kind)
	assert.Equal(t, "not-a-case", report.Violations[0].ID)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a long ...", truncate("a long title here", 10))
	assert.Equal(t, "two lines", truncate("two\nlines", 20))
	assert.Equal(t, "-", orDash(""))
}
