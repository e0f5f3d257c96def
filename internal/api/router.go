// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api serves the HTTP and websocket surface the UI talks to.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/casesync/internal/api/handlers"
	"github.com/wingedpig/casesync/internal/api/middleware"
	"github.com/wingedpig/casesync/internal/api/version"
	"github.com/wingedpig/casesync/internal/events"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Engine  handlers.Engine
	Bus     events.Bus
	Metrics http.Handler // served at /metrics when set
	Logger  *slog.Logger
}

// NewRouter creates a new API router.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(middleware.Logging(deps.Logger))
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	maintenance := handlers.NewMaintenanceHandler(deps.Engine)
	r.HandleFunc("/healthz", maintenance.Health).Methods("GET")
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics).Methods("GET")
	}

	// API v1 routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Case handlers
	caseHandler := handlers.NewCaseHandler(deps.Engine)
	api.HandleFunc("/cases", caseHandler.List).Methods("GET")
	api.HandleFunc("/cases", caseHandler.Create).Methods("POST")
	api.HandleFunc("/cases/refresh", caseHandler.Refresh).Methods("POST")
	api.HandleFunc("/cases/{id}", caseHandler.Get).Methods("GET")
	api.HandleFunc("/cases/{id}", caseHandler.Rename).Methods("PATCH")
	api.HandleFunc("/cases/{id}", caseHandler.Delete).Methods("DELETE")
	api.HandleFunc("/cases/{id}/pin", caseHandler.Pin).Methods("POST")
	api.HandleFunc("/cases/{id}/pin", caseHandler.Unpin).Methods("DELETE")
	api.HandleFunc("/cases/{id}/activate", caseHandler.Activate).Methods("POST")
	api.HandleFunc("/cases/{id}/conversation", caseHandler.Conversation).Methods("GET")
	api.HandleFunc("/cases/{id}/messages", caseHandler.Submit).Methods("POST")
	api.HandleFunc("/cases/{id}/sync", caseHandler.Sync).Methods("POST")
	api.HandleFunc("/cases/{id}/documents", caseHandler.Upload).Methods("POST")
	api.HandleFunc("/cases/{id}/pending", caseHandler.Pending).Methods("GET")
	api.HandleFunc("/cases/{id}/backups", caseHandler.Backups).Methods("GET")

	// Pending operation handlers
	opHandler := handlers.NewOperationHandler(deps.Engine)
	api.HandleFunc("/operations", opHandler.List).Methods("GET")
	api.HandleFunc("/operations/{id}", opHandler.Get).Methods("GET")
	api.HandleFunc("/operations/{id}/retry", opHandler.Retry).Methods("POST")
	api.HandleFunc("/operations/{id}", opHandler.Dismiss).Methods("DELETE")

	// Conflict handlers
	conflictHandler := handlers.NewConflictHandler(deps.Engine)
	api.HandleFunc("/conflicts", conflictHandler.List).Methods("GET")
	api.HandleFunc("/conflicts/{id}", conflictHandler.Get).Methods("GET")
	api.HandleFunc("/conflicts/{id}/resolve", conflictHandler.Resolve).Methods("POST")

	// Maintenance handlers
	api.HandleFunc("/recover", maintenance.Recover).Methods("POST")
	api.HandleFunc("/recover", maintenance.RecoveryStatus).Methods("GET")
	api.HandleFunc("/evict", maintenance.Evict).Methods("POST")
	api.HandleFunc("/integrity", maintenance.Integrity).Methods("GET")

	// Event handlers
	if deps.Bus != nil {
		eventHandler := handlers.NewEventHandler(deps.Bus)
		api.HandleFunc("/events", eventHandler.History).Methods("GET")
		api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")
	}

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	logger *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
		deps.Logger = logger
	}
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
		logger: logger,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server.
// If TLS is configured (tls_cert and tls_key), uses HTTPS.
// Returns nil after a graceful Shutdown.
func (s *Server) ListenAndServe() error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	// Check if TLS is configured
	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	if tlsEnabled {
		s.logger.Info("API server listening", "url", "https://"+ln.Addr().String(), "tls", true)
		err = srv.ServeTLS(ln, expandPath(s.cfg.TLSCert), expandPath(s.cfg.TLSKey))
	} else {
		s.logger.Info("API server listening", "url", "http://"+ln.Addr().String())
		err = srv.Serve(ln)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("shutting down API server")

	// Create a timeout context if none provided
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return srv.Shutdown(shutdownCtx)
}
