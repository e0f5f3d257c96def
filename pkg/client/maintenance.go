// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import "context"

// MaintenanceClient runs the server's maintenance tasks.
type MaintenanceClient struct {
	c *Client
}

// Recover rebuilds local state from the backend. A partial recovery is
// reported through RecoveryResult.Success, not an error.
func (m *MaintenanceClient) Recover(ctx context.Context) (*RecoveryResult, error) {
	data, err := m.c.post(ctx, "/api/v1/recover")
	if err != nil {
		return nil, err
	}
	return decodePtr[RecoveryResult](data, "recovery result")
}

// RecoveryInProgress reports whether the server is rebuilding its state.
// Changes sent meanwhile fail with 503.
func (m *MaintenanceClient) RecoveryInProgress(ctx context.Context) (bool, error) {
	data, err := m.c.get(ctx, "/api/v1/recover")
	if err != nil {
		return false, err
	}
	st, err := decode[struct {
		InProgress bool `json:"in_progress"`
	}](data, "recovery status")
	if err != nil {
		return false, err
	}
	return st.InProgress, nil
}

// Evict runs one eviction pass now.
func (m *MaintenanceClient) Evict(ctx context.Context) (*EvictionResult, error) {
	data, err := m.c.post(ctx, "/api/v1/evict")
	if err != nil {
		return nil, err
	}
	return decodePtr[EvictionResult](data, "eviction result")
}

// Integrity audits local storage without repairing it.
func (m *MaintenanceClient) Integrity(ctx context.Context) (*IntegrityReport, error) {
	data, err := m.c.get(ctx, "/api/v1/integrity")
	if err != nil {
		return nil, err
	}
	return decodePtr[IntegrityReport](data, "integrity report")
}

// Health reports whether the server is up.
func (m *MaintenanceClient) Health(ctx context.Context) error {
	_, err := m.c.get(ctx, "/healthz")
	return err
}
