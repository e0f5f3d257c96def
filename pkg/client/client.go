// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client library for the casesync API.
//
// casesync keeps a local, optimistically updated copy of support cases and
// reconciles it with the case backend. This client gives typed access to
// the server's HTTP API: cases and conversations, pending operations,
// conflicts, and maintenance tasks.
//
// # Getting Started
//
//	c := client.New("http://localhost:7420")
//
//	// Create a case; it is provisional until the backend confirms it
//	cs, err := c.Cases.Create(ctx, "Billing mismatch")
//
//	// Send a message
//	sub, err := c.Cases.Submit(ctx, cs.ID, "The invoice total is wrong")
//
//	// List failed operations and retry one
//	ops, err := c.Operations.List(ctx, client.OperationFailed)
//	op, err := c.Operations.Retry(ctx, ops[0].ID)
//
// # API Versioning
//
// The client uses the latest API version unless pinned:
//
//	c := client.New("http://localhost:7420", client.WithVersion(client.Version20260901))
//
// # Error Handling
//
// API errors are returned as *APIError values:
//
//	_, err := c.Cases.Get(ctx, "case_404")
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Code == "NOT_FOUND" {
//	    ...
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a casesync API client.
//
// The Client is safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client

	// Cases provides case, conversation and document operations.
	Cases *CaseClient

	// Operations provides access to pending operations.
	Operations *OperationClient

	// Conflicts provides access to conflicts awaiting a decision.
	Conflicts *ConflictClient

	// Events provides access to the event log.
	Events *EventClient

	// Maintenance runs recovery, eviction and integrity checks.
	Maintenance *MaintenanceClient
}

// Option configures a [Client]. Options are passed to [New] to customize
// client behavior.
type Option func(*Client)

// New creates a new casesync API client with the given base URL and options.
//
// The baseURL should be the root URL of the server (e.g., "http://localhost:7420").
// Any trailing slash is automatically removed.
//
// By default, the client uses:
//   - The latest API version ([LatestVersion])
//   - A 30-second HTTP timeout
//
// Use options like [WithVersion], [WithTimeout], or [WithHTTPClient] to customize.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		version: LatestVersion,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	// Initialize service clients
	c.Cases = &CaseClient{c: c}
	c.Operations = &OperationClient{c: c}
	c.Conflicts = &ConflictClient{c: c}
	c.Events = &EventClient{c: c}
	c.Maintenance = &MaintenanceClient{c: c}

	return c
}

// WithVersion sets the API version to use for all requests.
//
// Pinning to a specific version ensures API compatibility as the server evolves.
// See the version constants ([LatestVersion], [Version20260901]) for available versions.
func WithVersion(v string) Option {
	return func(c *Client) {
		c.version = v
	}
}

// WithHTTPClient sets a custom HTTP client for making requests.
//
// This is useful for advanced configurations like custom TLS settings,
// proxy configuration, or request tracing.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the HTTP client timeout for all requests.
//
// The default timeout is 30 seconds. Retries and recovery wait for the
// backend, so they may need more.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Version returns the API version being used.
func (c *Client) Version() string {
	return c.version
}

// BaseURL returns the base URL of the API.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// apiResponse is the standard API response envelope.
type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// APIError represents an error response from the casesync API.
//
// Common error codes include:
//   - "NOT_FOUND": The case, operation or conflict does not exist
//   - "BAD_REQUEST": The request was malformed or failed validation
//   - "CONFLICT": The operation conflicts with current state
//   - "UNAUTHORIZED": The backend rejected the session
//   - "BACKEND_ERROR": The backend could not be reached
//
// Engine failures carry the failure kind and a display hint in Details.
type APIError struct {
	// Code is a machine-readable error code (e.g., "NOT_FOUND").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details contains additional error information, if available.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Hint returns the display hint attached to an engine failure.
func (e *APIError) Hint() string {
	h, _ := e.Details["hint"].(string)
	return h
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// get performs a GET request to the given path.
func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// post performs a POST request to the given path with no body.
func (c *Client) post(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, path, nil)
}

// postJSON performs a POST request with a JSON body.
func (c *Client) postJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data))
}

// patchJSON performs a PATCH request with a JSON body.
func (c *Client) patchJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.doContent(ctx, http.MethodPatch, path, bytes.NewReader(data), "application/json")
}

// delete performs a DELETE request to the given path.
func (c *Client) delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// do performs an HTTP request and parses the response.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}
	return c.doContent(ctx, method, path, body, contentType)
}

// doContent performs an HTTP request with an explicit content type.
func (c *Client) doContent(ctx context.Context, method, path string, body io.Reader, contentType string) (json.RawMessage, error) {
	url := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Set headers
	req.Header.Set(VersionHeader, c.version)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return c.parseResponse(resp)
}

// parseResponse reads and parses an API response.
func (c *Client) parseResponse(resp *http.Response) (json.RawMessage, error) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Try to parse as standard envelope
	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		// If we can't parse it and status is bad, return error
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		// Return raw body for non-envelope responses
		return respBody, nil
	}

	// Check for error in envelope
	if apiResp.Error != nil {
		return nil, apiResp.Error
	}

	// Check for error embedded in data
	if resp.StatusCode >= 400 {
		var errData APIError
		if err := json.Unmarshal(apiResp.Data, &errData); err == nil && errData.Code != "" {
			return nil, &errData
		}
	}

	return apiResp.Data, nil
}
