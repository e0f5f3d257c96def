// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/wingedpig/casesync/internal/apperr"
	"github.com/wingedpig/casesync/internal/cases"
)

// APIError is an error response from the backend.
type APIError struct {
	Status  int                    `json:"-"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("backend %d: %s", e.Status, e.Message)
}

// StatusCode returns the HTTP status of the response.
func (e *APIError) StatusCode() int { return e.Status }

// StatusError builds an APIError for status. Fakes and tests use it to
// inject failures.
func StatusError(status int, message string) error {
	return &APIError{Status: status, Message: message}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetries enables retrying of repeatable calls on transport failures,
// 429 and 5xx responses, with exponential backoff between baseDelay and
// maxDelay.
func WithRetries(n int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = n
		c.baseDelay = baseDelay
		c.maxDelay = maxDelay
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) CreateCase(ctx context.Context, title string) (cases.Case, error) {
	var out cases.Case
	err := c.doJSON(ctx, "CreateCase", http.MethodPost, "/api/v1/cases", map[string]string{"title": title}, &out, true)
	return out, err
}

// SubmitMessage is never retried by the client.
func (c *Client) SubmitMessage(ctx context.Context, caseID, content string) (SubmitResult, error) {
	var out SubmitResult
	path := "/api/v1/cases/" + url.PathEscape(caseID) + "/messages"
	err := c.doJSON(ctx, "SubmitMessage", http.MethodPost, path, map[string]string{"content": content}, &out, false)
	return out, err
}

func (c *Client) FetchHistory(ctx context.Context, caseID string) ([]Message, error) {
	var out []Message
	path := "/api/v1/cases/" + url.PathEscape(caseID) + "/messages"
	err := c.doJSON(ctx, "FetchHistory", http.MethodGet, path, nil, &out, true)
	return out, err
}

func (c *Client) RenameCase(ctx context.Context, caseID, title string) (cases.Case, error) {
	var out cases.Case
	path := "/api/v1/cases/" + url.PathEscape(caseID)
	err := c.doJSON(ctx, "RenameCase", http.MethodPatch, path, map[string]string{"title": title}, &out, true)
	return out, err
}

func (c *Client) DeleteCase(ctx context.Context, caseID string) error {
	path := "/api/v1/cases/" + url.PathEscape(caseID)
	return c.doJSON(ctx, "DeleteCase", http.MethodDelete, path, nil, nil, true)
}

func (c *Client) ListCases(ctx context.Context, cursor string) (Page, error) {
	var out Page
	path := "/api/v1/cases"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	err := c.doJSON(ctx, "ListCases", http.MethodGet, path, nil, &out, true)
	return out, err
}

func (c *Client) UploadDocument(ctx context.Context, caseID, name string, content io.Reader) (Document, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return Document{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Document{}, fmt.Errorf("close multipart: %w", err)
	}

	var out Document
	path := "/api/v1/cases/" + url.PathEscape(caseID) + "/documents"
	err = c.do(ctx, "UploadDocument", http.MethodPost, path, buf.Bytes(), mw.FormDataContentType(), &out, true)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any, repeatable bool) error {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	return c.do(ctx, op, method, path, data, "application/json", out, repeatable)
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, contentType string, out any, repeatable bool) error {
	retries := 0
	if repeatable {
		retries = c.maxRetries
	}
	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, op, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", contentType)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < retries && ctx.Err() == nil {
				c.logger.Debug("backend request failed, retrying", "op", op, "attempt", attempt+1, "error", err)
				if werr := wait(ctx, c.retryDelay(attempt+1, "")); werr != nil {
					return apperr.Wrap(apperr.KindNetwork, op, werr)
				}
				continue
			}
			return apperr.Wrap(apperr.KindNetwork, op, err)
		}

		payload, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return apperr.Wrap(apperr.KindNetwork, op, readErr)
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if retryable && attempt < retries {
			c.logger.Debug("backend returned retryable status", "op", op, "status", resp.StatusCode, "attempt", attempt+1)
			if werr := wait(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); werr != nil {
				return apperr.Wrap(apperr.KindNetwork, op, werr)
			}
			continue
		}
		return parseResponse(op, resp.StatusCode, payload, out)
	}
}

func parseResponse(op string, status int, payload []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		if status >= 400 {
			return &apperr.Error{
				Kind: apperr.FromStatus(status), Op: op, Status: status,
				Err: &APIError{Status: status, Message: strings.TrimSpace(string(payload))},
			}
		}
		if out == nil || len(payload) == 0 {
			return nil
		}
		return apperr.Wrap(apperr.KindInternal, op, fmt.Errorf("parse response: %w", err))
	}
	if env.Error != nil || status >= 400 {
		ae := env.Error
		if ae == nil {
			ae = &APIError{Message: http.StatusText(status)}
		}
		ae.Status = status
		return &apperr.Error{Kind: apperr.FromStatus(status), Op: op, Status: status, Err: ae}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperr.Wrap(apperr.KindInternal, op, fmt.Errorf("parse response data: %w", err))
	}
	return nil
}

func (c *Client) retryDelay(attempt int, retryAfter string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if d := parseRetryAfter(retryAfter); d > 0 {
		return min(d, maxDelay)
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt && delay < maxDelay; i++ {
		delay *= 2
	}
	return min(delay, maxDelay)
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if d := time.Until(ts); d > 0 {
			return d
		}
	}
	return 0
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
