// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// mockServer creates a test server that returns the given response.
func mockServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

// apiHandler creates a handler that returns a standard API response.
func apiHandler(data interface{}, statusCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		resp := map[string]interface{}{
			"data": data,
		}
		json.NewEncoder(w).Encode(resp)
	}
}

// apiErrorHandler creates a handler that returns an API error.
func apiErrorHandler(code, message string, details map[string]interface{}, statusCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		resp := map[string]interface{}{
			"error": map[string]interface{}{
				"code":    code,
				"message": message,
				"details": details,
			},
		}
		json.NewEncoder(w).Encode(resp)
	}
}

// expectRequest wraps a handler with method and path assertions.
func expectRequest(t *testing.T, method, path string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			t.Errorf("method = %q, want %q", r.Method, method)
		}
		if r.URL.Path != path {
			t.Errorf("path = %q, want %q", r.URL.Path, path)
		}
		next(w, r)
	}
}

func TestNew(t *testing.T) {
	c := New("http://localhost:7420")

	if c.BaseURL() != "http://localhost:7420" {
		t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), "http://localhost:7420")
	}

	if c.Version() != LatestVersion {
		t.Errorf("Version() = %q, want %q", c.Version(), LatestVersion)
	}

	// Test sub-clients are initialized
	if c.Cases == nil {
		t.Error("Cases client is nil")
	}
	if c.Operations == nil {
		t.Error("Operations client is nil")
	}
	if c.Conflicts == nil {
		t.Error("Conflicts client is nil")
	}
	if c.Events == nil {
		t.Error("Events client is nil")
	}
	if c.Maintenance == nil {
		t.Error("Maintenance client is nil")
	}
}

func TestNewWithOptions(t *testing.T) {
	t.Run("WithVersion", func(t *testing.T) {
		c := New("http://localhost:7420", WithVersion(Version20260901))
		if c.Version() != Version20260901 {
			t.Errorf("Version() = %q, want %q", c.Version(), Version20260901)
		}
	})

	t.Run("WithHTTPClient", func(t *testing.T) {
		customClient := &http.Client{Timeout: 10 * time.Second}
		c := New("http://localhost:7420", WithHTTPClient(customClient))
		if c.httpClient != customClient {
			t.Error("custom HTTP client not used")
		}
	})

	t.Run("WithTimeout", func(t *testing.T) {
		c := New("http://localhost:7420", WithTimeout(60*time.Second))
		if c.httpClient.Timeout != 60*time.Second {
			t.Errorf("Timeout = %v, want 60s", c.httpClient.Timeout)
		}
	})

	t.Run("trailing slash removed", func(t *testing.T) {
		c := New("http://localhost:7420/")
		if c.BaseURL() != "http://localhost:7420" {
			t.Errorf("BaseURL() = %q, want trailing slash removed", c.BaseURL())
		}
	})
}

func TestAPIError(t *testing.T) {
	err := &APIError{
		Code:    "NOT_FOUND",
		Message: "case not found",
		Details: map[string]interface{}{"hint": "Refresh the case list."},
	}

	expected := "NOT_FOUND: case not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
	if err.Hint() != "Refresh the case list." {
		t.Errorf("Hint() = %q", err.Hint())
	}

	// Test without code
	err2 := &APIError{
		Message: "Something went wrong",
	}
	if err2.Error() != "Something went wrong" {
		t.Errorf("Error() = %q, want %q", err2.Error(), "Something went wrong")
	}
	if err2.Hint() != "" {
		t.Errorf("Hint() = %q, want empty", err2.Hint())
	}
}

func TestVersionHeader(t *testing.T) {
	var receivedVersion string
	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		receivedVersion = r.Header.Get(VersionHeader)
		apiHandler([]Case{}, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL, WithVersion(Version20260901))
	_, _ = c.Cases.List(context.Background())

	if receivedVersion != Version20260901 {
		t.Errorf("%s header = %q, want %q", VersionHeader, receivedVersion, Version20260901)
	}
}

func TestCaseClient_List(t *testing.T) {
	list := []Case{
		{ID: "case_1", Title: "Billing", Status: "open", Pinned: true},
		{ID: "opt_case_abc", Title: "New", Provisional: true},
	}

	server := mockServer(t, expectRequest(t, "GET", "/api/v1/cases", apiHandler(list, http.StatusOK)))
	defer server.Close()

	c := New(server.URL)
	result, err := c.Cases.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("List() returned %d cases, want 2", len(result))
	}
	if !result[0].Pinned || result[0].Provisional {
		t.Errorf("result[0] = %+v", result[0])
	}
	if !result[1].Provisional {
		t.Errorf("result[1].Provisional = false, want true")
	}
}

func TestCaseClient_Create(t *testing.T) {
	server := mockServer(t, expectRequest(t, "POST", "/api/v1/cases", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["title"] != "Billing mismatch" {
			t.Errorf("title = %q", body["title"])
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		apiHandler(Case{ID: "opt_case_abc", Title: body["title"], Provisional: true}, http.StatusAccepted)(w, r)
	}))
	defer server.Close()

	c := New(server.URL)
	cs, err := c.Cases.Create(context.Background(), "Billing mismatch")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if cs.ID != "opt_case_abc" || !cs.Provisional {
		t.Errorf("Create() = %+v", cs)
	}
}

func TestCaseClient_Rename(t *testing.T) {
	server := mockServer(t, expectRequest(t, "PATCH", "/api/v1/cases/case_1", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		apiHandler(Case{ID: "case_1", Title: body["title"]}, http.StatusOK)(w, r)
	}))
	defer server.Close()

	c := New(server.URL)
	cs, err := c.Cases.Rename(context.Background(), "case_1", "Renamed")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if cs.Title != "Renamed" {
		t.Errorf("Title = %q, want %q", cs.Title, "Renamed")
	}
}

func TestCaseClient_Submit(t *testing.T) {
	server := mockServer(t, expectRequest(t, "POST", "/api/v1/cases/case_1/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != "hello" {
			t.Errorf("text = %q", body["text"])
		}
		apiHandler(Submission{OperationID: "op_1", CaseID: "case_1"}, http.StatusAccepted)(w, r)
	}))
	defer server.Close()

	c := New(server.URL)
	sub, err := c.Cases.Submit(context.Background(), "case_1", "hello")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if sub.OperationID != "op_1" {
		t.Errorf("OperationID = %q", sub.OperationID)
	}
}

func TestCaseClient_Conversation(t *testing.T) {
	q, a := "why?", "because"
	items := []ConversationItem{
		{ID: "m1", Question: &q},
		{ID: "m2", Response: &a, Loading: false},
	}
	server := mockServer(t, expectRequest(t, "GET", "/api/v1/cases/case_1/conversation", apiHandler(items, http.StatusOK)))
	defer server.Close()

	c := New(server.URL)
	result, err := c.Cases.Conversation(context.Background(), "case_1")
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if len(result) != 2 || result[0].Text() != "why?" || result[1].Text() != "because" {
		t.Errorf("Conversation() = %+v", result)
	}
}

func TestCaseClient_Upload(t *testing.T) {
	server := mockServer(t, expectRequest(t, "POST", "/api/v1/cases/case_1/documents", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		apiHandler(Document{ID: "doc_1", CaseID: "case_1", Name: header.Filename, Size: int64(len(data))}, http.StatusCreated)(w, r)
	}))
	defer server.Close()

	c := New(server.URL)
	doc, err := c.Cases.Upload(context.Background(), "case_1", "report.txt", strings.NewReader("contents"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.Name != "report.txt" || doc.Size != 8 {
		t.Errorf("Upload() = %+v", doc)
	}
}

func TestCaseClient_PathEscaping(t *testing.T) {
	var got string
	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.EscapedPath()
		apiHandler(Case{}, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)
	_, _ = c.Cases.Get(context.Background(), "a/b")
	if got != "/api/v1/cases/a%2Fb" {
		t.Errorf("path = %q", got)
	}
}

func TestCaseClient_Error(t *testing.T) {
	server := mockServer(t, apiErrorHandler("NOT_FOUND", "case not found",
		map[string]interface{}{"kind": "not_found", "hint": "Refresh the case list."}, http.StatusNotFound))
	defer server.Close()

	c := New(server.URL)
	_, err := c.Cases.Get(context.Background(), "case_404")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Code != "NOT_FOUND" {
		t.Errorf("Code = %q, want %q", apiErr.Code, "NOT_FOUND")
	}
	if apiErr.Details["kind"] != "not_found" {
		t.Errorf("Details = %v", apiErr.Details)
	}
}

func TestOperationClient_List(t *testing.T) {
	ops := []Operation{{
		ID:     "op_1",
		Type:   "submit_query",
		Status: OperationFailed,
		CaseID: "case_1",
		Reason: "backend 503: maintenance",
		Error:  &UserError{Kind: "network", Hint: "Retry when you are back online."},
	}}

	server := mockServer(t, expectRequest(t, "GET", "/api/v1/operations", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("status") != OperationFailed {
			t.Errorf("status = %q", r.URL.Query().Get("status"))
		}
		apiHandler(ops, http.StatusOK)(w, r)
	}))
	defer server.Close()

	c := New(server.URL)
	result, err := c.Operations.List(context.Background(), OperationFailed)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(result) != 1 || result[0].Error == nil || result[0].Error.Kind != "network" {
		t.Errorf("List() = %+v", result)
	}
}

func TestOperationClient_RetryAndDismiss(t *testing.T) {
	t.Run("retry", func(t *testing.T) {
		server := mockServer(t, expectRequest(t, "POST", "/api/v1/operations/op_1/retry",
			apiHandler(Operation{ID: "op_1", Status: OperationCompleted, Attempts: 1}, http.StatusOK)))
		defer server.Close()

		c := New(server.URL)
		op, err := c.Operations.Retry(context.Background(), "op_1")
		if err != nil {
			t.Fatalf("Retry() error = %v", err)
		}
		if op.Status != OperationCompleted || op.Attempts != 1 {
			t.Errorf("Retry() = %+v", op)
		}
	})

	t.Run("retry not failed", func(t *testing.T) {
		server := mockServer(t, apiErrorHandler("CONFLICT", "operation is not failed", nil, http.StatusConflict))
		defer server.Close()

		c := New(server.URL)
		_, err := c.Operations.Retry(context.Background(), "op_1")
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Code != "CONFLICT" {
			t.Errorf("Retry() error = %v, want CONFLICT", err)
		}
	})

	t.Run("dismiss", func(t *testing.T) {
		server := mockServer(t, expectRequest(t, "DELETE", "/api/v1/operations/op_1",
			apiHandler(map[string]string{"id": "op_1", "status": "dismissed"}, http.StatusOK)))
		defer server.Close()

		c := New(server.URL)
		if err := c.Operations.Dismiss(context.Background(), "op_1"); err != nil {
			t.Fatalf("Dismiss() error = %v", err)
		}
	})
}

func TestConflictClient(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		list := []Conflict{{
			ID:       "conf_1",
			Type:     "data_sync",
			Severity: "medium",
			State:    "awaiting_user",
			Choices:  []string{ChoiceKeepLocal, ChoiceAcceptRemote},
			Merged:   &MergeResult{Confidence: 0.5},
		}}
		server := mockServer(t, expectRequest(t, "GET", "/api/v1/conflicts", apiHandler(list, http.StatusOK)))
		defer server.Close()

		c := New(server.URL)
		result, err := c.Conflicts.List(context.Background())
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(result) != 1 || result[0].Merged == nil || len(result[0].Choices) != 2 {
			t.Errorf("List() = %+v", result)
		}
	})

	t.Run("resolve", func(t *testing.T) {
		server := mockServer(t, expectRequest(t, "POST", "/api/v1/conflicts/conf_1/resolve", func(w http.ResponseWriter, r *http.Request) {
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			if body["choice"] != ChoiceRestoreBackup || body["backup"] != "bk_1" {
				t.Errorf("body = %v", body)
			}
			if _, ok := body["snapshot"]; ok {
				t.Error("snapshot should be omitted")
			}
			apiHandler(map[string]string{"id": "conf_1"}, http.StatusOK)(w, r)
		}))
		defer server.Close()

		c := New(server.URL)
		err := c.Conflicts.Resolve(context.Background(), "conf_1", Resolution{Choice: ChoiceRestoreBackup, Backup: "bk_1"})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	})
}

func TestMaintenanceClient(t *testing.T) {
	t.Run("partial recovery is not an error", func(t *testing.T) {
		res := RecoveryResult{Success: false, RecoveredCases: 3, Errors: []string{"case_2: timeout"}}
		server := mockServer(t, expectRequest(t, "POST", "/api/v1/recover", apiHandler(res, http.StatusBadGateway)))
		defer server.Close()

		c := New(server.URL)
		got, err := c.Maintenance.Recover(context.Background())
		if err != nil {
			t.Fatalf("Recover() error = %v", err)
		}
		if got.Success || got.RecoveredCases != 3 || len(got.Errors) != 1 {
			t.Errorf("Recover() = %+v", got)
		}
	})

	t.Run("recovery status", func(t *testing.T) {
		server := mockServer(t, expectRequest(t, "GET", "/api/v1/recover", apiHandler(map[string]bool{"in_progress": true}, http.StatusOK)))
		defer server.Close()

		c := New(server.URL)
		busy, err := c.Maintenance.RecoveryInProgress(context.Background())
		if err != nil {
			t.Fatalf("RecoveryInProgress() error = %v", err)
		}
		if !busy {
			t.Error("RecoveryInProgress() = false, want true")
		}
	})

	t.Run("evict", func(t *testing.T) {
		res := EvictionResult{Evicted: []string{"case_9"}, Trimmed: map[string]int{"case_1": 4}, Retained: 12}
		server := mockServer(t, expectRequest(t, "POST", "/api/v1/evict", apiHandler(res, http.StatusOK)))
		defer server.Close()

		c := New(server.URL)
		got, err := c.Maintenance.Evict(context.Background())
		if err != nil {
			t.Fatalf("Evict() error = %v", err)
		}
		if len(got.Evicted) != 1 || got.Trimmed["case_1"] != 4 || got.Retained != 12 {
			t.Errorf("Evict() = %+v", got)
		}
	})

	t.Run("integrity", func(t *testing.T) {
		report := IntegrityReport{OK: false, Violations: []Violation{{Kind: "dual_representation", ID: "opt_case_a", Counterpart: "case_1"}}}
		server := mockServer(t, expectRequest(t, "GET", "/api/v1/integrity", apiHandler(report, http.StatusOK)))
		defer server.Close()

		c := New(server.URL)
		got, err := c.Maintenance.Integrity(context.Background())
		if err != nil {
			t.Fatalf("Integrity() error = %v", err)
		}
		if got.OK || len(got.Violations) != 1 {
			t.Errorf("Integrity() = %+v", got)
		}
	})
}

func TestEventClient_List(t *testing.T) {
	events := []Event{
		{ID: "evt-1", Type: "case.created", Timestamp: time.Now(), CaseID: "opt_case_a"},
		{ID: "evt-2", Type: "case.reconciled", Timestamp: time.Now(), CaseID: "case_1"},
	}

	t.Run("with limit", func(t *testing.T) {
		server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("limit") != "50" {
				t.Errorf("limit = %q, want %q", r.URL.Query().Get("limit"), "50")
			}
			apiHandler(events, http.StatusOK)(w, r)
		})
		defer server.Close()

		c := New(server.URL)
		result, err := c.Events.List(context.Background(), &ListOptions{Limit: 50})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(result) != 2 {
			t.Errorf("List() returned %d events, want 2", len(result))
		}
	})

	t.Run("with filters", func(t *testing.T) {
		since := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
		server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			if q.Get("case") != "case_1" {
				t.Errorf("case = %q, want %q", q.Get("case"), "case_1")
			}
			if got := q["type"]; len(got) != 2 || got[0] != "case.*" {
				t.Errorf("type = %v", got)
			}
			if q.Get("since") != "2026-10-01T00:00:00Z" {
				t.Errorf("since = %q", q.Get("since"))
			}
			apiHandler(events, http.StatusOK)(w, r)
		})
		defer server.Close()

		c := New(server.URL)
		_, err := c.Events.List(context.Background(), &ListOptions{
			CaseID: "case_1",
			Types:  []string{"case.*", "operation.failed"},
			Since:  since,
		})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
	})
}

func TestContextCancellation(t *testing.T) {
	server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		apiHandler([]Case{}, http.StatusOK)(w, r)
	})
	defer server.Close()

	c := New(server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := c.Cases.List(ctx)
	if err == nil {
		t.Error("expected error due to cancelled context")
	}
}

// invalidJSONHandler returns a handler that sends invalid JSON.
func invalidJSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data": invalid json}`))
	}
}

// invalidDataHandler returns a handler that sends valid JSON but invalid data type.
func invalidDataHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data": "not an object"}`))
	}
}

func TestInvalidJSON(t *testing.T) {
	t.Run("invalid envelope", func(t *testing.T) {
		server := mockServer(t, invalidJSONHandler())
		defer server.Close()

		c := New(server.URL)
		// A non-envelope body is passed through and then fails to parse.
		if _, err := c.Cases.List(context.Background()); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})

	t.Run("invalid data", func(t *testing.T) {
		server := mockServer(t, invalidDataHandler())
		defer server.Close()

		c := New(server.URL)
		if _, err := c.Operations.Get(context.Background(), "op_1"); err == nil {
			t.Error("expected error for invalid data type")
		}
		if _, err := c.Conflicts.List(context.Background()); err == nil {
			t.Error("expected error for invalid data type")
		}
		if _, err := c.Maintenance.Evict(context.Background()); err == nil {
			t.Error("expected error for invalid data type")
		}
	})

	t.Run("error status without envelope", func(t *testing.T) {
		server := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("bad gateway"))
		})
		defer server.Close()

		c := New(server.URL)
		_, err := c.Cases.List(context.Background())
		if err == nil || !strings.Contains(err.Error(), "502") {
			t.Errorf("error = %v, want status 502", err)
		}
	})
}
