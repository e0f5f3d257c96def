// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/wingedpig/casesync/internal/cases"
)

// Method names accepted by Fake.FailNext, Fake.Hold and Fake.Calls.
const (
	MethodCreateCase     = "CreateCase"
	MethodSubmitMessage  = "SubmitMessage"
	MethodFetchHistory   = "FetchHistory"
	MethodRenameCase     = "RenameCase"
	MethodDeleteCase     = "DeleteCase"
	MethodListCases      = "ListCases"
	MethodUploadDocument = "UploadDocument"
)

// Fake is an in-memory Backend for tests and offline runs. Failures can be
// queued per method and calls can be held until released.
type Fake struct {
	mu        sync.Mutex
	seq       int
	cases     map[string]cases.Case
	histories map[string][]Message
	docs      map[string][]Document
	errs      map[string][]error
	holds     map[string]chan struct{}
	calls     map[string]int
	requests  map[string][]string

	// PageSize bounds ListCases pages. Zero means 50.
	PageSize int
	// Reply computes the assistant answer. Defaults to an echo.
	Reply func(question string) string
}

// NewFake creates an empty fake backend.
func NewFake() *Fake {
	return &Fake{
		cases:     make(map[string]cases.Case),
		histories: make(map[string][]Message),
		docs:      make(map[string][]Document),
		errs:      make(map[string][]error),
		holds:     make(map[string]chan struct{}),
		calls:     make(map[string]int),
		requests:  make(map[string][]string),
	}
}

// FailNext makes the next call to method return err. Calls queue up.
func (f *Fake) FailNext(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = append(f.errs[method], err)
}

// Hold blocks calls to method until the returned release func is called.
func (f *Fake) Hold(method string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.holds[method] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.holds[method] == ch {
				delete(f.holds, method)
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

// Calls returns how many times method has been called.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Requests returns the primary argument of every call to method, in order:
// the title for CreateCase and RenameCase, the content for SubmitMessage,
// and the case id otherwise.
func (f *Fake) Requests(method string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests[method]...)
}

// Seed installs a server-side case with its history.
func (f *Fake) Seed(c cases.Case, history ...Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.Status == "" {
		c.Status = cases.StatusOpen
	}
	f.cases[c.ID] = c
	f.histories[c.ID] = append([]Message(nil), history...)
}

// Case returns the server-side case.
func (f *Fake) Case(id string) (cases.Case, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[id]
	return c, ok
}

// History returns the server-side history of id.
func (f *Fake) History(id string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.histories[id]...)
}

// enter records the call, waits on any hold and pops a queued error.
func (f *Fake) enter(ctx context.Context, method, arg string) error {
	f.mu.Lock()
	f.calls[method]++
	f.requests[method] = append(f.requests[method], arg)
	hold := f.holds[method]
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.errs[method]; len(q) > 0 {
		err := q[0]
		f.errs[method] = q[1:]
		return err
	}
	return nil
}

func (f *Fake) nextIDLocked(prefix string) string {
	f.seq++
	return prefix + "_" + strconv.Itoa(f.seq)
}

func notFound(id string) error {
	return StatusError(http.StatusNotFound, fmt.Sprintf("case %s not found", id))
}

func (f *Fake) CreateCase(ctx context.Context, title string) (cases.Case, error) {
	if err := f.enter(ctx, MethodCreateCase, title); err != nil {
		return cases.Case{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	c := cases.Case{ID: f.nextIDLocked("case"), Title: title, Status: cases.StatusOpen, CreatedAt: now, UpdatedAt: now}
	f.cases[c.ID] = c
	f.histories[c.ID] = nil
	return c, nil
}

func (f *Fake) SubmitMessage(ctx context.Context, caseID, content string) (SubmitResult, error) {
	if err := f.enter(ctx, MethodSubmitMessage, content); err != nil {
		return SubmitResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[caseID]
	if !ok {
		return SubmitResult{}, notFound(caseID)
	}
	reply := "echo: " + content
	if f.Reply != nil {
		reply = f.Reply(content)
	}
	now := time.Now()
	user := Message{ID: f.nextIDLocked("msg"), Role: RoleUser, Content: content, CreatedAt: now}
	answer := Message{ID: f.nextIDLocked("msg"), Role: RoleAssistant, Content: reply, CreatedAt: now.Add(time.Millisecond)}
	f.histories[caseID] = append(f.histories[caseID], user, answer)
	c.UpdatedAt = answer.CreatedAt
	f.cases[caseID] = c
	return SubmitResult{CaseID: caseID, User: user, Reply: answer}, nil
}

func (f *Fake) FetchHistory(ctx context.Context, caseID string) ([]Message, error) {
	if err := f.enter(ctx, MethodFetchHistory, caseID); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cases[caseID]; !ok {
		return nil, notFound(caseID)
	}
	return append([]Message(nil), f.histories[caseID]...), nil
}

func (f *Fake) RenameCase(ctx context.Context, caseID, title string) (cases.Case, error) {
	if err := f.enter(ctx, MethodRenameCase, title); err != nil {
		return cases.Case{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.cases[caseID]
	if !ok {
		return cases.Case{}, notFound(caseID)
	}
	c.Title = title
	c.UpdatedAt = time.Now()
	f.cases[caseID] = c
	return c, nil
}

func (f *Fake) DeleteCase(ctx context.Context, caseID string) error {
	if err := f.enter(ctx, MethodDeleteCase, caseID); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cases[caseID]; !ok {
		return notFound(caseID)
	}
	delete(f.cases, caseID)
	delete(f.histories, caseID)
	delete(f.docs, caseID)
	return nil
}

func (f *Fake) ListCases(ctx context.Context, cursor string) (Page, error) {
	if err := f.enter(ctx, MethodListCases, cursor); err != nil {
		return Page{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := make([]cases.Case, 0, len(f.cases))
	for _, c := range f.cases {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	size := f.PageSize
	if size <= 0 {
		size = 50
	}
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return Page{}, StatusError(http.StatusBadRequest, "bad cursor")
		}
		start = min(n, len(all))
	}
	end := min(start+size, len(all))
	page := Page{Cases: all[start:end]}
	if end < len(all) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (f *Fake) UploadDocument(ctx context.Context, caseID, name string, content io.Reader) (Document, error) {
	if err := f.enter(ctx, MethodUploadDocument, caseID); err != nil {
		return Document{}, err
	}
	n, err := io.Copy(io.Discard, content)
	if err != nil {
		return Document{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.cases[caseID]; !ok {
		return Document{}, notFound(caseID)
	}
	d := Document{ID: f.nextIDLocked("doc"), CaseID: caseID, Name: name, Size: n, UploadedAt: time.Now()}
	f.docs[caseID] = append(f.docs[caseID], d)
	return d, nil
}

var _ Backend = (*Fake)(nil)
var _ Backend = (*Client)(nil)
