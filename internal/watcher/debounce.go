// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"sync"
	"time"
)

const defaultQuietPeriod = 100 * time.Millisecond

type pendingCall struct {
	timer *time.Timer
	first time.Time
	gen   uint64
	fn    func()
}

// Debouncer coalesces bursts of calls per key. A call runs once the key has
// been quiet for the quiet period, or once maxWait has passed since the
// first call of the burst, whichever comes first.
type Debouncer struct {
	mu      sync.Mutex
	quiet   time.Duration
	maxWait time.Duration
	calls   map[string]*pendingCall
}

// NewDebouncer creates a debouncer. A maxWait of zero disables the upper
// bound.
func NewDebouncer(quiet, maxWait time.Duration) *Debouncer {
	if quiet <= 0 {
		quiet = defaultQuietPeriod
	}
	if maxWait < 0 {
		maxWait = 0
	}
	return &Debouncer{
		quiet:   quiet,
		maxWait: maxWait,
		calls:   make(map[string]*pendingCall),
	}
}

// Debounce schedules fn for key, replacing any function already scheduled
// for it. Only the last fn of a burst runs.
func (d *Debouncer) Debounce(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	c, ok := d.calls[key]
	if ok {
		c.timer.Stop()
	} else {
		c = &pendingCall{first: now}
		d.calls[key] = c
	}
	c.gen++
	c.fn = fn

	delay := d.quiet
	if d.maxWait > 0 {
		remaining := d.maxWait - now.Sub(c.first)
		if remaining < 0 {
			remaining = 0
		}
		delay = min(delay, remaining)
	}
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() { d.fire(key, c, gen) })
}

func (d *Debouncer) fire(key string, c *pendingCall, gen uint64) {
	d.mu.Lock()
	if d.calls[key] != c || c.gen != gen {
		d.mu.Unlock()
		return
	}
	delete(d.calls, key)
	fn := c.fn
	d.mu.Unlock()
	fn()
}

// Flush runs the function scheduled for key now, on the calling goroutine.
// It reports whether anything was scheduled.
func (d *Debouncer) Flush(key string) bool {
	d.mu.Lock()
	c, ok := d.calls[key]
	if !ok {
		d.mu.Unlock()
		return false
	}
	c.timer.Stop()
	delete(d.calls, key)
	d.mu.Unlock()
	c.fn()
	return true
}

// FlushAll runs every scheduled function now and returns how many ran.
func (d *Debouncer) FlushAll() int {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.calls))
	for key, c := range d.calls {
		c.timer.Stop()
		fns = append(fns, c.fn)
		delete(d.calls, key)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Pending reports whether a call is scheduled for key.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.calls[key]
	return ok
}

// Cancel drops the call scheduled for key without running it.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.calls[key]; ok {
		c.timer.Stop()
		delete(d.calls, key)
	}
}

// Stop drops every scheduled call.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, c := range d.calls {
		c.timer.Stop()
		delete(d.calls, key)
	}
}
