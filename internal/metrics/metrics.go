// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics exports Prometheus metrics derived from engine events.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wingedpig/casesync/internal/events"
)

const namespace = "casesync"

// Sources supplies point-in-time values sampled at scrape time. Nil
// fields are not exported.
type Sources struct {
	PendingOperations func() int
	AwaitingConflicts func() int
	Cases             func() int
}

// Recorder owns the collectors and the registry they live in.
type Recorder struct {
	registry *prometheus.Registry

	operations      *prometheus.CounterVec
	messages        *prometheus.CounterVec
	reconciliations prometheus.Counter
	conflicts       *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	violations      *prometheus.CounterVec
	recoveries      *prometheus.CounterVec
	evicted         prometheus.Counter
	trimmed         prometheus.Counter
	storeChanges    *prometheus.CounterVec
	authRequired    prometheus.Counter

	sub events.SubscriptionID
	bus events.Bus
}

// New creates a Recorder with its own registry, including the Go runtime
// and process collectors.
func New(src Sources) *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	r := &Recorder{
		registry: reg,
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pending",
			Name:      "operations_total",
			Help:      "Pending operation transitions by operation type and transition",
		}, []string{"type", "transition"}),
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "total",
			Help:      "Message submissions by outcome",
		}, []string{"outcome"}),
		reconciliations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cases",
			Name:      "reconciliations_total",
			Help:      "Provisional cases reconciled with a confirmed id",
		}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conflicts",
			Name:      "detected_total",
			Help:      "Conflicts detected by type and severity",
		}, []string{"type", "severity"}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conflicts",
			Name:      "resolved_total",
			Help:      "Conflict resolutions by choice and whether they were automatic",
		}, []string{"choice", "auto"}),
		violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "integrity",
			Name:      "violations_total",
			Help:      "Integrity violations by kind",
		}, []string{"kind"}),
		recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "runs_total",
			Help:      "Recovery runs by result",
		}, []string{"result"}),
		evicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eviction",
			Name:      "conversations_evicted_total",
			Help:      "Conversations dropped from the local store",
		}),
		trimmed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eviction",
			Name:      "conversations_trimmed_total",
			Help:      "Conversations cut down to the message limit",
		}),
		storeChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "external_changes_total",
			Help:      "Store keys changed or removed by another process",
		}, []string{"key", "change"}),
		authRequired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "auth_required_total",
			Help:      "Operations that failed for lack of valid credentials",
		}),
	}

	gauge := func(name, help string, fn func() int) {
		if fn == nil {
			return
		}
		f.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
			func() float64 { return float64(fn()) })
	}
	gauge("pending_operations", "Operations not yet completed", src.PendingOperations)
	gauge("conflicts_awaiting", "Conflicts waiting for a user decision", src.AwaitingConflicts)
	gauge("cases", "Cases visible to the user", src.Cases)

	return r
}

// Attach subscribes the recorder to every event on bus.
func (r *Recorder) Attach(bus events.Bus) error {
	id, err := bus.Subscribe("*", r.observe)
	if err != nil {
		return err
	}
	r.bus, r.sub = bus, id
	return nil
}

// Detach removes the bus subscription.
func (r *Recorder) Detach() error {
	if r.bus == nil {
		return nil
	}
	bus := r.bus
	r.bus = nil
	return bus.Unsubscribe(r.sub)
}

// Registry returns the registry the collectors are registered with.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) observe(_ context.Context, ev events.Event) error {
	p := ev.Payload
	switch ev.Type {
	case events.OperationAdded, events.OperationCompleted, events.OperationFailed,
		events.OperationRemoved, events.OperationRolledBack:
		r.operations.WithLabelValues(str(p, "type"), transition(ev.Type)).Inc()
	case events.MessageSubmitted:
		r.messages.WithLabelValues("submitted").Inc()
	case events.MessageConfirmed:
		r.messages.WithLabelValues("confirmed").Inc()
	case events.MessageFailed:
		r.messages.WithLabelValues("failed").Inc()
	case events.CaseReconciled:
		r.reconciliations.Inc()
	case events.ConflictDetected:
		r.conflicts.WithLabelValues(str(p, "type"), str(p, "severity")).Inc()
	case events.ConflictResolved:
		auto, _ := p["auto"].(bool)
		r.resolutions.WithLabelValues(str(p, "choice"), strconv.FormatBool(auto)).Inc()
	case events.IntegrityViolation:
		r.violations.WithLabelValues(str(p, "kind")).Inc()
	case events.RecoveryCompleted:
		r.recoveries.WithLabelValues("completed").Inc()
	case events.RecoveryFailed:
		r.recoveries.WithLabelValues("failed").Inc()
	case events.EvictionCompleted:
		r.evicted.Add(num(p, "evicted"))
		r.trimmed.Add(num(p, "trimmed"))
	case events.StoreChanged:
		r.storeChanges.WithLabelValues(str(p, "key"), "changed").Inc()
	case events.StoreRemoved:
		r.storeChanges.WithLabelValues(str(p, "key"), "removed").Inc()
	case events.AuthRequired:
		r.authRequired.Inc()
	}
	return nil
}

func transition(eventType string) string {
	switch eventType {
	case events.OperationAdded:
		return "added"
	case events.OperationCompleted:
		return "completed"
	case events.OperationFailed:
		return "failed"
	case events.OperationRemoved:
		return "removed"
	default:
		return "rolled_back"
	}
}

func str(p map[string]interface{}, key string) string {
	s, _ := p[key].(string)
	return s
}

// num reads a count from a payload. Payloads that went through JSON carry
// float64, in-process ones carry int. A list counts its entries.
func num(p map[string]interface{}, key string) float64 {
	switch v := p[key].(type) {
	case []string:
		return float64(len(v))
	case []interface{}:
		return float64(len(v))
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return 0
}
