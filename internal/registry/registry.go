// Argos - protocol-agnostic endpoint monitoring runtime
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/JorgeSuarezV/argos

// Package registry implements the subscriber registry (spec §4.2): a
// process-local, many-to-many publish/subscribe index from a rule name
// to zero or more live inboxes. Registration is idempotent per
// (name, inbox) pair; dispatch is non-blocking and best-effort, and a
// slow or full subscriber never blocks delivery to the others.
package registry

import (
	"sync"

	"github.com/JorgeSuarezV/argos/internal/envelope"
	"github.com/JorgeSuarezV/argos/internal/metrics"
)

// Tag discriminates the two message kinds a subscriber can receive
// (spec §6 "Subscriber API").
type Tag string

const (
	TagMonitorData  Tag = "monitor_data"
	TagMonitorError Tag = "monitor_error"
)

// Delivery is the message shape handed to every subscriber inbox.
type Delivery struct {
	Tag      Tag
	Envelope envelope.Envelope
}

// Inbox is the receiving side of a subscriber: a buffered channel the
// registry sends Deliveries to. Subscribers must not block while
// draining it (spec §6); any slow work belongs on a separate goroutine.
type Inbox chan Delivery

// Registry is the shared, concurrency-safe index from subscriber name
// to live inboxes (spec §4.2, §5 "Shared resources"). The zero value is
// not usable; construct with New.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]map[Inbox]struct{}
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{subs: make(map[string]map[Inbox]struct{})}
}

// Register adds inbox under name. Registration is idempotent: calling
// Register twice with the same (name, inbox) pair has no additional
// effect.
func (r *Registry) Register(name string, inbox Inbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[name]
	if !ok {
		set = make(map[Inbox]struct{})
		r.subs[name] = set
	}
	set[inbox] = struct{}{}
}

// Unregister removes inbox from name's entry set. Call this when a
// subscriber's inbox terminates so the registry entry is cleaned up
// (spec §3 "Subscriber registry entry").
func (r *Registry) Unregister(name string, inbox Inbox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.subs[name]
	if !ok {
		return
	}
	delete(set, inbox)
	if len(set) == 0 {
		delete(r.subs, name)
	}
}

// Dispatch sends msg to every inbox currently registered under name.
// Delivery is non-blocking and best-effort: an inbox with a full buffer
// has the message dropped rather than blocking delivery to siblings.
// Dispatching to an unregistered name is a silent no-op.
func (r *Registry) Dispatch(name string, msg Delivery) {
	r.mu.RLock()
	inboxes := make([]Inbox, 0, len(r.subs[name]))
	for inbox := range r.subs[name] {
		inboxes = append(inboxes, inbox)
	}
	r.mu.RUnlock()

	for _, inbox := range inboxes {
		select {
		case inbox <- msg:
			metrics.SubscriberDeliveries.WithLabelValues(name).Inc()
		default:
		}
	}
}

// Count returns the number of inboxes currently registered under name,
// for diagnostics and tests.
func (r *Registry) Count(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[name])
}
