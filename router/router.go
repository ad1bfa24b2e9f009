/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

// Package router maps named inbound transport events to at most one active
// handler set. The session controller installs its handlers on start; a later
// registration fully replaces the previous set, so stale closures from a
// prior call session never accumulate.
package router

import (
	"encoding/json"
	"sync"
)

// HandlerFunc handles one named event's payload.
type HandlerFunc func(data json.RawMessage)

// Router is the process-wide registry of named-event handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// New creates an empty router.
func New() *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
	}
}

// RegisterHandlers atomically replaces the active handler set. Passing nil or
// an empty map clears all handlers. The map is copied; later mutation by the
// caller has no effect.
func (r *Router) RegisterHandlers(handlers map[string]HandlerFunc) {
	next := make(map[string]HandlerFunc, len(handlers))
	for name, h := range handlers {
		if h == nil {
			continue
		}
		next[name] = h
	}

	r.mu.Lock()
	r.handlers = next
	r.mu.Unlock()
}

// Dispatch invokes the handler bound to the event name synchronously with the
// payload. Unmatched events are dropped without error. No buffering or
// reordering happens here; events run in the order the transport delivers
// them.
func (r *Router) Dispatch(event string, data json.RawMessage) {
	r.mu.RLock()
	handler := r.handlers[event]
	r.mu.RUnlock()

	if handler != nil {
		handler(data)
	}
}

// HandlerCount returns the number of bound event names (for testing).
func (r *Router) HandlerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}
