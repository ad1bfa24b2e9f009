/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

package router

import (
	"encoding/json"
	"testing"
)

func TestDispatch(t *testing.T) {
	r := New()

	var got string
	r.RegisterHandlers(map[string]HandlerFunc{
		"call-connected": func(data json.RawMessage) {
			got = string(data)
		},
	})

	r.Dispatch("call-connected", json.RawMessage(`{"callId":"c-1"}`))
	if got != `{"callId":"c-1"}` {
		t.Errorf("Expected handler to receive payload, got %q", got)
	}
}

func TestDispatchUnmatchedEventDropped(t *testing.T) {
	r := New()
	r.RegisterHandlers(map[string]HandlerFunc{
		"call-connected": func(data json.RawMessage) {
			t.Error("Handler should not fire for a different event")
		},
	})

	// Must not panic or invoke anything.
	r.Dispatch("call-ended", json.RawMessage(`{}`))
	r.Dispatch("unknown-event", nil)
}

func TestRegisterHandlersReplaces(t *testing.T) {
	r := New()

	var oldFired, newFired bool
	r.RegisterHandlers(map[string]HandlerFunc{
		"call-ended": func(data json.RawMessage) { oldFired = true },
		"call-error": func(data json.RawMessage) { oldFired = true },
	})
	r.RegisterHandlers(map[string]HandlerFunc{
		"call-ended": func(data json.RawMessage) { newFired = true },
	})

	r.Dispatch("call-ended", nil)
	r.Dispatch("call-error", nil)

	if oldFired {
		t.Error("Replaced handler set should never fire")
	}
	if !newFired {
		t.Error("Expected new handler to fire")
	}
	if r.HandlerCount() != 1 {
		t.Errorf("Expected 1 handler after replacement, got %d", r.HandlerCount())
	}
}

func TestRegisterHandlersSkipsNil(t *testing.T) {
	r := New()
	r.RegisterHandlers(map[string]HandlerFunc{
		"call-hold-status": nil,
		"call-connected":   func(data json.RawMessage) {},
	})

	if r.HandlerCount() != 1 {
		t.Errorf("Expected nil handler to be skipped, got %d handlers", r.HandlerCount())
	}
	r.Dispatch("call-hold-status", nil)
}

func TestRegisterHandlersNilClears(t *testing.T) {
	r := New()
	r.RegisterHandlers(map[string]HandlerFunc{
		"incoming-call": func(data json.RawMessage) {},
	})
	r.RegisterHandlers(nil)

	if r.HandlerCount() != 0 {
		t.Errorf("Expected empty handler set, got %d", r.HandlerCount())
	}
}

func TestRegisteredMapIsCopied(t *testing.T) {
	r := New()
	handlers := map[string]HandlerFunc{
		"call-connected": func(data json.RawMessage) {},
	}
	r.RegisterHandlers(handlers)

	// Mutating the caller's map must not affect the router.
	delete(handlers, "call-connected")
	handlers["call-failed"] = func(data json.RawMessage) {}

	if r.HandlerCount() != 1 {
		t.Errorf("Expected router unaffected by caller mutation, got %d handlers", r.HandlerCount())
	}
}
