/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

package session

import "time"

// Status is the single source of truth for the tracked call. The UI gates
// its actions on it; the controller validates every transition against it.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusDialing   Status = "dialing"
	StatusRinging   Status = "ringing"
	StatusConnected Status = "connected"
	StatusOnHold    Status = "on_hold"
	StatusEnded     Status = "ended"
	StatusFailed    Status = "failed"
)

// Direction indicates whether the tracked call is outbound or inbound.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Session is the in-memory record of the single currently tracked call.
// Exactly one value exists at a time; Controller.Current returns a copy.
type Session struct {
	Status    Status
	Direction Direction

	// CallID is assigned by the telephony backend once a call is accepted.
	// Empty while idle or dialing.
	CallID string

	// PeerNumber is the far-end phone number, digits only.
	PeerNumber string

	// ContactName is an optional display label attached at call start.
	ContactName string

	// StartedAt is stamped the instant the call connects, not at dialing or
	// ringing, so duration always measures true connection time.
	StartedAt time.Time

	// Muted and OnHold are only meaningful while connected or on hold.
	Muted  bool
	OnHold bool

	// LastError is the last human-readable failure reason, cleared on every
	// new action.
	LastError string
}

// ContactInfo carries optional display information supplied by the caller
// when initiating a call (e.g. from a customer lookup panel).
type ContactInfo struct {
	Name string
}

// ---- Transport event names ----

// Inbound events pushed by the signaling backend.
const (
	EventCallInitiated    = "call-initiated"
	EventCallStatusUpdate = "call-status-update"
	EventCallConnected    = "call-connected"
	EventCallHoldStatus   = "call-hold-status"
	EventCallEnded        = "call-ended"
	EventCallFailed       = "call-failed"
	EventCallError        = "call-error"
	EventIncomingCall     = "incoming-call"
)

// Outbound notifications emitted for other subscribers (analytics, wallboards).
const (
	EventCallAnswered     = "call-answered"
	EventCallDisconnected = "call-disconnected"
	EventMuteChanged      = "mute-changed"
	EventHoldChanged      = "hold-changed"
)

// callEvent is the payload shape shared by the inbound call events. Every
// event carries at least the callId it refers to.
type callEvent struct {
	CallID     string `json:"callId"`
	Status     string `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Hold       *bool  `json:"hold,omitempty"`
	FromNumber string `json:"fromNumber,omitempty"`
}

// notification is the payload of outbound transport notifications.
type notification struct {
	CallID    string `json:"callId"`
	Number    string `json:"number,omitempty"`
	Muted     *bool  `json:"muted,omitempty"`
	Hold      *bool  `json:"hold,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
