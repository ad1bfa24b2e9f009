/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

// Package session implements the call state machine at the center of the
// agent console. The controller tracks one call at a time, exposes the agent
// actions (initiate, answer, end, toggle mute, toggle hold), issues commands
// to the telephony control plane, and reconciles their responses with the
// asynchronous events pushed over the transport channel.
//
// Two independent event sources race to advance the same machine: REST
// responses and transport pushes may arrive in either order. Every transition
// therefore re-validates the current status and the callId it believes is
// current before applying; duplicate and stale events are no-ops. Actions
// invoked in a state where they are invalid are silently ignored — the UI
// layer is responsible for disabling them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/connectcrm/agentdesk/consolesdk"
	"github.com/connectcrm/agentdesk/router"
)

// TokenProvider supplies and invalidates the control-plane bearer token.
// Satisfied by *auth.Manager.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Emitter sends named notifications over the transport channel. Satisfied by
// *transport.Connection.
type Emitter interface {
	Emit(event string, payload interface{}) error
}

// HandlerRegistry installs the controller's inbound event handlers. Satisfied
// by *router.Router.
type HandlerRegistry interface {
	RegisterHandlers(handlers map[string]router.HandlerFunc)
}

// ContactResolver looks up a display name for a phone number. Satisfied by
// *directory.Client. Lookup failures are ignored; the call proceeds without
// a name.
type ContactResolver interface {
	ResolveDisplayName(ctx context.Context, number string) (string, error)
}

// Config holds the configuration for the call session controller.
type Config struct {
	// AgentID is the local agent identity. Required before any call can be
	// initiated.
	AgentID string

	// AgentNumber is the agent's own phone number, dialed first on an
	// outbound call.
	AgentNumber string

	// CallerID is presented to the far end.
	CallerID string

	// GraceDelay is how long a terminal state (ended/failed) is held before
	// auto-resetting to idle, giving the UI time to render the outcome.
	// Default: 3s.
	GraceDelay time.Duration

	// Contacts optionally resolves display names for peer numbers.
	Contacts ContactResolver

	// OnTick, if set, is called once per second with the elapsed connection
	// time while the call is connected or on hold.
	OnTick func(elapsed time.Duration)

	// OnEnded, if set, is called with the final session snapshot when a call
	// reaches a terminal state, for post-call workflows (remarks forms,
	// wrap-up timers). Called on its own goroutine.
	OnEnded func(final Session)

	// Logger for controller operations. Defaults to log.Default().
	Logger consolesdk.Logger
}

// Controller is the telephony session controller.
type Controller struct {
	mu      sync.Mutex
	cfg     *Config
	control *controlClient
	tokens  TokenProvider
	emitter Emitter
	logger  consolesdk.Logger

	session  Session
	gen      int // bumped when a new call supersedes the old one; guards timers and late responses
	tickStop chan struct{}
}

// New creates a controller. The core client issues the REST commands; tokens
// handles the refresh-and-retry on authorization failures; emitter publishes
// call notifications on the transport channel (may be nil in tests).
func New(core *consolesdk.Client, tokens TokenProvider, emitter Emitter, cfg *Config) *Controller {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.GraceDelay == 0 {
		cfg.GraceDelay = 3 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Controller{
		cfg:     cfg,
		control: &controlClient{core: core},
		tokens:  tokens,
		emitter: emitter,
		logger:  logger,
		session: Session{Status: StatusIdle},
	}
}

// Start installs the controller's inbound event handlers, fully replacing any
// handler set a previous controller registered.
func (c *Controller) Start(reg HandlerRegistry) {
	reg.RegisterHandlers(map[string]router.HandlerFunc{
		EventCallInitiated:    c.decode(c.handleStatusUpdate),
		EventCallStatusUpdate: c.decode(c.handleStatusUpdate),
		EventCallConnected:    c.decode(c.handleConnected),
		EventCallHoldStatus:   c.decode(c.handleHoldStatus),
		EventCallEnded:        c.decode(c.handleRemoteEnded),
		EventCallFailed:       c.decode(c.handleFailed),
		EventCallError:        c.decode(c.handleFailed),
		EventIncomingCall:     c.decode(c.handleIncoming),
	})
}

// Close tears the controller down: the duration ticker stops and any pending
// grace-delay reset is orphaned.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTickerLocked()
	c.gen++
}

// Current returns a copy of the tracked call session.
func (c *Controller) Current() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Elapsed returns the time since the call connected, or zero if it never did.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.StartedAt.IsZero() {
		return 0
	}
	return time.Since(c.session.StartedAt)
}

// ---- Actions ----

// Initiate places an outbound call. Valid only from idle; otherwise a no-op.
// On success the session moves to ringing with the provider-assigned callId.
// On an authorization failure the token is invalidated and the identical
// command retried exactly once. Any failure moves the session to failed with
// a descriptive message and auto-resets to idle after the grace delay.
func (c *Controller) Initiate(ctx context.Context, number string, contact ContactInfo) error {
	c.mu.Lock()
	if c.session.Status != StatusIdle {
		c.mu.Unlock()
		return nil
	}
	c.session.LastError = ""

	normalized := normalizeNumber(number)
	if normalized == "" {
		err := errors.New("target number is required")
		c.failNewLocked(err.Error())
		c.mu.Unlock()
		return err
	}
	if c.cfg.AgentID == "" {
		err := errors.New("agent identifier is not configured")
		c.failNewLocked(err.Error())
		c.mu.Unlock()
		return err
	}

	c.gen++
	gen := c.gen
	c.session = Session{
		Status:      StatusDialing,
		Direction:   DirectionOutgoing,
		PeerNumber:  normalized,
		ContactName: contact.Name,
	}
	c.mu.Unlock()

	if contact.Name == "" {
		// Best effort; a slow directory must not delay call placement.
		go c.resolveContact(context.Background(), gen, normalized)
	}

	resp, err := c.placeCallWithAuthRetry(ctx, normalized)
	if err != nil {
		c.failCall(gen, describeError(err))
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.session.Status != StatusDialing {
		// Superseded (endCall or an event won the race); drop the late response.
		c.mu.Unlock()
		return nil
	}
	c.session.CallID = resp.Data.CallID
	c.session.Status = StatusRinging
	callID := c.session.CallID
	c.mu.Unlock()

	c.notify(EventCallInitiated, notification{CallID: callID, Number: normalized})
	return nil
}

// placeCallWithAuthRetry issues the place-call command, refreshing the token
// and retrying exactly once if the control plane rejects the authorization.
func (c *Controller) placeCallWithAuthRetry(ctx context.Context, number string) (*placeCallResponse, error) {
	req := placeCallRequest{
		CallerID:     c.cfg.CallerID,
		AgentNumber:  c.cfg.AgentNumber,
		TargetNumber: number,
		ReferenceID:  uuid.NewString(),
	}

	resp, err := c.control.placeCall(ctx, req)
	if err == nil {
		return resp, nil
	}
	if !consolesdk.IsAuthorizationFailure(err) {
		return nil, err
	}

	c.logger.Printf("session: token rejected by control plane, refreshing and retrying once")
	c.tokens.Invalidate()

	resp, err = c.control.placeCall(ctx, req)
	if err != nil {
		if consolesdk.IsAuthorizationFailure(err) {
			return nil, fmt.Errorf("authentication failed: %w", err)
		}
		return nil, err
	}
	return resp, nil
}

// Answer accepts the incoming call. Valid only while ringing on an incoming
// call; otherwise a no-op. No REST round-trip is needed — the provider
// already pushed the ringing event.
func (c *Controller) Answer() error {
	c.mu.Lock()
	if c.session.Status != StatusRinging || c.session.Direction != DirectionIncoming {
		c.mu.Unlock()
		return nil
	}
	c.session.LastError = ""
	c.session.Status = StatusConnected
	c.session.StartedAt = time.Now()
	c.startTickerLocked()
	callID := c.session.CallID
	c.mu.Unlock()

	c.notify(EventCallAnswered, notification{CallID: callID})
	return nil
}

// EndCall terminates the tracked call. It is the universal cancellation
// primitive: valid from every non-terminal state, and the local state always
// reaches ended (then idle after the grace delay) even when the disconnect
// command fails — a dead provider must never leave the console stuck in a
// connected-looking state.
func (c *Controller) EndCall(ctx context.Context) error {
	c.mu.Lock()
	switch c.session.Status {
	case StatusIdle, StatusEnded, StatusFailed:
		c.mu.Unlock()
		return nil
	}
	c.session.LastError = ""

	callID := c.session.CallID
	if callID == "" {
		// The call never left dialing; nothing to tear down remotely.
		c.resetLocked()
		c.mu.Unlock()
		return nil
	}
	gen := c.gen
	c.mu.Unlock()

	err := c.control.disconnectCall(ctx, c.cfg.CallerID, callID)
	if err != nil {
		c.logger.Printf("session: disconnect command failed, forcing local termination: %v", err)
	}

	c.mu.Lock()
	if c.gen != gen || c.session.Status == StatusEnded || c.session.Status == StatusFailed {
		// A remote hangup or failure push won the race while the disconnect
		// command was in flight; it already ran the terminal sequence.
		c.mu.Unlock()
		return err
	}
	c.stopTickerLocked()
	c.session.Status = StatusEnded
	if err != nil {
		c.session.LastError = describeError(err)
	}
	final := c.session
	c.scheduleResetLocked()
	c.mu.Unlock()

	if err == nil {
		c.notify(EventCallDisconnected, notification{CallID: callID})
	}
	c.fireEnded(final)
	return err
}

// ToggleMute flips the local mute flag. Valid only while connected; otherwise
// a no-op. The control plane has no mute endpoint, so this is purely local;
// the new state is published for other interested listeners.
func (c *Controller) ToggleMute() error {
	c.mu.Lock()
	if c.session.Status != StatusConnected {
		c.mu.Unlock()
		return nil
	}
	c.session.LastError = ""
	c.session.Muted = !c.session.Muted
	muted := c.session.Muted
	callID := c.session.CallID
	c.mu.Unlock()

	c.notify(EventMuteChanged, notification{CallID: callID, Muted: &muted})
	return nil
}

// ToggleHold requests the opposite hold state from the control plane. Valid
// only while connected or on hold. The local state flips only on an explicit
// success response; failure records LastError and leaves the state unchanged.
func (c *Controller) ToggleHold(ctx context.Context) error {
	c.mu.Lock()
	if c.session.Status != StatusConnected && c.session.Status != StatusOnHold {
		c.mu.Unlock()
		return nil
	}
	c.session.LastError = ""
	callID := c.session.CallID
	desired := !c.session.OnHold
	gen := c.gen
	c.mu.Unlock()

	if err := c.control.holdCall(ctx, c.cfg.CallerID, callID, desired); err != nil {
		c.recordError(describeError(err))
		return err
	}

	c.mu.Lock()
	if c.gen != gen || c.session.CallID != callID {
		c.mu.Unlock()
		return nil
	}
	c.applyHoldLocked(desired)
	c.mu.Unlock()

	c.notify(EventHoldChanged, notification{CallID: callID, Hold: &desired})
	return nil
}

// ---- Inbound transport events ----

// decode wraps a typed handler into a router.HandlerFunc. Malformed payloads
// are dropped.
func (c *Controller) decode(h func(ev callEvent)) router.HandlerFunc {
	return func(data json.RawMessage) {
		var ev callEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Printf("session: dropping malformed event payload: %v", err)
			return
		}
		h(ev)
	}
}

// matchesLocked reports whether an event belongs to the currently tracked
// call. Events for a superseded or unknown callId never mutate state.
func (c *Controller) matchesLocked(ev callEvent) bool {
	return ev.CallID != "" && ev.CallID == c.session.CallID
}

// handleStatusUpdate applies provider status pushes for the tracked call.
func (c *Controller) handleStatusUpdate(ev callEvent) {
	switch strings.ToLower(ev.Status) {
	case "connected":
		c.handleConnected(ev)
		return
	case "ringing", "accepted", "alerting":
	default:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.matchesLocked(ev) {
		return
	}
	if c.session.Status == StatusDialing {
		c.session.Status = StatusRinging
	}
}

// handleConnected moves the call to connected and stamps the start time.
// Delivering it twice for the same callId is a no-op after the first
// application; the REST acknowledgment and the push may arrive in any order.
func (c *Controller) handleConnected(ev callEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.matchesLocked(ev) {
		return
	}
	switch c.session.Status {
	case StatusDialing, StatusRinging:
		c.session.Status = StatusConnected
		c.session.StartedAt = time.Now()
		c.startTickerLocked()
	}
}

// handleHoldStatus applies a remote hold state change.
func (c *Controller) handleHoldStatus(ev callEvent) {
	if ev.Hold == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.matchesLocked(ev) {
		return
	}
	c.applyHoldLocked(*ev.Hold)
}

// handleRemoteEnded forces the same terminal sequence as a local EndCall when
// the far end hangs up.
func (c *Controller) handleRemoteEnded(ev callEvent) {
	c.mu.Lock()
	if !c.matchesLocked(ev) {
		c.mu.Unlock()
		return
	}
	switch c.session.Status {
	case StatusEnded, StatusFailed:
		c.mu.Unlock()
		return
	}
	c.stopTickerLocked()
	c.session.Status = StatusEnded
	final := c.session
	c.scheduleResetLocked()
	c.mu.Unlock()

	c.fireEnded(final)
}

// handleFailed forces the failed state with the provider's reason.
func (c *Controller) handleFailed(ev callEvent) {
	c.mu.Lock()
	if !c.matchesLocked(ev) {
		c.mu.Unlock()
		return
	}
	switch c.session.Status {
	case StatusEnded, StatusFailed:
		c.mu.Unlock()
		return
	}
	reason := ev.Reason
	if reason == "" {
		reason = "call failed"
	}
	c.stopTickerLocked()
	c.session.Status = StatusFailed
	c.session.LastError = reason
	final := c.session
	c.scheduleResetLocked()
	c.mu.Unlock()

	c.fireEnded(final)
}

// handleIncoming seeds a new session for a provider-pushed incoming call.
// Only valid while idle; a busy console never accepts a second session.
func (c *Controller) handleIncoming(ev callEvent) {
	if ev.CallID == "" {
		return
	}
	c.mu.Lock()
	if c.session.Status != StatusIdle {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	number := normalizeNumber(ev.FromNumber)
	c.session = Session{
		Status:     StatusRinging,
		Direction:  DirectionIncoming,
		CallID:     ev.CallID,
		PeerNumber: number,
	}
	c.mu.Unlock()

	go c.resolveContact(context.Background(), gen, number)
}

// ---- Internals ----

// applyHoldLocked is the single transition point keeping OnHold and Status
// synchronized; they are never flipped independently.
func (c *Controller) applyHoldLocked(hold bool) {
	if hold && c.session.Status == StatusConnected {
		c.session.Status = StatusOnHold
		c.session.OnHold = true
	} else if !hold && c.session.Status == StatusOnHold {
		c.session.Status = StatusConnected
		c.session.OnHold = false
	}
}

// failNewLocked marks a validation failure that never produced a call. The
// session shows failed with the message, then auto-resets.
func (c *Controller) failNewLocked(msg string) {
	c.gen++
	c.session = Session{Status: StatusFailed, LastError: msg}
	c.scheduleResetLocked()
}

// failCall moves the call identified by gen to failed, unless a newer call
// has superseded it.
func (c *Controller) failCall(gen int, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	c.stopTickerLocked()
	c.session.Status = StatusFailed
	c.session.LastError = msg
	c.scheduleResetLocked()
}

// scheduleResetLocked arms the grace-delay reset back to idle. The generation
// guard keeps a reset scheduled for call N from firing on call N+1.
func (c *Controller) scheduleResetLocked() {
	gen := c.gen
	time.AfterFunc(c.cfg.GraceDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return
		}
		switch c.session.Status {
		case StatusEnded, StatusFailed:
			c.resetLocked()
		}
	})
}

// resetLocked clears the session back to idle, dropping callId and the
// mutation flags together.
func (c *Controller) resetLocked() {
	c.stopTickerLocked()
	c.gen++
	c.session = Session{Status: StatusIdle}
}

// startTickerLocked starts the per-second duration callback. It is cancelled
// on any transition away from the connected/held pair and on Close.
func (c *Controller) startTickerLocked() {
	c.stopTickerLocked()
	if c.cfg.OnTick == nil {
		return
	}
	stop := make(chan struct{})
	c.tickStop = stop
	started := c.session.StartedAt

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.cfg.OnTick(time.Since(started).Truncate(time.Second))
			}
		}
	}()
}

func (c *Controller) stopTickerLocked() {
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
}

// resolveContact attaches a directory display name to the session if the
// lookup succeeds before the call is superseded. Failures are ignored.
func (c *Controller) resolveContact(ctx context.Context, gen int, number string) {
	if c.cfg.Contacts == nil || number == "" {
		return
	}
	name, err := c.cfg.Contacts.ResolveDisplayName(ctx, number)
	if err != nil || name == "" {
		return
	}
	c.mu.Lock()
	if c.gen == gen {
		c.session.ContactName = name
	}
	c.mu.Unlock()
}

// notify publishes a call notification on the transport channel. A delivery
// failure is recorded but never changes call state — a dropped mute or hold
// notification does not end the call.
func (c *Controller) notify(event string, n notification) {
	if c.emitter == nil {
		return
	}
	n.Timestamp = time.Now().UnixMilli()
	if err := c.emitter.Emit(event, n); err != nil {
		c.recordError("notification " + event + ": " + err.Error())
	}
}

func (c *Controller) recordError(msg string) {
	c.mu.Lock()
	c.session.LastError = msg
	c.mu.Unlock()
}

func (c *Controller) fireEnded(final Session) {
	if c.cfg.OnEnded != nil {
		go c.cfg.OnEnded(final)
	}
}

// describeError produces the user-facing failure message stored in LastError.
func describeError(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Error()
	}
	return err.Error()
}

// normalizeNumber strips everything but digits from a phone number.
func normalizeNumber(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
