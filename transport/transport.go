/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2026 ConnectCRM, Inc.
 */

// Package transport owns the persistent bidirectional event channel to the
// signaling backend. It maintains one websocket connection, reconnects with a
// fixed delay and a bounded attempt count after unexpected disconnects, and
// demultiplexes inbound named events to the router. Connection failures are
// reported through State and LastError, never panicked or thrown upward.
package transport

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/connectcrm/agentdesk/consolesdk"
)

// State is the lifecycle state of the event channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Router receives inbound events demultiplexed by name. Satisfied by
// *router.Router.
type Router interface {
	Dispatch(event string, data json.RawMessage)
}

// Config holds the configuration for the event channel.
type Config struct {
	// URL is the websocket endpoint of the signaling backend.
	URL string

	// AgentID and AgentNumber identify this client to the backend. They are
	// sent in a registration event on connect and on every reconnect so
	// server-side routing survives connection churn.
	AgentID     string
	AgentNumber string

	// HandshakeTimeout bounds the websocket dial. Default: 10s.
	HandshakeTimeout time.Duration

	// ReconnectDelay is the fixed wait between reconnect attempts after an
	// unexpected disconnect. Default: 2s.
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds consecutive reconnect attempts before the
	// connection settles in StateError. Default: 5.
	MaxReconnectAttempts int

	// Logger for transport operations. Defaults to log.Default().
	Logger consolesdk.Logger
}

// DefaultConfig returns the default configuration for the event channel.
func DefaultConfig() *Config {
	return &Config{
		HandshakeTimeout:     10 * time.Second,
		ReconnectDelay:       2 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// message is the wire format of the event channel: a named event with an
// opaque JSON payload.
type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// registration is the payload of the agent-register event.
type registration struct {
	AgentID     string `json:"agentId"`
	AgentNumber string `json:"agentNumber,omitempty"`
}

// Connection is one persistent event channel to the signaling backend.
type Connection struct {
	mu     sync.Mutex
	// writeMu serializes all writes to conn, including the close frame.
	// gorilla/websocket supports at most one concurrent writer.
	writeMu sync.Mutex

	cfg    *Config
	tokens consolesdk.TokenSource
	router Router
	logger consolesdk.Logger

	conn      *websocket.Conn
	state     State
	lastError string
	attempts  int
	gen       int // bumped on every successful dial; stale read loops check it

	reconnectTimer *time.Timer
}

// New creates an event channel. It does not connect; call Connect.
func New(cfg *Config, tokens consolesdk.TokenSource, rt Router) *Connection {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Connection{
		cfg:    cfg,
		tokens: tokens,
		router: rt,
		logger: logger,
		state:  StateDisconnected,
	}
}

// State returns the current connection state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent connection or send failure message.
func (c *Connection) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Connect establishes the channel. It is idempotent: a no-op when already
// connected or a connect is in flight. Failure is reported via State and
// LastError rather than returned.
func (c *Connection) Connect() {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting || c.state == StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.dialAndRegister(); err != nil {
		c.mu.Lock()
		c.state = StateError
		c.lastError = err.Error()
		c.mu.Unlock()
		c.logger.Printf("transport: connect failed: %v", err)
	}
}

// Disconnect tears down the channel and cancels any pending reconnect timer.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.attempts = 0
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnected by client"))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

// Emit sends a named event to the backend. The send is fire-and-forget: a
// failure (including emitting while not connected) is recorded in LastError
// and returned so the caller can note it, but never changes channel state.
func (c *Connection) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		c.recordError(err.Error())
		return err
	}
	return c.send(message{Event: event, Data: data})
}

func (c *Connection) send(msg message) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		err := &NotConnectedError{State: state}
		c.recordError(err.Error())
		return err
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.recordError(err.Error())
		return err
	}
	return nil
}

// NotConnectedError is returned by Emit when the channel is not connected.
type NotConnectedError struct {
	State State
}

func (e *NotConnectedError) Error() string {
	return "transport: not connected (state " + string(e.State) + ")"
}

func (c *Connection) recordError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}

// dialAndRegister performs one dial attempt, announces the agent identity to
// the backend, and starts the read loop. On success the attempt counter
// resets so a later outage gets the full reconnect budget again.
func (c *Connection) dialAndRegister() error {
	headers := make(map[string][]string)
	if c.tokens != nil {
		token, err := c.tokens.Token(context.Background())
		if err != nil {
			return err
		}
		headers["Authorization"] = []string{"Bearer " + token}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.Dial(c.cfg.URL, headers)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	// Re-register the agent identity so server-side event routing picks this
	// connection back up.
	reg := registration{AgentID: c.cfg.AgentID, AgentNumber: c.cfg.AgentNumber}
	if err := c.Emit("agent-register", reg); err != nil {
		c.logger.Printf("transport: registration send failed: %v", err)
	}

	go c.readLoop(conn, gen)
	return nil
}

// readLoop reads inbound messages and hands them to the router until the
// connection drops. A drop that was not requested via Disconnect triggers the
// reconnect schedule.
func (c *Connection) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			stale := c.gen != gen || c.state == StateDisconnected
			if !stale {
				c.conn = nil
			}
			c.mu.Unlock()

			if !stale {
				c.scheduleReconnect()
			}
			return
		}

		var msg message
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
			continue
		}

		if c.router != nil {
			c.router.Dispatch(msg.Event, msg.Data)
		}
	}
}

// scheduleReconnect arms the fixed-delay reconnect timer, or settles the
// channel in StateError once the attempt budget is spent.
func (c *Connection) scheduleReconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		// Disconnect raced the read loop; stay down.
		c.mu.Unlock()
		return
	}

	c.attempts++
	if c.attempts > c.cfg.MaxReconnectAttempts {
		c.state = StateError
		c.lastError = "transport: reconnect attempts exhausted"
		c.mu.Unlock()
		c.logger.Printf("transport: giving up after %d reconnect attempts", c.cfg.MaxReconnectAttempts)
		return
	}

	c.state = StateReconnecting
	attempt := c.attempts
	c.reconnectTimer = time.AfterFunc(c.cfg.ReconnectDelay, c.reconnectNow)
	c.mu.Unlock()

	c.logger.Printf("transport: reconnect attempt %d/%d in %v", attempt, c.cfg.MaxReconnectAttempts, c.cfg.ReconnectDelay)
}

func (c *Connection) reconnectNow() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	if err := c.dialAndRegister(); err != nil {
		c.recordError(err.Error())
		c.scheduleReconnect()
	}
}
