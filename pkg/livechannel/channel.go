// Package livechannel maintains the long-lived duplex notification channel to
// the alert server. Its single job on the inbound side is to deliver
// server-pushed "stopLocation" commands; everything else is ignored.
//
// The connection is modeled as a small state machine
// (Connecting -> Open -> Closed -> Connecting) with one owned reconnection
// timer, so rapid open/close cycles can never arm duplicate timers.
package livechannel

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/juannvilchez/ciudadseguraappi/pkg/logx"
	"github.com/juannvilchez/ciudadseguraappi/pkg/metrics"
)

// State is the connection state of the channel
type State int

const (
	Connecting State = iota
	Open
	Closed
)

// String returns the state name
func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds channel configuration
type Config struct {
	URL               string        `json:"url"`
	ReconnectInterval time.Duration `json:"reconnect_interval"`
	HandshakeTimeout  time.Duration `json:"handshake_timeout"`
}

// DefaultConfig returns the production channel settings
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		ReconnectInterval: 5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// stopMessage is the inbound remote-stop command shape
type stopMessage struct {
	Type   string      `json:"type"`
	UserID interface{} `json:"userId"`
}

// Channel is a reconnecting WebSocket client
type Channel struct {
	config  Config
	logger  *logx.Logger
	metrics *metrics.Pipeline
	dialer  *websocket.Dialer

	onStop func(userID string)

	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	reconnectTimer *time.Timer
	closed         bool
}

// New creates a channel. onStop is invoked once per received stop command,
// with the user id the command is addressed to.
func New(config Config, onStop func(userID string), logger *logx.Logger, m *metrics.Pipeline) *Channel {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = 5 * time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	return &Channel{
		config:  config,
		logger:  logger,
		metrics: m,
		dialer:  &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		onStop:  onStop,
		state:   Closed,
	}
}

// Connect attempts the WebSocket handshake. On failure the reconnection timer
// is armed; Connect itself never retries inline.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.closed || c.state != Closed {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(c.config.URL, nil)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.state = Closed
		c.armReconnectLocked()
		c.mu.Unlock()
		c.logger.Warn("live channel connect failed", "url", c.config.URL, "error", err.Error())
		return
	}

	c.conn = conn
	c.state = Open
	c.cancelReconnectLocked()
	c.mu.Unlock()

	c.metrics.ChannelOpen(true)
	c.logger.Info("live channel open", "url", c.config.URL)
	go c.readLoop(conn)
}

// readLoop consumes inbound messages until the connection drops
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn)
			return
		}
		c.handleMessage(data)
	}
}

// handleMessage dispatches one inbound frame. Malformed frames are ignored.
func (c *Channel) handleMessage(data []byte) {
	var msg stopMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Type != "stopLocation" {
		return
	}
	userID, ok := normalizeUserID(msg.UserID)
	if !ok {
		return
	}
	c.logger.Info("remote stop received", "user_id", userID)
	c.onStop(userID)
}

// normalizeUserID accepts string or numeric user ids off the wire
func normalizeUserID(v interface{}) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	default:
		return "", false
	}
}

// handleDisconnect transitions to Closed and arms the reconnection timer
func (c *Channel) handleDisconnect(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already replaced this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Closed
	if !c.closed {
		c.armReconnectLocked()
	}
	c.mu.Unlock()

	c.metrics.ChannelOpen(false)
	c.logger.Warn("live channel disconnected")
}

// armReconnectLocked arms the reconnection timer if not already armed.
// Caller holds c.mu.
func (c *Channel) armReconnectLocked() {
	if c.reconnectTimer != nil || c.closed {
		return
	}
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectInterval, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.metrics.ChannelReconnect()
		c.Connect()
	})
}

// cancelReconnectLocked stops and clears the reconnection timer.
// Caller holds c.mu.
func (c *Channel) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// State returns the current connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the channel down permanently: the pending reconnection timer is
// cancelled and no further attempts are made.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelReconnectLocked()
	conn := c.conn
	c.conn = nil
	c.state = Closed
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.metrics.ChannelOpen(false)
	c.logger.Info("live channel closed")
}
