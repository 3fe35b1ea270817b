package channel

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/SRMV-Team/liveclass-gateway/internal/errs"
	"github.com/SRMV-Team/liveclass-gateway/internal/model"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State of the realtime channel connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Identity scopes the connection to one authenticated user.
type Identity struct {
	ID   string
	Name string
	Role model.Role
}

// Handler receives the raw data of one inbound event.
type Handler func(data json.RawMessage)

const writeWait = 10 * time.Second

// Client keeps one persistent websocket connection to the tuition backend's
// event channel. One callback per event name, last registration wins — there
// is exactly one directory per client, so a subscription list would be unused.
type Client struct {
	url      string
	dialer   *websocket.Dialer
	log      *zap.Logger
	attempts int
	delay    time.Duration

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	handlers map[string]Handler
	stateCB  func(State)
	identity model.IdentityPayload
	done     chan struct{}

	wmu sync.Mutex // serializes writes; gorilla allows one concurrent writer
}

// Option configures a Client.
type Option func(*Client)

// WithRetry bounds automatic reconnection: attempts tries, fixed delay between them.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
	}
}

// WithBufferSizes sets the websocket read/write buffer sizes.
func WithBufferSizes(read, write int) Option {
	return func(c *Client) {
		c.dialer.ReadBufferSize = read
		c.dialer.WriteBufferSize = write
	}
}

// NewClient creates a channel client for the given websocket URL.
func NewClient(url string, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		url:      url,
		log:      log,
		attempts: 5,
		delay:    3 * time.Second,
		handlers: make(map[string]Handler),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect opens the connection and announces the identity so the backend can
// target broadcasts. Calling Connect while a connection is open or being
// opened is a no-op; a second connection is never opened, which keeps events
// from being delivered twice.
func (c *Client) Connect(id Identity) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		c.log.Debug("connect skipped, channel already open", zap.String("state", c.state.String()))
		return nil
	}
	c.state = StateConnecting
	c.identity = model.IdentityPayload{
		ID:           id.ID,
		Name:         id.Name,
		Role:         id.Role,
		ConnectionID: uuid.New().String(),
	}
	cb := c.stateCB
	c.mu.Unlock()
	if cb != nil {
		cb(StateConnecting)
	}

	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: dial %s: %v", errs.ErrConnectionFailed, c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.done = make(chan struct{})
	done := c.done
	cb = c.stateCB
	c.mu.Unlock()
	if cb != nil {
		cb(StateConnected)
	}

	if err := c.announce(conn); err != nil {
		c.log.Warn("identity announce failed", zap.Error(err))
	}
	c.log.Info("channel connected",
		zap.String("url", c.url),
		zap.String("identity", id.ID),
		zap.String("role", string(id.Role)),
		zap.String("connection_id", c.identity.ConnectionID))

	go c.readLoop(conn, done)
	return nil
}

// Disconnect closes the connection and clears all registered callbacks. Safe
// to call on every exit path, including when never connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	changed := c.state != StateDisconnected
	c.state = StateDisconnected
	c.handlers = make(map[string]Handler)
	cb := c.stateCB
	c.mu.Unlock()
	if changed && cb != nil {
		cb(StateDisconnected)
	}
	c.log.Info("channel disconnected")
}

// On registers the callback for an event name. Last registration wins.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	c.handlers[event] = h
	c.mu.Unlock()
}

// OnStateChange registers the connection-state observer (single, last wins).
func (c *Client) OnStateChange(cb func(State)) {
	c.mu.Lock()
	c.stateCB = cb
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Emit sends one intent event. When not connected it logs and returns
// ErrNotConnected instead of panicking — a view degrades to an error message,
// not a crash.
func (c *Client) Emit(event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("emit %s: marshal: %w", event, err)
	}
	raw, err := json.Marshal(model.Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("emit %s: marshal envelope: %w", event, err)
	}

	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()
	if state != StateConnected || conn == nil {
		c.log.Error("emit while channel not connected", zap.String("event", event))
		return errs.ErrNotConnected
	}
	return c.write(conn, raw)
}

func (c *Client) write(conn *websocket.Conn, raw []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		c.log.Warn("channel write failed", zap.Error(err))
		return fmt.Errorf("channel write: %w", err)
	}
	return nil
}

// announce sends the join event identifying this connection.
func (c *Client) announce(conn *websocket.Conn) error {
	c.mu.Lock()
	id := c.identity
	c.mu.Unlock()
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(model.Envelope{Event: model.EventJoin, Data: data})
	if err != nil {
		return err
	}
	return c.write(conn, raw)
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
				return // intentional disconnect
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("channel connection lost", zap.Error(err))
			}
			next := c.reconnect(done)
			if next == nil {
				return
			}
			conn = next
			continue
		}
		c.dispatch(raw)
	}
}

// reconnect tries to re-establish the connection with a fixed delay between a
// bounded number of attempts. Terminal failure flips the state to disconnected
// so the directory can show a stale-data banner instead of silently drifting.
func (c *Client) reconnect(done chan struct{}) *websocket.Conn {
	c.setState(StateConnecting)
	for attempt := 1; attempt <= c.attempts; attempt++ {
		select {
		case <-done:
			return nil
		case <-time.After(c.delay):
		}
		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			c.log.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.attempts),
				zap.Error(err))
			continue
		}
		c.mu.Lock()
		select {
		case <-done:
			// Disconnect landed while the dial was in flight; the new
			// socket must not outlive the intentional shutdown.
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		default:
		}
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.conn = conn
		c.state = StateConnected
		cb := c.stateCB
		c.mu.Unlock()
		if err := c.announce(conn); err != nil {
			c.log.Warn("identity announce failed after reconnect", zap.Error(err))
		}
		c.log.Info("channel reconnected", zap.Int("attempt", attempt))
		if cb != nil {
			cb(StateConnected)
		}
		return conn
	}
	c.log.Error("reconnect attempts exhausted, channel stays down", zap.Int("attempts", c.attempts))
	c.mu.Lock()
	c.conn = nil
	c.state = StateDisconnected
	cb := c.stateCB
	c.mu.Unlock()
	if cb != nil {
		cb(StateDisconnected)
	}
	return nil
}

func (c *Client) dispatch(raw []byte) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("undecodable channel message", zap.Error(err))
		return
	}
	c.mu.Lock()
	h := c.handlers[env.Event]
	c.mu.Unlock()
	if h == nil {
		c.log.Debug("no handler for event", zap.String("event", env.Event))
		return
	}
	h(env.Data)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	cb := c.stateCB
	c.mu.Unlock()
	if changed && cb != nil {
		cb(s)
	}
}
