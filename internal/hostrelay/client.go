// Package hostrelay is the host's single outbound relay uplink: it dials a
// relay URL, tracks a relay-assigned session code, and reconnects with a
// doubling backoff whenever the socket drops (spec §4.4).
package hostrelay

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/blackhole-sh/blackhole/internal/logger"
	"github.com/blackhole-sh/blackhole/internal/wire"
)

// State is one node of the relay client's connection state machine.
type State int

const (
	Disabled State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const readLimitBytes = 4 * 1024 * 1024

// Client maintains at most one outbound WebSocket to a relay.
type Client struct {
	// OnFrame fires for every decoded frame read from the relay.
	OnFrame func(f wire.Frame)
	// OnSessionAssigned fires when the relay hands the host its session code.
	OnSessionAssigned func(sessionID string)
	// OnStateChange fires on every state transition.
	OnStateChange func(s State)

	baseURL string
	token   string

	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	sessionID string
	backoff   *Backoff
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New constructs a relay client for baseURL (a ws:// or wss:// URL), with an
// optional bearer token appended to the connection query string.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		state:   Disabled,
		backoff: NewBackoff(2*time.Second, 10*time.Second),
	}
}

// State reports the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID reports the relay-assigned session code, if any.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// SetEnabled starts (true) or stops (false) the reconnect loop. Starting an
// already-enabled client, or stopping an already-disabled one, is a no-op.
func (c *Client) SetEnabled(enabled bool) {
	if enabled {
		c.mu.Lock()
		if c.state != Disabled {
			c.mu.Unlock()
			return
		}
		c.state = Connecting
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.mu.Unlock()
		c.notifyState(Connecting)

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runLoop(ctx)
		}()
		return
	}

	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "disabled")
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = Disabled
	c.mu.Unlock()
	c.notifyState(Disabled)
}

func (c *Client) runLoop(ctx context.Context) {
	for {
		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		c.state = Reconnecting
		delay := c.backoff.Next()
		c.mu.Unlock()
		c.notifyState(Reconnecting)
		logger.Warn("hostrelay: disconnected, reconnecting", "err", err, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		c.mu.Lock()
		c.state = Connecting
		c.mu.Unlock()
		c.notifyState(Connecting)
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	dialURL, err := c.buildURL()
	if err != nil {
		return fmt.Errorf("hostrelay: build url: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("hostrelay: dial: %w", err)
	}
	conn.SetReadLimit(readLimitBytes)
	defer conn.CloseNow()

	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.backoff.Reset()
	c.mu.Unlock()
	c.notifyState(Connected)
	logger.Info("hostrelay: connected", "url", dialURL)

	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			c.conn = nil
			c.mu.Unlock()
			return err
		}

		var f *wire.Frame
		switch kind {
		case websocket.MessageBinary:
			var ok bool
			f, ok = wire.DecodeBinary(data)
			if !ok {
				continue
			}
		case websocket.MessageText:
			f, err = wire.DecodeJSON(data)
			if err != nil {
				continue
			}
		}
		if f == nil {
			continue
		}

		if f.Type == wire.JSONSessionAssigned {
			c.mu.Lock()
			c.sessionID = f.SessionID
			c.mu.Unlock()
			if c.OnSessionAssigned != nil {
				c.OnSessionAssigned(f.SessionID)
			}
		}
		if c.OnFrame != nil {
			c.OnFrame(*f)
		}
	}
}

// Send writes f to the current relay socket. Returns an error if not
// currently connected.
func (c *Client) Send(f wire.Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("hostrelay: not connected")
	}
	ctx := context.Background()
	if f.Binary {
		data, err := wire.EncodeBinary(f)
		if err != nil {
			return err
		}
		return conn.Write(ctx, websocket.MessageBinary, data)
	}
	data, err := wire.EncodeJSON(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) buildURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("role", "horizon")
	if c.token != "" {
		q.Set("token", c.token)
	}
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID != "" {
		q.Set("session", sessionID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) notifyState(s State) {
	if c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}
