// Package voyager is the client side of Blackhole: a single transport to a
// LAN host or relay URL, plus the session/renderer coordinator that tracks
// sessions, dispatches keystrokes, and drives the resize contract (spec
// §4.6/§4.7).
package voyager

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/blackhole-sh/blackhole/internal/hostrelay"
	"github.com/blackhole-sh/blackhole/internal/logger"
	"github.com/blackhole-sh/blackhole/internal/wire"
)

const (
	heartbeatInterval = 5 * time.Second
	heartbeatTimeout  = 20 * time.Second
	readLimitBytes    = 4 * 1024 * 1024
)

// TransportState mirrors spec §4.7's client state machine. Open subdivides
// logically into AwaitingSessionList/Ready but both accept all frame types
// identically, so only one Open value is modeled here.
type TransportState int

const (
	Idle TransportState = iota
	Connecting
	Open
	Reconnecting
)

// Mode selects how Transport builds its connection URL.
type Mode int

const (
	ModeLAN Mode = iota
	ModeRelay
)

// Transport is the voyager's single WebSocket connection.
type Transport struct {
	// OnFrame fires for every decoded frame received.
	OnFrame func(f wire.Frame)
	// OnStateChange fires on every transport state transition.
	OnStateChange func(s TransportState)

	mode  Mode
	url   string
	token string

	mu              sync.Mutex
	conn            *websocket.Conn
	state           TransportState
	sessionID       string
	autoReconnect   bool
	shouldReconnect bool
	backoff         *hostrelay.Backoff
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	lastMessageAt   time.Time
}

// NewLANTransport targets a LAN host URL verbatim.
func NewLANTransport(hostURL string) *Transport {
	return &Transport{mode: ModeLAN, url: hostURL, backoff: hostrelay.NewBackoff(2*time.Second, 10*time.Second)}
}

// NewRelayTransport targets a relay URL; session/token are appended to the
// query string per spec §6.
func NewRelayTransport(relayURL, sessionID, token string) *Transport {
	return &Transport{
		mode:      ModeRelay,
		url:       relayURL,
		sessionID: sessionID,
		token:     token,
		backoff:   hostrelay.NewBackoff(2*time.Second, 10*time.Second),
	}
}

// State reports the current transport state.
func (t *Transport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connect opens the transport; autoReconnect sets whether it reconnects
// after losing the connection (spec §4.6).
func (t *Transport) Connect(autoReconnect bool) {
	t.mu.Lock()
	if t.state != Idle {
		t.mu.Unlock()
		return
	}
	t.autoReconnect = autoReconnect
	t.shouldReconnect = autoReconnect
	t.state = Connecting
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.mu.Unlock()
	t.notifyState(Connecting)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.runLoop(ctx)
	}()
}

// Disconnect closes the transport and clears should_reconnect so no
// reconnect is attempted (spec §4.6).
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.shouldReconnect = false
	cancel := t.cancel
	conn := t.conn
	t.cancel = nil
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "user disconnect")
	}
	t.wg.Wait()

	t.mu.Lock()
	t.state = Idle
	t.mu.Unlock()
	t.notifyState(Idle)
}

func (t *Transport) runLoop(ctx context.Context) {
	for {
		err := t.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}

		t.mu.Lock()
		reconnect := t.shouldReconnect && t.autoReconnect
		t.mu.Unlock()
		if !reconnect {
			t.mu.Lock()
			t.state = Idle
			t.mu.Unlock()
			t.notifyState(Idle)
			return
		}

		t.mu.Lock()
		t.state = Reconnecting
		delay := t.backoff.Next()
		t.mu.Unlock()
		t.notifyState(Reconnecting)
		logger.Warn("voyager: transport disconnected, reconnecting", "err", err, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		t.mu.Lock()
		t.state = Connecting
		t.mu.Unlock()
		t.notifyState(Connecting)
	}
}

func (t *Transport) connectAndServe(ctx context.Context) error {
	dialURL, err := t.buildURL()
	if err != nil {
		return fmt.Errorf("voyager: build url: %w", err)
	}

	conn, _, err := websocket.Dial(ctx, dialURL, nil)
	if err != nil {
		return fmt.Errorf("voyager: dial: %w", err)
	}
	conn.SetReadLimit(readLimitBytes)
	defer conn.CloseNow()

	t.mu.Lock()
	t.conn = conn
	t.state = Open
	t.lastMessageAt = time.Now()
	t.backoff.Reset()
	t.mu.Unlock()
	t.notifyState(Open)
	logger.Info("voyager: transport connected", "url", dialURL)

	if err := t.send(wire.Frame{Type: wire.JSONList}); err != nil {
		return fmt.Errorf("voyager: initial list: %w", err)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	readErrCh := make(chan error, 1)
	go t.heartbeatLoop(hbCtx, readErrCh)

	for {
		kind, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			t.conn = nil
			t.mu.Unlock()
			return err
		}

		t.mu.Lock()
		t.lastMessageAt = time.Now()
		t.mu.Unlock()

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
		if t.OnFrame != nil {
			t.OnFrame(*f)
		}
	}
}

// heartbeatLoop sends a ping every heartbeatInterval and closes the
// connection if heartbeatTimeout elapses with no inbound frame — the read
// loop's conn.Read then errors and triggers reconnect. readErrCh is not
// written to.
func (t *Transport) heartbeatLoop(ctx context.Context, readErrCh chan<- error) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			silentFor := time.Since(t.lastMessageAt)
			conn := t.conn
			t.mu.Unlock()
			if silentFor >= heartbeatTimeout {
				logger.Warn("voyager: heartbeat timeout", "silent_for", silentFor)
				if conn != nil {
					conn.Close(websocket.StatusNormalClosure, "heartbeat timeout")
				}
				return
			}
			if err := t.send(wire.Frame{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

// send transmits f over the current connection.
func (t *Transport) send(f wire.Frame) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("voyager: not connected")
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

// Send is the exported form of send, used by the coordinator to transmit
// stdin/resize frames for the active session.
func (t *Transport) Send(f wire.Frame) error { return t.send(f) }

func (t *Transport) buildURL() (string, error) {
	if t.mode == ModeLAN {
		return t.url, nil
	}
	u, err := url.Parse(t.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("role", "voyager")
	t.mu.Lock()
	sessionID := t.sessionID
	t.mu.Unlock()
	if sessionID != "" {
		q.Set("session", sessionID)
	}
	if t.token != "" {
		q.Set("token", t.token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (t *Transport) notifyState(s TransportState) {
	if t.OnStateChange != nil {
		t.OnStateChange(s)
	}
}
