// Package hostlan is the host's LAN WebSocket listener: it accepts any
// number of peers on a single TCP port and gives the host controller a
// broadcast primitive plus per-peer frame dispatch (spec §4.3).
package hostlan

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/blackhole-sh/blackhole/internal/logger"
	"github.com/blackhole-sh/blackhole/internal/wire"
)

// DefaultPort is the LAN listener's default TCP port (spec §6).
const DefaultPort = 9527

const readLimitBytes = 4 * 1024 * 1024

var nextPeerID atomic.Uint64

// Peer is one accepted LAN WebSocket connection.
type Peer struct {
	id   uint64
	conn *websocket.Conn
}

// Listener accepts WebSocket peers on 0.0.0.0:<port> and fans frames both
// ways between them and the host controller.
type Listener struct {
	// OnConnect fires once a peer is registered, before its reader starts.
	// The host controller uses it to push an initial session_list.
	OnConnect func(p *Peer)
	// OnFrame fires for every decoded frame read from a peer.
	OnFrame func(p *Peer, f wire.Frame)
	// OnDisconnect fires once a peer's reader exits for any reason.
	OnDisconnect func(p *Peer)

	port int

	mu      sync.Mutex
	peers   map[*Peer]struct{}
	ln      net.Listener
	srv     *http.Server
	running bool
}

// New constructs a listener bound to the given port (0 selects DefaultPort).
func New(port int) *Listener {
	if port == 0 {
		port = DefaultPort
	}
	return &Listener{port: port, peers: make(map[*Peer]struct{})}
}

// Start binds the listening socket and begins serving in the background.
// It returns once the bind succeeds; Serve errors after that are logged.
func (l *Listener) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", l.handleWS)

	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", l.port))
	if err != nil {
		return fmt.Errorf("hostlan: listen: %w", err)
	}

	l.mu.Lock()
	l.ln = ln
	l.srv = &http.Server{Handler: mux}
	l.running = true
	l.mu.Unlock()

	go func() {
		if err := l.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logger.Error("hostlan: serve exited", "err", err)
		}
	}()

	logger.Info("hostlan: listening", "addr", ln.Addr().String())
	return nil
}

// Stop closes the listener and every connected peer. Reversible: calling
// Stop on a Listener that was never Started is a no-op.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	srv := l.srv
	peers := make([]*Peer, 0, len(l.peers))
	for p := range l.peers {
		peers = append(peers, p)
	}
	l.peers = make(map[*Peer]struct{})
	l.mu.Unlock()

	for _, p := range peers {
		p.conn.Close(websocket.StatusNormalClosure, "host shutting down")
	}
	if srv != nil {
		return srv.Close()
	}
	return nil
}

func (l *Listener) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("hostlan: accept failed", "err", err)
		return
	}
	conn.SetReadLimit(readLimitBytes)

	p := &Peer{id: nextPeerID.Add(1), conn: conn}

	l.mu.Lock()
	l.peers[p] = struct{}{}
	l.mu.Unlock()

	logger.Info("hostlan: peer connected", "peer", p.id)
	if l.OnConnect != nil {
		l.OnConnect(p)
	}

	l.readLoop(r.Context(), p)
}

func (l *Listener) readLoop(ctx context.Context, p *Peer) {
	defer func() {
		l.mu.Lock()
		delete(l.peers, p)
		l.mu.Unlock()
		p.conn.Close(websocket.StatusNormalClosure, "")
		logger.Info("hostlan: peer disconnected", "peer", p.id)
		if l.OnDisconnect != nil {
			l.OnDisconnect(p)
		}
	}()

	for {
		kind, data, err := p.conn.Read(ctx)
		if err != nil {
			return
		}

		var f *wire.Frame
		switch kind {
		case websocket.MessageBinary:
			var ok bool
			f, ok = wire.DecodeBinary(data)
			if !ok {
				continue // malformed binary frame: dropped silently per spec §4.1
			}
		case websocket.MessageText:
			f, err = wire.DecodeJSON(data)
			if err != nil {
				continue
			}
		}
		if f != nil && l.OnFrame != nil {
			l.OnFrame(p, *f)
		}
	}
}

// Send delivers a single frame to one peer, encoding per f.Binary.
func (l *Listener) Send(p *Peer, f wire.Frame) error {
	return send(p.conn, f)
}

// ClosePeer closes a single peer's connection, e.g. after sending it a
// terminal error frame for speaking an unsupported protocol version.
func (l *Listener) ClosePeer(p *Peer) {
	l.mu.Lock()
	delete(l.peers, p)
	l.mu.Unlock()
	p.conn.Close(websocket.StatusProtocolError, "unsupported protocol version")
}

// Broadcast delivers f to every connected peer, silently dropping (and
// removing) any peer whose write fails.
func (l *Listener) Broadcast(f wire.Frame) {
	l.mu.Lock()
	peers := make([]*Peer, 0, len(l.peers))
	for p := range l.peers {
		peers = append(peers, p)
	}
	l.mu.Unlock()

	for _, p := range peers {
		if err := send(p.conn, f); err != nil {
			l.mu.Lock()
			delete(l.peers, p)
			l.mu.Unlock()
			p.conn.Close(websocket.StatusNormalClosure, "")
		}
	}
}

func send(conn *websocket.Conn, f wire.Frame) error {
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
