package hostlan

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/blackhole-sh/blackhole/internal/wire"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func dial(t *testing.T, port int) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://127.0.0.1:%d", port), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestConnectCallbackFires(t *testing.T) {
	port := freePort(t)
	l := New(port)
	connected := make(chan *Peer, 1)
	l.OnConnect = func(p *Peer) { connected <- p }
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	conn := dial(t, port)
	defer conn.Close(websocket.StatusNormalClosure, "")

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect never fired")
	}
}

func TestBroadcastReachesAllPeers(t *testing.T) {
	port := freePort(t)
	l := New(port)
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	const n = 3
	conns := make([]*websocket.Conn, n)
	for i := range conns {
		conns[i] = dial(t, port)
		defer conns[i].Close(websocket.StatusNormalClosure, "")
	}
	time.Sleep(50 * time.Millisecond) // let Accept register all peers

	l.Broadcast(wire.Frame{Type: JSONTestType})

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, data, err := c.Read(ctx)
		cancel()
		if err != nil {
			t.Fatalf("peer did not receive broadcast: %v", err)
		}
		f, err := wire.DecodeJSON(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if f.Type != JSONTestType {
			t.Fatalf("got type %q, want %q", f.Type, JSONTestType)
		}
	}
}

func TestFrameDispatchedToOnFrame(t *testing.T) {
	port := freePort(t)
	l := New(port)
	frames := make(chan wire.Frame, 4)
	l.OnFrame = func(p *Peer, f wire.Frame) { frames <- f }
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	conn := dial(t, port)
	defer conn.Close(websocket.StatusNormalClosure, "")

	data, err := wire.EncodeJSON(wire.Frame{Type: wire.JSONList})
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case f := <-frames:
		if f.Type != wire.JSONList {
			t.Fatalf("got %q, want %q", f.Type, wire.JSONList)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnFrame never fired")
	}
}

func TestDisconnectedPeerDroppedFromBroadcast(t *testing.T) {
	port := freePort(t)
	l := New(port)
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	conn := dial(t, port)
	conn.Close(websocket.StatusNormalClosure, "")
	time.Sleep(50 * time.Millisecond)

	// Must not panic or block even though the only peer is gone.
	l.Broadcast(wire.Frame{Type: JSONTestType})

	l.mu.Lock()
	remaining := len(l.peers)
	l.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("peer set has %d peers after the only peer disconnected, want 0", remaining)
	}
}

// JSONTestType is the control-frame type these tests broadcast. It is the
// ping type, which EncodeJSON/DecodeJSON handle as a bare envelope with no
// extra fields.
const JSONTestType = wire.JSONPing
