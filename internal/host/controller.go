// Package host wires the session registry, LAN listener, and relay client
// together into the host side of Blackhole: it funnels every inbound frame
// from either transport through one handler and fans PTY output back out
// to both (spec §4.5).
package host

import (
	"fmt"
	"sync"

	"github.com/blackhole-sh/blackhole/internal/hostlan"
	"github.com/blackhole-sh/blackhole/internal/hostrelay"
	"github.com/blackhole-sh/blackhole/internal/logger"
	"github.com/blackhole-sh/blackhole/internal/ptyproc"
	"github.com/blackhole-sh/blackhole/internal/wire"
)

// Config configures a Controller's optional transports.
type Config struct {
	LANPort      int  // 0 selects hostlan.DefaultPort
	LANEnabled   bool
	RelayURL     string
	RelayToken   string
	RelayEnabled bool
	DefaultRows  uint16
	DefaultCols  uint16
}

// Controller is the host side of Blackhole: it owns the registry and both
// transports and is the only place frames are interpreted.
type Controller struct {
	cfg Config

	registry *ptyproc.Registry
	lan      *hostlan.Listener
	relay    *hostrelay.Client

	mu      sync.Mutex
	started bool
	stopOut chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Controller. Start must be called before it does anything.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// Start brings up the registry, LAN listener (if enabled), output fan-out,
// and relay client (if enabled), in that order. Each step is reversible; a
// failure midway unwinds everything already started.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	c.registry = ptyproc.NewRegistry(1024)

	if c.cfg.LANEnabled {
		c.lan = hostlan.New(c.cfg.LANPort)
		c.lan.OnConnect = c.handleLANConnect
		c.lan.OnFrame = c.handleLANFrame
		if err := c.lan.Start(); err != nil {
			c.registry.Shutdown()
			c.registry = nil
			return fmt.Errorf("host: start lan listener: %w", err)
		}
	}

	c.stopOut = make(chan struct{})
	c.wg.Add(1)
	go c.fanOutLoop(c.stopOut)

	c.wg.Add(1)
	go c.closeLoop(c.stopOut)

	if c.cfg.RelayEnabled {
		c.relay = hostrelay.New(c.cfg.RelayURL, c.cfg.RelayToken)
		c.relay.OnFrame = c.handleRelayFrame
		c.relay.SetEnabled(true)
	}

	c.started = true
	logger.Info("host: controller started", "lan", c.cfg.LANEnabled, "relay", c.cfg.RelayEnabled)
	return nil
}

// Stop tears everything down in reverse order and kills all PTYs.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	if c.relay != nil {
		c.relay.SetEnabled(false)
	}
	close(c.stopOut)
	c.wg.Wait()
	if c.lan != nil {
		c.lan.Stop()
	}
	if c.registry != nil {
		c.registry.Shutdown()
	}
	c.started = false
	logger.Info("host: controller stopped")
}

// RelayState exposes the relay uplink's connection state, for CLI status
// output. Returns hostrelay.Disabled if the relay is not configured.
func (c *Controller) RelayState() hostrelay.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relay == nil {
		return hostrelay.Disabled
	}
	return c.relay.State()
}

// RelaySessionID exposes the relay-assigned session code, if any.
func (c *Controller) RelaySessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.relay == nil {
		return ""
	}
	return c.relay.SessionID()
}

// SessionCount returns the number of live PTY sessions, for CLI status output.
func (c *Controller) SessionCount() int {
	c.mu.Lock()
	registry := c.registry
	c.mu.Unlock()
	if registry == nil {
		return 0
	}
	return len(registry.List())
}

// fanOutLoop drains PTY output and broadcasts it to both transports.
func (c *Controller) fanOutLoop(stop <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-stop:
			return
		case out := <-c.registry.Outputs():
			frame := wire.Frame{Type: "stdout", Binary: true, SessionID: out.SessionID, Payload: out.Data}
			if c.lan != nil {
				c.lan.Broadcast(frame)
			}
			if c.relay != nil {
				c.relay.Send(frame)
			}
		}
	}
}

// closeLoop watches the registry's Closed stream (PTY EOF or an explicit
// Close) and broadcasts session_closed to both transports.
func (c *Controller) closeLoop(stop <-chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case <-stop:
			return
		case closed := <-c.registry.Closed():
			c.broadcastAll(wire.Frame{Type: wire.JSONSessionClosed, SessionID: closed.SessionID})
		}
	}
}

func (c *Controller) broadcastAll(f wire.Frame) {
	if c.lan != nil {
		c.lan.Broadcast(f)
	}
	if c.relay != nil {
		c.relay.Send(f)
	}
}

func (c *Controller) handleLANConnect(p *hostlan.Peer) {
	c.lan.Send(p, wire.Frame{Type: wire.JSONSessionList, Sessions: c.registry.List()})
}

func (c *Controller) handleLANFrame(p *hostlan.Peer, f wire.Frame) {
	reply, broadcast := c.handleFrame(f)
	if reply != nil {
		if err := c.lan.Send(p, *reply); err != nil {
			return
		}
		if reply.Type == wire.JSONError && reply.Code == wire.ErrorCodeUnsupportedVersion {
			c.lan.ClosePeer(p)
		}
	}
	if broadcast != nil {
		c.broadcastAll(*broadcast)
	}
}

func (c *Controller) handleRelayFrame(f wire.Frame) {
	reply, broadcast := c.handleFrame(f)
	if reply != nil {
		c.relay.Send(*reply)
	}
	if broadcast != nil {
		c.broadcastAll(*broadcast)
	}
}

// handleFrame implements the single inbound handler shared by both
// transports (spec §4.5). reply, if non-nil, is scoped to the originating
// peer/relay only; broadcast, if non-nil, goes to everyone.
func (c *Controller) handleFrame(f wire.Frame) (reply, broadcast *wire.Frame) {
	switch f.Type {
	case "ping": // spec §9(c): echo the encoding the ping arrived in
		return &wire.Frame{Type: "pong", Binary: f.Binary, SessionID: f.SessionID}, nil

	case wire.JSONList:
		return &wire.Frame{Type: wire.JSONSessionList, Sessions: c.registry.List()}, nil

	case wire.JSONCreate:
		id, err := c.registry.Create(c.rows(), c.cols(), "")
		if err != nil {
			return &wire.Frame{Type: wire.JSONError, Code: "pty_start_failed", Message: err.Error()}, nil
		}
		created := wire.Frame{Type: wire.JSONSessionCreated, SessionID: id}
		return &created, nil

	case wire.JSONClose:
		c.registry.Close(f.SessionID)
		closed := wire.Frame{Type: wire.JSONSessionClosed, SessionID: f.SessionID}
		return nil, &closed

	case "stdin":
		c.registry.Write(f.SessionID, f.Payload)
		return nil, nil

	case "resize":
		c.registry.Resize(f.SessionID, f.Rows, f.Cols)
		return nil, nil

	case wire.JSONUnsupported:
		return &wire.Frame{
			Type:    wire.JSONError,
			Code:    wire.ErrorCodeUnsupportedVersion,
			Message: "Unsupported protocol version",
		}, nil

	default:
		return nil, nil
	}
}

func (c *Controller) rows() uint16 {
	if c.cfg.DefaultRows != 0 {
		return c.cfg.DefaultRows
	}
	return 24
}

func (c *Controller) cols() uint16 {
	if c.cfg.DefaultCols != 0 {
		return c.cfg.DefaultCols
	}
	return 80
}
