package voyager

import (
	"sync"
	"time"

	"github.com/blackhole-sh/blackhole/internal/logger"
	"github.com/blackhole-sh/blackhole/internal/termemu"
	"github.com/blackhole-sh/blackhole/internal/wire"
)

// resizeDebounce is spec §4.7's metrics-quiescent window.
const resizeDebounce = 220 * time.Millisecond

// sessionView is the client-side state for one session (spec §3).
type sessionView struct {
	id       string
	emulator *termemu.Emulator
	lastCols int
	lastRows int
}

// Coordinator drives session lifecycle and the resize contract on top of a
// Transport (spec §4.7). Its methods run on several goroutines (HandleFrame
// on the transport's read loop, the debounced resize on a timer); session
// state is guarded by mu and the debounce timer by debounceMu.
type Coordinator struct {
	transport *Transport
	modifiers Modifiers

	mu       sync.Mutex
	order    []string
	sessions map[string]*sessionView
	active   string

	query func(req string, timeout time.Duration) (resp string, ok bool)

	lastSent map[string][2]int // sessionID -> last transmitted (cols, rows)

	localCols, localRows int // real terminal size, seeded for new sessions' emulators

	debounceTimer *time.Timer
	debounceMu    sync.Mutex

	// OnActiveSessionChanged fires whenever Active() changes, so a renderer
	// can swap which emulator it's drawing. It is called with mu held, so it
	// must not call back into the Coordinator synchronously.
	OnActiveSessionChanged func(sessionID string)

	// OnOutput fires after a session's emulator absorbs new PTY output, so
	// a renderer can redraw it if it's the active one.
	OnOutput func(sessionID string)
}

// NewCoordinator wires a Coordinator to transport. query, if non-nil, is
// used by termemu to attempt a real cell-size probe; pass nil to always
// use the fallback constant.
func NewCoordinator(transport *Transport, query func(req string, timeout time.Duration) (string, bool)) *Coordinator {
	c := &Coordinator{
		transport: transport,
		sessions:  make(map[string]*sessionView),
		lastSent:  make(map[string][2]int),
		query:     query,
		localCols: 80,
		localRows: 24,
	}
	transport.OnFrame = c.HandleFrame
	return c
}

// SetLocalSize records the real terminal's current size, used to seed new
// sessions' emulators and, combined with NotifyMetricsChanged, to drive the
// resize contract's viewport metrics (spec §4.7 step 2).
func (c *Coordinator) SetLocalSize(cols, rows int) {
	c.mu.Lock()
	c.localCols, c.localRows = cols, rows
	for _, v := range c.sessions {
		v.emulator.Resize(cols, rows)
	}
	c.mu.Unlock()
	c.scheduleResize()
}

// Active returns the currently active session id, or "" if none.
func (c *Coordinator) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Emulator returns the local emulator for a session id, if any.
func (c *Coordinator) Emulator(id string) (*termemu.Emulator, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.sessions[id]
	if !ok {
		return nil, false
	}
	return v.emulator, true
}

// SetModifier sets a one-shot modifier flag, applied to the next keystroke.
func (c *Coordinator) SetModifier(ctrl, alt, meta bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctrl {
		c.modifiers.Ctrl = true
	}
	if alt {
		c.modifiers.Alt = true
	}
	if meta {
		c.modifiers.Meta = true
	}
}

// SendKeystroke applies the pending modifiers and transmits a STDIN frame
// for the active session (spec §4.6).
func (c *Coordinator) SendKeystroke(s string) error {
	c.mu.Lock()
	active := c.active
	encoded := c.modifiers.Apply(s)
	c.mu.Unlock()
	if active == "" {
		return nil
	}
	return c.transport.Send(wire.Frame{
		Type:      "stdin",
		Binary:    true,
		SessionID: active,
		Payload:   []byte(encoded),
	})
}

// HandleFrame is the Transport's OnFrame callback: it implements the
// session-lifecycle reducer of spec §4.7.
func (c *Coordinator) HandleFrame(f wire.Frame) {
	switch f.Type {
	case wire.JSONSessionList:
		c.onSessionList(f.Sessions)
	case wire.JSONSessionCreated:
		c.onSessionCreated(f.SessionID)
	case wire.JSONSessionClosed:
		c.onSessionClosed(f.SessionID)
	case "stdout":
		c.onStdout(f.SessionID, f.Payload)
	default:
		// unknown/ignored types per spec §9
	}
}

func (c *Coordinator) onSessionList(ids []string) {
	c.mu.Lock()
	c.order = append([]string(nil), ids...)
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
		if _, ok := c.sessions[id]; !ok {
			c.sessions[id] = &sessionView{id: id, emulator: termemu.New(c.localCols, c.localRows)}
		}
	}
	for id := range c.sessions {
		if !set[id] {
			delete(c.sessions, id)
			delete(c.lastSent, id)
		}
	}
	if len(ids) == 0 {
		c.active = ""
		c.mu.Unlock()
		c.transport.Send(wire.Frame{Type: wire.JSONCreate})
		return
	}
	if _, ok := c.sessions[c.active]; !ok {
		c.active = ids[0]
		c.notifyActiveChanged(c.active)
	}
	c.mu.Unlock()
	c.scheduleResize()
}

func (c *Coordinator) onSessionCreated(id string) {
	c.mu.Lock()
	isNew := false
	if _, ok := c.sessions[id]; !ok {
		c.sessions[id] = &sessionView{id: id, emulator: termemu.New(c.localCols, c.localRows)}
		c.order = append(c.order, id)
		isNew = true
	}
	if c.active == "" {
		c.active = id
		c.notifyActiveChanged(id)
	}
	c.mu.Unlock()
	_ = isNew
	c.scheduleResize()
}

func (c *Coordinator) onSessionClosed(id string) {
	c.mu.Lock()
	wasActive := c.active == id
	delete(c.sessions, id)
	delete(c.lastSent, id)
	for i, sid := range c.order {
		if sid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if wasActive {
		if len(c.order) > 0 {
			c.active = c.order[0]
		} else {
			c.active = ""
		}
		c.notifyActiveChanged(c.active)
	}
	c.mu.Unlock()
}

func (c *Coordinator) onStdout(id string, payload []byte) {
	c.mu.Lock()
	v, ok := c.sessions[id]
	if !ok {
		v = &sessionView{id: id, emulator: termemu.New(c.localCols, c.localRows)}
		c.sessions[id] = v
		c.order = append(c.order, id)
	}
	c.mu.Unlock()
	v.emulator.Write(payload)
	if c.OnOutput != nil {
		c.OnOutput(id)
	}
}

func (c *Coordinator) notifyActiveChanged(id string) {
	if c.OnActiveSessionChanged != nil {
		c.OnActiveSessionChanged(id)
	}
}

// NotifyMetricsChanged is the entry point for platform viewport/inset
// change notifications (orientation, keyboard show/hide, tab bar, active
// switch). It debounces per spec §4.7 step 1.
func (c *Coordinator) NotifyMetricsChanged() {
	c.scheduleResize()
}

func (c *Coordinator) scheduleResize() {
	c.debounceMu.Lock()
	defer c.debounceMu.Unlock()
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(resizeDebounce, c.applyResize)
}

// applyResize implements spec §4.7 steps 2-5: compute cols/rows from the
// active emulator's pixel viewport and cell size, skip on invalid metrics,
// skip on no-change, otherwise resize locally and transmit.
func (c *Coordinator) applyResize() {
	c.mu.Lock()
	active := c.active
	v, ok := c.sessions[active]
	c.mu.Unlock()
	if !ok || active == "" {
		return
	}

	viewportW, viewportH := v.emulator.ViewportSize(c.query)
	cellW, cellH := v.emulator.CellSize(c.query)
	if cellW <= 0 || cellH <= 0 {
		return
	}

	cols := viewportW / cellW
	rows := viewportH / cellH
	if cols <= 0 || rows <= 0 {
		return
	}

	c.mu.Lock()
	last, seen := c.lastSent[active]
	c.mu.Unlock()
	if seen && last[0] == cols && last[1] == rows {
		return
	}

	resized := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Warn("voyager: local emulator resize panicked, leaving last-sent state intact", "recover", r)
			}
		}()
		v.emulator.Resize(cols, rows)
		resized = true
	}()
	if !resized {
		return
	}

	if err := c.transport.Send(wire.Frame{
		Type:      "resize",
		Binary:    true,
		SessionID: active,
		Rows:      uint16(rows),
		Cols:      uint16(cols),
	}); err != nil {
		logger.Warn("voyager: send resize failed", "err", err)
		return
	}

	c.mu.Lock()
	c.lastSent[active] = [2]int{cols, rows}
	c.mu.Unlock()
}
