// Package termemu is the voyager's local terminal emulator: it parses PTY
// output into a cell grid with scrollback, reads raw keystrokes off the
// real TTY, and resolves cell/viewport pixel metrics for the resize
// contract (spec §4.7, external interface in §1/§6).
package termemu

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// maxScrollbackLines bounds the active-session scrollback ring; spec §3
// requires "≥10 000 lines for active" sessions.
const maxScrollbackLines = 10000

// fallbackCellWidthPx/fallbackCellHeightPx are used whenever the terminal
// does not answer a cell-size query within one debounce window — terminals
// over SSH/raw TTY frequently don't implement CSI 16 t.
const (
	fallbackCellWidthPx  = 9
	fallbackCellHeightPx = 18
	cellQueryTimeout     = 220 * time.Millisecond
)

// Emulator is the concrete local terminal emulator adapter: a
// charmbracelet/x/vt screen plus scrollback, driven by PTY output and
// feeding keystrokes back out.
type Emulator struct {
	mu         sync.Mutex
	emu        *vt.Emulator
	scrollback []string
	sbHead     int
	sbLen      int
	altScreen  bool
	cols, rows int

	cellWidthPx, cellHeightPx int
	cellSizeQueried           bool

	output chan []byte
	done   chan struct{}
}

// New constructs an Emulator at the given size.
func New(cols, rows int) *Emulator {
	e := &Emulator{
		emu:        vt.NewEmulator(cols, rows),
		scrollback: make([]string, maxScrollbackLines),
		cols:       cols,
		rows:       rows,
		output:     make(chan []byte, 256),
		done:       make(chan struct{}),
	}
	e.emu.SetCallbacks(vt.Callbacks{
		ScrollOut:       e.onScrollOut,
		ScrollbackClear: e.onScrollbackClear,
		AltScreen:       e.onAltScreen,
	})
	return e
}

func (e *Emulator) onScrollOut(lines []uv.Line) {
	if e.altScreen {
		return
	}
	for _, line := range lines {
		rendered := line.Render()
		if e.sbLen == len(e.scrollback) {
			e.scrollback[e.sbHead] = ""
		}
		e.scrollback[e.sbHead] = rendered
		e.sbHead = (e.sbHead + 1) % len(e.scrollback)
		if e.sbLen < len(e.scrollback) {
			e.sbLen++
		}
	}
}

func (e *Emulator) onScrollbackClear() {
	for i := range e.scrollback {
		e.scrollback[i] = ""
	}
	e.sbLen, e.sbHead = 0, 0
}

func (e *Emulator) onAltScreen(on bool) { e.altScreen = on }

// Write feeds PTY output into the emulator, advancing the cell grid and
// scrollback (spec's external-interface "write(bytes)").
func (e *Emulator) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emu.Write(p)
}

// Resize changes the terminal's cell dimensions (spec's "resize(cols,rows)").
func (e *Emulator) Resize(cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emu.Resize(cols, rows)
	e.cols, e.rows = cols, rows
}

// Output is the keystroke stream captured off the real TTY in raw mode.
func (e *Emulator) Output() <-chan []byte { return e.output }

// ReadKeystrokes blocks, copying raw bytes from r onto Output() until r
// returns an error or Close is called. Intended to run in its own goroutine
// reading the voyager process's raw-mode stdin.
func (e *Emulator) ReadKeystrokes(r *bufio.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case e.output <- chunk:
			case <-e.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Close stops ReadKeystrokes and releases the underlying emulator.
func (e *Emulator) Close() error {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emu.Close()
}

// GetSelectionText returns the emulator's currently rendered screen text.
// Full mouse-driven selection is a presentation concern out of scope (spec
// §1); this returns the whole visible screen as the textual surface copy
// operates on.
func (e *Emulator) GetSelectionText() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.emu.Render()
}

// CellSize returns the terminal's per-cell pixel dimensions, querying the
// terminal once via CSI 16 t and caching a conservative fallback if it
// never answers within cellQueryTimeout.
func (e *Emulator) CellSize(query func(req string, timeout time.Duration) (resp string, ok bool)) (widthPx, heightPx int) {
	e.mu.Lock()
	if e.cellSizeQueried {
		w, h := e.cellWidthPx, e.cellHeightPx
		e.mu.Unlock()
		return w, h
	}
	e.mu.Unlock()

	w, h := fallbackCellWidthPx, fallbackCellHeightPx
	if query != nil {
		if resp, ok := query("\x1b[16t", cellQueryTimeout); ok {
			if pw, ph, ok := parseCellSizeReport(resp); ok {
				w, h = pw, ph
			}
		}
	}

	e.mu.Lock()
	e.cellWidthPx, e.cellHeightPx, e.cellSizeQueried = w, h, true
	e.mu.Unlock()
	return w, h
}

// ViewportSize returns the active viewport's pixel dimensions, computed
// from the current cell grid times the cell pixel size.
func (e *Emulator) ViewportSize(query func(req string, timeout time.Duration) (resp string, ok bool)) (widthPx, heightPx int) {
	e.mu.Lock()
	cols, rows := e.cols, e.rows
	e.mu.Unlock()
	cw, ch := e.CellSize(query)
	return cols * cw, rows * ch
}

// parseCellSizeReport parses a CSI 16 t response of the form
// "\x1b[6;<height>;<width>t" into pixel height/width.
func parseCellSizeReport(resp string) (widthPx, heightPx int, ok bool) {
	resp = strings.TrimPrefix(resp, "\x1b[")
	resp = strings.TrimSuffix(resp, "t")
	parts := strings.Split(resp, ";")
	if len(parts) != 3 {
		return 0, 0, false
	}
	h, err1 := strconv.Atoi(parts[1])
	w, err2 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// Snapshot renders the full visible screen with cursor/style restore,
// useful for redrawing after a resize or reattach.
func (e *Emulator) Snapshot() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos := e.emu.CursorPosition()
	return []byte(fmt.Sprintf("\x1b[m\x1b[H%s\x1b[%d;%dH", e.emu.Render(), pos.Y+1, pos.X+1))
}
