// Package ptyproc owns PTY sessions: spawning shells, serializing writes and
// resizes, and fanning PTY output out onto a single ordered channel. It is
// the concrete implementation behind spec §3/§4.2's session registry.
package ptyproc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/blackhole-sh/blackhole/internal/logger"
)

// ErrUnknownSession is returned by Write/Resize when the session id is not
// (or no longer) registered. Callers at the protocol layer treat this as a
// silent drop, not a user-visible error (§9 ambiguity a).
var ErrUnknownSession = errors.New("ptyproc: unknown session")

// Output is one chunk of PTY-read bytes for a single session, delivered in
// PTY-read order per session; no ordering is promised across sessions.
type Output struct {
	SessionID string
	Data      []byte
}

// Closed is emitted once per session when it is torn down: its reader
// observed EOF or a read error, or Close or Shutdown removed it.
type Closed struct {
	SessionID string
	Err       error
}

type session struct {
	id   string
	pid  int
	ptmx *os.File
	cmd  *exec.Cmd
	mu   sync.Mutex // serializes Write/Resize for this session
	once sync.Once  // guards closing down
}

// Registry is the in-memory, in-process mapping from session id to PTY
// session. Insertion order is preserved for List, matching the client's
// default tab order (spec §3).
type Registry struct {
	mu      sync.RWMutex
	order   []string
	byID    map[string]*session
	outputs chan Output
	closes  chan Closed
}

// NewRegistry constructs an empty registry. outputBuf sizes the internal
// output channel; callers that drain promptly can pass a small buffer.
func NewRegistry(outputBuf int) *Registry {
	if outputBuf <= 0 {
		outputBuf = 256
	}
	return &Registry{
		byID:    make(map[string]*session),
		outputs: make(chan Output, outputBuf),
		closes:  make(chan Closed, 16),
	}
}

// Outputs is the cold event stream of PTY output chunks.
func (r *Registry) Outputs() <-chan Output { return r.outputs }

// Closed fires once per session torn down by EOF/read error, Close, or Shutdown.
func (r *Registry) Closed() <-chan Closed { return r.closes }

// Create spawns a new shell at the given size and registers it. shellPath,
// if non-empty, overrides the resolved default shell.
func (r *Registry) Create(rows, cols uint16, shellPath string) (string, error) {
	name, args := resolveShell(shellPath)

	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return "", fmt.Errorf("ptyproc: start shell %q: %w", name, err)
	}

	id := newSessionID()
	sess := &session{id: id, pid: cmd.Process.Pid, ptmx: ptmx, cmd: cmd}

	r.mu.Lock()
	r.order = append(r.order, id)
	r.byID[id] = sess
	r.mu.Unlock()

	go r.readLoop(sess)

	logger.Info("ptyproc: session started", "session_id", id, "pid", sess.pid, "shell", name)
	return id, nil
}

// readLoop blocks on ptmx.Read until EOF/error, pushing each chunk onto the
// shared outputs channel in the order it was read.
func (r *Registry) readLoop(sess *session) {
	buf := make([]byte, 32*1024)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			r.outputs <- Output{SessionID: sess.id, Data: chunk}
		}
		if err != nil {
			r.removeAndClose(sess, err)
			return
		}
	}
}

func (r *Registry) removeAndClose(sess *session, readErr error) {
	sess.once.Do(func() {
		r.mu.Lock()
		delete(r.byID, sess.id)
		for i, id := range r.order {
			if id == sess.id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.mu.Unlock()

		sess.ptmx.Close()
		if sess.cmd.Process != nil {
			sess.cmd.Process.Kill()
		}
		sess.cmd.Wait()

		if readErr == io.EOF {
			readErr = nil
		}
		logger.Info("ptyproc: session closed", "session_id", sess.id, "err", readErr)
		r.closes <- Closed{SessionID: sess.id, Err: readErr}
	})
}

// Close kills the session's process and tears it down. Idempotent: closing
// an unknown or already-closed id is a no-op (spec §9 ambiguity b).
func (r *Registry) Close(id string) error {
	r.mu.RLock()
	sess, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	r.removeAndClose(sess, nil)
	return nil
}

// List returns session ids in creation order, excluding closed sessions.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Write sends bytes to the session's PTY. Concurrent writes to the same
// session are serialized so the underlying PTY write appears atomic in
// caller order.
func (r *Registry) Write(id string, data []byte) error {
	sess, ok := r.lookup(id)
	if !ok {
		return ErrUnknownSession
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	_, err := sess.ptmx.Write(data)
	if err != nil {
		return fmt.Errorf("ptyproc: write %s: %w", id, err)
	}
	return nil
}

// Resize sets the session's PTY window size.
func (r *Registry) Resize(id string, rows, cols uint16) error {
	sess, ok := r.lookup(id)
	if !ok {
		return ErrUnknownSession
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := pty.Setsize(sess.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("ptyproc: resize %s: %w", id, err)
	}
	return nil
}

// PID reports the child process id of a session, informational only.
func (r *Registry) PID(id string) (int, bool) {
	sess, ok := r.lookup(id)
	if !ok {
		return 0, false
	}
	return sess.pid, true
}

func (r *Registry) lookup(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byID[id]
	return sess, ok
}

// Shutdown kills every session. Safe to call multiple times.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	sessions := make([]*session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()
	for _, s := range sessions {
		r.removeAndClose(s, nil)
	}
}

// newSessionID mints an 8-hex-char session id from a fresh UUID4, matching
// the short-id convention the rest of the corpus uses for session codes.
func newSessionID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// resolveShell picks the child command and args per spec §6: an explicit
// override first, else $SHELL with login+interactive flags, falling back to
// bash then sh on POSIX; pwsh, then powershell, then cmd on Windows.
func resolveShell(override string) (string, []string) {
	if override != "" {
		return override, nil
	}
	if runtime.GOOS == "windows" {
		for _, candidate := range []string{"pwsh", "powershell", "cmd"} {
			if path, err := exec.LookPath(candidate); err == nil {
				return path, nil
			}
		}
		return "cmd", nil
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh, []string{"-l", "-i"}
	}
	for _, candidate := range []string{"bash", "sh"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path, []string{"-l", "-i"}
		}
	}
	return "sh", []string{"-i"}
}
