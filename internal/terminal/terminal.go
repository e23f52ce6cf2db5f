// Package terminal implements the Terminal Service (spec §4.5): PTY-backed
// shells keyed by (cwd, name), a VT-like screen model, and binary multiplex
// output broadcast through the session hub.
package terminal

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/tuzig/vt10x"
	"go.uber.org/zap"

	logger "github.com/paseohq/paseod/internal/logging"
)

// State is a terminal's lifecycle state (spec §4.5's state machine).
type State string

const (
	StateSpawning State = "spawning"
	StateRunning  State = "running"
	StateKilling  State = "killing"
	StateDead     State = "dead"
)

const defaultRows, defaultCols = 40, 120

const scrollbackLimit = 2000

// Cursor is the VT cursor position and visibility.
type Cursor struct {
	Row     int  `json:"row"`
	Col     int  `json:"col"`
	Visible bool `json:"visible"`
}

// Snapshot is the serializable terminal_state view published to
// subscribers and returned by createTerminal/subscribeTerminal.
type Snapshot struct {
	ID         string     `json:"id"`
	CWD        string     `json:"cwd"`
	Name       string     `json:"name"`
	Rows       int        `json:"rows"`
	Cols       int        `json:"cols"`
	Grid       [][]Cell   `json:"grid"`
	Scrollback [][]Cell   `json:"scrollback"`
	Cursor     Cursor     `json:"cursor"`
	State      State      `json:"state"`
	StreamID   uint32     `json:"streamId"`
	Subscribers int       `json:"subscribers"`
}

// Terminal is one PTY-backed shell (spec §3.4). Output mutates the vt10x
// screen model under mu; Snapshot takes a point-in-time copy.
type Terminal struct {
	id   string
	cwd  string
	name string

	mu       sync.RWMutex
	rows     int
	cols     int
	term     vt10x.Terminal
	state    State
	pty      *os.File
	cmd      *exec.Cmd
	streamID uint32
	offset   uint64

	scrollback [][]Cell

	subMu       sync.RWMutex
	subscribers map[chan []byte]struct{}

	onOutput func(t *Terminal, data []byte)

	logger *logger.Logger
}

// newTerminal spawns the PTY-backed shell for id/cwd/name at rows×cols.
// onOutput is called with every raw PTY read, for multiplex broadcast.
func newTerminal(id, cwd, name string, rows, cols int, onOutput func(t *Terminal, data []byte), log *logger.Logger) (*Terminal, error) {
	if rows <= 0 {
		rows = defaultRows
	}
	if cols <= 0 {
		cols = defaultCols
	}

	t := &Terminal{
		id:          id,
		cwd:         cwd,
		name:        name,
		rows:        rows,
		cols:        cols,
		term:        vt10x.New(vt10x.WithSize(cols, rows)),
		state:       StateSpawning,
		streamID:    newStreamID(),
		subscribers: make(map[chan []byte]struct{}),
		onOutput:    onOutput,
		logger:      log.WithFields(zap.String("component", "terminal"), zap.String("terminal_id", id)),
	}

	shell, args := detectShell()
	cmd := exec.Command(shell, args...)
	cmd.Dir = cwd
	cmd.Env = buildShellEnv(cwd)

	f, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("terminal: start pty: %w", err)
	}

	t.mu.Lock()
	t.pty = f
	t.cmd = cmd
	t.state = StateRunning
	t.mu.Unlock()

	t.logger.Info("terminal spawned", zap.String("shell", shell), zap.Int("pid", cmd.Process.Pid))

	go t.readLoop()
	go t.waitExit()

	return t, nil
}

// readLoop pumps PTY output into the vt10x screen model and to onOutput,
// until the PTY closes (graceful kill or the shell process exiting).
func (t *Terminal) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := t.pty.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			t.mu.Lock()
			_, _ = t.term.Write(data)
			t.mu.Unlock()
			if t.onOutput != nil {
				t.onOutput(t, data)
			}
		}
		if err != nil {
			return
		}
	}
}

// waitExit reaps the shell process. Unlike the embedded shell this is
// grounded on, a terminal never auto-respawns on exit: an unexpected exit
// and a deliberate kill both end in StateDead (spec §4.5's state machine
// has no restart transition).
func (t *Terminal) waitExit() {
	if t.cmd != nil {
		_ = t.cmd.Wait()
	}
	t.mu.Lock()
	t.state = StateDead
	t.mu.Unlock()
	t.logger.Info("terminal process exited")
}

// Write sends input verbatim to the PTY (spec §4.5's sendTerminalInput
// with type "input").
func (t *Terminal) Write(data []byte) error {
	t.mu.RLock()
	f, state := t.pty, t.state
	t.mu.RUnlock()
	if state != StateRunning || f == nil {
		return fmt.Errorf("terminal: not running")
	}
	_, err := f.Write(data)
	return err
}

// Resize updates the PTY and screen model dimensions.
func (t *Terminal) Resize(rows, cols int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning || t.pty == nil {
		return fmt.Errorf("terminal: not running")
	}
	if err := pty.Setsize(t.pty, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("terminal: resize pty: %w", err)
	}
	t.term.Resize(cols, rows)
	t.rows = rows
	t.cols = cols
	return nil
}

// Signal delivers an OS signal to the shell process (spec §4.5's
// sendTerminalInput with type "signal").
func (t *Terminal) Signal(sig os.Signal) error {
	t.mu.RLock()
	cmd := t.cmd
	t.mu.RUnlock()
	if cmd == nil || cmd.Process == nil {
		return fmt.Errorf("terminal: no process")
	}
	return cmd.Process.Signal(sig)
}

// Kill sends SIGTERM, waits briefly, then SIGKILL (spec §4.5's
// killTerminal). It transitions spawning/running -> killing -> dead.
func (t *Terminal) Kill() {
	t.mu.Lock()
	if t.state == StateDead || t.state == StateKilling {
		t.mu.Unlock()
		return
	}
	t.state = StateKilling
	cmd := t.cmd
	f := t.pty
	t.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		if cmd != nil {
			_ = cmd.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}

	if f != nil {
		_ = f.Close()
	}

	t.mu.Lock()
	t.state = StateDead
	t.mu.Unlock()
}

// NextOffset returns the next output offset and advances the counter, for
// multiplex frame sequencing (spec §4.5).
func (t *Terminal) NextOffset(n int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	off := t.offset
	t.offset += uint64(n)
	return off
}

func (t *Terminal) StreamID() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.streamID
}

func (t *Terminal) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Snapshot extracts the current grid, scrollback, and cursor from the
// vt10x screen model (spec §3.4/§4.5). Grounded on the teacher's
// StatusTracker.extractTerminalContent, which walks term.Cell(col, row)
// over the visible rows/cols.
func (t *Terminal) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	grid := make([][]Cell, t.rows)
	for row := 0; row < t.rows; row++ {
		line := make([]Cell, t.cols)
		for col := 0; col < t.cols; col++ {
			line[col] = glyphToCell(t.term.Cell(col, row))
		}
		grid[row] = line
	}

	vc := t.term.Cursor()

	return Snapshot{
		ID:          t.id,
		CWD:         t.cwd,
		Name:        t.name,
		Rows:        t.rows,
		Cols:        t.cols,
		Grid:        grid,
		Scrollback:  append([][]Cell(nil), t.scrollback...),
		Cursor:      Cursor{Row: vc.Y, Col: vc.X, Visible: t.term.CursorVisible()},
		State:       t.state,
		StreamID:    t.streamID,
		Subscribers: t.subscriberCount(),
	}
}

func (t *Terminal) subscriberCount() int {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	return len(t.subscribers)
}

func (t *Terminal) addSubscriber(ch chan []byte) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.subscribers[ch] = struct{}{}
}

func (t *Terminal) removeSubscriber(ch chan []byte) int {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	delete(t.subscribers, ch)
	return len(t.subscribers)
}

func detectShell() (string, []string) {
	if runtime.GOOS == "windows" {
		if _, err := exec.LookPath("pwsh.exe"); err == nil {
			return "pwsh.exe", []string{"-NoLogo", "-NoExit"}
		}
		return "cmd.exe", nil
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell, []string{"-l"}
	}
	for _, sh := range []string{"/bin/bash", "/bin/zsh", "/bin/sh"} {
		if _, err := os.Stat(sh); err == nil {
			return sh, []string{"-l"}
		}
	}
	return "/bin/sh", nil
}

var streamIDCounter uint32

// newStreamID allocates a process-unique stream id for multiplex framing
// (spec §6.1's streamId field).
func newStreamID() uint32 {
	return atomic.AddUint32(&streamIDCounter, 1)
}

func buildShellEnv(cwd string) []string {
	env := os.Environ()
	env = append(env, "PWD="+cwd, "TERM=xterm-256color", "LANG=C.UTF-8", "LC_ALL=C.UTF-8")
	return env
}
