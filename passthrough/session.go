package passthrough

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kbtz/kbtz-workspace/termemu"
)

// stopGrace is how long Stop waits for a SIGTERM'd child to exit before
// escalating to SIGKILL.
const stopGrace = 5 * time.Second

// Session couples a child process (direct PTY or broker transport) to a
// termemu.Emulator and presents the SessionHandle capability set the
// orchestrator drives: start, stop, write-input, on-output, poll-liveness,
// resize, enter/exit scroll mode, render-transition.
//
// The emulator is owned by Session but shared between the reader goroutine
// (writer, via Process) and whichever goroutine calls the render/clone
// methods; emuMu guards every access, held only for the duration of one
// Process/Screen/Clone call, never across I/O.
type Session struct {
	ID       string
	TaskName string

	transport transport
	emulator  *termemu.Emulator
	emuMu     sync.Mutex

	rows, cols int

	// displayed is read lock-free by the reader goroutine and written only
	// by the orchestrator's own goroutine.
	displayed atomic.Bool

	scrollMu sync.Mutex
	scroll   *scrollState

	doneCh chan struct{}
}

type scrollState struct {
	snapshot *termemu.Grid
	offset   int
}

// newSession wires a transport to a fresh emulator at rows x cols and
// starts the reader goroutine. stdout is the user's real terminal, written
// to only while the session is displayed.
func newSession(id, taskName string, t transport, rows, cols int, stdout io.Writer) *Session {
	s := &Session{
		ID:        id,
		TaskName:  taskName,
		transport: t,
		emulator:  termemu.NewEmulator(rows, cols),
		rows:      rows,
		cols:      cols,
		doneCh:    make(chan struct{}),
	}
	go s.readLoop(stdout)
	return s
}

// StartDirect spawns program under a local pseudo-terminal and returns a
// Session wrapping it.
func StartDirect(pf PtyFactory, id, taskName, program string, args []string, dir string, env []string, rows, cols int, stdout io.Writer) (*Session, error) {
	t, err := newDirectTransport(pf, program, args, dir, env, rows, cols)
	if err != nil {
		return nil, err
	}
	return newSession(id, taskName, t, rows, cols, stdout), nil
}

// StartBroker dials a shepherd process's Unix socket, performs the
// handshake (send Resize, await InitialState), replays the InitialState
// restore sequence into a fresh emulator, and returns the resulting
// Session.
func StartBroker(id, taskName, socketPath string, rows, cols int, dialTimeout time.Duration, stdout io.Writer) (*Session, error) {
	bt, err := dialBroker(socketPath, rows, cols, dialTimeout)
	if err != nil {
		return nil, err
	}
	s := &Session{
		ID:        id,
		TaskName:  taskName,
		transport: bt,
		emulator:  termemu.NewEmulator(rows, cols),
		rows:      rows,
		cols:      cols,
		doneCh:    make(chan struct{}),
	}
	s.emulator.Process(bt.InitialState())
	go s.readLoop(stdout)
	return s, nil
}

// readLoop is the one reader per the concurrency model: it drains the
// transport, feeds every chunk to the emulator (always, displayed or not),
// and additionally forwards the raw bytes to stdout when displayed. The
// emulator is updated unconditionally so scroll mode and reconnect remain
// correct for a session that is not currently on screen.
func (s *Session) readLoop(stdout io.Writer) {
	defer close(s.doneCh)
	buf := make([]byte, 64*1024)
	for {
		n, err := s.transport.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)

			s.emuMu.Lock()
			s.emulator.Process(chunk)
			s.emuMu.Unlock()

			if s.displayed.Load() && stdout != nil {
				_, _ = stdout.Write(chunk)
			}
		}
		if err != nil {
			return
		}
	}
}

// SetDisplayed flips the lock-free flag the reader checks before
// forwarding raw bytes. Only the Main/orchestrator thread calls this.
func (s *Session) SetDisplayed(displayed bool) { s.displayed.Store(displayed) }

// Displayed reports the current value of the flag.
func (s *Session) Displayed() bool { return s.displayed.Load() }

// WriteInput forwards bytes from the user's terminal to the transport,
// transparently (the orchestrator intercepts multiplexer escapes before
// they reach here).
func (s *Session) WriteInput(p []byte) (int, error) {
	return s.transport.Write(p)
}

// Resize propagates a terminal size change to both the transport (PTY
// ioctl or broker Resize frame) and the local emulator.
func (s *Session) Resize(rows, cols int) error {
	if err := s.transport.Resize(rows, cols); err != nil {
		return fmt.Errorf("resize transport: %w", err)
	}
	s.emuMu.Lock()
	s.emulator.Resize(rows, cols)
	s.rows, s.cols = rows, cols
	s.emuMu.Unlock()
	return nil
}

// PollLiveness reports whether the child is still running, without
// blocking.
func (s *Session) PollLiveness() (alive bool, exitCode int) {
	return s.transport.Liveness()
}

// modeResetSequence restores terminal modes a child may have left set:
// SGR reset, mouse tracking (1000/1002/1003 + SGR extension 1006) off,
// focus events and bracketed paste off, cursor keys/keypad back to normal,
// cursor visible.
const modeResetSequence = "\x1b[0m" +
	"\x1b[?1000l\x1b[?1002l\x1b[?1003l\x1b[?1006l" +
	"\x1b[?1004l\x1b[?2004l" +
	"\x1b[?1l\x1b>" +
	"\x1b[?25h"

// Stop resets terminal modes on the user's terminal, signals the child
// SIGTERM, waits up to stopGrace for exit, then SIGKILLs.
func (s *Session) Stop(ctx context.Context, stdout io.Writer) error {
	if stdout != nil {
		_, _ = io.WriteString(stdout, modeResetSequence)
	}

	if err := s.transport.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal SIGTERM: %w", err)
	}

	deadline := time.NewTimer(stopGrace)
	defer deadline.Stop()
	poll := time.NewTicker(20 * time.Millisecond)
	defer poll.Stop()

	for {
		if alive, _ := s.transport.Liveness(); !alive {
			return s.transport.Close()
		}
		select {
		case <-ctx.Done():
			_ = s.transport.Signal(syscall.SIGKILL)
			_ = s.transport.Close()
			return ctx.Err()
		case <-deadline.C:
			_ = s.transport.Signal(syscall.SIGKILL)
			return s.transport.Close()
		case <-poll.C:
		}
	}
}

// RenderTransition rebuilds the visible screen on the user's terminal by
// emitting, for each row of the emulator's visible grid: an absolute
// cursor move, an erase-line, then the row content. It never emits \r\n,
// because the workspace reserves the bottom row with a scroll region and
// \r\n there would scroll content within it.
func (s *Session) RenderTransition(w io.Writer) error {
	s.emuMu.Lock()
	screen := s.emulator.Screen()
	rows := make([][]termemu.Cell, len(screen.Rows))
	for i, row := range screen.Rows {
		rows[i] = append([]termemu.Cell(nil), row...)
	}
	s.emuMu.Unlock()

	for i, row := range rows {
		if err := writeRowAt(w, i, row); err != nil {
			return err
		}
	}
	return moveCursor(w, screen.CursorRow, screen.CursorCol, screen.CursorVisible)
}

func writeRowAt(w io.Writer, row int, cells []termemu.Cell) error {
	if _, err := fmt.Fprintf(w, "\x1b[%d;1H\x1b[K", row+1); err != nil {
		return err
	}
	return termemu.WriteRow(w, cells)
}

func moveCursor(w io.Writer, row, col int, visible bool) error {
	if _, err := fmt.Fprintf(w, "\x1b[%d;%dH", row+1, col+1); err != nil {
		return err
	}
	if visible {
		_, err := io.WriteString(w, "\x1b[?25h")
		return err
	}
	_, err := io.WriteString(w, "\x1b[?25l")
	return err
}

// EnterScrollMode snapshots the main grid (via CloneMainScreen, which uses
// the mode-47 trick so an active alt screen is not disturbed) and freezes
// the displayed viewport at that snapshot. The live emulator keeps
// receiving bytes from the reader; it is simply not rendered until
// ExitScrollMode.
func (s *Session) EnterScrollMode() {
	s.emuMu.Lock()
	snap := s.emulator.CloneMainScreen()
	s.emuMu.Unlock()

	s.scrollMu.Lock()
	s.scroll = &scrollState{snapshot: snap, offset: 0}
	s.scrollMu.Unlock()
}

// InScrollMode reports whether scroll mode is currently active.
func (s *Session) InScrollMode() bool {
	s.scrollMu.Lock()
	defer s.scrollMu.Unlock()
	return s.scroll != nil
}

// ScrollBy adjusts the frozen snapshot's viewport offset by delta rows
// (positive scrolls further back into scrollback) and renders the result.
func (s *Session) ScrollBy(w io.Writer, delta int) error {
	s.scrollMu.Lock()
	defer s.scrollMu.Unlock()
	if s.scroll == nil {
		return fmt.Errorf("scroll mode not active")
	}
	s.scroll.offset += delta
	if s.scroll.offset < 0 {
		s.scroll.offset = 0
	}
	if max := s.scroll.snapshot.MaxScrollOffset(s.scroll.snapshot.Rows()); s.scroll.offset > max {
		s.scroll.offset = max
	}
	return s.renderScrollLocked(w)
}

// renderScrollLocked renders the frozen snapshot at its current offset.
// Rows are written with an explicit SGR reset and line erase between them
// to prevent attribute bleed from the previous render.
func (s *Session) renderScrollLocked(w io.Writer) error {
	g := s.scroll.snapshot
	rows := g.ViewportAt(s.scroll.offset, g.Rows())
	for i, line := range rows {
		if _, err := fmt.Fprintf(w, "\x1b[%d;1H\x1b[K\x1b[0m", i+1); err != nil {
			return err
		}
		if err := termemu.WriteRow(w, line.Cells); err != nil {
			return err
		}
	}
	return nil
}

// RenderScroll renders the current frozen snapshot, e.g. right after
// EnterScrollMode or on a resize while scrolled.
func (s *Session) RenderScroll(w io.Writer) error {
	s.scrollMu.Lock()
	defer s.scrollMu.Unlock()
	if s.scroll == nil {
		return fmt.Errorf("scroll mode not active")
	}
	return s.renderScrollLocked(w)
}

// ExitScrollMode drops the frozen snapshot and re-syncs the terminal to
// the live emulator's current visible state via RenderTransition.
func (s *Session) ExitScrollMode(w io.Writer) error {
	s.scrollMu.Lock()
	s.scroll = nil
	s.scrollMu.Unlock()
	return s.RenderTransition(w)
}

// SerializeRestoreSequence exposes the emulator's restore sequence, used
// by the broker transport to hand a reconnecting client its InitialState,
// and by scroll-mode-unaware callers that need a one-shot full redraw.
func (s *Session) SerializeRestoreSequence() []byte {
	s.emuMu.Lock()
	defer s.emuMu.Unlock()
	return s.emulator.SerializeRestoreSequence()
}

// Wait returns a channel that is closed once the reader goroutine has
// stopped on a transport read error (EOF included).
func (s *Session) Wait() <-chan struct{} { return s.doneCh }
