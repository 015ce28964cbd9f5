package passthrough

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// transport is the uniform byte-level surface PassthroughSession drives,
// regardless of whether the child is a local PTY (Direct) or a connection
// to a long-lived broker process that owns the real PTY (Broker).
type transport interface {
	// Read blocks for the next chunk of child output. Returns a non-nil
	// error when the child/connection is gone (the PTY's own read error for
	// Direct, "broker connection closed" for Broker).
	Read(p []byte) (int, error)
	// Write sends input to the child.
	Write(p []byte) (int, error)
	// Resize propagates a terminal size change.
	Resize(rows, cols int) error
	// Liveness reports whether the child is still running without
	// blocking, and its exit code when it is not.
	Liveness() (alive bool, exitCode int)
	// Signal delivers a process signal (used by Stop's SIGTERM/SIGKILL).
	Signal(sig syscall.Signal) error
	// Close releases the transport's resources.
	Close() error
}

// directTransport spawns the child under a local pseudo-terminal.
type directTransport struct {
	cmd  *exec.Cmd
	ptmx *os.File
	pf   PtyFactory

	mu       sync.Mutex
	exited   bool
	exitCode int
	waitOnce sync.Once
}

func newDirectTransport(pf PtyFactory, program string, args []string, dir string, env []string, rows, cols int) (*directTransport, error) {
	cmd := exec.Command(program, args...)
	cmd.Dir = dir
	cmd.Env = env

	ptmx, err := pf.Start(cmd, rows, cols)
	if err != nil {
		return nil, fmt.Errorf("start child under pty: %w", err)
	}

	t := &directTransport{cmd: cmd, ptmx: ptmx, pf: pf}
	go t.watchExit()
	return t, nil
}

func (t *directTransport) watchExit() {
	err := t.cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	t.mu.Lock()
	t.exited = true
	t.exitCode = code
	t.mu.Unlock()
}

func (t *directTransport) Read(p []byte) (int, error)  { return t.ptmx.Read(p) }
func (t *directTransport) Write(p []byte) (int, error) { return t.ptmx.Write(p) }

func (t *directTransport) Resize(rows, cols int) error {
	return t.pf.Setsize(t.ptmx, rows, cols)
}

func (t *directTransport) Liveness() (bool, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.exited, t.exitCode
}

func (t *directTransport) Signal(sig syscall.Signal) error {
	if t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Signal(sig)
}

func (t *directTransport) Close() error {
	return t.ptmx.Close()
}

// brokerTransport speaks the length-prefixed frame protocol to a
// long-lived shepherd process that owns the actual PTY. The constructor
// performs the required handshake: send Resize, then block for
// InitialState before returning.
type brokerTransport struct {
	conn net.Conn

	mu     sync.Mutex
	exited bool

	initialState []byte

	chunks  chan []byte
	leftover []byte
}

func dialBroker(socketPath string, rows, cols int, dialTimeout time.Duration) (*brokerTransport, error) {
	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial broker socket %s: %w", socketPath, err)
	}

	if err := writeFrame(conn, resizeFrame(rows, cols)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send handshake resize: %w", err)
	}

	f, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake InitialState: %w", err)
	}
	if f.kind != frameInitialState {
		conn.Close()
		return nil, fmt.Errorf("expected InitialState frame, got kind %d", f.kind)
	}

	bt := &brokerTransport{conn: conn, initialState: f.payload, chunks: make(chan []byte, 64)}
	go bt.readLoop()
	return bt, nil
}

// InitialState returns the restore-sequence bytes the broker sent during
// the handshake, consumed exactly once by the session on startup.
func (bt *brokerTransport) InitialState() []byte {
	s := bt.initialState
	bt.initialState = nil
	return s
}

func (bt *brokerTransport) readLoop() {
	defer close(bt.chunks)
	for {
		f, err := readFrame(bt.conn)
		if err != nil {
			bt.mu.Lock()
			bt.exited = true
			bt.mu.Unlock()
			return
		}
		switch f.kind {
		case framePtyOutput:
			bt.chunks <- f.payload
		case frameShutdown:
			bt.mu.Lock()
			bt.exited = true
			bt.mu.Unlock()
			return
		}
	}
}

func (bt *brokerTransport) Read(p []byte) (int, error) {
	if len(bt.leftover) > 0 {
		n := copy(p, bt.leftover)
		bt.leftover = bt.leftover[n:]
		return n, nil
	}
	chunk, ok := <-bt.chunks
	if !ok {
		return 0, fmt.Errorf("broker connection closed")
	}
	n := copy(p, chunk)
	if n < len(chunk) {
		bt.leftover = chunk[n:]
	}
	return n, nil
}

func (bt *brokerTransport) Write(p []byte) (int, error) {
	if err := writeFrame(bt.conn, frame{kind: framePtyInput, payload: p}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (bt *brokerTransport) Resize(rows, cols int) error {
	return writeFrame(bt.conn, resizeFrame(rows, cols))
}

func (bt *brokerTransport) Liveness() (bool, int) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if bt.exited {
		return false, -1
	}
	return true, 0
}

// Signal has no meaning over the broker transport: the shepherd owns the
// child and is signaled out of band, not by this connection.
func (bt *brokerTransport) Signal(syscall.Signal) error { return nil }

func (bt *brokerTransport) Close() error {
	_ = writeFrame(bt.conn, frame{kind: frameShutdown})
	return bt.conn.Close()
}
