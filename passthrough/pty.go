package passthrough

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// PtyFactory spawns a command under a pseudo-terminal, returning the
// master file descriptor. It is an interface (rather than calling
// github.com/creack/pty directly from Direct) so tests can substitute a
// fake child without actually forking a process.
type PtyFactory interface {
	Start(cmd *exec.Cmd, rows, cols int) (*os.File, error)
	Setsize(f *os.File, rows, cols int) error
}

type realPtyFactory struct{}

// NewPtyFactory returns the production PtyFactory, backed by
// github.com/creack/pty.
func NewPtyFactory() PtyFactory { return realPtyFactory{} }

func (realPtyFactory) Start(cmd *exec.Cmd, rows, cols int) (*os.File, error) {
	return pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

func (realPtyFactory) Setsize(f *os.File, rows, cols int) error {
	return pty.Setsize(f, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}
