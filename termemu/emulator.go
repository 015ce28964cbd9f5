package termemu

// DefaultMainScrollback is the bound on the main grid's scrollback, per
// the data model: 10,000 rows. The alt grid never retains scrollback.
const DefaultMainScrollback = 10000

// Screen is a borrowed snapshot of a grid's visible viewport: the Rows
// slices alias the grid's own cell storage, so callers must not mutate it
// and must not retain it past the next Process/Resize call.
type Screen struct {
	Rows          [][]Cell
	CursorRow     int
	CursorCol     int
	CursorVisible bool
}

// Emulator maintains the main and alt grids for one child process and
// tracks the small set of terminal modes the orchestrator needs to know
// about (mouse tracking, bracketed paste, cursor-key/keypad mode).
type Emulator struct {
	main *Grid
	alt  *Grid

	altActive bool

	cursorKeyMode     bool // DECCKM (CSI ?1 h/l)
	keypadApplication bool // DECKPAM/DECKPNM (ESC = / ESC >)
	bracketedPaste    bool // CSI ?2004 h/l
	focusEvents       bool // CSI ?1004 h/l
	mouseMode         int  // 0 (off), 1000, 1002, or 1003
	mouseSGR          bool // CSI ?1006 h/l

	parser parser
}

// NewEmulator creates an emulator with both grids at rows x cols.
func NewEmulator(rows, cols int) *Emulator {
	e := &Emulator{
		main: newGrid(rows, cols, DefaultMainScrollback),
		alt:  newGrid(rows, cols, 0),
	}
	e.parser.emu = e
	return e
}

func (e *Emulator) active() *Grid {
	if e.altActive {
		return e.alt
	}
	return e.main
}

// Process feeds bytes into the emulator, updating grids and cursor. It is
// safe to call repeatedly with partial escape sequences split across
// chunks; parser state carries over between calls.
func (e *Emulator) Process(data []byte) {
	e.parser.feed(data)
}

// Resize resizes both grids, reflowing scrollback and viewport content so
// that it remains coherent if the child later toggles alt screens.
func (e *Emulator) Resize(rows, cols int) {
	e.main.reflow(rows, cols)
	e.alt.reflow(rows, cols)
}

// Screen returns a snapshot of the currently visible grid.
func (e *Emulator) Screen() Screen {
	g := e.active()
	rows := make([][]Cell, len(g.viewport))
	for i, l := range g.viewport {
		rows[i] = l.Cells
	}
	return Screen{
		Rows:          rows,
		CursorRow:     g.cursorRow,
		CursorCol:     g.cursorCol,
		CursorVisible: g.cursorVisible,
	}
}

// CloneMainScreen exposes the main grid regardless of which grid is
// active, by flipping the alt-selection flag (the mode-47 technique, not
// mode 1049, since 1049 would clear the alt grid), cloning, and restoring
// the flag.
func (e *Emulator) CloneMainScreen() *Grid {
	wasAlt := e.altActive
	e.altActive = false
	clone := e.main.clone()
	e.altActive = wasAlt
	return clone
}

// AltActive reports whether the alt grid is currently selected.
func (e *Emulator) AltActive() bool { return e.altActive }

// MouseMode, BracketedPaste, CursorKeyMode, KeypadApplication report the
// small set of input-affecting modes the child has requested, so the
// passthrough layer can translate key events accordingly.
func (e *Emulator) MouseMode() (mode int, sgr bool) { return e.mouseMode, e.mouseSGR }
func (e *Emulator) BracketedPaste() bool            { return e.bracketedPaste }
func (e *Emulator) FocusEvents() bool               { return e.focusEvents }
func (e *Emulator) CursorKeyMode() bool             { return e.cursorKeyMode }
func (e *Emulator) KeypadApplication() bool         { return e.keypadApplication }
