// Package termemu implements a minimal VT100/ANSI terminal emulator: two
// logical grids (main, with bounded scrollback, and alt, without), fed by a
// byte stream from a child process and queried by PassthroughSession for
// rendering.
package termemu

// Attr is a bitmask of SGR text attributes.
type Attr uint8

const (
	AttrBold Attr = 1 << iota
	AttrDim
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrReverse
	AttrStrikethrough
)

// Cell is a single character position: its rune plus the SGR attributes in
// effect when it was written.
type Cell struct {
	Rune  rune
	Fg    string // empty means default foreground
	Bg    string // empty means default background
	Attrs Attr
}

var blankCell = Cell{Rune: ' '}

func blankRow(cols int) []Cell {
	row := make([]Cell, cols)
	for i := range row {
		row[i] = blankCell
	}
	return row
}
