package termemu

import "github.com/mattn/go-runewidth"

// Line is one row of a Grid. Wrapped marks a row produced by auto-wrap
// (the cursor ran off the right edge while printing) rather than an
// explicit line feed, so reflow can rejoin it with its predecessor.
type Line struct {
	Cells   []Cell
	Wrapped bool
}

func newLine(cols int) Line {
	return Line{Cells: blankRow(cols)}
}

func (l Line) clone() Line {
	cells := make([]Cell, len(l.Cells))
	copy(cells, l.Cells)
	return Line{Cells: cells, Wrapped: l.Wrapped}
}

// trimmedRunes returns the line's content with trailing blank cells
// removed, for use by reflow and serialization.
func (l Line) trimmedRunes() []Cell {
	end := len(l.Cells)
	for end > 0 && l.Cells[end-1] == blankCell {
		end--
	}
	return l.Cells[:end]
}

// Grid is one logical screen: a fixed-height viewport plus, for the main
// grid, a bounded scrollback of lines that have scrolled off the top.
type Grid struct {
	rows, cols    int
	maxScrollback int // 0 for the alt grid

	scrollback []Line
	viewport   []Line // always len == rows

	cursorRow, cursorCol int
	cursorVisible        bool

	scrollTop, scrollBottom int // inclusive, 0-indexed, within viewport

	curFg, curBg string
	curAttrs     Attr
}

func newGrid(rows, cols, maxScrollback int) *Grid {
	g := &Grid{
		rows: rows, cols: cols, maxScrollback: maxScrollback,
		cursorVisible: true,
		scrollBottom:  rows - 1,
	}
	g.viewport = make([]Line, rows)
	for i := range g.viewport {
		g.viewport[i] = newLine(cols)
	}
	return g
}

// Row returns the cells of viewport row i. Used by callers that hold a
// cloned Grid (e.g. via Emulator.CloneMainScreen) and need read access to
// its content without reaching into unexported fields.
func (g *Grid) Row(i int) []Cell {
	return g.viewport[i].Cells
}

// Rows reports the grid's viewport height.
func (g *Grid) Rows() int { return g.rows }

// Cols reports the grid's viewport width.
func (g *Grid) Cols() int { return g.cols }

// ScrollbackLen reports how many rows have scrolled off the top of the
// viewport and are retained in scrollback.
func (g *Grid) ScrollbackLen() int { return len(g.scrollback) }

// CursorPosition returns the 0-indexed cursor row and column.
func (g *Grid) CursorPosition() (int, int) { return g.cursorRow, g.cursorCol }

// CursorVisible reports whether the cursor should be drawn.
func (g *Grid) CursorVisible() bool { return g.cursorVisible }

// ViewportAt returns `rows` lines of content ending `offset` rows above the
// bottom of the combined scrollback+viewport history (offset 0 is the live
// viewport itself). Used by scroll mode to render a frozen snapshot at an
// adjustable scrollback offset.
func (g *Grid) ViewportAt(offset, rows int) []Line {
	all := make([]Line, 0, len(g.scrollback)+len(g.viewport))
	all = append(all, g.scrollback...)
	all = append(all, g.viewport...)

	if offset < 0 {
		offset = 0
	}
	maxOffset := len(all) - rows
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset > maxOffset {
		offset = maxOffset
	}

	end := len(all) - offset
	start := end - rows
	if start < 0 {
		start = 0
	}
	out := make([]Line, rows)
	for i := range out {
		src := start + i
		if src >= 0 && src < end {
			out[i] = all[src]
		} else {
			out[i] = newLine(g.cols)
		}
	}
	return out
}

// MaxScrollOffset reports the largest legal offset into ViewportAt for a
// viewport of the given height.
func (g *Grid) MaxScrollOffset(rows int) int {
	total := len(g.scrollback) + len(g.viewport)
	max := total - rows
	if max < 0 {
		return 0
	}
	return max
}

func (g *Grid) clone() *Grid {
	c := &Grid{
		rows: g.rows, cols: g.cols, maxScrollback: g.maxScrollback,
		cursorRow: g.cursorRow, cursorCol: g.cursorCol, cursorVisible: g.cursorVisible,
		scrollTop: g.scrollTop, scrollBottom: g.scrollBottom,
		curFg: g.curFg, curBg: g.curBg, curAttrs: g.curAttrs,
	}
	c.scrollback = make([]Line, len(g.scrollback))
	for i, l := range g.scrollback {
		c.scrollback[i] = l.clone()
	}
	c.viewport = make([]Line, len(g.viewport))
	for i, l := range g.viewport {
		c.viewport[i] = l.clone()
	}
	return c
}

// resetScrollRegion restores the default full-viewport scroll region.
func (g *Grid) resetScrollRegion() {
	g.scrollTop = 0
	g.scrollBottom = g.rows - 1
}

// setScrollRegion implements DECSTBM. top/bottom are 1-indexed per the
// wire protocol; they are stored 0-indexed.
func (g *Grid) setScrollRegion(top, bottom int) {
	if top < 1 {
		top = 1
	}
	if bottom < 1 || bottom > g.rows {
		bottom = g.rows
	}
	if top >= bottom {
		g.resetScrollRegion()
		return
	}
	g.scrollTop = top - 1
	g.scrollBottom = bottom - 1
	g.cursorRow, g.cursorCol = g.scrollTop, 0
}

// scrollUp shifts the scroll region up by n lines, discarding (main grid:
// archiving to scrollback) the lines that scroll off the top of the
// region, and filling the bottom with blank lines.
func (g *Grid) scrollUp(n int) {
	region := g.scrollBottom - g.scrollTop + 1
	if n > region {
		n = region
	}
	if n <= 0 {
		return
	}

	if g.scrollTop == 0 && g.maxScrollback > 0 {
		g.scrollback = append(g.scrollback, g.viewport[0:n]...)
		if over := len(g.scrollback) - g.maxScrollback; over > 0 {
			g.scrollback = g.scrollback[over:]
		}
	}

	copy(g.viewport[g.scrollTop:g.scrollBottom+1-n], g.viewport[g.scrollTop+n:g.scrollBottom+1])
	for i := g.scrollBottom + 1 - n; i <= g.scrollBottom; i++ {
		g.viewport[i] = newLine(g.cols)
	}
}

// scrollDown shifts the scroll region down by n lines (reverse index,
// e.g. RI at the top margin). Lines scrolled off the bottom are discarded.
func (g *Grid) scrollDown(n int) {
	region := g.scrollBottom - g.scrollTop + 1
	if n > region {
		n = region
	}
	if n <= 0 {
		return
	}
	copy(g.viewport[g.scrollTop+n:g.scrollBottom+1], g.viewport[g.scrollTop:g.scrollBottom+1-n])
	for i := g.scrollTop; i < g.scrollTop+n; i++ {
		g.viewport[i] = newLine(g.cols)
	}
}

// lineFeed advances the cursor one row, scrolling the region if the
// cursor is already on its bottom line.
func (g *Grid) lineFeed() {
	if g.cursorRow == g.scrollBottom {
		g.scrollUp(1)
		return
	}
	if g.cursorRow < g.rows-1 {
		g.cursorRow++
	}
}

// put writes r at the cursor, advancing the column and wrapping (with a
// line feed, marking the new line as auto-wrapped) at the right margin.
// A zero-width rune (combining mark) is dropped rather than overwriting
// the base rune already in the previous cell, since a Cell holds only
// one rune. A double-width rune (most CJK and emoji) occupies its cell
// plus a blank continuation cell to its right.
func (g *Grid) put(r rune) {
	width := runewidth.RuneWidth(r)
	if width == 0 && g.cursorCol > 0 {
		return
	}
	if width == 0 {
		width = 1
	}

	if g.cursorCol >= g.cols {
		g.lineFeed()
		g.cursorCol = 0
		g.viewport[g.cursorRow].Wrapped = true
	}
	g.viewport[g.cursorRow].Cells[g.cursorCol] = Cell{Rune: r, Fg: g.curFg, Bg: g.curBg, Attrs: g.curAttrs}
	g.cursorCol++

	if width == 2 && g.cursorCol < g.cols {
		g.viewport[g.cursorRow].Cells[g.cursorCol] = Cell{Rune: 0, Fg: g.curFg, Bg: g.curBg, Attrs: g.curAttrs}
		g.cursorCol++
	}
}

func (g *Grid) eraseLine(mode int) {
	row := g.viewport[g.cursorRow].Cells
	switch mode {
	case 0:
		for i := g.cursorCol; i < len(row); i++ {
			row[i] = blankCell
		}
	case 1:
		for i := 0; i <= g.cursorCol && i < len(row); i++ {
			row[i] = blankCell
		}
	case 2:
		for i := range row {
			row[i] = blankCell
		}
	}
}

func (g *Grid) eraseDisplay(mode int) {
	switch mode {
	case 0:
		g.eraseLine(0)
		for i := g.cursorRow + 1; i < g.rows; i++ {
			g.viewport[i] = newLine(g.cols)
		}
	case 1:
		g.eraseLine(1)
		for i := 0; i < g.cursorRow; i++ {
			g.viewport[i] = newLine(g.cols)
		}
	case 2:
		for i := range g.viewport {
			g.viewport[i] = newLine(g.cols)
		}
	}
}

// eraseSavedLines implements CSI 3 J: discard scrollback, keep the
// visible screen untouched.
func (g *Grid) eraseSavedLines() {
	g.scrollback = nil
}

func clampCursor(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func (g *Grid) moveCursor(row, col int) {
	g.cursorRow = clampCursor(row, g.rows-1)
	g.cursorCol = clampCursor(col, g.cols-1)
}

// reflow rebuilds the grid at a new size, rejoining auto-wrapped lines into
// logical lines and rewrapping them at the new column width. Logical lines
// are rebuilt from the full scrollback+viewport history, then the trailing
// `rows` of the result become the new viewport and the rest scrollback.
func (g *Grid) reflow(newRows, newCols int) {
	if newRows == g.rows && newCols == g.cols {
		return
	}

	all := make([]Line, 0, len(g.scrollback)+len(g.viewport))
	all = append(all, g.scrollback...)
	all = append(all, g.viewport...)

	logical := joinWrapped(all)
	rewrapped := rewrapLogical(logical, newCols)

	if len(rewrapped) < newRows {
		pad := make([]Line, newRows-len(rewrapped))
		for i := range pad {
			pad[i] = newLine(newCols)
		}
		rewrapped = append(rewrapped, pad...)
	}

	splitAt := len(rewrapped) - newRows
	var newScrollback []Line
	if splitAt > 0 {
		newScrollback = rewrapped[:splitAt]
	}
	newViewport := rewrapped[max(splitAt, 0):]

	if g.maxScrollback > 0 && len(newScrollback) > g.maxScrollback {
		newScrollback = newScrollback[len(newScrollback)-g.maxScrollback:]
	}
	if g.maxScrollback == 0 {
		newScrollback = nil
	}

	g.scrollback = newScrollback
	g.viewport = newViewport
	g.rows, g.cols = newRows, newCols
	g.resetScrollRegion()
	g.cursorRow = clampCursor(g.cursorRow, newRows-1)
	g.cursorCol = clampCursor(g.cursorCol, newCols-1)
}

// joinWrapped concatenates each run of [hard line, wrapped..., wrapped]
// into one logical []Cell, trimming trailing blanks off every line except
// while joining (interior trailing blanks from a full-width wrapped row
// are real content and must be kept).
func joinWrapped(lines []Line) [][]Cell {
	var logical [][]Cell
	var cur []Cell
	for i, l := range lines {
		if i == 0 || !l.Wrapped {
			if cur != nil {
				logical = append(logical, cur)
			}
			cur = append([]Cell{}, l.Cells...)
		} else {
			cur = append(cur, l.Cells...)
		}
	}
	if cur != nil {
		logical = append(logical, cur)
	}
	for i := range logical {
		logical[i] = trimTrailingBlanks(logical[i])
	}
	return logical
}

func trimTrailingBlanks(cells []Cell) []Cell {
	end := len(cells)
	for end > 0 && cells[end-1] == blankCell {
		end--
	}
	return cells[:end]
}

// rewrapLogical re-splits each logical line into rows of at most newCols
// cells, marking continuations as Wrapped.
func rewrapLogical(logical [][]Cell, newCols int) []Line {
	var out []Line
	for _, line := range logical {
		if len(line) == 0 {
			out = append(out, newLine(newCols))
			continue
		}
		for i := 0; i < len(line); i += newCols {
			end := i + newCols
			if end > len(line) {
				end = len(line)
			}
			row := blankRow(newCols)
			copy(row, line[i:end])
			out = append(out, Line{Cells: row, Wrapped: i > 0})
		}
	}
	return out
}
