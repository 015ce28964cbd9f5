package termemu

import (
	"io"
	"strconv"
	"strings"
)

// SerializeRestoreSequence renders a byte stream that, replayed into a
// fresh terminal, reproduces this emulator's current state: scrollback,
// then the visible screen, and — if the alt grid is selected — the alt
// screen on top of it with mode 1049 left enabled. A caller that resizes
// or re-homes a session's output (e.g. attaching a new viewer) can use
// this instead of replaying the full history.
func (e *Emulator) SerializeRestoreSequence() []byte {
	var b strings.Builder

	writeGrid(&b, e.main, true)

	if e.altActive {
		b.WriteString("\x1b[?1049h")
		writeGrid(&b, e.alt, false)
	}

	return []byte(b.String())
}

func writeGrid(b *strings.Builder, g *Grid, includeScrollback bool) {
	b.WriteString("\x1b[2J\x1b[H")

	if includeScrollback {
		for _, line := range g.scrollback {
			writeLine(b, line)
			b.WriteString("\r\n")
		}
	}

	for i, line := range g.viewport {
		writeLine(b, line)
		if i < len(g.viewport)-1 {
			b.WriteString("\r\n")
		}
	}

	b.WriteString("\x1b[H")
	if g.cursorRow > 0 || g.cursorCol > 0 {
		b.WriteString("\x1b[" + strconv.Itoa(g.cursorRow+1) + ";" + strconv.Itoa(g.cursorCol+1) + "H")
	}
	if !g.cursorVisible {
		b.WriteString("\x1b[?25l")
	}
}

// WriteRow writes one row's content (including inline SGR attribute
// changes, reset to default at the end if any style was emitted) to w. Used
// by the passthrough layer's render_transition and scroll-mode rendering,
// which redraw one line at a time rather than a full serialized sequence.
func WriteRow(w io.Writer, cells []Cell) error {
	var b strings.Builder
	writeLine(&b, Line{Cells: cells})
	_, err := io.WriteString(w, b.String())
	return err
}

// writeLine emits one row as plain text preceded by the SGR sequences
// needed whenever a cell's style differs from the previous cell's.
func writeLine(b *strings.Builder, line Line) {
	var prev Cell
	haveStyle := false
	for _, c := range line.trimmedRunes() {
		if c.Rune == 0 {
			continue // continuation cell of a double-width rune to its left
		}
		if !haveStyle || c.Fg != prev.Fg || c.Bg != prev.Bg || c.Attrs != prev.Attrs {
			b.WriteString(sgrSequence(c))
			prev = c
			haveStyle = true
		}
		b.WriteRune(c.Rune)
	}
	if haveStyle {
		b.WriteString("\x1b[0m")
	}
}

// sgrSequence builds the CSI ... m sequence that puts the terminal into
// the style carried by c.
func sgrSequence(c Cell) string {
	codes := []string{"0"}

	if c.Attrs&AttrBold != 0 {
		codes = append(codes, "1")
	}
	if c.Attrs&AttrDim != 0 {
		codes = append(codes, "2")
	}
	if c.Attrs&AttrItalic != 0 {
		codes = append(codes, "3")
	}
	if c.Attrs&AttrUnderline != 0 {
		codes = append(codes, "4")
	}
	if c.Attrs&AttrBlink != 0 {
		codes = append(codes, "5")
	}
	if c.Attrs&AttrReverse != 0 {
		codes = append(codes, "7")
	}
	if c.Attrs&AttrStrikethrough != 0 {
		codes = append(codes, "9")
	}

	if fg := colorCodes(c.Fg, 30, 90, 38); fg != "" {
		codes = append(codes, fg)
	}
	if bg := colorCodes(c.Bg, 40, 100, 48); bg != "" {
		codes = append(codes, bg)
	}

	return "\x1b[" + strings.Join(codes, ";") + "m"
}

// colorCodes turns one of the opaque color specs produced by the parser
// ("ansi:N", "idx:N", "#RRGGBB") back into SGR parameter codes.
func colorCodes(spec string, base, brightBase, extended int) string {
	switch {
	case spec == "":
		return ""
	case strings.HasPrefix(spec, "ansi:"):
		n, err := strconv.Atoi(spec[len("ansi:"):])
		if err != nil {
			return ""
		}
		if n < 8 {
			return strconv.Itoa(base + n)
		}
		return strconv.Itoa(brightBase + (n - 8))
	case strings.HasPrefix(spec, "idx:"):
		n, err := strconv.Atoi(spec[len("idx:"):])
		if err != nil {
			return ""
		}
		return strconv.Itoa(extended) + ";5;" + strconv.Itoa(n)
	case strings.HasPrefix(spec, "#") && len(spec) == 7:
		r, err1 := strconv.ParseInt(spec[1:3], 16, 0)
		g, err2 := strconv.ParseInt(spec[3:5], 16, 0)
		bl, err3 := strconv.ParseInt(spec[5:7], 16, 0)
		if err1 != nil || err2 != nil || err3 != nil {
			return ""
		}
		return strconv.Itoa(extended) + ";2;" + strconv.FormatInt(r, 10) + ";" + strconv.FormatInt(g, 10) + ";" + strconv.FormatInt(bl, 10)
	default:
		return ""
	}
}
