package termemu

import "unicode/utf8"

type parserState int

const (
	stGround parserState = iota
	stEscape
	stCSI
	stOSC
)

// parser is a small byte-level VT100/ANSI state machine. State persists
// across Process calls so escape sequences split across read chunks are
// handled correctly.
type parser struct {
	emu *Emulator

	state parserState

	params    []int
	curParam  int
	haveParam bool
	private   byte // '?' for DEC private-mode sequences, else 0

	oscPendingEsc bool
}

func (p *parser) feed(data []byte) {
	i := 0
	for i < len(data) {
		switch p.state {
		case stGround:
			i += p.feedGround(data[i:])
		case stEscape:
			i += p.feedEscape(data[i:])
		case stCSI:
			i += p.feedCSI(data[i:])
		case stOSC:
			i += p.feedOSC(data[i:])
		}
	}
}

func (p *parser) feedGround(data []byte) int {
	b := data[0]
	switch {
	case b == 0x1b:
		p.state = stEscape
		return 1
	case b == '\r':
		p.emu.active().cursorCol = 0
		return 1
	case b == '\n':
		p.emu.active().lineFeed()
		return 1
	case b == '\b':
		g := p.emu.active()
		if g.cursorCol > 0 {
			g.cursorCol--
		}
		return 1
	case b == '\t':
		g := p.emu.active()
		next := (g.cursorCol/8 + 1) * 8
		g.cursorCol = clampCursor(next, g.cols-1)
		return 1
	case b < 0x20:
		return 1 // other C0 controls (BEL, SO, SI, ...) carry no grid effect here
	default:
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size <= 1 {
			p.emu.active().put(rune(b))
			return 1
		}
		p.emu.active().put(r)
		return size
	}
}

func (p *parser) feedEscape(data []byte) int {
	b := data[0]
	switch b {
	case '[':
		p.state = stCSI
		p.params = p.params[:0]
		p.curParam = 0
		p.haveParam = false
		p.private = 0
	case ']':
		p.state = stOSC
		p.oscPendingEsc = false
	case '=':
		p.emu.keypadApplication = true
		p.state = stGround
	case '>':
		p.emu.keypadApplication = false
		p.state = stGround
	case 'M':
		p.emu.active().scrollDown(1)
		p.state = stGround
	case 'D':
		p.emu.active().lineFeed()
		p.state = stGround
	default:
		p.state = stGround
	}
	return 1
}

func (p *parser) feedCSI(data []byte) int {
	b := data[0]
	switch {
	case b == '?' || b == '>' || b == '!' || b == '=':
		p.private = b
	case b >= '0' && b <= '9':
		p.haveParam = true
		p.curParam = p.curParam*10 + int(b-'0')
	case b == ';':
		p.params = append(p.params, p.curParam)
		p.curParam = 0
		p.haveParam = false
	case b >= 0x40 && b <= 0x7e:
		if p.haveParam || len(p.params) == 0 {
			p.params = append(p.params, p.curParam)
		}
		p.dispatchCSI(b)
		p.state = stGround
	default:
		// unsupported intermediate byte (e.g. space before final); ignore
	}
	return 1
}

func (p *parser) feedOSC(data []byte) int {
	b := data[0]
	if b == 0x07 {
		p.state = stGround
		return 1
	}
	if p.oscPendingEsc {
		p.oscPendingEsc = false
		if b == '\\' {
			p.state = stGround
			return 1
		}
	}
	if b == 0x1b {
		p.oscPendingEsc = true
	}
	return 1
}

func defaultN(params []int, idx, def int) int {
	if idx < len(params) && params[idx] != 0 {
		return params[idx]
	}
	return def
}

func (p *parser) dispatchCSI(final byte) {
	g := p.emu.active()
	params := p.params

	switch final {
	case 'H', 'f':
		row := defaultN(params, 0, 1)
		col := defaultN(params, 1, 1)
		g.moveCursor(row-1, col-1)
	case 'A':
		g.cursorRow = clampCursor(g.cursorRow-defaultN(params, 0, 1), g.rows-1)
	case 'B':
		g.cursorRow = clampCursor(g.cursorRow+defaultN(params, 0, 1), g.rows-1)
	case 'C':
		g.cursorCol = clampCursor(g.cursorCol+defaultN(params, 0, 1), g.cols-1)
	case 'D':
		g.cursorCol = clampCursor(g.cursorCol-defaultN(params, 0, 1), g.cols-1)
	case 'G':
		g.cursorCol = clampCursor(defaultN(params, 0, 1)-1, g.cols-1)
	case 'd':
		g.cursorRow = clampCursor(defaultN(params, 0, 1)-1, g.rows-1)
	case 'K':
		g.eraseLine(defaultN(params, 0, 0))
	case 'J':
		mode := defaultN(params, 0, 0)
		if mode == 3 {
			g.eraseSavedLines()
		} else {
			g.eraseDisplay(mode)
		}
	case 'm':
		p.applySGR(params)
	case 'r':
		top := defaultN(params, 0, 1)
		bottom := defaultN(params, 1, g.rows)
		g.setScrollRegion(top, bottom)
	case 'h', 'l':
		if p.private == '?' {
			p.applyPrivateMode(params, final == 'h')
		}
	default:
		// unsupported final byte; ignore rather than fail the stream
	}

	p.params = p.params[:0]
	p.curParam = 0
	p.haveParam = false
	p.private = 0
}

// applyPrivateMode handles the DEC private modes (CSI ? Pm h/l) the
// emulator tracks: cursor visibility, alt-screen selection (47 and 1049),
// mouse tracking (1000/1002/1003 + 1006 SGR extension), bracketed paste
// (2004), focus events (1004), and cursor-key mode (1).
func (p *parser) applyPrivateMode(params []int, enable bool) {
	for _, mode := range params {
		switch mode {
		case 1:
			p.emu.cursorKeyMode = enable
		case 25:
			p.emu.active().cursorVisible = enable
		case 47:
			p.emu.setAltScreen(enable, false)
		case 1049:
			p.emu.setAltScreen(enable, true)
		case 1000, 1002, 1003:
			if enable {
				p.emu.mouseMode = mode
			} else if p.emu.mouseMode == mode {
				p.emu.mouseMode = 0
			}
		case 1006:
			p.emu.mouseSGR = enable
		case 1004:
			p.emu.focusEvents = enable
		case 2004:
			p.emu.bracketedPaste = enable
		}
	}
}

// setAltScreen is the single chokepoint for both alt-screen toggles.
// Mode 1049 clears the alt grid on entry; mode 47 does not — which is why
// CloneMainScreen flips this flag directly rather than emitting 1049.
func (e *Emulator) setAltScreen(enable, clearOnEnter bool) {
	if enable == e.altActive {
		return
	}
	if enable && clearOnEnter {
		e.alt = newGrid(e.alt.rows, e.alt.cols, 0)
	}
	e.altActive = enable
}

func (p *parser) applySGR(params []int) {
	g := p.emu.active()
	if len(params) == 0 {
		params = []int{0}
	}
	for i := 0; i < len(params); i++ {
		code := params[i]
		switch {
		case code == 0:
			g.curFg, g.curBg, g.curAttrs = "", "", 0
		case code == 1:
			g.curAttrs |= AttrBold
		case code == 2:
			g.curAttrs |= AttrDim
		case code == 3:
			g.curAttrs |= AttrItalic
		case code == 4:
			g.curAttrs |= AttrUnderline
		case code == 5:
			g.curAttrs |= AttrBlink
		case code == 7:
			g.curAttrs |= AttrReverse
		case code == 9:
			g.curAttrs |= AttrStrikethrough
		case code == 22:
			g.curAttrs &^= AttrBold | AttrDim
		case code == 23:
			g.curAttrs &^= AttrItalic
		case code == 24:
			g.curAttrs &^= AttrUnderline
		case code == 25:
			g.curAttrs &^= AttrBlink
		case code == 27:
			g.curAttrs &^= AttrReverse
		case code == 29:
			g.curAttrs &^= AttrStrikethrough
		case code >= 30 && code <= 37:
			g.curFg = ansiColorName(code - 30)
		case code == 38:
			spec, consumed := extendedColor(params[i:])
			g.curFg = spec
			i += consumed
		case code == 39:
			g.curFg = ""
		case code >= 40 && code <= 47:
			g.curBg = ansiColorName(code - 40)
		case code == 48:
			spec, consumed := extendedColor(params[i:])
			g.curBg = spec
			i += consumed
		case code == 49:
			g.curBg = ""
		case code >= 90 && code <= 97:
			g.curFg = ansiColorName(code - 90 + 8)
		case code >= 100 && code <= 107:
			g.curBg = ansiColorName(code - 100 + 8)
		}
	}
}

// extendedColor parses the "5;N" (256-color) or "2;R;G;B" (truecolor) tail
// following a 38/48 SGR code, returning an opaque color spec and the
// number of additional params consumed.
func extendedColor(params []int) (string, int) {
	if len(params) < 2 {
		return "", 0
	}
	switch params[1] {
	case 5:
		if len(params) >= 3 {
			return indexedColorName(params[2]), 2
		}
		return "", 1
	case 2:
		if len(params) >= 5 {
			return rgbColorName(params[2], params[3], params[4]), 4
		}
		return "", 1
	}
	return "", 1
}
