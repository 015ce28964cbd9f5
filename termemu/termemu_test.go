package termemu_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbtz/kbtz-workspace/termemu"
)

func screenText(s termemu.Screen) []string {
	out := make([]string, len(s.Rows))
	for i, row := range s.Rows {
		var r []rune
		for _, c := range row {
			r = append(r, c.Rune)
		}
		out[i] = string(r)
	}
	return out
}

func TestProcess_PlainTextAndNewline(t *testing.T) {
	e := termemu.NewEmulator(5, 10)
	e.Process([]byte("hello\r\nworld"))
	s := e.Screen()
	rows := screenText(s)
	require.GreaterOrEqual(t, len(rows), 2)
	assert.Contains(t, rows[0], "hello")
	assert.Contains(t, rows[1], "world")
}

func TestProcess_WideRuneOccupiesTwoCells(t *testing.T) {
	e := termemu.NewEmulator(2, 10)
	e.Process([]byte("中文x"))
	s := e.Screen()
	assert.Equal(t, '中', s.Rows[0][0].Rune)
	assert.Equal(t, rune(0), s.Rows[0][1].Rune)
	assert.Equal(t, '文', s.Rows[0][2].Rune)
	assert.Equal(t, rune(0), s.Rows[0][3].Rune)
	assert.Equal(t, 'x', s.Rows[0][4].Rune)
}

func TestProcess_CombiningMarkDoesNotOverwriteBaseRune(t *testing.T) {
	e := termemu.NewEmulator(2, 10)
	e.Process([]byte("e\u0301")) // "e" + COMBINING ACUTE ACCENT
	s := e.Screen()
	assert.Equal(t, 'e', s.Rows[0][0].Rune)
	assert.Equal(t, ' ', s.Rows[0][1].Rune)
}

func TestProcess_CursorMotion(t *testing.T) {
	e := termemu.NewEmulator(5, 10)
	e.Process([]byte("\x1b[3;4Hx"))
	s := e.Screen()
	assert.Equal(t, 'x', s.Rows[2][3].Rune)
}

func TestProcess_EraseDisplay(t *testing.T) {
	e := termemu.NewEmulator(3, 5)
	e.Process([]byte("abcde\r\nfghij\r\nklmno"))
	e.Process([]byte("\x1b[H\x1b[2J"))
	s := e.Screen()
	for _, row := range s.Rows {
		for _, c := range row {
			assert.Equal(t, ' ', c.Rune)
		}
	}
}

// CSI 3J must clear scrollback without disturbing the currently visible
// rows.
func TestEraseSavedLinesPreservesVisibleScreen(t *testing.T) {
	e := termemu.NewEmulator(2, 10)
	for i := 0; i < 20; i++ {
		e.Process([]byte("line\r\n"))
	}
	before := screenText(e.Screen())

	e.Process([]byte("\x1b[3J"))

	after := screenText(e.Screen())
	assert.Equal(t, before, after)
}

// After a resize, no row in the new viewport contains residue from the
// old column width — every row is well formed at the new width.
func TestResizeReflowCoherence(t *testing.T) {
	e := termemu.NewEmulator(5, 20)
	e.Process([]byte("this is a long line that will wrap across the narrower width\r\nshort"))

	e.Resize(5, 10)

	s := e.Screen()
	for _, row := range s.Rows {
		assert.LessOrEqual(t, len(row), 10)
	}
}

func TestResize_PreservesTrailingContent(t *testing.T) {
	e := termemu.NewEmulator(3, 10)
	e.Process([]byte("one\r\ntwo\r\nthree"))
	e.Resize(3, 10)
	rows := screenText(e.Screen())
	assert.Contains(t, rows[2], "three")
}

func TestAltScreen_TogglesAndClonesMain(t *testing.T) {
	e := termemu.NewEmulator(3, 20)
	e.Process([]byte("main content"))
	assert.False(t, e.AltActive())

	e.Process([]byte("\x1b[?1049h"))
	assert.True(t, e.AltActive())
	e.Process([]byte("alt content"))

	main := e.CloneMainScreen()
	var runes []rune
	for _, c := range main.Row(0) {
		runes = append(runes, c.Rune)
	}
	assert.Contains(t, string(runes), "main content")

	e.Process([]byte("\x1b[?1049l"))
	assert.False(t, e.AltActive())
	rows := screenText(e.Screen())
	assert.Contains(t, rows[0], "main content")
}

func TestModes_BracketedPasteAndMouse(t *testing.T) {
	e := termemu.NewEmulator(3, 10)
	e.Process([]byte("\x1b[?2004h\x1b[?1000h\x1b[?1006h"))
	assert.True(t, e.BracketedPaste())
	mode, sgr := e.MouseMode()
	assert.Equal(t, 1000, mode)
	assert.True(t, sgr)

	e.Process([]byte("\x1b[?1000l"))
	mode, _ = e.MouseMode()
	assert.Equal(t, 0, mode)
}

func TestModes_CursorKeyAndKeypad(t *testing.T) {
	e := termemu.NewEmulator(3, 10)
	e.Process([]byte("\x1b[?1h\x1b="))
	assert.True(t, e.CursorKeyMode())
	assert.True(t, e.KeypadApplication())

	e.Process([]byte("\x1b[?1l\x1b>"))
	assert.False(t, e.CursorKeyMode())
	assert.False(t, e.KeypadApplication())
}

func TestSGR_SetsAttributesAndColor(t *testing.T) {
	e := termemu.NewEmulator(2, 10)
	e.Process([]byte("\x1b[1;31mred"))
	s := e.Screen()
	cell := s.Rows[0][0]
	assert.Equal(t, termemu.AttrBold, cell.Attrs&termemu.AttrBold)
	assert.Equal(t, "ansi:1", cell.Fg)
}

func TestSerializeRestoreSequence_RoundTripsIntoFreshEmulator(t *testing.T) {
	src := termemu.NewEmulator(4, 10)
	src.Process([]byte("\x1b[1;32mhello\x1b[0m\r\nworld"))

	seq := src.SerializeRestoreSequence()
	require.NotEmpty(t, seq)

	dst := termemu.NewEmulator(4, 10)
	dst.Process(seq)

	assert.Equal(t, screenText(src.Screen()), screenText(dst.Screen()))
}

func TestSerializeRestoreSequence_IncludesAltScreenWhenActive(t *testing.T) {
	e := termemu.NewEmulator(3, 10)
	e.Process([]byte("main\x1b[?1049halt"))

	seq := e.SerializeRestoreSequence()

	dst := termemu.NewEmulator(3, 10)
	dst.Process(seq)
	assert.True(t, dst.AltActive())
	rows := screenText(dst.Screen())
	assert.Contains(t, rows[0], "alt")
}
