package termemu

import "fmt"

// Cell.Fg/Bg hold one of three opaque spec shapes, chosen so that a
// renderer can tell at a glance which SGR family produced a color:
// "ansi:N" for the 16-color palette, "idx:N" for the 256-color palette,
// and "#RRGGBB" for truecolor.

func ansiColorName(n int) string {
	return fmt.Sprintf("ansi:%d", n)
}

func indexedColorName(n int) string {
	return fmt.Sprintf("idx:%d", n)
}

func rgbColorName(r, g, b int) string {
	return fmt.Sprintf("#%02x%02x%02x", r&0xff, g&0xff, b&0xff)
}
