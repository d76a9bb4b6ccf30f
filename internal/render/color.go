package render

import (
	"image/color"
	"strconv"
	"strings"
)

// ParseColor reads #rgb, #rrggbb and #rrggbbaa. Anything else yields the
// default ink.
func ParseColor(s string) color.NRGBA {
	fallback := color.NRGBA{R: 0x11, G: 0x11, B: 0x11, A: 0xff}
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) == 6 {
		s += "ff"
	}
	if len(s) != 8 {
		return fallback
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return fallback
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}
}
