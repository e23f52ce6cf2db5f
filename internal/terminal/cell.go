package terminal

import "github.com/tuzig/vt10x"

// ColorMode identifies how a cell's fg/bg color value should be
// interpreted by a renderer (spec §4.5).
type ColorMode int

const (
	ColorModeDefault   ColorMode = 0
	ColorMode16        ColorMode = 1
	ColorMode256       ColorMode = 2
	ColorModeTrueColor ColorMode = 3
)

// Cell is one grid position's character plus SGR attributes (spec §3.4).
type Cell struct {
	Char   string    `json:"char"`
	FG     uint32    `json:"fg"`
	BG     uint32    `json:"bg"`
	FGMode ColorMode `json:"fgMode"`
	BGMode ColorMode `json:"bgMode"`
	Attrs  Attrs     `json:"attrs"`
}

// Attrs mirrors vt10x's glyph mode bits that a renderer cares about.
type Attrs struct {
	Bold      bool `json:"bold,omitempty"`
	Underline bool `json:"underline,omitempty"`
	Reverse   bool `json:"reverse,omitempty"`
	Italic    bool `json:"italic,omitempty"`
	Blink     bool `json:"blink,omitempty"`
}

// colorMode classifies a vt10x.Color into one of the four wire color modes.
// vt10x represents the default fg/bg as the sentinel DefaultFG/DefaultBG,
// the 16/256 ANSI palette as small integers, and truecolor as a packed
// 0xff000000|r<<16|g<<8|b value (the high byte distinguishes it from a
// palette index).
func colorMode(c vt10x.Color) (ColorMode, uint32) {
	switch {
	case c == vt10x.DefaultFG || c == vt10x.DefaultBG:
		return ColorModeDefault, 0
	case c&0xff000000 != 0:
		return ColorModeTrueColor, uint32(c) &^ 0xff000000
	case uint32(c) < 16:
		return ColorMode16, uint32(c)
	default:
		return ColorMode256, uint32(c)
	}
}

func glyphToCell(g vt10x.Glyph) Cell {
	fgMode, fg := colorMode(g.FG)
	bgMode, bg := colorMode(g.BG)

	ch := " "
	if g.Char != 0 {
		ch = string(g.Char)
	}

	return Cell{
		Char:   ch,
		FG:     fg,
		BG:     bg,
		FGMode: fgMode,
		BGMode: bgMode,
		Attrs: Attrs{
			Bold:      g.Mode&vt10x.AttrBold != 0,
			Underline: g.Mode&vt10x.AttrUnderline != 0,
			Reverse:   g.Mode&vt10x.AttrReverse != 0,
			Italic:    g.Mode&vt10x.AttrItalic != 0,
			Blink:     g.Mode&vt10x.AttrBlink != 0,
		},
	}
}
