package fontmetrics

// Font describes the metrics of a fixed bitmap font: the pixel width of
// every single-byte character plus the vertical geometry needed to
// clear and position a row of text. Glyph rendering itself belongs to
// the display layer; this package only measures.
type Font struct {
	widths   [256]int
	height   int
	baseline int
}

// NewFont builds a Font from a character width table. Widths for
// characters absent from the table default to zero.
func NewFont(widths map[byte]int, height, baseline int) *Font {
	f := &Font{height: height, baseline: baseline}
	for c, w := range widths {
		f.widths[c] = w
	}
	return f
}

// MonoFont returns a font where every printable character has the same
// advance width. Control characters measure zero.
func MonoFont(charWidth, height, baseline int) *Font {
	f := &Font{height: height, baseline: baseline}
	for c := 32; c < 256; c++ {
		f.widths[c] = charWidth
	}
	return f
}

func (f *Font) CharWidth(c byte) int { return f.widths[c] }
func (f *Font) Height() int          { return f.height }
func (f *Font) Baseline() int        { return f.baseline }
