package display

import (
	"github.com/railboard/railboard/pkg/fontmetrics"
)

// Canvas is the drawing surface contract the render scheduler works
// against. Implementations are double buffered: drawing happens on a
// back buffer and SwapOnVSync makes it visible. Pixel writes outside
// the panel bounds are silently ignored.
type Canvas interface {
	Width() int
	Height() int

	// SetPixel turns a single pixel on or off in the back buffer.
	SetPixel(x, y int, on bool)

	// DrawText renders text with its baseline at y, starting at x, and
	// returns the advance width drawn.
	DrawText(m *fontmetrics.Measurer, x, y int, text string) int

	// Clear blanks the entire back buffer.
	Clear()

	// SwapOnVSync atomically presents the back buffer.
	SwapOnVSync()
}
