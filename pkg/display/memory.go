package display

import (
	"github.com/railboard/railboard/pkg/fontmetrics"
)

// TextOp records one DrawText call on a buffer, for test assertions.
type TextOp struct {
	X, Y int
	Text string
}

// Memory is an in-memory double-buffered Canvas used by tests and
// headless runs. Text draws fill the glyph bounding box rather than
// real glyph bitmaps; the scheduler only cares about geometry, and the
// op log carries the text itself.
type Memory struct {
	width, height int

	front, back []bool

	frontOps, backOps []TextOp
	swaps             int
}

func NewMemory(width, height int) *Memory {
	return &Memory{
		width:  width,
		height: height,
		front:  make([]bool, width*height),
		back:   make([]bool, width*height),
	}
}

func (c *Memory) Width() int  { return c.width }
func (c *Memory) Height() int { return c.height }

func (c *Memory) SetPixel(x, y int, on bool) {
	if x < 0 || x >= c.width || y < 0 || y >= c.height {
		return
	}
	c.back[y*c.width+x] = on
}

func (c *Memory) DrawText(m *fontmetrics.Measurer, x, y int, text string) int {
	font := m.Font()
	top := y - font.Baseline()
	width := m.TextWidth(text)

	for px := x; px < x+width; px++ {
		for py := top; py < top+font.Height(); py++ {
			c.SetPixel(px, py, true)
		}
	}

	c.backOps = append(c.backOps, TextOp{X: x, Y: y, Text: text})
	return width
}

func (c *Memory) Clear() {
	for i := range c.back {
		c.back[i] = false
	}
	c.backOps = c.backOps[:0]
}

// SwapOnVSync exchanges the buffers without copying: after a swap the
// back buffer holds the frame from two swaps ago, which is exactly the
// hardware behaviour that forces the scheduler's two-pass redraws.
func (c *Memory) SwapOnVSync() {
	c.front, c.back = c.back, c.front
	c.frontOps, c.backOps = c.backOps, c.frontOps
	c.backOps = c.backOps[:0]
	c.swaps++
}

// Pixel reads the visible buffer. Out-of-bounds reads report false.
func (c *Memory) Pixel(x, y int) bool {
	if x < 0 || x >= c.width || y < 0 || y >= c.height {
		return false
	}
	return c.front[y*c.width+x]
}

// VisibleOps returns the DrawText calls making up the last presented
// frame.
func (c *Memory) VisibleOps() []TextOp { return c.frontOps }

// Swaps counts SwapOnVSync calls since construction.
func (c *Memory) Swaps() int { return c.swaps }
