package display

import (
	"io"
	"strings"
)

// Terminal renders the matrix as block characters, one frame per
// swap. It shares the Memory buffers so draws behave exactly like the
// headless canvas.
type Terminal struct {
	*Memory
	out io.Writer
}

func NewTerminal(out io.Writer, width, height int) *Terminal {
	return &Terminal{
		Memory: NewMemory(width, height),
		out:    out,
	}
}

func (t *Terminal) SwapOnVSync() {
	t.Memory.SwapOnVSync()

	var frame strings.Builder
	// Cursor home rather than a full clear keeps the frame steady.
	frame.WriteString("\033[H")
	for y := 0; y < t.Height(); y++ {
		for x := 0; x < t.Width(); x++ {
			if t.Pixel(x, y) {
				frame.WriteString("█")
			} else {
				frame.WriteByte(' ')
			}
		}
		frame.WriteByte('\n')
	}
	io.WriteString(t.out, frame.String())
}

var _ Canvas = (*Terminal)(nil)
