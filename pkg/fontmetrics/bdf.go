package fontmetrics

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LoadBDF reads the advance widths and vertical metrics out of a BDF
// font file. Glyph bitmaps are ignored, the measurer only needs
// geometry.
func LoadBDF(path string) (*Font, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open font: %w", err)
	}
	defer f.Close()

	font, err := ParseBDF(f)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", path, err)
	}
	return font, nil
}

func ParseBDF(r io.Reader) (*Font, error) {
	widths := make(map[byte]int)
	height, descent := 0, 0

	var encoding, dwidth int
	encoding = -1

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "FONTBOUNDINGBOX":
			if len(fields) < 5 {
				return nil, fmt.Errorf("malformed FONTBOUNDINGBOX")
			}
			height, _ = strconv.Atoi(fields[2])
			yoff, _ := strconv.Atoi(fields[4])
			descent = -yoff
		case "STARTCHAR":
			encoding = -1
			dwidth = 0
		case "ENCODING":
			if len(fields) >= 2 {
				encoding, _ = strconv.Atoi(fields[1])
			}
		case "DWIDTH":
			if len(fields) >= 2 {
				dwidth, _ = strconv.Atoi(fields[1])
			}
		case "ENDCHAR":
			if encoding >= 0 && encoding < 256 && dwidth > 0 {
				widths[byte(encoding)] = dwidth
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if height == 0 || len(widths) == 0 {
		return nil, fmt.Errorf("no usable glyph metrics")
	}
	if descent < 0 {
		descent = 0
	}

	return NewFont(widths, height, height-descent), nil
}
