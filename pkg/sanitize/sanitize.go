package sanitize

// Markup handling for free-text messages coming out of the departures
// feed. The feed wraps its passenger messages in a small amount of
// XHTML (paragraphs, links) and encodes a handful of named entities.
// We only ever want the visible text, so this is a single left-to-right
// pass that drops tag content, strips raw line breaks and decodes the
// fixed entity set - not a general HTML parser.

type entity struct {
	name        string
	replacement byte
}

// Ordered by how often each entity shows up in real messages.
var entities = []entity{
	{"&quot;", '"'},
	{"&amp;", '&'},
	{"&lt;", '<'},
	{"&gt;", '>'},
	{"&#39;", '\''},
	{"&nbsp;", ' '},
}

// Clean returns text with markup tags removed, newlines stripped and
// the known entities decoded. The input is untouched. Unknown entity
// sequences are passed through as-is, which also makes Clean idempotent
// on its own output.
func Clean(text string) string {
	if text == "" {
		return ""
	}
	return string(clean([]byte(text), make([]byte, 0, len(text))))
}

// CleanInPlace is the allocation-free variant: it rewrites b's backing
// array and returns the shortened slice. Callers must not rely on the
// original contents of b afterwards.
func CleanInPlace(b []byte) []byte {
	return clean(b, b[:0])
}

// StripEntities decodes the known entities without touching tags or
// line breaks.
func StripEntities(text string) string {
	if text == "" {
		return ""
	}
	src := []byte(text)
	out := make([]byte, 0, len(src))
	for i := 0; i < len(src); i++ {
		c := src[i]
		if c == '&' {
			if rep, n := matchEntity(src[i:]); n > 0 {
				out = append(out, rep)
				i += n - 1
				continue
			}
		}
		out = append(out, c)
	}
	return string(out)
}

// clean writes the sanitized form of src into dst. dst may alias
// src[:0]: the write position never overtakes the read position because
// every decoded entity is shorter than its source form.
func clean(src, dst []byte) []byte {
	inTag := false
	for i := 0; i < len(src); i++ {
		c := src[i]

		switch {
		case c == '<':
			inTag = true
		case c == '>':
			inTag = false
		case inTag:
			// Tag content is discarded wholesale.
		case c == '&':
			if rep, n := matchEntity(src[i:]); n > 0 {
				dst = append(dst, rep)
				i += n - 1
			} else {
				dst = append(dst, c)
			}
		case c != '\n' && c != '\r':
			dst = append(dst, c)
		}
	}
	return dst
}

// matchEntity reports the replacement byte and consumed length for a
// known entity at the start of src, or (0, 0) when none matches.
func matchEntity(src []byte) (byte, int) {
	for _, e := range entities {
		if len(src) >= len(e.name) && string(src[:len(e.name)]) == e.name {
			return e.replacement, len(e.name)
		}
	}
	return 0, 0
}
