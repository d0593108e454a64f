package fontmetrics

// Measurer caches text measurements for one font. Character widths are
// copied into a flat table at construction; whole-string widths are
// memoized in a fixed-size cache because the render loop measures the
// same destination and message strings thousands of times between feed
// refreshes.
//
// The string cache is a fixed slot table with linear probing and
// oldest-access eviction rather than a map plus list: capacity is tiny
// (a board displays a few dozen distinct strings), entries never need
// deleting individually, and a flat table keeps the per-frame lookup
// allocation free.

const defaultCacheSlots = 64

type slot struct {
	key    string
	width  int
	access uint64
	valid  bool
}

type Measurer struct {
	font    *Font
	widths  [256]int
	slots   []slot
	counter uint64
}

// Stats describes string-cache occupancy, for diagnostics.
type Stats struct {
	Slots int
	Used  int
}

// NewMeasurer builds a Measurer over font with the default string-cache
// capacity.
func NewMeasurer(font *Font) *Measurer {
	return NewMeasurerSize(font, defaultCacheSlots)
}

// NewMeasurerSize builds a Measurer with an explicit string-cache
// capacity. capacity must be at least 1.
func NewMeasurerSize(font *Font, capacity int) *Measurer {
	if capacity < 1 {
		capacity = 1
	}
	m := &Measurer{
		font:  font,
		slots: make([]slot, capacity),
	}
	for i := 0; i < 256; i++ {
		m.widths[i] = font.CharWidth(byte(i))
	}
	return m
}

func (m *Measurer) Font() *Font { return m.font }

// CharWidth returns the cached advance width for a single byte.
func (m *Measurer) CharWidth(c byte) int { return m.widths[c] }

// TextWidth returns the pixel width of text, consulting the memo cache
// first and summing per-character widths on a miss.
func (m *Measurer) TextWidth(text string) int {
	if w, ok := m.lookup(text); ok {
		return w
	}

	width := 0
	for i := 0; i < len(text); i++ {
		width += m.widths[text[i]]
	}
	m.store(text, width)
	return width
}

// Reset discards all memoized string widths.
func (m *Measurer) Reset() {
	for i := range m.slots {
		m.slots[i].valid = false
	}
	m.counter = 0
}

// CacheStats reports slot usage.
func (m *Measurer) CacheStats() Stats {
	s := Stats{Slots: len(m.slots)}
	for i := range m.slots {
		if m.slots[i].valid {
			s.Used++
		}
	}
	return s
}

func (m *Measurer) hash(key string) int {
	h := uint64(5381)
	for i := 0; i < len(key); i++ {
		h = h*33 + uint64(key[i])
	}
	return int(h % uint64(len(m.slots)))
}

func (m *Measurer) lookup(key string) (int, bool) {
	index := m.hash(key)
	for i := 0; i < len(m.slots); i++ {
		probe := &m.slots[(index+i)%len(m.slots)]
		if !probe.valid {
			return 0, false
		}
		if probe.key == key {
			m.counter++
			probe.access = m.counter
			return probe.width, true
		}
	}
	return 0, false
}

func (m *Measurer) store(key string, width int) {
	index := m.hash(key)
	for i := 0; i < len(m.slots); i++ {
		probe := &m.slots[(index+i)%len(m.slots)]
		if !probe.valid || probe.key == key {
			m.counter++
			*probe = slot{key: key, width: width, access: m.counter, valid: true}
			return
		}
	}

	// Table full: evict the entry touched longest ago.
	lru := 0
	oldest := m.slots[0].access
	for i := 1; i < len(m.slots); i++ {
		if m.slots[i].access < oldest {
			oldest = m.slots[i].access
			lru = i
		}
	}
	m.counter++
	m.slots[lru] = slot{key: key, width: width, access: m.counter, valid: true}
}
