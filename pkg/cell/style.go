package cell

import "sync"

// ColorKind discriminates the three forms a Color can take.
type ColorKind uint8

const (
	ColorDefault ColorKind = iota
	ColorIndexed
	ColorRGB
)

// Color is one of Default, Indexed(u8), or RGB(r,g,b).
type Color struct {
	Kind  ColorKind
	Index uint8
	R, G, B uint8
}

// DefaultColor is the zero-value terminal-default color.
var DefaultColor = Color{Kind: ColorDefault}

// Indexed builds an indexed (256-color palette) Color.
func Indexed(i uint8) Color { return Color{Kind: ColorIndexed, Index: i} }

// RGB builds a true-color Color.
func RGB(r, g, b uint8) Color { return Color{Kind: ColorRGB, R: r, G: g, B: b} }

// Attrs is a bitset of text attributes.
type Attrs uint8

const (
	AttrBold Attrs = 1 << iota
	AttrItalic
	AttrUnderline
	AttrReverse
	AttrBlink
	AttrStrike
	AttrDim
)

// Style is the full visual description referenced by a StyleId.
type Style struct {
	Fg    Color
	Bg    Color
	Attrs Attrs
}

// DefaultStyle is the style interned at id 0.
var DefaultStyle = Style{Fg: DefaultColor, Bg: DefaultColor}

// StyleTable is a process-wide, append-only mapping from StyleId to
// Style. Ids are allocated densely starting at 1; id 0 is always the
// reserved default style. Interning is deterministic within a process
// but ids are not portable across sessions.
type StyleTable struct {
	mu      sync.RWMutex
	byStyle map[Style]StyleId
	byId    []Style // index 0 == DefaultStyle
}

// NewStyleTable creates a table pre-seeded with the default style at id 0.
func NewStyleTable() *StyleTable {
	t := &StyleTable{
		byStyle: make(map[Style]StyleId),
		byId:    []Style{DefaultStyle},
	}
	t.byStyle[DefaultStyle] = 0
	return t
}

// Intern returns the id for style, allocating a new one on first use.
// newlyCreated reports whether this call assigned a fresh id.
func (t *StyleTable) Intern(s Style) (id StyleId, newlyCreated bool) {
	t.mu.RLock()
	if id, ok := t.byStyle[s]; ok {
		t.mu.RUnlock()
		return id, false
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byStyle[s]; ok {
		return id, false
	}
	id = StyleId(len(t.byId))
	t.byId = append(t.byId, s)
	t.byStyle[s] = id
	return id, true
}

// Lookup returns the style for id. Undefined ids yield DefaultStyle and
// ok=false; callers are expected to log that case.
func (t *StyleTable) Lookup(id StyleId) (Style, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.byId) {
		return DefaultStyle, false
	}
	return t.byId[id], true
}

// Define forces style to be resident at exactly id, used by the viewer
// side when applying a Style update from the wire (ids are assigned by
// the host; the viewer never interns on its own). If id already has a
// different style, the table entry is replaced.
func (t *StyleTable) Define(id StyleId, s Style) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for int(id) >= len(t.byId) {
		t.byId = append(t.byId, DefaultStyle)
	}
	old := t.byId[id]
	if old != s {
		delete(t.byStyle, old)
	}
	t.byId[id] = s
	t.byStyle[s] = id
}

// Len returns the number of interned styles, including the default.
func (t *StyleTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byId)
}
