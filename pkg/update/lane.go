package update

import "sort"

// Lane is the broadcast priority class an update is routed to. The
// synchronizer drains Foreground first, then Recent, then History, so
// that cursor-adjacent activity never waits behind a scrollback replay.
type Lane uint8

const (
	LaneForeground Lane = iota
	LaneRecent
	LaneHistory
)

func (l Lane) String() string {
	switch l {
	case LaneForeground:
		return "foreground"
	case LaneRecent:
		return "recent"
	case LaneHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Classifier assigns a Lane to each update based on its distance from
// the subscriber's current viewport. K is the number of rows above and
// below the viewport still considered "recent"; rows farther than K are
// History. The default K is 2*viewport_rows, an Open Question resolved
// in favour of erring toward Recent for typical scrollback sizes (see
// DESIGN.md).
type Classifier struct {
	K int
}

// NewClassifier builds a Classifier with the default K derived from
// viewportRows.
func NewClassifier(viewportRows int) Classifier {
	return Classifier{K: 2 * viewportRows}
}

// Classify returns the lane for an update given the subscriber's
// current viewport [viewTop, viewTop+viewportRows). Trim, Style, and
// Cursor updates are always Foreground: they are small, state-critical,
// and must never be starved by History backlog.
func (c Classifier) Classify(u Update, viewTop uint64, viewportRows int) Lane {
	switch u.Kind {
	case KindTrim, KindStyle, KindCursor:
		return LaneForeground
	}

	viewBottom := viewTop + uint64(viewportRows)

	row0, row1, ok := updateRowSpan(u)
	if !ok {
		return LaneForeground
	}

	if row1 > viewTop && row0 < viewBottom {
		return LaneForeground
	}

	k := uint64(c.K)
	lo := uint64(0)
	if viewTop > k {
		lo = viewTop - k
	}
	hi := viewBottom + k

	if row1 > lo && row0 < hi {
		return LaneRecent
	}
	return LaneHistory
}

// LaneFragment pairs a Lane with the Update fragment classified into
// it. A single input Update may produce several fragments when it
// straddles a lane boundary.
type LaneFragment struct {
	Lane   Lane
	Update Update
}

// Fragments classifies u like Classify, except a Rect spanning rows in
// more than one lane is split at the lane boundaries so that, e.g., a
// full-screen clear doesn't pull its History-range rows onto the
// Foreground budget. Cell, Row, and RowSegment updates touch a single
// absolute row and can never straddle a boundary, so they always
// produce exactly one fragment.
func (c Classifier) Fragments(u Update, viewTop uint64, viewportRows int) []LaneFragment {
	if u.Kind != KindRect {
		return []LaneFragment{{Lane: c.Classify(u, viewTop, viewportRows), Update: u}}
	}
	if u.Row0 >= u.Row1 {
		return []LaneFragment{{Lane: c.Classify(u, viewTop, viewportRows), Update: u}}
	}

	viewBottom := viewTop + uint64(viewportRows)
	k := uint64(c.K)
	lo := uint64(0)
	if viewTop > k {
		lo = viewTop - k
	}
	hi := viewBottom + k

	bounds := []uint64{u.Row0, u.Row1}
	for _, b := range [...]uint64{lo, viewTop, viewBottom, hi} {
		if b > u.Row0 && b < u.Row1 {
			bounds = append(bounds, b)
		}
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })

	frags := make([]LaneFragment, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		row0, row1 := bounds[i], bounds[i+1]
		if row0 >= row1 {
			continue
		}

		var lane Lane
		switch {
		case row1 > viewTop && row0 < viewBottom:
			lane = LaneForeground
		case row1 > lo && row0 < hi:
			lane = LaneRecent
		default:
			lane = LaneHistory
		}

		frag := u
		frag.Row0, frag.Row1 = row0, row1
		frags = append(frags, LaneFragment{Lane: lane, Update: frag})
	}
	return frags
}

// updateRowSpan returns the half-open absolute row range [row0,row1)
// an update touches, or ok=false if it has no row extent (shouldn't
// happen for Cell/Rect/Row/RowSegment).
func updateRowSpan(u Update) (row0, row1 uint64, ok bool) {
	switch u.Kind {
	case KindCell:
		return u.Row, u.Row + 1, true
	case KindRow, KindRowSegment:
		return u.Row, u.Row + 1, true
	case KindRect:
		return u.Row0, u.Row1, true
	default:
		return 0, 0, false
	}
}
