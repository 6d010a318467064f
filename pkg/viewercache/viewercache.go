// Package viewercache mirrors the host's grid cache and style table on
// the viewer side and renders a display buffer from it. It applies
// idempotent, seq-monotonic Updates against a shared pkg/grid.Grid
// rather than owning and mutating its own 2D array directly, since the
// viewer never parses ANSI itself — it only replays the updates the
// host's emulator already classified.
package viewercache

import (
	"time"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/grid"
	"github.com/beachsh/beach/pkg/update"
	"github.com/beachsh/beach/pkg/wire"
)

// GapThreshold bounds how far a Delta's watermark may advance past the
// last applied seq before the cache suspects a dropped Output frame
// and requests backfill for the rows that frame touched. Chosen well
// above DefaultDeltaBudget so a single large, legitimate delta never
// triggers a spurious backfill.
const GapThreshold = 1024

// BackfillTimeout is how long a pending backfill request waits before
// it may be re-issued.
const BackfillTimeout = 5 * time.Second

type pendingBackfill struct {
	startRow uint64
	count    uint32
	deadline time.Time
}

// RenderedCell is one display-ready cell: its glyph plus resolved
// style (not a style id — the renderer has already looked it up).
type RenderedCell struct {
	Rune  rune
	Style cell.Style
}

// Frame is a rendered projection of [ViewportTop, ViewportTop+len(Rows)).
type Frame struct {
	ViewportTop uint64
	Rows        [][]RenderedCell
	Cursor      grid.Cursor
	FollowTail  bool
}

// Cache mirrors one subscription's grid/style state on the viewer
// side, applying the same seq-monotonic rules as the host cache, plus
// viewer-only state: viewport, follow_tail, and pending backfills.
type Cache struct {
	grid   *grid.Grid
	styles *cell.StyleTable

	styleSeq map[cell.StyleId]grid.Seq

	lastAppliedSeq grid.Seq
	pendingSnap    map[update.Lane]bool

	viewportTop  uint64
	viewportRows int
	followTail   bool

	nextRequestID uint64
	pending       map[uint64]pendingBackfill
}

// New creates an empty Cache sized for a Grid frame's dimensions.
func New(cols, historyRows int) *Cache {
	return &Cache{
		grid:        grid.New(cols, historyRows),
		styles:      cell.NewStyleTable(),
		styleSeq:    make(map[cell.StyleId]grid.Seq),
		pendingSnap: map[update.Lane]bool{update.LaneForeground: true, update.LaneRecent: true, update.LaneHistory: true},
		followTail:  true,
		pending:     make(map[uint64]pendingBackfill),
	}
}

// Grid exposes the mirrored grid, e.g. for diagnostics.
func (c *Cache) Grid() *grid.Grid { return c.grid }

// Styles exposes the mirrored style table.
func (c *Cache) Styles() *cell.StyleTable { return c.styles }

// SnapshotInProgress reports whether any lane's Snapshot phase hasn't
// yet received its SnapshotComplete — feeds a progress indicator, since
// Snapshot and Delta frames are otherwise indistinguishable at the
// cache level.
func (c *Cache) SnapshotInProgress() bool { return len(c.pendingSnap) > 0 }

// SetViewport pins the rendering window and disables follow_tail only
// if the caller is responding to user scroll (callers choose via
// SetFollowTail separately; SetViewport alone just moves the window).
func (c *Cache) SetViewport(top uint64, rows int) {
	c.viewportTop = top
	c.viewportRows = rows
}

// SetFollowTail toggles auto-advance-on-delta. Any user scroll input
// should call SetFollowTail(false).
func (c *Cache) SetFollowTail(follow bool) { c.followTail = follow }

// FollowTail reports the current follow_tail state.
func (c *Cache) FollowTail() bool { return c.followTail }

// RequestViewportClear re-pins to the tail, per ViewportCommand::Clear,
// and returns the ClientFrame to send; the caller still owes the host
// a fresh foreground snapshot (triggered on the host side once it
// receives this frame).
func (c *Cache) RequestViewportClear() wire.ClientFrame {
	c.followTail = true
	return wire.ClientFrame{Kind: wire.CFViewportCommand, Command: wire.ViewportClear}
}

// ApplyFrame applies f to the cache and returns a RequestBackfill
// ClientFrame if applying it revealed a gap, or nil otherwise.
func (c *Cache) ApplyFrame(f wire.HostFrame) *wire.ClientFrame {
	switch f.Kind {
	case wire.HFGrid:
		rows, cols := c.grid.Dims()
		if int(f.Cols) != cols || int(f.HistoryRows) != rows {
			c.grid.Resize(int(f.Cols), int(f.HistoryRows))
		}
		return nil

	case wire.HFSnapshot:
		c.applyUpdates(f.Updates)
		c.applyCursor(f.Cursor)
		c.advanceWatermark(f.Watermark)
		return nil

	case wire.HFSnapshotComplete:
		delete(c.pendingSnap, f.Lane)
		return nil

	case wire.HFDelta:
		req := c.checkGap(f)
		c.applyUpdates(f.Updates)
		c.applyCursor(f.Cursor)
		c.advanceWatermark(f.Watermark)
		if c.followTail {
			c.advanceTail(f.Updates)
		}
		return req

	case wire.HFHistoryBackfill:
		delete(c.pending, f.RequestID)
		c.applyUpdates(f.Updates)
		c.applyCursor(f.Cursor)
		return nil

	case wire.HFCursor:
		c.applyCursor(f.Cursor)
		return nil

	default:
		return nil
	}
}

func (c *Cache) applyCursor(cur *grid.Cursor) {
	if cur != nil {
		c.grid.SetCursor(*cur)
	}
}

func (c *Cache) advanceWatermark(watermark uint64) {
	if watermark > uint64(c.lastAppliedSeq) {
		c.lastAppliedSeq = grid.Seq(watermark)
	}
}

// checkGap implements gap detection: a watermark
// older than what's already applied is accepted as an out-of-order
// frame; one that jumps further than GapThreshold ahead, touching rows
// outside the viewer's pinned viewport, triggers a RequestBackfill for
// the span those updates covered. A gap whose updates all fall inside
// the viewport is left for later deltas to fill.
func (c *Cache) checkGap(f wire.HostFrame) *wire.ClientFrame {
	if f.Watermark < uint64(c.lastAppliedSeq) {
		return nil
	}
	if f.Watermark-uint64(c.lastAppliedSeq) <= GapThreshold {
		return nil
	}
	startRow, endRow, ok := updateRowSpan(f.Updates)
	if !ok || (startRow >= c.viewportTop && endRow <= c.viewportTop+uint64(c.viewportRows)) {
		return nil
	}

	c.nextRequestID++
	id := c.nextRequestID
	count := uint32(endRow - startRow)
	c.pending[id] = pendingBackfill{startRow: startRow, count: count, deadline: time.Now().Add(BackfillTimeout)}
	return &wire.ClientFrame{Kind: wire.CFRequestBackfill, RequestID: id, StartRow: startRow, Count: count}
}

// ExpireStalePending drops pending backfill requests past their
// deadline, letting the caller re-issue them.
func (c *Cache) ExpireStalePending(now time.Time) []uint64 {
	var expired []uint64
	for id, p := range c.pending {
		if now.After(p.deadline) {
			expired = append(expired, id)
			delete(c.pending, id)
		}
	}
	return expired
}

// advanceTail moves the viewport forward so its last row is the newest
// row the applied updates touched; it never moves the viewport back.
func (c *Cache) advanceTail(updates []update.Update) {
	if c.viewportRows <= 0 {
		return
	}
	_, end, ok := updateRowSpan(updates)
	if !ok || end <= c.viewportTop+uint64(c.viewportRows) {
		return
	}
	top := end - uint64(c.viewportRows)
	if base := c.grid.BaseRow(); top < base {
		top = base
	}
	c.viewportTop = top
}

func (c *Cache) applyUpdates(updates []update.Update) {
	for _, u := range updates {
		c.applyUpdate(u)
	}
}

func (c *Cache) applyUpdate(u update.Update) {
	switch u.Kind {
	case update.KindCell:
		c.grid.WriteCellIfNewer(u.Row, int(u.Col), u.Seq, u.Cell)
	case update.KindRect:
		c.grid.FillRectIfNewer(u.Row0, u.Col0, u.Row1, u.Col1, u.Seq, u.Cell)
	case update.KindRow:
		for i, cl := range u.Cells {
			c.grid.WriteCellIfNewer(u.Row, i, u.Seq, cl)
		}
	case update.KindRowSegment:
		for i, cl := range u.Cells {
			c.grid.WriteCellIfNewer(u.Row, int(u.StartCol)+i, u.Seq, cl)
		}
	case update.KindTrim:
		c.grid.Trim(u.StartRow+u.Count, u.Seq)
		c.cancelPendingBelow(u.StartRow + u.Count)
	case update.KindStyle:
		if seq, ok := c.styleSeq[u.StyleId]; !ok || u.Seq >= seq {
			c.styles.Define(u.StyleId, u.Style)
			c.styleSeq[u.StyleId] = u.Seq
		}
	case update.KindCursor:
		c.grid.SetCursor(grid.Cursor{Row: u.CursorRow, Col: u.CursorCol, Seq: u.Seq, Visible: u.CursorVisible, Blink: u.CursorBlink})
	}
}

// cancelPendingBelow drops any pending backfill whose requested range
// has fallen entirely below newBase: history that's been trimmed past
// is no longer worth fetching.
func (c *Cache) cancelPendingBelow(newBase uint64) {
	for id, p := range c.pending {
		if p.startRow+uint64(p.count) <= newBase {
			delete(c.pending, id)
		}
	}
}

// updateRowSpan returns the row range [row0,row1) an update's entries
// span, approximating the backfill range to request for a Delta that
// appeared to skip rows.
func updateRowSpan(updates []update.Update) (row0, row1 uint64, ok bool) {
	for _, u := range updates {
		var r0, r1 uint64
		switch u.Kind {
		case update.KindCell:
			r0, r1 = u.Row, u.Row+1
		case update.KindRect:
			r0, r1 = u.Row0, u.Row1
		case update.KindRow, update.KindRowSegment:
			r0, r1 = u.Row, u.Row+1
		case update.KindTrim:
			r0, r1 = u.StartRow, u.StartRow+u.Count
		default:
			continue
		}
		if !ok {
			row0, row1, ok = r0, r1, true
			continue
		}
		if r0 < row0 {
			row0 = r0
		}
		if r1 > row1 {
			row1 = r1
		}
	}
	return row0, row1, ok
}

// Render projects the pinned viewport into a display buffer.
func (c *Cache) Render() Frame {
	_, cols := c.grid.Dims()
	rows := make([][]RenderedCell, c.viewportRows)
	scratch := make([]cell.Packed, cols)

	for i := 0; i < c.viewportRows; i++ {
		row := c.viewportTop + uint64(i)
		line := make([]RenderedCell, cols)
		if err := c.grid.SnapshotRow(row, scratch); err == nil {
			for x, p := range scratch {
				line[x] = c.renderCell(p)
			}
		} else {
			for x := range line {
				line[x] = RenderedCell{Rune: ' '}
			}
		}
		rows[i] = line
	}

	return Frame{
		ViewportTop: c.viewportTop,
		Rows:        rows,
		Cursor:      c.grid.GetCursor(),
		FollowTail:  c.followTail,
	}
}

func (c *Cache) renderCell(p cell.Packed) RenderedCell {
	if cell.IsUnset(p) {
		return RenderedCell{Rune: ' '}
	}
	r, id := cell.Unpack(p)
	style, _ := c.styles.Lookup(id)
	return RenderedCell{Rune: r, Style: style}
}
