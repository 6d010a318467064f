// Package emulator drives a grid.Grid and cell.StyleTable from a raw
// PTY byte stream, emitting a classified update.Update for every
// mutation. Writes go through the shared grid cache rather than a
// private 2D slice, so that a host synchronizer and any number of
// viewer caches converge on the same sequenced state.
package emulator

import (
	"sync"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/grid"
	"github.com/beachsh/beach/pkg/update"
)

// Emulator parses a PTY's output and reflects it into a Grid, emitting
// Updates to a Broadcaster as it goes. One Emulator exists per host
// terminal session.
type Emulator struct {
	mu sync.Mutex

	grid        *grid.Grid
	styles      *cell.StyleTable
	parser      *Parser
	bcast       *update.Broadcaster
	historyRows int
	cols        int
	rows        int

	curRow uint64 // absolute row
	curCol int
	topRow uint64 // absolute row id of viewport's first row

	style cell.Style

	title string
}

// New creates an Emulator over a freshly allocated Grid sized
// cols×historyRows, with rows being the visible viewport height
// (historyRows >= rows).
func New(cols, rows, historyRows int, styles *cell.StyleTable, bcast *update.Broadcaster) *Emulator {
	if historyRows < rows {
		historyRows = rows
	}
	e := &Emulator{
		grid:        grid.New(cols, historyRows),
		styles:      styles,
		bcast:       bcast,
		historyRows: historyRows,
		cols:        cols,
		rows:        rows,
	}
	e.parser = NewParser(e)
	return e
}

// Grid exposes the underlying cache for snapshot reads (the
// synchronizer's Handshake/Snapshot phases read directly from it).
func (e *Emulator) Grid() *grid.Grid { return e.grid }

// Title returns the most recent OSC 0/2 window title.
func (e *Emulator) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.title
}

// Write feeds raw PTY output through the parser. Safe for a single
// writer goroutine; concurrent readers use Grid()'s own locking.
func (e *Emulator) Write(data []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.parser.Parse(data)
	return len(data), nil
}

// Resize changes the viewport size, resizing the underlying grid and
// clamping the cursor.
func (e *Emulator) Resize(cols, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rows > e.historyRows {
		e.historyRows = rows
	}
	e.grid.Resize(cols, e.historyRows)
	e.cols = cols
	e.rows = rows

	if e.curCol >= cols {
		e.curCol = cols - 1
	}
	bottom := e.topRow + uint64(rows) - 1
	if e.curRow > bottom {
		e.curRow = bottom
	}
	e.publishCursor()
}

func (e *Emulator) publishCursor() {
	seq := e.grid.NextSeq()
	e.grid.SetCursor(grid.Cursor{Row: e.curRow, Col: e.curCol, Seq: seq, Visible: true})
	e.bcast.Publish(update.NewCursor(e.curRow, e.curCol, seq, true, false))
}

func (e *Emulator) writeCell(row uint64, col int, r rune) {
	id, _ := e.styles.Intern(e.style)
	seq := e.grid.NextSeq()
	packed := cell.Pack(r, id)
	if res, err := e.grid.WriteCellIfNewer(row, col, seq, packed); err == nil && res == grid.Written {
		e.bcast.Publish(update.NewCell(row, uint64(col), seq, packed))
	}
}

func (e *Emulator) print(r rune) {
	if e.curCol < e.cols {
		e.writeCell(e.curRow, e.curCol, r)
	}
	e.curCol++
	if e.curCol >= e.cols {
		e.curCol = 0
		e.lineFeed()
	}
	e.publishCursor()
}

// lineFeed advances the cursor to the next row, scrolling the viewport
// (and evicting history beyond the configured bound) when the cursor
// is already at the bottom.
func (e *Emulator) lineFeed() {
	bottom := e.topRow + uint64(e.rows) - 1
	if e.curRow < bottom {
		e.curRow++
		return
	}
	e.topRow++
	e.curRow++
	e.evictIfNeeded()
}

// evictIfNeeded advances the grid's base row when the viewport has
// scrolled far enough that keeping every row since baseRow would
// exceed historyRows, and publishes the resulting Trim.
func (e *Emulator) evictIfNeeded() {
	var want uint64
	rows := uint64(e.rows)
	hist := uint64(e.historyRows)
	if e.topRow+rows > hist {
		want = e.topRow + rows - hist
	}
	before := e.grid.BaseRow()
	if want > before {
		seq := e.grid.NextSeq()
		e.grid.Trim(want, seq)
		e.bcast.Publish(update.NewTrim(before, want-before, seq))
	}
}

func (e *Emulator) execute(b byte) {
	switch b {
	case '\r':
		e.curCol = 0
	case '\n':
		e.lineFeed()
	case '\b':
		if e.curCol > 0 {
			e.curCol--
		}
	case '\t':
		e.curCol = ((e.curCol / 8) + 1) * 8
		if e.curCol >= e.cols {
			e.curCol = e.cols - 1
		}
	}
	e.publishCursor()
}

func (e *Emulator) csi(params []int, intermediate []byte, final byte) {
	switch final {
	case 'A':
		e.moveCursorRow(-param(params, 0, 1))
	case 'B':
		e.moveCursorRow(param(params, 0, 1))
	case 'C':
		e.moveCursorCol(param(params, 0, 1))
	case 'D':
		e.moveCursorCol(-param(params, 0, 1))
	case 'H', 'f':
		row := param(params, 0, 1)
		col := param(params, 1, 1)
		e.curRow = e.topRow + clampU(uint64(row-1), uint64(e.rows-1))
		e.curCol = clampI(col-1, e.cols-1)
	case 'J':
		e.eraseDisplay(param(params, 0, 0))
	case 'K':
		e.eraseLine(param(params, 0, 0))
	case 'm':
		e.handleSGR(params)
	}
	e.publishCursor()
}

func param(params []int, i, def int) int {
	if i < len(params) && params[i] > 0 {
		return params[i]
	}
	return def
}

func clampI(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

func clampU(v, max uint64) uint64 {
	if v > max {
		return max
	}
	return v
}

func (e *Emulator) moveCursorRow(delta int) {
	bottom := e.topRow + uint64(e.rows) - 1
	if delta < 0 {
		n := uint64(-delta)
		if n > e.curRow-e.topRow {
			e.curRow = e.topRow
		} else {
			e.curRow -= n
		}
	} else {
		e.curRow += uint64(delta)
		if e.curRow > bottom {
			e.curRow = bottom
		}
	}
}

func (e *Emulator) moveCursorCol(delta int) {
	e.curCol = clampI(e.curCol+delta, e.cols-1)
}

func (e *Emulator) eraseDisplay(mode int) {
	switch mode {
	case 0:
		e.fillRect(e.curRow, uint64(e.curCol), e.curRow+1, uint64(e.cols))
		e.fillRect(e.curRow+1, 0, e.topRow+uint64(e.rows), uint64(e.cols))
	case 1:
		e.fillRect(e.topRow, 0, e.curRow, uint64(e.cols))
		e.fillRect(e.curRow, 0, e.curRow+1, uint64(e.curCol)+1)
	case 2, 3:
		e.fillRect(e.topRow, 0, e.topRow+uint64(e.rows), uint64(e.cols))
	}
}

func (e *Emulator) eraseLine(mode int) {
	switch mode {
	case 0:
		e.fillRect(e.curRow, uint64(e.curCol), e.curRow+1, uint64(e.cols))
	case 1:
		e.fillRect(e.curRow, 0, e.curRow+1, uint64(e.curCol)+1)
	case 2:
		e.fillRect(e.curRow, 0, e.curRow+1, uint64(e.cols))
	}
}

func (e *Emulator) fillRect(r0, c0, r1, c1 uint64) {
	id, _ := e.styles.Intern(e.style)
	seq := e.grid.NextSeq()
	written, _, err := e.grid.FillRectIfNewer(r0, c0, r1, c1, seq, cell.Pack(' ', id))
	if err == nil && written > 0 {
		e.bcast.Publish(update.NewRect(r0, c0, r1, c1, seq, cell.Pack(' ', id)))
	}
}

func (e *Emulator) handleSGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	for i := 0; i < len(params); i++ {
		switch params[i] {
		case 0:
			e.style = cell.DefaultStyle
		case 1:
			e.style.Attrs |= cell.AttrBold
		case 3:
			e.style.Attrs |= cell.AttrItalic
		case 4:
			e.style.Attrs |= cell.AttrUnderline
		case 7:
			e.style.Attrs |= cell.AttrReverse
		case 2:
			e.style.Attrs |= cell.AttrDim
		case 22:
			e.style.Attrs &^= cell.AttrBold | cell.AttrDim
		case 23:
			e.style.Attrs &^= cell.AttrItalic
		case 24:
			e.style.Attrs &^= cell.AttrUnderline
		case 27:
			e.style.Attrs &^= cell.AttrReverse
		case 39:
			e.style.Fg = cell.DefaultColor
		case 49:
			e.style.Bg = cell.DefaultColor
		case 30, 31, 32, 33, 34, 35, 36, 37:
			e.style.Fg = cell.Indexed(uint8(params[i] - 30))
		case 40, 41, 42, 43, 44, 45, 46, 47:
			e.style.Bg = cell.Indexed(uint8(params[i] - 40))
		case 90, 91, 92, 93, 94, 95, 96, 97:
			e.style.Fg = cell.Indexed(uint8(params[i]-90) + 8)
		case 100, 101, 102, 103, 104, 105, 106, 107:
			e.style.Bg = cell.Indexed(uint8(params[i]-100) + 8)
		case 38:
			if n := e.consumeExtendedColor(params, i); n > 0 {
				e.style.Fg = e.extendedColor(params, i)
				i += n
			}
		case 48:
			if n := e.consumeExtendedColor(params, i); n > 0 {
				e.style.Bg = e.extendedColor(params, i)
				i += n
			}
		}
	}
}

// consumeExtendedColor returns how many extra params the 38/48
// sub-sequence starting at i consumes: 2 for indexed (5;n), 4 for
// true-color (2;r;g;b).
func (e *Emulator) consumeExtendedColor(params []int, i int) int {
	if i+1 >= len(params) {
		return 0
	}
	switch params[i+1] {
	case 5:
		if i+2 < len(params) {
			return 2
		}
	case 2:
		if i+4 < len(params) {
			return 4
		}
	}
	return 0
}

func (e *Emulator) extendedColor(params []int, i int) cell.Color {
	switch params[i+1] {
	case 5:
		return cell.Indexed(uint8(params[i+2]))
	case 2:
		return cell.RGB(uint8(params[i+2]), uint8(params[i+3]), uint8(params[i+4]))
	default:
		return cell.DefaultColor
	}
}

func (e *Emulator) osc(params [][]byte) {
	if len(params) < 2 {
		return
	}
	switch string(params[0]) {
	case "0", "2":
		e.title = string(params[1])
	}
}

func (e *Emulator) escape(intermediate []byte, final byte) {
	switch final {
	case 'c': // RIS - full reset
		e.style = cell.DefaultStyle
		e.curRow, e.curCol = e.topRow, 0
	}
}
