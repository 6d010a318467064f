// Package update defines the Update taxonomy emitted by the emulator
// adapter and classifies each update into a priority lane (Foreground/
// Recent/History) for the synchronizer to multiplex.
package update

import (
	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/grid"
)

// Kind discriminates the seven Update variants.
type Kind uint8

const (
	KindCell Kind = iota
	KindRect
	KindRow
	KindRowSegment
	KindTrim
	KindStyle
	KindCursor
)

// Update is one of Cell/Rect/Row/RowSegment/Trim/Style/Cursor. Only the
// fields relevant to Kind are populated; each Update is self-describing
// and is applied by the receiver purely from its content.
type Update struct {
	Kind Kind
	Seq  grid.Seq

	// Cell
	Row, Col uint64
	Cell     cell.Packed

	// Rect
	Row0, Row1, Col0, Col1 uint64

	// Row / RowSegment
	StartCol uint64
	Cells    []cell.Packed

	// Trim
	StartRow uint64
	Count    uint64

	// Style
	StyleId cell.StyleId
	Style   cell.Style

	// Cursor
	CursorRow     uint64
	CursorCol     int
	CursorVisible bool
	CursorBlink   bool
}

// NewCell builds a Cell update.
func NewCell(row, col uint64, seq grid.Seq, c cell.Packed) Update {
	return Update{Kind: KindCell, Row: row, Col: col, Seq: seq, Cell: c}
}

// NewRect builds a Rect update over [row0,row1)×[col0,col1).
func NewRect(row0, col0, row1, col1 uint64, seq grid.Seq, c cell.Packed) Update {
	return Update{Kind: KindRect, Row0: row0, Col0: col0, Row1: row1, Col1: col1, Seq: seq, Cell: c}
}

// NewRow builds a full-row replacement update.
func NewRow(row uint64, seq grid.Seq, cells []cell.Packed) Update {
	return Update{Kind: KindRow, Row: row, Seq: seq, Cells: cells}
}

// NewRowSegment builds a partial-row update starting at startCol.
func NewRowSegment(row, startCol uint64, seq grid.Seq, cells []cell.Packed) Update {
	return Update{Kind: KindRowSegment, Row: row, StartCol: startCol, Seq: seq, Cells: cells}
}

// NewTrim builds a history-eviction update.
func NewTrim(startRow, count uint64, seq grid.Seq) Update {
	return Update{Kind: KindTrim, StartRow: startRow, Count: count, Seq: seq}
}

// NewStyle builds a style-table broadcast update.
func NewStyle(id cell.StyleId, seq grid.Seq, s cell.Style) Update {
	return Update{Kind: KindStyle, StyleId: id, Seq: seq, Style: s}
}

// NewCursor builds a cursor-position update.
func NewCursor(row uint64, col int, seq grid.Seq, visible, blink bool) Update {
	return Update{Kind: KindCursor, CursorRow: row, CursorCol: col, Seq: seq, CursorVisible: visible, CursorBlink: blink}
}

// AffectsRow reports whether u touches the given absolute row, used by
// lane classification and coalescing.
func (u Update) AffectsRow(row uint64) bool {
	switch u.Kind {
	case KindCell, KindRow, KindRowSegment:
		return u.Row == row
	case KindRect:
		return row >= u.Row0 && row < u.Row1
	default:
		return false
	}
}
