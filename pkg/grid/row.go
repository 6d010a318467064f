package grid

import "github.com/beachsh/beach/pkg/cell"

// TrailingBlankRun returns the index at which a trailing run of BLANK
// cells begins in row (len(row) if there is no such run). The
// synchronizer's snapshot algorithm uses this to decide whether a row
// is "mostly blank" and worth emitting as a short RowSegment instead of
// a full-width Row.
func TrailingBlankRun(row []cell.Packed) int {
	i := len(row)
	for i > 0 && cell.IsBlank(row[i-1]) {
		i--
	}
	return i
}
