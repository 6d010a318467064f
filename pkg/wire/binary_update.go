package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/grid"
	"github.com/beachsh/beach/pkg/update"
)

func writeU8(buf *bytes.Buffer, v uint8)   { buf.WriteByte(v) }
func writeU16(buf *bytes.Buffer, v uint16) { binary.Write(buf, binary.LittleEndian, v) }
func writeU32(buf *bytes.Buffer, v uint32) { binary.Write(buf, binary.LittleEndian, v) }
func writeU64(buf *bytes.Buffer, v uint64) { binary.Write(buf, binary.LittleEndian, v) }
func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeBytesField(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeStringField(buf *bytes.Buffer, s string) {
	writeBytesField(buf, []byte(s))
}

func writePackedSlice(buf *bytes.Buffer, cells []cell.Packed) {
	writeU32(buf, uint32(len(cells)))
	for _, c := range cells {
		writeU64(buf, uint64(c))
	}
}

// reader is a small cursor over a decode buffer; every read either
// succeeds or returns ErrShortBuffer, so a truncated frame never
// panics the decoder.
type reader struct {
	b   []byte
	pos int
}

// ErrShortBuffer is returned when a frame body ends before a field it
// declared has been fully read.
var ErrShortBuffer = fmt.Errorf("wire: short buffer")

func (r *reader) need(n int) error {
	if r.pos+n > len(r.b) {
		return ErrShortBuffer
	}
	return nil
}

func (r *reader) u8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.b[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *reader) boolean() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.b[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *reader) stringField() (string, error) {
	b, err := r.bytesField()
	return string(b), err
}

func (r *reader) packedSlice() ([]cell.Packed, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]cell.Packed, n)
	for i := range out {
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		out[i] = cell.Packed(v)
	}
	return out, nil
}

// encodeUpdate appends a self-describing encoding of u: a Kind byte
// followed by exactly the fields that variant uses.
func encodeUpdate(buf *bytes.Buffer, u update.Update) {
	writeU8(buf, uint8(u.Kind))
	writeU64(buf, uint64(u.Seq))
	switch u.Kind {
	case update.KindCell:
		writeU64(buf, u.Row)
		writeU64(buf, u.Col)
		writeU64(buf, uint64(u.Cell))
	case update.KindRect:
		writeU64(buf, u.Row0)
		writeU64(buf, u.Col0)
		writeU64(buf, u.Row1)
		writeU64(buf, u.Col1)
		writeU64(buf, uint64(u.Cell))
	case update.KindRow:
		writeU64(buf, u.Row)
		writePackedSlice(buf, u.Cells)
	case update.KindRowSegment:
		writeU64(buf, u.Row)
		writeU64(buf, u.StartCol)
		writePackedSlice(buf, u.Cells)
	case update.KindTrim:
		writeU64(buf, u.StartRow)
		writeU64(buf, u.Count)
	case update.KindStyle:
		writeU32(buf, uint32(u.StyleId))
		encodeStyle(buf, u.Style)
	case update.KindCursor:
		writeU64(buf, u.CursorRow)
		writeU32(buf, uint32(int32(u.CursorCol)))
		writeBool(buf, u.CursorVisible)
		writeBool(buf, u.CursorBlink)
	}
}

func decodeUpdate(r *reader) (update.Update, error) {
	kindByte, err := r.u8()
	if err != nil {
		return update.Update{}, err
	}
	kind := update.Kind(kindByte)
	seq64, err := r.u64()
	if err != nil {
		return update.Update{}, err
	}
	seq := grid.Seq(seq64)

	switch kind {
	case update.KindCell:
		row, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		col, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		c, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		return update.NewCell(row, col, seq, cell.Packed(c)), nil

	case update.KindRect:
		row0, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		col0, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		row1, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		col1, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		c, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		return update.NewRect(row0, col0, row1, col1, seq, cell.Packed(c)), nil

	case update.KindRow:
		row, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		cells, err := r.packedSlice()
		if err != nil {
			return update.Update{}, err
		}
		return update.NewRow(row, seq, cells), nil

	case update.KindRowSegment:
		row, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		startCol, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		cells, err := r.packedSlice()
		if err != nil {
			return update.Update{}, err
		}
		return update.NewRowSegment(row, startCol, seq, cells), nil

	case update.KindTrim:
		startRow, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		count, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		return update.NewTrim(startRow, count, seq), nil

	case update.KindStyle:
		id, err := r.u32()
		if err != nil {
			return update.Update{}, err
		}
		s, err := decodeStyle(r)
		if err != nil {
			return update.Update{}, err
		}
		return update.NewStyle(cell.StyleId(id), seq, s), nil

	case update.KindCursor:
		row, err := r.u64()
		if err != nil {
			return update.Update{}, err
		}
		col, err := r.u32()
		if err != nil {
			return update.Update{}, err
		}
		visible, err := r.boolean()
		if err != nil {
			return update.Update{}, err
		}
		blink, err := r.boolean()
		if err != nil {
			return update.Update{}, err
		}
		return update.NewCursor(row, int(int32(col)), seq, visible, blink), nil

	default:
		return update.Update{}, fmt.Errorf("wire: unknown update kind %d", kindByte)
	}
}

func encodeUpdateSlice(buf *bytes.Buffer, us []update.Update) {
	writeU32(buf, uint32(len(us)))
	for _, u := range us {
		encodeUpdate(buf, u)
	}
}

func decodeUpdateSlice(r *reader) ([]update.Update, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := make([]update.Update, n)
	for i := range out {
		u, err := decodeUpdate(r)
		if err != nil {
			return nil, err
		}
		out[i] = u
	}
	return out, nil
}

func encodeStyle(buf *bytes.Buffer, s cell.Style) {
	encodeColor(buf, s.Fg)
	encodeColor(buf, s.Bg)
	writeU8(buf, uint8(s.Attrs))
}

func decodeStyle(r *reader) (cell.Style, error) {
	fg, err := decodeColor(r)
	if err != nil {
		return cell.Style{}, err
	}
	bg, err := decodeColor(r)
	if err != nil {
		return cell.Style{}, err
	}
	attrs, err := r.u8()
	if err != nil {
		return cell.Style{}, err
	}
	return cell.Style{Fg: fg, Bg: bg, Attrs: cell.Attrs(attrs)}, nil
}

func encodeColor(buf *bytes.Buffer, c cell.Color) {
	writeU8(buf, uint8(c.Kind))
	writeU8(buf, c.Index)
	writeU8(buf, c.R)
	writeU8(buf, c.G)
	writeU8(buf, c.B)
}

func decodeColor(r *reader) (cell.Color, error) {
	kind, err := r.u8()
	if err != nil {
		return cell.Color{}, err
	}
	idx, err := r.u8()
	if err != nil {
		return cell.Color{}, err
	}
	rr, err := r.u8()
	if err != nil {
		return cell.Color{}, err
	}
	g, err := r.u8()
	if err != nil {
		return cell.Color{}, err
	}
	bl, err := r.u8()
	if err != nil {
		return cell.Color{}, err
	}
	return cell.Color{Kind: cell.ColorKind(kind), Index: idx, R: rr, G: g, B: bl}, nil
}

func encodeCursorPtr(buf *bytes.Buffer, c *grid.Cursor) {
	if c == nil {
		writeBool(buf, false)
		return
	}
	writeBool(buf, true)
	writeU64(buf, c.Row)
	writeU32(buf, uint32(int32(c.Col)))
	writeU64(buf, uint64(c.Seq))
	writeBool(buf, c.Visible)
	writeBool(buf, c.Blink)
}

func decodeCursorPtr(r *reader) (*grid.Cursor, error) {
	present, err := r.boolean()
	if err != nil || !present {
		return nil, err
	}
	row, err := r.u64()
	if err != nil {
		return nil, err
	}
	col, err := r.u32()
	if err != nil {
		return nil, err
	}
	seq, err := r.u64()
	if err != nil {
		return nil, err
	}
	visible, err := r.boolean()
	if err != nil {
		return nil, err
	}
	blink, err := r.boolean()
	if err != nil {
		return nil, err
	}
	return &grid.Cursor{Row: row, Col: int(int32(col)), Seq: grid.Seq(seq), Visible: visible, Blink: blink}, nil
}
