// Package cell implements the packed terminal cell encoding and the
// process-wide style table described by the replication engine's data
// model: a glyph plus a style id packed into a single 64-bit payload,
// and a deduplicated, append-only table mapping style ids to styles.
package cell

// Packed is the 64-bit on-wire and in-memory encoding of a single grid
// cell: the low 32 bits hold the Unicode scalar value of the primary
// glyph, the high 32 bits hold the StyleId.
type Packed uint64

// StyleId indexes into a StyleTable. Id 0 is always the default style.
type StyleId uint32

const (
	// BLANK is a space with the default style (StyleId 0).
	BLANK Packed = Packed(' ')
	// UNSET marks a cell that has never been written.
	UNSET Packed = 0xFFFFFFFFFFFFFFFF
)

// continuationBit is reserved within the style id to mark a cell as the
// trailing half of a wide glyph. It is carried in the style id's high
// bit, leaving 31 bits (more than enough) for real style ids.
const continuationBit = uint32(1) << 31

// Pack combines a rune and a style id into a Packed cell. Packing is
// total and lossless for any scalar value up to U+10FFFF.
func Pack(r rune, style StyleId) Packed {
	return Packed(uint64(uint32(style))<<32 | uint64(uint32(r)))
}

// Unpack splits a Packed cell back into its glyph and style id. The
// continuation bit, if set, is masked out of the returned style id.
func Unpack(p Packed) (rune, StyleId) {
	r := rune(uint32(p))
	style := StyleId(uint32(p>>32) &^ continuationBit)
	return r, style
}

// PackContinuation packs a continuation cell: the trailing cell(s) of a
// wide glyph, carrying no glyph of their own but the same style.
func PackContinuation(style StyleId) Packed {
	return Packed(uint64(uint32(style)|continuationBit)<<32 | uint64(uint32(' ')))
}

// IsContinuation reports whether p is the trailing half of a wide glyph.
func IsContinuation(p Packed) bool {
	return uint32(p>>32)&continuationBit != 0
}

// IsBlank reports whether p is the default blank cell.
func IsBlank(p Packed) bool {
	return p == BLANK
}

// IsUnset reports whether p has never been written.
func IsUnset(p Packed) bool {
	return p == UNSET
}
