// Package wire implements the binary and JSON encodings of HostFrame
// and ClientFrame, the two envelope types carried over a
// transport.Channel between a host synchronizer and a viewer. Binary
// framing is `u8 version | u8 tag | u32 length | body`, little-endian. JSON framing
// is a type-discriminated object.
package wire

import (
	"github.com/beachsh/beach/pkg/grid"
	"github.com/beachsh/beach/pkg/update"
)

// ProtocolVersion is the current wire protocol version. Decoders
// reject frames declaring a version greater than this.
const ProtocolVersion = 2

// Feature bits.
const (
	FeatureCursorSync uint32 = 1 << 0
)

// LaneBudget bounds one lane's update count within a snapshot pass.
type LaneBudget struct {
	Lane       update.Lane
	MaxUpdates uint32
}

// SyncConfigFrame mirrors the synchronizer's negotiated budgets.
type SyncConfigFrame struct {
	SnapshotBudgets      []LaneBudget
	DeltaBudget          uint32
	HeartbeatMs          uint64
	InitialSnapshotLines uint32
}

// HostFrameKind discriminates HostFrame variants.
type HostFrameKind uint8

const (
	HFHeartbeat HostFrameKind = iota
	HFHello
	HFGrid
	HFSnapshot
	HFSnapshotComplete
	HFDelta
	HFHistoryBackfill
	HFInputAck
	HFCursor
	HFExtension
	HFShutdown
)

// HostFrame is the tagged union of all host→viewer frames. Only the
// fields relevant to Kind are populated.
type HostFrame struct {
	Kind HostFrameKind

	// Heartbeat
	Seq         uint64
	TimestampMs uint64

	// Hello
	Subscription uint64
	MaxSeq       uint64
	Config       SyncConfigFrame
	Features     uint32

	// Grid
	Cols         uint32
	HistoryRows  uint32
	BaseRow      uint64
	ViewportRows *uint32

	// Snapshot / Delta / HistoryBackfill
	Lane      update.Lane
	Watermark uint64
	HasMore   bool
	Updates   []update.Update
	Cursor    *grid.Cursor
	RequestID uint64
	StartRow  uint64
	Count     uint32

	// Extension (also used by ClientFrame)
	Namespace string
	ExtKind   string
	Payload   []byte
}

// ClientFrameKind discriminates ClientFrame variants.
type ClientFrameKind uint8

const (
	CFInput ClientFrameKind = iota
	CFResize
	CFRequestBackfill
	CFViewportCommand
	CFExtension
	CFUnknown
)

// ViewportCommandKind enumerates ClientFrame ViewportCommand payloads.
type ViewportCommandKind uint8

const (
	ViewportClear ViewportCommandKind = iota
)

// ClientFrame is the tagged union of all viewer→host frames. Decoders
// map any tag they don't recognize to Kind=CFUnknown, preserving the
// raw tag for diagnostics, so that a host stays forward-compatible
// with newer viewers.
type ClientFrame struct {
	Kind ClientFrameKind

	// Input
	Seq  uint64
	Data []byte

	// Resize
	Cols uint16
	Rows uint16

	// RequestBackfill
	Subscription uint64
	RequestID    uint64
	StartRow     uint64
	Count        uint32

	// ViewportCommand
	Command ViewportCommandKind

	// Extension
	Namespace string
	ExtKind   string
	Payload   []byte

	// Unknown
	RawTag byte
}
