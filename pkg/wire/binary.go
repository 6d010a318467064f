package wire

import (
	"bytes"
	"fmt"

	"github.com/beachsh/beach/pkg/update"
)

// ErrUnsupportedVersion is returned when a decoded frame declares a
// protocol version newer than this build understands.
var ErrUnsupportedVersion = fmt.Errorf("wire: unsupported protocol version")

// EncodeHostFrameBinary serializes f as `u8 version | u8 tag | u32 length | body`.
func EncodeHostFrameBinary(f HostFrame) []byte {
	var body bytes.Buffer
	switch f.Kind {
	case HFHeartbeat:
		writeU64(&body, f.Seq)
		writeU64(&body, f.TimestampMs)
	case HFHello:
		writeU64(&body, f.Subscription)
		writeU64(&body, f.MaxSeq)
		encodeSyncConfig(&body, f.Config)
		writeU32(&body, f.Features)
	case HFGrid:
		writeU32(&body, f.Cols)
		writeU32(&body, f.HistoryRows)
		writeU64(&body, f.BaseRow)
		if f.ViewportRows != nil {
			writeBool(&body, true)
			writeU32(&body, *f.ViewportRows)
		} else {
			writeBool(&body, false)
		}
	case HFSnapshot:
		writeU64(&body, f.Subscription)
		writeU8(&body, uint8(f.Lane))
		writeU64(&body, f.Watermark)
		writeBool(&body, f.HasMore)
		encodeUpdateSlice(&body, f.Updates)
		encodeCursorPtr(&body, f.Cursor)
	case HFSnapshotComplete:
		writeU64(&body, f.Subscription)
		writeU8(&body, uint8(f.Lane))
	case HFDelta:
		writeU64(&body, f.Subscription)
		writeU64(&body, f.Watermark)
		writeBool(&body, f.HasMore)
		encodeUpdateSlice(&body, f.Updates)
		encodeCursorPtr(&body, f.Cursor)
	case HFHistoryBackfill:
		writeU64(&body, f.Subscription)
		writeU64(&body, f.RequestID)
		writeU64(&body, f.StartRow)
		writeU32(&body, f.Count)
		encodeUpdateSlice(&body, f.Updates)
		writeBool(&body, f.HasMore)
		encodeCursorPtr(&body, f.Cursor)
	case HFInputAck:
		writeU64(&body, f.Seq)
	case HFCursor:
		writeU64(&body, f.Subscription)
		encodeCursorPtr(&body, f.Cursor)
	case HFExtension:
		writeStringField(&body, f.Namespace)
		writeStringField(&body, f.ExtKind)
		writeBytesField(&body, f.Payload)
	case HFShutdown:
		// no fields
	}

	var out bytes.Buffer
	writeU8(&out, ProtocolVersion)
	writeU8(&out, uint8(f.Kind))
	writeU32(&out, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func encodeSyncConfig(buf *bytes.Buffer, c SyncConfigFrame) {
	writeU32(buf, uint32(len(c.SnapshotBudgets)))
	for _, b := range c.SnapshotBudgets {
		writeU8(buf, uint8(b.Lane))
		writeU32(buf, b.MaxUpdates)
	}
	writeU32(buf, c.DeltaBudget)
	writeU64(buf, c.HeartbeatMs)
	writeU32(buf, c.InitialSnapshotLines)
}

func decodeSyncConfig(r *reader) (SyncConfigFrame, error) {
	n, err := r.u32()
	if err != nil {
		return SyncConfigFrame{}, err
	}
	budgets := make([]LaneBudget, n)
	for i := range budgets {
		lane, err := r.u8()
		if err != nil {
			return SyncConfigFrame{}, err
		}
		max, err := r.u32()
		if err != nil {
			return SyncConfigFrame{}, err
		}
		budgets[i] = LaneBudget{Lane: update.Lane(lane), MaxUpdates: max}
	}
	deltaBudget, err := r.u32()
	if err != nil {
		return SyncConfigFrame{}, err
	}
	heartbeat, err := r.u64()
	if err != nil {
		return SyncConfigFrame{}, err
	}
	initLines, err := r.u32()
	if err != nil {
		return SyncConfigFrame{}, err
	}
	return SyncConfigFrame{
		SnapshotBudgets:      budgets,
		DeltaBudget:          deltaBudget,
		HeartbeatMs:          heartbeat,
		InitialSnapshotLines: initLines,
	}, nil
}

// DecodeHostFrameBinary parses one `version|tag|length|body` frame from b,
// returning the frame and the number of bytes consumed.
func DecodeHostFrameBinary(b []byte) (HostFrame, int, error) {
	if len(b) < 6 {
		return HostFrame{}, 0, ErrShortBuffer
	}
	version := b[0]
	if version > ProtocolVersion {
		return HostFrame{}, 0, ErrUnsupportedVersion
	}
	tag := b[1]
	length := uint32(b[2]) | uint32(b[3])<<8 | uint32(b[4])<<16 | uint32(b[5])<<24
	if len(b) < 6+int(length) {
		return HostFrame{}, 0, ErrShortBuffer
	}
	r := &reader{b: b[6 : 6+int(length)]}
	f := HostFrame{Kind: HostFrameKind(tag)}

	var err error
	switch f.Kind {
	case HFHeartbeat:
		f.Seq, err = r.u64()
		if err == nil {
			f.TimestampMs, err = r.u64()
		}
	case HFHello:
		f.Subscription, err = r.u64()
		if err == nil {
			f.MaxSeq, err = r.u64()
		}
		if err == nil {
			f.Config, err = decodeSyncConfig(r)
		}
		if err == nil {
			f.Features, err = r.u32()
		}
	case HFGrid:
		f.Cols, err = r.u32()
		if err == nil {
			f.HistoryRows, err = r.u32()
		}
		if err == nil {
			f.BaseRow, err = r.u64()
		}
		if err == nil {
			var present bool
			present, err = r.boolean()
			if err == nil && present {
				var v uint32
				v, err = r.u32()
				f.ViewportRows = &v
			}
		}
	case HFSnapshot:
		f.Subscription, err = r.u64()
		if err == nil {
			var lane uint8
			lane, err = r.u8()
			f.Lane = update.Lane(lane)
		}
		if err == nil {
			f.Watermark, err = r.u64()
		}
		if err == nil {
			f.HasMore, err = r.boolean()
		}
		if err == nil {
			f.Updates, err = decodeUpdateSlice(r)
		}
		if err == nil {
			f.Cursor, err = decodeCursorPtr(r)
		}
	case HFSnapshotComplete:
		f.Subscription, err = r.u64()
		if err == nil {
			var lane uint8
			lane, err = r.u8()
			f.Lane = update.Lane(lane)
		}
	case HFDelta:
		f.Subscription, err = r.u64()
		if err == nil {
			f.Watermark, err = r.u64()
		}
		if err == nil {
			f.HasMore, err = r.boolean()
		}
		if err == nil {
			f.Updates, err = decodeUpdateSlice(r)
		}
		if err == nil {
			f.Cursor, err = decodeCursorPtr(r)
		}
	case HFHistoryBackfill:
		f.Subscription, err = r.u64()
		if err == nil {
			f.RequestID, err = r.u64()
		}
		if err == nil {
			f.StartRow, err = r.u64()
		}
		if err == nil {
			f.Count, err = r.u32()
		}
		if err == nil {
			f.Updates, err = decodeUpdateSlice(r)
		}
		if err == nil {
			f.HasMore, err = r.boolean()
		}
		if err == nil {
			f.Cursor, err = decodeCursorPtr(r)
		}
	case HFInputAck:
		f.Seq, err = r.u64()
	case HFCursor:
		f.Subscription, err = r.u64()
		if err == nil {
			f.Cursor, err = decodeCursorPtr(r)
		}
	case HFExtension:
		f.Namespace, err = r.stringField()
		if err == nil {
			f.ExtKind, err = r.stringField()
		}
		if err == nil {
			f.Payload, err = r.bytesField()
		}
	case HFShutdown:
		// no fields
	default:
		return HostFrame{}, 0, fmt.Errorf("wire: unknown HostFrame tag %d", tag)
	}
	if err != nil {
		return HostFrame{}, 0, err
	}
	return f, 6 + int(length), nil
}

// EncodeClientFrameBinary serializes f as `u8 version | u8 tag | u32 length | body`.
func EncodeClientFrameBinary(f ClientFrame) []byte {
	var body bytes.Buffer
	switch f.Kind {
	case CFInput:
		writeU64(&body, f.Seq)
		writeBytesField(&body, f.Data)
	case CFResize:
		writeU16(&body, f.Cols)
		writeU16(&body, f.Rows)
	case CFRequestBackfill:
		writeU64(&body, f.Subscription)
		writeU64(&body, f.RequestID)
		writeU64(&body, f.StartRow)
		writeU32(&body, f.Count)
	case CFViewportCommand:
		writeU8(&body, uint8(f.Command))
	case CFExtension:
		writeStringField(&body, f.Namespace)
		writeStringField(&body, f.ExtKind)
		writeBytesField(&body, f.Payload)
	case CFUnknown:
		writeU8(&body, f.RawTag)
	}

	var out bytes.Buffer
	writeU8(&out, ProtocolVersion)
	writeU8(&out, uint8(f.Kind))
	writeU32(&out, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

// DecodeClientFrameBinary parses one `version|tag|length|body` frame
// from b. An unrecognized tag decodes to Kind=CFUnknown rather than
// erroring, so the host stays forward-compatible with newer viewers;
// an unsupported version is still a hard error, since at that point
// the body layout itself cannot be trusted.
func DecodeClientFrameBinary(b []byte) (ClientFrame, int, error) {
	if len(b) < 6 {
		return ClientFrame{}, 0, ErrShortBuffer
	}
	version := b[0]
	if version > ProtocolVersion {
		return ClientFrame{}, 0, ErrUnsupportedVersion
	}
	tag := b[1]
	length := uint32(b[2]) | uint32(b[3])<<8 | uint32(b[4])<<16 | uint32(b[5])<<24
	if len(b) < 6+int(length) {
		return ClientFrame{}, 0, ErrShortBuffer
	}
	r := &reader{b: b[6 : 6+int(length)]}

	var f ClientFrame
	var err error
	switch ClientFrameKind(tag) {
	case CFInput:
		f.Kind = CFInput
		f.Seq, err = r.u64()
		if err == nil {
			f.Data, err = r.bytesField()
		}
	case CFResize:
		f.Kind = CFResize
		f.Cols, err = r.u16()
		if err == nil {
			f.Rows, err = r.u16()
		}
	case CFRequestBackfill:
		f.Kind = CFRequestBackfill
		f.Subscription, err = r.u64()
		if err == nil {
			f.RequestID, err = r.u64()
		}
		if err == nil {
			f.StartRow, err = r.u64()
		}
		if err == nil {
			f.Count, err = r.u32()
		}
	case CFViewportCommand:
		f.Kind = CFViewportCommand
		var cmd uint8
		cmd, err = r.u8()
		f.Command = ViewportCommandKind(cmd)
	case CFExtension:
		f.Kind = CFExtension
		f.Namespace, err = r.stringField()
		if err == nil {
			f.ExtKind, err = r.stringField()
		}
		if err == nil {
			f.Payload, err = r.bytesField()
		}
	default:
		f.Kind = CFUnknown
		f.RawTag = tag
	}
	if err != nil {
		return ClientFrame{}, 0, err
	}
	return f, 6 + int(length), nil
}
