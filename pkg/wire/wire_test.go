package wire

import (
	"reflect"
	"testing"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/grid"
	"github.com/beachsh/beach/pkg/update"
)

func sampleHostFrames() []HostFrame {
	viewport := uint32(24)
	cursor := &grid.Cursor{Row: 5, Col: 3, Seq: 9, Visible: true, Blink: false}
	return []HostFrame{
		{Kind: HFHeartbeat, Seq: 42, TimestampMs: 1234567890},
		{
			Kind: HFHello, Subscription: 1, MaxSeq: 13, Features: FeatureCursorSync,
			Config: SyncConfigFrame{
				SnapshotBudgets:      []LaneBudget{{Lane: update.LaneForeground, MaxUpdates: 128}},
				DeltaBudget:          512,
				HeartbeatMs:          250,
				InitialSnapshotLines: 24,
			},
		},
		{Kind: HFGrid, Cols: 80, HistoryRows: 10000, BaseRow: 0, ViewportRows: &viewport},
		{Kind: HFGrid, Cols: 80, HistoryRows: 10000, BaseRow: 0, ViewportRows: nil},
		{
			Kind: HFSnapshot, Subscription: 1, Lane: update.LaneForeground, Watermark: 13, HasMore: false,
			Updates: []update.Update{
				update.NewRow(0, 13, []cell.Packed{cell.Pack('H', 0), cell.Pack('i', 0), cell.BLANK}),
			},
			Cursor: cursor,
		},
		{Kind: HFSnapshotComplete, Subscription: 1, Lane: update.LaneRecent},
		{
			Kind: HFDelta, Subscription: 1, Watermark: 20, HasMore: true,
			Updates: []update.Update{update.NewCell(0, 0, 20, cell.Pack('x', 1))},
		},
		{
			Kind: HFHistoryBackfill, Subscription: 1, RequestID: 7, StartRow: 100, Count: 5, HasMore: false,
			Updates: []update.Update{update.NewTrim(0, 10, 21)},
			Cursor:  cursor,
		},
		{Kind: HFInputAck, Seq: 99},
		{Kind: HFCursor, Subscription: 1, Cursor: cursor},
		{Kind: HFExtension, Namespace: "term", ExtKind: "ping", Payload: []byte{1, 2, 3}},
		{Kind: HFShutdown},
	}
}

func sampleClientFrames() []ClientFrame {
	return []ClientFrame{
		{Kind: CFInput, Seq: 1, Data: []byte("ls -la\n")},
		{Kind: CFResize, Cols: 120, Rows: 40},
		{Kind: CFRequestBackfill, Subscription: 1, RequestID: 2, StartRow: 50, Count: 24},
		{Kind: CFViewportCommand, Command: ViewportClear},
		{Kind: CFExtension, Namespace: "term", ExtKind: "pong", Payload: []byte{4, 5}},
	}
}

func TestHostFrameBinaryRoundTrip(t *testing.T) {
	for _, f := range sampleHostFrames() {
		encoded := EncodeHostFrameBinary(f)
		decoded, n, err := DecodeHostFrameBinary(encoded)
		if err != nil {
			t.Fatalf("decode %v: %v", f.Kind, err)
		}
		if n != len(encoded) {
			t.Errorf("kind %v: consumed %d bytes, want %d", f.Kind, n, len(encoded))
		}
		if !reflect.DeepEqual(decoded, f) {
			t.Errorf("kind %v: round-trip mismatch\n got: %+v\nwant: %+v", f.Kind, decoded, f)
		}
	}
}

func TestClientFrameBinaryRoundTrip(t *testing.T) {
	for _, f := range sampleClientFrames() {
		encoded := EncodeClientFrameBinary(f)
		decoded, n, err := DecodeClientFrameBinary(encoded)
		if err != nil {
			t.Fatalf("decode %v: %v", f.Kind, err)
		}
		if n != len(encoded) {
			t.Errorf("kind %v: consumed %d bytes, want %d", f.Kind, n, len(encoded))
		}
		if !reflect.DeepEqual(decoded, f) {
			t.Errorf("kind %v: round-trip mismatch\n got: %+v\nwant: %+v", f.Kind, decoded, f)
		}
	}
}

func TestHostFrameJSONRoundTrip(t *testing.T) {
	for _, f := range sampleHostFrames() {
		encoded, err := EncodeHostFrameJSON(f)
		if err != nil {
			t.Fatalf("encode %v: %v", f.Kind, err)
		}
		decoded, err := DecodeHostFrameJSON(encoded)
		if err != nil {
			t.Fatalf("decode %v: %v", f.Kind, err)
		}
		if !reflect.DeepEqual(decoded, f) {
			t.Errorf("kind %v: JSON round-trip mismatch\n got: %+v\nwant: %+v", f.Kind, decoded, f)
		}
	}
}

func TestClientFrameJSONRoundTrip(t *testing.T) {
	for _, f := range sampleClientFrames() {
		encoded, err := EncodeClientFrameJSON(f)
		if err != nil {
			t.Fatalf("encode %v: %v", f.Kind, err)
		}
		decoded, err := DecodeClientFrameJSON(encoded)
		if err != nil {
			t.Fatalf("decode %v: %v", f.Kind, err)
		}
		if !reflect.DeepEqual(decoded, f) {
			t.Errorf("kind %v: JSON round-trip mismatch\n got: %+v\nwant: %+v", f.Kind, decoded, f)
		}
	}
}

func TestDecodeClientFrameBinaryUnknownTagFallsBackToUnknown(t *testing.T) {
	raw := []byte{ProtocolVersion, 0xEE, 0, 0, 0, 0} // tag 0xEE, zero-length body
	f, n, err := DecodeClientFrameBinary(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Kind != CFUnknown || f.RawTag != 0xEE {
		t.Errorf("expected Unknown{RawTag: 0xEE}, got %+v", f)
	}
	if n != len(raw) {
		t.Errorf("consumed %d, want %d", n, len(raw))
	}
}

func TestDecodeClientFrameJSONUnknownTypeFallsBackToUnknown(t *testing.T) {
	f, err := DecodeClientFrameJSON([]byte(`{"version":2,"type":"FutureFeature"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Kind != CFUnknown {
		t.Errorf("expected CFUnknown, got %v", f.Kind)
	}
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	f := HostFrame{Kind: HFInputAck, Seq: 1}
	encoded := EncodeHostFrameBinary(f)
	encoded[0] = ProtocolVersion + 1
	if _, _, err := DecodeHostFrameBinary(encoded); err != ErrUnsupportedVersion {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeHostFrameBinaryTruncated(t *testing.T) {
	f := HostFrame{Kind: HFHello, Subscription: 1, MaxSeq: 5}
	encoded := EncodeHostFrameBinary(f)
	if _, _, err := DecodeHostFrameBinary(encoded[:len(encoded)-2]); err != ErrShortBuffer {
		t.Errorf("truncated frame: err = %v, want ErrShortBuffer", err)
	}
}
