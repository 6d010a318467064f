package wire

import (
	"encoding/json"
	"fmt"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/grid"
	"github.com/beachsh/beach/pkg/update"
)

// jsonEnvelope is the wire shape for both HostFrame and ClientFrame in
// the JSON encoding: a "version"/"type" discriminator plus every
// variant's fields as optional members. A tagged object rather than a
// tagged array, since a JSON array can't self-describe a closed field
// set as cleanly once a frame carries nested Updates.
type jsonEnvelope struct {
	Version uint32 `json:"version"`
	Type    string `json:"type"`

	Seq         uint64 `json:"seq,omitempty"`
	TimestampMs uint64 `json:"timestamp_ms,omitempty"`

	Subscription uint64           `json:"subscription,omitempty"`
	MaxSeq       uint64           `json:"max_seq,omitempty"`
	Config       *jsonSyncConfig  `json:"config,omitempty"`
	Features     uint32           `json:"features,omitempty"`

	Cols         uint32 `json:"cols,omitempty"`
	Rows         uint16 `json:"rows,omitempty"`
	HistoryRows  uint32 `json:"history_rows,omitempty"`
	BaseRow      uint64 `json:"base_row,omitempty"`
	ViewportRows *uint32 `json:"viewport_rows,omitempty"`

	Lane      string        `json:"lane,omitempty"`
	Watermark uint64        `json:"watermark,omitempty"`
	HasMore   bool          `json:"has_more,omitempty"`
	Updates   []jsonUpdate  `json:"updates,omitempty"`
	Cursor    *jsonCursor   `json:"cursor,omitempty"`
	RequestID uint64        `json:"request_id,omitempty"`
	StartRow  uint64        `json:"start_row,omitempty"`
	Count     uint32        `json:"count,omitempty"`

	Namespace string `json:"namespace,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Payload   []byte `json:"payload,omitempty"`

	Data []byte `json:"data,omitempty"`

	Command string `json:"command,omitempty"`

	RawTag *uint8 `json:"raw_tag,omitempty"`
}

type jsonSyncConfig struct {
	SnapshotBudgets      []jsonLaneBudget `json:"snapshot_budgets"`
	DeltaBudget          uint32           `json:"delta_budget"`
	HeartbeatMs          uint64           `json:"heartbeat_ms"`
	InitialSnapshotLines uint32           `json:"initial_snapshot_lines"`
}

type jsonLaneBudget struct {
	Lane       string `json:"lane"`
	MaxUpdates uint32 `json:"max_updates"`
}

type jsonCursor struct {
	Row     uint64 `json:"row"`
	Col     int    `json:"col"`
	Seq     uint64 `json:"seq,omitempty"`
	Visible bool   `json:"visible"`
	Blink   bool   `json:"blink"`
}

type jsonUpdate struct {
	Kind string `json:"kind"`
	Seq  uint64 `json:"seq"`

	Row  *uint64 `json:"row,omitempty"`
	Col  *uint64 `json:"col,omitempty"`
	Cell *uint64 `json:"cell,omitempty"`

	Row0 *uint64 `json:"row0,omitempty"`
	Col0 *uint64 `json:"col0,omitempty"`
	Row1 *uint64 `json:"row1,omitempty"`
	Col1 *uint64 `json:"col1,omitempty"`

	StartCol *uint64  `json:"start_col,omitempty"`
	Cells    []uint64 `json:"cells,omitempty"`

	StartRow *uint64 `json:"start_row,omitempty"`
	Count    *uint64 `json:"count,omitempty"`

	StyleID *uint32     `json:"style_id,omitempty"`
	Style   *jsonStyle  `json:"style,omitempty"`

	CursorRow     *uint64 `json:"cursor_row,omitempty"`
	CursorCol     *int    `json:"cursor_col,omitempty"`
	CursorVisible *bool   `json:"cursor_visible,omitempty"`
	CursorBlink   *bool   `json:"cursor_blink,omitempty"`
}

type jsonStyle struct {
	Fg    jsonColor  `json:"fg"`
	Bg    jsonColor  `json:"bg"`
	Attrs uint8      `json:"attrs"`
}

type jsonColor struct {
	Kind  uint8 `json:"kind"`
	Index uint8 `json:"index,omitempty"`
	R     uint8 `json:"r,omitempty"`
	G     uint8 `json:"g,omitempty"`
	B     uint8 `json:"b,omitempty"`
}

func laneName(l update.Lane) string { return l.String() }

func laneFromName(s string) update.Lane {
	switch s {
	case "recent":
		return update.LaneRecent
	case "history":
		return update.LaneHistory
	default:
		return update.LaneForeground
	}
}

func kindName(k update.Kind) string {
	switch k {
	case update.KindCell:
		return "cell"
	case update.KindRect:
		return "rect"
	case update.KindRow:
		return "row"
	case update.KindRowSegment:
		return "row_segment"
	case update.KindTrim:
		return "trim"
	case update.KindStyle:
		return "style"
	case update.KindCursor:
		return "cursor"
	default:
		return "unknown"
	}
}

func u64p(v uint64) *uint64 { return &v }

func toJSONUpdate(u update.Update) jsonUpdate {
	ju := jsonUpdate{Kind: kindName(u.Kind), Seq: uint64(u.Seq)}
	switch u.Kind {
	case update.KindCell:
		ju.Row = u64p(u.Row)
		ju.Col = u64p(u.Col)
		c := uint64(u.Cell)
		ju.Cell = &c
	case update.KindRect:
		ju.Row0 = u64p(u.Row0)
		ju.Col0 = u64p(u.Col0)
		ju.Row1 = u64p(u.Row1)
		ju.Col1 = u64p(u.Col1)
		c := uint64(u.Cell)
		ju.Cell = &c
	case update.KindRow:
		ju.Row = u64p(u.Row)
		ju.Cells = packedCellsToU64(u.Cells)
	case update.KindRowSegment:
		ju.Row = u64p(u.Row)
		ju.StartCol = u64p(u.StartCol)
		ju.Cells = packedCellsToU64(u.Cells)
	case update.KindTrim:
		ju.StartRow = u64p(u.StartRow)
		cnt := u.Count
		ju.Count = &cnt
	case update.KindStyle:
		id := uint32(u.StyleId)
		ju.StyleID = &id
		s := toJSONStyle(u.Style)
		ju.Style = &s
	case update.KindCursor:
		ju.CursorRow = u64p(u.CursorRow)
		col := u.CursorCol
		ju.CursorCol = &col
		vis := u.CursorVisible
		ju.CursorVisible = &vis
		blink := u.CursorBlink
		ju.CursorBlink = &blink
	}
	return ju
}

func packedCellsToU64(cells []cell.Packed) []uint64 {
	out := make([]uint64, len(cells))
	for i, c := range cells {
		out[i] = uint64(c)
	}
	return out
}

func u64sToPackedCells(vs []uint64) []cell.Packed {
	out := make([]cell.Packed, len(vs))
	for i, v := range vs {
		out[i] = cell.Packed(v)
	}
	return out
}

func toJSONStyle(s cell.Style) jsonStyle {
	return jsonStyle{Fg: toJSONColor(s.Fg), Bg: toJSONColor(s.Bg), Attrs: uint8(s.Attrs)}
}

func toJSONColor(c cell.Color) jsonColor {
	return jsonColor{Kind: uint8(c.Kind), Index: c.Index, R: c.R, G: c.G, B: c.B}
}

func fromJSONColor(c jsonColor) cell.Color {
	return cell.Color{Kind: cell.ColorKind(c.Kind), Index: c.Index, R: c.R, G: c.G, B: c.B}
}

func fromJSONStyle(s jsonStyle) cell.Style {
	return cell.Style{Fg: fromJSONColor(s.Fg), Bg: fromJSONColor(s.Bg), Attrs: cell.Attrs(s.Attrs)}
}

func fromJSONUpdate(ju jsonUpdate) (update.Update, error) {
	seq := grid.Seq(ju.Seq)
	switch ju.Kind {
	case "cell":
		return update.NewCell(derefU64(ju.Row), derefU64(ju.Col), seq, cell.Packed(derefU64(ju.Cell))), nil
	case "rect":
		return update.NewRect(derefU64(ju.Row0), derefU64(ju.Col0), derefU64(ju.Row1), derefU64(ju.Col1), seq, cell.Packed(derefU64(ju.Cell))), nil
	case "row":
		return update.NewRow(derefU64(ju.Row), seq, u64sToPackedCells(ju.Cells)), nil
	case "row_segment":
		return update.NewRowSegment(derefU64(ju.Row), derefU64(ju.StartCol), seq, u64sToPackedCells(ju.Cells)), nil
	case "trim":
		return update.NewTrim(derefU64(ju.StartRow), derefU64(ju.Count), seq), nil
	case "style":
		var style cell.Style
		if ju.Style != nil {
			style = fromJSONStyle(*ju.Style)
		}
		var id uint32
		if ju.StyleID != nil {
			id = *ju.StyleID
		}
		return update.NewStyle(cell.StyleId(id), seq, style), nil
	case "cursor":
		var col int
		if ju.CursorCol != nil {
			col = *ju.CursorCol
		}
		var visible, blink bool
		if ju.CursorVisible != nil {
			visible = *ju.CursorVisible
		}
		if ju.CursorBlink != nil {
			blink = *ju.CursorBlink
		}
		return update.NewCursor(derefU64(ju.CursorRow), col, seq, visible, blink), nil
	default:
		return update.Update{}, fmt.Errorf("wire: unknown JSON update kind %q", ju.Kind)
	}
}

func derefU64(p *uint64) uint64 {
	if p == nil {
		return 0
	}
	return *p
}

func toJSONCursorPtr(c *grid.Cursor) *jsonCursor {
	if c == nil {
		return nil
	}
	return &jsonCursor{Row: c.Row, Col: c.Col, Seq: uint64(c.Seq), Visible: c.Visible, Blink: c.Blink}
}

func fromJSONCursorPtr(c *jsonCursor) *grid.Cursor {
	if c == nil {
		return nil
	}
	return &grid.Cursor{Row: c.Row, Col: c.Col, Seq: grid.Seq(c.Seq), Visible: c.Visible, Blink: c.Blink}
}

func toJSONSyncConfig(c SyncConfigFrame) *jsonSyncConfig {
	budgets := make([]jsonLaneBudget, len(c.SnapshotBudgets))
	for i, b := range c.SnapshotBudgets {
		budgets[i] = jsonLaneBudget{Lane: laneName(b.Lane), MaxUpdates: b.MaxUpdates}
	}
	return &jsonSyncConfig{
		SnapshotBudgets:      budgets,
		DeltaBudget:          c.DeltaBudget,
		HeartbeatMs:          c.HeartbeatMs,
		InitialSnapshotLines: c.InitialSnapshotLines,
	}
}

func fromJSONSyncConfig(c *jsonSyncConfig) SyncConfigFrame {
	if c == nil {
		return SyncConfigFrame{}
	}
	budgets := make([]LaneBudget, len(c.SnapshotBudgets))
	for i, b := range c.SnapshotBudgets {
		budgets[i] = LaneBudget{Lane: laneFromName(b.Lane), MaxUpdates: b.MaxUpdates}
	}
	return SyncConfigFrame{
		SnapshotBudgets:      budgets,
		DeltaBudget:          c.DeltaBudget,
		HeartbeatMs:          c.HeartbeatMs,
		InitialSnapshotLines: c.InitialSnapshotLines,
	}
}

// hostFrameTypeName / clientFrameTypeName give the JSON "type" string
// for each Kind.
func hostFrameTypeName(k HostFrameKind) string {
	switch k {
	case HFHeartbeat:
		return "Heartbeat"
	case HFHello:
		return "Hello"
	case HFGrid:
		return "Grid"
	case HFSnapshot:
		return "Snapshot"
	case HFSnapshotComplete:
		return "SnapshotComplete"
	case HFDelta:
		return "Delta"
	case HFHistoryBackfill:
		return "HistoryBackfill"
	case HFInputAck:
		return "InputAck"
	case HFCursor:
		return "Cursor"
	case HFExtension:
		return "Extension"
	case HFShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

func clientFrameTypeName(k ClientFrameKind) string {
	switch k {
	case CFInput:
		return "Input"
	case CFResize:
		return "Resize"
	case CFRequestBackfill:
		return "RequestBackfill"
	case CFViewportCommand:
		return "ViewportCommand"
	case CFExtension:
		return "Extension"
	default:
		return "Unknown"
	}
}

// EncodeHostFrameJSON serializes f to the JSON wire format.
func EncodeHostFrameJSON(f HostFrame) ([]byte, error) {
	env := jsonEnvelope{Version: ProtocolVersion, Type: hostFrameTypeName(f.Kind)}
	switch f.Kind {
	case HFHeartbeat:
		env.Seq, env.TimestampMs = f.Seq, f.TimestampMs
	case HFHello:
		env.Subscription, env.MaxSeq, env.Features = f.Subscription, f.MaxSeq, f.Features
		env.Config = toJSONSyncConfig(f.Config)
	case HFGrid:
		env.Cols, env.HistoryRows, env.BaseRow, env.ViewportRows = f.Cols, f.HistoryRows, f.BaseRow, f.ViewportRows
	case HFSnapshot:
		env.Subscription, env.Watermark, env.HasMore = f.Subscription, f.Watermark, f.HasMore
		env.Lane = laneName(f.Lane)
		env.Updates = toJSONUpdates(f.Updates)
		env.Cursor = toJSONCursorPtr(f.Cursor)
	case HFSnapshotComplete:
		env.Subscription, env.Lane = f.Subscription, laneName(f.Lane)
	case HFDelta:
		env.Subscription, env.Watermark, env.HasMore = f.Subscription, f.Watermark, f.HasMore
		env.Updates = toJSONUpdates(f.Updates)
		env.Cursor = toJSONCursorPtr(f.Cursor)
	case HFHistoryBackfill:
		env.Subscription, env.RequestID, env.StartRow, env.Count, env.HasMore = f.Subscription, f.RequestID, f.StartRow, f.Count, f.HasMore
		env.Updates = toJSONUpdates(f.Updates)
		env.Cursor = toJSONCursorPtr(f.Cursor)
	case HFInputAck:
		env.Seq = f.Seq
	case HFCursor:
		env.Subscription = f.Subscription
		env.Cursor = toJSONCursorPtr(f.Cursor)
	case HFExtension:
		env.Namespace, env.Kind, env.Payload = f.Namespace, f.ExtKind, f.Payload
	case HFShutdown:
	}
	return json.Marshal(env)
}

func toJSONUpdates(us []update.Update) []jsonUpdate {
	out := make([]jsonUpdate, len(us))
	for i, u := range us {
		out[i] = toJSONUpdate(u)
	}
	return out
}

func fromJSONUpdates(jus []jsonUpdate) ([]update.Update, error) {
	out := make([]update.Update, len(jus))
	for i, ju := range jus {
		u, err := fromJSONUpdate(ju)
		if err != nil {
			return nil, err
		}
		out[i] = u
	}
	return out, nil
}

// DecodeHostFrameJSON parses a JSON-encoded HostFrame.
func DecodeHostFrameJSON(data []byte) (HostFrame, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return HostFrame{}, err
	}
	if env.Version > ProtocolVersion {
		return HostFrame{}, ErrUnsupportedVersion
	}

	f := HostFrame{}
	switch env.Type {
	case "Heartbeat":
		f.Kind, f.Seq, f.TimestampMs = HFHeartbeat, env.Seq, env.TimestampMs
	case "Hello":
		f.Kind, f.Subscription, f.MaxSeq, f.Features = HFHello, env.Subscription, env.MaxSeq, env.Features
		f.Config = fromJSONSyncConfig(env.Config)
	case "Grid":
		f.Kind, f.Cols, f.HistoryRows, f.BaseRow, f.ViewportRows = HFGrid, env.Cols, env.HistoryRows, env.BaseRow, env.ViewportRows
	case "Snapshot":
		f.Kind, f.Subscription, f.Watermark, f.HasMore = HFSnapshot, env.Subscription, env.Watermark, env.HasMore
		f.Lane = laneFromName(env.Lane)
		updates, err := fromJSONUpdates(env.Updates)
		if err != nil {
			return HostFrame{}, err
		}
		f.Updates = updates
		f.Cursor = fromJSONCursorPtr(env.Cursor)
	case "SnapshotComplete":
		f.Kind, f.Subscription, f.Lane = HFSnapshotComplete, env.Subscription, laneFromName(env.Lane)
	case "Delta":
		f.Kind, f.Subscription, f.Watermark, f.HasMore = HFDelta, env.Subscription, env.Watermark, env.HasMore
		updates, err := fromJSONUpdates(env.Updates)
		if err != nil {
			return HostFrame{}, err
		}
		f.Updates = updates
		f.Cursor = fromJSONCursorPtr(env.Cursor)
	case "HistoryBackfill":
		f.Kind = HFHistoryBackfill
		f.Subscription, f.RequestID, f.StartRow, f.Count, f.HasMore = env.Subscription, env.RequestID, env.StartRow, env.Count, env.HasMore
		updates, err := fromJSONUpdates(env.Updates)
		if err != nil {
			return HostFrame{}, err
		}
		f.Updates = updates
		f.Cursor = fromJSONCursorPtr(env.Cursor)
	case "InputAck":
		f.Kind, f.Seq = HFInputAck, env.Seq
	case "Cursor":
		f.Kind, f.Subscription = HFCursor, env.Subscription
		f.Cursor = fromJSONCursorPtr(env.Cursor)
	case "Extension":
		f.Kind, f.Namespace, f.ExtKind, f.Payload = HFExtension, env.Namespace, env.Kind, env.Payload
	case "Shutdown":
		f.Kind = HFShutdown
	default:
		return HostFrame{}, fmt.Errorf("wire: unknown HostFrame JSON type %q", env.Type)
	}
	return f, nil
}

// EncodeClientFrameJSON serializes f to the JSON wire format.
func EncodeClientFrameJSON(f ClientFrame) ([]byte, error) {
	env := jsonEnvelope{Version: ProtocolVersion, Type: clientFrameTypeName(f.Kind)}
	switch f.Kind {
	case CFInput:
		env.Seq, env.Data = f.Seq, f.Data
	case CFResize:
		env.Cols, env.Rows = uint32(f.Cols), f.Rows
	case CFRequestBackfill:
		env.Subscription, env.RequestID, env.StartRow, env.Count = f.Subscription, f.RequestID, f.StartRow, f.Count
	case CFViewportCommand:
		env.Command = viewportCommandName(f.Command)
	case CFExtension:
		env.Namespace, env.Kind, env.Payload = f.Namespace, f.ExtKind, f.Payload
	case CFUnknown:
		tag := f.RawTag
		env.RawTag = &tag
	}
	return json.Marshal(env)
}

func viewportCommandName(c ViewportCommandKind) string {
	switch c {
	case ViewportClear:
		return "Clear"
	default:
		return "Clear"
	}
}

func viewportCommandFromName(s string) ViewportCommandKind {
	switch s {
	case "Clear":
		return ViewportClear
	default:
		return ViewportClear
	}
}

// DecodeClientFrameJSON parses a JSON-encoded ClientFrame. A type it
// doesn't recognize decodes to Kind=CFUnknown.
func DecodeClientFrameJSON(data []byte) (ClientFrame, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ClientFrame{}, err
	}
	if env.Version > ProtocolVersion {
		return ClientFrame{}, ErrUnsupportedVersion
	}

	var f ClientFrame
	switch env.Type {
	case "Input":
		f.Kind, f.Seq, f.Data = CFInput, env.Seq, env.Data
	case "Resize":
		f.Kind, f.Cols, f.Rows = CFResize, uint16(env.Cols), env.Rows
	case "RequestBackfill":
		f.Kind = CFRequestBackfill
		f.Subscription, f.RequestID, f.StartRow, f.Count = env.Subscription, env.RequestID, env.StartRow, env.Count
	case "ViewportCommand":
		f.Kind = CFViewportCommand
		f.Command = viewportCommandFromName(env.Command)
	case "Extension":
		f.Kind, f.Namespace, f.ExtKind, f.Payload = CFExtension, env.Namespace, env.Kind, env.Payload
	default:
		f.Kind = CFUnknown
		if env.RawTag != nil {
			f.RawTag = *env.RawTag
		}
	}
	return f, nil
}
