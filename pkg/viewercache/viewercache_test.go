package viewercache

import (
	"testing"
	"time"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/grid"
	"github.com/beachsh/beach/pkg/update"
	"github.com/beachsh/beach/pkg/wire"
)

func packRune(r rune) cell.Packed {
	return cell.Pack(r, 0)
}

func TestApplyFrameGridSetsDims(t *testing.T) {
	c := New(80, 24)
	cols := uint32(100)
	rows := uint32(50)
	c.ApplyFrame(wire.HostFrame{Kind: wire.HFGrid, Cols: cols, HistoryRows: rows})

	gotRows, gotCols := c.Grid().Dims()
	if gotCols != 100 || gotRows != 50 {
		t.Fatalf("dims = (%d,%d), want (50,100)", gotRows, gotCols)
	}
}

func TestApplyFrameSnapshotWritesCells(t *testing.T) {
	c := New(80, 24)
	u := update.NewCell(0, 0, 1, packRune('H'))
	c.ApplyFrame(wire.HostFrame{Kind: wire.HFSnapshot, Lane: update.LaneForeground, Watermark: 1, Updates: []update.Update{u}})

	var out [80]cell.Packed
	if err := c.Grid().SnapshotRow(0, out[:]); err != nil {
		t.Fatalf("SnapshotRow: %v", err)
	}
	r, _ := cell.Unpack(out[0])
	if r != 'H' {
		t.Errorf("cell(0,0) = %q, want 'H'", r)
	}
}

func TestApplyFrameIsIdempotentUnderReplay(t *testing.T) {
	c := New(80, 24)
	u := update.NewCell(5, 5, 10, packRune('X'))
	frame := wire.HostFrame{Kind: wire.HFDelta, Lane: update.LaneForeground, Watermark: 10, Updates: []update.Update{u}}

	c.ApplyFrame(frame)
	c.ApplyFrame(frame) // replay the same frame, e.g. after a reconnect

	var out [80]cell.Packed
	c.Grid().SnapshotRow(5, out[:])
	r, _ := cell.Unpack(out[5])
	if r != 'X' {
		t.Errorf("cell(5,5) = %q, want 'X' after idempotent replay", r)
	}
}

func TestSnapshotCompleteTracksPerLaneProgress(t *testing.T) {
	c := New(80, 24)
	if !c.SnapshotInProgress() {
		t.Fatal("expected snapshot in progress before any SnapshotComplete")
	}

	c.ApplyFrame(wire.HostFrame{Kind: wire.HFSnapshotComplete, Lane: update.LaneForeground})
	c.ApplyFrame(wire.HostFrame{Kind: wire.HFSnapshotComplete, Lane: update.LaneRecent})
	if !c.SnapshotInProgress() {
		t.Fatal("expected snapshot still in progress with History lane pending")
	}

	c.ApplyFrame(wire.HostFrame{Kind: wire.HFSnapshotComplete, Lane: update.LaneHistory})
	if c.SnapshotInProgress() {
		t.Fatal("expected snapshot complete once all three lanes report done")
	}
}

func TestTrimCancelsPendingBackfillBelowNewBase(t *testing.T) {
	c := New(80, 100)
	c.pending[1] = pendingBackfill{startRow: 0, count: 5, deadline: time.Now().Add(time.Minute)}
	c.pending[2] = pendingBackfill{startRow: 50, count: 5, deadline: time.Now().Add(time.Minute)}

	c.ApplyFrame(wire.HostFrame{Kind: wire.HFDelta, Watermark: 1, Updates: []update.Update{
		update.NewTrim(0, 10, 1),
	}})

	if _, ok := c.pending[1]; ok {
		t.Error("backfill request entirely below new base_row should be cancelled")
	}
	if _, ok := c.pending[2]; !ok {
		t.Error("backfill request above new base_row should survive Trim")
	}
}

func TestCheckGapTriggersBackfillRequest(t *testing.T) {
	c := New(80, 1000)
	c.SetViewport(0, 24)
	c.lastAppliedSeq = 1

	u := update.NewCell(500, 0, 2000, packRune('Z'))
	req := c.ApplyFrame(wire.HostFrame{Kind: wire.HFDelta, Watermark: 2000, Updates: []update.Update{u}})

	if req == nil {
		t.Fatal("expected a RequestBackfill frame for a large forward jump touching history")
	}
	if req.Kind != wire.CFRequestBackfill {
		t.Errorf("Kind = %v, want CFRequestBackfill", req.Kind)
	}
	if len(c.pending) != 1 {
		t.Errorf("pending = %d, want 1", len(c.pending))
	}
}

func TestCheckGapSkipsSmallAdvances(t *testing.T) {
	c := New(80, 1000)
	c.SetViewport(0, 24)
	c.lastAppliedSeq = 1

	u := update.NewCell(0, 0, 5, packRune('A'))
	req := c.ApplyFrame(wire.HostFrame{Kind: wire.HFDelta, Watermark: 5, Updates: []update.Update{u}})
	if req != nil {
		t.Fatalf("expected no backfill request for a small watermark advance, got %+v", req)
	}
}

func TestHistoryBackfillClearsPending(t *testing.T) {
	c := New(80, 1000)
	c.pending[7] = pendingBackfill{startRow: 10, count: 5, deadline: time.Now().Add(time.Minute)}

	c.ApplyFrame(wire.HostFrame{Kind: wire.HFHistoryBackfill, RequestID: 7, Updates: []update.Update{
		update.NewCell(10, 0, 50, packRune('Q')),
	}})

	if _, ok := c.pending[7]; ok {
		t.Error("HistoryBackfill should clear the matching pending request")
	}
}

func TestFollowTailAdvancesViewportOnDelta(t *testing.T) {
	c := New(80, 1000)
	c.SetViewport(0, 10)
	c.SetFollowTail(true)

	for row := uint64(0); row < 30; row++ {
		c.ApplyFrame(wire.HostFrame{Kind: wire.HFDelta, Watermark: row + 1, Updates: []update.Update{
			update.NewCell(row, 0, grid.Seq(row+1), packRune('x')),
		}})
	}

	frame := c.Render()
	wantTop := uint64(30 - 10)
	if frame.ViewportTop != wantTop {
		t.Errorf("ViewportTop = %d, want %d", frame.ViewportTop, wantTop)
	}
}

func TestSetFollowTailFalseFreezesViewport(t *testing.T) {
	c := New(80, 1000)
	c.SetViewport(0, 10)
	c.SetFollowTail(false)

	for row := uint64(0); row < 30; row++ {
		c.ApplyFrame(wire.HostFrame{Kind: wire.HFDelta, Watermark: row + 1, Updates: []update.Update{
			update.NewCell(row, 0, grid.Seq(row+1), packRune('x')),
		}})
	}

	frame := c.Render()
	if frame.ViewportTop != 0 {
		t.Errorf("ViewportTop = %d, want 0 with follow_tail disabled", frame.ViewportTop)
	}
}

func TestRequestViewportClearResetsFollowTail(t *testing.T) {
	c := New(80, 1000)
	c.SetFollowTail(false)

	cf := c.RequestViewportClear()
	if cf.Kind != wire.CFViewportCommand || cf.Command != wire.ViewportClear {
		t.Errorf("cf = %+v, want ViewportCommand{Clear}", cf)
	}
	if !c.FollowTail() {
		t.Error("RequestViewportClear should re-enable follow_tail")
	}
}

func TestRenderAppliesStyle(t *testing.T) {
	c := New(80, 24)
	style := cell.Style{Fg: cell.RGB(255, 0, 0)}
	c.ApplyFrame(wire.HostFrame{Kind: wire.HFSnapshot, Watermark: 1, Updates: []update.Update{
		update.NewStyle(3, 1, style),
		update.NewCell(0, 0, 2, cell.Pack('A', 3)),
	}})
	c.SetViewport(0, 1)

	frame := c.Render()
	got := frame.Rows[0][0]
	if got.Rune != 'A' {
		t.Fatalf("Rune = %q, want 'A'", got.Rune)
	}
	if got.Style.Fg != style.Fg {
		t.Errorf("Style.Fg = %+v, want %+v", got.Style.Fg, style.Fg)
	}
}

func TestExpireStalePendingDropsPastDeadline(t *testing.T) {
	c := New(80, 24)
	c.pending[1] = pendingBackfill{startRow: 0, count: 1, deadline: time.Now().Add(-time.Second)}
	c.pending[2] = pendingBackfill{startRow: 0, count: 1, deadline: time.Now().Add(time.Minute)}

	expired := c.ExpireStalePending(time.Now())
	if len(expired) != 1 || expired[0] != 1 {
		t.Errorf("expired = %v, want [1]", expired)
	}
	if _, ok := c.pending[2]; !ok {
		t.Error("non-expired entry should remain pending")
	}
}
