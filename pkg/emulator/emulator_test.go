package emulator

import (
	"testing"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/update"
)

func newTestEmulator(cols, rows, history int) *Emulator {
	return New(cols, rows, history, cell.NewStyleTable(), update.NewBroadcaster())
}

func TestWritePlainTextAdvancesCursor(t *testing.T) {
	e := newTestEmulator(10, 4, 20)
	e.Write([]byte("hi"))

	out := make([]cell.Packed, 10)
	if err := e.Grid().SnapshotRow(0, out); err != nil {
		t.Fatalf("SnapshotRow: %v", err)
	}
	r0, _ := cell.Unpack(out[0])
	r1, _ := cell.Unpack(out[1])
	if r0 != 'h' || r1 != 'i' {
		t.Errorf("row = %q %q, want h i", r0, r1)
	}
}

func TestLineFeedScrollsViewport(t *testing.T) {
	e := newTestEmulator(5, 2, 10)
	e.Write([]byte("a\r\nb\r\nc"))

	out := make([]cell.Packed, 5)
	if err := e.Grid().SnapshotRow(2, out); err != nil {
		t.Fatalf("SnapshotRow(2): %v", err)
	}
	r, _ := cell.Unpack(out[0])
	if r != 'c' {
		t.Errorf("row 2 col 0 = %q, want c", r)
	}
}

func TestCSICursorPosition(t *testing.T) {
	e := newTestEmulator(10, 5, 10)
	e.Write([]byte("\x1b[3;4Hx"))

	out := make([]cell.Packed, 10)
	if err := e.Grid().SnapshotRow(2, out); err != nil {
		t.Fatalf("SnapshotRow(2): %v", err)
	}
	r, _ := cell.Unpack(out[3])
	if r != 'x' {
		t.Errorf("expected cursor-positioned write at row 2 col 3, got %q", r)
	}
}

func TestSGRBoldAndColorAreInterned(t *testing.T) {
	e := newTestEmulator(10, 5, 10)
	e.Write([]byte("\x1b[1;31mX"))

	out := make([]cell.Packed, 10)
	e.Grid().SnapshotRow(0, out)
	_, styleID := cell.Unpack(out[0])
	if styleID == 0 {
		t.Fatal("a bold red cell must not use the default style id")
	}
	style, ok := e.styles.Lookup(styleID)
	if !ok {
		t.Fatal("interned style should be resolvable")
	}
	if style.Attrs&cell.AttrBold == 0 {
		t.Error("style missing bold attribute")
	}
	if style.Fg != cell.Indexed(1) {
		t.Errorf("fg = %+v, want red (indexed 1)", style.Fg)
	}
}

func TestEraseLineClearsToEnd(t *testing.T) {
	e := newTestEmulator(5, 2, 10)
	e.Write([]byte("abcd\r\x1b[K"))

	out := make([]cell.Packed, 5)
	e.Grid().SnapshotRow(0, out)
	for i, c := range out {
		if !cell.IsBlank(c) {
			t.Errorf("cell %d should be blank after erase-line, got rune", i)
		}
	}
}

func TestEmulatorPublishesUpdates(t *testing.T) {
	b := update.NewBroadcaster()
	sub := update.NewSubscriber("v", 4, 64)
	b.Subscribe(sub)
	defer sub.Close()

	e := New(10, 4, 20, cell.NewStyleTable(), b)
	e.Write([]byte("z"))

	found := false
	for _, u := range sub.Drain(update.LaneForeground) {
		if u.Kind == update.KindCell {
			found = true
		}
	}
	if !found {
		t.Error("writing a printable character should publish a Cell update to subscribers")
	}
}

func TestResizePreservesCursorBounds(t *testing.T) {
	e := newTestEmulator(10, 5, 10)
	e.Write([]byte("\x1b[5;10H"))
	e.Resize(4, 3)

	if e.curCol >= 4 {
		t.Errorf("curCol = %d, want < 4 after resize", e.curCol)
	}
}
