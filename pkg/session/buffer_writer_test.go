package session

import (
	"bytes"
	"testing"
	"time"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/emulator"
	"github.com/beachsh/beach/pkg/update"
)

func newTestEmulator(cols, rows int) *emulator.Emulator {
	styles := cell.NewStyleTable()
	bcast := update.NewBroadcaster()
	return emulator.New(cols, rows, rows, styles, bcast)
}

func firstRowText(t *testing.T, emu *emulator.Emulator, cols int) string {
	t.Helper()
	row := make([]cell.Packed, cols)
	if err := emu.Grid().SnapshotRow(0, row); err != nil {
		t.Fatalf("SnapshotRow: %v", err)
	}
	var buf bytes.Buffer
	for _, p := range row {
		r, _ := cell.Unpack(p)
		if !cell.IsUnset(p) && r != ' ' && r != 0 {
			buf.WriteRune(r)
		}
	}
	return buf.String()
}

func TestBufferWriterDirectIntegration(t *testing.T) {
	emu := newTestEmulator(80, 24)

	notificationCount := 0
	notifyCallback := func(sessionID string) error {
		notificationCount++
		if sessionID != "test-session" {
			t.Errorf("Expected session ID 'test-session', got '%s'", sessionID)
		}
		return nil
	}

	bw := NewBufferWriter(emu, nil, "test-session", notifyCallback)

	testData := []byte("Hello, Terminal!")
	n, err := bw.Write(testData)
	if err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if n != len(testData) {
		t.Errorf("Expected to write %d bytes, wrote %d", len(testData), n)
	}

	if notificationCount != 1 {
		t.Errorf("Expected 1 notification, got %d", notificationCount)
	}

	if got := firstRowText(t, emu, 80); got != "Hello, Terminal!" {
		t.Errorf("Expected grid row to contain 'Hello, Terminal!', got %q", got)
	}

	if err := bw.WriteResize(100, 30); err != nil {
		t.Fatalf("Failed to resize: %v", err)
	}
	if notificationCount != 2 {
		t.Errorf("Expected 2 notifications after resize, got %d", notificationCount)
	}
}

func TestBufferWriterTracksLastWriteTime(t *testing.T) {
	emu := newTestEmulator(80, 24)
	bw := NewBufferWriter(emu, nil, "test-session", nil)

	if bw == nil {
		t.Fatal("Failed to create buffer writer")
	}

	lastWrite := bw.GetLastWriteTime()
	if lastWrite.IsZero() {
		t.Error("Last write time should not be zero")
	}

	time.Sleep(10 * time.Millisecond) // Ensure time difference
	if _, err := bw.Write([]byte("test")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}

	newLastWrite := bw.GetLastWriteTime()
	if !newLastWrite.After(lastWrite) {
		t.Error("Last write time should be updated after write")
	}
}

func TestBufferWriterSubscribers(t *testing.T) {
	emu := newTestEmulator(80, 24)
	bw := NewBufferWriter(emu, nil, "test-session", nil)

	ch := bw.Subscribe()

	testData := []byte("subscriber test")
	go func() {
		if _, err := bw.Write(testData); err != nil {
			t.Errorf("Failed to write: %v", err)
		}
	}()

	select {
	case data := <-ch:
		if !bytes.Equal(data, testData) {
			t.Errorf("Expected to receive '%s', got '%s'", testData, data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Timeout waiting for subscriber notification")
	}

	bw.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Expected channel to be closed after unsubscribe")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Channel should be closed immediately")
	}
}
