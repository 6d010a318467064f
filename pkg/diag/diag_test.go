package diag

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beachsh/beach/pkg/grid"
)

type fakeSource struct {
	snap Snapshot
}

func (f *fakeSource) DiagSnapshot() Snapshot { return f.snap }

func TestSocketPathUsesLiteralNamingConvention(t *testing.T) {
	got := SocketPath("abc123")
	want := filepath.Join(os.TempDir(), "beach-debug-abc123.sock")
	if got != want {
		t.Errorf("SocketPath = %q, want %q", got, want)
	}
}

func TestServerQueryRoundTripsSnapshot(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "beach-debug-test.sock")

	src := &fakeSource{snap: Snapshot{
		Cols: 80, Rows: 24, BaseRow: 3, NextRow: 27,
		Cursor:       grid.Cursor{Row: 5, Col: 10, Seq: 99, Visible: true},
		ViewportTop:  3,
		ViewportRows: 24,
		FollowTail:   true,
	}}
	srv := NewServer(sockPath, src)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	info, err := os.Stat(sockPath)
	if err != nil {
		t.Fatalf("socket missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}

	got, err := Query(sockPath)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got != src.snap {
		t.Errorf("Query() = %+v, want %+v", got, src.snap)
	}
}

func TestQueryFailsAgainstMissingSocket(t *testing.T) {
	dir := t.TempDir()
	_, err := Query(filepath.Join(dir, "nonexistent.sock"))
	if err == nil {
		t.Fatal("expected an error dialing a nonexistent socket")
	}
}

func TestStopRemovesSocketFile(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "beach-debug-stop.sock")
	srv := NewServer(sockPath, &fakeSource{})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(sockPath); !os.IsNotExist(err) {
		t.Error("socket file should be removed after Stop")
	}
}

func TestMultipleSequentialQueriesOnOneServer(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "beach-debug-multi.sock")
	src := &fakeSource{snap: Snapshot{Cols: 80, Rows: 24}}
	srv := NewServer(sockPath, src)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop()

	for i := 0; i < 3; i++ {
		if _, err := Query(sockPath); err != nil {
			t.Fatalf("Query #%d: %v", i, err)
		}
	}
	// Give the accept loop's goroutines a moment to finish cleanly
	// before Stop's WaitGroup drain, purely to keep the test fast.
	time.Sleep(10 * time.Millisecond)
}
