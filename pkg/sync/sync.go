// Package sync implements the host synchronizer: one instance per
// viewer subscription, driving the Handshake → Snapshot[L]* → Delta ⇄
// Backfill state machine against a shared grid.Grid and
// update.Subscriber. Each subscription runs its own goroutine with a
// ticker-driven heartbeat and select-based cancellation.
package sync

import (
	"context"
	"time"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/grid"
	"github.com/beachsh/beach/pkg/update"
	"github.com/beachsh/beach/pkg/wire"
)

// Sink is how a Synchronizer emits frames; pkg/transport implementations
// satisfy it by encoding and writing to a channel.
type Sink interface {
	Send(wire.HostFrame) error
}

// DefaultSnapshotBudget and DefaultDeltaBudget bound how many updates a
// single Snapshot/Delta frame carries before the synchronizer yields
// back to the scheduler.
const (
	DefaultSnapshotBudget = 256
	DefaultDeltaBudget    = 512
)

// DefaultHeartbeat is sent whenever Delta has no pending updates for
// this long.
const DefaultHeartbeat = 250 * time.Millisecond

// lanesInOrder is the fixed traversal order for Handshake's snapshot
// phase: Foreground first so the visible screen appears immediately.
var lanesInOrder = [3]update.Lane{update.LaneForeground, update.LaneRecent, update.LaneHistory}

// Synchronizer drives one subscription's frame stream.
type Synchronizer struct {
	subscriptionID uint64
	grid           *grid.Grid
	styles         *cell.StyleTable
	subscriber     *update.Subscriber
	config         wire.SyncConfigFrame
	features       uint32

	viewTop      uint64
	viewportRows int

	lastSent    [3]grid.Seq // per-lane high-water mark of seqs already sent
	sentStyles  map[cell.StyleId]bool
	backfillCh  chan wire.ClientFrame
	heartbeatEvery time.Duration
}

// New creates a Synchronizer for subscriptionID, reading from g/styles
// and consuming classified updates from sub. viewTop/viewportRows pin
// the viewport used for Handshake's Grid frame and the Snapshot phase.
func New(subscriptionID uint64, g *grid.Grid, styles *cell.StyleTable, sub *update.Subscriber, cfg wire.SyncConfigFrame, features uint32, viewTop uint64, viewportRows int) *Synchronizer {
	if cfg.HeartbeatMs == 0 {
		cfg.HeartbeatMs = uint64(DefaultHeartbeat / time.Millisecond)
	}
	if cfg.DeltaBudget == 0 {
		cfg.DeltaBudget = DefaultDeltaBudget
	}
	return &Synchronizer{
		subscriptionID: subscriptionID,
		grid:           g,
		styles:         styles,
		subscriber:     sub,
		config:         cfg,
		features:       features,
		viewTop:        viewTop,
		viewportRows:   viewportRows,
		sentStyles:     make(map[cell.StyleId]bool),
		backfillCh:     make(chan wire.ClientFrame, 16),
		heartbeatEvery: time.Duration(cfg.HeartbeatMs) * time.Millisecond,
	}
}

// RequestBackfill queues an incoming RequestBackfill ClientFrame for
// the Run loop to service between delta passes. Never blocks: a full
// queue drops the oldest pending request, since a repeated request
// will simply be re-issued by the viewer on timeout.
func (s *Synchronizer) RequestBackfill(f wire.ClientFrame) {
	select {
	case s.backfillCh <- f:
	default:
		select {
		case <-s.backfillCh:
		default:
		}
		select {
		case s.backfillCh <- f:
		default:
		}
	}
}

// Run executes Handshake, the Snapshot phase for every lane, and then
// the Delta loop until ctx is cancelled or sink.Send fails.
func (s *Synchronizer) Run(ctx context.Context, sink Sink) error {
	if err := s.handshake(sink); err != nil {
		return err
	}
	for _, lane := range lanesInOrder {
		if err := s.snapshotLane(ctx, sink, lane); err != nil {
			return err
		}
	}
	return s.deltaLoop(ctx, sink)
}

func (s *Synchronizer) handshake(sink Sink) error {
	maxSeq := s.currentMaxSeq()
	if err := sink.Send(wire.HostFrame{
		Kind:         wire.HFHello,
		Subscription: s.subscriptionID,
		MaxSeq:       uint64(maxSeq),
		Config:       s.config,
		Features:     s.features,
	}); err != nil {
		return err
	}

	rows, cols := s.grid.Dims()
	viewportRows := uint32(s.viewportRows)
	return sink.Send(wire.HostFrame{
		Kind:         wire.HFGrid,
		Cols:         uint32(cols),
		HistoryRows:  uint32(rows),
		BaseRow:      s.grid.BaseRow(),
		ViewportRows: &viewportRows,
	})
}

// currentMaxSeq approximates the host's latest assigned seq from the
// cursor, which is updated on every parsed byte; good enough for the
// Hello handshake's liveness hint.
func (s *Synchronizer) currentMaxSeq() grid.Seq {
	return s.grid.GetCursor().Seq
}
