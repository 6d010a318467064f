package sync

import (
	"context"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/grid"
	"github.com/beachsh/beach/pkg/update"
	"github.com/beachsh/beach/pkg/wire"
)

func (s *Synchronizer) classifier() update.Classifier {
	return update.NewClassifier(s.viewportRows)
}

// rowLane classifies a single absolute row against the pinned
// viewport, matching update.Classifier's row-distance rule without
// needing a constructed Update value.
func (s *Synchronizer) rowLane(row uint64) update.Lane {
	c := s.classifier()
	viewBottom := s.viewTop + uint64(s.viewportRows)
	if row >= s.viewTop && row < viewBottom {
		return update.LaneForeground
	}
	k := uint64(c.K)
	lo := uint64(0)
	if s.viewTop > k {
		lo = s.viewTop - k
	}
	hi := viewBottom + k
	if row >= lo && row < hi {
		return update.LaneRecent
	}
	return update.LaneHistory
}

func (s *Synchronizer) budgetFor(lane update.Lane) uint32 {
	for _, b := range s.config.SnapshotBudgets {
		if b.Lane == lane {
			return b.MaxUpdates
		}
	}
	return DefaultSnapshotBudget
}

// snapshotLane streams every row currently classified into lane as Row
// updates, batched to the lane's budget. The row range is pinned to
// grid state at call time; later viewport changes only take effect on
// a fresh subscription.
func (s *Synchronizer) snapshotLane(ctx context.Context, sink Sink, lane update.Lane) error {
	budget := s.budgetFor(lane)
	if budget == 0 {
		budget = DefaultSnapshotBudget
	}

	base := s.grid.BaseRow()
	top := s.grid.NextRow()
	_, cols := s.grid.Dims()

	var batch []update.Update
	var watermark grid.Seq
	scratch := make([]cell.Packed, cols)

	flush := func(hasMore bool) error {
		if len(batch) == 0 && !hasMore {
			return sink.Send(wire.HostFrame{
				Kind:         wire.HFSnapshotComplete,
				Subscription: s.subscriptionID,
				Lane:         lane,
			})
		}
		err := sink.Send(wire.HostFrame{
			Kind:         wire.HFSnapshot,
			Subscription: s.subscriptionID,
			Lane:         lane,
			Watermark:    uint64(watermark),
			HasMore:      hasMore,
			Updates:      batch,
		})
		batch = nil
		if err != nil {
			return err
		}
		if !hasMore {
			return sink.Send(wire.HostFrame{
				Kind:         wire.HFSnapshotComplete,
				Subscription: s.subscriptionID,
				Lane:         lane,
			})
		}
		return nil
	}

	for row := base; row < top; row++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.rowLane(row) != lane {
			continue
		}
		if err := s.grid.SnapshotRow(row, scratch); err != nil {
			continue // row was trimmed concurrently; skip
		}
		maxSeq, _ := s.grid.RowMaxSeq(row)

		cellsCopy := make([]cell.Packed, len(scratch))
		copy(cellsCopy, scratch)

		styleUpdates := s.pendingStyleUpdates(cellsCopy, maxSeq)
		batch = append(batch, styleUpdates...)
		batch = append(batch, update.NewRow(row, maxSeq, cellsCopy))
		if maxSeq > watermark {
			watermark = maxSeq
		}

		if uint32(len(batch)) >= budget {
			if err := flush(true); err != nil {
				return err
			}
		}
	}

	if lane == update.LaneForeground {
		if c := s.grid.GetCursor(); c.Visible || c.Seq > 0 {
			batch = append(batch, update.NewCursor(c.Row, c.Col, c.Seq, c.Visible, c.Blink))
		}
	}

	if err := flush(false); err != nil {
		return err
	}
	if watermark > s.lastSent[lane] {
		s.lastSent[lane] = watermark
	}
	return nil
}

// pendingStyleUpdates returns Style updates for every style id
// referenced by cells that has not yet been sent to this subscription,
// marking them sent. These are emitted before the row/cell batch that
// references them.
func (s *Synchronizer) pendingStyleUpdates(cells []cell.Packed, seq grid.Seq) []update.Update {
	var out []update.Update
	seen := map[cell.StyleId]bool{}
	for _, c := range cells {
		if cell.IsBlank(c) || cell.IsUnset(c) {
			continue
		}
		_, id := cell.Unpack(c)
		if id == 0 || seen[id] || s.sentStyles[id] {
			continue
		}
		seen[id] = true
		style, ok := s.styles.Lookup(id)
		if !ok {
			continue
		}
		s.sentStyles[id] = true
		out = append(out, update.NewStyle(id, seq, style))
	}
	return out
}
