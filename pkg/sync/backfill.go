package sync

import (
	"context"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/grid"
	"github.com/beachsh/beach/pkg/update"
	"github.com/beachsh/beach/pkg/wire"
)

// serveBackfill streams rows [req.StartRow, req.StartRow+req.Count)
// clamped to the grid's current [base_row, next_row) as
// HistoryBackfill frames carrying the original request_id. If the
// requested range has already fallen entirely below base_row, it
// replies with a single empty frame (more=false) so the viewer knows
// the history is gone.
func (s *Synchronizer) serveBackfill(ctx context.Context, sink Sink, req wire.ClientFrame) error {
	base := s.grid.BaseRow()
	top := s.grid.NextRow()

	start := req.StartRow
	end := start + uint64(req.Count)
	if end > top {
		end = top
	}
	if start < base {
		start = base
	}

	if start >= end {
		return sink.Send(wire.HostFrame{
			Kind:         wire.HFHistoryBackfill,
			Subscription: req.Subscription,
			RequestID:    req.RequestID,
			StartRow:     req.StartRow,
			Count:        0,
			HasMore:      false,
		})
	}

	budget := s.budgetFor(update.LaneHistory)
	if budget == 0 {
		budget = DefaultSnapshotBudget
	}

	_, cols := s.grid.Dims()
	scratch := make([]cell.Packed, cols)

	var batch []update.Update
	var watermark grid.Seq

	flush := func(hasMore bool) error {
		cursor := s.grid.GetCursor()
		err := sink.Send(wire.HostFrame{
			Kind:         wire.HFHistoryBackfill,
			Subscription: req.Subscription,
			RequestID:    req.RequestID,
			StartRow:     req.StartRow,
			Count:        uint32(end - start),
			Updates:      batch,
			HasMore:      hasMore,
			Cursor:       &cursor,
		})
		batch = nil
		return err
	}

	for row := start; row < end; row++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.grid.SnapshotRow(row, scratch); err != nil {
			continue
		}
		maxSeq, _ := s.grid.RowMaxSeq(row)
		cellsCopy := make([]cell.Packed, len(scratch))
		copy(cellsCopy, scratch)

		// Backfill always replays style definitions, even if already
		// sent: a viewer requesting backfill may have discarded style
		// state along with the rows it is now recovering.
		for _, c := range cellsCopy {
			if cell.IsBlank(c) || cell.IsUnset(c) {
				continue
			}
			_, id := cell.Unpack(c)
			if id == 0 {
				continue
			}
			if style, ok := s.styles.Lookup(id); ok {
				batch = append(batch, update.NewStyle(id, maxSeq, style))
			}
		}
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

	return flush(false)
}
