package sync

import (
	"context"
	"time"

	"github.com/beachsh/beach/pkg/cell"
	"github.com/beachsh/beach/pkg/grid"
	"github.com/beachsh/beach/pkg/update"
	"github.com/beachsh/beach/pkg/wire"
)

// deltaLoop drains the subscriber's lanes in priority order
// (Foreground, Recent, History), coalescing and budgeting updates,
// and services queued backfill requests between passes. It runs
// until ctx is cancelled or a send fails.
func (s *Synchronizer) deltaLoop(ctx context.Context, sink Sink) error {
	ticker := time.NewTicker(s.heartbeatEvery)
	defer ticker.Stop()

	for {
		sentAny, err := s.drainDeltas(sink)
		if err != nil {
			return err
		}

		select {
		case req := <-s.backfillCh:
			if err := s.serveBackfill(ctx, sink, req); err != nil {
				return err
			}
			continue
		default:
		}

		if sentAny {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.subscriber.Notify():
			continue
		case req := <-s.backfillCh:
			if err := s.serveBackfill(ctx, sink, req); err != nil {
				return err
			}
		case <-ticker.C:
			if err := sink.Send(wire.HostFrame{
				Kind:        wire.HFHeartbeat,
				Seq:         uint64(s.currentMaxSeq()),
				TimestampMs: uint64(time.Now().UnixMilli()),
			}); err != nil {
				return err
			}
		}
	}
}

// drainDeltas sends one Delta frame per lane that currently has
// pending updates, in priority order, and reports whether anything was
// sent.
func (s *Synchronizer) drainDeltas(sink Sink) (bool, error) {
	sentAny := false
	for _, lane := range lanesInOrder {
		pending := s.subscriber.Pending(lane)
		if pending == 0 {
			continue
		}
		if err := s.sendDelta(sink, lane); err != nil {
			return sentAny, err
		}
		sentAny = true
	}
	return sentAny, nil
}

func (s *Synchronizer) sendDelta(sink Sink, lane update.Lane) error {
	raw := s.subscriber.Drain(lane)
	if len(raw) == 0 {
		return nil
	}

	coalesced := coalesceDeltas(raw)

	budget := s.config.DeltaBudget
	if budget == 0 {
		budget = DefaultDeltaBudget
	}

	for start := 0; start < len(coalesced); start += int(budget) {
		end := start + int(budget)
		if end > len(coalesced) {
			end = len(coalesced)
		}
		chunk := coalesced[start:end]

		var styleUpdates []update.Update
		for _, u := range chunk {
			if u.Kind == update.KindStyle {
				continue
			}
			for _, id := range referencedStyleIDs(u) {
				if s.sentStyles[id] {
					continue
				}
				style, ok := s.styles.Lookup(id)
				if !ok {
					continue
				}
				s.sentStyles[id] = true
				styleUpdates = append(styleUpdates, update.NewStyle(id, u.Seq, style))
			}
		}

		frame := append(append([]update.Update{}, styleUpdates...), chunk...)

		var watermark grid.Seq
		var cursor *grid.Cursor
		for _, u := range frame {
			if u.Seq > watermark {
				watermark = u.Seq
			}
			if u.Kind == update.KindCursor {
				c := grid.Cursor{Row: u.CursorRow, Col: u.CursorCol, Seq: u.Seq, Visible: u.CursorVisible, Blink: u.CursorBlink}
				cursor = &c
			}
		}
		if watermark < s.lastSent[lane] {
			watermark = s.lastSent[lane]
		}

		if err := sink.Send(wire.HostFrame{
			Kind:         wire.HFDelta,
			Subscription: s.subscriptionID,
			Watermark:    uint64(watermark),
			HasMore:      end < len(coalesced),
			Updates:      frame,
			Cursor:       cursor,
		}); err != nil {
			return err
		}
		if watermark > s.lastSent[lane] {
			s.lastSent[lane] = watermark
		}
	}
	return nil
}

// referencedStyleIDs returns the style ids an update touches.
func referencedStyleIDs(u update.Update) []cell.StyleId {
	switch u.Kind {
	case update.KindCell, update.KindRect:
		if cell.IsBlank(u.Cell) || cell.IsUnset(u.Cell) {
			return nil
		}
		_, id := cell.Unpack(u.Cell)
		return []cell.StyleId{id}
	case update.KindRow, update.KindRowSegment:
		seen := map[cell.StyleId]bool{}
		var out []cell.StyleId
		for _, c := range u.Cells {
			if cell.IsBlank(c) || cell.IsUnset(c) {
				continue
			}
			_, id := cell.Unpack(c)
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		return out
	default:
		return nil
	}
}

// coalesceDeltas collapses adjacent same-row Cell updates into a
// RowSegment; every other entry passes through unchanged. The
// laneQueue has already dropped writes overwritten by a newer write to
// the same cell or by a whole-row replacement; this pass only merges
// runs of single-cell writes on one row into a RowSegment to shrink
// wire volume.
func coalesceDeltas(updates []update.Update) []update.Update {
	out := make([]update.Update, 0, len(updates))
	i := 0
	for i < len(updates) {
		u := updates[i]
		if u.Kind != update.KindCell {
			out = append(out, u)
			i++
			continue
		}

		row := u.Row
		startCol := u.Col
		cells := []cell.Packed{u.Cell}
		seq := u.Seq
		j := i + 1
		for j < len(updates) && updates[j].Kind == update.KindCell && updates[j].Row == row && updates[j].Col == startCol+uint64(len(cells)) {
			cells = append(cells, updates[j].Cell)
			if updates[j].Seq > seq {
				seq = updates[j].Seq
			}
			j++
		}

		if len(cells) == 1 {
			out = append(out, u)
		} else {
			out = append(out, update.NewRowSegment(row, startCol, seq, cells))
		}
		i = j
	}
	return out
}
