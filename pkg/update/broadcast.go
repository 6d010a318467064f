package update

import "sync"

// DefaultLaneCapacity bounds the number of pending updates queued per
// lane per subscriber before the oldest coalescable updates are dropped.
const DefaultLaneCapacity = 512

// laneQueue is a bounded, coalescing pending-update queue for one lane
// of one subscriber. A queued update is dropped in favour of a newer
// one with an equal-or-higher seq that overwrites it completely: a Cell
// for the same cell, or a Row for the same row (which replaces queued
// Cell/Row/RowSegment updates on it). Trim/Style/Cursor updates are
// never dropped.
type laneQueue struct {
	mu     sync.Mutex
	items  []Update
	cap    int
	onPush func()
}

func newLaneQueue(capacity int, onPush func()) *laneQueue {
	return &laneQueue{cap: capacity, onPush: onPush}
}

func isCoalescable(k Kind) bool {
	switch k {
	case KindCell, KindRect, KindRow, KindRowSegment:
		return true
	default:
		return false
	}
}

func (q *laneQueue) push(u Update) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if isCoalescable(u.Kind) {
		row0, row1, _ := updateRowSpan(u)
		kept := q.items[:0:0]
		for _, it := range q.items {
			sameCell := u.Kind == KindCell && it.Kind == KindCell && it.Row == u.Row && it.Col == u.Col
			sameRow := u.Kind == KindRow && it.Kind != KindRect && rowSpansOverlap(it, row0, row1)
			if isCoalescable(it.Kind) && (sameCell || sameRow) && it.Seq <= u.Seq {
				continue // fully overwritten by the newer update
			}
			kept = append(kept, it)
		}
		q.items = append(kept, u)
	} else {
		q.items = append(q.items, u)
	}

	if len(q.items) > q.cap {
		q.dropOldestDroppable(len(q.items) - q.cap)
	}

	if q.onPush != nil {
		q.onPush()
	}
}

// dropOldestDroppable removes up to n of the oldest coalescable entries
// to enforce the capacity bound, preserving Trim/Style/Cursor entries.
func (q *laneQueue) dropOldestDroppable(n int) {
	if n <= 0 {
		return
	}
	out := make([]Update, 0, len(q.items))
	dropped := 0
	for _, it := range q.items {
		if dropped < n && isCoalescable(it.Kind) {
			dropped++
			continue
		}
		out = append(out, it)
	}
	q.items = out
}

func rowSpansOverlap(it Update, row0, row1 uint64) bool {
	itRow0, itRow1, ok := updateRowSpan(it)
	if !ok {
		return false
	}
	return itRow1 > row0 && itRow0 < row1
}

// drain atomically removes and returns all pending updates, oldest
// first, and resets the queue.
func (q *laneQueue) drain() []Update {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *laneQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Subscriber receives classified updates on three independent lanes.
// The synchronizer drains Foreground, then Recent, then History, on
// each scheduling pass.
type Subscriber struct {
	ID string

	Classifier   Classifier
	viewTop      uint64
	viewportRows int

	mu sync.RWMutex

	foreground *laneQueue
	recent     *laneQueue
	history    *laneQueue

	notify chan struct{}
}

// NewSubscriber creates a subscriber with the given lane capacity and
// initial viewport.
func NewSubscriber(id string, viewportRows int, laneCapacity int) *Subscriber {
	if laneCapacity <= 0 {
		laneCapacity = DefaultLaneCapacity
	}
	s := &Subscriber{
		ID:           id,
		Classifier:   NewClassifier(viewportRows),
		viewportRows: viewportRows,
		notify:       make(chan struct{}, 1),
	}
	signal := func() {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
	s.foreground = newLaneQueue(laneCapacity, signal)
	s.recent = newLaneQueue(laneCapacity, signal)
	s.history = newLaneQueue(laneCapacity, signal)
	return s
}

// Close releases the subscriber. Present for symmetry with Subscribe
// and to give future resource cleanup (e.g. metrics unregistration) a
// home; it does not need to stop any background goroutine today.
func (s *Subscriber) Close() {}

// SetViewport updates the subscriber's viewport, affecting future
// classification only.
func (s *Subscriber) SetViewport(top uint64, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewTop = top
	s.viewportRows = rows
}

func (s *Subscriber) viewport() (uint64, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewTop, s.viewportRows
}

// Notify returns a channel that receives a signal whenever any lane
// gains a new item; the synchronizer selects on it to wake its
// scheduling loop without polling. The scheduler always checks all
// three lanes on wake, in priority order.
func (s *Subscriber) Notify() <-chan struct{} {
	return s.notify
}

// Drain removes and returns all pending updates for a given lane.
func (s *Subscriber) Drain(l Lane) []Update {
	switch l {
	case LaneForeground:
		return s.foreground.drain()
	case LaneRecent:
		return s.recent.drain()
	default:
		return s.history.drain()
	}
}

// Pending reports the queue depth of a lane, used for budget decisions.
func (s *Subscriber) Pending(l Lane) int {
	switch l {
	case LaneForeground:
		return s.foreground.len()
	case LaneRecent:
		return s.recent.len()
	default:
		return s.history.len()
	}
}

func (s *Subscriber) enqueue(u Update) {
	top, rows := s.viewport()
	for _, frag := range s.Classifier.Fragments(u, top, rows) {
		switch frag.Lane {
		case LaneForeground:
			s.foreground.push(frag.Update)
		case LaneRecent:
			s.recent.push(frag.Update)
		default:
			s.history.push(frag.Update)
		}
	}
}

// Broadcaster fans an emulator's updates out to every subscribed
// viewer, classifying per-subscriber since each has its own viewport.
// Subscribers are tracked in a map keyed by id, added and removed
// under a mutex, with non-blocking per-subscriber sends.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]*Subscriber)}
}

// Subscribe registers sub for future Publish calls.
func (b *Broadcaster) Subscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub.ID] = sub
}

// Unsubscribe removes a subscriber; subsequent Publish calls no longer
// reach it.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Subscriber looks up a registered subscriber by id.
func (b *Broadcaster) Subscriber(id string) (*Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.subs[id]
	return s, ok
}

// Publish classifies u for every current subscriber and enqueues it on
// the appropriate lane. Never blocks: lane queues coalesce instead of
// applying backpressure to the emulator.
func (b *Broadcaster) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		sub.enqueue(u)
	}
}

// Count returns the number of currently subscribed viewers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
