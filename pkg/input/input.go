// Package input implements the viewer→host input and resize path:
// per-input sequence acknowledgment, dedupe on resend, and
// 50ms-coalesced resize handling delivered as a ClientFrame over any
// pkg/transport.Channel rather than a local FIFO command.
package input

import (
	"errors"
	"sync"
	"time"
)

// ErrInputRejected is returned when the PTY writer cannot accept
// input (e.g. the process has exited). The host surfaces this as the
// absence of an InputAck; the viewer notices via timeout and may
// resend with the same seq, which the Handler dedupes.
var ErrInputRejected = errors.New("input: rejected by pty writer")

// Writer is the minimal PTY-write surface the Handler depends on.
// Satisfied by *session.PTY in this module's session package.
type Writer interface {
	Write(data []byte) (int, error)
}

// Resizer performs the actual PTY/grid resize once a coalesced Resize
// request fires. Satisfied by a small host-side adapter wrapping
// *session.Session.Resize plus the grid re-dimension/snapshot fan-out.
type Resizer interface {
	Resize(cols, rows uint16) error
}

// Handler applies Input frames to a PTY writer with monotonic-ack
// dedupe, and Resize frames to a Resizer via a coalescing window.
// One Handler serves one subscription.
type Handler struct {
	mu        sync.Mutex
	writer    Writer
	lastAcked uint64
	haveAcked bool
	coalescer *resizeCoalescer
}

// NewHandler builds a Handler writing accepted input to w and
// forwarding coalesced resizes to r.
func NewHandler(w Writer, r Resizer) *Handler {
	h := &Handler{writer: w}
	h.coalescer = newResizeCoalescer(50*time.Millisecond, r)
	return h
}

// HandleInput writes data to the PTY and returns the seq to ack, or
// ErrInputRejected if the write failed (seq is still returned so the
// caller can log it, but no ack should be sent). A resend of an
// already-acked seq is deduped: the bytes are not rewritten, and the
// same seq is returned for re-acking, since acks are idempotent from
// the viewer's perspective.
func (h *Handler) HandleInput(seq uint64, data []byte) (ackSeq uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.haveAcked && seq <= h.lastAcked {
		return seq, nil
	}

	if _, err := h.writer.Write(data); err != nil {
		return seq, ErrInputRejected
	}

	h.lastAcked = seq
	h.haveAcked = true
	return seq, nil
}

// HandleResize feeds a Resize request into the 50ms coalescing
// window; the underlying Resizer fires once per quiet period.
func (h *Handler) HandleResize(cols, rows uint16) {
	h.coalescer.submit(cols, rows)
}

// Stop releases the coalescer's timer. Call when the subscription ends.
func (h *Handler) Stop() {
	h.coalescer.stop()
}

// resizeCoalescer collapses a burst of Resize requests arriving
// within window into a single call to the Resizer, firing after the
// last request in the burst has been quiet for window.
type resizeCoalescer struct {
	mu      sync.Mutex
	window  time.Duration
	target  Resizer
	timer   *time.Timer
	pending bool
	cols    uint16
	rows    uint16
	stopped bool
}

func newResizeCoalescer(window time.Duration, target Resizer) *resizeCoalescer {
	return &resizeCoalescer{window: window, target: target}
}

func (c *resizeCoalescer) submit(cols, rows uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	c.cols, c.rows = cols, rows
	c.pending = true

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.window, c.fire)
}

func (c *resizeCoalescer) fire() {
	c.mu.Lock()
	if c.stopped || !c.pending {
		c.mu.Unlock()
		return
	}
	cols, rows := c.cols, c.rows
	c.pending = false
	c.mu.Unlock()

	c.target.Resize(cols, rows)
}

func (c *resizeCoalescer) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
}
