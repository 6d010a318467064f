// Package recording writes and reads a session's terminal output as
// asciinema-format JSONL, both for `beach rec` playback and to seed
// History-lane backfill when a viewer subscribes to a session whose
// live grid has already trimmed the rows it needs. Buffering is
// UTF-8-boundary-safe and fsyncs are batched; the reader side replays
// events through pkg/emulator into a pkg/grid rather than to a relay.
package recording

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Header is the asciinema v2 cast header.
type Header struct {
	Version   uint32            `json:"version"`
	Width     uint32            `json:"width"`
	Height    uint32            `json:"height"`
	Timestamp int64             `json:"timestamp,omitempty"`
	Command   string            `json:"command,omitempty"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// EventType discriminates a cast event's kind.
type EventType string

const (
	EventOutput EventType = "o"
	EventInput  EventType = "i"
	EventResize EventType = "r"
	EventMarker EventType = "m"
)

// Event is one decoded asciinema event.
type Event struct {
	Time float64
	Type EventType
	Data string
}

// Writer appends asciinema-format events to an underlying io.Writer
// (typically a session's recording file).
type Writer struct {
	writer     io.Writer
	header     *Header
	startTime  time.Time
	mutex      sync.Mutex
	closed     bool
	buffer     []byte
	flushTimer *time.Timer
	syncTimer  *time.Timer
	needsSync  bool
}

// NewWriter builds a Writer that will emit header as its first line.
func NewWriter(w io.Writer, header *Header) *Writer {
	return &Writer{
		writer:    w,
		header:    header,
		startTime: time.Now(),
		buffer:    make([]byte, 0, 4096),
	}
}

// WriteHeader emits the cast header line. Must be called before any
// WriteOutput/WriteInput/WriteResize.
func (w *Writer) WriteHeader() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return fmt.Errorf("recording: writer closed")
	}
	if w.header.Timestamp == 0 {
		w.header.Timestamp = w.startTime.Unix()
	}

	data, err := json.Marshal(w.header)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w.writer, "%s\n", data)
	return err
}

// WriteOutput records a chunk of PTY output.
func (w *Writer) WriteOutput(data []byte) error { return w.writeEvent(EventOutput, data) }

// WriteInput records a chunk of viewer input.
func (w *Writer) WriteInput(data []byte) error { return w.writeEvent(EventInput, data) }

// WriteResize records a Resize event.
func (w *Writer) WriteResize(cols, rows uint32) error {
	return w.writeEvent(EventResize, []byte(fmt.Sprintf("%dx%d", cols, rows)))
}

func (w *Writer) writeEvent(t EventType, data []byte) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return fmt.Errorf("recording: writer closed")
	}

	w.buffer = append(w.buffer, data...)
	complete, remaining := extractCompleteUTF8(w.buffer)
	w.buffer = remaining

	if len(complete) == 0 {
		if len(w.buffer) > 0 {
			w.scheduleFlush()
		}
		return nil
	}

	return w.emit(t, complete)
}

func (w *Writer) emit(t EventType, data []byte) error {
	elapsed := time.Since(w.startTime).Seconds()
	event := []interface{}{elapsed, string(t), string(data)}

	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.writer, "%s\n", encoded); err != nil {
		return err
	}
	w.scheduleBatchSync()
	return nil
}

// scheduleFlush forces out incomplete UTF-8 data after a short delay,
// so a multi-byte rune split across two PTY reads doesn't stall the
// recording indefinitely.
func (w *Writer) scheduleFlush() {
	if w.flushTimer != nil {
		w.flushTimer.Stop()
	}
	w.flushTimer = time.AfterFunc(5*time.Millisecond, func() {
		w.mutex.Lock()
		defer w.mutex.Unlock()
		if w.closed || len(w.buffer) == 0 {
			return
		}
		w.emit(EventOutput, w.buffer)
		w.buffer = w.buffer[:0]
	})
}

// scheduleBatchSync batches fsync calls across a burst of writes.
func (w *Writer) scheduleBatchSync() {
	w.needsSync = true
	if w.syncTimer != nil {
		w.syncTimer.Stop()
	}
	w.syncTimer = time.AfterFunc(5*time.Millisecond, func() {
		if w.needsSync {
			if f, ok := w.writer.(*os.File); ok {
				f.Sync()
			}
			w.needsSync = false
		}
	})
}

// Close flushes any buffered partial event and closes the underlying
// writer if it implements io.Closer.
func (w *Writer) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return nil
	}
	if w.flushTimer != nil {
		w.flushTimer.Stop()
	}
	if w.syncTimer != nil {
		w.syncTimer.Stop()
	}
	if len(w.buffer) > 0 {
		w.emit(EventOutput, w.buffer)
	}
	w.closed = true

	if closer, ok := w.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func extractCompleteUTF8(data []byte) (complete, remaining []byte) {
	if len(data) == 0 {
		return nil, nil
	}

	lastValid := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-4; i-- {
		if data[i]&0x80 == 0 {
			break
		}
		if data[i]&0xC0 == 0xC0 {
			expected := 1
			switch {
			case data[i]&0xF8 == 0xF0:
				expected = 4
			case data[i]&0xF0 == 0xE0:
				expected = 3
			case data[i]&0xE0 == 0xC0:
				expected = 2
			}
			if i+expected > len(data) {
				lastValid = i
			}
			break
		}
	}
	return data[:lastValid], data[lastValid:]
}

// Reader decodes a cast file's header followed by its event stream.
type Reader struct {
	decoder    *json.Decoder
	header     *Header
	headerRead bool
}

// NewReader wraps r for sequential event decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{decoder: json.NewDecoder(r)}
}

// Header returns the cast header, reading it first if necessary.
func (r *Reader) Header() (*Header, error) {
	if r.headerRead {
		return r.header, nil
	}
	var h Header
	if err := r.decoder.Decode(&h); err != nil {
		return nil, err
	}
	r.header = &h
	r.headerRead = true
	return &h, nil
}

// Next returns the next Event, or io.EOF once the stream is exhausted.
func (r *Reader) Next() (*Event, error) {
	if !r.headerRead {
		if _, err := r.Header(); err != nil {
			return nil, err
		}
	}

	var raw []interface{}
	if err := r.decoder.Decode(&raw); err != nil {
		return nil, err
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("recording: invalid event shape")
	}
	ts, ok := raw[0].(float64)
	if !ok {
		return nil, fmt.Errorf("recording: invalid event timestamp")
	}
	kind, ok := raw[1].(string)
	if !ok {
		return nil, fmt.Errorf("recording: invalid event type")
	}
	data, ok := raw[2].(string)
	if !ok {
		return nil, fmt.Errorf("recording: invalid event data")
	}
	return &Event{Time: ts, Type: EventType(kind), Data: data}, nil
}

// Replay decodes every Output event in the cast and writes its bytes
// to sink (typically a *pkg/emulator.Emulator), reconstructing the
// grid state the recording represents. Used to seed History-lane
// backfill for rows a live session has already trimmed from memory.
func Replay(r io.Reader, sink io.Writer) error {
	cr := NewReader(r)
	if _, err := cr.Header(); err != nil {
		return fmt.Errorf("recording: read header: %w", err)
	}

	for {
		ev, err := cr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("recording: read event: %w", err)
		}
		if ev.Type != EventOutput {
			continue
		}
		if _, err := sink.Write([]byte(ev.Data)); err != nil {
			return fmt.Errorf("recording: replay write: %w", err)
		}
	}
}
