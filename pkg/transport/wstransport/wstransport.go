// Package wstransport implements pkg/transport.Transport over a single
// gorilla/websocket connection multiplexing ctrl and term traffic as
// distinct logical channels on one socket: ping/pong keepalive, a
// dedicated writer goroutine draining a buffered send channel, and
// websocket text/binary message types carrying transport.Message's
// binary/text distinction.
package wstransport

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beachsh/beach/pkg/transport"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// outboundMsg pairs a payload with its websocket message type.
type outboundMsg struct {
	msgType int
	data    []byte
}

// channel is one logical Channel multiplexed over the shared
// connection: inbound messages tagged for it arrive on in, outbound
// ones are handed to the connection's single writer via send.
type channel struct {
	name Kind
	in   chan transport.Message
	conn *Conn
}

// Kind distinguishes ctrl/term/extension demultiplexing within one
// websocket connection's frame stream.
type Kind string

func (c *channel) SendText(data []byte) error   { return c.conn.enqueue(websocket.TextMessage, data) }
func (c *channel) SendBinary(data []byte) error { return c.conn.enqueue(websocket.BinaryMessage, data) }

func (c *channel) Recv(ctx context.Context) (transport.Message, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return transport.Message{}, transport.ErrChannelClosed
		}
		return msg, nil
	case <-ctx.Done():
		return transport.Message{}, transport.ErrTimeout
	case <-c.conn.done:
		return transport.Message{}, transport.ErrChannelClosed
	}
}

func (c *channel) Close() error { return nil } // the shared Conn owns the socket lifecycle

// Conn is one upgraded websocket connection acting as a
// transport.Transport: it owns the single writer goroutine and fans
// inbound messages out to the ctrl/term/extension channels registered
// on it.
type Conn struct {
	ws   *websocket.Conn
	send chan outboundMsg
	done chan struct{}

	mu         sync.Mutex
	closeOnce  sync.Once
	ctrl       *channel
	term       *channel
	extensions map[string]*channel
}

// Upgrade upgrades an HTTP request to a websocket connection and
// starts its reader/writer goroutines. The caller is responsible for
// calling Close when the session ends.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, &transport.SetupError{Op: "upgrade", Err: err}
	}

	c := &Conn{
		ws:         ws,
		send:       make(chan outboundMsg, sendBuffer),
		done:       make(chan struct{}),
		extensions: make(map[string]*channel),
	}
	c.ctrl = &channel{name: Kind(transport.ChannelControl), in: make(chan transport.Message, 64), conn: c}
	c.term = &channel{name: Kind(transport.ChannelTerm), in: make(chan transport.Message, 256), conn: c}

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func (c *Conn) Control() transport.Channel { return c.ctrl }
func (c *Conn) Output() transport.Channel  { return c.term }

// SubscribeExtension registers (or returns an existing) channel for
// namespace; inbound Extension frames addressed to it are delivered
// here once the caller decodes the envelope and routes by namespace
// (the wire-level Extension frame carries its own namespace field, so
// the demux happens one layer up in pkg/sync/pkg/input; this channel
// exists so an extension consumer has something to Recv from).
func (c *Conn) SubscribeExtension(namespace string) (transport.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.extensions[namespace]; ok {
		return ch, nil
	}
	ch := &channel{name: Kind(namespace), in: make(chan transport.Message, 32), conn: c}
	c.extensions[namespace] = ch
	return ch, nil
}

// SendExtension writes a raw payload; callers typically wrap payload
// in a wire.HostFrame{Kind: HFExtension} before calling this.
func (c *Conn) SendExtension(namespace, kind string, payload []byte) error {
	return c.enqueue(websocket.BinaryMessage, payload)
}

func (c *Conn) enqueue(msgType int, data []byte) error {
	select {
	case c.send <- outboundMsg{msgType: msgType, data: data}:
		return nil
	case <-c.done:
		return transport.ErrChannelClosed
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.ws.Close()
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(msg.msgType, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readLoop() {
	defer c.closeOnce.Do(func() { close(c.done) })
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("wstransport: read error: %v", err)
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		m := transport.Message{Binary: msgType == websocket.BinaryMessage, Data: data}

		// ClientFrames arrive as either codec regardless of kind, so a
		// single socket demultiplexes ctrl vs term by who is waiting:
		// RequestBackfill/Input/Resize are all handshake/control traffic
		// in this protocol, so every inbound message is ctrl traffic.
		// Output is host->viewer only; the viewer never sends on it.
		select {
		case c.ctrl.in <- m:
		default:
			log.Printf("wstransport: ctrl channel full, dropping message")
		}
	}
}
