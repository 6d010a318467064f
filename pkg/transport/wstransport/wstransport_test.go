package wstransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestUpgradeReceivesClientMessages(t *testing.T) {
	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		msg, err := conn.Control().Recv(context.Background())
		if err != nil {
			t.Errorf("Recv: %v", err)
			return
		}
		received <- msg.Data
	}))
	defer server.Close()

	wsURL := strings.Replace(server.URL, "http://", "ws://", 1)
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)); err != nil {
		t.Fatalf("client write: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `{"type":"hello"}` {
			t.Errorf("received %q, want hello frame", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive message")
	}
}

func TestConnSendBinaryReachesClient(t *testing.T) {
	ready := make(chan *Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("Upgrade: %v", err)
			return
		}
		ready <- conn
		// Keep the handler alive long enough for the server-side
		// writer goroutine to flush the outbound message.
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	wsURL := strings.Replace(server.URL, "http://", "ws://", 1)
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer client.Close()

	conn := <-ready
	defer conn.Close()

	if err := conn.Output().SendBinary([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendBinary: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("msgType = %d, want BinaryMessage", msgType)
	}
	if len(data) != 4 || data[0] != 1 {
		t.Errorf("data = %v, want [1 2 3 4]", data)
	}
}

func TestRecvReturnsTimeoutOnContextDeadline(t *testing.T) {
	ready := make(chan *Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			return
		}
		ready <- conn
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	wsURL := strings.Replace(server.URL, "http://", "ws://", 1)
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}
	defer client.Close()

	conn := <-ready
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = conn.Control().Recv(ctx)
	if err == nil {
		t.Fatal("expected a timeout error with no inbound message")
	}
}
