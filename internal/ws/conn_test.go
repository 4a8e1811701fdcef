package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-access-relay/backend/internal/model"
)

// newConnPair upgrades a loopback connection and returns the server-side
// transport together with the raw client end.
func newConnPair(t *testing.T) (*Conn, *websocket.Conn) {
	t.Helper()
	conns := make(chan *Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial test server: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-conns:
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatalf("server never delivered the upgraded connection")
		return nil, nil
	}
}

func TestConn_SendReachesPeer(t *testing.T) {
	conn, client := newConnPair(t)
	go conn.WriteLoop()

	if err := conn.Send([]byte(`{"type":"agent:heartbeat:ack"}`)); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if string(msg) != `{"type":"agent:heartbeat:ack"}` {
		t.Errorf("message altered in transit: %q", msg)
	}
}

func TestConn_CloseFrameCarriesReason(t *testing.T) {
	conn, client := newConnPair(t)
	go conn.WriteLoop()

	conn.Close(model.ReasonReplaced)

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close frame, got %v", err)
	}
	if closeErr.Code != websocket.CloseNormalClosure {
		t.Errorf("unexpected close code %d", closeErr.Code)
	}
	if closeErr.Text != model.ReasonReplaced {
		t.Errorf("close reason lost: %q", closeErr.Text)
	}
}

func TestConn_QueuedMessagesFlushBeforeCloseFrame(t *testing.T) {
	conn, client := newConnPair(t)

	// Queue before the write pump runs so drain order is observable.
	if err := conn.Send([]byte("last words")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	conn.Close("done")
	go conn.WriteLoop()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("queued message lost: %v", err)
	}
	if string(msg) != "last words" {
		t.Errorf("unexpected message %q", msg)
	}
	_, _, err = client.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok || closeErr.Text != "done" {
		t.Errorf("close frame did not follow the queued message: %v", err)
	}
}

// Close must only flip state: it never performs socket writes itself, so
// a peer that stopped reading cannot stall it or anything serialized
// behind the transport mutex.
func TestConn_CloseDoesNotBlockTransportState(t *testing.T) {
	conn, _ := newConnPair(t)
	// No write pump and a peer that never reads.

	start := time.Now()
	conn.Close("wedged peer")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("close took %v", elapsed)
	}

	if conn.IsOpen() {
		t.Errorf("transport still open after close")
	}
	if err := conn.Send([]byte("x")); err != model.ErrTransportClosed {
		t.Errorf("expected ErrTransportClosed, got %v", err)
	}

	// Closing again is a no-op, not a panic on the send channel.
	conn.Close("again")
}

func TestConn_ReadLoopDeliversAndClosesOnce(t *testing.T) {
	conn, client := newConnPair(t)
	go conn.WriteLoop()

	received := make(chan []byte, 1)
	closed := make(chan struct{})
	go conn.ReadLoop(
		func(data []byte) { received <- data },
		func() { close(closed) },
	)

	if err := client.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
	select {
	case msg := <-received:
		if string(msg) != "hello" {
			t.Errorf("unexpected message %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message never delivered")
	}

	client.Close()
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("disconnect callback never fired")
	}
}
