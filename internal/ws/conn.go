package ws

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-access-relay/backend/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Remote-desktop data blobs
	// are chunked by the agent, so frames stay well under this.
	maxMessageSize = 256 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking in production
		return true
	},
}

// Upgrade upgrades an HTTP request to a WebSocket transport.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewConn(raw), nil
}

// Conn wraps a WebSocket connection with a buffered send queue.
// It implements registry.Transport.
type Conn struct {
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	closed bool
	reason string
}

// NewConn creates a transport around an established WebSocket connection.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Send queues a message for delivery. It never blocks: when the buffer
// is full the connection is considered wedged and is closed instead.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return model.ErrTransportClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked("send buffer full")
		return model.ErrTransportClosed
	}
}

// Close shuts the transport down. It only flips state and never touches
// the socket, so it returns immediately regardless of peer behavior; the
// write pump flushes a close frame carrying the reason on its way out.
// Safe to call more than once.
func (c *Conn) Close(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(reason)
}

func (c *Conn) closeLocked(reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.reason = reason
	close(c.send)
}

func (c *Conn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// IsOpen returns true while the transport accepts sends.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// RemoteAddr returns the peer address of the connection.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// ReadLoop pumps inbound messages to onMessage until the connection
// drops, then invokes onClose exactly once. Message handling for a given
// connection is strictly ordered because the loop is serial.
func (c *Conn) ReadLoop(onMessage func(data []byte), onClose func()) {
	defer func() {
		c.Close("")
		c.conn.Close()
		if onClose != nil {
			onClose()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		onMessage(message)
	}
}

// WriteLoop drains the send queue to the connection and emits pings on
// its own timer.
func (c *Conn) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Queue closed: any messages buffered ahead of the close
				// were already drained, so flush the close frame with
				// the recorded reason and let the socket go down.
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.closeReason())
				c.conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			// Each message goes in its own frame so JSON.parse works
			// on the receiving side.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
