package handlers

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/remote-access-relay/backend/internal/relay"
	"github.com/remote-access-relay/backend/internal/ws"
)

// Connection roles selected by the "role" query parameter.
const (
	roleAgent   = "agent"
	roleBrowser = "browser"
)

// WebSocketHandler upgrades relay connections and classifies them as
// agent or browser.
type WebSocketHandler struct {
	relay *relay.Relay
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(r *relay.Relay) *WebSocketHandler {
	return &WebSocketHandler{relay: r}
}

// Serve handles GET /ws?role=agent|browser. An absent or invalid role
// falls back to browser with a warning.
func (h *WebSocketHandler) Serve(c *gin.Context) {
	role := c.Query("role")
	if role != roleAgent && role != roleBrowser {
		log.Printf("Connection from %s with missing or invalid role %q, treating as browser", c.ClientIP(), role)
		role = roleBrowser
	}

	conn, err := ws.Upgrade(c.Writer, c.Request)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	go conn.WriteLoop()

	switch role {
	case roleAgent:
		link := h.relay.AttachAgent(conn, c.ClientIP())
		go conn.ReadLoop(
			func(data []byte) { h.relay.HandleAgentMessage(link, data) },
			func() { h.relay.HandleAgentDisconnect(link) },
		)
	case roleBrowser:
		browserID := h.relay.AttachBrowser(conn)
		go conn.ReadLoop(
			func(data []byte) { h.relay.HandleBrowserMessage(browserID, data) },
			func() { h.relay.HandleBrowserDisconnect(browserID) },
		)
	}
}

// RegisterRoutes registers the WebSocket route on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Serve)
}
