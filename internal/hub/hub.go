// Package hub fans cycle updates out to WebSocket subscribers. Clients
// subscribe for their organization; events for other tenants never reach
// them.
package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
	// sendBuffer is the per-client outbound queue. A client that can't
	// drain it is dropped rather than blocking the broadcast.
	sendBuffer = 16
)

// Hub tracks connected clients grouped by organization.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*client]struct{} // orgID -> clients
	closed  bool
	upgrade websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		rooms: make(map[string]map[*client]struct{}),
		upgrade: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth happens before the upgrade; origin policy is the
			// proxy's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish implements cycle.Notifier: marshal once, fan out to the org's
// room. Slow clients are disconnected, never waited on.
func (h *Hub) Publish(orgID string, ev cycle.Event) error {
	payload, err := json.Marshal(map[string]interface{}{
		"type":  "cycle.updated",
		"event": ev,
	})
	if err != nil {
		return fmt.Errorf("hub: marshal event: %w", err)
	}

	h.mu.RLock()
	room := h.rooms[orgID]
	var stale []*client
	for c := range room {
		select {
		case c.send <- payload:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		log.Printf("hub: dropping slow client in org %s", orgID)
		metrics.RecordNotifyFailure("ws")
		h.remove(orgID, c)
	}
	return nil
}

// ServeWS upgrades an authenticated request and joins the client to its
// organization's room. Blocks until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, orgID string) error {
	conn, err := h.upgrade.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("hub: upgrade: %w", err)
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return fmt.Errorf("hub: closed")
	}
	if h.rooms[orgID] == nil {
		h.rooms[orgID] = make(map[*client]struct{})
	}
	h.rooms[orgID][c] = struct{}{}
	h.mu.Unlock()
	metrics.WSClientConnected()

	go h.writeLoop(orgID, c)
	h.readLoop(orgID, c)
	return nil
}

// readLoop discards inbound frames; the socket is publish-only. It exists
// to process pongs and detect disconnects.
func (h *Hub) readLoop(orgID string, c *client) {
	defer h.remove(orgID, c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(orgID string, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer h.remove(orgID, c)
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// remove detaches and closes a client. Safe to call more than once.
func (h *Hub) remove(orgID string, c *client) {
	h.mu.Lock()
	room := h.rooms[orgID]
	if _, ok := room[c]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, orgID)
		}
		close(c.send)
		metrics.WSClientDisconnected()
	}
	h.mu.Unlock()
	c.conn.Close()
}

// ClientCount reports connected clients for an organization.
func (h *Hub) ClientCount(orgID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[orgID])
}

// Close drops every client and rejects future joins.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for _, room := range rooms {
		for c := range room {
			close(c.send)
			c.conn.Close()
			metrics.WSClientDisconnected()
		}
	}
}
