package web

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sweeney/neuromod/internal/session"
	"github.com/sweeney/neuromod/internal/status"
)

// sendBuffer is the per-client outbound queue length. A client that falls
// this far behind is disconnected.
const sendBuffer = 64

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Hub fans session events and status snapshots out to websocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
	tracker *status.Tracker
}

// NewHub creates a Hub that greets new clients with a snapshot from tracker.
func NewHub(tracker *status.Tracker) *Hub {
	return &Hub{
		clients: make(map[*client]bool),
		tracker: tracker,
	}
}

func (h *Hub) addClient(conn *websocket.Conn) *client {
	c := newClient(conn)
	h.register(c)
	return c
}

// register adds c and queues the greeting snapshot. Every send on a client
// channel happens under h.mu so it cannot race the close in removeClient.
func (h *Hub) register(c *client) {
	data, err := json.Marshal(snapshotMessage(h.tracker.Snapshot()))
	if err != nil {
		log.Printf("ws: marshal snapshot: %v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = true
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// BroadcastEvent sends a session event to every client.
func (h *Hub) BroadcastEvent(e session.Event) {
	h.broadcast(eventMessage(e))
}

// BroadcastSnapshot sends the current status to every client.
func (h *Hub) BroadcastSnapshot() {
	h.broadcast(snapshotMessage(h.tracker.Snapshot()))
}

func (h *Hub) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("ws: broadcast marshal error: %v", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("ws: client too slow, disconnecting")
		h.removeClient(c)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
