// Package broadcast fans pipeline events out to tenant-scoped WebSocket
// observers. Publishing is strictly best-effort: a slow or absent observer
// never blocks or fails the pipeline.
package broadcast

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openreply/pagegate/pkg/protocol"
)

// Publisher is the contract the pipeline consumes. The hub implements it;
// tests substitute fakes.
type Publisher interface {
	PublishToTenant(tenantID, event string, payload any)
}

// Frame is one event on the wire.
type Frame struct {
	Name    string `json:"name"`
	Payload any    `json:"payload,omitempty"`
}

const (
	writeTimeout  = 5 * time.Second
	sendBuffer    = 64
	maxClientRead = 1024
)

type client struct {
	id       string
	tenantID string
	conn     *websocket.Conn
	send     chan Frame
	closeOne sync.Once
}

func (c *client) close() {
	c.closeOne.Do(func() {
		close(c.send)
		c.conn.Close()
	})
}

// Hub is the tenant-scoped WebSocket broadcast hub.
type Hub struct {
	token    string
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub returns a hub. When token is non-empty, subscribers must present
// it as a bearer token or ?token= query parameter.
func NewHub(token string) *Hub {
	return &Hub{
		token: token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*client),
	}
}

// HandleWS upgrades the request and registers a subscriber for the tenant
// named in the ?tenant= query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && bearerToken(r) != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		http.Error(w, "tenant query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("broadcast.upgrade_failed", "error", err)
		return
	}

	c := &client{
		id:       uuid.NewString(),
		tenantID: tenantID,
		conn:     conn,
		send:     make(chan Frame, sendBuffer),
	}
	h.register(c)
	defer h.unregister(c)

	go c.writeLoop()
	c.readLoop()
}

// PublishToTenant delivers the event to every subscriber of the tenant. A
// subscriber with a full buffer drops the frame; a never-confirmed pending
// preview is how observers learn of silent failures.
func (h *Hub) PublishToTenant(tenantID, event string, payload any) {
	frame := Frame{Name: event, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.tenantID != tenantID {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slog.Debug("broadcast.frame_dropped", "client", c.id, "event", event)
		}
	}
}

// Shutdown notifies all subscribers and closes their connections.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		select {
		case c.send <- Frame{Name: protocol.EventShutdown}:
		default:
		}
		c.close()
		delete(h.clients, id)
	}
}

// Subscribers reports the current connection count, per tenant when
// tenantID is non-empty.
func (h *Hub) Subscribers(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if tenantID == "" {
		return len(h.clients)
	}
	n := 0
	for _, c := range h.clients {
		if c.tenantID == tenantID {
			n++
		}
	}
	return n
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	slog.Info("broadcast.client_connected", "client", c.id, "tenant", c.tenantID)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	slog.Info("broadcast.client_disconnected", "client", c.id)
}

func (c *client) writeLoop() {
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(frame); err != nil {
			slog.Debug("broadcast.write_failed", "client", c.id, "error", err)
			return
		}
	}
}

// readLoop drains inbound frames so pings and close frames are processed;
// subscribers are listen-only.
func (c *client) readLoop() {
	c.conn.SetReadLimit(maxClientRead)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
