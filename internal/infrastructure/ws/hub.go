// Package ws pushes notifications to users over WebSocket connections.
package ws

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/domain/ports"
	"github.com/nexuscrm/mycrm/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Frame is the JSON message sent to clients.
type Frame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub tracks live connections per user. A user may hold several
// connections; each gets every frame addressed to the user.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	closed   bool
	upgrader websocket.Upgrader
	logger   *zap.Logger
	wg       sync.WaitGroup
}

var _ ports.Notifier = (*Hub)(nil)

// NewHub creates a hub accepting upgrades from the given origins; "*" or an
// empty list allows any origin.
func NewHub(logger *zap.Logger, allowedOrigins []string) *Hub {
	h := &Hub{
		clients: make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ServeWS upgrades the request and registers the connection for userID.
// It returns once the client's pumps are running.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &Client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		hub:    h,
	}
	if !h.register(c) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		return conn.Close()
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	return nil
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	metrics.WSConnected()
	h.logger.Debug("WebSocket client connected", zap.String("user_id", c.userID), zap.Int("connections", len(set)))
	return true
}

// unregister removes c and closes its send channel exactly once.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	metrics.WSDisconnected()
}

// Notify implements ports.Notifier.
func (h *Hub) Notify(userID string, n *models.Notification) {
	h.Send(userID, Frame{Type: "notification", Data: n})
}

// Send delivers frame to every connection of userID. Clients whose buffer
// is full are disconnected rather than blocking the sender.
func (h *Hub) Send(userID string, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Failed to encode WebSocket frame", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("Dropping slow WebSocket client", zap.String("user_id", userID))
			h.removeLocked(c)
		}
	}
}

// Connections returns the number of live connections of userID.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client and waits for their goroutines to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for _, set := range h.clients {
		for c := range set {
			h.removeLocked(c)
		}
	}
	h.mu.Unlock()
	h.wg.Wait()
}
