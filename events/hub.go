package events

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/voltgrid/nlqgate/internal/logger"
)

// client wraps a websocket connection with a write lock, since gorilla
// connections allow at most one concurrent writer.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// Hub fans out payloads to connected realtime subscribers, grouped by
// company. Delivery is best effort: a failed send is logged and does not
// affect other subscribers or the caller.
type Hub struct {
	mu        sync.RWMutex
	byCompany map[string]map[*client]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		byCompany: make(map[string]map[*client]struct{}),
	}
}

// AddClient registers a connection as a subscriber for a company and returns
// a cleanup func the caller must invoke when the connection closes. Cleanup
// is idempotent and never touches the rolling event buffer.
func (h *Hub) AddClient(companyID string, conn *websocket.Conn) func() {
	if companyID == "" || conn == nil {
		return func() {}
	}

	entry := &client{conn: conn}

	h.mu.Lock()
	set, ok := h.byCompany[companyID]
	if !ok {
		set = make(map[*client]struct{})
		h.byCompany[companyID] = set
	}
	set[entry] = struct{}{}
	h.mu.Unlock()

	logger.Debug("websocket client connected", "companyId", companyID)

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.byCompany[companyID]; ok {
				delete(set, entry)
				if len(set) == 0 {
					delete(h.byCompany, companyID)
				}
			}
			h.mu.Unlock()
			logger.Debug("websocket client disconnected", "companyId", companyID)
		})
	}
}

// SubscriberCount returns the number of connected subscribers for a company.
func (h *Hub) SubscriberCount(companyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byCompany[companyID])
}

// Broadcast delivers a payload to every subscriber of the company.
func (h *Hub) Broadcast(companyID string, payload any) {
	message, err := marshalPayload(payload)
	if err != nil {
		logger.Error("failed to encode broadcast payload", "companyId", companyID, "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.byCompany[companyID]))
	for entry := range h.byCompany[companyID] {
		clients = append(clients, entry)
	}
	h.mu.RUnlock()

	for _, entry := range clients {
		if err := entry.send(message); err != nil {
			logger.Warn("failed to send websocket message", "companyId", companyID, "error", err)
		}
	}
}

// BroadcastAll delivers a payload to every subscriber of every company.
func (h *Hub) BroadcastAll(payload any) {
	message, err := marshalPayload(payload)
	if err != nil {
		logger.Error("failed to encode broadcast payload", "error", err)
		return
	}

	h.mu.RLock()
	var clients []*client
	for _, set := range h.byCompany {
		for entry := range set {
			clients = append(clients, entry)
		}
	}
	h.mu.RUnlock()

	for _, entry := range clients {
		if err := entry.send(message); err != nil {
			logger.Warn("failed to send websocket message", "error", err)
		}
	}
}

// Close closes every connection and forgets all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, set := range h.byCompany {
		for entry := range set {
			if err := entry.conn.Close(); err != nil {
				logger.Warn("error closing websocket", "error", err)
			}
		}
	}
	h.byCompany = make(map[string]map[*client]struct{})
}

func marshalPayload(payload any) ([]byte, error) {
	if s, ok := payload.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(payload)
}
