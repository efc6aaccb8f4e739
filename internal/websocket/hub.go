package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// UsageUpdate is pushed to an account's connected clients after each
// recorded metered action. Limit is -1 when unlimited.
type UsageUpdate struct {
	Type      string    `json:"type"`
	Feature   string    `json:"feature"`
	Action    string    `json:"action"`
	Tier      string    `json:"tier"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	At        time.Time `json:"at"`
}

// NewUsageUpdate fills Remaining from used and limit.
func NewUsageUpdate(feature, action, tier string, used, limit int, at time.Time) UsageUpdate {
	remaining := -1
	if limit >= 0 {
		remaining = max(limit-used, 0)
	}
	return UsageUpdate{
		Type:      "usage_recorded",
		Feature:   feature,
		Action:    action,
		Tier:      tier,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		At:        at.UTC(),
	}
}

// Observer is told when clients come and go.
type Observer interface {
	ClientConnected()
	ClientDisconnected()
}

// Hub tracks connected clients per account and fans updates out to them.
type Hub struct {
	mu       sync.RWMutex
	clients  map[int64]map[*Client]struct{}
	logger   *slog.Logger
	observer Observer
}

func NewHub(logger *slog.Logger, observer Observer) *Hub {
	return &Hub{
		clients:  make(map[int64]map[*Client]struct{}),
		logger:   logger,
		observer: observer,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.accountID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.accountID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.ClientConnected()
	}
}

// Unregister removes a client and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	removed := false
	h.mu.Lock()
	if set, ok := h.clients[c.accountID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			close(c.send)
			removed = true
		}
		if len(set) == 0 {
			delete(h.clients, c.accountID)
		}
	}
	h.mu.Unlock()

	if removed && h.observer != nil {
		h.observer.ClientDisconnected()
	}
}

// Publish sends msg to every client of accountID. Slow clients drop messages.
func (h *Hub) Publish(accountID int64, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal usage update", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[accountID] {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
