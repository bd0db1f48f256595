package web

import (
	"encoding/json"
	"sync"

	"marketplace.mini/mkt/internal/types"
)

// backlogSize is how many recent messages a new subscriber receives.
const backlogSize = 50

// Message is the envelope pushed to live subscribers.
type Message struct {
	Type   string       `json:"type"` // "event" or "commit"
	Height int64        `json:"height,omitempty"`
	Event  *types.Event `json:"event,omitempty"`
}

// hub fans marketplace events out to SSE and websocket subscribers. Slow
// subscribers miss messages rather than block publishers.
type hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	backlog [][]byte
}

func newHub() *hub {
	return &hub{
		clients: make(map[chan []byte]struct{}),
	}
}

// subscribe registers a client and returns the backlog it should replay
// first, oldest first.
func (h *hub) subscribe(client chan []byte) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = struct{}{}
	return append([][]byte(nil), h.backlog...)
}

func (h *hub) unsubscribe(client chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client)
	}
}

func (h *hub) publish(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("marshal %s message: %v", msg.Type, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if msg.Type == "event" {
		h.backlog = append(h.backlog, data)
		if len(h.backlog) > backlogSize {
			h.backlog = h.backlog[len(h.backlog)-backlogSize:]
		}
	}
	for client := range h.clients {
		select {
		case client <- data:
		default:
			// Client is slow/blocked, skip
		}
	}
}

func (h *hub) subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
