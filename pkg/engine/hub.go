package engine

import (
	"sync"

	"bandwire/pkg/protocol"
)

// Hub fans each published packet out to every subscriber slot. A slow
// subscriber only ever loses intermediate packets; it never stalls Publish.
type Hub struct {
	mu      sync.RWMutex
	clients map[*LatestSlot]struct{}
	last    protocol.Packet
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*LatestSlot]struct{}),
	}
}

// Subscribe registers a new slot. If a packet was already published, the
// slot starts out holding it so late consumers do not wait for the next one.
func (h *Hub) Subscribe() *LatestSlot {
	slot := NewLatestSlot()
	h.mu.Lock()
	if !h.last.IsZero() {
		slot.Publish(h.last)
	}
	h.clients[slot] = struct{}{}
	h.mu.Unlock()
	return slot
}

func (h *Hub) Unsubscribe(slot *LatestSlot) {
	h.mu.Lock()
	delete(h.clients, slot)
	h.mu.Unlock()
}

func (h *Hub) Publish(packet protocol.Packet) {
	h.mu.Lock()
	h.last = packet
	for slot := range h.clients {
		slot.Publish(packet)
	}
	h.mu.Unlock()
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
