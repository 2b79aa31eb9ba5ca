package engine

import (
	"sync"

	"bandwire/pkg/protocol"
)

// LatestSlot hands the newest packet from one goroutine to another. Publish
// overwrites whatever is held; Take returns a pending packet at most once.
type LatestSlot struct {
	mu      sync.Mutex
	packet  protocol.Packet
	pending bool
	dropped uint64
}

func NewLatestSlot() *LatestSlot {
	return &LatestSlot{}
}

// Publish replaces the held packet and marks it pending. It never blocks on
// the consumer.
func (s *LatestSlot) Publish(packet protocol.Packet) {
	s.mu.Lock()
	if s.pending {
		s.dropped++
	}
	s.packet = packet
	s.pending = true
	s.mu.Unlock()
}

// Take returns the pending packet and clears the pending flag, or false when
// nothing new was published since the last Take.
func (s *LatestSlot) Take() (protocol.Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending {
		return protocol.Packet{}, false
	}
	s.pending = false
	return s.packet, true
}

// Dropped counts packets overwritten before anyone took them.
func (s *LatestSlot) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
