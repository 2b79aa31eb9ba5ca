package engine

import (
	"log/slog"
	"sync/atomic"
	"time"

	"bandwire/pkg/protocol"
)

// Observer is notified of every datagram the Receiver handles.
type Observer interface {
	ObserveDatagram(size int)
	ObservePacket(packet protocol.Packet)
	ObserveDecodeError(kind protocol.ErrorKind)
}

type noopObserver struct{}

func (noopObserver) ObserveDatagram(int)                   {}
func (noopObserver) ObservePacket(protocol.Packet)         {}
func (noopObserver) ObserveDecodeError(protocol.ErrorKind) {}

// Stats is a point-in-time view of what a Receiver has seen.
type Stats struct {
	Raw     Rate
	Decoded Rate
	Errors  map[protocol.ErrorKind]uint64
}

// Failed sums Errors.
func (s Stats) Failed() uint64 {
	var n uint64
	for _, c := range s.Errors {
		n += c
	}
	return n
}

// Receiver turns raw datagrams into published packets. Raw counts every
// datagram, Decoded only those that pass validation.
type Receiver struct {
	hub      *Hub
	raw      *RateMeter
	decoded  *RateMeter
	errors   [protocol.LengthMismatch + 1]atomic.Uint64
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

type ReceiverOption func(*Receiver)

func WithLogger(logger *slog.Logger) ReceiverOption {
	return func(r *Receiver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithObserver(o Observer) ReceiverOption {
	return func(r *Receiver) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithReceiverClock drives both rate meters from now.
func WithReceiverClock(now func() time.Time) ReceiverOption {
	return func(r *Receiver) {
		if now != nil {
			r.now = now
		}
	}
}

func NewReceiver(hub *Hub, opts ...ReceiverOption) *Receiver {
	r := &Receiver{
		hub:      hub,
		logger:   slog.New(slog.DiscardHandler),
		observer: noopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.raw = NewRateMeter(WithClock(r.now))
	r.decoded = NewRateMeter(WithClock(r.now))
	return r
}

// Handle processes one datagram. frame is not retained, so callers may reuse
// their read buffer.
func (r *Receiver) Handle(frame []byte) {
	r.raw.RecordArrival()
	r.observer.ObserveDatagram(len(frame))

	packet, err := protocol.Decode(frame)
	if err != nil {
		kind := protocol.KindOf(err)
		if int(kind) < len(r.errors) {
			r.errors[kind].Add(1)
		}
		r.observer.ObserveDecodeError(kind)
		r.logger.Debug("dropping datagram",
			slog.String("kind", kind.String()),
			slog.Int("len", len(frame)),
			slog.String("error", err.Error()),
		)
		return
	}

	r.decoded.RecordArrival()
	r.observer.ObservePacket(packet)
	r.hub.Publish(packet)
}

func (r *Receiver) Stats() Stats {
	now := r.now()
	s := Stats{
		Raw:     r.raw.Snapshot(now),
		Decoded: r.decoded.Snapshot(now),
		Errors:  make(map[protocol.ErrorKind]uint64, len(protocol.Kinds)),
	}
	for _, kind := range protocol.Kinds {
		s.Errors[kind] = r.errors[kind].Load()
	}
	return s
}

func (r *Receiver) Hub() *Hub { return r.hub }
