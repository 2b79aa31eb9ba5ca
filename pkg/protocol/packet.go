package protocol

import (
	"fmt"
	"slices"
)

const (
	Magic0 = 0xAD
	Magic1 = 0x01

	// Version is the only protocol version Decode accepts.
	Version = 0x01

	HeaderSize = 9
	MaxBands   = 255
	MaxSize    = HeaderSize + MaxBands
)

// FlagInterpolatedLog marks bands that were interpolated onto a logarithmic scale.
const FlagInterpolatedLog uint8 = 1 << 0

// Packet is one decoded spectrum frame. It is never mutated after construction;
// slice accessors hand out copies.
type Packet struct {
	version    uint8
	flags      uint8
	timestamp  uint32
	bands      []uint8
	normalized []float32
}

// NewPacket builds a packet at the current protocol version from raw band values.
func NewPacket(flags uint8, timestamp uint32, bands []uint8) (Packet, error) {
	if len(bands) == 0 || len(bands) > MaxBands {
		return Packet{}, fmt.Errorf("band count %d out of range 1..%d", len(bands), MaxBands)
	}
	return newPacket(Version, flags, timestamp, slices.Clone(bands)), nil
}

// newPacket takes ownership of bands.
func newPacket(version, flags uint8, timestamp uint32, bands []uint8) Packet {
	normalized := make([]float32, len(bands))
	for i, b := range bands {
		normalized[i] = Normalize(b)
	}
	return Packet{
		version:    version,
		flags:      flags,
		timestamp:  timestamp,
		bands:      bands,
		normalized: normalized,
	}
}

// Normalize maps a raw band sample onto [0, 1].
func Normalize(raw uint8) float32 {
	return float32(raw) / 255.0
}

func (p Packet) Version() uint8    { return p.version }
func (p Packet) Flags() uint8      { return p.flags }
func (p Packet) Timestamp() uint32 { return p.timestamp }
func (p Packet) BandCount() int    { return len(p.bands) }

// IsZero reports whether p is the zero Packet rather than a decoded one.
func (p Packet) IsZero() bool { return len(p.bands) == 0 }

// Interpolated reports whether the sender marked the bands as interpolated log-scale.
func (p Packet) Interpolated() bool { return p.flags&FlagInterpolatedLog != 0 }

func (p Packet) Bands() []uint8 { return slices.Clone(p.bands) }

func (p Packet) Normalized() []float32 { return slices.Clone(p.normalized) }

func (p Packet) Band(i int) uint8 { return p.bands[i] }

func (p Packet) NormalizedAt(i int) float32 { return p.normalized[i] }

// Peak returns the largest normalized band value.
func (p Packet) Peak() float32 {
	var peak float32
	for _, v := range p.normalized {
		peak = max(peak, v)
	}
	return peak
}

// Mean returns the average normalized band value.
func (p Packet) Mean() float32 {
	if len(p.normalized) == 0 {
		return 0
	}
	var sum float32
	for _, v := range p.normalized {
		sum += v
	}
	return sum / float32(len(p.normalized))
}

func (p Packet) Equal(other Packet) bool {
	return p.version == other.version &&
		p.flags == other.flags &&
		p.timestamp == other.timestamp &&
		slices.Equal(p.bands, other.bands) &&
		slices.Equal(p.normalized, other.normalized)
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet{Version:%d, Bands:%d, Flags:0x%02x, Timestamp:%d}",
		p.version, len(p.bands), p.flags, p.timestamp)
}
