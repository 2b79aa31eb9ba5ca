package protocol

import (
	"encoding/binary"
	"math"
)

// Encode serializes p into its wire form. It is the inverse of Decode.
func Encode(p Packet) []byte {
	return AppendEncode(make([]byte, 0, HeaderSize+len(p.bands)), p)
}

// AppendEncode appends the wire form of p to dst.
func AppendEncode(dst []byte, p Packet) []byte {
	dst = append(dst, Magic0, Magic1, p.version, uint8(len(p.bands)), p.flags)
	dst = binary.LittleEndian.AppendUint32(dst, p.timestamp)
	return append(dst, p.bands...)
}

// FromLevels quantizes float amplitudes into a packet the way analyzers emit
// them: values are clamped to [0, 1], scaled by 255 and truncated, and only
// the first MaxBands levels are kept.
func FromLevels(levels []float32, flags uint8, timestamp uint32) (Packet, error) {
	if len(levels) > MaxBands {
		levels = levels[:MaxBands]
	}
	bands := make([]uint8, len(levels))
	for i, level := range levels {
		bands[i] = Quantize(level)
	}
	return NewPacket(flags, timestamp, bands)
}

// Quantize converts one amplitude in [0, 1] to its raw band value.
func Quantize(level float32) uint8 {
	switch {
	case math.IsNaN(float64(level)) || level <= 0:
		return 0
	case level >= 1:
		return 255
	default:
		return uint8(level * 255)
	}
}
