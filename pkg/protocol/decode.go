package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrorKind names the validation step a datagram failed.
type ErrorKind uint8

const (
	TooShort ErrorKind = iota + 1
	BadMagic
	UnsupportedVersion
	InvalidBandCount
	LengthMismatch
)

var (
	ErrTooShort           = errors.New("packet too short")
	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrInvalidBandCount   = errors.New("invalid band count")
	ErrLengthMismatch     = errors.New("length mismatch")
)

// Kinds lists every ErrorKind in wire-check order.
var Kinds = []ErrorKind{TooShort, BadMagic, UnsupportedVersion, InvalidBandCount, LengthMismatch}

func (k ErrorKind) String() string {
	switch k {
	case TooShort:
		return "too_short"
	case BadMagic:
		return "bad_magic"
	case UnsupportedVersion:
		return "unsupported_version"
	case InvalidBandCount:
		return "invalid_band_count"
	case LengthMismatch:
		return "length_mismatch"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case TooShort:
		return ErrTooShort
	case BadMagic:
		return ErrBadMagic
	case UnsupportedVersion:
		return ErrUnsupportedVersion
	case InvalidBandCount:
		return ErrInvalidBandCount
	case LengthMismatch:
		return ErrLengthMismatch
	default:
		return nil
	}
}

// DecodeError describes a rejected datagram together with every header field
// read before the failing check. HeaderRead counts those fields in wire order
// (magic, version, band count, flags, timestamp); fields past it are zero.
type DecodeError struct {
	Kind       ErrorKind
	Length     int
	HeaderRead int
	Magic      [2]byte
	Version    uint8
	BandCount  uint8
	Flags      uint8
	Timestamp  uint32
	Expected   int
	Actual     int
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case TooShort:
		return fmt.Sprintf("packet too short: got %d bytes, need at least %d", e.Length, HeaderSize)
	case BadMagic:
		return fmt.Sprintf("bad magic: got 0x%02x 0x%02x, want 0x%02x 0x%02x", e.Magic[0], e.Magic[1], Magic0, Magic1)
	case UnsupportedVersion:
		return fmt.Sprintf("unsupported version 0x%02x (len %d)", e.Version, e.Length)
	case InvalidBandCount:
		return fmt.Sprintf("invalid band count 0 (version 0x%02x, len %d)", e.Version, e.Length)
	case LengthMismatch:
		return fmt.Sprintf("length mismatch: expected %d bytes for %d bands, got %d", e.Expected, e.BandCount, e.Actual)
	default:
		return fmt.Sprintf("decode error kind %d", e.Kind)
	}
}

// Unwrap lets errors.Is match the per-kind sentinels.
func (e *DecodeError) Unwrap() error {
	return e.Kind.sentinel()
}

// KindOf extracts the ErrorKind from err, or 0 when err is not a DecodeError.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// Decode validates one wire record and returns the packet it carries.
// Every failure is a *DecodeError; Decode never panics on malformed input.
func Decode(raw []byte) (Packet, error) {
	n := len(raw)
	if n < HeaderSize {
		return Packet{}, &DecodeError{Kind: TooShort, Length: n}
	}

	e := DecodeError{Length: n, Magic: [2]byte{raw[0], raw[1]}, HeaderRead: 1}
	if raw[0] != Magic0 || raw[1] != Magic1 {
		e.Kind = BadMagic
		return Packet{}, &e
	}

	e.Version = raw[2]
	e.HeaderRead++
	if e.Version != Version {
		e.Kind = UnsupportedVersion
		return Packet{}, &e
	}

	e.BandCount = raw[3]
	e.HeaderRead++
	if e.BandCount == 0 {
		e.Kind = InvalidBandCount
		return Packet{}, &e
	}

	e.Flags = raw[4]
	e.Timestamp = binary.LittleEndian.Uint32(raw[5:9])
	e.HeaderRead += 2

	expected := HeaderSize + int(e.BandCount)
	if n != expected {
		e.Kind = LengthMismatch
		e.Expected = expected
		e.Actual = n
		return Packet{}, &e
	}

	bands := make([]uint8, e.BandCount)
	copy(bands, raw[HeaderSize:])
	return newPacket(e.Version, e.Flags, e.Timestamp, bands), nil
}
