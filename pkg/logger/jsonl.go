package logger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"bandwire/pkg/engine"
	"bandwire/pkg/protocol"
)

// JSONLWriter records packets taken from a slot as one JSON object per line.
type JSONLWriter struct {
	enc *json.Encoder
	now func() time.Time
}

type jsonRecord struct {
	TS           string    `json:"ts"`
	Timestamp    uint32    `json:"timestamp"`
	Version      uint8     `json:"version"`
	Flags        string    `json:"flags"`
	Interpolated bool      `json:"interpolated"`
	BandCount    int       `json:"band_count"`
	BandsHex     string    `json:"bands_hex"`
	Normalized   []float32 `json:"normalized"`
}

func NewJSONLWriter(w io.Writer) *JSONLWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLWriter{
		enc: enc,
		now: time.Now,
	}
}

// Consume drains slot every interval until ctx is done, then records whatever
// is still pending. Packets superseded between two ticks are not recorded.
func (j *JSONLWriter) Consume(ctx context.Context, slot *engine.LatestSlot, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return j.drain(slot)
		case <-ticker.C:
			if err := j.drain(slot); err != nil {
				return err
			}
		}
	}
}

func (j *JSONLWriter) drain(slot *engine.LatestSlot) error {
	pkt, ok := slot.Take()
	if !ok {
		return nil
	}
	return j.Write(pkt)
}

func (j *JSONLWriter) Write(pkt protocol.Packet) error {
	return j.enc.Encode(jsonRecord{
		TS:           j.now().UTC().Format(time.RFC3339Nano),
		Timestamp:    pkt.Timestamp(),
		Version:      pkt.Version(),
		Flags:        formatByte(pkt.Flags()),
		Interpolated: pkt.Interpolated(),
		BandCount:    pkt.BandCount(),
		BandsHex:     hex.EncodeToString(pkt.Bands()),
		Normalized:   pkt.Normalized(),
	})
}

func formatByte(b uint8) string {
	return "0x" + hex.EncodeToString([]byte{b})
}
