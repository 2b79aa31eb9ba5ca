package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"bandwire/pkg/engine"
	"bandwire/pkg/logger"
	"bandwire/pkg/protocol"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	writer := logger.NewJSONLWriter(&buf)

	pkt, err := protocol.NewPacket(protocol.FlagInterpolatedLog, 1700000000, []uint8{0xFF, 0x00})
	if err != nil {
		t.Fatalf("new packet: %v", err)
	}
	if err := writer.Write(pkt); err != nil {
		t.Fatalf("write: %v", err)
	}

	line := strings.TrimSpace(buf.String())
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("json unmarshal failed: %v", err)
	}
	if rec["bands_hex"] != "ff00" {
		t.Fatalf("unexpected bands_hex: %v", rec["bands_hex"])
	}
	if rec["flags"] != "0x01" {
		t.Fatalf("unexpected flags: %v", rec["flags"])
	}
	if rec["interpolated"] != true {
		t.Fatalf("unexpected interpolated: %v", rec["interpolated"])
	}
	if rec["band_count"] != float64(2) {
		t.Fatalf("unexpected band_count: %v", rec["band_count"])
	}
	if rec["timestamp"] != float64(1700000000) {
		t.Fatalf("unexpected timestamp: %v", rec["timestamp"])
	}
	norm, ok := rec["normalized"].([]any)
	if !ok || len(norm) != 2 || norm[0] != float64(1) || norm[1] != float64(0) {
		t.Fatalf("unexpected normalized: %v", rec["normalized"])
	}
	tsValue, ok := rec["ts"].(string)
	if !ok || tsValue == "" {
		t.Fatalf("missing ts field")
	}
	if _, err := time.Parse(time.RFC3339Nano, tsValue); err != nil {
		t.Fatalf("invalid ts format: %v", err)
	}
}

func TestJSONLWriterConsumeDrainsSlot(t *testing.T) {
	var buf lockedBuffer
	writer := logger.NewJSONLWriter(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slot := engine.NewLatestSlot()
	pkt, err := protocol.NewPacket(0, 5, []uint8{1, 2, 3})
	if err != nil {
		t.Fatalf("new packet: %v", err)
	}
	slot.Publish(pkt)

	done := make(chan error, 1)
	go func() {
		done <- writer.Consume(ctx, slot, 5*time.Millisecond)
	}()

	deadline := time.After(time.Second)
	for !strings.Contains(buf.String(), "\n") {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for record")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("consume returned %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record per publish, got %d", len(lines))
	}
	if _, ok := slot.Take(); ok {
		t.Fatalf("slot should be drained")
	}
}

func TestJSONLWriterConsumeFlushesOnCancel(t *testing.T) {
	var buf lockedBuffer
	writer := logger.NewJSONLWriter(&buf)

	slot := engine.NewLatestSlot()
	pkt, err := protocol.NewPacket(0, 9, []uint8{4})
	if err != nil {
		t.Fatalf("new packet: %v", err)
	}
	slot.Publish(pkt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := writer.Consume(ctx, slot, time.Hour); err != nil {
		t.Fatalf("consume returned %v", err)
	}
	if !strings.Contains(buf.String(), `"timestamp":9`) {
		t.Fatalf("pending packet not flushed: %q", buf.String())
	}
}
