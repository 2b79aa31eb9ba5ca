package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandwire/pkg/protocol"
	"bandwire/pkg/transport"
)

func TestMockLevelsInRange(t *testing.T) {
	for _, bands := range []int{1, 8, 64, 255} {
		for _, ts := range []float64{0, 0.37, 1.25, 4.9} {
			levels := mockLevels(ts, bands)
			require.Len(t, levels, bands)
			for i, l := range levels {
				if l < mockNoiseFloor || l > 1 {
					t.Fatalf("bands=%d t=%v level[%d]=%v out of range", bands, ts, i, l)
				}
			}
		}
	}
}

func TestMockDatagramCorruptsEveryNth(t *testing.T) {
	opts := sendOptions{hz: 60, bands: 16, interpolated: true, badEvery: 3}
	ts := time.Unix(1700000000, 0)

	var good, bad int
	for seq := 0; seq < 9; seq++ {
		datagram, err := mockDatagram(opts, seq, float64(seq)/60, ts)
		require.NoError(t, err)
		pkt, err := protocol.Decode(datagram)
		if err != nil {
			assert.Equal(t, protocol.BadMagic, protocol.KindOf(err))
			assert.Equal(t, 2, seq%3, "seq %d", seq)
			bad++
			continue
		}
		good++
		assert.Equal(t, 16, pkt.BandCount())
		assert.True(t, pkt.Interpolated())
		assert.Equal(t, uint32(1700000000), pkt.Timestamp())
	}
	assert.Equal(t, 6, good)
	assert.Equal(t, 3, bad)
}

func TestSendLoopStopsAtCount(t *testing.T) {
	opts := sendOptions{hz: 1000, bands: 4, count: 5}
	var sent [][]byte
	n, err := sendLoop(context.Background(), opts, time.Now, func(b []byte) error {
		sent = append(sent, b)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Len(t, sent, 5)
	for _, b := range sent {
		_, err := protocol.Decode(b)
		require.NoError(t, err)
	}
}

func TestSendLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := sendLoop(ctx, sendOptions{hz: 10, bands: 4}, time.Now, func([]byte) error {
		t.Fatal("emit after cancel")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWriteMockCaptureReplays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mock.pcap")
	opts := sendOptions{hz: 50, bands: 8, count: 10}
	require.NoError(t, writeMockCapture(path, "127.0.0.1:9999", opts, time.Unix(1700000000, 0)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var frames [][]byte
	n, err := transport.ReplayPCAP(context.Background(), bytes.NewReader(data), func(frame []byte) {
		frames = append(frames, append([]byte(nil), frame...))
	}, transport.WithReplayPort(9999))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	for _, f := range frames {
		pkt, err := protocol.Decode(f)
		require.NoError(t, err)
		assert.Equal(t, 8, pkt.BandCount())
	}
}
