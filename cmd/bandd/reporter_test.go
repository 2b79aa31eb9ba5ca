package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandwire/pkg/engine"
	"bandwire/pkg/metrics"
	"bandwire/pkg/protocol"
)

func TestReporterLogsRatesAndLatest(t *testing.T) {
	start := time.Unix(1000, 0)
	now := start
	hub := engine.NewHub()
	m := metrics.New()
	rx := engine.NewReceiver(hub,
		engine.WithObserver(m),
		engine.WithReceiverClock(func() time.Time { return now }),
	)

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	r := newReporter(rx, hub.Subscribe(), m, log, time.Hour)

	pkt, err := protocol.NewPacket(0, 7, []uint8{0, 51, 255})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		now = now.Add(250 * time.Millisecond)
		rx.Handle(protocol.Encode(pkt))
	}
	now = start.Add(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.run(ctx))

	out := buf.String()
	assert.Contains(t, out, "decoded_total=4")
	assert.Contains(t, out, "decoded_cumulative=2.0/s")
	assert.Contains(t, out, "bands=3")
	assert.Contains(t, out, "timestamp=7")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Rate.WithLabelValues("decoded", "cumulative")))
}

func TestReporterRemembersLastPacket(t *testing.T) {
	hub := engine.NewHub()
	rx := engine.NewReceiver(hub)
	var buf bytes.Buffer
	r := newReporter(rx, hub.Subscribe(), metrics.New(), slog.New(slog.NewTextHandler(&buf, nil)), 0)

	pkt, err := protocol.NewPacket(0, 1, []uint8{9})
	require.NoError(t, err)
	hub.Publish(pkt)
	r.report()
	buf.Reset()
	r.report()
	assert.Contains(t, buf.String(), "fresh=false")
	assert.Equal(t, time.Second, r.interval)
}
