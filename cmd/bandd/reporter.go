package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bandwire/pkg/engine"
	"bandwire/pkg/metrics"
	"bandwire/pkg/protocol"
)

// reporter logs both arrival rates and a summary of the freshest packet on
// every tick, and mirrors them into the Prometheus gauges.
type reporter struct {
	receiver *engine.Receiver
	slot     *engine.LatestSlot
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	watched  map[string]*engine.LatestSlot
	last     protocol.Packet
}

func newReporter(rx *engine.Receiver, slot *engine.LatestSlot, m *metrics.Metrics, log *slog.Logger, interval time.Duration) *reporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &reporter{
		receiver: rx,
		slot:     slot,
		metrics:  m,
		logger:   log,
		interval: interval,
	}
}

func (r *reporter) run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.report()
			return nil
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *reporter) report() {
	stats := r.receiver.Stats()
	r.metrics.ObserveStats(stats)
	r.metrics.ObserveSlot("stats", r.slot)
	for name, slot := range r.watched {
		r.metrics.ObserveSlot(name, slot)
	}

	r.logger.Info("rate",
		slog.Uint64("raw_total", stats.Raw.Total),
		slog.String("raw_cumulative", formatRate(stats.Raw.Cumulative)),
		slog.String("raw_windowed", formatRate(stats.Raw.Windowed)),
		slog.Uint64("decoded_total", stats.Decoded.Total),
		slog.String("decoded_cumulative", formatRate(stats.Decoded.Cumulative)),
		slog.String("decoded_windowed", formatRate(stats.Decoded.Windowed)),
		slog.Uint64("failed", stats.Failed()),
	)

	pkt, fresh := r.slot.Take()
	if fresh {
		r.last = pkt
	}
	if r.last.IsZero() {
		return
	}
	r.logger.Info("latest",
		slog.Bool("fresh", fresh),
		slog.Int("bands", r.last.BandCount()),
		slog.Uint64("timestamp", uint64(r.last.Timestamp())),
		slog.String("peak", fmt.Sprintf("%.3f", r.last.Peak())),
		slog.String("mean", fmt.Sprintf("%.3f", r.last.Mean())),
		slog.String("flags", fmt.Sprintf("0x%02x", r.last.Flags())),
		slog.Bool("interpolated", r.last.Interpolated()),
	)
}

func formatRate(pps float64) string {
	return fmt.Sprintf("%.1f/s", pps)
}
