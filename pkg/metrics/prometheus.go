package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bandwire/pkg/engine"
	"bandwire/pkg/protocol"
)

// Metrics implements engine.Observer on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	DatagramsReceived prometheus.Counter
	DatagramBytes     prometheus.Counter
	PacketsDecoded    prometheus.Counter
	DecodeErrors      *prometheus.CounterVec
	BandCount         prometheus.Gauge
	LastTimestamp     prometheus.Gauge
	Rate              *prometheus.GaugeVec
	SlotDropped       *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "bandwire_datagrams_received_total",
			Help: "Datagrams handed to the decoder, valid or not",
		}),
		DatagramBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "bandwire_datagram_bytes_total",
			Help: "Bytes received across all datagrams",
		}),
		PacketsDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "bandwire_packets_decoded_total",
			Help: "Datagrams that decoded into a valid spectrum packet",
		}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bandwire_decode_errors_total",
			Help: "Rejected datagrams by failure kind",
		}, []string{"kind"}),
		BandCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bandwire_last_band_count",
			Help: "Band count of the most recently decoded packet",
		}),
		LastTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bandwire_last_packet_timestamp_seconds",
			Help: "Sender timestamp of the most recently decoded packet",
		}),
		Rate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bandwire_rate_per_second",
			Help: "Arrival rate by signal (raw, decoded) and method (cumulative, windowed)",
		}, []string{"signal", "method"}),
		SlotDropped: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bandwire_consumer_dropped_packets",
			Help: "Packets superseded before a consumer took them",
		}, []string{"consumer"}),
	}
	for _, kind := range protocol.Kinds {
		m.DecodeErrors.WithLabelValues(kind.String())
	}
	return m
}

func (m *Metrics) ObserveDatagram(size int) {
	m.DatagramsReceived.Inc()
	m.DatagramBytes.Add(float64(size))
}

func (m *Metrics) ObservePacket(packet protocol.Packet) {
	m.PacketsDecoded.Inc()
	m.BandCount.Set(float64(packet.BandCount()))
	m.LastTimestamp.Set(float64(packet.Timestamp()))
}

func (m *Metrics) ObserveDecodeError(kind protocol.ErrorKind) {
	m.DecodeErrors.WithLabelValues(kind.String()).Inc()
}

// ObserveStats publishes a receiver snapshot as gauges.
func (m *Metrics) ObserveStats(s engine.Stats) {
	m.Rate.WithLabelValues("raw", "cumulative").Set(s.Raw.Cumulative)
	m.Rate.WithLabelValues("raw", "windowed").Set(s.Raw.Windowed)
	m.Rate.WithLabelValues("decoded", "cumulative").Set(s.Decoded.Cumulative)
	m.Rate.WithLabelValues("decoded", "windowed").Set(s.Decoded.Windowed)
}

func (m *Metrics) ObserveSlot(consumer string, slot *engine.LatestSlot) {
	m.SlotDropped.WithLabelValues(consumer).Set(float64(slot.Dropped()))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
