package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

type replayConfig struct {
	port     int
	realtime bool
	speed    float64
	logger   *slog.Logger
}

type ReplayOption func(*replayConfig)

// WithReplayPort keeps only UDP datagrams addressed to port. Zero keeps all.
func WithReplayPort(port int) ReplayOption {
	return func(c *replayConfig) {
		if port > 0 {
			c.port = port
		}
	}
}

// WithRealtime paces delivery by capture timestamps, divided by speed.
func WithRealtime(speed float64) ReplayOption {
	return func(c *replayConfig) {
		c.realtime = true
		if speed > 0 {
			c.speed = speed
		}
	}
}

func WithReplayLogger(logger *slog.Logger) ReplayOption {
	return func(c *replayConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// ReplayPCAPFile opens path and replays it with ReplayPCAP.
func ReplayPCAPFile(ctx context.Context, path string, handle Handler, opts ...ReplayOption) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open pcap %s: %w", path, err)
	}
	defer f.Close()
	return ReplayPCAP(ctx, f, handle, opts...)
}

// ReplayPCAP feeds the UDP payloads of a libpcap capture to handle, one
// datagram per captured packet, and returns how many were delivered.
func ReplayPCAP(ctx context.Context, r io.Reader, handle Handler, opts ...ReplayOption) (int, error) {
	cfg := replayConfig{
		speed:  1,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("read pcap header: %w", err)
	}
	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.NoCopy = true

	var (
		delivered int
		first     time.Time
		started   time.Time
	)
	for {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			cfg.logger.Info("pcap replay complete", slog.Int("datagrams", delivered))
			return delivered, nil
		}
		if err != nil {
			return delivered, fmt.Errorf("read pcap packet: %w", err)
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok {
			continue
		}
		if cfg.port > 0 && int(udp.DstPort) != cfg.port {
			continue
		}

		if cfg.realtime {
			ts := packet.Metadata().Timestamp
			if first.IsZero() {
				first, started = ts, time.Now()
			} else {
				offset := time.Duration(float64(ts.Sub(first)) / cfg.speed)
				if err := sleepUntil(ctx, started.Add(offset)); err != nil {
					return delivered, err
				}
			}
		}

		handle(udp.Payload)
		delivered++
	}
}

func sleepUntil(ctx context.Context, t time.Time) error {
	wait := time.Until(t)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PCAPWriter records datagrams as Ethernet/IPv4/UDP frames so captures can be
// replayed later with ReplayPCAP.
type PCAPWriter struct {
	w       *pcapgo.Writer
	src     *net.UDPAddr
	dst     *net.UDPAddr
	options gopacket.SerializeOptions
}

func NewPCAPWriter(w io.Writer, src, dst *net.UDPAddr) (*PCAPWriter, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &PCAPWriter{
		w:       pw,
		src:     src,
		dst:     dst,
		options: gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
	}, nil
}

func (p *PCAPWriter) WriteDatagram(ts time.Time, payload []byte) error {
	return p.WriteDatagramTo(ts, p.dst, payload)
}

// WriteDatagramTo records a datagram addressed to dst instead of the default
// destination.
func (p *PCAPWriter) WriteDatagramTo(ts time.Time, dst *net.UDPAddr, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    p.src.IP.To4(),
		DstIP:    dst.IP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(p.src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return fmt.Errorf("udp checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, p.options, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("serialize datagram: %w", err)
	}
	data := buf.Bytes()
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := p.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write pcap packet: %w", err)
	}
	return nil
}
