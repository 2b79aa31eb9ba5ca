package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"time"

	"bandwire/pkg/config"
	"bandwire/pkg/logger"
	"bandwire/pkg/protocol"
	"bandwire/pkg/transport"
)

const (
	mockSweepHz    = 0.2
	mockPulseHz    = 2.0
	mockNoiseFloor = 0.04
	mockPeakWidth  = 0.08

	// Captures without an explicit count hold this many seconds of stream.
	mockCaptureSeconds = 10
)

var mockCaptureSource = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}

type sendOptions struct {
	hz           int
	bands        int
	interpolated bool
	count        int
	badEvery     int
}

func runSend(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", config.DefaultConfigPath, "TOML config path")
	addr := fs.String("addr", "", "destination UDP address")
	hz := fs.Int("hz", 0, "packets per second")
	bands := fs.Int("bands", 0, "bands per packet (1-255)")
	interpolated := fs.Bool("interpolated", true, "set the interpolated log-scale flag")
	count := fs.Int("count", 0, "stop after this many datagrams (0 = until interrupted)")
	badEvery := fs.Int("bad-every", 0, "corrupt every Nth datagram (0 = never)")
	pcapPath := fs.String("pcap", "", "write a capture file instead of sending")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "addr":
			cfg.Send.Addr = *addr
		case "hz":
			cfg.Send.Hz = *hz
		case "bands":
			cfg.Send.Bands = *bands
		case "interpolated":
			cfg.Send.Interpolated = *interpolated
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	log, err := logger.New(stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintln(stderr, "logging:", err)
		return 1
	}

	opts := sendOptions{
		hz:           cfg.Send.Hz,
		bands:        cfg.Send.Bands,
		interpolated: cfg.Send.Interpolated,
		count:        *count,
		badEvery:     *badEvery,
	}

	if *pcapPath != "" {
		if opts.count <= 0 {
			opts.count = opts.hz * mockCaptureSeconds
		}
		if err := writeMockCapture(*pcapPath, cfg.Send.Addr, opts, time.Now()); err != nil {
			fmt.Fprintln(stderr, "send:", err)
			return 1
		}
		log.Info("wrote capture", "path", *pcapPath, "datagrams", opts.count, "bands", opts.bands)
		return 0
	}

	sender, err := transport.NewSender(cfg.Send.Addr)
	if err != nil {
		fmt.Fprintln(stderr, "send:", err)
		return 1
	}
	defer sender.Close()

	ctx, stop := signalContext()
	defer stop()

	log.Info("sending synthetic spectrum", "addr", cfg.Send.Addr, "hz", opts.hz, "bands", opts.bands)
	sent, err := sendLoop(ctx, opts, time.Now, sender.SendRaw)
	log.Info("sender stopped", "datagrams", sent)
	return exitCode(stderr, err)
}

// sendLoop emits one datagram per tick until ctx is done or opts.count
// datagrams have been sent.
func sendLoop(ctx context.Context, opts sendOptions, now func() time.Time, emit func([]byte) error) (int, error) {
	ticker := time.NewTicker(time.Second / time.Duration(opts.hz))
	defer ticker.Stop()

	start := now()
	sent := 0
	for opts.count <= 0 || sent < opts.count {
		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}
		ts := now()
		datagram, err := mockDatagram(opts, sent, ts.Sub(start).Seconds(), ts)
		if err != nil {
			return sent, err
		}
		if err := emit(datagram); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func writeMockCapture(path string, dst string, opts sendOptions, start time.Time) error {
	raddr, err := net.ResolveUDPAddr("udp", dst)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dst, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create capture: %w", err)
	}
	defer f.Close()

	w, err := transport.NewPCAPWriter(f, mockCaptureSource, raddr)
	if err != nil {
		return err
	}
	step := time.Second / time.Duration(opts.hz)
	for seq := 0; seq < opts.count; seq++ {
		offset := time.Duration(seq) * step
		ts := start.Add(offset)
		datagram, err := mockDatagram(opts, seq, offset.Seconds(), ts)
		if err != nil {
			return err
		}
		if err := w.WriteDatagram(ts, datagram); err != nil {
			return err
		}
	}
	return f.Close()
}

// mockDatagram encodes the seq-th synthetic frame. Every badEvery-th frame
// gets a broken magic so receivers can exercise their error accounting.
func mockDatagram(opts sendOptions, seq int, t float64, ts time.Time) ([]byte, error) {
	var flags uint8
	if opts.interpolated {
		flags |= protocol.FlagInterpolatedLog
	}
	pkt, err := protocol.FromLevels(mockLevels(t, opts.bands), flags, uint32(ts.Unix()))
	if err != nil {
		return nil, err
	}
	datagram := protocol.Encode(pkt)
	if opts.badEvery > 0 && (seq+1)%opts.badEvery == 0 {
		datagram[0] ^= 0xFF
	}
	return datagram, nil
}

// mockLevels draws a noise floor with one gaussian peak sweeping across the
// bands, pulsing in amplitude.
func mockLevels(t float64, bands int) []float32 {
	levels := make([]float32, bands)
	if bands == 0 {
		return levels
	}
	center := (0.5 + 0.45*math.Sin(2*math.Pi*mockSweepHz*t)) * float64(bands-1)
	width := math.Max(1, mockPeakWidth*float64(bands))
	pulse := 0.6 + 0.4*math.Abs(math.Sin(2*math.Pi*mockPulseHz*t))

	for i := range levels {
		d := (float64(i) - center) / width
		level := mockNoiseFloor + (1-mockNoiseFloor)*pulse*math.Exp(-0.5*d*d)
		levels[i] = float32(math.Min(1, level))
	}
	return levels
}
