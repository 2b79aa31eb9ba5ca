package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"bandwire/pkg/config"
	"bandwire/pkg/engine"
	"bandwire/pkg/logger"
	"bandwire/pkg/protocol"
)

const (
	monitorRefresh   = 100 * time.Millisecond
	monitorRowLength = 16
)

func runMonitor(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var flags pipelineFlags
	flags.register(fs)
	refresh := fs.Duration("refresh", monitorRefresh, "screen refresh interval")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := flags.load(fs)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	log, err := monitorLogger(fs, cfg, stderr)
	if err != nil {
		fmt.Fprintln(stderr, "logging:", err)
		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	p := newPipeline(cfg, log)
	model := newMonitorModel(p.receiver, p.subscribe("monitor"), *refresh)
	ui := func(ctx context.Context) error {
		prog := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(stdout))
		if _, err := prog.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("monitor: %w", err)
		}
		return nil
	}
	return exitCode(stderr, p.run(ctx, stdout, ui))
}

// monitorLogger keeps log lines off the terminal the UI draws on unless
// --log-level was given explicitly.
func monitorLogger(fs *flag.FlagSet, cfg config.Config, stderr io.Writer) (*slog.Logger, error) {
	explicit := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "log-level" {
			explicit = true
		}
	})
	if !explicit {
		return slog.New(slog.DiscardHandler), nil
	}
	return logger.New(stderr, cfg.Logging.Level, cfg.Logging.Format)
}

type tickMsg time.Time

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// monitorModel polls the receiver and its slot on every tick. It only shows
// numbers; drawing the spectrum is left to the foxglove bridge.
type monitorModel struct {
	receiver *engine.Receiver
	slot     *engine.LatestSlot
	refresh  time.Duration
	stats    engine.Stats
	last     protocol.Packet
	lastAt   time.Time
	now      time.Time
}

func newMonitorModel(rx *engine.Receiver, slot *engine.LatestSlot, refresh time.Duration) monitorModel {
	if refresh <= 0 {
		refresh = monitorRefresh
	}
	return monitorModel{receiver: rx, slot: slot, refresh: refresh}
}

func (m monitorModel) Init() tea.Cmd {
	return tick(m.refresh)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	case tickMsg:
		m.now = time.Time(msg)
		m.stats = m.receiver.Stats()
		if pkt, ok := m.slot.Take(); ok {
			m.last = pkt
			m.lastAt = m.now
		}
		return m, tick(m.refresh)
	}
	return m, nil
}

func (m monitorModel) View() string {
	var b strings.Builder
	b.WriteString("bandwire monitor (q to quit)\n\n")

	fmt.Fprintf(&b, "%-8s %10s %12s %12s\n", "signal", "total", "cumulative", "windowed")
	fmt.Fprintf(&b, "%-8s %10d %12s %12s\n", "raw", m.stats.Raw.Total,
		formatRate(m.stats.Raw.Cumulative), formatRate(m.stats.Raw.Windowed))
	fmt.Fprintf(&b, "%-8s %10d %12s %12s\n", "decoded", m.stats.Decoded.Total,
		formatRate(m.stats.Decoded.Cumulative), formatRate(m.stats.Decoded.Windowed))

	b.WriteString("\ndecode errors:")
	for _, kind := range protocol.Kinds {
		fmt.Fprintf(&b, " %s=%d", kind, m.stats.Errors[kind])
	}
	b.WriteString("\n\n")

	if m.last.IsZero() {
		b.WriteString("waiting for packets...\n")
		return b.String()
	}

	peakBand, peak := peakOf(m.last)
	fmt.Fprintf(&b, "bands %d  timestamp %d  flags 0x%02x  interpolated %t  age %s\n",
		m.last.BandCount(), m.last.Timestamp(), m.last.Flags(), m.last.Interpolated(),
		m.now.Sub(m.lastAt).Truncate(time.Millisecond))
	fmt.Fprintf(&b, "peak %.3f at band %d  mean %.3f\n\n", peak, peakBand, m.last.Mean())

	bands := m.last.Bands()
	for i := 0; i < len(bands); i += monitorRowLength {
		end := min(i+monitorRowLength, len(bands))
		fmt.Fprintf(&b, "%3d:", i)
		for _, v := range bands[i:end] {
			fmt.Fprintf(&b, " %3d", v)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func peakOf(pkt protocol.Packet) (int, float32) {
	idx := 0
	for i := 1; i < pkt.BandCount(); i++ {
		if pkt.Band(i) > pkt.Band(idx) {
			idx = i
		}
	}
	return idx, pkt.NormalizedAt(idx)
}
