package main

import (
	"bytes"
	"flag"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandwire/pkg/config"
	"bandwire/pkg/engine"
	"bandwire/pkg/protocol"
)

func TestMonitorWaitsForPackets(t *testing.T) {
	rx := engine.NewReceiver(engine.NewHub())
	m := newMonitorModel(rx, rx.Hub().Subscribe(), 0)
	assert.NotNil(t, m.Init())
	assert.Contains(t, m.View(), "waiting for packets")
}

func TestMonitorTickShowsLatestPacket(t *testing.T) {
	rx := engine.NewReceiver(engine.NewHub())
	m := newMonitorModel(rx, rx.Hub().Subscribe(), time.Millisecond)

	pkt, err := protocol.NewPacket(protocol.FlagInterpolatedLog, 42, []uint8{10, 255, 20})
	require.NoError(t, err)
	rx.Handle(protocol.Encode(pkt))
	rx.Handle([]byte{0x00})

	next, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd)
	view := next.View()
	assert.Contains(t, view, "bands 3")
	assert.Contains(t, view, "timestamp 42")
	assert.Contains(t, view, "peak 1.000 at band 1")
	assert.Contains(t, view, "too_short=1")
	assert.True(t, strings.Contains(view, " 10 255  20"), view)
}

func TestMonitorQuitKey(t *testing.T) {
	rx := engine.NewReceiver(engine.NewHub())
	m := newMonitorModel(rx, rx.Hub().Subscribe(), 0)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestMonitorLoggerQuietUnlessLevelGiven(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want bool
	}{
		{args: nil, want: false},
		{args: []string{"--log-level", "info"}, want: true},
	} {
		fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
		var flags pipelineFlags
		flags.register(fs)
		require.NoError(t, fs.Parse(tc.args))

		cfg := config.Default()
		cfg.Logging.Format = "json"
		var stderr bytes.Buffer
		log, err := monitorLogger(fs, cfg, &stderr)
		require.NoError(t, err)
		log.Info("UDP listener started")
		assert.Equal(t, tc.want, strings.Contains(stderr.String(), "UDP listener started"), "args %v", tc.args)
	}
}
