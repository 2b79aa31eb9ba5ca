package transport_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bandwire/pkg/protocol"
	"bandwire/pkg/transport"
)

type frameSink struct {
	mu     sync.Mutex
	frames [][]byte
	notify chan struct{}
}

func newFrameSink() *frameSink {
	return &frameSink{notify: make(chan struct{}, 64)}
}

func (s *frameSink) handle(frame []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, append([]byte(nil), frame...))
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *frameSink) wait(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		if len(s.frames) >= n {
			out := append([][]byte(nil), s.frames...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		select {
		case <-s.notify:
		case <-deadline:
			t.Fatalf("timeout waiting for %d frames", n)
			return nil
		}
	}
}

func TestUDPListenerDeliversDatagrams(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := newFrameSink()
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- transport.ListenUDP(ctx, "127.0.0.1:0", sink.handle,
			transport.WithUDPReadTimeout(20*time.Millisecond),
			transport.WithUDPReady(func(a net.Addr) { ready <- a }),
		)
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("listener exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("listener never became ready")
	}

	sender, err := transport.NewSender(addr.String())
	require.NoError(t, err)
	defer sender.Close()

	pkt, err := protocol.NewPacket(0, 11, []uint8{10, 20, 30})
	require.NoError(t, err)
	require.NoError(t, sender.Send(pkt))
	require.NoError(t, sender.SendRaw([]byte{0xAD}))

	frames := sink.wait(t, 2)
	assert.Equal(t, protocol.Encode(pkt), frames[0])
	assert.Equal(t, []byte{0xAD}, frames[1])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("listener did not stop within one read timeout")
	}
}

func TestUDPListenerBindError(t *testing.T) {
	err := transport.ListenUDP(context.Background(), "127.0.0.1:99999", func([]byte) {})
	assert.Error(t, err)
}

// failingSocket fails every read with a non-timeout error.
type failingSocket struct {
	reads atomic.Int64
}

func (s *failingSocket) ReadFromUDP([]byte) (int, *net.UDPAddr, error) {
	s.reads.Add(1)
	return 0, nil, errors.New("connection refused")
}
func (s *failingSocket) SetReadBuffer(int) error         { return nil }
func (s *failingSocket) SetReadDeadline(time.Time) error { return nil }
func (s *failingSocket) Close() error                    { return nil }
func (s *failingSocket) LocalAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
}

func TestUDPListenerBacksOffOnReadErrors(t *testing.T) {
	sock := &failingSocket{}
	var logs bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := transport.ListenUDP(ctx, "unused", func([]byte) {},
		transport.WithUDPSocket(sock),
		transport.WithUDPReadTimeout(20*time.Millisecond),
		transport.WithUDPLogger(slog.New(slog.NewTextHandler(&logs, nil))),
	)
	require.NoError(t, err)

	assert.LessOrEqual(t, sock.reads.Load(), int64(15), "reads should be paced by the read timeout")
	assert.GreaterOrEqual(t, sock.reads.Load(), int64(2))
	assert.Equal(t, 1, strings.Count(logs.String(), "UDP read error"))
}
