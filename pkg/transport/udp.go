package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Handler receives one datagram. The slice is only valid for the duration of
// the call.
type Handler func(frame []byte)

// UDPSocket is the part of *net.UDPConn the listener uses.
type UDPSocket interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	SetReadBuffer(bytes int) error
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// readErrorLogEvery limits how often a persistent read error is logged.
const readErrorLogEvery = 100

type UDPListener struct {
	addr        string
	handle      Handler
	readTimeout time.Duration
	bufSize     int
	rcvBuf      int
	logger      *slog.Logger
	ready       func(net.Addr)
	socket      UDPSocket
}

type UDPOption func(*UDPListener)

// WithUDPReadTimeout bounds each receive so cancellation is noticed within d.
func WithUDPReadTimeout(d time.Duration) UDPOption {
	return func(l *UDPListener) {
		if d > 0 {
			l.readTimeout = d
		}
	}
}

func WithUDPBufferSize(n int) UDPOption {
	return func(l *UDPListener) {
		if n > 0 {
			l.bufSize = n
		}
	}
}

// WithUDPReceiveBuffer sets SO_RCVBUF on the socket.
func WithUDPReceiveBuffer(n int) UDPOption {
	return func(l *UDPListener) {
		if n > 0 {
			l.rcvBuf = n
		}
	}
}

func WithUDPLogger(logger *slog.Logger) UDPOption {
	return func(l *UDPListener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithUDPReady is called with the bound address once the socket is open.
func WithUDPReady(fn func(net.Addr)) UDPOption {
	return func(l *UDPListener) {
		if fn != nil {
			l.ready = fn
		}
	}
}

// WithUDPSocket reads from sock instead of binding addr.
func WithUDPSocket(sock UDPSocket) UDPOption {
	return func(l *UDPListener) {
		l.socket = sock
	}
}

func NewUDPListener(addr string, handle Handler, opts ...UDPOption) *UDPListener {
	l := &UDPListener{
		addr:        addr,
		handle:      handle,
		readTimeout: 100 * time.Millisecond,
		bufSize:     2048,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ListenUDP binds addr and feeds every datagram to handle until ctx is done.
func ListenUDP(ctx context.Context, addr string, handle Handler, opts ...UDPOption) error {
	return NewUDPListener(addr, handle, opts...).Run(ctx)
}

// Run returns nil once ctx is cancelled, or an error if the socket could not
// be opened.
func (l *UDPListener) Run(ctx context.Context) error {
	conn := l.socket
	if conn == nil {
		lc := net.ListenConfig{Control: reuseAddrControl}
		pc, err := lc.ListenPacket(ctx, "udp", l.addr)
		if err != nil {
			return fmt.Errorf("listen udp %s: %w", l.addr, err)
		}
		conn = pc.(*net.UDPConn)
	}
	defer conn.Close()

	if l.rcvBuf > 0 {
		if err := conn.SetReadBuffer(l.rcvBuf); err != nil {
			l.logger.Warn("failed to set UDP receive buffer",
				slog.Int("rcvbuf", l.rcvBuf),
				slog.String("error", err.Error()),
			)
		}
	}

	l.logger.Info("UDP listener started", slog.String("addr", conn.LocalAddr().String()))
	if l.ready != nil {
		l.ready(conn.LocalAddr())
	}

	buf := make([]byte, l.bufSize)
	var (
		deadlineErrLogged bool
		readErrs          int
	)
	for {
		if ctx.Err() != nil {
			l.logger.Info("UDP listener stopping")
			return nil
		}
		if err := conn.SetReadDeadline(time.Now().Add(l.readTimeout)); err != nil && !deadlineErrLogged {
			l.logger.Warn("failed to set read deadline", slog.String("error", err.Error()))
			deadlineErrLogged = true
		}

		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			readErrs++
			if readErrs%readErrorLogEvery == 1 {
				l.logger.Warn("UDP read error",
					slog.String("error", err.Error()),
					slog.Int("consecutive", readErrs),
				)
			}
			// Back off so a persistent error does not spin.
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.readTimeout):
			}
			continue
		}
		readErrs = 0
		if n == len(buf) {
			l.logger.Debug("datagram may be truncated",
				slog.Int("buffer", len(buf)),
				slog.String("from", from.String()),
			)
		}
		l.handle(buf[:n])
	}
}
