package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"bandwire/pkg/protocol"
)

// maxStreamFrame is the longest COBS-encoded record plus its delimiter.
const maxStreamFrame = protocol.MaxSize + protocol.MaxSize/254 + 2

// ErrFrameTooLong is reported when a stream runs past maxStreamFrame without
// a delimiter. The listener skips to the next delimiter and resyncs.
var ErrFrameTooLong = errors.New("stream frame too long")

// StreamListener dials a TCP source that sends COBS-framed records separated
// by 0x00, reconnecting with linear backoff. Each unstuffed frame is handed to
// the handler as one datagram.
type StreamListener struct {
	addr         string
	handle       Handler
	reconnect    time.Duration
	reconnectMax time.Duration
	bufSize      int
	dialTimeout  time.Duration
	readTimeout  time.Duration
	errorHandler func(error)
	done         chan struct{}
}

type Option func(*StreamListener)

func WithReconnectInterval(d time.Duration) Option {
	return func(l *StreamListener) {
		if d > 0 {
			l.reconnect = d
		}
	}
}

func WithReconnectMax(d time.Duration) Option {
	return func(l *StreamListener) {
		if d > 0 {
			l.reconnectMax = d
		}
	}
}

func WithBufferSize(n int) Option {
	return func(l *StreamListener) {
		if n > 0 {
			l.bufSize = n
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(l *StreamListener) {
		if d > 0 {
			l.dialTimeout = d
		}
	}
}

func WithReadTimeout(d time.Duration) Option {
	return func(l *StreamListener) {
		if d > 0 {
			l.readTimeout = d
		}
	}
}

func WithErrorHandler(fn func(error)) Option {
	return func(l *StreamListener) {
		if fn != nil {
			l.errorHandler = fn
		}
	}
}

func StartListener(ctx context.Context, addr string, handle Handler, opts ...Option) *StreamListener {
	l := &StreamListener{
		addr:         addr,
		handle:       handle,
		reconnect:    1 * time.Second,
		reconnectMax: 30 * time.Second,
		bufSize:      64 * 1024,
		dialTimeout:  5 * time.Second,
		readTimeout:  100 * time.Millisecond,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run(ctx)
	return l
}

// Done is closed once the listener has stopped after ctx cancellation.
func (l *StreamListener) Done() <-chan struct{} {
	return l.done
}

func (l *StreamListener) run(ctx context.Context) {
	defer close(l.done)
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		d := net.Dialer{Timeout: l.dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", l.addr)
		if err != nil {
			l.handleError(err)
			attempt++
			l.sleepBackoff(ctx, attempt)
			continue
		}

		attempt = 0
		err = l.handleConn(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.handleError(err)
		}
		l.sleepBackoff(ctx, 1)
	}
}

func (l *StreamListener) handleConn(ctx context.Context, conn net.Conn) error {
	reader := bufio.NewReaderSize(conn, l.bufSize)
	pending := make([]byte, 0, maxStreamFrame)
	discarding := false
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_ = conn.SetReadDeadline(time.Now().Add(l.readTimeout))
		chunk, err := reader.ReadSlice(0x00)
		if !discarding {
			if len(pending)+len(chunk) > maxStreamFrame {
				l.handleError(fmt.Errorf("%w from %s: no delimiter within %d bytes", ErrFrameTooLong, l.addr, maxStreamFrame))
				pending = pending[:0]
				discarding = true
			} else {
				pending = append(pending, chunk...)
			}
		}
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			return err
		}

		// A delimiter was read: the current frame, kept or skipped, is over.
		if discarding {
			discarding = false
			continue
		}
		frame := pending[:len(pending)-1]
		if len(frame) > 0 {
			record, err := protocol.CobsDecode(frame)
			if err != nil {
				l.handleError(fmt.Errorf("cobs frame from %s: %w", l.addr, err))
			} else {
				l.handle(record)
			}
		}
		pending = pending[:0]
	}
}

func (l *StreamListener) sleepBackoff(ctx context.Context, attempt int) {
	wait := min(l.reconnect*time.Duration(attempt), l.reconnectMax)
	timer := time.NewTimer(wait)
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
	timer.Stop()
}

func (l *StreamListener) handleError(err error) {
	if l.errorHandler != nil {
		l.errorHandler(err)
	}
}
