package transport

import (
	"fmt"
	"net"

	"bandwire/pkg/protocol"
)

// Sender writes encoded packets to one UDP destination.
type Sender struct {
	conn *net.UDPConn
	buf  []byte
}

func NewSender(addr string) (*Sender, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Sender{
		conn: conn,
		buf:  make([]byte, 0, protocol.MaxSize),
	}, nil
}

// Send is not safe for concurrent use.
func (s *Sender) Send(pkt protocol.Packet) error {
	s.buf = protocol.AppendEncode(s.buf[:0], pkt)
	return s.SendRaw(s.buf)
}

// SendRaw writes b as a single datagram without validating it.
func (s *Sender) SendRaw(b []byte) error {
	if _, err := s.conn.Write(b); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

func (s *Sender) Close() error {
	return s.conn.Close()
}
