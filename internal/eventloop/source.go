package eventloop

import (
	"io"
	"net"
)

// Source is anything the loop can wait on. Next blocks until data is
// available and fills buf. addr is set for packet sources and nil otherwise.
type Source interface {
	Next(buf []byte) (n int, addr net.Addr, err error)
}

type streamSource struct {
	r io.Reader
}

// Stream adapts a byte stream such as a pipe or serial port.
func Stream(r io.Reader) Source {
	return streamSource{r: r}
}

func (s streamSource) Next(buf []byte) (int, net.Addr, error) {
	n, err := s.r.Read(buf)
	return n, nil, err
}

type packetSource struct {
	pc net.PacketConn
}

// Packet adapts a datagram socket. Each event carries one datagram and its
// sender address.
func Packet(pc net.PacketConn) Source {
	return packetSource{pc: pc}
}

func (s packetSource) Next(buf []byte) (int, net.Addr, error) {
	return s.pc.ReadFrom(buf)
}
