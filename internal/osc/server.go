package osc

import (
	"fmt"
	"net"
	"strconv"
)

// Logger defines the logging interface for the server.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Server is a UDP OSC endpoint. It does not read on its own: the owner
// feeds received datagrams to HandlePacket, typically from an event loop
// source wrapping Conn. Replies go out from the same socket.
type Server struct {
	*Dispatcher

	conn   net.PacketConn
	logger Logger
}

// Listen opens a UDP socket on addr. Port 0 selects an ephemeral port.
func Listen(addr string) (*Server, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return NewServer(conn), nil
}

// NewServer wraps an existing packet connection.
func NewServer(conn net.PacketConn) *Server {
	return &Server{
		Dispatcher: NewDispatcher(),
		conn:       conn,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(logger Logger) {
	s.logger = logger
}

// Conn returns the underlying socket.
func (s *Server) Conn() net.PacketConn {
	return s.conn
}

// Port returns the local UDP port.
func (s *Server) Port() int {
	if a, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return a.Port
	}
	return 0
}

// HandlePacket parses one datagram and dispatches every message in it.
// Errors are logged per message and never affect the server.
func (s *Server) HandlePacket(data []byte, from net.Addr) {
	msgs, err := Parse(data)
	if err != nil {
		s.logger.Debug("dropping malformed osc packet", "from", from, "error", err)
		return
	}
	for _, msg := range msgs {
		if err := s.Dispatch(msg, from); err != nil {
			s.logger.Debug("osc request rejected", "address", msg.Address, "from", from, "error", err)
		}
	}
}

// Send writes msg to addr from the server socket.
func (s *Server) Send(addr net.Addr, msg *Message) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteTo(data, addr); err != nil {
		return fmt.Errorf("sending %s to %s: %w", msg.Address, addr, err)
	}
	return nil
}

// Close closes the socket.
func (s *Server) Close() error {
	return s.conn.Close()
}

// ResolveAddr resolves a UDP host and port.
func ResolveAddr(host string, port int) (*net.UDPAddr, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("osc: port %d out of range", port)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolving %s:%d: %w", host, port, err)
	}
	return addr, nil
}
