package osc

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Client sends requests to a remote OSC endpoint and reads replies on its
// own ephemeral socket.
type Client struct {
	conn   net.PacketConn
	remote net.Addr
}

// Dial opens a local socket for talking to the endpoint at host:port.
func Dial(host string, port int) (*Client, error) {
	remote, err := ResolveAddr(host, port)
	if err != nil {
		return nil, err
	}
	local := "127.0.0.1:0"
	if remote.IP != nil && !remote.IP.IsLoopback() {
		local = ":0"
	}
	conn, err := net.ListenPacket("udp", local)
	if err != nil {
		return nil, fmt.Errorf("opening reply socket: %w", err)
	}
	return &Client{conn: conn, remote: remote}, nil
}

// LocalAddr returns the reply socket's address.
func (c *Client) LocalAddr() *net.UDPAddr {
	addr, _ := c.conn.LocalAddr().(*net.UDPAddr) //nolint:errcheck // always a UDP socket
	return addr
}

// Send sends msg to the remote endpoint.
func (c *Client) Send(msg *Message) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := c.conn.WriteTo(data, c.remote); err != nil {
		return fmt.Errorf("sending %s: %w", msg.Address, err)
	}
	return nil
}

// Receive waits up to timeout for the next message. It returns nil and no
// error when the timeout expires.
func (c *Client) Receive(timeout time.Duration) (*Message, error) {
	buf := make([]byte, 65536)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		n, _, err := c.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil, nil
			}
			return nil, err
		}
		msgs, err := Parse(buf[:n])
		if err != nil || len(msgs) == 0 {
			continue
		}
		return msgs[0], nil
	}
}

// Close closes the reply socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
