package osc

import (
	"errors"
	"fmt"
	"strings"

	gosc "github.com/hypebeast/go-osc/osc"
)

// Sentinel errors for packet parsing and argument access.
var (
	ErrMalformed   = errors.New("osc: malformed packet")
	ErrArgType     = errors.New("osc: unexpected argument type")
	ErrUnsupported = errors.New("osc: unsupported argument type")
)

// Message is one OSC message. Args hold int32, float32, string or []byte;
// packets from other senders may also carry int64, float64, bool or nil.
type Message struct {
	Address string
	Args    []any
}

// NewMessage builds a message. Go int values are converted to int32.
func NewMessage(address string, args ...any) *Message {
	m := &Message{Address: address}
	for _, a := range args {
		switch v := a.(type) {
		case int:
			m.Args = append(m.Args, int32(v))
		case uint16:
			m.Args = append(m.Args, int32(v))
		case float64:
			m.Args = append(m.Args, float32(v))
		default:
			m.Args = append(m.Args, a)
		}
	}
	return m
}

// TypeTags returns the type tag string without the leading comma.
func (m *Message) TypeTags() string {
	var sb strings.Builder
	for _, a := range m.Args {
		sb.WriteByte(typeTag(a))
	}
	return sb.String()
}

func typeTag(a any) byte {
	switch v := a.(type) {
	case int32:
		return 'i'
	case float32:
		return 'f'
	case string:
		return 's'
	case []byte:
		return 'b'
	case int64:
		return 'h'
	case float64:
		return 'd'
	case bool:
		if v {
			return 'T'
		}
		return 'F'
	case nil:
		return 'N'
	}
	return '?'
}

// Int returns argument i as an int, accepting int32 or float32.
func (m *Message) Int(i int) (int, error) {
	if i >= len(m.Args) {
		return 0, fmt.Errorf("%w: argument %d missing", ErrArgType, i)
	}
	switch v := m.Args[i].(type) {
	case int32:
		return int(v), nil
	case float32:
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: argument %d is %T, want int", ErrArgType, i, m.Args[i])
}

// String returns argument i as a string.
func (m *Message) String(i int) (string, error) {
	if i >= len(m.Args) {
		return "", fmt.Errorf("%w: argument %d missing", ErrArgType, i)
	}
	s, ok := m.Args[i].(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d is %T, want string", ErrArgType, i, m.Args[i])
	}
	return s, nil
}

// MarshalBinary encodes the message in OSC wire format.
func (m *Message) MarshalBinary() ([]byte, error) {
	for _, a := range m.Args {
		if typeTag(a) == '?' {
			return nil, fmt.Errorf("%w: %T", ErrUnsupported, a)
		}
	}
	data, err := gosc.NewMessage(m.Address, m.Args...).MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", m.Address, err)
	}
	return data, nil
}

// Parse decodes a packet into its messages. A bundle yields its messages
// before those of nested bundles; time tags are ignored and contents run
// immediately.
func Parse(data []byte) (msgs []*Message, err error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: size %d is not a multiple of 4", ErrMalformed, len(data))
	}

	// ParsePacket panics on some negative lengths.
	defer func() {
		if r := recover(); r != nil {
			msgs, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	pkt, err := gosc.ParsePacket(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch p := pkt.(type) {
	case *gosc.Message:
		return []*Message{fromPacket(p)}, nil
	case *gosc.Bundle:
		return flatten(p, nil), nil
	}
	return nil, fmt.Errorf("%w: neither a message nor a bundle", ErrMalformed)
}

func flatten(b *gosc.Bundle, out []*Message) []*Message {
	for _, m := range b.Messages {
		out = append(out, fromPacket(m))
	}
	for _, nested := range b.Bundles {
		out = flatten(nested, out)
	}
	return out
}

func fromPacket(m *gosc.Message) *Message {
	return &Message{Address: m.Address, Args: m.Arguments}
}
