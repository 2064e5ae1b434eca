package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Sentinel marks the end of the header and of every variable field.
	Sentinel uint16 = 0x505C

	// HeaderSize is the size of the fixed frame header in bytes.
	HeaderSize = 4

	// MaxStringLen bounds a single string field.
	MaxStringLen = 4096

	stringOverhead = 4 + 2
)

// Encode serialises msg into a self-contained frame.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrUnknownType)
	}

	buf := make([]byte, HeaderSize, HeaderSize+64)
	buf[0] = byte(msg.Type())
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], Sentinel)

	var err error
	switch m := msg.(type) {
	case Connection:
		buf, err = appendString(buf, m.Devnode)
	case *Connection:
		buf, err = appendString(buf, m.Devnode)
	case DeviceInfo:
		buf, err = appendDeviceInfo(buf, m)
	case *DeviceInfo:
		buf, err = appendDeviceInfo(buf, *m)
	case PortChange:
		buf = appendPort(buf, m.Port)
	case *PortChange:
		buf = appendPort(buf, m.Port)
	case Ready, *Ready, Disconnection, *Disconnection, ShouldExit, *ShouldExit:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func appendDeviceInfo(buf []byte, m DeviceInfo) ([]byte, error) {
	buf, err := appendString(buf, m.Serial)
	if err != nil {
		return nil, err
	}
	return appendString(buf, m.FriendlyName)
}

func appendPort(buf []byte, port uint16) []byte {
	buf = binary.BigEndian.AppendUint16(buf, port)
	return binary.BigEndian.AppendUint16(buf, Sentinel)
}

func appendString(buf []byte, s string) ([]byte, error) {
	if len(s) > MaxStringLen {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrStringTooLong, len(s), MaxStringLen)
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	buf = append(buf, s...)
	return binary.BigEndian.AppendUint16(buf, Sentinel), nil
}

// Decode parses the first frame in buf. It returns the message and the number
// of bytes the frame occupied. On failure no message is returned and the
// error wraps ErrMalformedFrame; errors.Is(err, ErrIncomplete) reports that
// buf holds a prefix of a frame that is valid so far.
func Decode(buf []byte) (Message, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, fmt.Errorf("%w: header needs %d bytes, have %d", ErrIncomplete, HeaderSize, len(buf))
	}
	if s := binary.BigEndian.Uint16(buf[2:4]); s != Sentinel {
		return nil, 0, fmt.Errorf("%w: header 0x%04x", ErrBadSentinel, s)
	}

	t := Type(buf[0])
	off := HeaderSize

	switch t {
	case TypeConnection:
		devnode, n, err := readString(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		return Connection{Devnode: devnode}, off + n, nil

	case TypeDeviceInfo:
		serial, n, err := readString(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		name, n, err := readString(buf[off:])
		if err != nil {
			return nil, 0, err
		}
		return DeviceInfo{Serial: serial, FriendlyName: name}, off + n, nil

	case TypePortChange:
		if len(buf) < off+4 {
			return nil, 0, fmt.Errorf("%w: port field", ErrIncomplete)
		}
		port := binary.BigEndian.Uint16(buf[off : off+2])
		if s := binary.BigEndian.Uint16(buf[off+2 : off+4]); s != Sentinel {
			return nil, 0, fmt.Errorf("%w: port field 0x%04x", ErrBadSentinel, s)
		}
		return PortChange{Port: port}, off + 4, nil

	case TypeReady:
		return Ready{}, off, nil
	case TypeDisconnection:
		return Disconnection{}, off, nil
	case TypeShouldExit:
		return ShouldExit{}, off, nil
	}

	return nil, 0, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
}

// readString decodes one [len][bytes][sentinel] field from the start of buf.
func readString(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, fmt.Errorf("%w: string length", ErrIncomplete)
	}
	n := binary.BigEndian.Uint32(buf[:4])
	if n > MaxStringLen {
		return "", 0, fmt.Errorf("%w: %d bytes (max %d)", ErrStringTooLong, n, MaxStringLen)
	}
	end := 4 + int(n)
	if len(buf) < end+2 {
		return "", 0, fmt.Errorf("%w: string of %d bytes", ErrIncomplete, n)
	}
	if s := binary.BigEndian.Uint16(buf[end : end+2]); s != Sentinel {
		return "", 0, fmt.Errorf("%w: string field 0x%04x", ErrBadSentinel, s)
	}
	return string(buf[4:end]), end + 2, nil
}

// WriteMessage encodes msg and writes the whole frame to w in one call.
func WriteMessage(w io.Writer, msg Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", msg.Type(), err)
	}
	return nil
}
