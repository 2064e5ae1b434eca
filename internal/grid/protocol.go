package grid

import "strings"

// Host to device opcodes.
const (
	opQuerySystem byte = 0x00
	opQueryID     byte = 0x01
	opQuerySize   byte = 0x05

	opLEDOff       byte = 0x10
	opLEDOn        byte = 0x11
	opLEDAllOff    byte = 0x12
	opLEDAllOn     byte = 0x13
	opLEDMap       byte = 0x14
	opLEDRow       byte = 0x15
	opLEDCol       byte = 0x16
	opLEDIntensity byte = 0x17
)

// Device to host opcodes.
const (
	opReplySystem byte = 0x00
	opReplyID     byte = 0x01
	opReplyOffset byte = 0x02
	opReplySize   byte = 0x03
	opKeyUp       byte = 0x20
	opKeyDown     byte = 0x21
)

// idLength is the fixed size of the id string in an id reply.
const idLength = 32

// replyLengths gives the full frame size, opcode included, of every
// message a device may send.
var replyLengths = map[byte]int{
	opReplySystem: 3,
	opReplyID:     1 + idLength,
	opReplyOffset: 3,
	opReplySize:   3,
	opKeyUp:       3,
	opKeyDown:     3,
}

// Event is something the device reported.
type Event interface {
	isEvent()
}

// KeyEvent is a key press or release in physical coordinates.
type KeyEvent struct {
	X, Y int
	Down bool
}

// IDEvent carries the device id string.
type IDEvent struct {
	ID string
}

// SizeEvent carries the physical grid dimensions.
type SizeEvent struct {
	Cols, Rows int
}

func (KeyEvent) isEvent()  {}
func (IDEvent) isEvent()   {}
func (SizeEvent) isEvent() {}

// Parser splits the device byte stream into events. Bytes that do not
// start a known frame are skipped one at a time.
type Parser struct {
	buf     []byte
	skipped int
}

// Feed appends p and returns every complete event now available.
// A trailing partial frame is kept for the next call.
func (p *Parser) Feed(data []byte) []Event {
	p.buf = append(p.buf, data...)

	var events []Event
	for len(p.buf) > 0 {
		op := p.buf[0]
		n, known := replyLengths[op]
		if !known {
			p.buf = p.buf[1:]
			p.skipped++
			continue
		}
		if len(p.buf) < n {
			break
		}
		frame := p.buf[:n]
		p.buf = p.buf[n:]

		switch op {
		case opKeyUp, opKeyDown:
			events = append(events, KeyEvent{X: int(frame[1]), Y: int(frame[2]), Down: op == opKeyDown})
		case opReplyID:
			events = append(events, IDEvent{ID: strings.TrimRight(string(frame[1:]), "\x00 ")})
		case opReplySize:
			events = append(events, SizeEvent{Cols: int(frame[1]), Rows: int(frame[2])})
		}
	}

	if len(p.buf) == 0 {
		p.buf = nil
	}
	return events
}

// Skipped returns how many unrecognised bytes were dropped.
func (p *Parser) Skipped() int {
	return p.skipped
}
