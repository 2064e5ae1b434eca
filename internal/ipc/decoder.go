package ipc

import "errors"

// Decoder extracts messages from a byte stream that arrives in arbitrary
// chunks. It is not safe for concurrent use.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty stream decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends p to the pending bytes and returns every complete message now
// available, in stream order. A trailing partial frame is kept for the next
// call. If a frame is malformed, the messages decoded before it are returned
// together with the error and all pending bytes are dropped: nothing after a
// corrupt frame in the same read is trusted.
func (d *Decoder) Feed(p []byte) ([]Message, error) {
	d.buf = append(d.buf, p...)

	var msgs []Message
	for len(d.buf) > 0 {
		msg, n, err := Decode(d.buf)
		if err != nil {
			if errors.Is(err, ErrIncomplete) {
				break
			}
			d.buf = d.buf[:0]
			return msgs, err
		}
		msgs = append(msgs, msg)
		d.buf = d.buf[n:]
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return msgs, nil
}

// Buffered returns the number of bytes held back as a partial frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset drops any buffered bytes.
func (d *Decoder) Reset() {
	d.buf = nil
}
