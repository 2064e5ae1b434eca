// Package ipc implements the framed binary protocol spoken between the
// supervisor, the detector and the device workers over their pipes.
//
// # Frame layout
//
// All integers are big-endian. Every frame starts with a fixed header:
//
//	+------+----------+----------+
//	| type | reserved | sentinel |
//	| u8   | u8       | u16      |
//	+------+----------+----------+
//
// followed by the fields of the message type:
//
//	Connection     string devnode
//	DeviceInfo     string serial, string friendly name
//	PortChange     u16 port, u16 sentinel
//	Ready, Disconnection, ShouldExit   (header only)
//
// A string field is encoded as [length u32][bytes][sentinel u16], so a
// truncated or corrupted string is caught before its bytes are used.
//
// # Streams
//
// Decode works on a single buffer and reports how many bytes it consumed.
// Decoder wraps it for pipes: it accumulates reads, yields every complete
// message and keeps a trailing partial frame for the next read.
//
//	dec := ipc.NewDecoder()
//	msgs, err := dec.Feed(chunk)
package ipc
