// Package grid drives a monome grid over its serial line.
//
// Grids built since 2011 speak the "mext" protocol: one opcode byte
// followed by a fixed number of argument bytes. The host asks for the
// device id and size at startup, then receives key events and sends LED
// updates. Device translates between the logical coordinates an
// application sees and the physical ones on the wire, so a grid can be
// mounted rotated by any quarter turn.
package grid
