package grid

import (
	"errors"
	"fmt"
	"io"
	"strconv"
)

var (
	// ErrNotIdentified is returned by LED operations before the device has
	// reported its size.
	ErrNotIdentified = errors.New("grid: device size unknown")

	// ErrWrite wraps failures writing to the device itself, as opposed to
	// requests that were rejected before anything was sent.
	ErrWrite = errors.New("grid: device write failed")
)

// quad is the edge length of the block addressed by one map command.
const quad = 8

// Device is one grid behind a byte stream. It is not safe for concurrent
// use; the worker calls it from its event loop only.
type Device struct {
	rw       io.ReadWriter
	parser   Parser
	rotation Rotation

	id         string
	cols, rows int // physical

	// lit mirrors the physical LED state, indexed [y][x].
	lit [][]bool
}

// NewDevice wraps rw, typically a serial port from OpenPort.
func NewDevice(rw io.ReadWriter) *Device {
	return &Device{rw: rw}
}

// RequestInfo asks the device for its id and size.
func (d *Device) RequestInfo() error {
	return d.write(opQueryID, opQuerySize)
}

// Identified reports whether both the id and the size have arrived.
func (d *Device) Identified() bool {
	return d.id != "" && d.cols > 0 && d.rows > 0
}

// ID returns the id string the device reported.
func (d *Device) ID() string {
	return d.id
}

// FriendlyName describes the model by its key count, as in "monome 128".
func (d *Device) FriendlyName() string {
	return "monome " + strconv.Itoa(d.cols*d.rows)
}

// Size returns the logical dimensions, which swap under a quarter turn.
func (d *Device) Size() (cols, rows int) {
	if d.rotation.swapsAxes() {
		return d.rows, d.cols
	}
	return d.cols, d.rows
}

// Skipped returns how many unrecognised bytes the device has sent.
func (d *Device) Skipped() int {
	return d.parser.Skipped()
}

// Rotation returns the current rotation.
func (d *Device) Rotation() Rotation {
	return d.rotation
}

// SetRotation changes the rotation. LED state already on the device is
// left as it is.
func (d *Device) SetRotation(r Rotation) {
	d.rotation = r
}

// Feed consumes bytes read from the device and returns the key events they
// contained, in logical coordinates. Id and size replies update the device.
// Keys outside the reported size are dropped.
func (d *Device) Feed(data []byte) []KeyEvent {
	var keys []KeyEvent
	for _, ev := range d.parser.Feed(data) {
		switch e := ev.(type) {
		case IDEvent:
			d.id = e.ID
		case SizeEvent:
			d.setSize(e.Cols, e.Rows)
		case KeyEvent:
			if d.cols == 0 || e.X >= d.cols || e.Y >= d.rows {
				continue
			}
			x, y := d.rotation.toLogical(e.X, e.Y, d.cols, d.rows)
			keys = append(keys, KeyEvent{X: x, Y: y, Down: e.Down})
		}
	}
	return keys
}

func (d *Device) setSize(cols, rows int) {
	if cols == d.cols && rows == d.rows {
		return
	}
	d.cols, d.rows = cols, rows
	d.lit = make([][]bool, rows)
	for y := range d.lit {
		d.lit[y] = make([]bool, cols)
	}
}

// SetLED turns one LED on or off.
func (d *Device) SetLED(x, y int, on bool) error {
	px, py, ok := d.physical(x, y)
	if !ok {
		return d.rangeError(x, y)
	}
	d.lit[py][px] = on
	op := opLEDOff
	if on {
		op = opLEDOn
	}
	return d.write(op, byte(px), byte(py))
}

// All turns every LED on or off.
func (d *Device) All(on bool) error {
	if d.cols == 0 {
		return ErrNotIdentified
	}
	for _, row := range d.lit {
		for x := range row {
			row[x] = on
		}
	}
	if on {
		return d.write(opLEDAllOn)
	}
	return d.write(opLEDAllOff)
}

// Map sets an 8x8 block whose logical origin is (xOff, yOff). Each byte is
// one row, least significant bit leftmost.
func (d *Device) Map(xOff, yOff int, rows [8]byte) error {
	xOff, yOff = xOff&^(quad-1), yOff&^(quad-1)
	return d.update(func(set func(x, y int, on bool)) {
		for dy, bits := range rows {
			for dx := 0; dx < quad; dx++ {
				set(xOff+dx, yOff+dy, bits&(1<<dx) != 0)
			}
		}
	})
}

// Row sets consecutive LEDs along logical row y, starting at xOff, eight
// per byte.
func (d *Device) Row(xOff, y int, data []byte) error {
	xOff &^= quad - 1
	return d.update(func(set func(x, y int, on bool)) {
		for i, bits := range data {
			for b := 0; b < quad; b++ {
				set(xOff+i*quad+b, y, bits&(1<<b) != 0)
			}
		}
	})
}

// Col sets consecutive LEDs down logical column x, starting at yOff, eight
// per byte.
func (d *Device) Col(x, yOff int, data []byte) error {
	yOff &^= quad - 1
	return d.update(func(set func(x, y int, on bool)) {
		for i, bits := range data {
			for b := 0; b < quad; b++ {
				set(x, yOff+i*quad+b, bits&(1<<b) != 0)
			}
		}
	})
}

// Intensity sets the global brightness, 0 through 15.
func (d *Device) Intensity(level int) error {
	if level < 0 {
		level = 0
	}
	if level > 15 {
		level = 15
	}
	return d.write(opLEDIntensity, byte(level))
}

// update applies a batch of logical LED changes to the mirror and sends a
// map command for every physical block that changed. Coordinates outside
// the grid are ignored.
func (d *Device) update(fn func(set func(x, y int, on bool))) error {
	if d.cols == 0 {
		return ErrNotIdentified
	}

	type block struct{ x, y int }
	var order []block
	dirty := make(map[block]bool)

	fn(func(x, y int, on bool) {
		px, py, ok := d.physical(x, y)
		if !ok || d.lit[py][px] == on {
			return
		}
		d.lit[py][px] = on
		b := block{px &^ (quad - 1), py &^ (quad - 1)}
		if !dirty[b] {
			dirty[b] = true
			order = append(order, b)
		}
	})

	for _, b := range order {
		frame := []byte{opLEDMap, byte(b.x), byte(b.y)}
		for dy := 0; dy < quad; dy++ {
			var bits byte
			for dx := 0; dx < quad; dx++ {
				if d.litAt(b.x+dx, b.y+dy) {
					bits |= 1 << dx
				}
			}
			frame = append(frame, bits)
		}
		if err := d.write(frame...); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) litAt(px, py int) bool {
	return py < d.rows && px < d.cols && d.lit[py][px]
}

// physical maps logical coordinates, reporting false when they fall
// outside the grid or the size is not yet known.
func (d *Device) physical(x, y int) (int, int, bool) {
	lc, lr := d.Size()
	if x < 0 || y < 0 || x >= lc || y >= lr {
		return 0, 0, false
	}
	px, py := d.rotation.toPhysical(x, y, d.cols, d.rows)
	return px, py, true
}

func (d *Device) rangeError(x, y int) error {
	if d.cols == 0 {
		return ErrNotIdentified
	}
	lc, lr := d.Size()
	return fmt.Errorf("grid: led %d,%d outside %dx%d", x, y, lc, lr)
}

func (d *Device) write(frame ...byte) error {
	if _, err := d.rw.Write(frame); err != nil {
		return fmt.Errorf("%w: opcode 0x%02x: %w", ErrWrite, frame[0], err)
	}
	return nil
}
