package grid

import "fmt"

// Rotation is a clockwise quarter-turn count, 0 through 3.
type Rotation int

// Rotations.
const (
	Rotate0 Rotation = iota
	Rotate90
	Rotate180
	Rotate270
)

// RotationFromDegrees converts 0, 90, 180 or 270 degrees.
func RotationFromDegrees(deg int) (Rotation, error) {
	if deg < 0 || deg > 270 || deg%90 != 0 {
		return 0, fmt.Errorf("grid: rotation %d is not 0, 90, 180 or 270", deg)
	}
	return Rotation(deg / 90), nil
}

// Degrees returns the rotation in degrees.
func (r Rotation) Degrees() int {
	return int(r) * 90
}

// swapsAxes reports whether logical columns map to physical rows.
func (r Rotation) swapsAxes() bool {
	return r == Rotate90 || r == Rotate270
}

// toPhysical maps logical (x, y) to physical coordinates on a grid with
// cols physical columns and rows physical rows.
func (r Rotation) toPhysical(x, y, cols, rows int) (int, int) {
	switch r {
	case Rotate90:
		return cols - 1 - y, x
	case Rotate180:
		return cols - 1 - x, rows - 1 - y
	case Rotate270:
		return y, rows - 1 - x
	}
	return x, y
}

// toLogical is the inverse of toPhysical.
func (r Rotation) toLogical(px, py, cols, rows int) (int, int) {
	switch r {
	case Rotate90:
		return py, cols - 1 - px
	case Rotate180:
		return cols - 1 - px, rows - 1 - py
	case Rotate270:
		return rows - 1 - py, px
	}
	return px, py
}
