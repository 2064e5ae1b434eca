//go:build !linux

package grid

import (
	"errors"
	"os"
)

// OpenPort is only implemented on Linux.
func OpenPort(path string) (*os.File, error) {
	return nil, errors.New("grid: serial ports are only supported on linux")
}
