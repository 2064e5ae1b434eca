package grid

import (
	"os"
	"path/filepath"
	"strings"
)

// sysfsRoot is replaced in tests.
var sysfsRoot = "/sys"

// USBSerial looks up the USB serial number of the adapter behind a tty
// such as /dev/ttyUSB0. FTDI ttys sit one level deeper in sysfs than
// CDC-ACM ones, so both parents are tried. It returns "" when none is found.
func USBSerial(devnode string) string {
	dev, err := filepath.EvalSymlinks(filepath.Join(sysfsRoot, "class", "tty", filepath.Base(devnode), "device"))
	if err != nil {
		return ""
	}
	for _, rel := range []string{"../../serial", "../serial"} {
		data, err := os.ReadFile(filepath.Join(dev, rel))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			return s
		}
	}
	return ""
}

// Serial picks the identifier a device is registered under: the USB
// serial when sysfs has one, else the id the device reported, else the
// tty name.
func Serial(devnode, reportedID string) string {
	if s := USBSerial(devnode); s != "" {
		return s
	}
	if reportedID != "" {
		return reportedID
	}
	return filepath.Base(devnode)
}
