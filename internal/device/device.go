// Package device opens the byte stream the bridge reads records from.
package device

import (
	"fmt"
	"io"
	"os"

	"go.bug.st/serial"
)

// Stdin is the path that selects standard input instead of a device.
const Stdin = "-"

// Open opens path for reading. "-" selects standard input, regular files and named pipes
// are opened as-is, and anything else is treated as a serial port configured for
// baud 8N1.
func Open(path string, baud int) (io.ReadCloser, error) {
	if path == Stdin {
		return io.NopCloser(os.Stdin), nil
	}

	if fi, err := os.Stat(path); err == nil && (fi.Mode().IsRegular() || fi.Mode()&os.ModeNamedPipe != 0) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return f, nil
	}

	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s at %d baud: %w", path, baud, err)
	}
	return port, nil
}

// Ports lists the serial ports present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}
