package console

import (
	"io"

	"go.bug.st/serial"
)

// Porter is the minimal interface the console needs from a serial port.
// The abstraction enables unit testing without detector hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// PortMode holds the serial parameters for the maintenance port.
type PortMode struct {
	BaudRate int
	DataBits int
}

// DefaultPortMode returns the detector maintenance port settings, 115200 8N1.
func DefaultPortMode() *PortMode {
	return &PortMode{
		BaudRate: 115200,
		DataBits: 8,
	}
}

// OpenPort opens a real serial port at path with the given mode.
func OpenPort(path string, mode *PortMode) (Porter, error) {
	if mode == nil {
		mode = DefaultPortMode()
	}
	return serial.Open(path, &serial.Mode{
		BaudRate: mode.BaudRate,
		DataBits: mode.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
}
