// Package serialport is the thin layer between the sensor pipeline and the
// operating system's serial devices. It wraps go.bug.st/serial behind small
// interfaces so that discovery and ingestion can be tested without hardware.
package serialport

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// SerialPorter defines the minimal interface needed for a serial port.
// go.bug.st/serial's Port satisfies it.
type SerialPorter interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds how long Read blocks when no data is available.
	// A Read that times out returns 0, nil.
	SetReadTimeout(timeout time.Duration) error
}

// InputFlusher is implemented by ports that can drop whatever the driver has
// buffered. Discovery uses it, when available, to start from a clean stream.
type InputFlusher interface {
	ResetInputBuffer() error
}

// Factory opens serial ports. It is injected into discovery so tests can
// supply scripted ports.
type Factory interface {
	Open(path string, opts PortOptions) (SerialPorter, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(path string, opts PortOptions) (SerialPorter, error)

// Open calls f.
func (f FactoryFunc) Open(path string, opts PortOptions) (SerialPorter, error) {
	return f(path, opts)
}

// RealFactory opens hardware ports through go.bug.st/serial.
type RealFactory struct{}

// Open opens the device at path with the given options.
func (RealFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}
