package serialport

import (
	"errors"
	"io"
	"os"
	"syscall"

	"go.bug.st/serial"
)

// ErrPortClosed is returned by the test doubles once a port has been closed
// or its script has run out.
var ErrPortClosed = errors.New("serial port closed")

// IsDisconnected reports whether err means the device is gone for good, as
// opposed to a timeout or a transient driver hiccup. A disconnected port
// must be reopened through discovery.
func IsDisconnected(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPortClosed) || errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return true
	}

	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
			return true
		}
		return false
	}

	// USB adapters that are unplugged mid-read surface as raw errnos.
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EIO, syscall.ENXIO, syscall.ENODEV, syscall.EBADF:
			return true
		}
	}
	return false
}
