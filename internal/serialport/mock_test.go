package serialport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestableSerialPort_Script(t *testing.T) {
	port := NewTestableSerialPort().
		QueueRead([]byte{1, 2, 3, 4, 5}).
		QueueTimeouts(1).
		QueueError(errors.New("parity"))

	buf := make([]byte, 3)
	n, err := port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, buf[:n])

	n, err = port.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, buf[:n])

	n, err = port.Read(buf)
	assert.NoError(t, err)
	assert.Zero(t, n)

	_, err = port.Read(buf)
	assert.EqualError(t, err, "parity")

	// drained script behaves like a timeout
	n, err = port.Read(buf)
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 5, port.ReadCalls)
	assert.Zero(t, port.Pending())
}

func TestTestableSerialPort_DrainedError(t *testing.T) {
	port := NewTestableSerialPort()
	port.DrainedError = ErrPortClosed
	_, err := port.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestTestableSerialPort_WriteAndClose(t *testing.T) {
	port := NewTestableSerialPort()
	_, err := port.Write([]byte{0xAA, 0xB4})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xB4}, port.GetWrittenData())

	require.NoError(t, port.SetReadTimeout(200*time.Millisecond))
	assert.Equal(t, 200*time.Millisecond, port.ReadTimeout)

	require.NoError(t, port.Close())
	assert.True(t, port.IsClosed())
	_, err = port.Write([]byte{1})
	assert.ErrorIs(t, err, ErrPortClosed)
	_, err = port.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrPortClosed)
}

func TestMockFactory(t *testing.T) {
	port := NewTestableSerialPort()
	f := NewMockFactory().
		Add("/dev/ttyUSB1", port).
		Fail("/dev/ttyUSB0", errors.New("busy"))

	_, err := f.Open("/dev/ttyUSB0", PortOptions{})
	assert.EqualError(t, err, "busy")

	got, err := f.Open("/dev/ttyUSB1", DefaultPortOptions())
	require.NoError(t, err)
	assert.Same(t, port, got)

	_, err = f.Open("/dev/ttyACM0", PortOptions{})
	assert.Error(t, err)

	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyACM0"}, f.Opened())
	assert.Equal(t, DefaultPortOptions(), f.OpenCalls[1].Opts)
}

func TestSimulatedSensor(t *testing.T) {
	frame := []byte{0xAA, 0xC0, 1, 2, 3, 4, 5, 6, 7, 0xAB}
	sim := NewSimulatedSensor(10*time.Millisecond, func(pm25, pm10 float64) []byte {
		return frame
	})
	require.NoError(t, sim.SetReadTimeout(100*time.Millisecond))

	buf := make([]byte, 4)
	var got []byte
	for len(got) < len(frame) {
		n, err := sim.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, frame, got)

	n, err := sim.Write([]byte{0xAA})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, sim.Close())
	_, err = sim.Read(buf)
	assert.ErrorIs(t, err, ErrPortClosed)
}
