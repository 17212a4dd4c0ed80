// Package negotiator finds the serial device an SDS011 is attached to and
// brings it into continuous reporting mode.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VishwanathaRgitgit/DeepAir/internal/monitoring"
	"github.com/VishwanathaRgitgit/DeepAir/internal/sds011"
	"github.com/VishwanathaRgitgit/DeepAir/internal/serialport"
	"github.com/VishwanathaRgitgit/DeepAir/internal/timeutil"
)

const (
	// DefaultSettleDelay is the pause after each command frame.
	DefaultSettleDelay = 100 * time.Millisecond
	// DefaultHandshakeTimeout bounds how long a candidate may stay silent.
	DefaultHandshakeTimeout = 3 * time.Second
	// DefaultProbeReadTimeout is the per-read timeout while probing.
	DefaultProbeReadTimeout = 200 * time.Millisecond
)

var (
	// ErrNoSensorFound is returned when no candidate produced a data frame.
	ErrNoSensorFound = errors.New("no SDS011 sensor found")
	// ErrHandshakeTimeout marks a candidate that opened but stayed silent.
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// Connection is a negotiated sensor link. Ownership of Port passes to the
// caller.
type Connection struct {
	Path    string
	Port    serialport.SerialPorter
	Decoder *sds011.Decoder
	// First is the measurement that proved the candidate. Buffered holds any
	// further measurements decoded from the same read.
	First    sds011.Measurement
	Buffered []sds011.Measurement
}

// Measurements returns First followed by Buffered.
func (c *Connection) Measurements() []sds011.Measurement {
	return append([]sds011.Measurement{c.First}, c.Buffered...)
}

// Negotiator probes candidate ports. The zero value is usable and talks to
// real hardware.
type Negotiator struct {
	Factory          serialport.Factory
	Lister           serialport.Lister
	Clock            timeutil.Clock
	Options          serialport.PortOptions
	SettleDelay      time.Duration
	ProbeReadTimeout time.Duration
	Decoder          sds011.DecoderOptions
}

func (n *Negotiator) factory() serialport.Factory {
	if n.Factory == nil {
		return serialport.RealFactory{}
	}
	return n.Factory
}

func (n *Negotiator) clock() timeutil.Clock {
	if n.Clock == nil {
		return timeutil.RealClock{}
	}
	return n.Clock
}

func (n *Negotiator) settle() time.Duration {
	if n.SettleDelay <= 0 {
		return DefaultSettleDelay
	}
	return n.SettleDelay
}

func (n *Negotiator) probeReadTimeout() time.Duration {
	if n.ProbeReadTimeout <= 0 {
		return DefaultProbeReadTimeout
	}
	return n.ProbeReadTimeout
}

// Discover probes candidates in order and returns the first that yields a
// measurement within timeout. An empty candidate list enumerates the
// system's serial ports.
func (n *Negotiator) Discover(ctx context.Context, candidates []string, timeout time.Duration) (*Connection, error) {
	if timeout <= 0 {
		timeout = DefaultHandshakeTimeout
	}
	if len(candidates) == 0 {
		lister := n.Lister
		if lister == nil {
			lister = serialport.ListPorts
		}
		ports, err := lister()
		if err != nil {
			return nil, fmt.Errorf("%w: listing ports: %w", ErrNoSensorFound, err)
		}
		if len(ports) == 0 {
			return nil, fmt.Errorf("%w: no serial ports present", ErrNoSensorFound)
		}
		monitoring.Debugf("negotiator: auto-detect candidates %v", ports)
		candidates = ports
	}

	var errs []error
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := n.probe(ctx, path, timeout)
		if err == nil {
			monitoring.Logf("negotiator: sensor found on %s (%s)", path, conn.First)
			return conn, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		monitoring.Logf("negotiator: %s: %v", path, err)
		errs = append(errs, fmt.Errorf("%s: %w", path, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrNoSensorFound, errors.Join(errs...))
}

func (n *Negotiator) probe(ctx context.Context, path string, timeout time.Duration) (*Connection, error) {
	opts, err := n.Options.Normalise()
	if err != nil {
		return nil, err
	}
	port, err := n.factory().Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	conn, err := n.handshake(ctx, path, port, timeout)
	if err != nil {
		if cerr := port.Close(); cerr != nil {
			monitoring.Debugf("negotiator: close %s: %v", path, cerr)
		}
		return nil, err
	}
	return conn, nil
}

func (n *Negotiator) handshake(ctx context.Context, path string, port serialport.SerialPorter, timeout time.Duration) (*Connection, error) {
	clock := n.clock()
	readTimeout := n.probeReadTimeout()

	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	if f, ok := port.(serialport.InputFlusher); ok {
		if err := f.ResetInputBuffer(); err != nil {
			monitoring.Debugf("negotiator: flush %s: %v", path, err)
		}
	}
	for _, cmd := range [][]byte{sds011.WakeCommand(), sds011.ContinuousModeCommand()} {
		if _, err := port.Write(cmd); err != nil {
			return nil, fmt.Errorf("write command: %w", err)
		}
		clock.Sleep(n.settle())
	}

	decOpts := n.Decoder
	if decOpts.Clock == nil {
		decOpts.Clock = clock
	}
	dec := sds011.NewDecoder(decOpts)

	// Bounded by the clock deadline and, for ports whose reads return
	// immediately, by the number of empty reads that would fill it.
	deadline := clock.Now().Add(timeout)
	maxIdle := int(timeout/readTimeout) + 1
	idle := 0
	buf := make([]byte, 64)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !clock.Now().Before(deadline) || idle >= maxIdle {
			return nil, ErrHandshakeTimeout
		}

		nr, err := port.Read(buf)
		if err != nil {
			if serialport.IsDisconnected(err) {
				return nil, fmt.Errorf("read: %w", err)
			}
			monitoring.Debugf("negotiator: %s: transient read error: %v", path, err)
		}
		if nr == 0 {
			idle++
			dec.Expire()
			continue
		}
		idle = 0

		var got []sds011.Measurement
		for _, e := range dec.FeedAll(buf[:nr]) {
			got = append(got, e.Measurement)
		}
		if len(got) > 0 {
			return &Connection{
				Path:     path,
				Port:     port,
				Decoder:  dec,
				First:    got[0],
				Buffered: got[1:],
			}, nil
		}
	}
}
