package serialport

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// FrameEncoder produces one wire frame for the simulated sensor.
type FrameEncoder func(pm25, pm10 float64) []byte

// SimulatedSensor is a SerialPorter that behaves like an SDS011 in continuous
// mode: it emits one data frame per interval with slowly drifting values.
// It backs the -dev mode of the daemon.
type SimulatedSensor struct {
	mu       sync.Mutex
	encode   FrameEncoder
	interval time.Duration
	timeout  time.Duration
	next     time.Time
	pending  []byte
	closed   bool
	written  int
	rng      *rand.Rand
	t        float64
}

// NewSimulatedSensor returns a simulated sensor emitting a frame every
// interval.
func NewSimulatedSensor(interval time.Duration, encode FrameEncoder) *SimulatedSensor {
	return &SimulatedSensor{
		encode:   encode,
		interval: interval,
		timeout:  time.Second,
		next:     time.Now(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Read blocks up to the read timeout waiting for the next frame.
func (s *SimulatedSensor) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrPortClosed
	}
	if len(s.pending) == 0 {
		wait := time.Until(s.next)
		if wait > s.timeout {
			s.mu.Unlock()
			time.Sleep(s.timeout)
			return 0, nil
		}
		if wait > 0 {
			s.mu.Unlock()
			time.Sleep(wait)
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				return 0, ErrPortClosed
			}
		}
		s.pending = s.encode(s.sample())
		s.next = time.Now().Add(s.interval)
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	s.mu.Unlock()
	return n, nil
}

func (s *SimulatedSensor) sample() (float64, float64) {
	s.t += 0.1
	pm25 := 18 + 8*math.Sin(s.t) + s.rng.Float64()*2
	pm10 := pm25*1.6 + s.rng.Float64()*3
	return math.Max(pm25, 0), math.Max(pm10, 0)
}

// Write accepts and discards command frames.
func (s *SimulatedSensor) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrPortClosed
	}
	s.written += len(p)
	return len(p), nil
}

// Close stops the simulation.
func (s *SimulatedSensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetReadTimeout implements SerialPorter.
func (s *SimulatedSensor) SetReadTimeout(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timeout > 0 {
		s.timeout = timeout
	}
	return nil
}
