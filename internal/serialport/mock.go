package serialport

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

// readStep is one scripted result of a Read call.
type readStep struct {
	data []byte
	err  error
}

// TestableSerialPort implements SerialPorter with a scripted sequence of read
// results for testing. Each queued step answers one Read call; a step with no
// data and no error behaves like a read timeout. Once the script is drained
// Read keeps timing out, or returns DrainedError if it is set.
type TestableSerialPort struct {
	mu sync.Mutex

	script []readStep

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadLatency adds a delay to each Read call
	ReadLatency time.Duration

	// WriteError is returned by every Write call if set
	WriteError error

	// CloseError is returned by Close if set
	CloseError error

	// DrainedError is returned by Read once the script is exhausted, if set
	DrainedError error

	// Closed indicates whether Close was called
	Closed bool

	// ReadCalls records the number of Read calls
	ReadCalls int

	// CloseCalls records the number of Close calls
	CloseCalls int

	// ReadTimeout is the current read timeout
	ReadTimeout time.Duration

	// Flushes records the number of ResetInputBuffer calls
	Flushes int
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

// QueueRead schedules data to be returned by the next unscripted Read call.
// Data larger than the caller's buffer is split across consecutive reads.
func (t *TestableSerialPort) QueueRead(data []byte) *TestableSerialPort {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, readStep{data: append([]byte(nil), data...)})
	return t
}

// QueueTimeouts schedules n reads that return no data and no error.
func (t *TestableSerialPort) QueueTimeouts(n int) *TestableSerialPort {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < n; i++ {
		t.script = append(t.script, readStep{})
	}
	return t
}

// QueueError schedules a Read that fails with err.
func (t *TestableSerialPort) QueueError(err error) *TestableSerialPort {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, readStep{err: err})
	return t
}

// Read returns the next scripted step.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	t.ReadCalls++
	latency := t.ReadLatency
	t.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	if len(t.script) == 0 {
		return 0, t.DrainedError
	}

	step := &t.script[0]
	if step.err != nil {
		err := step.err
		t.script = t.script[1:]
		return 0, err
	}
	n := copy(p, step.data)
	step.data = step.data[n:]
	if len(step.data) == 0 {
		t.script = t.script[1:]
	}
	return n, nil
}

// Pending returns the number of scripted steps not yet consumed.
func (t *TestableSerialPort) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.script)
}

// Write appends to the write buffer, optionally simulating errors.
func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, ErrPortClosed
	}
	if t.WriteError != nil {
		return 0, t.WriteError
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.CloseCalls++
	return t.CloseError
}

// IsClosed reports whether Close has been called.
func (t *TestableSerialPort) IsClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Closed
}

// SetReadTimeout implements SerialPorter.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// ResetInputBuffer implements InputFlusher.
func (t *TestableSerialPort) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Flushes++
	return nil
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// MockFactory implements Factory for testing. Ports are looked up by path;
// paths listed in Errors fail to open.
type MockFactory struct {
	mu sync.Mutex

	Ports  map[string]SerialPorter
	Errors map[string]error

	// OpenCalls records all Open calls
	OpenCalls []MockOpenCall
}

// MockOpenCall records details of an Open call.
type MockOpenCall struct {
	Path string
	Opts PortOptions
}

// NewMockFactory creates a MockFactory with no ports.
func NewMockFactory() *MockFactory {
	return &MockFactory{
		Ports:  make(map[string]SerialPorter),
		Errors: make(map[string]error),
	}
}

// Add registers a port under path.
func (f *MockFactory) Add(path string, port SerialPorter) *MockFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ports[path] = port
	return f
}

// Fail makes opening path return err.
func (f *MockFactory) Fail(path string, err error) *MockFactory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors[path] = err
	return f
}

// Open returns the configured port or error.
func (f *MockFactory) Open(path string, opts PortOptions) (SerialPorter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.OpenCalls = append(f.OpenCalls, MockOpenCall{Path: path, Opts: opts})

	if err := f.Errors[path]; err != nil {
		return nil, err
	}
	port, ok := f.Ports[path]
	if !ok {
		return nil, fmt.Errorf("open %s: no such device", path)
	}
	return port, nil
}

// Opened returns the paths passed to Open, in order.
func (f *MockFactory) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := make([]string, 0, len(f.OpenCalls))
	for _, c := range f.OpenCalls {
		paths = append(paths, c.Path)
	}
	return paths
}
