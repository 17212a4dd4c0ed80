package durability

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/gofrs/flock"

	"github.com/VishwanathaRgitgit/DeepAir/internal/monitoring"
)

// CSVHeader is the column order of the CSV log.
var CSVHeader = []string{"timestamp", "pm25", "pm10", "predicted_pm25"}

// syncWriter is the part of *os.File a row write needs.
type syncWriter interface {
	io.Writer
	Sync() error
}

// CSVLog appends records to a CSV file. Each Append is written and synced
// before it returns. A failed write does not poison later ones.
type CSVLog struct {
	path string
	lock *flock.Flock

	mu  sync.Mutex
	f   *os.File
	out syncWriter
	// torn is set when a write stopped part way through a row; the next
	// row starts on a fresh line.
	torn   bool
	closed bool
}

// OpenCSV opens (creating if necessary) the CSV log at path and takes the
// advisory lock <path>.lock. A second opener of the same path gets
// ErrLogLocked until the first one closes.
func OpenCSV(path string) (*CSVLog, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrLogLocked)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open csv log: %w", err)
	}
	return &CSVLog{path: path, lock: lock, f: f, out: f}, nil
}

// Path returns the file path of the log.
func (l *CSVLog) Path() string { return l.path }

// EnsureHeader writes the header row if the file is empty.
func (l *CSVLog) EnsureHeader() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return writeFailed("header", os.ErrClosed)
	}

	info, err := l.f.Stat()
	if err != nil {
		return writeFailed("stat", err)
	}
	if info.Size() > 0 {
		return nil
	}
	monitoring.Debugf("durability: writing csv header to %s", l.path)
	return l.writeRow(CSVHeader)
}

// Append writes one row.
func (l *CSVLog) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return writeFailed("append", os.ErrClosed)
	}

	predicted := ""
	if r.PredictedPM25 != nil {
		predicted = strconv.FormatFloat(*r.PredictedPM25, 'f', 2, 64)
	}
	return l.writeRow([]string{
		formatTimestamp(r.ObservedAt),
		strconv.FormatFloat(r.PM25, 'f', 1, 64),
		strconv.FormatFloat(r.PM10, 'f', 1, 64),
		predicted,
	})
}

func (l *CSVLog) writeRow(row []string) error {
	var buf bytes.Buffer
	sep := 0
	if l.torn {
		buf.WriteByte('\n')
		sep = 1
	}
	w := csv.NewWriter(&buf)
	if err := w.Write(row); err != nil {
		return writeFailed("encode", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return writeFailed("encode", err)
	}

	n, err := l.out.Write(buf.Bytes())
	if err != nil {
		switch {
		case n > sep:
			l.torn = true
		case n == sep:
			l.torn = false
		}
		return writeFailed("write", err)
	}
	l.torn = false
	if err := l.out.Sync(); err != nil {
		return writeFailed("sync", err)
	}
	return nil
}

// Close closes the file and releases the lock. It is safe to call
// more than once.
func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	err := l.f.Close()
	if uerr := l.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
