// Package durability appends every decoded measurement to persistent storage.
package durability

import (
	"errors"
	"fmt"
	"time"

	"github.com/VishwanathaRgitgit/DeepAir/internal/sds011"
)

// TimestampLayout is the local-time format used for persisted timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

var (
	// ErrPersistenceWriteFailed wraps any failure to durably append a record.
	ErrPersistenceWriteFailed = errors.New("persistence write failed")
	// ErrLogLocked is returned when another process holds the log's lock file.
	ErrLogLocked = errors.New("log is locked by another process")
)

// Record is one persisted row.
type Record struct {
	sds011.Measurement
	PredictedPM25 *float64
}

// NewRecord builds a record, copying the prediction if present.
func NewRecord(m sds011.Measurement, predicted *float64) Record {
	r := Record{Measurement: m}
	if predicted != nil {
		v := *predicted
		r.PredictedPM25 = &v
	}
	return r
}

// Log is an append-only measurement sink. Append is called from a single
// goroutine.
type Log interface {
	EnsureHeader() error
	Append(Record) error
	Close() error
}

func formatTimestamp(t time.Time) string {
	return t.Local().Format(TimestampLayout)
}

func writeFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistenceWriteFailed, op, err)
}

type multiLog []Log

// Multi fans every call out to each log in order. All logs are attempted
// even when an earlier one fails; the failures are joined.
func Multi(logs ...Log) Log {
	out := make(multiLog, 0, len(logs))
	for _, l := range logs {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (m multiLog) EnsureHeader() error {
	var errs []error
	for _, l := range m {
		if err := l.EnsureHeader(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiLog) Append(r Record) error {
	var errs []error
	for _, l := range m {
		if err := l.Append(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiLog) Close() error {
	var errs []error
	for _, l := range m {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
