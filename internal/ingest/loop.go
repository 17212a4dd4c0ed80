// Package ingest runs the read/decode/publish/persist cycle for one
// negotiated sensor connection.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/VishwanathaRgitgit/DeepAir/internal/durability"
	"github.com/VishwanathaRgitgit/DeepAir/internal/livestate"
	"github.com/VishwanathaRgitgit/DeepAir/internal/metrics"
	"github.com/VishwanathaRgitgit/DeepAir/internal/monitoring"
	"github.com/VishwanathaRgitgit/DeepAir/internal/negotiator"
	"github.com/VishwanathaRgitgit/DeepAir/internal/predict"
	"github.com/VishwanathaRgitgit/DeepAir/internal/sds011"
	"github.com/VishwanathaRgitgit/DeepAir/internal/serialport"
	"github.com/VishwanathaRgitgit/DeepAir/internal/timeutil"
)

const (
	DefaultReadTimeout = time.Second
	DefaultBackoff     = 500 * time.Millisecond
	// DefaultBackoffEvery is how many consecutive empty reads trigger one
	// backoff sleep.
	DefaultBackoffEvery = 3
)

// ErrSensorDisconnected is returned by Run when the device goes away.
var ErrSensorDisconnected = errors.New("sensor disconnected")

type Config struct {
	ReadTimeout  time.Duration
	Backoff      time.Duration
	BackoffEvery int
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.BackoffEvery <= 0 {
		c.BackoffEvery = DefaultBackoffEvery
	}
	return c
}

// Deps are the collaborators shared across connections. Only Live is
// required.
type Deps struct {
	Live      *livestate.State
	Log       durability.Log
	Predictor predict.Predictor
	Metrics   *metrics.Metrics
	Clock     timeutil.Clock
}

// Stats is a point-in-time copy of the loop counters. Connected is true
// while Run owns an open port.
type Stats struct {
	Path           string       `json:"path"`
	Connected      bool         `json:"connected"`
	Measurements   uint64       `json:"measurements"`
	ReadTimeouts   uint64       `json:"read_timeouts"`
	Backoffs       uint64       `json:"backoffs"`
	AppendFailures uint64       `json:"append_failures"`
	Decoder        sds011.Stats `json:"decoder"`
}

// Loop owns the serial port of one connection until Run returns.
type Loop struct {
	conn *negotiator.Connection
	deps Deps
	cfg  Config

	stats atomic.Pointer[Stats]
	cur   Stats
}

func New(conn *negotiator.Connection, deps Deps, cfg Config) *Loop {
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Live == nil {
		deps.Live = livestate.New(livestate.DefaultWindow)
	}
	l := &Loop{conn: conn, deps: deps, cfg: cfg.withDefaults()}
	l.cur.Path = conn.Path
	l.publishStats()
	return l
}

// Stats may be called from any goroutine.
func (l *Loop) Stats() Stats {
	return *l.stats.Load()
}

func (l *Loop) publishStats() {
	s := l.cur
	s.Decoder = l.conn.Decoder.Stats()
	l.stats.Store(&s)
}

// Run reads until ctx is cancelled or the device disconnects. The port is
// closed when Run returns. Cancellation returns ctx.Err(); a disconnect
// returns an error wrapping ErrSensorDisconnected.
func (l *Loop) Run(ctx context.Context) error {
	port := l.conn.Port
	dec := l.conn.Decoder
	defer func() {
		if err := port.Close(); err != nil {
			monitoring.Debugf("ingest: close %s: %v", l.conn.Path, err)
		}
		l.cur.Connected = false
		l.publishStats()
		l.deps.Metrics.SetConnected(false)
	}()
	l.cur.Connected = true
	l.publishStats()
	l.deps.Metrics.SetConnected(true)

	if err := port.SetReadTimeout(l.cfg.ReadTimeout); err != nil {
		monitoring.Logf("ingest: set read timeout on %s: %v", l.conn.Path, err)
	}

	// measurements decoded during negotiation come first
	for _, m := range l.conn.Measurements() {
		l.handle(ctx, m)
	}
	l.publishStats()

	buf := make([]byte, 256)
	empty := 0
	prev := dec.Stats()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := port.Read(buf)
		if n > 0 {
			empty = 0
			for _, e := range dec.FeedAll(buf[:n]) {
				l.handle(ctx, e.Measurement)
			}
		}
		if err != nil {
			if serialport.IsDisconnected(err) {
				l.publishStats()
				return fmt.Errorf("%w: %s: %w", ErrSensorDisconnected, l.conn.Path, err)
			}
			monitoring.Debugf("ingest: transient read error on %s: %v", l.conn.Path, err)
		}
		if n == 0 {
			empty++
			l.cur.ReadTimeouts++
			l.deps.Metrics.ObserveReadTimeout()
			dec.Expire()
			if empty >= l.cfg.BackoffEvery {
				empty = 0
				l.cur.Backoffs++
				l.deps.Metrics.ObserveBackoff()
				monitoring.Debugf("ingest: no data from %s, backing off %v", l.conn.Path, l.cfg.Backoff)
				l.deps.Clock.Sleep(l.cfg.Backoff)
			}
		}

		stats := dec.Stats()
		l.deps.Metrics.ObserveDecoder(prev, stats)
		prev = stats
		l.publishStats()
	}
}

func (l *Loop) handle(ctx context.Context, m sds011.Measurement) {
	live := l.deps.Live
	live.Publish(m)
	snap := live.Snapshot()
	if snap.Latest != nil {
		// Publish may have clamped the timestamp
		m = snap.Latest.Measurement
	}
	l.cur.Measurements++
	l.deps.Metrics.ObserveMeasurement(m)
	monitoring.Debugf("ingest: %s", m)

	var predicted *float64
	if p := l.deps.Predictor; p != nil {
		if recent := snap.Window(p.Window()); len(recent) >= p.Window() {
			v, err := p.Predict(ctx, recent)
			l.deps.Metrics.ObservePrediction(v, err)
			switch {
			case err != nil:
				monitoring.Logf("ingest: prediction failed: %v", err)
			case live.AttachPrediction(m.ObservedAt, v):
				predicted = &v
			}
		}
	}

	if l.deps.Log == nil {
		return
	}
	start := l.deps.Clock.Now()
	err := l.deps.Log.Append(durability.NewRecord(m, predicted))
	l.deps.Metrics.ObserveAppend(l.deps.Clock.Since(start), err)
	if err != nil {
		l.cur.AppendFailures++
		monitoring.Logf("ingest: append failed: %v", err)
	}
}
