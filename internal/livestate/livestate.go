// Package livestate holds the most recent sensor readings in memory for the
// dashboard, the console renderer and the prediction collaborator.
//
// One goroutine publishes measurements; any number of readers take
// snapshots. State is kept as an immutable value behind an atomic pointer:
// writers build a new value and swap it in with compare-and-swap, readers load
// the pointer and copy. Readers never block and never see a half-applied
// publish.
package livestate

import (
	"sync/atomic"
	"time"

	"github.com/VishwanathaRgitgit/DeepAir/internal/sds011"
)

// DefaultWindow is the history capacity used when none is configured.
const DefaultWindow = 30

// Reading is the latest measurement together with any prediction attached to
// it.
type Reading struct {
	sds011.Measurement
	PredictedPM25 *float64 `json:"predicted_pm25"`
}

// Snapshot is an independent copy of the live state.
type Snapshot struct {
	Latest  *Reading
	History []sds011.Measurement
	// Seq increases by one per publish.
	Seq uint64
}

// Window returns up to the last n pm2.5 values of the history, oldest first.
func (s Snapshot) Window(n int) []float64 {
	h := s.History
	if n < len(h) {
		h = h[len(h)-n:]
	}
	out := make([]float64, len(h))
	for i, m := range h {
		out[i] = m.PM25
	}
	return out
}

// Stale reports whether the latest reading is older than maxAge at now. An
// empty state is always stale.
func (s Snapshot) Stale(now time.Time, maxAge time.Duration) bool {
	if s.Latest == nil {
		return true
	}
	return now.Sub(s.Latest.ObservedAt) > maxAge
}

type state struct {
	history    []sds011.Measurement
	latest     *sds011.Measurement
	prediction *float64
	seq        uint64
}

// State is the concurrent live-state store.
type State struct {
	window int
	cur    atomic.Pointer[state]
}

// New returns an empty store retaining at most window measurements.
func New(window int) *State {
	if window <= 0 {
		window = DefaultWindow
	}
	s := &State{window: window}
	s.cur.Store(&state{})
	return s
}

// Capacity returns the configured window size.
func (s *State) Capacity() int { return s.window }

// Publish records m as the latest measurement and appends it to the history,
// evicting the oldest entry once the window is full. A timestamp earlier than
// the current latest (a wall clock stepping back) is clamped so history stays
// ordered.
func (s *State) Publish(m sds011.Measurement) {
	for {
		old := s.cur.Load()
		if old.latest != nil && m.ObservedAt.Before(old.latest.ObservedAt) {
			m.ObservedAt = old.latest.ObservedAt
		}

		start := 0
		if len(old.history) >= s.window {
			start = len(old.history) - s.window + 1
		}
		history := make([]sds011.Measurement, 0, s.window)
		history = append(history, old.history[start:]...)
		history = append(history, m)

		latest := m
		next := &state{
			history: history,
			latest:  &latest,
			seq:     old.seq + 1,
		}
		if s.cur.CompareAndSwap(old, next) {
			return
		}
	}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	cur := s.cur.Load()
	snap := Snapshot{
		History: make([]sds011.Measurement, len(cur.history)),
		Seq:     cur.seq,
	}
	copy(snap.History, cur.history)
	if cur.latest != nil {
		r := Reading{Measurement: *cur.latest}
		if cur.prediction != nil {
			p := *cur.prediction
			r.PredictedPM25 = &p
		}
		snap.Latest = &r
	}
	return snap
}

// AttachPrediction annotates the latest measurement with a predicted next
// pm2.5 value. The prediction is only attached if observedAt still names the
// latest measurement; it reports false when a newer publish has already
// superseded it. History is never rewritten.
func (s *State) AttachPrediction(observedAt time.Time, predictedPM25 float64) bool {
	for {
		old := s.cur.Load()
		if old.latest == nil || !old.latest.ObservedAt.Equal(observedAt) {
			return false
		}
		p := predictedPM25
		next := *old
		next.prediction = &p
		if s.cur.CompareAndSwap(old, &next) {
			return true
		}
	}
}

// Prediction returns the prediction attached to the measurement observed at
// observedAt, if it is still the latest one.
func (s *State) Prediction(observedAt time.Time) (float64, bool) {
	cur := s.cur.Load()
	if cur.latest == nil || cur.prediction == nil || !cur.latest.ObservedAt.Equal(observedAt) {
		return 0, false
	}
	return *cur.prediction, true
}
