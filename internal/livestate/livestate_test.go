package livestate

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VishwanathaRgitgit/DeepAir/internal/sds011"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func measurement(i int) sds011.Measurement {
	return sds011.Measurement{
		PM25:       float64(i),
		PM10:       float64(i) * 2,
		ObservedAt: t0.Add(time.Duration(i) * time.Second),
	}
}

func TestState_Empty(t *testing.T) {
	s := New(0)
	snap := s.Snapshot()
	assert.Nil(t, snap.Latest)
	assert.Empty(t, snap.History)
	assert.Zero(t, snap.Seq)
	assert.Equal(t, DefaultWindow, s.Capacity())
	assert.True(t, snap.Stale(t0, time.Hour))
}

func TestState_PublishBelowCapacity(t *testing.T) {
	s := New(5)
	for i := 0; i < 3; i++ {
		s.Publish(measurement(i))
	}
	snap := s.Snapshot()
	require.NotNil(t, snap.Latest)
	assert.Equal(t, measurement(2), snap.Latest.Measurement)
	assert.Len(t, snap.History, 3)
	assert.Equal(t, uint64(3), snap.Seq)
}

func TestState_EvictsOldestBeyondWindow(t *testing.T) {
	const w = 30
	s := New(w)
	for i := 0; i < 100; i++ {
		s.Publish(measurement(i))
	}
	snap := s.Snapshot()
	require.Len(t, snap.History, w)

	want := make([]sds011.Measurement, 0, w)
	for i := 100 - w; i < 100; i++ {
		want = append(want, measurement(i))
	}
	if diff := cmp.Diff(want, snap.History); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, measurement(99), snap.Latest.Measurement)
}

func TestState_SnapshotIsIndependentCopy(t *testing.T) {
	s := New(3)
	s.Publish(measurement(1))
	snap := s.Snapshot()
	snap.History[0].PM25 = 999
	snap.Latest.PM25 = 999

	again := s.Snapshot()
	assert.Equal(t, 1.0, again.History[0].PM25)
	assert.Equal(t, 1.0, again.Latest.PM25)
}

func TestState_ClampsBackwardsTimestamps(t *testing.T) {
	s := New(5)
	s.Publish(measurement(10))
	early := measurement(3)
	s.Publish(early)

	snap := s.Snapshot()
	assert.Equal(t, measurement(10).ObservedAt, snap.Latest.ObservedAt)
	assert.Equal(t, 3.0, snap.Latest.PM25)
	for i := 1; i < len(snap.History); i++ {
		assert.False(t, snap.History[i].ObservedAt.Before(snap.History[i-1].ObservedAt))
	}
}

func TestState_AttachPrediction(t *testing.T) {
	s := New(5)
	assert.False(t, s.AttachPrediction(t0, 1), "nothing published yet")

	m := measurement(1)
	s.Publish(m)
	assert.True(t, s.AttachPrediction(m.ObservedAt, 42.5))

	snap := s.Snapshot()
	require.NotNil(t, snap.Latest.PredictedPM25)
	assert.Equal(t, 42.5, *snap.Latest.PredictedPM25)
	got, ok := s.Prediction(m.ObservedAt)
	assert.True(t, ok)
	assert.Equal(t, 42.5, got)
	assert.Equal(t, uint64(1), snap.Seq, "attaching does not count as a publish")

	// a newer publish clears the prediction and rejects stale targets
	s.Publish(measurement(2))
	assert.Nil(t, s.Snapshot().Latest.PredictedPM25)
	assert.False(t, s.AttachPrediction(m.ObservedAt, 1))
	_, ok = s.Prediction(m.ObservedAt)
	assert.False(t, ok)

	// history is untouched by predictions
	assert.Equal(t, []sds011.Measurement{measurement(1), measurement(2)}, s.Snapshot().History)
}

func TestSnapshot_Window(t *testing.T) {
	s := New(10)
	for i := 0; i < 6; i++ {
		s.Publish(measurement(i))
	}
	snap := s.Snapshot()
	assert.Equal(t, []float64{3, 4, 5}, snap.Window(3))
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, snap.Window(20))
}

func TestSnapshot_Stale(t *testing.T) {
	s := New(3)
	s.Publish(measurement(0))
	snap := s.Snapshot()
	assert.False(t, snap.Stale(t0.Add(5*time.Second), 10*time.Second))
	assert.True(t, snap.Stale(t0.Add(11*time.Second), 10*time.Second))
}

func TestState_ConcurrentPublishAndSnapshot(t *testing.T) {
	const w = 8
	s := New(w)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			s.Publish(measurement(i))
			if i%7 == 0 {
				s.AttachPrediction(measurement(i).ObservedAt, float64(i))
			}
		}
		close(stop)
	}()

	errs := make(chan string, 16)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastSeq uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				if snap.Seq < lastSeq {
					errs <- "seq went backwards"
					return
				}
				lastSeq = snap.Seq
				if len(snap.History) > w {
					errs <- "history exceeds window"
					return
				}
				if snap.Latest == nil {
					continue
				}
				// latest and history always come from the same publish
				tail := snap.History[len(snap.History)-1]
				if tail != snap.Latest.Measurement {
					errs <- "latest does not match history tail"
					return
				}
				if uint64(len(snap.History)) != min(snap.Seq, w) {
					errs <- "history length does not match publish count"
					return
				}
				if p := snap.Latest.PredictedPM25; p != nil && *p != snap.Latest.PM25 {
					errs <- "prediction attached to the wrong measurement"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
	assert.Equal(t, uint64(5000), s.Snapshot().Seq)
}
