package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VishwanathaRgitgit/DeepAir/internal/ingest"
	"github.com/VishwanathaRgitgit/DeepAir/internal/livestate"
	"github.com/VishwanathaRgitgit/DeepAir/internal/metrics"
	"github.com/VishwanathaRgitgit/DeepAir/internal/monitoring"
	"github.com/VishwanathaRgitgit/DeepAir/internal/sds011"
	"github.com/VishwanathaRgitgit/DeepAir/internal/timeutil"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.Local)

type fixture struct {
	live  *livestate.State
	clock *timeutil.MockClock
	srv   *Server
	mux   http.Handler
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	f := &fixture{live: livestate.New(30), clock: timeutil.NewMockClock(t0)}
	opts.Live = f.live
	opts.Clock = f.clock
	f.srv = NewServer(opts)
	h, err := f.srv.Handler()
	require.NoError(t, err)
	f.mux = h
	return f
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "127.0.0.1:4321"
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeLive(t *testing.T, rec *httptest.ResponseRecorder) LiveResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp LiveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestLive_Empty(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.get(t, "/api/live")
	resp := decodeLive(t, rec)

	assert.Nil(t, resp.Latest.PM25)
	assert.Nil(t, resp.Latest.Timestamp)
	assert.True(t, resp.Stale)
	assert.Contains(t, rec.Body.String(), `"timestamps":[]`, "empty arrays, not null")
	assert.Contains(t, rec.Body.String(), `"predicted_pm25":null`)
}

func TestLive_WithReadings(t *testing.T) {
	f := newFixture(t, Options{})
	f.live.Publish(sds011.Measurement{PM25: 10, PM10: 20, ObservedAt: t0})
	f.live.Publish(sds011.Measurement{PM25: 30, PM10: 60.2, ObservedAt: t0.Add(time.Second)})
	f.live.AttachPrediction(t0.Add(time.Second), 32.5)
	f.clock.Set(t0.Add(3 * time.Second))

	resp := decodeLive(t, f.get(t, "/api/live"))
	require.NotNil(t, resp.Latest.PM25)
	assert.Equal(t, 30.0, *resp.Latest.PM25)
	assert.Equal(t, 60.2, *resp.Latest.PM10)
	assert.Equal(t, "2026-03-01 09:00:01", *resp.Latest.Timestamp)
	require.NotNil(t, resp.Latest.PredictedPM25)
	assert.Equal(t, 32.5, *resp.Latest.PredictedPM25)
	assert.Equal(t, 100, *resp.Latest.AQI)
	assert.Equal(t, "Moderate", *resp.Latest.Category)
	assert.False(t, resp.Stale)

	assert.Equal(t, []string{"2026-03-01 09:00:00", "2026-03-01 09:00:01"}, resp.History.Timestamps)
	assert.Equal(t, []float64{10, 30}, resp.History.PM25)
	assert.Equal(t, []float64{20, 60.2}, resp.History.PM10)
}

func TestLive_Stale(t *testing.T) {
	f := newFixture(t, Options{StaleAfter: 10 * time.Second})
	f.live.Publish(sds011.Measurement{PM25: 1, PM10: 2, ObservedAt: t0})
	f.clock.Set(t0.Add(11 * time.Second))

	resp := decodeLive(t, f.get(t, "/api/live"))
	assert.True(t, resp.Stale)
	assert.NotNil(t, resp.Latest.PM25, "stale data is still served")
}

func TestLive_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/api/live", nil)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.get(t, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"waiting"`)

	f.live.Publish(sds011.Measurement{PM25: 1, PM10: 2, ObservedAt: t0})
	rec = f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	f.clock.Set(t0.Add(time.Minute))
	rec = f.get(t, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"stale"`)
}

func TestHealth_ConnectedFollowsLoop(t *testing.T) {
	var stats ingest.Stats
	ok := false
	f := newFixture(t, Options{Stats: func() (ingest.Stats, bool) { return stats, ok }})
	f.live.Publish(sds011.Measurement{PM25: 1, PM10: 2, ObservedAt: t0})

	assert.Contains(t, f.get(t, "/healthz").Body.String(), `"connected":false`)

	ok, stats.Connected = true, true
	assert.Contains(t, f.get(t, "/healthz").Body.String(), `"connected":true`)

	// the loop has ended and rediscovery is running
	stats.Connected = false
	assert.Contains(t, f.get(t, "/healthz").Body.String(), `"connected":false`)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, Options{})
	rec := f.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fetch('/api/live')")
	assert.Contains(t, rec.Body.String(), "setInterval(fetchLive, 2000)")

	assert.Equal(t, http.StatusNotFound, f.get(t, "/nope").Code)
}

func TestChart(t *testing.T) {
	f := newFixture(t, Options{})
	f.live.Publish(sds011.Measurement{PM25: 12, PM10: 24, ObservedAt: t0})

	rec := f.get(t, "/chart")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, rec.Body.String(), "PM2.5")
	assert.Contains(t, rec.Body.String(), "echarts")
}

func TestHistoryPNG(t *testing.T) {
	f := newFixture(t, Options{})
	for _, path := range []string{"/api/history.png", "/api/history.png"} {
		rec := f.get(t, path)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
		f.live.Publish(sds011.Measurement{PM25: 5, PM10: 9, ObservedAt: t0})
		f.live.Publish(sds011.Measurement{PM25: 7, PM10: 11, ObservedAt: t0.Add(time.Second)})
	}
}

func TestMetricsRoute(t *testing.T) {
	m := metrics.New()
	m.ObserveMeasurement(sds011.Measurement{PM25: 3, PM10: 4, ObservedAt: t0})
	f := newFixture(t, Options{Metrics: m})

	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deepair_pm25_ugm3 3")
}

func TestDebugRoutes(t *testing.T) {
	stats := ingest.Stats{Path: "/dev/ttyUSB0", Measurements: 4}
	connected := false
	f := newFixture(t, Options{Stats: func() (ingest.Stats, bool) { return stats, connected }})

	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/debug/ingest").Code)
	connected = true
	rec := f.get(t, "/debug/ingest")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"path":"/dev/ttyUSB0"`)

	rec = f.get(t, "/debug/live")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"capacity":30`)

	rec = f.get(t, "/debug/version")
	assert.Contains(t, rec.Body.String(), "deepair")
}

func TestAdminRoutesError(t *testing.T) {
	boom := errors.New("tailsql unavailable")
	srv := NewServer(Options{AdminRoutes: []func(*http.ServeMux) error{
		func(*http.ServeMux) error { return boom },
	}})
	_, err := srv.Handler()
	assert.ErrorIs(t, err, boom)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	monitoring.SetLogger(t.Logf)
	defer monitoring.SetLogger(nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/api/live"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
