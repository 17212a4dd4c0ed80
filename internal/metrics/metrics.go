// Package metrics exposes pipeline counters and the latest readings to
// Prometheus. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/VishwanathaRgitgit/DeepAir/internal/sds011"
)

const namespace = "deepair"

type Metrics struct {
	reg *prometheus.Registry

	Measurements   prometheus.Counter
	DecoderEvents  *prometheus.CounterVec
	ReadTimeouts   prometheus.Counter
	Backoffs       prometheus.Counter
	AppendFailures prometheus.Counter
	AppendDuration prometheus.Histogram
	Predictions    *prometheus.CounterVec
	Reconnects     prometheus.Counter
	Connected      prometheus.Gauge

	PM25          prometheus.Gauge
	PM10          prometheus.Gauge
	PredictedPM25 prometheus.Gauge
	LastReading   prometheus.Gauge
}

// New registers the pipeline metrics, plus Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		Measurements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Total number of measurements published",
		}),
		DecoderEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decoder_events_total",
			Help:      "Frame decoder events by kind",
		}, []string{"event"}),
		ReadTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_timeouts_total",
			Help:      "Serial reads that returned no bytes",
		}),
		Backoffs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_backoffs_total",
			Help:      "Backoff sleeps after consecutive empty reads",
		}),
		AppendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_failures_total",
			Help:      "Durability log appends that failed",
		}),
		AppendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "append_duration_seconds",
			Help:      "Duration of durability log appends in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Prediction attempts by outcome",
		}, []string{"outcome"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Sensor re-discoveries after a disconnect",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_connected",
			Help:      "1 while a sensor connection is being read",
		}),
		PM25: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pm25_ugm3",
			Help:      "Latest PM2.5 reading in µg/m³",
		}),
		PM10: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pm10_ugm3",
			Help:      "Latest PM10 reading in µg/m³",
		}),
		PredictedPM25: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "predicted_pm25_ugm3",
			Help:      "Latest predicted PM2.5 in µg/m³",
		}),
		LastReading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reading_timestamp_seconds",
			Help:      "Unix time of the latest measurement",
		}),
	}
	reg.MustRegister(
		m.Measurements, m.DecoderEvents, m.ReadTimeouts, m.Backoffs,
		m.AppendFailures, m.AppendDuration, m.Predictions, m.Reconnects,
		m.Connected, m.PM25, m.PM10, m.PredictedPM25, m.LastReading,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveMeasurement(ms sds011.Measurement) {
	if m == nil {
		return
	}
	m.Measurements.Inc()
	m.PM25.Set(ms.PM25)
	m.PM10.Set(ms.PM10)
	m.LastReading.Set(float64(ms.ObservedAt.UnixNano()) / 1e9)
}

// ObserveDecoder adds the growth between two decoder stats snapshots.
func (m *Metrics) ObserveDecoder(prev, cur sds011.Stats) {
	if m == nil {
		return
	}
	add := func(event string, p, c uint64) {
		if c > p {
			m.DecoderEvents.WithLabelValues(event).Add(float64(c - p))
		}
	}
	add("frame", prev.Frames, cur.Frames)
	add("suspect", prev.SuspectFrames, cur.SuspectFrames)
	add("checksum_failure", prev.ChecksumFailures, cur.ChecksumFailures)
	add("rejected", prev.RejectedFrames, cur.RejectedFrames)
	add("discarded_byte", prev.DiscardedBytes, cur.DiscardedBytes)
	add("resync", prev.Resyncs, cur.Resyncs)
	add("quiet_expiry", prev.QuietExpiries, cur.QuietExpiries)
}

func (m *Metrics) ObserveReadTimeout() {
	if m != nil {
		m.ReadTimeouts.Inc()
	}
}

func (m *Metrics) ObserveBackoff() {
	if m != nil {
		m.Backoffs.Inc()
	}
}

func (m *Metrics) ObserveAppend(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.AppendDuration.Observe(d.Seconds())
	if err != nil {
		m.AppendFailures.Inc()
	}
}

func (m *Metrics) ObservePrediction(v float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Predictions.WithLabelValues("error").Inc()
		return
	}
	m.Predictions.WithLabelValues("ok").Inc()
	m.PredictedPM25.Set(v)
}

func (m *Metrics) ObserveReconnect() {
	if m != nil {
		m.Reconnects.Inc()
	}
}

func (m *Metrics) SetConnected(on bool) {
	if m == nil {
		return
	}
	if on {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}
