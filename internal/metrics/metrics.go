package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "scribe"

const (
	DropDecode        = "decode"
	DropTranscription = "transcription"
)

// Metrics contains the Prometheus collectors for the transcription service.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive   prometheus.Gauge
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	SessionsRejected prometheus.Counter
	LeasesLost       prometheus.Counter

	ChunksReceived   prometheus.Counter
	ChunksDropped    *prometheus.CounterVec
	ChunksOutOfOrder prometheus.Counter
	ChunkConfidence  prometheus.Histogram

	TranscriptionDuration prometheus.Histogram
	AnalysisDuration      prometheus.Histogram
	AnalysisFailures      prometheus.Counter
	FramesDropped         prometheus.Counter

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers every collector on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Current number of live transcription sessions",
		}),
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of sessions registered",
		}),
		SessionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions torn down, by final status",
		}, []string{"status"}),
		SessionsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_rejected_total",
			Help:      "Connections refused because the session id was already live",
		}),
		LeasesLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_lost_total",
			Help:      "Sessions stopped because another instance took their lease",
		}),

		ChunksReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_received_total",
			Help:      "Total number of audio chunks received",
		}),
		ChunksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_dropped_total",
			Help:      "Audio chunks dropped without producing text, by reason",
		}, []string{"reason"}),
		ChunksOutOfOrder: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_out_of_order_total",
			Help:      "Chunks whose index did not follow the previous one",
		}),
		ChunkConfidence: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_confidence",
			Help:      "Confidence score reported for transcribed chunks",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),

		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Duration of speech-to-text calls",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Duration of clinical analysis calls",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		AnalysisFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_failures_total",
			Help:      "Finalizations whose analysis call failed",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Outbound frames that could not be delivered",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) SessionStarted() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionFinished(status string) {
	m.SessionsActive.Dec()
	m.SessionsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) ChunkDropped(reason string) {
	m.ChunksDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveTranscription(d time.Duration, confidence float64) {
	m.TranscriptionDuration.Observe(d.Seconds())
	m.ChunkConfidence.Observe(confidence)
}

func (m *Metrics) ObserveAnalysis(d time.Duration, err error) {
	m.AnalysisDuration.Observe(d.Seconds())
	if err != nil {
		m.AnalysisFailures.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.HTTPRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
