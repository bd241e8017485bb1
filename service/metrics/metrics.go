package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors on a private registry.
type Metrics struct {
	FramesDecoded      prometheus.Counter
	DecodeErrors       prometheus.Counter
	BytesRead          prometheus.Counter
	FramesDropped      prometheus.Counter
	FramesRendered     prometheus.Counter
	Reconnects         prometheus.Counter
	ConnectFailures    prometheus.Counter
	DetectionRuns      prometheus.Counter
	DetectionFailures  prometheus.Counter
	DetectionLatencyMs prometheus.Histogram
	SinkErrors         prometheus.Counter
	FPS                prometheus.Gauge
	State              *prometheus.GaugeVec

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camwatch_frames_decoded_total",
			Help: "Total frames recovered from the camera stream",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camwatch_decode_errors_total",
			Help: "Total candidate images that failed to decode",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camwatch_stream_bytes_total",
			Help: "Total bytes read from the camera stream",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camwatch_frames_dropped_total",
			Help: "Frames overwritten in the frame buffer before processing read them",
		}),
		FramesRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camwatch_frames_rendered_total",
			Help: "Total annotated frames handed to the display sink",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camwatch_reconnects_total",
			Help: "Total transitions into the reconnecting state",
		}),
		ConnectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camwatch_connect_failures_total",
			Help: "Total failed connection attempts",
		}),
		DetectionRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camwatch_detection_runs_total",
			Help: "Total detection capability invocations",
		}),
		DetectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camwatch_detection_failures_total",
			Help: "Total failed detection capability invocations",
		}),
		DetectionLatencyMs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "camwatch_detection_latency_ms",
			Help:    "Detection capability latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
		SinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "camwatch_sink_errors_total",
			Help: "Total display sink failures",
		}),
		FPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camwatch_render_fps",
			Help: "Rendered frames per second, sampled every 10 frames",
		}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camwatch_pipeline_state",
			Help: "1 for the pipeline's current state, 0 otherwise",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.FramesDecoded,
		m.DecodeErrors,
		m.BytesRead,
		m.FramesDropped,
		m.FramesRendered,
		m.Reconnects,
		m.ConnectFailures,
		m.DetectionRuns,
		m.DetectionFailures,
		m.DetectionLatencyMs,
		m.SinkErrors,
		m.FPS,
		m.State,
	)

	return m
}

// SetState marks state as current and clears every other known state.
func (m *Metrics) SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
