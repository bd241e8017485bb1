package pipeline

import (
	"context"
	"image"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/service/inference"
	"github.com/khaledhikmat/camwatch/service/lgr"
	"github.com/khaledhikmat/camwatch/service/metrics"
)

const defaultCadence = 2

// Scheduler runs the detection capability on every Nth processed frame and
// hands back the last good result in between. It is owned by the processing
// goroutine and is not safe for concurrent Process calls.
type Scheduler struct {
	detector    inference.IService
	cadence     uint64
	threshold   float32
	errorStream chan interface{}
	metrics     *metrics.Metrics
	tracer      trace.Tracer

	counter uint64
	last    model.DetectionSet

	processed  atomic.Int64
	detections atomic.Int64
	failures   atomic.Int64
}

type SchedulerOption func(*Scheduler)

// WithErrorStream sets where detection failures are reported.
func WithErrorStream(errorStream chan interface{}) SchedulerOption {
	return func(s *Scheduler) {
		s.errorStream = errorStream
	}
}

func WithMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) SchedulerOption {
	return func(s *Scheduler) {
		s.tracer = tracer
	}
}

func NewScheduler(detector inference.IService, cadence int, threshold float32, opts ...SchedulerOption) *Scheduler {
	if cadence < 1 {
		cadence = defaultCadence
	}
	s := &Scheduler{
		detector:  detector,
		cadence:   uint64(cadence),
		threshold: threshold,
		tracer:    noop.NewTracerProvider().Tracer("camwatch/pipeline"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process returns the detection set to draw on frame. Only every Nth call
// invokes the detector; the others, and failed invocations, return the
// previous set marked stale.
func (s *Scheduler) Process(ctx context.Context, frame model.Frame) model.DetectionSet {
	s.counter++
	s.processed.Add(1)

	if s.counter%s.cadence != 0 {
		return s.last.Reused()
	}

	set, err := s.detect(ctx, frame)
	if err != nil {
		s.failures.Add(1)
		if s.metrics != nil {
			s.metrics.DetectionFailures.Inc()
		}
		s.report(err, frame)
		return s.last.Reused()
	}

	s.detections.Add(1)
	s.last = model.DetectionSet{
		FrameSeq:   frame.Seq,
		Detections: Clamp(Filter(set.Detections, s.threshold), frame.Width(), frame.Height()),
	}
	return s.last
}

func (s *Scheduler) detect(ctx context.Context, frame model.Frame) (model.DetectionSet, error) {
	ctx, span := s.tracer.Start(ctx, "detect", trace.WithAttributes(
		attribute.Int64("frame.seq", int64(frame.Seq)),
		attribute.Int("frame.width", frame.Width()),
		attribute.Int("frame.height", frame.Height()),
	))
	defer span.End()

	start := time.Now()
	set, err := s.detector.Detect(ctx, frame)
	if s.metrics != nil {
		s.metrics.DetectionRuns.Inc()
		s.metrics.DetectionLatencyMs.Observe(float64(time.Since(start).Milliseconds()))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return set, err
	}

	span.SetAttributes(attribute.Int("detections", set.Len()))
	return set, nil
}

func (s *Scheduler) report(err error, frame model.Frame) {
	lgr.Logger.Warn(
		"detection failed, reusing previous result",
		slog.Uint64("frameSeq", frame.Seq),
		slog.Uint64("lastSeq", s.last.FrameSeq),
		lgr.Err(err),
	)

	if s.errorStream == nil {
		return
	}

	// The status sink must never stall the processing loop.
	select {
	case s.errorStream <- model.GenError("pipeline_scheduler",
		err,
		map[string]interface{}{"frameSeq": frame.Seq},
		"detection failed on frame %d", frame.Seq):
	default:
		lgr.Logger.Warn("errorStream full, dropping detection failure")
	}
}

// Last returns the stored detection set.
func (s *Scheduler) Last() model.DetectionSet {
	return s.last
}

func (s *Scheduler) Stats() model.SchedulerStats {
	return model.SchedulerStats{
		Processed:  s.processed.Load(),
		Detections: s.detections.Load(),
		Failures:   s.failures.Load(),
	}
}

// Filter drops detections scoring below threshold.
func Filter(dets []model.Detection, threshold float32) []model.Detection {
	out := make([]model.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Score < threshold {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Clamp clips every box to the frame. A negative origin moves to 0 and the
// far edge stays where it was, so (-5,-5) 50x50 becomes (0,0) 45x45. Boxes
// with nothing left inside the frame are dropped.
func Clamp(dets []model.Detection, width, height int) []model.Detection {
	bounds := image.Rect(0, 0, width, height)
	out := make([]model.Detection, 0, len(dets))
	for _, d := range dets {
		r := d.Rect().Intersect(bounds)
		if r.Empty() {
			continue
		}
		d.X, d.Y = r.Min.X, r.Min.Y
		d.Width, d.Height = r.Dx(), r.Dy()
		out = append(out, d)
	}
	return out
}
