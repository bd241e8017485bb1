package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/service/config"
	"github.com/khaledhikmat/camwatch/service/display"
	"github.com/khaledhikmat/camwatch/service/lgr"
	"github.com/khaledhikmat/camwatch/service/metrics"
)

type State int32

const (
	StateConnecting State = iota
	StateStreaming
	StateReconnecting
	StateShuttingDown
	StateStopped
)

var allStates = []string{
	StateConnecting.String(),
	StateStreaming.String(),
	StateReconnecting.String(),
	StateShuttingDown.String(),
	StateStopped.String(),
}

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateStreaming:
		return "Streaming"
	case StateReconnecting:
		return "Reconnecting"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ErrShutdownTimeout is returned by Run when a task did not exit within the
// configured shutdown time.
var ErrShutdownTimeout = errors.New("pipeline tasks did not exit in time")

const controllerProc = "pipeline_controller"

// Controller owns one camera pipeline: the acquisition task that connects,
// demuxes and publishes frames, and the processing task that detects, renders
// and displays them. The two share nothing but the frame buffer.
type Controller struct {
	id          string
	cfg         config.IService
	svcs        ServicesFactory
	demuxer     *Demuxer
	buffer      *FrameBuffer
	scheduler   *Scheduler
	sink        display.IService
	metrics     *metrics.Metrics
	errorStream chan interface{}
	statsStream chan interface{}

	state atomic.Int32

	mu            sync.Mutex
	cancel        context.CancelFunc
	stopRequested bool

	startedAt         time.Time
	reconnects        atomic.Int64
	connectFailures   atomic.Int64
	decodeErrorStreak atomic.Int64
	rendered          atomic.Int64
	fps               atomic.Uint64
}

func NewController(svcs ServicesFactory, errorStream chan interface{}, statsStream chan interface{}) *Controller {
	cfg := svcs.CfgSvc

	m := svcs.Metrics
	if m == nil {
		m = metrics.New()
	}

	decoder := svcs.Decoder
	if decoder == nil {
		decoder = NewJPEGDecoder()
	}

	opts := []DemuxerOption{
		WithChunkSize(cfg.GetReadChunkSize()),
		WithMaxFrameBytes(cfg.GetMaxFrameBytes()),
	}
	if svcs.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(svcs.HTTPClient))
	}

	sink := svcs.DisplaySvc
	if sink == nil {
		sink = display.NewNone()
	}

	return &Controller{
		id:      uuid.NewString(),
		cfg:     cfg,
		svcs:    svcs,
		demuxer: NewDemuxer(cfg.GetStreamURL(), decoder, opts...),
		buffer:  NewFrameBuffer(),
		scheduler: NewScheduler(svcs.InferenceSvc,
			cfg.GetDetectionCadence(),
			cfg.GetScoreThreshold(),
			WithErrorStream(errorStream),
			WithMetrics(m)),
		sink:        sink,
		metrics:     m,
		errorStream: errorStream,
		statsStream: statsStream,
		startedAt:   time.Now(),
	}
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

// Stop requests cooperative shutdown. It may be called before, during or
// after Run.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopRequested = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Run drives the pipeline until ctx is cancelled or Stop is called. Transient
// faults never end it. It returns ErrShutdownTimeout if the tasks outlive the
// configured shutdown time, nil otherwise.
func (c *Controller) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	if c.stopRequested {
		cancel()
	}
	c.mu.Unlock()

	c.setState(StateConnecting)

	lgr.Logger.Info(
		"pipeline starting....",
		slog.String("pipelineID", c.id),
		slog.String("camera", c.cfg.GetCameraName()),
		slog.String("url", c.cfg.GetStreamURL()),
		slog.Int("cadence", c.cfg.GetDetectionCadence()),
		slog.Duration("backoff", c.cfg.GetReconnectBackoff()),
	)

	c.applyFrameSize(ctx)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		c.acquire(groupCtx)
		return nil
	})
	group.Go(func() error {
		c.process(groupCtx)
		return nil
	})

	ticker := time.NewTicker(c.statsPeriod())
	defer ticker.Stop()

	for loop := true; loop; {
		select {
		case <-ctx.Done():
			loop = false
		case <-ticker.C:
			c.emitStats()
		}
	}

	c.setState(StateShuttingDown)
	lgr.Logger.Info(
		"pipeline is waiting for its tasks to exit",
		slog.String("pipelineID", c.id),
	)

	// Unblocks a read that is parked on the socket
	_ = c.demuxer.Close()

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()

	timer := time.NewTimer(c.cfg.GetModeMaxShutdownTime())
	defer timer.Stop()

	var err error
	select {
	case <-done:
	case <-timer.C:
		err = ErrShutdownTimeout
		lgr.Logger.Warn(
			"pipeline shutdown waiting period expired",
			slog.String("pipelineID", c.id),
			slog.Duration("period", c.cfg.GetModeMaxShutdownTime()),
		)
	}

	c.setState(StateStopped)
	c.emitStats()

	lgr.Logger.Info(
		"pipeline stopped",
		slog.String("pipelineID", c.id),
		slog.Int64("rendered", c.rendered.Load()),
		slog.Int64("reconnects", c.reconnects.Load()),
	)
	return err
}

// acquire connects and streams until ctx ends, waiting the reconnect backoff
// between sessions.
func (c *Controller) acquire(ctx context.Context) {
	backoff := retry.NewConstant(c.cfg.GetReconnectBackoff())

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if !c.setState(StateConnecting) {
			return nil
		}

		if err := c.demuxer.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.connectFailures.Add(1)
			c.metrics.ConnectFailures.Inc()
			c.report(err, "connect failed, retrying in %s", c.cfg.GetReconnectBackoff())
			c.reconnecting()
			return retry.RetryableError(err)
		}

		if !c.setState(StateStreaming) {
			return nil
		}

		err := c.stream(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.report(err, "stream interrupted, reconnecting in %s", c.cfg.GetReconnectBackoff())
		c.reconnecting()
		return retry.RetryableError(err)
	})

	_ = c.demuxer.Close()
	lgr.Logger.Debug(
		"acquisition task exited",
		slog.String("pipelineID", c.id),
		slog.Any("reason", err),
	)
}

// stream publishes frames until the session fails. Isolated decode errors
// are skipped; a run longer than the configured limit ends the session.
func (c *Controller) stream(ctx context.Context) error {
	c.decodeErrorStreak.Store(0)
	maxStreak := int64(c.cfg.GetMaxConsecutiveDecodeErrors())
	lastBytes := c.demuxer.Stats().BytesRead

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		frame, err := c.demuxer.NextFrame()

		if bytesRead := c.demuxer.Stats().BytesRead; bytesRead > lastBytes {
			c.metrics.BytesRead.Add(float64(bytesRead - lastBytes))
			lastBytes = bytesRead
		}

		if err != nil {
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				return err
			}

			c.metrics.DecodeErrors.Inc()
			streak := c.decodeErrorStreak.Add(1)
			if maxStreak > 0 && streak > maxStreak {
				return fmt.Errorf("%d consecutive decode errors: %w", streak, err)
			}
			lgr.Logger.Debug(
				"skipping undecodable frame",
				slog.Int64("streak", streak),
				lgr.Err(err),
			)
			continue
		}

		c.decodeErrorStreak.Store(0)
		c.metrics.FramesDecoded.Inc()
		c.buffer.Publish(frame)
	}
}

// process renders whatever frame is newest each time the buffer changes.
func (c *Controller) process(ctx context.Context) {
	if !c.waitFirstFrame(ctx) {
		return
	}

	meter := NewFPSMeter()
	var lastDrops uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.buffer.Updated():
		}

		frame, ok := c.buffer.Latest()
		if !ok {
			continue
		}

		if drops := c.buffer.Drops(); drops > lastDrops {
			c.metrics.FramesDropped.Add(float64(drops - lastDrops))
			lastDrops = drops
		}

		set := c.scheduler.Process(ctx, frame)

		fps := meter.Tick()
		c.fps.Store(math.Float64bits(fps))
		c.metrics.FPS.Set(fps)

		if err := c.sink.Show(Render(frame, set, fps)); err != nil {
			if errors.Is(err, display.ErrClosed) {
				lgr.Logger.Info("display closed by viewer", slog.String("pipelineID", c.id))
				c.Stop()
				return
			}
			c.metrics.SinkErrors.Inc()
			c.report(err, "display sink failed on frame %d", frame.Seq)
			continue
		}

		c.rendered.Add(1)
		c.metrics.FramesRendered.Inc()
	}
}

func (c *Controller) waitFirstFrame(ctx context.Context) bool {
	timeout := c.cfg.GetFirstFrameTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-c.buffer.Ready():
			return true
		case <-timer.C:
			lgr.Logger.Warn(
				"no frame received yet",
				slog.String("pipelineID", c.id),
				slog.String("state", c.State().String()),
				slog.Duration("waited", timeout),
			)
			timer.Reset(timeout)
		}
	}
}

func (c *Controller) reconnecting() {
	if c.setState(StateReconnecting) {
		c.reconnects.Add(1)
		c.metrics.Reconnects.Inc()
	}
}

// setState moves to s unless shutdown has begun. Stopped is always allowed.
func (c *Controller) setState(s State) bool {
	for {
		cur := State(c.state.Load())
		if s != StateStopped && (cur == StateShuttingDown || cur == StateStopped) && cur != s {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(s)) {
			break
		}
	}

	c.metrics.SetState(s.String(), allStates)
	return true
}

func (c *Controller) applyFrameSize(ctx context.Context) {
	preset := c.cfg.GetCameraFrameSize()
	if preset == "" || c.svcs.CameraSvc == nil {
		return
	}

	if err := c.svcs.CameraSvc.SetFrameSize(ctx, preset); err != nil {
		c.report(err, "setting camera frame size %s", preset)
	}
}

func (c *Controller) statsPeriod() time.Duration {
	if p := c.cfg.GetStatsPeriod(); p > 0 {
		return p
	}
	return 30 * time.Second
}

// Stats snapshots the pipeline counters.
func (c *Controller) Stats() model.PipelineStats {
	return model.PipelineStats{
		ID:                      c.id,
		Camera:                  c.cfg.GetCameraName(),
		State:                   c.State().String(),
		FPS:                     math.Float64frombits(c.fps.Load()),
		Rendered:                c.rendered.Load(),
		Dropped:                 c.buffer.Drops(),
		Reconnects:              c.reconnects.Load(),
		ConnectFailures:         c.connectFailures.Load(),
		ConsecutiveDecodeErrors: c.decodeErrorStreak.Load(),
		Demuxer:                 c.demuxer.Stats(),
		Scheduler:               c.scheduler.Stats(),
		Uptime:                  int64(time.Since(c.startedAt).Seconds()),
		Timestamp:               time.Now().Unix(),
	}
}

func (c *Controller) emitStats() {
	if c.statsStream == nil {
		return
	}

	select {
	case c.statsStream <- c.Stats():
	default:
		lgr.Logger.Warn("statsStream full, dropping pipeline stats", slog.String("pipelineID", c.id))
	}
}

func (c *Controller) report(err error, messagef string, args ...interface{}) {
	msg := fmt.Sprintf(messagef, args...)
	lgr.Logger.Warn(
		msg,
		slog.String("pipelineID", c.id),
		slog.String("state", c.State().String()),
		lgr.Err(err),
	)

	if c.errorStream == nil {
		return
	}

	select {
	case c.errorStream <- model.GenError(controllerProc,
		err,
		map[string]interface{}{"pipelineID": c.id, "state": c.State().String()},
		"%s", msg):
	default:
		lgr.Logger.Warn("errorStream full, dropping pipeline error", slog.String("pipelineID", c.id))
	}
}
