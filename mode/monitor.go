package mode

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/pipeline"
	"github.com/khaledhikmat/camwatch/service/camera"
	"github.com/khaledhikmat/camwatch/service/lgr"
)

var errNoCamera = errors.New("monitor mode requires a camera service")

// Monitor periodically probes the camera's control server and records
// whether it is reachable and which frame size it is running at.
func Monitor(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	if svcs.CameraSvc == nil {
		return errNoCamera
	}

	errorStream := make(chan interface{}, streamCapacity)

	period := svcs.CfgSvc.GetCameraMonitorPeriod()
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	// Wait for cancellation or the next probe
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"camera monitor context cancelled",
			)
			goto resume

		case <-ticker.C:
			stats := probeCamera(canxCtx, svcs.CameraSvc, errorStream)
			procStats(svcs.DataSvc, stats)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

resume:
	// Nothing runs in the background, so flushing the stream is enough
	for {
		select {
		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		default:
			lgr.Logger.Info("camera monitor stopped")
			return nil
		}
	}
}

func probeCamera(ctx context.Context, cam camera.IService, errorStream chan interface{}) model.CameraStats {
	stats := cam.Probe(ctx)
	if !stats.Reachable {
		send(errorStream, model.GenError("camera_monitor",
			errors.New(stats.Error),
			map[string]interface{}{"camera": stats.Camera},
			"camera %s is unreachable", stats.Camera))
		return stats
	}

	status, err := cam.Status(ctx)
	if err != nil {
		send(errorStream, model.GenError("camera_monitor",
			err,
			map[string]interface{}{"camera": stats.Camera},
			"reading camera %s status", stats.Camera))
		return stats
	}

	// JSON numbers decode as float64
	if fs, ok := status["framesize"].(float64); ok {
		stats.FrameSize = int(fs)
	}

	lgr.Logger.Debug(
		"camera probed",
		slog.String("camera", stats.Camera),
		slog.Int64("latencyMs", stats.Latency),
		slog.Int("frameSize", stats.FrameSize),
	)
	return stats
}

func send(errorStream chan interface{}, err model.CustomError) {
	select {
	case errorStream <- err:
	default:
		lgr.Logger.Warn("errorStream full, dropping error", slog.String("error", err.Error()))
	}
}
