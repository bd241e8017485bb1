package mode

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/pipeline"
	"github.com/khaledhikmat/camwatch/service/lgr"
	"github.com/khaledhikmat/camwatch/service/metrics"
)

// Pipeline runs one camera pipeline, persists whatever it reports on the
// error and stats streams and serves the viewer and status endpoints.
func Pipeline(canxCtx context.Context, svcs pipeline.ServicesFactory) error {
	// Buffered so a slow data store never stalls the pipeline tasks. They
	// are never closed: a task that outlives the shutdown wait may still send.
	errorStream := make(chan interface{}, streamCapacity)
	statsStream := make(chan interface{}, streamCapacity)

	if svcs.Metrics == nil {
		svcs.Metrics = metrics.New()
	}

	ctrl := pipeline.NewController(svcs, errorStream, statsStream)

	var server *http.Server
	if svcs.Mux != nil {
		registerEndpoints(svcs.Mux, svcs, ctrl)
		server = &http.Server{
			Addr:              svcs.CfgSvc.GetHTTPAddr(),
			Handler:           svcs.Mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			lgr.Logger.Info("pipeline http server listening", slog.String("addr", server.Addr))
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				select {
				case errorStream <- model.GenError("pipeline_mode",
					err,
					map[string]interface{}{"addr": server.Addr},
					"http server failed"):
				default:
				}
			}
		}()
	}

	ctrlResult := make(chan error, 1)
	go func() {
		ctrlResult <- ctrl.Run(canxCtx)
	}()

	var ctrlErr error
	ctrlDone := false

	// Wait for cancellation, controller exit, stats or error
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"pipeline mode context cancelled",
			)
			goto resume

		case ctrlErr = <-ctrlResult:
			ctrlDone = true
			lgr.Logger.Info(
				"pipeline controller exited",
				slog.String("pipelineID", ctrl.ID()),
			)
			goto resume

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

	// Keep draining the streams while the controller winds down. It reports
	// its final stats on the way out.
resume:
	lgr.Logger.Info(
		"pipeline mode is waiting for all go routines to exit",
	)

	if server != nil {
		shutdownCtx, shutdownFn := context.WithTimeout(context.Background(), time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			lgr.Logger.Warn("http server shutdown", lgr.Err(err))
		}
		shutdownFn()
	}

	// The controller bounds its own shutdown; wait a little longer than it.
	period := svcs.CfgSvc.GetModeMaxShutdownTime() + time.Second
	timer := time.NewTimer(period)
	defer timer.Stop()

	for !ctrlDone {
		select {
		case <-timer.C:
			lgr.Logger.Info(
				"pipeline mode shutdown waiting period expired. Exiting now",
				slog.Duration("period", period),
			)
			return pipeline.ErrShutdownTimeout

		case ctrlErr = <-ctrlResult:
			ctrlDone = true

		case s := <-statsStream:
			procStats(svcs.DataSvc, s)

		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		}
	}

	drain(svcs, statsStream, errorStream)
	return ctrlErr
}

func drain(svcs pipeline.ServicesFactory, statsStream, errorStream chan interface{}) {
	for {
		select {
		case s := <-statsStream:
			procStats(svcs.DataSvc, s)
		case e := <-errorStream:
			procError(svcs.DataSvc, e)
		default:
			return
		}
	}
}
