package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/camwatch/mode"
	"github.com/khaledhikmat/camwatch/pipeline"
	"github.com/khaledhikmat/camwatch/service/camera"
	"github.com/khaledhikmat/camwatch/service/lgr"
	"github.com/khaledhikmat/camwatch/service/metrics"
)

const (
	// WARNING: this has to be bigger that the mode processor shutdown time
	waitOnShutdown = 8 * time.Second
)

var modeProcessors = map[string]mode.Processor{
	"pipeline": mode.Pipeline,
	"monitor":  mode.Monitor,
}

func main() {
	rootCtx := context.Background()
	canxCtx, canxFn := context.WithCancel(rootCtx)

	// Hook up a signal handler to cancel the context
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		lgr.Logger.Info(
			"received kill signal",
			slog.Any("signal", sig),
		)
		canxFn()
	}()

	// Load env vars if we are in DEV mode
	if os.Getenv("RUN_TIME_ENV") == "dev" || os.Getenv("RUN_TIME_ENV") == "" {
		lgr.Logger.Info("loading env vars from .env file")
		err := godotenv.Load()
		if err != nil {
			lgr.Logger.Warn("no .env file loaded", lgr.Err(xerrors.New(err.Error())))
		}
	}

	modeType := "pipeline"
	args := os.Args[1:]
	if len(args) > 0 {
		modeType = args[0]
	}

	modeProc, ok := modeProcessors[modeType]
	if !ok {
		lgr.Logger.Error("invalid mode", slog.String("mode", modeType))
		panic("invalid mode")
	}

	// Config service
	cfgSvc, err := newConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		lgr.Logger.Error("error loading configuration", lgr.Err(err))
		panic("error loading configuration")
	}
	if err := cfgSvc.Validate(); err != nil {
		lgr.Logger.Error("invalid configuration", lgr.Err(err))
		panic("invalid configuration")
	}

	// Data service
	dataSvc, err := newDataSvc(cfgSvc)
	if err != nil {
		lgr.Logger.Error("error creating data service", lgr.Err(err))
		panic("error creating data service")
	}
	defer dataSvc.Close()

	// Camera control service
	cameraSvc, err := camera.NewHTTP(cfgSvc.GetCameraName(), cfgSvc.GetStreamURL(), cfgSvc.GetCameraBaseURL(), nil)
	if err != nil {
		lgr.Logger.Error("error creating camera service", lgr.Err(err))
		panic("error creating camera service")
	}

	svcs := pipeline.ServicesFactory{
		CfgSvc:    cfgSvc,
		DataSvc:   dataSvc,
		CameraSvc: cameraSvc,
		Metrics:   metrics.New(),
	}

	if modeType == "pipeline" {
		// Inference service
		inferenceSvc, err := newInferenceSvc(cfgSvc)
		if err != nil {
			lgr.Logger.Error("error creating inference service", lgr.Err(err))
			panic("error creating inference service")
		}
		defer inferenceSvc.Close()

		mux := http.NewServeMux()
		displaySvc := newDisplaySvc(cfgSvc, mux)
		defer displaySvc.Close()

		svcs.InferenceSvc = inferenceSvc
		svcs.DisplaySvc = displaySvc
		svcs.Decoder = newDecoder(cfgSvc)
		svcs.Mux = mux
	}

	// Create mode processor result. It is never closed: the processor may
	// still send after the shutdown wait expires.
	modeProcResult := make(chan error)

	// Start the mode processor
	go func() {
		modeProcResult <- modeProc(canxCtx, svcs)
	}()

	// Wait for cancellation or mode proc
	for {
		select {
		case <-canxCtx.Done():
			lgr.Logger.Info(
				"camwatch context cancelled",
			)
			goto resume

		case err := <-modeProcResult:
			if err != nil {
				lgr.Logger.Info(
					"camwatch mode processor exited",
					lgr.Err(xerrors.New(err.Error())),
				)
			}
			// The processor is done, nothing is left to wait for
			canxFn()
			return
		}
	}

	// Wait in a non-blocking way for `waitOnShutdown` for the mode processor
	// to exit. It may still be persisting the pipeline's last reports.
resume:
	lgr.Logger.Info(
		"camwatch is waiting for the mode processor to exit",
	)

	timer := time.NewTimer(waitOnShutdown)
	defer timer.Stop()

	select {
	case <-timer.C:
		lgr.Logger.Info(
			"camwatch shutdown waiting period expired. Exiting now",
			slog.Duration("period", waitOnShutdown),
		)

	case err := <-modeProcResult:
		if err != nil {
			lgr.Logger.Info(
				"camwatch mode processor exited",
				lgr.Err(xerrors.New(err.Error())),
			)
		}
	}
}
