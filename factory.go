package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/khaledhikmat/camwatch/pipeline"
	"github.com/khaledhikmat/camwatch/service/config"
	"github.com/khaledhikmat/camwatch/service/data"
	"github.com/khaledhikmat/camwatch/service/display"
	"github.com/khaledhikmat/camwatch/service/inference"
	"github.com/khaledhikmat/camwatch/service/lgr"
	"github.com/khaledhikmat/camwatch/service/opencv"
)

// Frames are re-published at most this often to MJPEG viewers.
const mjpegFrameInterval = 50 * time.Millisecond

// newConfig reads the YAML file at path when one is given and the
// environment otherwise.
func newConfig(path string) (config.IService, error) {
	if path == "" {
		return config.NewEnv(), nil
	}
	lgr.Logger.Info("loading configuration file", slog.String("path", path))
	return config.NewYAML(path)
}

func newDataSvc(cfgSvc config.IService) (data.IService, error) {
	switch cfgSvc.GetDataStore() {
	case config.DataStoreSqlite:
		return data.NewSqlite(cfgSvc)
	default:
		return data.NewFilesDB(cfgSvc)
	}
}

func newDecoder(cfgSvc config.IService) pipeline.Decoder {
	switch cfgSvc.GetDecoder() {
	case config.DecoderOpenCV:
		return opencv.NewDecoder()
	default:
		return pipeline.NewJPEGDecoder()
	}
}

func newInferenceSvc(cfgSvc config.IService) (inference.IService, error) {
	switch cfgSvc.GetDetector() {
	case config.DetectorYolo5:
		return opencv.NewYolo5(cfgSvc.GetDetectorParameters())
	case config.DetectorFake:
		return inference.NewFake(), nil
	default:
		return inference.NewNone(), nil
	}
}

// newDisplaySvc builds every configured sink and registers the viewer
// endpoints of the network sinks on mux.
func newDisplaySvc(cfgSvc config.IService, mux *http.ServeMux) display.IService {
	sinks := []display.IService{}
	for _, name := range cfgSvc.GetSinks() {
		switch name {
		case config.SinkMJPEG:
			m := display.NewMJPEG(mjpegFrameInterval)
			mux.Handle("GET /stream", m)
			mux.Handle("GET /snapshot", m.Snapshot())
			sinks = append(sinks, m)
		case config.SinkWebsocket:
			hub := display.NewHub(cfgSvc.GetCameraName())
			mux.Handle("GET /ws", hub)
			sinks = append(sinks, hub)
		case config.SinkWindow:
			sinks = append(sinks, opencv.NewWindow(cfgSvc.GetCameraName()))
		case config.SinkNone:
			sinks = append(sinks, display.NewNone())
		}
		lgr.Logger.Info("display sink enabled", slog.String("sink", name))
	}

	if len(sinks) == 0 {
		return display.NewNone()
	}
	return display.NewMulti(sinks...)
}
