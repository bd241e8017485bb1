package mode

import (
	"context"
	"log/slog"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/pipeline"
	"github.com/khaledhikmat/camwatch/service/data"
	"github.com/khaledhikmat/camwatch/service/lgr"
)

const streamCapacity = 64

type Processor func(canxCtx context.Context, svcs pipeline.ServicesFactory) error

func procStats(datasvc data.IService, stats interface{}) {
	switch stats := stats.(type) {
	case model.PipelineStats:
		procPipelineStats(datasvc, stats)
	case model.CameraStats:
		procCameraStats(datasvc, stats)
	default:
		lgr.Logger.Error(
			"unknown stats type",
			slog.Any("stats", stats),
		)
	}
}

func procPipelineStats(datasvc data.IService, stats model.PipelineStats) {
	err := datasvc.NewPipelineStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store pipeline stats",
			slog.String("pipelineID", stats.ID),
			lgr.Err(err),
		)
	}
}

func procCameraStats(datasvc data.IService, stats model.CameraStats) {
	err := datasvc.NewCameraStats(stats)
	if err != nil {
		lgr.Logger.Error(
			"failed to store camera stats",
			slog.String("camera", stats.Camera),
			lgr.Err(err),
		)
	}
}

func procError(datasvc data.IService, err interface{}) {
	errTemp := datasvc.NewError(err)
	if errTemp != nil {
		lgr.Logger.Error(
			"failed to store error",
			lgr.Err(errTemp),
		)
	}
}
