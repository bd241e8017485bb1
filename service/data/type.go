package data

import "github.com/khaledhikmat/camwatch/model"

type IService interface {
	NewError(err interface{}) error
	NewPipelineStats(stats model.PipelineStats) error
	NewCameraStats(stats model.CameraStats) error

	// Retrieve* return at most max of the most recent records, oldest first.
	RetrieveErrors(max int) ([]model.ErrorRecord, error)
	RetrievePipelineStats(max int) ([]model.PipelineStats, error)
	RetrieveCameraStats(max int) ([]model.CameraStats, error)

	Close() error
}
