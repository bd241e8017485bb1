package inference

import (
	"context"

	"github.com/khaledhikmat/camwatch/model"
)

// IService is the detection capability. Implementations return boxes in the
// frame's pixel coordinates and may fail; callers decide what a failure means.
type IService interface {
	Detect(ctx context.Context, frame model.Frame) (model.DetectionSet, error)
	Close() error
}
