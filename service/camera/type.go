package camera

import (
	"context"

	"github.com/khaledhikmat/camwatch/model"
)

// Frame-size presets understood by the camera's /control endpoint.
var FrameSizes = map[string]int{
	"QVGA": 8,
	"VGA":  10,
	"SVGA": 11,
	"XGA":  12,
	"HD":   13,
	"SXGA": 14,
	"UXGA": 15,
}

type IService interface {
	Camera() model.Camera
	Probe(ctx context.Context) model.CameraStats
	Status(ctx context.Context) (map[string]interface{}, error)
	SetFrameSize(ctx context.Context, preset string) error
}
