package inference

import (
	"context"

	"github.com/khaledhikmat/camwatch/model"
)

type fakeService struct {
	label string
	score float32
}

// NewFake returns a detector that reports one object covering the centre
// quarter of every frame. It exercises the overlay without a model file.
func NewFake() IService {
	return &fakeService{
		label: "object",
		score: 0.9,
	}
}

func (svc *fakeService) Detect(ctx context.Context, frame model.Frame) (model.DetectionSet, error) {
	if err := ctx.Err(); err != nil {
		return model.DetectionSet{}, err
	}

	w, h := frame.Width(), frame.Height()
	return model.DetectionSet{
		FrameSeq: frame.Seq,
		Detections: []model.Detection{
			{
				X:      w / 4,
				Y:      h / 4,
				Width:  w / 2,
				Height: h / 2,
				Label:  svc.label,
				Score:  svc.score,
			},
		},
	}, nil
}

func (svc *fakeService) Close() error {
	return nil
}

type noneService struct{}

// NewNone returns a detector that never finds anything.
func NewNone() IService {
	return noneService{}
}

func (noneService) Detect(_ context.Context, frame model.Frame) (model.DetectionSet, error) {
	return model.DetectionSet{FrameSeq: frame.Seq}, nil
}

func (noneService) Close() error {
	return nil
}
