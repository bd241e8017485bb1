package display

import "github.com/khaledhikmat/camwatch/model"

type none struct{}

// NewNone returns a sink that discards every frame.
func NewNone() IService {
	return none{}
}

func (none) Show(_ model.Frame) error {
	return nil
}

func (none) Close() error {
	return nil
}
