package display

import (
	"go.uber.org/multierr"

	"github.com/khaledhikmat/camwatch/model"
)

type multi struct {
	sinks []IService
}

// NewMulti shows every frame on all sinks. Show keeps going past a failing
// sink and returns the combined errors.
func NewMulti(sinks ...IService) IService {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return &multi{sinks: sinks}
}

func (m *multi) Show(frame model.Frame) error {
	var err error
	for _, sink := range m.sinks {
		err = multierr.Append(err, sink.Show(frame))
	}
	return err
}

func (m *multi) Close() error {
	var err error
	for _, sink := range m.sinks {
		err = multierr.Append(err, sink.Close())
	}
	return err
}
