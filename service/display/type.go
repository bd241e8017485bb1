package display

import (
	"bytes"
	"errors"
	"image/jpeg"

	"github.com/khaledhikmat/camwatch/model"
)

// ErrClosed is returned by Show once the viewer has asked to quit.
var ErrClosed = errors.New("display closed")

const jpegQuality = 80

type IService interface {
	Show(frame model.Frame) error
	Close() error
}

func encodeJPEG(frame model.Frame) ([]byte, error) {
	if frame.Empty() {
		return nil, errors.New("empty frame")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
