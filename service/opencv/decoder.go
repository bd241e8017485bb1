package opencv

import (
	"errors"
	"image"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/camwatch/pipeline"
)

type decoder struct{}

// NewDecoder decodes JPEG candidates with OpenCV's imdecode.
func NewDecoder() pipeline.Decoder {
	return decoder{}
}

func (decoder) Decode(data []byte) (*image.RGBA, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, errors.New("imdecode returned an empty image")
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, err
	}
	return pipeline.ToRGBA(img), nil
}
