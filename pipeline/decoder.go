package pipeline

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// Decoder turns one complete encoded image into RGBA pixels.
type Decoder interface {
	Decode(data []byte) (*image.RGBA, error)
}

type jpegDecoder struct{}

// NewJPEGDecoder returns a pure-Go decoder.
func NewJPEGDecoder() Decoder {
	return jpegDecoder{}
}

func (jpegDecoder) Decode(data []byte) (*image.RGBA, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return ToRGBA(img), nil
}

// ToRGBA returns img as *image.RGBA with its origin at (0,0).
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
