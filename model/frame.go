package model

import (
	"fmt"
	"image"
	"time"
)

type PixelFormat string

const (
	PixelFormatRGBA PixelFormat = "rgba"
)

// Frame is a decoded image. Frames are never mutated after they are produced;
// consumers that need to draw call Clone first.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Format    PixelFormat
	Image     *image.RGBA
}

func NewFrame(seq uint64, img *image.RGBA) Frame {
	return Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Format:    PixelFormatRGBA,
		Image:     img,
	}
}

func (f Frame) Width() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

func (f Frame) Height() int {
	if f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

func (f Frame) Empty() bool {
	return f.Image == nil || f.Width() == 0 || f.Height() == 0
}

// Clone returns a deep copy that shares no pixel memory with f.
func (f Frame) Clone() Frame {
	out := f
	if f.Image != nil {
		img := &image.RGBA{
			Pix:    make([]uint8, len(f.Image.Pix)),
			Stride: f.Image.Stride,
			Rect:   f.Image.Rect,
		}
		copy(img.Pix, f.Image.Pix)
		out.Image = img
	}
	return out
}

type Detection struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Label  string  `json:"label"`
	Score  float32 `json:"score"`
}

func (d Detection) Rect() image.Rectangle {
	return image.Rect(d.X, d.Y, d.X+d.Width, d.Y+d.Height)
}

// Caption is the text drawn on the label plate.
func (d Detection) Caption() string {
	return fmt.Sprintf("%s (%.2f)", d.Label, d.Score)
}

// DetectionSet is the output of one detection call. Stale is set when the set
// is being reused on a frame it was not computed from.
type DetectionSet struct {
	FrameSeq   uint64      `json:"frameSeq"`
	Stale      bool        `json:"stale"`
	Detections []Detection `json:"detections"`
}

func (s DetectionSet) Len() int {
	return len(s.Detections)
}

// Reused returns a copy of s marked stale.
func (s DetectionSet) Reused() DetectionSet {
	out := DetectionSet{
		FrameSeq: s.FrameSeq,
		Stale:    true,
	}
	if len(s.Detections) > 0 {
		out.Detections = append([]Detection(nil), s.Detections...)
	}
	return out
}
