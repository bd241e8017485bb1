package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/khaledhikmat/camwatch/model"
)

const (
	labelMargin     = 10
	platePadding    = 4
	boxThickness    = 2
	fpsSampleFrames = 10
)

var (
	boxColor   = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	plateColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	textColor  = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	fpsColor   = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	fpsOrigin  = image.Pt(10, 30)

	labelFace font.Face = basicfont.Face7x13
)

// Render draws set and the FPS counter on a copy of frame. frame itself is
// left untouched.
func Render(frame model.Frame, set model.DetectionSet, fps float64) model.Frame {
	out := frame.Clone()
	if out.Image == nil {
		return out
	}

	w, h := out.Width(), out.Height()
	for _, d := range set.Detections {
		drawBox(out.Image, d.Rect(), boxColor, boxThickness)

		caption := d.Caption()
		plate, dot := LabelPlate(d, caption, w, h)
		fillRect(out.Image, plate, plateColor)
		drawText(out.Image, caption, dot, textColor)
	}

	drawText(out.Image, fmt.Sprintf("FPS: %d", int(fps)), fpsOrigin, fpsColor)
	return out
}

// LabelPlate places the caption plate for d and returns it with the text
// baseline origin. The plate sits labelMargin above the box when it fits
// below the top edge, otherwise labelMargin below the box. It never extends
// past the right edge.
func LabelPlate(d model.Detection, caption string, frameW, frameH int) (image.Rectangle, image.Point) {
	metrics := labelFace.Metrics()
	ascent := metrics.Ascent.Ceil()
	textH := ascent + metrics.Descent.Ceil()
	textW := font.MeasureString(labelFace, caption).Ceil()

	plateW := textW + 2*platePadding
	plateH := textH + 2*platePadding

	top := d.Y - labelMargin - plateH
	if top < 0 {
		top = d.Y + d.Height + labelMargin
		if top+plateH > frameH {
			top = max(frameH-plateH, 0)
		}
	}

	left := max(d.X, 0)
	if left+plateW > frameW {
		left = max(frameW-plateW, 0)
	}

	plate := image.Rect(left, top, left+plateW, top+plateH)
	return plate, image.Pt(left+platePadding, top+platePadding+ascent)
}

func drawBox(img *image.RGBA, r image.Rectangle, c color.Color, thickness int) {
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), c)
	fillRect(img, image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), c)
	fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y), c)
	fillRect(img, image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func drawText(img *image.RGBA, text string, dot image.Point, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: labelFace,
		Dot:  fixed.P(dot.X, dot.Y),
	}
	d.DrawString(text)
}

// FPSMeter estimates throughput from the wall time of every 10th tick.
type FPSMeter struct {
	frames int
	last   time.Time
	fps    float64
	now    func() time.Time
}

func NewFPSMeter() *FPSMeter {
	return newFPSMeter(time.Now)
}

func newFPSMeter(now func() time.Time) *FPSMeter {
	return &FPSMeter{
		last: now(),
		now:  now,
	}
}

// Tick records one rendered frame and returns the current estimate.
func (m *FPSMeter) Tick() float64 {
	m.frames++
	if m.frames%fpsSampleFrames != 0 {
		return m.fps
	}

	now := m.now()
	if elapsed := now.Sub(m.last).Seconds(); elapsed > 0 {
		m.fps = fpsSampleFrames / elapsed
	}
	m.last = now
	return m.fps
}

func (m *FPSMeter) FPS() float64 {
	return m.fps
}
