package opencv

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/service/display"
)

const escKey = 27

type window struct {
	mu     sync.Mutex
	win    *gocv.Window
	closed bool
}

// NewWindow shows frames in a desktop window. Pressing ESC in the window
// makes Show return display.ErrClosed.
func NewWindow(title string) display.IService {
	return &window{
		win: gocv.NewWindow(title),
	}
}

func (w *window) Show(frame model.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return display.ErrClosed
	}
	if frame.Empty() {
		return nil
	}

	mat, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return err
	}
	defer mat.Close()

	w.win.IMShow(mat)
	if w.win.WaitKey(1) == escKey {
		w.closed = true
		return display.ErrClosed
	}
	return nil
}

func (w *window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	return w.win.Close()
}
