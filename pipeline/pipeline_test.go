package pipeline

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/service/config"
	"github.com/khaledhikmat/camwatch/service/lgr"
)

func TestMain(m *testing.M) {
	lgr.SetOutput(io.Discard, slog.LevelError)
	os.Exit(m.Run())
}

func encodeTestJPEG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 3), G: uint8(y * 5), B: 90, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func testFrame(seq uint64, w, h int) model.Frame {
	return model.NewFrame(seq, image.NewRGBA(image.Rect(0, 0, w, h)))
}

func testSettings(url string) config.Settings {
	s := config.Defaults()
	s.StreamURL = url
	s.ReconnectBackoff = 100 * time.Millisecond
	s.ShutdownTimeout = 2 * time.Second
	s.FirstFrameTimeout = time.Second
	s.StatsPeriod = 50 * time.Millisecond
	s.Detector = config.DetectorNone
	return s
}

// recordingSink remembers the sequence numbers it was shown.
type recordingSink struct {
	mu     sync.Mutex
	seqs   []uint64
	err    error
	closed bool
}

func (s *recordingSink) Show(frame model.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seqs = append(s.seqs, frame.Seq)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) shown() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.seqs...)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
