package display

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hybridgroup/mjpeg"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/service/lgr"
)

// MJPEG re-publishes annotated frames as a multipart JPEG stream that any
// browser can open.
type MJPEG struct {
	stream *mjpeg.Stream

	mu   sync.RWMutex
	last []byte
	seq  uint64
}

func NewMJPEG(frameInterval time.Duration) *MJPEG {
	stream := mjpeg.NewStream()
	if frameInterval > 0 {
		stream.FrameInterval = frameInterval
	}
	return &MJPEG{
		stream: stream,
	}
}

func (m *MJPEG) Show(frame model.Frame) error {
	data, err := encodeJPEG(frame)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.last = data
	m.seq = frame.Seq
	m.mu.Unlock()

	m.stream.UpdateJPEG(data)
	return nil
}

func (m *MJPEG) Close() error {
	return nil
}

// ServeHTTP streams every subsequent frame to the client.
func (m *MJPEG) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lgr.Logger.Debug("mjpeg viewer connected", slog.String("remote", r.RemoteAddr))
	m.stream.ServeHTTP(w, r)
}

// Snapshot serves the most recent frame as a single JPEG.
func (m *MJPEG) Snapshot() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		m.mu.RLock()
		data, seq := m.last, m.seq
		m.mu.RUnlock()

		if data == nil {
			http.Error(w, "no frame yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("X-Frame-Seq", strconv.FormatUint(seq, 10))
		_, _ = w.Write(data)
	})
}
